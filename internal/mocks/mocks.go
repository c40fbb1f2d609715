package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateChatMessage(ctx context.Context, senderID int, recipientID int, content string) (models.ChatMessage, error) {
	args := m.Called(ctx, senderID, recipientID, content)
	var msg models.ChatMessage
	if val := args.Get(0); val != nil {
		msg = val.(models.ChatMessage)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListConversation(ctx context.Context, userID int, peerID int) ([]models.ChatMessage, error) {
	args := m.Called(ctx, userID, peerID)
	var msgs []models.ChatMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.ChatMessage)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkConversationRead(ctx context.Context, recipientID int, senderID int) (int64, error) {
	args := m.Called(ctx, recipientID, senderID)
	return args.Get(0).(int64), args.Error(1)
}

type NotificationRepositoryMock struct {
	mock.Mock
}

func (m *NotificationRepositoryMock) CreateNotification(ctx context.Context, n models.NewNotification) (models.Notification, error) {
	args := m.Called(ctx, n)
	var out models.Notification
	if val := args.Get(0); val != nil {
		out = val.(models.Notification)
	}
	return out, args.Error(1)
}

func (m *NotificationRepositoryMock) ListForUser(ctx context.Context, userID int, limit int) ([]models.Notification, error) {
	args := m.Called(ctx, userID, limit)
	var list []models.Notification
	if val := args.Get(0); val != nil {
		list = val.([]models.Notification)
	}
	return list, args.Error(1)
}

func (m *NotificationRepositoryMock) MarkRead(ctx context.Context, notificationID int, userID int) error {
	args := m.Called(ctx, notificationID, userID)
	return args.Error(0)
}

type TokenVerifierMock struct {
	mock.Mock
}

func (m *TokenVerifierMock) ValidateToken(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.NotificationRepository = (*NotificationRepositoryMock)(nil)
var _ interface {
	ValidateToken(context.Context, string) (int, error)
} = (*TokenVerifierMock)(nil)

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) Notify(ctx context.Context, userID int, n models.Notification) {
	m.Called(ctx, userID, n)
}
