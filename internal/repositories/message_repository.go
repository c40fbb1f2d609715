package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"realtime-service/internal/models"
)

const chatMessageColumns = `id, sender_id, recipient_id, content, is_read, created_at`

// MessageRepository defines interactions for direct chat messages.
type MessageRepository interface {
	CreateChatMessage(ctx context.Context, senderID int, recipientID int, content string) (models.ChatMessage, error)
	ListConversation(ctx context.Context, userID int, peerID int) ([]models.ChatMessage, error)
	MarkConversationRead(ctx context.Context, recipientID int, senderID int) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateChatMessage stores a message; id and created_at are assigned by the database.
func (r *MessageRepo) CreateChatMessage(ctx context.Context, senderID int, recipientID int, content string) (models.ChatMessage, error) {
	var msg models.ChatMessage
	err := r.db.QueryRowxContext(ctx, `INSERT INTO chat_messages (sender_id, recipient_id, content) VALUES ($1, $2, $3) RETURNING `+chatMessageColumns, senderID, recipientID, content).
		StructScan(&msg)
	return msg, err
}

// ListConversation returns messages exchanged between two users, oldest first.
func (r *MessageRepo) ListConversation(ctx context.Context, userID int, peerID int) ([]models.ChatMessage, error) {
	query := `SELECT ` + chatMessageColumns + `
        FROM chat_messages
        WHERE (sender_id=$1 AND recipient_id=$2) OR (sender_id=$2 AND recipient_id=$1)
        ORDER BY created_at ASC, id ASC`
	msgs := []models.ChatMessage{}
	err := r.db.SelectContext(ctx, &msgs, query, userID, peerID)
	return msgs, err
}

// MarkConversationRead flags every unread message from senderID to recipientID as read.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, recipientID int, senderID int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_messages SET is_read = TRUE WHERE recipient_id=$1 AND sender_id=$2 AND is_read = FALSE`, recipientID, senderID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
