package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"realtime-service/internal/models"
)

const (
	TypeChat         = "chat"
	TypeNotification = "notification"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeConnection   = "connection"
)

// Frame is one decoded inbound frame. The set of variants is closed:
// ChatFrame, NotificationFrame, PingFrame and UnknownFrame.
type Frame interface {
	frameType() string
}

type ChatFrame struct {
	RecipientID int    `json:"recipientId"`
	Content     string `json:"content"`
}

type NotificationFrame struct {
	RecipientID      int     `json:"recipientId"`
	NotificationType string  `json:"notificationType"`
	EntityID         *int    `json:"entityId"`
	Content          *string `json:"content"`
}

type PingFrame struct{}

// UnknownFrame carries a type the router does not handle.
type UnknownFrame struct {
	Type string
}

func (ChatFrame) frameType() string         { return TypeChat }
func (NotificationFrame) frameType() string { return TypeNotification }
func (PingFrame) frameType() string         { return TypePing }
func (f UnknownFrame) frameType() string    { return f.Type }

type inboundEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseFrame decodes a raw text frame. Unknown types are not an error; they
// come back as UnknownFrame so the caller decides what to do with them.
func ParseFrame(raw []byte) (Frame, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Type {
	case TypeChat:
		var f ChatFrame
		if err := decodeData(env.Data, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeNotification:
		var f NotificationFrame
		if err := decodeData(env.Data, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypePing:
		return PingFrame{}, nil
	default:
		return UnknownFrame{Type: env.Type}, nil
	}
}

func decodeData(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode frame data: %w", err)
	}
	return nil
}

// OutboundFrame is what the server writes. Pong frames carry only Timestamp.
type OutboundFrame struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type ConnectionPayload struct {
	Status string `json:"status"`
	UserID int    `json:"userId"`
}

type ChatPayload struct {
	ID          int       `json:"id"`
	SenderID    int       `json:"senderId"`
	RecipientID int       `json:"recipientId"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
	Status      string    `json:"status,omitempty"`
}

type NotificationPayload struct {
	ID        int       `json:"id"`
	SenderID  *int      `json:"senderId"`
	Type      string    `json:"type"`
	EntityID  *int      `json:"entityId"`
	Content   *string   `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func connectedFrame(userID int) OutboundFrame {
	return OutboundFrame{Type: TypeConnection, Data: ConnectionPayload{Status: "connected", UserID: userID}}
}

func chatFrame(msg models.ChatMessage, status string) OutboundFrame {
	return OutboundFrame{Type: TypeChat, Data: ChatPayload{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Content:     msg.Content,
		CreatedAt:   msg.CreatedAt,
		Status:      status,
	}}
}

func notificationFrame(n models.Notification) OutboundFrame {
	return OutboundFrame{Type: TypeNotification, Data: NotificationPayload{
		ID:        n.ID,
		SenderID:  n.SenderID,
		Type:      n.Type,
		EntityID:  n.EntityID,
		Content:   n.Content,
		CreatedAt: n.CreatedAt,
	}}
}

func pongFrame(now time.Time) OutboundFrame {
	return OutboundFrame{Type: TypePong, Timestamp: now.UnixMilli()}
}
