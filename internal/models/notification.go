package models

import "time"

// Notification is a persisted alert for a user. SenderID is nil for system notifications.
type Notification struct {
	ID        int       `db:"id" json:"id"`
	UserID    int       `db:"user_id" json:"userId"`
	SenderID  *int      `db:"sender_id" json:"senderId"`
	Type      string    `db:"type" json:"type"`
	EntityID  *int      `db:"entity_id" json:"entityId"`
	Content   *string   `db:"content" json:"content"`
	IsRead    bool      `db:"is_read" json:"isRead"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// NewNotification holds the fields a caller supplies; the store assigns id, is_read and created_at.
type NewNotification struct {
	UserID   int
	SenderID *int
	Type     string
	EntityID *int
	Content  *string
}
