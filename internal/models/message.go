package models

import "time"

// ChatMessage is a direct message between two users.
type ChatMessage struct {
	ID          int       `db:"id" json:"id"`
	SenderID    int       `db:"sender_id" json:"senderId"`
	RecipientID int       `db:"recipient_id" json:"recipientId"`
	Content     string    `db:"content" json:"content"`
	IsRead      bool      `db:"is_read" json:"isRead"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}
