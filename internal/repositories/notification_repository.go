package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"realtime-service/internal/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

const notificationColumns = `id, user_id, sender_id, type, entity_id, content, is_read, created_at`

// NotificationRepository abstracts notification persistence.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n models.NewNotification) (models.Notification, error)
	ListForUser(ctx context.Context, userID int, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID int, userID int) error
}

// NotificationRepo is a sqlx implementation of NotificationRepository.
type NotificationRepo struct {
	db *sqlx.DB
}

// NewNotificationRepo constructs a NotificationRepo.
func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// CreateNotification stores an unread notification.
func (r *NotificationRepo) CreateNotification(ctx context.Context, n models.NewNotification) (models.Notification, error) {
	var out models.Notification
	err := r.db.QueryRowxContext(ctx, `INSERT INTO notifications (user_id, sender_id, type, entity_id, content) VALUES ($1, $2, $3, $4, $5) RETURNING `+notificationColumns,
		n.UserID, n.SenderID, n.Type, n.EntityID, n.Content).
		StructScan(&out)
	return out, err
}

// ListForUser returns the newest notifications addressed to the user.
func (r *NotificationRepo) ListForUser(ctx context.Context, userID int, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	list := []models.Notification{}
	err := r.db.SelectContext(ctx, &list, `SELECT `+notificationColumns+` FROM notifications WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	return list, err
}

// MarkRead flags a notification owned by userID as read.
func (r *NotificationRepo) MarkRead(ctx context.Context, notificationID int, userID int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id=$1 AND user_id=$2`, notificationID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
