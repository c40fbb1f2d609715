package ws

import (
	"context"

	"realtime-service/internal/models"
	"realtime-service/internal/observability"
)

// handleNotification persists then pushes to the recipient. Unlike chat there
// is no echo to the sender.
func (r *Router) handleNotification(ctx context.Context, sender Sender, f NotificationFrame) {
	if f.RecipientID <= 0 || f.NotificationType == "" {
		observability.IncFrame(TypeNotification, "dropped")
		r.log.Debug("dropping notification frame without recipient or type", "user_id", sender.UserID)
		return
	}

	senderID := sender.UserID
	n, err := r.notifications.CreateNotification(ctx, models.NewNotification{
		UserID:   f.RecipientID,
		SenderID: &senderID,
		Type:     f.NotificationType,
		EntityID: f.EntityID,
		Content:  f.Content,
	})
	if err != nil {
		observability.IncFrame(TypeNotification, "failed")
		r.log.Error("failed to store notification", "sender_id", sender.UserID, "recipient_id", f.RecipientID, "error", err)
		return
	}
	observability.IncFrame(TypeNotification, "handled")

	r.push(n.UserID, notificationFrame(n))
}
