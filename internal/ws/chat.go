package ws

import (
	"context"

	"realtime-service/internal/observability"
)

// handleChat persists the message first, then pushes it to the recipient and
// echoes it to the sender with status "sent". The sender id always comes from
// the authenticated connection.
func (r *Router) handleChat(ctx context.Context, sender Sender, f ChatFrame) {
	if f.RecipientID <= 0 || f.Content == "" {
		observability.IncFrame(TypeChat, "dropped")
		r.log.Debug("dropping chat frame without recipient or content", "user_id", sender.UserID)
		return
	}

	msg, err := r.messages.CreateChatMessage(ctx, sender.UserID, f.RecipientID, f.Content)
	if err != nil {
		observability.IncFrame(TypeChat, "failed")
		r.log.Error("failed to store chat message", "sender_id", sender.UserID, "recipient_id", f.RecipientID, "error", err)
		return
	}
	observability.IncFrame(TypeChat, "handled")

	r.push(msg.RecipientID, chatFrame(msg, ""))
	r.push(msg.SenderID, chatFrame(msg, "sent"))
}
