package ws

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"realtime-service/internal/logger"
	"realtime-service/internal/observability"
	"realtime-service/internal/repositories"
)

// Sender is the authenticated origin of an inbound frame.
type Sender struct {
	UserID int
	Conn   Connection
}

// Router dispatches inbound frames to the chat, notification and ping handlers.
type Router struct {
	pusher
	messages      repositories.MessageRepository
	notifications repositories.NotificationRepository
	now           func() time.Time
}

func NewRouter(registry *Registry, messages repositories.MessageRepository, notifications repositories.NotificationRepository, log logger.Logger) *Router {
	return &Router{
		pusher:        pusher{registry: registry, log: log},
		messages:      messages,
		notifications: notifications,
		now:           time.Now,
	}
}

// Dispatch handles one raw frame. Malformed or unknown frames are logged and
// dropped; nothing here ever ends the connection.
func (r *Router) Dispatch(ctx context.Context, sender Sender, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.IncFrame("unknown", "failed")
			r.log.Error("frame handler panic", "user_id", sender.UserID, "panic", rec)
		}
	}()

	frame, err := ParseFrame(raw)
	if err != nil {
		observability.IncFrame("unknown", "malformed")
		r.log.Warn("dropping malformed frame", "user_id", sender.UserID, "error", err)
		return
	}

	ctx, span := observability.Tracer().Start(ctx, "ws.dispatch")
	span.SetAttributes(attribute.String("frame.type", frame.frameType()), attribute.Int("user.id", sender.UserID))
	defer span.End()

	switch f := frame.(type) {
	case ChatFrame:
		r.handleChat(ctx, sender, f)
	case NotificationFrame:
		r.handleNotification(ctx, sender, f)
	case PingFrame:
		r.handlePing(sender)
	case UnknownFrame:
		observability.IncFrame("unknown", "dropped")
		r.log.Warn("dropping frame with unknown type", "user_id", sender.UserID, "type", f.Type)
	}
}

func (r *Router) handlePing(sender Sender) {
	if err := sender.Conn.Send(pongFrame(r.now())); err != nil {
		observability.IncFrame(TypePing, "failed")
		r.log.Warn("pong write failed", "user_id", sender.UserID, "error", err)
		return
	}
	observability.IncFrame(TypePing, "handled")
}
