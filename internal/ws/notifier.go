package ws

import (
	"context"

	"realtime-service/internal/logger"
	"realtime-service/internal/models"
)

// Relay fans a notification out to the other service instances. Each of them
// calls DeliverLocal for the users it holds; the publishing instance ignores
// its own envelopes.
type Relay interface {
	Publish(ctx context.Context, userIDs []int, n models.Notification) error
}

// Notifier pushes already-persisted notifications to live connections. It is
// the entry point for the rest of the application; it never writes to the store.
type Notifier struct {
	pusher
	relay Relay
}

func NewNotifier(registry *Registry, log logger.Logger) *Notifier {
	return &Notifier{pusher: pusher{registry: registry, log: log}}
}

// WithRelay routes Notify and Broadcast through a cross-instance relay.
func (n *Notifier) WithRelay(relay Relay) *Notifier {
	n.relay = relay
	return n
}

// Notify pushes the notification to userID if connected here and, with a
// relay, hands it to the other instances. Offline users are skipped.
func (n *Notifier) Notify(ctx context.Context, userID int, notification models.Notification) {
	n.Broadcast(ctx, []int{userID}, notification)
}

// Broadcast applies Notify to each id independently; partial delivery is normal.
// Local connections are always written directly; the relay only reaches users
// held by other instances, so a missing subscriber never drops a local push.
func (n *Notifier) Broadcast(ctx context.Context, userIDs []int, notification models.Notification) {
	if len(userIDs) == 0 {
		return
	}
	remote := make([]int, 0, len(userIDs))
	for _, userID := range userIDs {
		if !n.DeliverLocal(userID, notification) {
			remote = append(remote, userID)
		}
	}
	if n.relay == nil || len(remote) == 0 {
		return
	}
	if err := n.relay.Publish(ctx, remote, notification); err != nil {
		n.log.Warn("relay publish failed", "users", len(remote), "error", err)
	}
}

// DeliverLocal pushes to a connection registered in this process and reports whether it was written.
func (n *Notifier) DeliverLocal(userID int, notification models.Notification) bool {
	return n.push(userID, notificationFrame(notification))
}
