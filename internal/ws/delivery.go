package ws

import (
	"github.com/gorilla/websocket"

	"realtime-service/internal/logger"
	"realtime-service/internal/observability"
)

// pusher writes frames to whichever connection a user currently has.
type pusher struct {
	registry *Registry
	log      logger.Logger
}

// push reports whether the frame was written. An offline user is not an
// error. A failed write closes the connection; its read loop unregisters it.
func (p pusher) push(userID int, frame OutboundFrame) bool {
	conn, ok := p.registry.Lookup(userID)
	if !ok {
		observability.IncDelivery(frame.Type, "offline")
		return false
	}
	if err := conn.Send(frame); err != nil {
		observability.IncDelivery(frame.Type, "error")
		p.log.Warn("websocket write failed", "user_id", userID, "conn_id", conn.ID(), "type", frame.Type, "error", err)
		_ = conn.Close(websocket.CloseInternalServerErr, "write failed")
		return false
	}
	observability.IncDelivery(frame.Type, "delivered")
	return true
}
