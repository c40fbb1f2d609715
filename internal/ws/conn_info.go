package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"realtime-service/internal/observability"
)

// ConnInfo is the metadata captured when a socket is accepted. UserID is
// zero until the handshake admits the connection.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnInfo(r *http.Request, traceID string) ConnInfo {
	return ConnInfo{
		ConnID:      uuid.NewString(),
		DeviceID:    observability.DeviceIDFromRequest(r),
		IP:          observability.IPFromRequest(r),
		RequestID:   observability.RequestIDFromRequest(r),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}

func (i ConnInfo) logFields() []interface{} {
	fields := []interface{}{"user_id", i.UserID, "conn_id", i.ConnID, "ip", i.IP}
	if i.DeviceID != "" {
		fields = append(fields, "device_id", i.DeviceID)
	}
	return fields
}
