package observability

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// DeviceIDFromRequest reads X-Device-Id, falling back to the deviceId query
// parameter because browser websocket clients cannot set headers.
func DeviceIDFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Device-Id")); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("deviceId"))
}

// RequestIDFromRequest returns the caller's X-Request-Id or a fresh one.
func RequestIDFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

// IPFromRequest prefers the first non-empty X-Forwarded-For hop, then X-Real-Ip,
// then the socket peer.
func IPFromRequest(r *http.Request) string {
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if hop = strings.TrimSpace(hop); hop != "" {
			return hop
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-Ip")); realIP != "" {
		return realIP
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
