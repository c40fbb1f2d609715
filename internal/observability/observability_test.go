package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	routingKey string
	event      any
	headers    map[string]string
	err        error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, event any, headers map[string]string) error {
	p.routingKey = routingKey
	p.event = event
	p.headers = headers
	return p.err
}

func TestIPFromRequestPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", IPFromRequest(req))

	req = httptest.NewRequest("GET", "/ws", nil)
	req.RemoteAddr = "192.168.1.5:5555"
	assert.Equal(t, "192.168.1.5", IPFromRequest(req))
}

func TestIPFromRequestFallbacks(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("X-Forwarded-For", " , 10.0.0.9")
	assert.Equal(t, "10.0.0.9", IPFromRequest(req))

	req = httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("X-Real-Ip", "172.16.0.4")
	assert.Equal(t, "172.16.0.4", IPFromRequest(req))
}

func TestDeviceIDFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?deviceId=query-dev", nil)
	assert.Equal(t, "query-dev", DeviceIDFromRequest(req))

	req.Header.Set("X-Device-Id", "header-dev")
	assert.Equal(t, "header-dev", DeviceIDFromRequest(req))

	assert.Empty(t, DeviceIDFromRequest(httptest.NewRequest("GET", "/ws", nil)))
}

func TestRequestIDFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("X-Request-Id", "abc")
	assert.Equal(t, "abc", RequestIDFromRequest(req))

	generated := RequestIDFromRequest(httptest.NewRequest("GET", "/ws", nil))
	assert.Len(t, generated, 36)
}

func TestBuildHeadersSkipsEmpty(t *testing.T) {
	assert.Equal(t, map[string]string{}, BuildHeaders("", ""))
	assert.Equal(t, map[string]string{"x-request-id": "r", "trace_id": "t"}, BuildHeaders("r", "t"))
}

func TestPublishEventUsesConfiguredPublisher(t *testing.T) {
	t.Cleanup(func() { SetPublisher(nil) })

	require.NoError(t, PublishEvent(context.Background(), "ws_events", "ignored", nil))

	pub := &recordingPublisher{}
	SetPublisher(pub)
	env := EventEnvelope{EventType: "ws_events", EventName: "ws_connect"}
	require.NoError(t, PublishEvent(context.Background(), "ws_events.connections", env, BuildHeaders("r", "")))

	assert.Equal(t, "ws_events.connections", pub.routingKey)
	assert.Equal(t, env, pub.event)
	assert.Equal(t, "r", pub.headers["x-request-id"])

	pub.err = assert.AnError
	assert.ErrorIs(t, PublishEvent(context.Background(), "k", env, nil), assert.AnError)
}
