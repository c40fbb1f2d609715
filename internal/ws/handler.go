package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/codes"

	"realtime-service/internal/logger"
	"realtime-service/internal/observability"
	"realtime-service/internal/telemetry"
)

const wsRoutingKey = "ws_events.connections"

// HandlerConfig holds transport limits for accepted sockets.
type HandlerConfig struct {
	WriteTimeout    time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
}

func (c HandlerConfig) withDefaults() HandlerConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	return c
}

// Handler accepts websocket connections, runs the handshake and the per-connection read loop.
type Handler struct {
	registry *Registry
	auth     *Authenticator
	router   *Router
	audit    *telemetry.AuditEmitter
	log      logger.Logger
	cfg      HandlerConfig
	upgrader websocket.Upgrader

	active   sync.WaitGroup
	draining atomic.Bool
}

func NewHandler(registry *Registry, auth *Authenticator, router *Router, audit *telemetry.AuditEmitter, log logger.Logger, cfg HandlerConfig) *Handler {
	return &Handler{
		registry: registry,
		auth:     auth,
		router:   router,
		audit:    audit,
		log:      log,
		cfg:      cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades the request, admits the user, and serves frames until the connection closes.
func (h *Handler) Handle(c *gin.Context) {
	h.active.Add(1)
	defer h.active.Done()

	ctx, span := observability.Tracer().Start(c.Request.Context(), "ws.handshake")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		span.End()
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	info := newConnInfo(c.Request, span.SpanContext().TraceID().String())
	if h.draining.Load() {
		span.End()
		_ = NewClient(conn, info, h.cfg.WriteTimeout).Close(websocket.CloseGoingAway, "server shutting down")
		return
	}

	userID, err := h.auth.Authenticate(ctx, c.Query("userId"), c.Query("token"))
	if err != nil {
		span.SetStatus(codes.Error, "admission rejected")
		span.End()
		h.reject(ctx, NewClient(conn, info, h.cfg.WriteTimeout), c.Query("userId"), err)
		return
	}
	info.UserID = userID
	client := NewClient(conn, info, h.cfg.WriteTimeout)

	if err := h.admit(ctx, client, info); err != nil {
		span.RecordError(err)
		span.End()
		return
	}
	span.End()

	h.serve(ctx, client)
}

// admit sends the connected frame and only then registers the connection, so
// nothing is pushed to the client ahead of it. A failed send closes with 1011
// and leaves the registry untouched.
func (h *Handler) admit(ctx context.Context, conn Connection, info ConnInfo) error {
	if err := conn.Send(connectedFrame(info.UserID)); err != nil {
		observability.IncWSEvent("ws_setup_failed")
		h.log.Error("websocket setup failed", append(info.logFields(), "error", err)...)
		h.publish(ctx, "ws_error", info, err.Error())
		_ = conn.Close(websocket.CloseInternalServerErr, "setup failed")
		return err
	}

	if superseded := h.registry.Register(info.UserID, conn); superseded != nil {
		h.log.Info("closing superseded connection", "user_id", info.UserID, "conn_id", superseded.ID())
		_ = superseded.Close(websocket.CloseNormalClosure, "replaced by a newer connection")
	}
	observability.SetWSActive(h.registry.Len())
	observability.IncWSEvent("ws_connect")
	h.publish(ctx, "ws_connect", info, "")
	h.log.Info("websocket connected", info.logFields()...)

	// Registered after Shutdown took its snapshot.
	if h.draining.Load() {
		_ = conn.Close(websocket.CloseGoingAway, "server shutting down")
	}
	return nil
}

func (h *Handler) reject(ctx context.Context, client *Client, rawUserID string, err error) {
	info := client.Info()
	code := websocket.ClosePolicyViolation
	if errors.Is(err, ErrVerifierUnavailable) {
		code = websocket.CloseInternalServerErr
		observability.IncWSEvent("ws_setup_failed")
		h.log.Error("token verifier unavailable", "conn_id", info.ConnID, "ip", info.IP, "error", err)
	} else {
		observability.IncWSEvent("ws_rejected")
		h.log.Warn("websocket admission rejected", "conn_id", info.ConnID, "ip", info.IP, "user_id", rawUserID, "reason", err)
	}

	var userRef *string
	if rawUserID != "" {
		userRef = &rawUserID
	}
	h.audit.Emit(ctx, "WARN", "ws admission rejected: "+err.Error(), info.RequestID, userRef)

	_ = client.Close(code, closeReason(err))
}

// Shutdown stops admitting sockets, closes every registered connection with
// 1001 and waits for their read loops to finish cleanup or for ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.draining.Store(true)
	conns := h.registry.Connections()
	for _, conn := range conns {
		_ = conn.Close(websocket.CloseGoingAway, "server shutting down")
	}
	h.log.Info("closing websocket connections", "count", len(conns))

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serve is the single read loop of a connection. Frames are dispatched in
// arrival order; cleanup runs exactly once when the loop ends.
func (h *Handler) serve(ctx context.Context, client *Client) {
	info := client.Info()
	closeCode, closeMsg := websocket.CloseNormalClosure, ""
	var reason string
	done := make(chan struct{})
	defer func() {
		close(done)
		h.cleanup(ctx, client, closeCode, closeMsg, reason)
	}()

	conn := client.conn
	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})
	go client.keepalive(h.cfg.PongWait*9/10, done)

	sender := Sender{UserID: info.UserID, Conn: client}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			reason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				observability.IncWSEvent("ws_error")
				h.publish(ctx, "ws_error", info, reason)
				h.log.Debug("websocket read ended", "user_id", info.UserID, "conn_id", info.ConnID, "error", err)
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				closeCode, closeMsg = websocket.CloseMessageTooBig, "frame too large"
			}
			return
		}
		// Any inbound traffic proves liveness.
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		h.router.Dispatch(ctx, sender, data)
	}
}

func (h *Handler) cleanup(ctx context.Context, client *Client, code int, msg, reason string) {
	info := client.Info()
	if _, ok := h.registry.Unregister(client); ok {
		observability.SetWSActive(h.registry.Len())
	}
	observability.IncWSEvent("ws_disconnect")
	h.publish(ctx, "ws_disconnect", info, reason)
	_ = client.Close(code, msg)
	h.log.Info("websocket disconnected", append(info.logFields(), "duration_ms", time.Since(info.ConnectedAt).Milliseconds())...)
}

func (h *Handler) publish(ctx context.Context, event string, info ConnInfo, reason string) {
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   strconv.Itoa(info.UserID),
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
