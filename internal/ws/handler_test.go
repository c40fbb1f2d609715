package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"realtime-service/internal/auth"
	"realtime-service/internal/logger"
	"realtime-service/internal/mocks"
	"realtime-service/internal/models"
)

var testSecret = []byte("handler-test-secret")

type memStore struct {
	mu            sync.Mutex
	messages      []models.ChatMessage
	notifications []models.Notification
}

func (s *memStore) CreateChatMessage(_ context.Context, senderID, recipientID int, content string) (models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := models.ChatMessage{ID: len(s.messages) + 1, SenderID: senderID, RecipientID: recipientID, Content: content, CreatedAt: time.Now().UTC()}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *memStore) ListConversation(context.Context, int, int) ([]models.ChatMessage, error) {
	return nil, errors.New("not used")
}

func (s *memStore) MarkConversationRead(context.Context, int, int) (int64, error) {
	return 0, errors.New("not used")
}

func (s *memStore) CreateNotification(_ context.Context, n models.NewNotification) (models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := models.Notification{ID: len(s.notifications) + 1, UserID: n.UserID, SenderID: n.SenderID, Type: n.Type, EntityID: n.EntityID, Content: n.Content, CreatedAt: time.Now().UTC()}
	s.notifications = append(s.notifications, out)
	return out, nil
}

func (s *memStore) ListForUser(context.Context, int, int) ([]models.Notification, error) {
	return nil, errors.New("not used")
}

func (s *memStore) MarkRead(context.Context, int, int) error {
	return errors.New("not used")
}

func (s *memStore) chatMessages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.messages...)
}

func (s *memStore) notificationList() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Notification(nil), s.notifications...)
}

type testServer struct {
	*httptest.Server
	registry *Registry
	store    *memStore
	handler  *Handler
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithVerifier(t, auth.NewJWTVerifier(testSecret))
}

func newTestServerWithVerifier(t *testing.T, verifier TokenVerifier) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := NewRegistry()
	store := &memStore{}
	log := logger.NewNop()
	router := NewRouter(registry, store, store, log)
	handler := NewHandler(registry, NewAuthenticator(verifier), router, nil, log, HandlerConfig{})

	engine := gin.New()
	engine.GET("/ws", handler.Handle)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, registry: registry, store: store, handler: handler}
}

func (s *testServer) dial(t *testing.T, userID int, token string) *websocket.Conn {
	t.Helper()
	q := url.Values{}
	q.Set("userId", strconv.Itoa(userID))
	q.Set("token", token)
	u := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?" + q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s *testServer) connect(t *testing.T, userID int) *websocket.Conn {
	t.Helper()
	token, err := auth.Sign(testSecret, userID, time.Hour)
	require.NoError(t, err)
	conn := s.dial(t, userID, token)

	frame := readFrame(t, conn)
	require.Equal(t, TypeConnection, frame["type"])
	require.Equal(t, map[string]any{"status": "connected", "userId": float64(userID)}, frame["data"])
	require.Eventually(t, func() bool {
		c, ok := s.registry.Lookup(userID)
		return ok && c != nil
	}, time.Second, 10*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, code, closeErr.Code)
		return
	}
}

func TestHandshakeRejectsBadCredentials(t *testing.T) {
	srv := newTestServer(t)
	otherUsersToken, err := auth.Sign(testSecret, 2, time.Hour)
	require.NoError(t, err)

	cases := map[string]struct {
		userID int
		token  string
	}{
		"missing token":    {userID: 1, token: ""},
		"garbage token":    {userID: 1, token: "garbage"},
		"subject mismatch": {userID: 1, token: otherUsersToken},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			conn := srv.dial(t, tc.userID, tc.token)
			expectClose(t, conn, websocket.ClosePolicyViolation)
			assert.Equal(t, 0, srv.registry.Len())
		})
	}
}

func TestChatBetweenTwoConnectedUsers(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.connect(t, 1)
	bob := srv.connect(t, 2)

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "chat", "data": map[string]any{"recipientId": 2, "content": "hi"}}))

	toBob := readFrame(t, bob)
	echo := readFrame(t, alice)

	stored := srv.store.chatMessages()
	require.Len(t, stored, 1)
	assert.Equal(t, 1, stored[0].SenderID)
	assert.Equal(t, 2, stored[0].RecipientID)
	assert.Equal(t, "hi", stored[0].Content)
	assert.False(t, stored[0].IsRead)

	assert.Equal(t, TypeChat, toBob["type"])
	bobData := toBob["data"].(map[string]any)
	assert.Equal(t, float64(stored[0].ID), bobData["id"])
	assert.Equal(t, float64(1), bobData["senderId"])
	assert.Equal(t, "hi", bobData["content"])
	assert.NotContains(t, bobData, "status")

	aliceData := echo["data"].(map[string]any)
	assert.Equal(t, float64(stored[0].ID), aliceData["id"])
	assert.Equal(t, "sent", aliceData["status"])
}

func TestNotificationToOfflineUserOverSocket(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.connect(t, 1)

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "notification", "data": map[string]any{"recipientId": 3, "notificationType": "follow"}}))

	require.Eventually(t, func() bool { return len(srv.store.notificationList()) == 1 }, time.Second, 10*time.Millisecond)
	n := srv.store.notificationList()[0]
	assert.Equal(t, 3, n.UserID)
	assert.False(t, n.IsRead)

	// No replay when user 3 connects later: the next frame is the pong.
	carol := srv.connect(t, 3)
	require.NoError(t, carol.WriteJSON(map[string]any{"type": "ping"}))
	assert.Equal(t, TypePong, readFrame(t, carol)["type"])
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.connect(t, 1)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, alice.WriteJSON(map[string]any{"type": "typing"}))

	sentAt := time.Now().UnixMilli()
	require.NoError(t, alice.WriteJSON(map[string]any{"type": "ping"}))
	pong := readFrame(t, alice)
	assert.Equal(t, TypePong, pong["type"])
	assert.GreaterOrEqual(t, int64(pong["timestamp"].(float64)), sentAt)
	assert.Empty(t, srv.store.chatMessages())
	assert.Empty(t, srv.store.notificationList())
}

func TestReconnectClosesSupersededConnection(t *testing.T) {
	srv := newTestServer(t)
	first := srv.connect(t, 1)
	second := srv.connect(t, 1)

	expectClose(t, first, websocket.CloseNormalClosure)

	require.NoError(t, second.WriteJSON(map[string]any{"type": "ping"}))
	assert.Equal(t, TypePong, readFrame(t, second)["type"])
	assert.Equal(t, 1, srv.registry.Len())
}

func TestCloseUnregistersConnection(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.connect(t, 1)

	require.NoError(t, alice.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		_, ok := srv.registry.Lookup(1)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestVerifierOutageClosesWithInternalError(t *testing.T) {
	verifier := new(mocks.TokenVerifierMock)
	verifier.On("ValidateToken", mock.Anything, "tok").Return(0, status.Error(codes.Unavailable, "auth service down"))
	srv := newTestServerWithVerifier(t, verifier)

	conn := srv.dial(t, 1, "tok")
	expectClose(t, conn, websocket.CloseInternalServerErr)
	assert.Equal(t, 0, srv.registry.Len())
}

func TestAdmitSendFailureClosesWithInternalError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	registry := NewRegistry()
	existing := newFakeConn("existing")
	registry.Register(3, existing)
	h := NewHandler(registry, nil, nil, nil, logger.FromZap(zap.New(core)), HandlerConfig{})

	conn := newFakeConn("new")
	conn.sendErr = errors.New("broken pipe")
	err := h.admit(context.Background(), conn, ConnInfo{ConnID: "new", UserID: 3, ConnectedAt: time.Now()})

	require.Error(t, err)
	assert.True(t, conn.isClosed())
	assert.Equal(t, websocket.CloseInternalServerErr, conn.closeCode)

	got, ok := registry.Lookup(3)
	require.True(t, ok)
	assert.Same(t, existing, got, "a failed setup must not displace the live connection")
	assert.False(t, existing.isClosed())
	assert.Equal(t, 1, logs.FilterMessage("websocket setup failed").Len())
}

// registrationCheckConn records whether its user was already registered when
// the first frame was written to it.
type registrationCheckConn struct {
	*fakeConn
	registry          *Registry
	userID            int
	registeredAtFirst *bool
}

func (c *registrationCheckConn) Send(frame any) error {
	if c.registeredAtFirst == nil {
		_, ok := c.registry.Lookup(c.userID)
		c.registeredAtFirst = &ok
	}
	return c.fakeConn.Send(frame)
}

func TestAdmitSendsConnectedFrameBeforeRegistering(t *testing.T) {
	registry := NewRegistry()
	h := NewHandler(registry, nil, nil, nil, logger.NewNop(), HandlerConfig{})
	conn := &registrationCheckConn{fakeConn: newFakeConn("c"), registry: registry, userID: 8}

	require.NoError(t, h.admit(context.Background(), conn, ConnInfo{ConnID: "c", UserID: 8, ConnectedAt: time.Now()}))

	require.NotNil(t, conn.registeredAtFirst)
	assert.False(t, *conn.registeredAtFirst)
	frames := conn.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, TypeConnection, frames[0].Type)
	got, ok := registry.Lookup(8)
	require.True(t, ok)
	assert.Same(t, Connection(conn), got)
}

func TestShutdownClosesLiveConnectionsWithGoingAway(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.connect(t, 1)
	bob := srv.connect(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.handler.Shutdown(ctx))

	expectClose(t, alice, websocket.CloseGoingAway)
	expectClose(t, bob, websocket.CloseGoingAway)
	assert.Equal(t, 0, srv.registry.Len())

	late := srv.dial(t, 3, "anything")
	expectClose(t, late, websocket.CloseGoingAway)
}
