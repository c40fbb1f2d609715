package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection is a live duplex session as seen by the registry and the delivery handlers.
type Connection interface {
	ID() string
	Send(frame any) error
	Close(code int, reason string) error
}

// Client is a Connection backed by a gorilla websocket. Writes are serialized
// because deliveries for one user arrive from other connections' goroutines.
type Client struct {
	conn         *websocket.Conn
	info         ConnInfo
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewClient(conn *websocket.Conn, info ConnInfo, writeTimeout time.Duration) *Client {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Client{conn: conn, info: info, writeTimeout: writeTimeout}
}

func (c *Client) ID() string {
	return c.info.ConnID
}

func (c *Client) Info() ConnInfo {
	return c.info
}

// Send writes one JSON text frame with a write deadline.
func (c *Client) Send(frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame with the given code and tears the socket down. Safe to call more than once.
func (c *Client) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(c.writeTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// keepalive pings the peer until done is closed; the read side extends its deadline on each pong.
func (c *Client) keepalive(period time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
		}
	}
}
