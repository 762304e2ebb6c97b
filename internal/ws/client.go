package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"

	"planningpoker/internal/store"
)

// Client wraps one WebSocket connection. Outbound frames go through a
// buffered channel drained by a single writer goroutine, so broadcasts never
// block on a slow socket; a client that cannot keep up is closed.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	// Trusted identity, resolved by the upstream authorizer before the
	// connection was admitted.
	roomID     string
	identityID string

	mu            sync.Mutex
	participantID string
	role          store.Role
	joined        bool
	left          bool

	limiter *slidingWindow
}

func newClient(conn *websocket.Conn, roomID, identityID string, limiter *slidingWindow) *Client {
	return &Client{
		conn:       conn,
		send:       make(chan []byte, 16),
		closed:     make(chan struct{}),
		roomID:     roomID,
		identityID: identityID,
		limiter:    limiter,
	}
}

// Send enqueues a frame for the writer goroutine. A full buffer means the
// client has stopped reading; it gets closed rather than stalling the sender.
func (c *Client) Send(ctx context.Context, data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	case <-ctx.Done():
		_ = c.Close("send buffer full")
		return ctx.Err()
	}
}

func (c *Client) Close(reason string) error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			_ = c.conn.Close(websocket.StatusNormalClosure, reason)
		}
	})
	return nil
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				_ = c.Close("write failed")
				return
			}
		}
	}
}

func (c *Client) bind(participantID string, role store.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participantID = participantID
	c.role = role
	c.joined = true
}

func (c *Client) binding() (participantID string, role store.Role, joined bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantID, c.role, c.joined
}

func (c *Client) markLeft() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left = true
}

func (c *Client) hasLeft() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.left
}
