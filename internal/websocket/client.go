package websocket

import (
	"context"
	"sync"
	"time"

	ws "github.com/coder/websocket"
)

const pingInterval = 30 * time.Second

// Client represents a single subscription socket.
//
// Snapshots are full query results, so only the newest matters: a slow
// reader skips intermediate frames instead of buffering them.
type Client struct {
	hub    *Hub
	conn   *ws.Conn
	userID string

	mu     sync.Mutex
	latest []byte
	ready  chan struct{}
	done   chan struct{}
}

// NewClient creates a Client tied to the given hub and connection.
func NewClient(hub *Hub, conn *ws.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push queues frame, replacing any frame not yet written. It never blocks.
func (c *Client) Push(frame []byte) {
	c.mu.Lock()
	c.latest = frame
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *Client) take() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	frame := c.latest
	c.latest = nil
	return frame
}

// Run registers the client, starts the write pump, and runs the read pump.
// It blocks until the connection is closed, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump discards incoming messages after the subscribe frame. It returns
// on error (connection close), which triggers cleanup.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

// writePump writes the newest pending frame whenever one is queued. It also
// sends periodic pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ready:
			frame := c.take()
			if frame == nil {
				continue
			}
			if err := c.conn.Write(ctx, ws.MessageText, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
