package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soundstage-io/soundstage-backend/internal/logging"
	"github.com/soundstage-io/soundstage-backend/internal/studio"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Deltas stay small; snapshots
	// only ever travel server to client.
	maxMessageSize = 64 * 1024
)

// ErrNotWritable is returned by Send when the outbound buffer is full or the
// connection is closed. The relay drops the frame for this recipient.
var ErrNotWritable = errors.New("connection not writable")

// Client adapts one gorilla WebSocket connection to the studio.Connection
// contract: a read pump feeding the router and a write pump draining the
// buffered send channel.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	router *studio.Router
	logger logging.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(id string, conn *websocket.Conn, router *studio.Router, logger logging.Logger) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, 256),
		router: router,
		logger: logger,
		closed: make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Send queues a frame for delivery without blocking.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrNotWritable
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrNotWritable
	}
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.conn.Close()
}

// Start launches the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump pumps frames from the WebSocket connection to the router. Pong
// handling keeps the read deadline moving so a dead transport is detected
// and presence does not go stale.
func (c *Client) readPump() {
	defer func() {
		c.router.HandleDisconnect(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).WithField("conn", c.id).Warn("WebSocket read error")
			}
			return
		}
		c.router.HandleMessage(context.Background(), c, data)
	}
}

// writePump pumps frames from the send channel to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
