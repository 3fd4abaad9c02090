package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rpattn/mapsync/internal/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 256 * 1024

	// Send buffer size.
	sendBufferSize = 64
)

// Client is one live websocket connection. The identity is ephemeral: it is
// assigned on connect and destroyed on disconnect.
type Client struct {
	ID    uuid.UUID
	Actor domain.Actor

	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded connection with a fresh per-connection id.
func NewClient(conn *websocket.Conn, actor domain.Actor, logger *zap.Logger) *Client {
	id := uuid.New()
	return &Client{
		ID:    id,
		Actor: actor,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		logger: logger.With(
			zap.String("client_id", id.String()),
			zap.String("user_id", actor.UserID.String()),
		),
	}
}

// WritePump drains the send buffer onto the socket and keeps the connection
// alive with pings. Runs as one goroutine per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadEnvelope blocks until the next inbound frame, refreshing the read
// deadline on pongs.
func (c *Client) ReadEnvelope() (Envelope, error) {
	var env Envelope
	err := c.conn.ReadJSON(&env)
	return env, err
}

// enqueue offers a message to the send buffer without blocking; false means
// the client is too slow or already closed.
func (c *Client) enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Close shuts the send channel, which ends the write pump and closes the
// underlying socket. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) prepareRead() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}
