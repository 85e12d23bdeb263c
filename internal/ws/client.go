package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	sendBuffer     = 32
	maxInboundSize = 512
)

var (
	// ErrClosed is returned by Send after the subscriber went away.
	ErrClosed = errors.New("ws: client closed")
	// ErrSlowConsumer is returned when a client's outbound buffer is full.
	ErrSlowConsumer = errors.New("ws: client too slow")
)

// Client is one websocket subscriber. Send only enqueues; frames and pings
// are written by the goroutine running Serve.
type Client struct {
	conn      *websocket.Conn
	log       *slog.Logger
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	pingEvery time.Duration
}

// NewClient wraps an upgraded connection. pingEvery also bounds how long the
// peer may stay silent: a missing pong after two intervals closes the client.
func NewClient(conn *websocket.Conn, logger *slog.Logger, pingEvery time.Duration) *Client {
	if pingEvery <= 0 {
		pingEvery = 25 * time.Second
	}
	return &Client{
		conn:      conn,
		log:       logger,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		pingEvery: pingEvery,
	}
}

// Send queues payload for delivery.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSlowConsumer
	}
}

// Serve pumps frames until either side goes away, then closes the connection.
func (c *Client) Serve() {
	go c.readPump()
	c.writePump()
}

// Done is closed once the client has shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close terminates the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump discards inbound frames; reading is what surfaces pongs and
// peer close frames.
func (c *Client) readPump() {
	defer c.Close()
	pongWait := 2 * c.pingEvery
	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
