package ws

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
)

// SSEClient streams deployment events as Server-Sent Events. Each frame
// carries an increasing id and the "deployment" event name.
type SSEClient struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	rc     *http.ResponseController
	log    *slog.Logger
	closed bool
	seq    uint64
}

// OpenSSE commits the event-stream response headers and returns a client
// writing to w. It fails when w cannot be flushed.
func OpenSSE(w http.ResponseWriter, logger *slog.Logger) (*SSEClient, error) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("sse: streaming unsupported: %w", err)
	}
	return &SSEClient{w: w, rc: rc, log: logger}, nil
}

// Send emits one event frame. Multi-line payloads become multiple data lines.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.seq++
	frame := make([]byte, 0, len(payload)+48)
	frame = append(frame, "id: "...)
	frame = strconv.AppendUint(frame, c.seq, 10)
	frame = append(frame, "\nevent: deployment\n"...)
	for line := range bytes.Lines(payload) {
		frame = append(frame, "data: "...)
		frame = append(frame, bytes.TrimRight(line, "\r\n")...)
		frame = append(frame, '\n')
	}
	frame = append(frame, '\n')
	if err := c.write(frame); err != nil {
		c.log.Warn("sse send failed", "error", err)
		return err
	}
	return nil
}

// Heartbeat emits a comment frame.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.write([]byte(": keepalive\n\n"))
}

// write must be called with mu held.
func (c *SSEClient) write(frame []byte) error {
	if _, err := c.w.Write(frame); err != nil {
		c.closed = true
		return err
	}
	if err := c.rc.Flush(); err != nil {
		c.closed = true
		return err
	}
	return nil
}

// Close stops further writes. It is safe to call concurrently with Send.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
