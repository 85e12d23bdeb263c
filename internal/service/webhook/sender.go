package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1000
	userAgent       = "versionlifecycle-webhooks/1"
)

// Request is one signed outbound delivery.
type Request struct {
	URL        string
	EventType  string
	DeliveryID int64
	Signature  string
	Payload    []byte
}

// Response is what the receiver answered. Non-2xx statuses are not errors.
type Response struct {
	StatusCode int
	Body       string
}

// Success reports whether the receiver accepted the delivery.
func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Poster sends a delivery request. Transport failures are returned as errors.
type Poster interface {
	Post(ctx context.Context, req Request) (Response, error)
}

// Sender posts deliveries with net/http.
type Sender struct {
	client *http.Client
}

// NewSender wraps client, applying timeout when the client has none.
func NewSender(client *http.Client, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	} else if client.Timeout == 0 {
		client.Timeout = timeout
	}
	return &Sender{client: client}
}

// Post implements Poster.
func (s *Sender) Post(ctx context.Context, req Request) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Payload))
	if err != nil {
		return Response{}, fmt.Errorf("build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set(HeaderSignature, req.Signature)
	httpReq.Header.Set(HeaderEvent, req.EventType)
	httpReq.Header.Set(HeaderDelivery, strconv.FormatInt(req.DeliveryID, 10))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	// Read enough bytes to hold maxResponseBody runes.
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody*4))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return Response{StatusCode: resp.StatusCode, Body: string(buf)}, nil
}

// truncate caps s at n characters.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
