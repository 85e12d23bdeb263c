package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrmce/VersionLifecycle-sub000/internal/domain"
	"github.com/jrmce/VersionLifecycle-sub000/internal/repository/memory"
	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
	"github.com/jrmce/VersionLifecycle-sub000/pkg/crypto"
	"github.com/jrmce/VersionLifecycle-sub000/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type receiver struct {
	server *httptest.Server
	hits   atomic.Int32
	status atomic.Int32

	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()
	r := &receiver{}
	r.status.Store(int32(status))
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, req)
		r.bodies = append(r.bodies, body)
		r.mu.Unlock()
		r.hits.Add(1)
		w.WriteHeader(int(r.status.Load()))
		_, _ = w.Write([]byte("ack"))
	}))
	t.Cleanup(r.server.Close)
	return r
}

type harness struct {
	store  *memory.Store
	svc    *Service
	clock  *fakeClock
	sealer crypto.Sealer
	scope  tenant.Scope
	app    domain.Application
}

func newHarness(t *testing.T, poster Poster) *harness {
	t.Helper()
	store := memory.New()
	sealer := crypto.NewSealer("test-key")
	clock := newClock()
	if poster == nil {
		poster = NewSender(nil, time.Second)
	}
	svc := New(store, store, poster, sealer, logger.Discard(), nil, Options{FanoutLimit: 4, Lease: time.Minute})
	svc.now = clock.Now
	app := store.AddApplication(domain.Application{TenantID: 1, Name: "api"})
	return &harness{store: store, svc: svc, clock: clock, sealer: sealer, scope: tenant.New(1, 7), app: app}
}

func (h *harness) register(t *testing.T, url, events string, maxRetries int) *domain.Webhook {
	t.Helper()
	hook, err := h.svc.Register(context.Background(), h.scope, RegisterInput{
		ApplicationID: h.app.ID,
		URL:           url,
		Secret:        "whsec",
		Events:        events,
		MaxRetries:    &maxRetries,
	})
	require.NoError(t, err)
	return hook
}

func (h *harness) task(eventType string) Task {
	return Task{
		TenantID:      h.scope.TenantID,
		UserID:        h.scope.UserID,
		ApplicationID: h.app.ID,
		DeploymentID:  "dep-1",
		EventType:     eventType,
		Payload:       []byte(`{"event":"` + eventType + `"}`),
	}
}

func (h *harness) onlyDelivery(t *testing.T, webhookID int64) domain.WebhookEvent {
	t.Helper()
	events, err := h.store.ListWebhookEvents(context.Background(), h.scope, webhookID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	return events[0]
}
