package webhook

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrmce/VersionLifecycle-sub000/internal/domain"
	"github.com/jrmce/VersionLifecycle-sub000/internal/repository"
	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
	"github.com/jrmce/VersionLifecycle-sub000/pkg/logger"
)

func TestTriggerDeliversSignedPayload(t *testing.T) {
	recv := newReceiver(t, 200)
	h := newHarness(t, nil)
	hook := h.register(t, recv.server.URL, "deployment.success", 3)

	task := h.task("deployment.success")
	require.NoError(t, h.svc.Trigger(context.Background(), task))

	require.EqualValues(t, 1, recv.hits.Load())
	req := recv.requests[0]
	assert.Equal(t, "deployment.success", req.Header.Get(HeaderEvent))
	assert.Equal(t, Sign([]byte("whsec"), task.Payload), req.Header.Get(HeaderSignature))
	assert.NoError(t, ValidateSignature(recv.bodies[0], []byte("whsec"), req.Header.Get(HeaderSignature)))
	assert.Equal(t, task.Payload, recv.bodies[0])

	delivery := h.onlyDelivery(t, hook.ID)
	assert.Equal(t, req.Header.Get(HeaderDelivery), strconv.FormatInt(delivery.ID, 10))
	assert.Equal(t, domain.DeliverySent, delivery.DeliveryStatus)
	require.NotNil(t, delivery.ResponseStatusCode)
	assert.Equal(t, 200, *delivery.ResponseStatusCode)
	assert.Equal(t, "ack", delivery.ResponseBody)
	assert.NotNil(t, delivery.DeliveredAt)
	assert.Nil(t, delivery.NextRetryAt)
	assert.Zero(t, delivery.RetryCount)
	assert.EqualValues(t, 1, delivery.TenantID)
}

func TestSignatureIsLowerCaseHex(t *testing.T) {
	sig := Sign([]byte("k"), []byte("payload"))
	assert.Len(t, sig, 64)
	assert.Equal(t, strings.ToLower(sig), sig)
	assert.Error(t, ValidateSignature([]byte("payload"), []byte("other"), sig))
	assert.Error(t, ValidateSignature([]byte("payload"), []byte("k"), ""))
}

func TestTriggerMatchesEventFilter(t *testing.T) {
	recv := newReceiver(t, 204)
	h := newHarness(t, nil)
	exact := h.register(t, recv.server.URL, " deployment.failed , deployment.success ", 3)
	wildcard := h.register(t, recv.server.URL, "*", 3)
	other := h.register(t, recv.server.URL, "deployment.failed", 3)
	inactive := h.register(t, recv.server.URL, "*", 3)
	require.NoError(t, h.svc.Deactivate(context.Background(), h.scope, inactive.ID))

	require.NoError(t, h.svc.Trigger(context.Background(), h.task("deployment.success")))

	assert.EqualValues(t, 2, recv.hits.Load())
	for _, hook := range []*domain.Webhook{exact, wildcard} {
		assert.Equal(t, domain.DeliverySent, h.onlyDelivery(t, hook.ID).DeliveryStatus)
	}
	for _, hook := range []*domain.Webhook{other, inactive} {
		events, err := h.store.ListWebhookEvents(context.Background(), h.scope, hook.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	}
}

// Webhook W (maxRetries=3) receives three HTTP 500s: the row ends Failed with
// retryCount=3, no next retry, and the sweep stops picking it up.
func TestFailingReceiverExhaustsRetries(t *testing.T) {
	recv := newReceiver(t, 500)
	h := newHarness(t, nil)
	hook := h.register(t, recv.server.URL, "deployment.success", 3)
	ctx := context.Background()

	require.NoError(t, h.svc.Trigger(ctx, h.task("deployment.success")))
	first := h.onlyDelivery(t, hook.ID)
	assert.Equal(t, domain.DeliveryFailed, first.DeliveryStatus)
	assert.Equal(t, 1, first.RetryCount)
	require.NotNil(t, first.NextRetryAt)
	assert.Equal(t, h.clock.Now().Add(2*time.Minute), *first.NextRetryAt)
	require.NotNil(t, first.ResponseStatusCode)
	assert.Equal(t, 500, *first.ResponseStatusCode)

	h.clock.Advance(time.Minute)
	swept, err := h.svc.RetryPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept, "retry not due yet")

	h.clock.Advance(time.Minute)
	swept, err = h.svc.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	second := h.onlyDelivery(t, hook.ID)
	assert.Equal(t, 2, second.RetryCount)
	require.NotNil(t, second.NextRetryAt)
	assert.Equal(t, h.clock.Now().Add(4*time.Minute), *second.NextRetryAt)
	firstGap := first.NextRetryAt.Sub(first.ModifiedAt)
	secondGap := second.NextRetryAt.Sub(second.ModifiedAt)
	assert.True(t, second.NextRetryAt.After(*first.NextRetryAt))
	assert.Equal(t, 2*firstGap, secondGap)

	h.clock.Advance(4 * time.Minute)
	swept, err = h.svc.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	final := h.onlyDelivery(t, hook.ID)
	assert.Equal(t, domain.DeliveryFailed, final.DeliveryStatus)
	assert.Equal(t, 3, final.RetryCount)
	assert.Nil(t, final.NextRetryAt)
	assert.LessOrEqual(t, final.RetryCount, hook.MaxRetries)

	h.clock.Advance(24 * time.Hour)
	swept, err = h.svc.RetryPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
	assert.EqualValues(t, 3, recv.hits.Load())
}

func TestBackoffDoublesEachAttempt(t *testing.T) {
	prev := Backoff(0)
	assert.Equal(t, time.Minute, prev)
	for n := 1; n <= 10; n++ {
		next := Backoff(n)
		assert.Equal(t, 2*prev, next, "attempt %d", n)
		prev = next
	}
	assert.Equal(t, Backoff(30), Backoff(64))
}

func TestDeliverOnSentRowIsNoop(t *testing.T) {
	recv := newReceiver(t, 200)
	h := newHarness(t, nil)
	hook := h.register(t, recv.server.URL, "*", 3)
	require.NoError(t, h.svc.Trigger(context.Background(), h.task("deployment.created")))
	delivery := h.onlyDelivery(t, hook.ID)

	require.NoError(t, h.svc.Deliver(context.Background(), h.scope, delivery.ID))
	require.NoError(t, h.svc.Deliver(context.Background(), h.scope, delivery.ID))

	assert.EqualValues(t, 1, recv.hits.Load())
	_, err := h.svc.Redeliver(context.Background(), h.scope, delivery.ID)
	assert.ErrorIs(t, err, repository.ErrInvalidState)
}

func TestTransportErrorIsRecordedAndRetried(t *testing.T) {
	poster := &scriptedPoster{err: errors.New("dial tcp: connection refused")}
	h := newHarness(t, poster)
	hook := h.register(t, "http://receiver.invalid/hook", "*", 2)

	require.NoError(t, h.svc.Trigger(context.Background(), h.task("deployment.failed")))
	delivery := h.onlyDelivery(t, hook.ID)
	assert.Equal(t, domain.DeliveryFailed, delivery.DeliveryStatus)
	assert.Equal(t, 1, delivery.RetryCount)
	assert.Nil(t, delivery.ResponseStatusCode)
	assert.Contains(t, delivery.ResponseBody, "connection refused")
	assert.NotNil(t, delivery.NextRetryAt)

	poster.err = nil
	poster.resp = Response{StatusCode: 202, Body: strings.Repeat("x", 1500)}
	updated, err := h.svc.Redeliver(context.Background(), h.scope, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliverySent, updated.DeliveryStatus)
	assert.Len(t, updated.ResponseBody, 1000)
	assert.Equal(t, 1, updated.RetryCount)
}

func TestDeactivatedWebhookFailsWithoutSending(t *testing.T) {
	poster := &scriptedPoster{resp: Response{StatusCode: 200}}
	h := newHarness(t, poster)
	hook := h.register(t, "http://receiver.invalid/hook", "*", 3)
	ctx := context.Background()

	event := &domain.WebhookEvent{WebhookID: hook.ID, EventType: "deployment.success", Payload: []byte(`{}`)}
	require.NoError(t, h.store.CreateWebhookEvent(ctx, h.scope, event))
	require.NoError(t, h.svc.Deactivate(ctx, h.scope, hook.ID))

	require.NoError(t, h.svc.Deliver(ctx, h.scope, event.ID))
	delivery := h.onlyDelivery(t, hook.ID)
	assert.Equal(t, domain.DeliveryFailed, delivery.DeliveryStatus)
	assert.Nil(t, delivery.NextRetryAt)
	assert.Zero(t, poster.calls.Load())
}

func TestDeliverUnknownRowIsNotFound(t *testing.T) {
	h := newHarness(t, &scriptedPoster{})
	err := h.svc.Deliver(context.Background(), h.scope, 4242)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConcurrentDeliverIsSingleFlight(t *testing.T) {
	poster := &blockingPoster{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, poster)
	hook := h.register(t, "http://receiver.invalid/hook", "*", 3)
	ctx := context.Background()
	event := &domain.WebhookEvent{WebhookID: hook.ID, EventType: "deployment.success", Payload: []byte(`{}`)}
	require.NoError(t, h.store.CreateWebhookEvent(ctx, h.scope, event))

	done := make(chan error, 1)
	go func() { done <- h.svc.Deliver(ctx, h.scope, event.ID) }()
	<-poster.entered

	// Both the sweep and a second direct attempt see the lease and back off.
	require.NoError(t, h.svc.Deliver(ctx, h.scope, event.ID))
	h.clock.Advance(30 * time.Second)
	swept, err := h.svc.RetryPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)

	close(poster.release)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, poster.calls.Load())
	assert.Equal(t, domain.DeliverySent, h.onlyDelivery(t, hook.ID).DeliveryStatus)
}

// pausedClaims holds the first claim until resume is closed, so a second
// attempt can run to completion in between.
type pausedClaims struct {
	repository.WebhookRepository
	once   sync.Once
	paused chan struct{}
	resume chan struct{}
}

func newPausedClaims(inner repository.WebhookRepository) *pausedClaims {
	return &pausedClaims{WebhookRepository: inner, paused: make(chan struct{}), resume: make(chan struct{})}
}

func (p *pausedClaims) ClaimWebhookEvent(ctx context.Context, scope tenant.Scope, id int64, claim repository.Claim) (*domain.WebhookEvent, error) {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.paused)
		<-p.resume
	}
	return p.WebhookRepository.ClaimWebhookEvent(ctx, scope, id, claim)
}

func (h *harness) serviceOver(hooks repository.WebhookRepository) *Service {
	svc := New(h.store, hooks, NewSender(nil, time.Second), h.sealer, logger.Discard(), nil, Options{FanoutLimit: 4, Lease: time.Minute})
	svc.now = h.clock.Now
	return svc
}

func TestLateAttemptDoesNotExceedMaxRetries(t *testing.T) {
	recv := newReceiver(t, 500)
	h := newHarness(t, nil)
	hook := h.register(t, recv.server.URL, "*", 1)
	ctx := context.Background()
	event := &domain.WebhookEvent{WebhookID: hook.ID, EventType: "deployment.failed", Payload: []byte(`{}`)}
	require.NoError(t, h.store.CreateWebhookEvent(ctx, h.scope, event))

	gate := newPausedClaims(h.store)
	late := h.serviceOver(gate)
	done := make(chan error, 1)
	go func() { done <- late.Deliver(ctx, h.scope, event.ID) }()
	<-gate.paused

	require.NoError(t, h.svc.Deliver(ctx, h.scope, event.ID))
	close(gate.resume)
	require.NoError(t, <-done)

	assert.EqualValues(t, 1, recv.hits.Load())
	delivery := h.onlyDelivery(t, hook.ID)
	assert.Equal(t, domain.DeliveryFailed, delivery.DeliveryStatus)
	assert.Equal(t, 1, delivery.RetryCount)
	assert.Nil(t, delivery.NextRetryAt)
}

func TestOverlappingSweepsRespectBackoff(t *testing.T) {
	recv := newReceiver(t, 500)
	h := newHarness(t, nil)
	hook := h.register(t, recv.server.URL, "*", 3)
	ctx := context.Background()
	require.NoError(t, h.svc.Trigger(ctx, h.task("deployment.failed")))
	require.EqualValues(t, 1, recv.hits.Load())

	h.clock.Advance(2 * time.Minute)
	gate := newPausedClaims(h.store)
	late := h.serviceOver(gate)
	done := make(chan error, 1)
	go func() {
		_, err := late.RetryPending(ctx)
		done <- err
	}()
	<-gate.paused

	swept, err := h.svc.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	close(gate.resume)
	require.NoError(t, <-done)

	assert.EqualValues(t, 2, recv.hits.Load())
	delivery := h.onlyDelivery(t, hook.ID)
	assert.Equal(t, 2, delivery.RetryCount)
	require.NotNil(t, delivery.NextRetryAt)
	assert.Equal(t, h.clock.Now().Add(4*time.Minute), *delivery.NextRetryAt)
}

func TestRetryPendingRecoversAbandonedPendingRow(t *testing.T) {
	poster := &scriptedPoster{resp: Response{StatusCode: 200}}
	h := newHarness(t, poster)
	hook := h.register(t, "http://receiver.invalid/hook", "*", 3)
	ctx := context.Background()
	event := &domain.WebhookEvent{WebhookID: hook.ID, EventType: "deployment.success", Payload: []byte(`{}`), CreatedAt: h.clock.Now()}
	require.NoError(t, h.store.CreateWebhookEvent(ctx, h.scope, event))

	swept, err := h.svc.RetryPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept, "fresh pending rows belong to their initial attempt")

	h.clock.Advance(2 * time.Minute)
	swept, err = h.svc.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.Equal(t, domain.DeliverySent, h.onlyDelivery(t, hook.ID).DeliveryStatus)
}

func TestRetryPendingUsesEachRowsTenant(t *testing.T) {
	poster := &scriptedPoster{resp: Response{StatusCode: 500}}
	h := newHarness(t, poster)
	ctx := context.Background()
	hookA := h.register(t, "http://a.invalid", "*", 5)

	otherApp := h.store.AddApplication(domain.Application{TenantID: 2, Name: "other"})
	other := tenant.New(2, 8)
	hookB, err := h.svc.Register(ctx, other, RegisterInput{ApplicationID: otherApp.ID, URL: "http://b.invalid", Secret: "s2", Events: "*"})
	require.NoError(t, err)

	require.NoError(t, h.svc.Trigger(ctx, h.task("deployment.failed")))
	require.NoError(t, h.svc.Trigger(ctx, Task{TenantID: 2, UserID: 8, ApplicationID: otherApp.ID, EventType: "deployment.failed", Payload: []byte(`{}`)}))

	h.clock.Advance(3 * time.Minute)
	swept, err := h.svc.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	a := h.onlyDelivery(t, hookA.ID)
	b, err := h.store.ListWebhookEvents(ctx, other, hookB.ID, 10)
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, 2, a.RetryCount)
	assert.Equal(t, 2, b[0].RetryCount)
	assert.EqualValues(t, 2, b[0].TenantID)
}

func TestRegisterValidatesAndSealsSecret(t *testing.T) {
	h := newHarness(t, &scriptedPoster{})
	ctx := context.Background()

	hook, err := h.svc.Register(ctx, h.scope, RegisterInput{ApplicationID: h.app.ID, URL: "https://hooks.example.com/x", Secret: "whsec", Events: "deployment.success"})
	require.NoError(t, err)
	assert.Equal(t, defaultMaxRetries, hook.MaxRetries)
	assert.Zero(t, h.register(t, "https://hooks.example.com/y", "*", 0).MaxRetries, "explicit zero is kept")
	assert.NotEqual(t, []byte("whsec"), hook.Secret)
	opened, err := h.sealer.Open(hook.Secret)
	require.NoError(t, err)
	assert.Equal(t, "whsec", opened)

	cases := []RegisterInput{
		{ApplicationID: h.app.ID, URL: "ftp://x", Secret: "s", Events: "*"},
		{ApplicationID: h.app.ID, URL: "https://x", Secret: " ", Events: "*"},
		{ApplicationID: h.app.ID, URL: "https://x", Secret: "s", Events: " , "},
		{ApplicationID: h.app.ID, URL: "https://x", Secret: "s", Events: "*", MaxRetries: intPtr(-1)},
	}
	for _, in := range cases {
		_, err := h.svc.Register(ctx, h.scope, in)
		assert.ErrorIs(t, err, repository.ErrInvalidArgument, "%+v", in)
	}

	_, err = h.svc.Register(ctx, tenant.New(9, 1), RegisterInput{ApplicationID: h.app.ID, URL: "https://x", Secret: "s", Events: "*"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeliveriesAreTenantScoped(t *testing.T) {
	h := newHarness(t, &scriptedPoster{resp: Response{StatusCode: 200}})
	hook := h.register(t, "http://receiver.invalid", "*", 3)
	require.NoError(t, h.svc.Trigger(context.Background(), h.task("deployment.created")))

	list, err := h.svc.Deliveries(context.Background(), h.scope, hook.ID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = h.svc.Deliveries(context.Background(), tenant.New(2, 1), hook.ID, 10)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestZeroRetryWebhookRecordsWithoutSending(t *testing.T) {
	poster := &scriptedPoster{resp: Response{StatusCode: 200}}
	h := newHarness(t, poster)
	hook := h.register(t, "http://receiver.invalid/hook", "*", 0)

	require.NoError(t, h.svc.Trigger(context.Background(), h.task("deployment.success")))
	delivery := h.onlyDelivery(t, hook.ID)
	assert.Equal(t, domain.DeliveryFailed, delivery.DeliveryStatus)
	assert.Zero(t, delivery.RetryCount)
	assert.Nil(t, delivery.NextRetryAt)
	assert.Zero(t, poster.calls.Load())
}

func intPtr(v int) *int { return &v }

type scriptedPoster struct {
	calls atomic.Int32
	resp  Response
	err   error
}

func (p *scriptedPoster) Post(context.Context, Request) (Response, error) {
	p.calls.Add(1)
	return p.resp, p.err
}

type blockingPoster struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPoster) Post(context.Context, Request) (Response, error) {
	p.calls.Add(1)
	p.entered <- struct{}{}
	<-p.release
	return Response{StatusCode: 200}, nil
}
