package webhook

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jrmce/VersionLifecycle-sub000/internal/domain"
	"github.com/jrmce/VersionLifecycle-sub000/internal/repository"
	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
)

const (
	defaultMaxRetries = 5
	defaultFanout     = 8
	defaultLease      = 2 * time.Minute
	defaultSweepBatch = 100
)

// Task is the hand-off from a deployment transition to the delivery engine.
// It carries the tenant identity explicitly so work detached from the
// originating request runs in the same scope.
type Task struct {
	TenantID      int64
	UserID        int64
	ApplicationID int64
	DeploymentID  string
	EventType     string
	Payload       []byte
}

// Scope rebuilds the tenant scope the task was captured under.
func (t Task) Scope() tenant.Scope {
	return tenant.New(t.TenantID, t.UserID)
}

// SecretSealer encrypts webhook secrets at rest.
type SecretSealer interface {
	Seal(plaintext string) ([]byte, error)
	Open(payload []byte) (string, error)
}

// Options tunes the delivery engine.
type Options struct {
	FanoutLimit int
	Lease       time.Duration
	SweepBatch  int
}

// Service delivers deployment events to subscribed webhooks.
type Service struct {
	apps    repository.ApplicationRepository
	hooks   repository.WebhookRepository
	poster  Poster
	secrets SecretSealer
	logger  *slog.Logger
	metrics *Metrics

	fanout     int
	lease      time.Duration
	sweepBatch int

	now func() time.Time
}

// New constructs a webhook delivery service.
func New(apps repository.ApplicationRepository, hooks repository.WebhookRepository, poster Poster, secrets SecretSealer, logger *slog.Logger, metrics *Metrics, opts Options) *Service {
	if opts.FanoutLimit <= 0 {
		opts.FanoutLimit = defaultFanout
	}
	if opts.Lease <= 0 {
		opts.Lease = defaultLease
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = defaultSweepBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		apps:       apps,
		hooks:      hooks,
		poster:     poster,
		secrets:    secrets,
		logger:     logger.With("component", "webhooks"),
		metrics:    metrics,
		fanout:     opts.FanoutLimit,
		lease:      opts.Lease,
		sweepBatch: opts.SweepBatch,
		now:        time.Now,
	}
}

// RegisterInput describes a new webhook subscription.
type RegisterInput struct {
	ApplicationID int64
	URL           string
	Secret        string
	Events        string
	// MaxRetries defaults to 5 when nil. Zero records deliveries without sending.
	MaxRetries    *int
}

// Register creates an active webhook for an application visible to scope.
func (s *Service) Register(ctx context.Context, scope tenant.Scope, in RegisterInput) (*domain.Webhook, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	target := strings.TrimSpace(in.URL)
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: webhook url must be absolute http(s)", repository.ErrInvalidArgument)
	}
	secret := strings.TrimSpace(in.Secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: webhook secret is required", repository.ErrInvalidArgument)
	}
	events := normalizeEvents(in.Events)
	if events == "" {
		return nil, fmt.Errorf("%w: webhook events are required", repository.ErrInvalidArgument)
	}
	maxRetries := defaultMaxRetries
	if in.MaxRetries != nil {
		maxRetries = *in.MaxRetries
	}
	if maxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must not be negative", repository.ErrInvalidArgument)
	}
	app, err := s.apps.GetApplication(ctx, scope, in.ApplicationID)
	if err != nil {
		return nil, fmt.Errorf("application: %w", err)
	}
	sealed, err := s.secrets.Seal(secret)
	if err != nil {
		return nil, fmt.Errorf("seal webhook secret: %w", err)
	}
	webhook := &domain.Webhook{
		TenantID:      app.TenantID,
		ApplicationID: app.ID,
		URL:           target,
		Secret:        sealed,
		Events:        events,
		IsActive:      true,
		MaxRetries:    maxRetries,
	}
	if err := s.hooks.CreateWebhook(ctx, scope, webhook); err != nil {
		return nil, err
	}
	return webhook, nil
}

// Deactivate clears the webhook's active flag. Its delivery history is kept.
func (s *Service) Deactivate(ctx context.Context, scope tenant.Scope, webhookID int64) error {
	return s.hooks.DeactivateWebhook(ctx, scope, webhookID)
}

func normalizeEvents(raw string) string {
	parts := strings.Split(raw, ",")
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, ",")
}

// Trigger records a delivery for every active webhook of the task's
// application subscribed to the task's event, then attempts each delivery.
// Deliveries run concurrently up to the fan-out limit. Delivery failures are
// recorded on the ledger and never returned.
func (s *Service) Trigger(ctx context.Context, task Task) error {
	scope := task.Scope()
	if err := scope.Validate(); err != nil {
		return err
	}
	hooks, err := s.hooks.ListActiveWebhooks(ctx, scope, task.ApplicationID)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(s.fanout)
	for _, hook := range hooks {
		if !hook.Subscribes(task.EventType) {
			continue
		}
		g.Go(func() error {
			s.triggerOne(ctx, scope, hook, task)
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) triggerOne(ctx context.Context, scope tenant.Scope, hook domain.Webhook, task Task) {
	event := &domain.WebhookEvent{
		WebhookID:      hook.ID,
		EventType:      task.EventType,
		Payload:        task.Payload,
		DeliveryStatus: domain.DeliveryPending,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.hooks.CreateWebhookEvent(ctx, scope, event); err != nil {
		s.logger.Error("failed to record webhook event", "webhook_id", hook.ID, "tenant_id", scope.TenantID, "event_type", task.EventType, "error", err)
		return
	}
	if err := s.Deliver(ctx, scope, event.ID); err != nil {
		s.logger.Error("webhook delivery aborted", "webhook_event_id", event.ID, "tenant_id", scope.TenantID, "error", err)
	}
}

// Deliver makes one delivery attempt for a ledger row and records the outcome.
//
// A Sent row, a row whose lease is held by another attempt, and a Failed row
// whose next retry is not yet due are left untouched. Errors are returned only
// when the row cannot be claimed or the outcome cannot be persisted; receiver
// failures are recorded on the row.
func (s *Service) Deliver(ctx context.Context, scope tenant.Scope, webhookEventID int64) error {
	return s.deliver(ctx, scope, webhookEventID, false)
}

// deliver acts only on the row returned by the claim.
func (s *Service) deliver(ctx context.Context, scope tenant.Scope, webhookEventID int64, force bool) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	event, err := s.hooks.ClaimWebhookEvent(ctx, scope, webhookEventID, repository.Claim{
		Now:        now,
		LeaseUntil: now.Add(s.lease),
		Force:      force,
	})
	if err != nil {
		return fmt.Errorf("claim webhook event %d: %w", webhookEventID, err)
	}
	if event == nil {
		s.logger.Debug("webhook delivery in flight, sent or not due", "webhook_event_id", webhookEventID)
		return nil
	}

	hook, err := s.hooks.GetWebhook(ctx, scope, event.WebhookID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return s.fail(ctx, scope, event, nil, "webhook not found", false)
	case err != nil:
		s.release(ctx, scope, event)
		return fmt.Errorf("load webhook %d: %w", event.WebhookID, err)
	case !hook.IsActive:
		return s.fail(ctx, scope, event, nil, "webhook inactive", false)
	}

	if event.RetryCount >= hook.MaxRetries {
		return s.fail(ctx, scope, event, nil, "max retries exhausted", false)
	}

	secret, err := s.secrets.Open(hook.Secret)
	if err != nil {
		s.logger.Error("failed to open webhook secret", "webhook_id", hook.ID, "error", err)
		return s.fail(ctx, scope, event, nil, "webhook secret unavailable", false)
	}

	started := s.now()
	resp, sendErr := s.poster.Post(ctx, Request{
		URL:        hook.URL,
		EventType:  event.EventType,
		DeliveryID: event.ID,
		Signature:  Sign([]byte(secret), event.Payload),
		Payload:    event.Payload,
	})
	elapsed := s.now().Sub(started)

	if sendErr == nil && resp.Success() {
		s.metrics.observeAttempt("sent", elapsed)
		delivered := s.now().UTC()
		code := resp.StatusCode
		return s.record(ctx, scope, domain.DeliveryOutcome{
			WebhookEventID:     event.ID,
			Status:             domain.DeliverySent,
			ResponseStatusCode: &code,
			ResponseBody:       truncate(resp.Body, maxResponseBody),
			RetryCount:         event.RetryCount,
			DeliveredAt:        &delivered,
			ModifiedAt:         delivered,
		})
	}

	s.metrics.observeAttempt("failed", elapsed)
	event.RetryCount++
	if sendErr != nil {
		s.logger.Warn("webhook delivery failed", "webhook_event_id", event.ID, "webhook_id", hook.ID, "attempt", event.RetryCount, "error", sendErr)
		return s.schedule(ctx, scope, event, hook, nil, sendErr.Error())
	}
	s.logger.Warn("webhook receiver rejected delivery", "webhook_event_id", event.ID, "webhook_id", hook.ID, "attempt", event.RetryCount, "status", resp.StatusCode)
	code := resp.StatusCode
	return s.schedule(ctx, scope, event, hook, &code, resp.Body)
}

// schedule records a failed attempt, setting the next retry while attempts remain.
func (s *Service) schedule(ctx context.Context, scope tenant.Scope, event *domain.WebhookEvent, hook *domain.Webhook, code *int, body string) error {
	if event.RetryCount >= hook.MaxRetries {
		return s.fail(ctx, scope, event, code, body, true)
	}
	now := s.now().UTC()
	next := now.Add(Backoff(event.RetryCount))
	return s.record(ctx, scope, domain.DeliveryOutcome{
		WebhookEventID:     event.ID,
		Status:             domain.DeliveryFailed,
		ResponseStatusCode: code,
		ResponseBody:       truncate(body, maxResponseBody),
		RetryCount:         event.RetryCount,
		NextRetryAt:        &next,
		ModifiedAt:         now,
	})
}

// fail marks the row permanently Failed.
func (s *Service) fail(ctx context.Context, scope tenant.Scope, event *domain.WebhookEvent, code *int, body string, attempted bool) error {
	if !attempted {
		s.metrics.observeAttempt("abandoned", 0)
		s.logger.Warn("webhook delivery abandoned", "webhook_event_id", event.ID, "reason", body)
	}
	now := s.now().UTC()
	return s.record(ctx, scope, domain.DeliveryOutcome{
		WebhookEventID:     event.ID,
		Status:             domain.DeliveryFailed,
		ResponseStatusCode: code,
		ResponseBody:       truncate(body, maxResponseBody),
		RetryCount:         event.RetryCount,
		ModifiedAt:         now,
	})
}

// release drops the lease without changing the outcome fields.
func (s *Service) release(ctx context.Context, scope tenant.Scope, event *domain.WebhookEvent) {
	err := s.record(ctx, scope, domain.DeliveryOutcome{
		WebhookEventID:     event.ID,
		Status:             event.DeliveryStatus,
		ResponseStatusCode: event.ResponseStatusCode,
		ResponseBody:       event.ResponseBody,
		RetryCount:         event.RetryCount,
		DeliveredAt:        event.DeliveredAt,
		NextRetryAt:        event.NextRetryAt,
		ModifiedAt:         event.ModifiedAt,
	})
	if err != nil {
		s.logger.Warn("failed to release webhook lease", "webhook_event_id", event.ID, "error", err)
	}
}

func (s *Service) record(ctx context.Context, scope tenant.Scope, outcome domain.DeliveryOutcome) error {
	// The attempt already happened; persist its outcome even if the caller went away.
	if err := s.hooks.RecordDeliveryOutcome(context.WithoutCancel(ctx), scope, outcome); err != nil {
		return fmt.Errorf("record webhook outcome %d: %w", outcome.WebhookEventID, err)
	}
	return nil
}

// Backoff returns the delay before the retry that follows attempt n: 2^n minutes.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		retryCount = 30
	}
	return time.Duration(math.Pow(2, float64(retryCount))) * time.Minute
}

// RetryPending re-drives every due delivery across all tenants: Failed rows
// whose next retry has arrived and Pending rows abandoned longer than the
// lease window. Each row is delivered under its own tenant's scope. It returns
// the number of rows re-driven.
func (s *Service) RetryPending(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.hooks.ListDueWebhookEvents(ctx, tenant.Operator(0), now, now.Add(-s.lease), s.sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list due webhook events: %w", err)
	}
	var g errgroup.Group
	g.SetLimit(s.fanout)
	for _, event := range due {
		g.Go(func() error {
			scope := tenant.New(event.TenantID, 0)
			if err := s.Deliver(ctx, scope, event.ID); err != nil {
				s.logger.Warn("webhook redelivery failed", "webhook_event_id", event.ID, "tenant_id", event.TenantID, "error", err)
				return nil
			}
			s.metrics.sweptDelivery()
			return nil
		})
	}
	_ = g.Wait()
	return len(due), nil
}

// Deliveries returns the most recent ledger rows of a webhook.
func (s *Service) Deliveries(ctx context.Context, scope tenant.Scope, webhookID int64, limit int) ([]domain.WebhookEvent, error) {
	if _, err := s.hooks.GetWebhook(ctx, scope, webhookID); err != nil {
		return nil, err
	}
	return s.hooks.ListWebhookEvents(ctx, scope, webhookID, limit)
}

// Redeliver makes an immediate attempt for an unsent ledger row, ahead of
// any scheduled retry.
func (s *Service) Redeliver(ctx context.Context, scope tenant.Scope, webhookEventID int64) (*domain.WebhookEvent, error) {
	event, err := s.hooks.GetWebhookEvent(ctx, scope, webhookEventID)
	if err != nil {
		return nil, err
	}
	if event.DeliveryStatus == domain.DeliverySent {
		return nil, fmt.Errorf("%w: webhook event %d already sent", repository.ErrInvalidState, webhookEventID)
	}
	if err := s.deliver(ctx, scope, webhookEventID, true); err != nil {
		return nil, err
	}
	return s.hooks.GetWebhookEvent(ctx, scope, webhookEventID)
}
