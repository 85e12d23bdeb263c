package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jrmce/VersionLifecycle-sub000/internal/domain"
	"github.com/jrmce/VersionLifecycle-sub000/internal/repository"
	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
)

// CreateWebhook implements repository.WebhookRepository.
func (s *Store) CreateWebhook(_ context.Context, scope tenant.Scope, webhook *domain.Webhook) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if webhook == nil {
		return fmt.Errorf("%w: webhook required", repository.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !scope.CrossTenant {
		webhook.TenantID = scope.TenantID
	}
	if webhook.TenantID <= 0 {
		return fmt.Errorf("%w: webhook tenant required", repository.ErrInvalidArgument)
	}
	if _, ok := s.applications[webhook.ApplicationID]; !ok {
		return fmt.Errorf("%w: unknown application", repository.ErrInvalidArgument)
	}
	now := s.now().UTC()
	webhook.ID = s.id()
	webhook.CreatedBy = scope.UserID
	webhook.Secret = append([]byte(nil), webhook.Secret...)
	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = now
	}
	webhook.ModifiedAt = webhook.CreatedAt
	s.webhooks[webhook.ID] = *webhook
	return nil
}

// GetWebhook implements repository.WebhookRepository.
func (s *Store) GetWebhook(_ context.Context, scope tenant.Scope, webhookID int64) (*domain.Webhook, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	webhook, ok := s.webhooks[webhookID]
	if !ok || !scope.Allows(webhook.TenantID) {
		return nil, repository.ErrNotFound
	}
	return &webhook, nil
}

// ListActiveWebhooks implements repository.WebhookRepository.
func (s *Store) ListActiveWebhooks(_ context.Context, scope tenant.Scope, applicationID int64) ([]domain.Webhook, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Webhook, 0)
	for _, webhook := range s.webhooks {
		if webhook.IsActive && webhook.ApplicationID == applicationID && scope.Allows(webhook.TenantID) {
			out = append(out, webhook)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeactivateWebhook implements repository.WebhookRepository.
func (s *Store) DeactivateWebhook(_ context.Context, scope tenant.Scope, webhookID int64) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	webhook, ok := s.webhooks[webhookID]
	if !ok || !scope.Allows(webhook.TenantID) {
		return repository.ErrNotFound
	}
	webhook.IsActive = false
	webhook.ModifiedAt = s.now().UTC()
	s.webhooks[webhookID] = webhook
	return nil
}

// CreateWebhookEvent implements repository.WebhookRepository.
func (s *Store) CreateWebhookEvent(_ context.Context, scope tenant.Scope, event *domain.WebhookEvent) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("%w: webhook event required", repository.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	webhook, ok := s.webhooks[event.WebhookID]
	if !ok || !scope.Allows(webhook.TenantID) {
		return fmt.Errorf("%w: unknown webhook", repository.ErrInvalidArgument)
	}
	event.TenantID = webhook.TenantID
	if event.DeliveryStatus == "" {
		event.DeliveryStatus = domain.DeliveryPending
	}
	now := s.now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.ModifiedAt = event.CreatedAt
	event.ID = s.id()
	event.Payload = append([]byte(nil), event.Payload...)
	s.webhookEvents[event.ID] = *event
	return nil
}

// GetWebhookEvent implements repository.WebhookRepository.
func (s *Store) GetWebhookEvent(_ context.Context, scope tenant.Scope, webhookEventID int64) (*domain.WebhookEvent, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.webhookEvents[webhookEventID]
	if !ok || !scope.Allows(event.TenantID) {
		return nil, repository.ErrNotFound
	}
	event.Payload = append([]byte(nil), event.Payload...)
	return &event, nil
}

// ClaimWebhookEvent implements repository.WebhookRepository.
func (s *Store) ClaimWebhookEvent(_ context.Context, scope tenant.Scope, webhookEventID int64, claim repository.Claim) (*domain.WebhookEvent, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.webhookEvents[webhookEventID]
	if !ok || !scope.Allows(event.TenantID) {
		return nil, repository.ErrNotFound
	}
	if !claimable(event, claim) {
		return nil, nil
	}
	lease := claim.LeaseUntil
	event.LeaseUntil = &lease
	s.webhookEvents[webhookEventID] = event
	event.Payload = append([]byte(nil), event.Payload...)
	return &event, nil
}

func claimable(event domain.WebhookEvent, claim repository.Claim) bool {
	if event.DeliveryStatus == domain.DeliverySent {
		return false
	}
	if event.LeaseUntil != nil && event.LeaseUntil.After(claim.Now) {
		return false
	}
	if event.DeliveryStatus == domain.DeliveryFailed && !claim.Force {
		return event.NextRetryAt != nil && !event.NextRetryAt.After(claim.Now)
	}
	return true
}

// RecordDeliveryOutcome implements repository.WebhookRepository.
func (s *Store) RecordDeliveryOutcome(_ context.Context, scope tenant.Scope, outcome domain.DeliveryOutcome) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.webhookEvents[outcome.WebhookEventID]
	if !ok || !scope.Allows(event.TenantID) {
		return repository.ErrNotFound
	}
	event.DeliveryStatus = outcome.Status
	event.ResponseStatusCode = outcome.ResponseStatusCode
	event.ResponseBody = outcome.ResponseBody
	event.RetryCount = outcome.RetryCount
	event.DeliveredAt = outcome.DeliveredAt
	event.NextRetryAt = outcome.NextRetryAt
	event.ModifiedAt = outcome.ModifiedAt
	event.LeaseUntil = nil
	s.webhookEvents[event.ID] = event
	return nil
}

// ListWebhookEvents implements repository.WebhookRepository.
func (s *Store) ListWebhookEvents(_ context.Context, scope tenant.Scope, webhookID int64, limit int) ([]domain.WebhookEvent, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WebhookEvent, 0)
	for _, event := range s.webhookEvents {
		if event.WebhookID == webhookID && scope.Allows(event.TenantID) {
			out = append(out, event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListDueWebhookEvents implements repository.WebhookRepository.
func (s *Store) ListDueWebhookEvents(_ context.Context, scope tenant.Scope, now, staleBefore time.Time, limit int) ([]domain.WebhookEvent, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WebhookEvent, 0)
	for _, event := range s.webhookEvents {
		if !scope.Allows(event.TenantID) {
			continue
		}
		if event.LeaseUntil != nil && event.LeaseUntil.After(now) {
			continue
		}
		switch event.DeliveryStatus {
		case domain.DeliveryFailed:
			if event.NextRetryAt == nil || event.NextRetryAt.After(now) {
				continue
			}
		case domain.DeliveryPending:
			if !event.CreatedAt.Before(staleBefore) {
				continue
			}
		default:
			continue
		}
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
