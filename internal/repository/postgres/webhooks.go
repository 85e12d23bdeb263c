package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jrmce/VersionLifecycle-sub000/internal/domain"
	"github.com/jrmce/VersionLifecycle-sub000/internal/repository"
	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
)

const webhookColumns = `id, tenant_id, application_id, url, secret, events, is_active, max_retries,
	COALESCE(created_by, 0), created_at, modified_at`

func scanWebhook(row pgx.Row) (*domain.Webhook, error) {
	var w domain.Webhook
	if err := row.Scan(&w.ID, &w.TenantID, &w.ApplicationID, &w.URL, &w.Secret, &w.Events, &w.IsActive, &w.MaxRetries,
		&w.CreatedBy, &w.CreatedAt, &w.ModifiedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

const webhookEventColumns = `id, tenant_id, webhook_id, event_type, payload, delivery_status, response_status_code,
	response_body, retry_count, delivered_at, next_retry_at, lease_until, created_at, modified_at`

func scanWebhookEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var (
		e      domain.WebhookEvent
		status string
	)
	if err := row.Scan(&e.ID, &e.TenantID, &e.WebhookID, &e.EventType, &e.Payload, &status, &e.ResponseStatusCode,
		&e.ResponseBody, &e.RetryCount, &e.DeliveredAt, &e.NextRetryAt, &e.LeaseUntil, &e.CreatedAt, &e.ModifiedAt); err != nil {
		return nil, err
	}
	e.DeliveryStatus = domain.DeliveryStatus(status)
	return &e, nil
}

// CreateWebhook implements repository.WebhookRepository.
func (r *Repository) CreateWebhook(ctx context.Context, scope tenant.Scope, webhook *domain.Webhook) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if webhook == nil {
		return fmt.Errorf("%w: webhook required", repository.ErrInvalidArgument)
	}
	if !scope.CrossTenant {
		webhook.TenantID = scope.TenantID
	}
	const query = `INSERT INTO webhooks (tenant_id, application_id, url, secret, events, is_active, max_retries, created_by, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, modified_at`
	err := r.pool.QueryRow(ctx, query,
		webhook.TenantID,
		webhook.ApplicationID,
		webhook.URL,
		webhook.Secret,
		webhook.Events,
		webhook.IsActive,
		webhook.MaxRetries,
		scope.UserID,
	).Scan(&webhook.ID, &webhook.CreatedAt, &webhook.ModifiedAt)
	if err != nil {
		return translate(err)
	}
	webhook.CreatedBy = scope.UserID
	return nil
}

// GetWebhook implements repository.WebhookRepository.
func (r *Repository) GetWebhook(ctx context.Context, scope tenant.Scope, webhookID int64) (*domain.Webhook, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = $1 AND ($2::bigint IS NULL OR tenant_id = $2)`
	w, err := scanWebhook(r.pool.QueryRow(ctx, query, webhookID, scope.Filter()))
	if err != nil {
		return nil, translate(err)
	}
	return w, nil
}

// ListActiveWebhooks implements repository.WebhookRepository.
func (r *Repository) ListActiveWebhooks(ctx context.Context, scope tenant.Scope, applicationID int64) ([]domain.Webhook, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	query := `SELECT ` + webhookColumns + ` FROM webhooks
		WHERE application_id = $1 AND ($2::bigint IS NULL OR tenant_id = $2) AND is_active
		ORDER BY id`
	rows, err := r.pool.Query(ctx, query, applicationID, scope.Filter())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hooks := make([]domain.Webhook, 0)
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, *w)
	}
	return hooks, rows.Err()
}

// DeactivateWebhook implements repository.WebhookRepository.
func (r *Repository) DeactivateWebhook(ctx context.Context, scope tenant.Scope, webhookID int64) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	const query = `UPDATE webhooks SET is_active = FALSE, modified_at = NOW()
		WHERE id = $1 AND ($2::bigint IS NULL OR tenant_id = $2)`
	tag, err := r.pool.Exec(ctx, query, webhookID, scope.Filter())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateWebhookEvent implements repository.WebhookRepository. The row inherits
// the tenant of its webhook.
func (r *Repository) CreateWebhookEvent(ctx context.Context, scope tenant.Scope, event *domain.WebhookEvent) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("%w: webhook event required", repository.ErrInvalidArgument)
	}
	if event.DeliveryStatus == "" {
		event.DeliveryStatus = domain.DeliveryPending
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO webhook_events (tenant_id, webhook_id, event_type, payload, delivery_status, retry_count, created_at, modified_at)
		SELECT w.tenant_id, w.id, $3, $4, $5, $6, $7, $7
		FROM webhooks w
		WHERE w.id = $1 AND ($2::bigint IS NULL OR w.tenant_id = $2)
		RETURNING id, tenant_id, modified_at`
	err := r.pool.QueryRow(ctx, query,
		event.WebhookID,
		scope.Filter(),
		event.EventType,
		event.Payload,
		string(event.DeliveryStatus),
		event.RetryCount,
		event.CreatedAt,
	).Scan(&event.ID, &event.TenantID, &event.ModifiedAt)
	if err != nil {
		err = translate(err)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: unknown webhook", repository.ErrInvalidArgument)
		}
		return err
	}
	return nil
}

// GetWebhookEvent implements repository.WebhookRepository.
func (r *Repository) GetWebhookEvent(ctx context.Context, scope tenant.Scope, webhookEventID int64) (*domain.WebhookEvent, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE id = $1 AND ($2::bigint IS NULL OR tenant_id = $2)`
	e, err := scanWebhookEvent(r.pool.QueryRow(ctx, query, webhookEventID, scope.Filter()))
	if err != nil {
		return nil, translate(err)
	}
	return e, nil
}

// ClaimWebhookEvent implements repository.WebhookRepository. The lease is
// taken only while the stored row is still claimable, so an attempt acting
// on an earlier read cannot resend a row another attempt already finished.
func (r *Repository) ClaimWebhookEvent(ctx context.Context, scope tenant.Scope, webhookEventID int64, claim repository.Claim) (*domain.WebhookEvent, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	query := `UPDATE webhook_events SET lease_until = $4
		WHERE id = $1 AND ($2::bigint IS NULL OR tenant_id = $2)
			AND delivery_status <> 'Sent'
			AND (lease_until IS NULL OR lease_until <= $3)
			AND ($5::boolean
				OR delivery_status = 'Pending'
				OR (next_retry_at IS NOT NULL AND next_retry_at <= $3))
		RETURNING ` + webhookEventColumns
	e, err := scanWebhookEvent(r.pool.QueryRow(ctx, query, webhookEventID, scope.Filter(), claim.Now, claim.LeaseUntil, claim.Force))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	const exists = `SELECT 1 FROM webhook_events WHERE id = $1 AND ($2::bigint IS NULL OR tenant_id = $2)`
	var one int
	if err := r.pool.QueryRow(ctx, exists, webhookEventID, scope.Filter()).Scan(&one); err != nil {
		return nil, translate(err)
	}
	return nil, nil
}

// RecordDeliveryOutcome implements repository.WebhookRepository.
func (r *Repository) RecordDeliveryOutcome(ctx context.Context, scope tenant.Scope, outcome domain.DeliveryOutcome) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	const query = `UPDATE webhook_events
		SET delivery_status = $3,
			response_status_code = $4,
			response_body = $5,
			retry_count = $6,
			delivered_at = $7,
			next_retry_at = $8,
			modified_at = $9,
			lease_until = NULL
		WHERE id = $1 AND ($2::bigint IS NULL OR tenant_id = $2)`
	tag, err := r.pool.Exec(ctx, query,
		outcome.WebhookEventID,
		scope.Filter(),
		string(outcome.Status),
		outcome.ResponseStatusCode,
		outcome.ResponseBody,
		outcome.RetryCount,
		outcome.DeliveredAt,
		outcome.NextRetryAt,
		outcome.ModifiedAt,
	)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListWebhookEvents implements repository.WebhookRepository.
func (r *Repository) ListWebhookEvents(ctx context.Context, scope tenant.Scope, webhookID int64, limit int) ([]domain.WebhookEvent, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events
		WHERE webhook_id = $1 AND ($2::bigint IS NULL OR tenant_id = $2)
		ORDER BY id DESC LIMIT $3`
	return r.queryWebhookEvents(ctx, query, webhookID, scope.Filter(), limit)
}

// ListDueWebhookEvents implements repository.WebhookRepository.
func (r *Repository) ListDueWebhookEvents(ctx context.Context, scope tenant.Scope, now, staleBefore time.Time, limit int) ([]domain.WebhookEvent, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events
		WHERE ($1::bigint IS NULL OR tenant_id = $1)
			AND (lease_until IS NULL OR lease_until <= $2)
			AND (
				(delivery_status = 'Failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $2)
				OR (delivery_status = 'Pending' AND created_at < $3)
			)
		ORDER BY id ASC
		LIMIT $4`
	return r.queryWebhookEvents(ctx, query, scope.Filter(), now, staleBefore, limit)
}

func (r *Repository) queryWebhookEvents(ctx context.Context, query string, args ...any) ([]domain.WebhookEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.WebhookEvent, 0)
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}
