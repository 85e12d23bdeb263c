package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrmce/VersionLifecycle-sub000/internal/app/migrate"
	"github.com/jrmce/VersionLifecycle-sub000/internal/domain"
	"github.com/jrmce/VersionLifecycle-sub000/internal/repository"
	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
	"github.com/jrmce/VersionLifecycle-sub000/pkg/logger"
)

// integrationRepo connects to DATABASE_URL and applies the embedded schema.
func integrationRepo(t *testing.T) (*Repository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	runner, err := migrate.New(pool, "", logger.Discard())
	require.NoError(t, err)
	require.NoError(t, runner.Ensure(ctx))
	return New(pool), pool
}

type tenantRows struct {
	tenantID  int64
	appID     int64
	versionID int64
	envID     int64
	webhookID int64
}

// seedTenant inserts a fresh tenant so tests sharing a database never collide.
func seedTenant(t *testing.T, pool *pgxpool.Pool) tenantRows {
	t.Helper()
	ctx := context.Background()
	var rows tenantRows
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO tenants (name) VALUES ($1) RETURNING id`, "it-"+uuid.NewString()).Scan(&rows.tenantID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO applications (tenant_id, name) VALUES ($1, 'api') RETURNING id`, rows.tenantID).Scan(&rows.appID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO versions (tenant_id, application_id, version_number) VALUES ($1, $2, '1.0.0') RETURNING id`,
		rows.tenantID, rows.appID).Scan(&rows.versionID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO environments (tenant_id, name, sort_order) VALUES ($1, 'staging', 1) RETURNING id`,
		rows.tenantID).Scan(&rows.envID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO webhooks (tenant_id, application_id, url, secret, events, max_retries)
		VALUES ($1, $2, 'http://receiver.invalid', $3, '*', 3) RETURNING id`,
		rows.tenantID, rows.appID, []byte("sealed")).Scan(&rows.webhookID))
	return rows
}

func createPending(t *testing.T, repo *Repository, scope tenant.Scope, rows tenantRows) domain.Deployment {
	t.Helper()
	d := domain.Deployment{
		ApplicationID: rows.appID,
		VersionID:     rows.versionID,
		EnvironmentID: rows.envID,
		Status:        domain.StatusPending,
	}
	require.NoError(t, repo.CreateDeployment(context.Background(), scope, &d, domain.DeploymentEvent{EventType: "deployment.created"}))
	return d
}

func TestPostgresTenantFilter(t *testing.T) {
	repo, pool := integrationRepo(t)
	ctx := context.Background()
	a := seedTenant(t, pool)
	b := seedTenant(t, pool)
	owner := tenant.New(a.tenantID, 1)
	stranger := tenant.New(b.tenantID, 2)

	d := createPending(t, repo, owner, a)
	assert.Equal(t, a.tenantID, d.TenantID)

	got, err := repo.GetDeployment(ctx, owner, d.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	_, err = repo.GetDeployment(ctx, stranger, d.ExternalID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.GetApplication(ctx, stranger, a.appID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.GetWebhook(ctx, stranger, a.webhookID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	listed, err := repo.ListDeployments(ctx, stranger, domain.DeploymentFilter{ApplicationID: a.appID})
	require.NoError(t, err)
	assert.Empty(t, listed)

	operator, err := repo.GetDeployment(ctx, tenant.Operator(9), d.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, a.tenantID, operator.TenantID)

	_, err = repo.GetDeployment(ctx, tenant.Scope{}, d.ExternalID)
	assert.ErrorIs(t, err, tenant.ErrMissingTenant)
}

func TestPostgresTransitionIsConditional(t *testing.T) {
	repo, pool := integrationRepo(t)
	ctx := context.Background()
	a := seedTenant(t, pool)
	b := seedTenant(t, pool)
	owner := tenant.New(a.tenantID, 1)
	d := createPending(t, repo, owner, a)

	now := time.Now().UTC().Truncate(time.Microsecond)
	notes := "rolling out"
	move := domain.DeploymentTransition{
		DeploymentID: d.ID,
		From:         domain.StatusPending,
		To:           domain.StatusInProgress,
		Notes:        &notes,
		DeployedAt:   &now,
		ModifiedAt:   now,
	}
	event := domain.DeploymentEvent{EventType: "deployment.inprogress"}

	_, err := repo.TransitionDeployment(ctx, tenant.New(b.tenantID, 2), move, event)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	moved, err := repo.TransitionDeployment(ctx, owner, move, event)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, moved.Status)
	assert.Equal(t, "rolling out", moved.Notes)
	require.NotNil(t, moved.DeployedAt)

	_, err = repo.TransitionDeployment(ctx, owner, move, event)
	assert.ErrorIs(t, err, repository.ErrInvalidState, "row already left Pending")

	events, err := repo.ListDeploymentEvents(ctx, owner, d.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "deployment.created", events[0].EventType)
	assert.Equal(t, "deployment.inprogress", events[1].EventType)

	require.NoError(t, repo.SoftDeleteDeployment(ctx, owner, d.ID, domain.DeploymentEvent{EventType: "deployment.deleted"}))
	_, err = repo.GetDeployment(ctx, owner, d.ExternalID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPostgresClaimWebhookEvent(t *testing.T) {
	repo, pool := integrationRepo(t)
	ctx := context.Background()
	a := seedTenant(t, pool)
	b := seedTenant(t, pool)
	owner := tenant.New(a.tenantID, 1)

	event := domain.WebhookEvent{WebhookID: a.webhookID, EventType: "deployment.failed", Payload: []byte(`{}`)}
	require.NoError(t, repo.CreateWebhookEvent(ctx, owner, &event))
	assert.Equal(t, a.tenantID, event.TenantID)

	now := time.Now().UTC().Truncate(time.Microsecond)
	lease := repository.Claim{Now: now, LeaseUntil: now.Add(time.Minute)}

	_, err := repo.ClaimWebhookEvent(ctx, tenant.New(b.tenantID, 2), event.ID, lease)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	claimed, err := repo.ClaimWebhookEvent(ctx, owner, event.ID, lease)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, domain.DeliveryPending, claimed.DeliveryStatus)
	require.NotNil(t, claimed.LeaseUntil)

	held, err := repo.ClaimWebhookEvent(ctx, owner, event.ID, lease)
	require.NoError(t, err)
	assert.Nil(t, held, "lease still held")

	next := now.Add(2 * time.Minute)
	code := 500
	require.NoError(t, repo.RecordDeliveryOutcome(ctx, owner, domain.DeliveryOutcome{
		WebhookEventID: event.ID, Status: domain.DeliveryFailed, ResponseStatusCode: &code, RetryCount: 1, NextRetryAt: &next, ModifiedAt: now,
	}))
	early, err := repo.ClaimWebhookEvent(ctx, owner, event.ID, lease)
	require.NoError(t, err)
	assert.Nil(t, early, "retry not due yet")

	due, err := repo.ListDueWebhookEvents(ctx, owner, next, now.Add(-time.Hour), 100)
	require.NoError(t, err)
	found := false
	for _, row := range due {
		found = found || row.ID == event.ID
	}
	assert.True(t, found)

	retry, err := repo.ClaimWebhookEvent(ctx, owner, event.ID, repository.Claim{Now: next, LeaseUntil: next.Add(time.Minute)})
	require.NoError(t, err)
	require.NotNil(t, retry)
	assert.Equal(t, 1, retry.RetryCount)

	delivered := next
	ok := 200
	require.NoError(t, repo.RecordDeliveryOutcome(ctx, owner, domain.DeliveryOutcome{
		WebhookEventID: event.ID, Status: domain.DeliverySent, ResponseStatusCode: &ok, RetryCount: 1, DeliveredAt: &delivered, ModifiedAt: next,
	}))
	sent, err := repo.ClaimWebhookEvent(ctx, owner, event.ID, repository.Claim{Now: next.Add(time.Hour), LeaseUntil: next.Add(2 * time.Hour), Force: true})
	require.NoError(t, err)
	assert.Nil(t, sent, "sent rows are never claimed")

	_, err = repo.ClaimWebhookEvent(ctx, owner, -1, lease)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
