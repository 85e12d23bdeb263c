package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jrmce/VersionLifecycle-sub000/internal/domain"
	"github.com/jrmce/VersionLifecycle-sub000/internal/repository"
	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
)

const defaultListLimit = 50

// Repository implements persistence interfaces on PostgreSQL.
//
// Tenant filtering is expressed as ($n::bigint IS NULL OR tenant_id = $n)
// bound to scope.Filter(), so cross-tenant scopes pass NULL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var _ repository.Store = (*Repository)(nil)

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503", "23514", "22P02", "23505":
			return fmt.Errorf("%w: %s", repository.ErrInvalidArgument, pgErr.Message)
		}
	}
	return err
}

// GetApplication implements repository.ApplicationRepository.
func (r *Repository) GetApplication(ctx context.Context, scope tenant.Scope, applicationID int64) (*domain.Application, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	const query = `SELECT id, tenant_id, name, COALESCE(created_by, 0), created_at, modified_at
		FROM applications WHERE id = $1 AND ($2::bigint IS NULL OR tenant_id = $2)`
	var app domain.Application
	err := r.pool.QueryRow(ctx, query, applicationID, scope.Filter()).
		Scan(&app.ID, &app.TenantID, &app.Name, &app.CreatedBy, &app.CreatedAt, &app.ModifiedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &app, nil
}

// GetVersion implements repository.ApplicationRepository.
func (r *Repository) GetVersion(ctx context.Context, scope tenant.Scope, versionID int64) (*domain.Version, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	const query = `SELECT id, tenant_id, application_id, version_number, COALESCE(created_by, 0), created_at, modified_at
		FROM versions WHERE id = $1 AND ($2::bigint IS NULL OR tenant_id = $2)`
	var v domain.Version
	err := r.pool.QueryRow(ctx, query, versionID, scope.Filter()).
		Scan(&v.ID, &v.TenantID, &v.ApplicationID, &v.Number, &v.CreatedBy, &v.CreatedAt, &v.ModifiedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

// GetEnvironment implements repository.EnvironmentRepository.
func (r *Repository) GetEnvironment(ctx context.Context, scope tenant.Scope, environmentID int64) (*domain.Environment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	const query = `SELECT id, tenant_id, name, sort_order, COALESCE(created_by, 0), created_at, modified_at
		FROM environments WHERE id = $1 AND ($2::bigint IS NULL OR tenant_id = $2)`
	var env domain.Environment
	err := r.pool.QueryRow(ctx, query, environmentID, scope.Filter()).
		Scan(&env.ID, &env.TenantID, &env.Name, &env.Order, &env.CreatedBy, &env.CreatedAt, &env.ModifiedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &env, nil
}

// ListEnvironments implements repository.EnvironmentRepository.
func (r *Repository) ListEnvironments(ctx context.Context, scope tenant.Scope) ([]domain.Environment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	const query = `SELECT id, tenant_id, name, sort_order, COALESCE(created_by, 0), created_at, modified_at
		FROM environments WHERE ($1::bigint IS NULL OR tenant_id = $1)
		ORDER BY sort_order ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, scope.Filter())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	envs := make([]domain.Environment, 0)
	for rows.Next() {
		var env domain.Environment
		if err := rows.Scan(&env.ID, &env.TenantID, &env.Name, &env.Order, &env.CreatedBy, &env.CreatedAt, &env.ModifiedAt); err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

const deploymentColumns = `id, external_id::text, tenant_id, application_id, version_id, environment_id, status,
	deployed_at, completed_at, duration_ms, notes, is_deleted, COALESCE(created_by, 0), created_at, modified_at`

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var (
		d      domain.Deployment
		status string
	)
	if err := row.Scan(&d.ID, &d.ExternalID, &d.TenantID, &d.ApplicationID, &d.VersionID, &d.EnvironmentID, &status,
		&d.DeployedAt, &d.CompletedAt, &d.DurationMs, &d.Notes, &d.IsDeleted, &d.CreatedBy, &d.CreatedAt, &d.ModifiedAt); err != nil {
		return nil, err
	}
	d.Status = domain.DeploymentStatus(status)
	return &d, nil
}

// CreateDeployment implements repository.DeploymentRepository.
func (r *Repository) CreateDeployment(ctx context.Context, scope tenant.Scope, deployment *domain.Deployment, event domain.DeploymentEvent) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if deployment == nil {
		return fmt.Errorf("%w: deployment required", repository.ErrInvalidArgument)
	}
	if !scope.CrossTenant {
		deployment.TenantID = scope.TenantID
	}
	externalID := uuid.New()
	if deployment.ExternalID != "" {
		parsed, err := uuid.Parse(deployment.ExternalID)
		if err != nil {
			return fmt.Errorf("%w: external id", repository.ErrInvalidArgument)
		}
		externalID = parsed
	}
	if deployment.CreatedAt.IsZero() {
		deployment.CreatedAt = time.Now().UTC()
	}
	if deployment.ModifiedAt.IsZero() {
		deployment.ModifiedAt = deployment.CreatedAt
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insert = `INSERT INTO deployments (external_id, tenant_id, application_id, version_id, environment_id, status,
			deployed_at, completed_at, duration_ms, notes, created_by, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`
	err = tx.QueryRow(ctx, insert,
		externalID,
		deployment.TenantID,
		deployment.ApplicationID,
		deployment.VersionID,
		deployment.EnvironmentID,
		string(deployment.Status),
		deployment.DeployedAt,
		deployment.CompletedAt,
		deployment.DurationMs,
		deployment.Notes,
		scope.UserID,
		deployment.CreatedAt,
		deployment.ModifiedAt,
	).Scan(&deployment.ID)
	if err != nil {
		return translate(err)
	}
	if err := insertEvent(ctx, tx, scope, deployment.TenantID, deployment.ID, event, deployment.CreatedAt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	deployment.ExternalID = externalID.String()
	deployment.CreatedBy = scope.UserID
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, scope tenant.Scope, tenantID, deploymentID int64, event domain.DeploymentEvent, at time.Time) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = at
	}
	const query = `INSERT INTO deployment_events (tenant_id, deployment_id, event_type, message, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := tx.Exec(ctx, query, tenantID, deploymentID, event.EventType, event.Message, scope.UserID, event.CreatedAt)
	return translate(err)
}

// GetDeployment implements repository.DeploymentRepository.
func (r *Repository) GetDeployment(ctx context.Context, scope tenant.Scope, externalID string) (*domain.Deployment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(externalID)
	if err != nil {
		return nil, repository.ErrNotFound
	}
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE external_id = $1 AND ($2::bigint IS NULL OR tenant_id = $2) AND NOT is_deleted`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, id, scope.Filter()))
	if err != nil {
		return nil, translate(err)
	}
	return d, nil
}

// ListDeployments implements repository.DeploymentRepository.
func (r *Repository) ListDeployments(ctx context.Context, scope tenant.Scope, filter domain.DeploymentFilter) ([]domain.Deployment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE ($1::bigint IS NULL OR tenant_id = $1)
			AND NOT is_deleted
			AND ($2::bigint = 0 OR application_id = $2)
			AND ($3::bigint = 0 OR environment_id = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`
	rows, err := r.pool.Query(ctx, query, scope.Filter(), filter.ApplicationID, filter.EnvironmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

// TransitionDeployment implements repository.DeploymentRepository.
func (r *Repository) TransitionDeployment(ctx context.Context, scope tenant.Scope, transition domain.DeploymentTransition, event domain.DeploymentEvent) (*domain.Deployment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `UPDATE deployments
		SET status = $4,
			notes = COALESCE($5, notes),
			deployed_at = $6,
			completed_at = $7,
			duration_ms = $8,
			modified_at = $9
		WHERE id = $1 AND ($2::bigint IS NULL OR tenant_id = $2) AND status = $3 AND NOT is_deleted
		RETURNING ` + deploymentColumns
	d, err := scanDeployment(tx.QueryRow(ctx, query,
		transition.DeploymentID,
		scope.Filter(),
		string(transition.From),
		string(transition.To),
		transition.Notes,
		transition.DeployedAt,
		transition.CompletedAt,
		transition.DurationMs,
		transition.ModifiedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.explainMissedTransition(ctx, tx, scope, transition)
	}
	if err != nil {
		return nil, translate(err)
	}
	if err := insertEvent(ctx, tx, scope, d.TenantID, d.ID, event, transition.ModifiedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// explainMissedTransition distinguishes a missing row from a concurrent status change.
func (r *Repository) explainMissedTransition(ctx context.Context, tx pgx.Tx, scope tenant.Scope, transition domain.DeploymentTransition) error {
	const query = `SELECT status FROM deployments
		WHERE id = $1 AND ($2::bigint IS NULL OR tenant_id = $2) AND NOT is_deleted`
	var current string
	if err := tx.QueryRow(ctx, query, transition.DeploymentID, scope.Filter()).Scan(&current); err != nil {
		return translate(err)
	}
	return fmt.Errorf("%w: deployment is %s, expected %s", repository.ErrInvalidState, current, transition.From)
}

// SoftDeleteDeployment implements repository.DeploymentRepository.
func (r *Repository) SoftDeleteDeployment(ctx context.Context, scope tenant.Scope, deploymentID int64, event domain.DeploymentEvent) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const query = `UPDATE deployments SET is_deleted = TRUE, modified_at = NOW()
		WHERE id = $1 AND ($2::bigint IS NULL OR tenant_id = $2) AND NOT is_deleted
		RETURNING tenant_id, modified_at`
	var (
		tenantID   int64
		modifiedAt time.Time
	)
	if err := tx.QueryRow(ctx, query, deploymentID, scope.Filter()).Scan(&tenantID, &modifiedAt); err != nil {
		return translate(err)
	}
	if err := insertEvent(ctx, tx, scope, tenantID, deploymentID, event, modifiedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListDeploymentEvents implements repository.DeploymentRepository.
func (r *Repository) ListDeploymentEvents(ctx context.Context, scope tenant.Scope, deploymentID int64) ([]domain.DeploymentEvent, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	const query = `SELECT id, tenant_id, deployment_id, event_type, message, COALESCE(created_by, 0), created_at
		FROM deployment_events
		WHERE deployment_id = $1 AND ($2::bigint IS NULL OR tenant_id = $2)
		ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, deploymentID, scope.Filter())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.DeploymentEvent, 0)
	for rows.Next() {
		var e domain.DeploymentEvent
		if err := rows.Scan(&e.ID, &e.TenantID, &e.DeploymentID, &e.EventType, &e.Message, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
