package repository

import (
	"context"
	"time"

	"github.com/jrmce/VersionLifecycle-sub000/internal/domain"
	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
)

// Every method takes the caller's tenant.Scope. Rows owned by other tenants
// behave as if they do not exist unless the scope is cross-tenant, and
// creates stamp tenant_id and created_by from the scope.

// ApplicationRepository reads applications and their versions.
type ApplicationRepository interface {
	GetApplication(ctx context.Context, scope tenant.Scope, applicationID int64) (*domain.Application, error)
	GetVersion(ctx context.Context, scope tenant.Scope, versionID int64) (*domain.Version, error)
}

// EnvironmentRepository reads deployment targets.
type EnvironmentRepository interface {
	GetEnvironment(ctx context.Context, scope tenant.Scope, environmentID int64) (*domain.Environment, error)
	// ListEnvironments returns the scope's environments ordered by Order ascending.
	ListEnvironments(ctx context.Context, scope tenant.Scope) ([]domain.Environment, error)
}

// DeploymentRepository stores deployments and their audit trail.
type DeploymentRepository interface {
	// CreateDeployment inserts the deployment and its first event atomically.
	CreateDeployment(ctx context.Context, scope tenant.Scope, deployment *domain.Deployment, event domain.DeploymentEvent) error
	GetDeployment(ctx context.Context, scope tenant.Scope, externalID string) (*domain.Deployment, error)
	ListDeployments(ctx context.Context, scope tenant.Scope, filter domain.DeploymentFilter) ([]domain.Deployment, error)
	// TransitionDeployment applies the transition only while the row still has
	// status transition.From, appending event in the same unit of work. It
	// returns ErrInvalidState when the row moved underneath the caller.
	TransitionDeployment(ctx context.Context, scope tenant.Scope, transition domain.DeploymentTransition, event domain.DeploymentEvent) (*domain.Deployment, error)
	SoftDeleteDeployment(ctx context.Context, scope tenant.Scope, deploymentID int64, event domain.DeploymentEvent) error
	ListDeploymentEvents(ctx context.Context, scope tenant.Scope, deploymentID int64) ([]domain.DeploymentEvent, error)
}

// WebhookRepository stores webhook subscriptions and the delivery ledger.
type WebhookRepository interface {
	CreateWebhook(ctx context.Context, scope tenant.Scope, webhook *domain.Webhook) error
	// GetWebhook returns the webhook whether or not it is active.
	GetWebhook(ctx context.Context, scope tenant.Scope, webhookID int64) (*domain.Webhook, error)
	ListActiveWebhooks(ctx context.Context, scope tenant.Scope, applicationID int64) ([]domain.Webhook, error)
	DeactivateWebhook(ctx context.Context, scope tenant.Scope, webhookID int64) error

	CreateWebhookEvent(ctx context.Context, scope tenant.Scope, event *domain.WebhookEvent) error
	GetWebhookEvent(ctx context.Context, scope tenant.Scope, webhookEventID int64) (*domain.WebhookEvent, error)
	// ClaimWebhookEvent takes the single-flight lease on a delivery and returns
	// the row as it stood when the lease was taken. It returns nil when the row
	// is Sent, another attempt holds an unexpired lease, or, unless claim.Force
	// is set, the row is Failed without a due retry.
	ClaimWebhookEvent(ctx context.Context, scope tenant.Scope, webhookEventID int64, claim Claim) (*domain.WebhookEvent, error)
	// RecordDeliveryOutcome persists an attempt result and releases the lease.
	RecordDeliveryOutcome(ctx context.Context, scope tenant.Scope, outcome domain.DeliveryOutcome) error
	ListWebhookEvents(ctx context.Context, scope tenant.Scope, webhookID int64, limit int) ([]domain.WebhookEvent, error)
	// ListDueWebhookEvents returns unleased Failed rows whose retry is due and
	// Pending rows created before staleBefore, oldest first.
	ListDueWebhookEvents(ctx context.Context, scope tenant.Scope, now, staleBefore time.Time, limit int) ([]domain.WebhookEvent, error)
}

// Claim is a lease request on a delivery ledger row.
type Claim struct {
	Now        time.Time
	LeaseUntil time.Time
	// Force claims a Failed row before its next retry is due.
	Force bool
}

// Store bundles every repository the API needs.
type Store interface {
	ApplicationRepository
	EnvironmentRepository
	DeploymentRepository
	WebhookRepository
	Ping(ctx context.Context) error
}
