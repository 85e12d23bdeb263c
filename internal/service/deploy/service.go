package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/jrmce/VersionLifecycle-sub000/internal/domain"
	"github.com/jrmce/VersionLifecycle-sub000/internal/repository"
	"github.com/jrmce/VersionLifecycle-sub000/internal/service/events"
	"github.com/jrmce/VersionLifecycle-sub000/internal/service/webhook"
	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
)

// Event types recorded in the audit trail beyond the per-status ones.
const (
	EventCreated  = "deployment.created"
	EventPromoted = "deployment.promoted"
	EventDeleted  = "deployment.deleted"
)

const maxListLimit = 200

// DeliveryQueue accepts webhook fan-out work without blocking.
type DeliveryQueue interface {
	Submit(task webhook.Task) error
}

// Publisher streams deployment events to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, envelope events.Envelope)
}

// Service drives the deployment lifecycle.
type Service struct {
	apps        repository.ApplicationRepository
	envs        repository.EnvironmentRepository
	deployments repository.DeploymentRepository
	queue       DeliveryQueue
	publisher   Publisher
	logger      *slog.Logger
	now         func() time.Time
}

// New returns a deployment service. queue and publisher may be nil.
func New(apps repository.ApplicationRepository, envs repository.EnvironmentRepository, deployments repository.DeploymentRepository, queue DeliveryQueue, publisher Publisher, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		apps:        apps,
		envs:        envs,
		deployments: deployments,
		queue:       queue,
		publisher:   publisher,
		logger:      logger.With("component", "deployments"),
		now:         time.Now,
	}
}

// CreateInput describes a new deployment request.
type CreateInput struct {
	ApplicationID int64
	VersionID     int64
	EnvironmentID int64
	Notes         string
}

// CreatePending records a Pending deployment of a version into an environment.
// Repeat deployments of the same version are allowed.
func (s Service) CreatePending(ctx context.Context, scope tenant.Scope, in CreateInput) (*domain.Deployment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	app, err := s.apps.GetApplication(ctx, scope, in.ApplicationID)
	if err != nil {
		return nil, fmt.Errorf("application %d: %w", in.ApplicationID, err)
	}
	version, err := s.apps.GetVersion(ctx, scope, in.VersionID)
	if err != nil {
		return nil, fmt.Errorf("version %d: %w", in.VersionID, err)
	}
	if version.ApplicationID != app.ID {
		return nil, fmt.Errorf("%w: version %d does not belong to application %d", repository.ErrInvalidArgument, version.ID, app.ID)
	}
	env, err := s.envs.GetEnvironment(ctx, scope, in.EnvironmentID)
	if err != nil {
		return nil, fmt.Errorf("environment %d: %w", in.EnvironmentID, err)
	}
	if version.TenantID != app.TenantID || env.TenantID != app.TenantID {
		return nil, fmt.Errorf("%w: application, version and environment belong to different tenants", repository.ErrInvalidArgument)
	}

	now := s.now().UTC()
	deployment := &domain.Deployment{
		TenantID:      app.TenantID,
		ApplicationID: app.ID,
		VersionID:     version.ID,
		EnvironmentID: env.ID,
		Status:        domain.StatusPending,
		Notes:         strings.TrimSpace(in.Notes),
		CreatedAt:     now,
		ModifiedAt:    now,
	}
	message := fmt.Sprintf("version %s queued for %s", version.Number, env.Name)
	if err := s.deployments.CreateDeployment(ctx, scope, deployment, domain.DeploymentEvent{
		EventType: EventCreated,
		Message:   message,
		CreatedAt: now,
	}); err != nil {
		s.logger.Error("failed to create deployment", "application_id", app.ID, "environment_id", env.ID, "tenant_id", app.TenantID, "error", err)
		return nil, err
	}
	s.logger.Info("deployment created", "deployment_id", deployment.ExternalID, "application_id", app.ID, "version_id", version.ID, "environment_id", env.ID)
	s.notify(ctx, scope, *deployment, EventCreated, message, "")
	return deployment, nil
}

// Confirm moves a Pending deployment to InProgress and stamps deployedAt.
// A non-nil notes overwrites the stored notes.
func (s Service) Confirm(ctx context.Context, scope tenant.Scope, deploymentID string, notes *string) (*domain.Deployment, error) {
	current, err := s.Get(ctx, scope, deploymentID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.StatusPending {
		return nil, &TransitionError{From: current.Status, To: domain.StatusInProgress, Reason: "only Pending deployments can be confirmed"}
	}
	now := s.now().UTC()
	return s.apply(ctx, scope, current, domain.DeploymentTransition{
		DeploymentID: current.ID,
		From:         current.Status,
		To:           domain.StatusInProgress,
		Notes:        trimmed(notes),
		DeployedAt:   &now,
		ModifiedAt:   now,
	}, "deployment confirmed")
}

// StatusInput requests a status change.
type StatusInput struct {
	Status     domain.DeploymentStatus
	Notes      *string
	DurationMs *int64
}

// UpdateStatus applies a validated status change.
func (s Service) UpdateStatus(ctx context.Context, scope tenant.Scope, deploymentID string, in StatusInput) (*domain.Deployment, error) {
	if in.DurationMs != nil && *in.DurationMs < 0 {
		return nil, fmt.Errorf("%w: duration must not be negative", repository.ErrInvalidArgument)
	}
	current, err := s.Get(ctx, scope, deploymentID)
	if err != nil {
		return nil, err
	}
	next, err := Transition(current.Status, in.Status)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	transition := domain.DeploymentTransition{
		DeploymentID: current.ID,
		From:         current.Status,
		To:           next,
		Notes:        trimmed(in.Notes),
		DeployedAt:   current.DeployedAt,
		ModifiedAt:   now,
	}
	if next.Terminal() {
		transition.CompletedAt = &now
		transition.DurationMs = in.DurationMs
		if transition.DurationMs == nil && current.DeployedAt != nil {
			elapsed := now.Sub(*current.DeployedAt).Milliseconds()
			transition.DurationMs = &elapsed
		}
	} else if transition.DeployedAt == nil {
		transition.DeployedAt = &now
	}
	return s.apply(ctx, scope, current, transition, fmt.Sprintf("status changed from %s to %s", current.Status, next))
}

func (s Service) apply(ctx context.Context, scope tenant.Scope, current *domain.Deployment, transition domain.DeploymentTransition, message string) (*domain.Deployment, error) {
	eventType := transition.To.EventType()
	updated, err := s.deployments.TransitionDeployment(ctx, scope, transition, domain.DeploymentEvent{
		EventType: eventType,
		Message:   message,
		CreatedAt: transition.ModifiedAt,
	})
	if err != nil {
		if !errors.Is(err, repository.ErrInvalidState) && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("failed to transition deployment", "deployment_id", current.ExternalID, "from", transition.From, "to", transition.To, "error", err)
		}
		return nil, err
	}
	s.logger.Info("deployment transitioned", "deployment_id", updated.ExternalID, "from", transition.From, "to", transition.To)
	s.notify(ctx, scope, *updated, eventType, message, "")
	return updated, nil
}

// Promote starts a deployment of a successful deployment's version in the next
// environment of the promotion order.
func (s Service) Promote(ctx context.Context, scope tenant.Scope, sourceID string, targetEnvironmentID int64, notes string) (*domain.Deployment, error) {
	source, err := s.Get(ctx, scope, sourceID)
	if err != nil {
		return nil, err
	}
	if source.Status != domain.StatusSuccess {
		return nil, fmt.Errorf("%w: only Success deployments can be promoted, source is %s", repository.ErrInvalidState, source.Status)
	}

	// Environments are resolved within the source's tenant, including for operators.
	envScope := scope
	if scope.CrossTenant {
		envScope = tenant.New(source.TenantID, scope.UserID)
	}
	sourceEnv, err := s.envs.GetEnvironment(ctx, envScope, source.EnvironmentID)
	if err != nil {
		return nil, fmt.Errorf("environment %d: %w", source.EnvironmentID, err)
	}
	environments, err := s.envs.ListEnvironments(ctx, envScope)
	if err != nil {
		return nil, err
	}
	next, ok := nextEnvironment(environments, sourceEnv.Order)
	if !ok {
		return nil, fmt.Errorf("%w: %s is the last environment", repository.ErrInvalidState, sourceEnv.Name)
	}
	if next.ID != targetEnvironmentID {
		return nil, fmt.Errorf("%w: deployments in %s promote to %s (environment %d)", repository.ErrInvalidState, sourceEnv.Name, next.Name, next.ID)
	}

	now := s.now().UTC()
	deployment := &domain.Deployment{
		TenantID:      source.TenantID,
		ApplicationID: source.ApplicationID,
		VersionID:     source.VersionID,
		EnvironmentID: next.ID,
		Status:        domain.StatusInProgress,
		DeployedAt:    &now,
		Notes:         strings.TrimSpace(notes),
		CreatedAt:     now,
		ModifiedAt:    now,
	}
	message := fmt.Sprintf("promoted from %s (%s)", sourceEnv.Name, source.ExternalID)
	if err := s.deployments.CreateDeployment(ctx, scope, deployment, domain.DeploymentEvent{
		EventType: EventPromoted,
		Message:   message,
		CreatedAt: now,
	}); err != nil {
		s.logger.Error("failed to create promoted deployment", "source_deployment_id", source.ExternalID, "environment_id", next.ID, "error", err)
		return nil, err
	}
	s.logger.Info("deployment promoted", "deployment_id", deployment.ExternalID, "source_deployment_id", source.ExternalID, "environment_id", next.ID)
	s.notify(ctx, scope, *deployment, EventPromoted, message, source.ExternalID)
	return deployment, nil
}

// nextEnvironment returns the environment with the smallest order strictly
// greater than order.
func nextEnvironment(environments []domain.Environment, order int) (domain.Environment, bool) {
	var (
		next  domain.Environment
		found bool
	)
	for _, env := range environments {
		if env.Order <= order {
			continue
		}
		if !found || env.Order < next.Order {
			next = env
			found = true
		}
	}
	return next, found
}

// Get returns a visible deployment by external id.
func (s Service) Get(ctx context.Context, scope tenant.Scope, deploymentID string) (*domain.Deployment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	deploymentID = strings.TrimSpace(deploymentID)
	if deploymentID == "" {
		return nil, repository.ErrNotFound
	}
	return s.deployments.GetDeployment(ctx, scope, deploymentID)
}

// List returns recent deployments, newest first.
func (s Service) List(ctx context.Context, scope tenant.Scope, filter domain.DeploymentFilter) ([]domain.Deployment, error) {
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.deployments.ListDeployments(ctx, scope, filter)
}

// History returns the deployment's audit trail in order.
func (s Service) History(ctx context.Context, scope tenant.Scope, deploymentID string) ([]domain.DeploymentEvent, error) {
	deployment, err := s.Get(ctx, scope, deploymentID)
	if err != nil {
		return nil, err
	}
	return s.deployments.ListDeploymentEvents(ctx, scope, deployment.ID)
}

// SoftDelete hides a deployment while keeping its audit trail.
func (s Service) SoftDelete(ctx context.Context, scope tenant.Scope, deploymentID string) error {
	deployment, err := s.Get(ctx, scope, deploymentID)
	if err != nil {
		return err
	}
	const message = "deployment deleted"
	if err := s.deployments.SoftDeleteDeployment(ctx, scope, deployment.ID, domain.DeploymentEvent{
		EventType: EventDeleted,
		Message:   message,
	}); err != nil {
		return err
	}
	s.logger.Info("deployment deleted", "deployment_id", deployment.ExternalID)
	s.notify(ctx, scope, *deployment, EventDeleted, message, "")
	return nil
}

// notify fans a recorded event out to live subscribers and webhooks. Nothing
// here can fail the operation that produced the event.
func (s Service) notify(ctx context.Context, scope tenant.Scope, deployment domain.Deployment, eventType, message, sourceID string) {
	envelope := events.NewEnvelope(eventType, deployment, message, s.now())
	envelope.SourceDeploymentID = sourceID
	if s.publisher != nil {
		s.publisher.Publish(ctx, envelope)
	}
	if s.queue == nil {
		return
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Warn("failed to encode webhook payload", "deployment_id", deployment.ExternalID, "error", err)
		return
	}
	task := webhook.Task{
		TenantID:      deployment.TenantID,
		UserID:        scope.UserID,
		ApplicationID: deployment.ApplicationID,
		DeploymentID:  deployment.ExternalID,
		EventType:     eventType,
		Payload:       payload,
	}
	if err := s.queue.Submit(task); err != nil {
		s.logger.Warn("webhook fan-out dropped", "deployment_id", deployment.ExternalID, "event_type", eventType, "error", err)
	}
}

func trimmed(notes *string) *string {
	if notes == nil {
		return nil
	}
	value := strings.TrimSpace(*notes)
	return &value
}
