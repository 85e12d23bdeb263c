// Package memory is an in-process Store used by tests and APP_ENV=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jrmce/VersionLifecycle-sub000/internal/domain"
	"github.com/jrmce/VersionLifecycle-sub000/internal/repository"
	"github.com/jrmce/VersionLifecycle-sub000/internal/tenant"
)

const defaultListLimit = 50

// Store keeps every entity in maps guarded by a single mutex.
type Store struct {
	mu sync.Mutex

	nextID int64
	now    func() time.Time

	applications  map[int64]domain.Application
	versions      map[int64]domain.Version
	environments  map[int64]domain.Environment
	deployments   map[int64]domain.Deployment
	externalIDs   map[string]int64
	events        []domain.DeploymentEvent
	webhooks      map[int64]domain.Webhook
	webhookEvents map[int64]domain.WebhookEvent
}

var _ repository.Store = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	return &Store{
		now:           time.Now,
		applications:  make(map[int64]domain.Application),
		versions:      make(map[int64]domain.Version),
		environments:  make(map[int64]domain.Environment),
		deployments:   make(map[int64]domain.Deployment),
		externalIDs:   make(map[string]int64),
		webhooks:      make(map[int64]domain.Webhook),
		webhookEvents: make(map[int64]domain.WebhookEvent),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// AddApplication seeds an application, assigning an id when unset.
func (s *Store) AddApplication(app domain.Application) domain.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	if app.ID == 0 {
		app.ID = s.id()
	}
	s.applications[app.ID] = app
	return app
}

// AddVersion seeds a version, assigning an id when unset.
func (s *Store) AddVersion(version domain.Version) domain.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version.ID == 0 {
		version.ID = s.id()
	}
	s.versions[version.ID] = version
	return version
}

// AddEnvironment seeds an environment, assigning an id when unset.
func (s *Store) AddEnvironment(env domain.Environment) domain.Environment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if env.ID == 0 {
		env.ID = s.id()
	}
	s.environments[env.ID] = env
	return env
}

// GetApplication implements repository.ApplicationRepository.
func (s *Store) GetApplication(_ context.Context, scope tenant.Scope, applicationID int64) (*domain.Application, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.applications[applicationID]
	if !ok || !scope.Allows(app.TenantID) {
		return nil, repository.ErrNotFound
	}
	return &app, nil
}

// GetVersion implements repository.ApplicationRepository.
func (s *Store) GetVersion(_ context.Context, scope tenant.Scope, versionID int64) (*domain.Version, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.versions[versionID]
	if !ok || !scope.Allows(version.TenantID) {
		return nil, repository.ErrNotFound
	}
	return &version, nil
}

// GetEnvironment implements repository.EnvironmentRepository.
func (s *Store) GetEnvironment(_ context.Context, scope tenant.Scope, environmentID int64) (*domain.Environment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.environments[environmentID]
	if !ok || !scope.Allows(env.TenantID) {
		return nil, repository.ErrNotFound
	}
	return &env, nil
}

// ListEnvironments implements repository.EnvironmentRepository.
func (s *Store) ListEnvironments(_ context.Context, scope tenant.Scope) ([]domain.Environment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	envs := make([]domain.Environment, 0)
	for _, env := range s.environments {
		if scope.Allows(env.TenantID) {
			envs = append(envs, env)
		}
	}
	sort.Slice(envs, func(i, j int) bool {
		if envs[i].Order == envs[j].Order {
			return envs[i].ID < envs[j].ID
		}
		return envs[i].Order < envs[j].Order
	})
	return envs, nil
}

// CreateDeployment implements repository.DeploymentRepository.
func (s *Store) CreateDeployment(_ context.Context, scope tenant.Scope, deployment *domain.Deployment, event domain.DeploymentEvent) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if deployment == nil {
		return fmt.Errorf("%w: deployment required", repository.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !scope.CrossTenant {
		deployment.TenantID = scope.TenantID
	}
	if deployment.TenantID <= 0 {
		return fmt.Errorf("%w: deployment tenant required", repository.ErrInvalidArgument)
	}
	if _, ok := s.applications[deployment.ApplicationID]; !ok {
		return fmt.Errorf("%w: unknown application", repository.ErrInvalidArgument)
	}
	if deployment.ExternalID == "" {
		deployment.ExternalID = uuid.NewString()
	}
	if _, taken := s.externalIDs[deployment.ExternalID]; taken {
		return fmt.Errorf("%w: duplicate external id", repository.ErrInvalidArgument)
	}
	now := s.now().UTC()
	if deployment.CreatedAt.IsZero() {
		deployment.CreatedAt = now
	}
	if deployment.ModifiedAt.IsZero() {
		deployment.ModifiedAt = deployment.CreatedAt
	}
	deployment.ID = s.id()
	deployment.CreatedBy = scope.UserID
	s.deployments[deployment.ID] = *deployment
	s.externalIDs[deployment.ExternalID] = deployment.ID
	s.appendEvent(scope, deployment.TenantID, deployment.ID, event, deployment.CreatedAt)
	return nil
}

func (s *Store) appendEvent(scope tenant.Scope, tenantID, deploymentID int64, event domain.DeploymentEvent, at time.Time) {
	event.ID = s.id()
	event.TenantID = tenantID
	event.DeploymentID = deploymentID
	event.CreatedBy = scope.UserID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = at
	}
	s.events = append(s.events, event)
}

// GetDeployment implements repository.DeploymentRepository.
func (s *Store) GetDeployment(_ context.Context, scope tenant.Scope, externalID string) (*domain.Deployment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.externalIDs[externalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	deployment, ok := s.visibleDeployment(scope, id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &deployment, nil
}

func (s *Store) visibleDeployment(scope tenant.Scope, id int64) (domain.Deployment, bool) {
	deployment, ok := s.deployments[id]
	if !ok || deployment.IsDeleted || !scope.Allows(deployment.TenantID) {
		return domain.Deployment{}, false
	}
	return deployment, true
}

// ListDeployments implements repository.DeploymentRepository.
func (s *Store) ListDeployments(_ context.Context, scope tenant.Scope, filter domain.DeploymentFilter) ([]domain.Deployment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Deployment, 0)
	for id := range s.deployments {
		deployment, ok := s.visibleDeployment(scope, id)
		if !ok {
			continue
		}
		if filter.ApplicationID > 0 && deployment.ApplicationID != filter.ApplicationID {
			continue
		}
		if filter.EnvironmentID > 0 && deployment.EnvironmentID != filter.EnvironmentID {
			continue
		}
		out = append(out, deployment)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TransitionDeployment implements repository.DeploymentRepository.
func (s *Store) TransitionDeployment(_ context.Context, scope tenant.Scope, transition domain.DeploymentTransition, event domain.DeploymentEvent) (*domain.Deployment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	deployment, ok := s.visibleDeployment(scope, transition.DeploymentID)
	if !ok {
		return nil, repository.ErrNotFound
	}
	if deployment.Status != transition.From {
		return nil, fmt.Errorf("%w: deployment is %s, expected %s", repository.ErrInvalidState, deployment.Status, transition.From)
	}
	deployment.Status = transition.To
	if transition.Notes != nil {
		deployment.Notes = *transition.Notes
	}
	deployment.DeployedAt = transition.DeployedAt
	deployment.CompletedAt = transition.CompletedAt
	deployment.DurationMs = transition.DurationMs
	deployment.ModifiedAt = transition.ModifiedAt
	s.deployments[deployment.ID] = deployment
	s.appendEvent(scope, deployment.TenantID, deployment.ID, event, transition.ModifiedAt)
	return &deployment, nil
}

// SoftDeleteDeployment implements repository.DeploymentRepository.
func (s *Store) SoftDeleteDeployment(_ context.Context, scope tenant.Scope, deploymentID int64, event domain.DeploymentEvent) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	deployment, ok := s.visibleDeployment(scope, deploymentID)
	if !ok {
		return repository.ErrNotFound
	}
	now := s.now().UTC()
	deployment.IsDeleted = true
	deployment.ModifiedAt = now
	s.deployments[deploymentID] = deployment
	s.appendEvent(scope, deployment.TenantID, deploymentID, event, now)
	return nil
}

// ListDeploymentEvents implements repository.DeploymentRepository.
func (s *Store) ListDeploymentEvents(_ context.Context, scope tenant.Scope, deploymentID int64) ([]domain.DeploymentEvent, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DeploymentEvent, 0)
	for _, event := range s.events {
		if event.DeploymentID == deploymentID && scope.Allows(event.TenantID) {
			out = append(out, event)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
