package events

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/jrmce/VersionLifecycle-sub000/internal/domain"
	"github.com/jrmce/VersionLifecycle-sub000/internal/eventbus"
	"github.com/jrmce/VersionLifecycle-sub000/internal/ws"
)

// Envelope is the JSON body shared by webhook deliveries, the websocket
// stream and the event bus.
type Envelope struct {
	Event              string     `json:"event"`
	DeploymentID       string     `json:"deployment_id"`
	TenantID           int64      `json:"tenant_id"`
	ApplicationID      int64      `json:"application_id"`
	VersionID          int64      `json:"version_id"`
	EnvironmentID      int64      `json:"environment_id"`
	Status             string     `json:"status"`
	Notes              string     `json:"notes,omitempty"`
	DeployedAt         *time.Time `json:"deployed_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	DurationMs         *int64     `json:"duration_ms,omitempty"`
	SourceDeploymentID string     `json:"source_deployment_id,omitempty"`
	Message            string     `json:"message,omitempty"`
	Timestamp          time.Time  `json:"timestamp"`
}

// NewEnvelope describes deployment as it stands after eventType.
func NewEnvelope(eventType string, deployment domain.Deployment, message string, at time.Time) Envelope {
	return Envelope{
		Event:         eventType,
		DeploymentID:  deployment.ExternalID,
		TenantID:      deployment.TenantID,
		ApplicationID: deployment.ApplicationID,
		VersionID:     deployment.VersionID,
		EnvironmentID: deployment.EnvironmentID,
		Status:        string(deployment.Status),
		Notes:         deployment.Notes,
		DeployedAt:    deployment.DeployedAt,
		CompletedAt:   deployment.CompletedAt,
		DurationMs:    deployment.DurationMs,
		Message:       message,
		Timestamp:     at.UTC(),
	}
}

// Service streams deployment events to live subscribers and the event bus.
type Service struct {
	hub    *ws.Hub
	bus    eventbus.Publisher
	logger *slog.Logger
}

// New constructs an event service. A nil bus publishes nowhere.
func New(hub *ws.Hub, bus eventbus.Publisher, logger *slog.Logger) Service {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return Service{hub: hub, bus: bus, logger: logger}
}

// Publish fans an envelope out. Failures are logged, never returned.
func (s Service) Publish(ctx context.Context, envelope Envelope) {
	data, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Warn("failed to marshal deployment event", "event_type", envelope.Event, "error", err)
		return
	}
	if s.hub != nil {
		s.hub.Broadcast(envelope.TenantID, data)
	}
	s.bus.Publish(ctx, eventbus.Message{
		TenantID:  envelope.TenantID,
		Key:       envelope.DeploymentID,
		EventType: envelope.Event,
		Payload:   data,
	})
}
