package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeploymentStatus is the lifecycle state of a deployment.
type DeploymentStatus string

// Deployment statuses as surfaced at the API boundary.
const (
	StatusPending    DeploymentStatus = "Pending"
	StatusInProgress DeploymentStatus = "InProgress"
	StatusSuccess    DeploymentStatus = "Success"
	StatusFailed     DeploymentStatus = "Failed"
	StatusCancelled  DeploymentStatus = "Cancelled"
)

// DeploymentStatuses lists every valid status.
var DeploymentStatuses = []DeploymentStatus{
	StatusPending,
	StatusInProgress,
	StatusSuccess,
	StatusFailed,
	StatusCancelled,
}

// Valid reports whether s is one of the known statuses.
func (s DeploymentStatus) Valid() bool {
	for _, known := range DeploymentStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is permitted from s.
func (s DeploymentStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// EventType returns the dotted webhook event name for entering s.
func (s DeploymentStatus) EventType() string {
	return "deployment." + strings.ToLower(string(s))
}

// ParseDeploymentStatus accepts the boundary spelling case-insensitively.
func ParseDeploymentStatus(raw string) (DeploymentStatus, error) {
	trimmed := strings.TrimSpace(raw)
	for _, known := range DeploymentStatuses {
		if strings.EqualFold(trimmed, string(known)) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown deployment status %q", raw)
}

// Deployment records one attempt to run a version in an environment.
type Deployment struct {
	ID            int64            `json:"-"`
	ExternalID    string           `json:"id"`
	TenantID      int64            `json:"tenant_id"`
	ApplicationID int64            `json:"application_id"`
	VersionID     int64            `json:"version_id"`
	EnvironmentID int64            `json:"environment_id"`
	Status        DeploymentStatus `json:"status"`
	DeployedAt    *time.Time       `json:"deployed_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	DurationMs    *int64           `json:"duration_ms,omitempty"`
	Notes         string           `json:"notes"`
	IsDeleted     bool             `json:"-"`
	CreatedBy     int64            `json:"created_by"`
	CreatedAt     time.Time        `json:"created_at"`
	ModifiedAt    time.Time        `json:"modified_at"`
}

// DeploymentTransition is a conditional status change. The store applies it
// only while the row still has status From.
type DeploymentTransition struct {
	DeploymentID int64
	From         DeploymentStatus
	To           DeploymentStatus
	Notes        *string
	DeployedAt   *time.Time
	CompletedAt  *time.Time
	DurationMs   *int64
	ModifiedAt   time.Time
}

// DeploymentEvent is an append-only audit record for a deployment.
type DeploymentEvent struct {
	ID           int64     `json:"id"`
	TenantID     int64     `json:"tenant_id"`
	DeploymentID int64     `json:"-"`
	EventType    string    `json:"event_type"`
	Message      string    `json:"message"`
	CreatedBy    int64     `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// DeploymentFilter narrows deployment listings.
type DeploymentFilter struct {
	ApplicationID int64
	EnvironmentID int64
	Limit         int
}
