package deploy

import (
	"fmt"

	"github.com/jrmce/VersionLifecycle-sub000/internal/domain"
	"github.com/jrmce/VersionLifecycle-sub000/internal/repository"
)

// transitions lists every permitted (current, requested) pair. Terminal
// statuses have no entry.
var transitions = map[domain.DeploymentStatus][]domain.DeploymentStatus{
	domain.StatusPending:    {domain.StatusInProgress, domain.StatusCancelled},
	domain.StatusInProgress: {domain.StatusSuccess, domain.StatusFailed, domain.StatusCancelled},
}

// TransitionError rejects a status change. It matches repository.ErrInvalidState
// under errors.Is.
type TransitionError struct {
	From   domain.DeploymentStatus
	To     domain.DeploymentStatus
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move deployment from %s to %s: %s", e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error { return repository.ErrInvalidState }

// Transition validates moving a deployment from current to requested and
// returns the resulting status.
func Transition(current, requested domain.DeploymentStatus) (domain.DeploymentStatus, error) {
	if !requested.Valid() {
		return "", fmt.Errorf("%w: unknown deployment status %q", repository.ErrInvalidArgument, requested)
	}
	for _, next := range transitions[current] {
		if next == requested {
			return next, nil
		}
	}
	return "", &TransitionError{From: current, To: requested, Reason: rejection(current, requested)}
}

func rejection(current, requested domain.DeploymentStatus) string {
	switch {
	case current.Terminal():
		return "terminal deployments are immutable"
	case requested == domain.StatusPending:
		return "no status reverts to Pending"
	case requested == domain.StatusInProgress:
		return "InProgress is only reachable from Pending"
	case requested == domain.StatusSuccess, requested == domain.StatusFailed:
		return "deployment must be InProgress"
	default:
		return "transition not permitted"
	}
}
