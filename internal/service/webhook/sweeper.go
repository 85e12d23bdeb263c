package webhook

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultSweepInterval = 30 * time.Second
	sweepTimeout         = 2 * time.Minute
)

// Retrier re-drives due deliveries.
type Retrier interface {
	RetryPending(ctx context.Context) (int, error)
}

// Sweeper periodically invokes RetryPending.
type Sweeper struct {
	retrier  Retrier
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper constructs a sweeper ticking every interval.
func NewSweeper(retrier Retrier, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{retrier: retrier, interval: interval, logger: logger.With("component", "webhook-sweeper")}
}

// Run executes the sweep loop until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("webhook sweeper started", "interval", s.interval)
	s.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("webhook sweeper stopped")
			return
		case <-ticker.C:
			s.runIteration(ctx)
		}
	}
}

func (s *Sweeper) runIteration(parent context.Context) {
	timeout := sweepTimeout
	if s.interval > timeout {
		timeout = s.interval
	}
	opCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	count, err := s.retrier.RetryPending(opCtx)
	if err != nil {
		s.logger.Warn("webhook sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("webhook sweep re-drove deliveries", "count", count)
	}
}
