package webhook

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned by Submit when the dispatcher cannot accept more work.
var ErrQueueFull = errors.New("webhook: dispatch queue full")

// ErrDispatcherStopped is returned by Submit after Stop.
var ErrDispatcherStopped = errors.New("webhook: dispatcher stopped")

// Handler processes a dispatched task.
type Handler interface {
	Trigger(ctx context.Context, task Task) error
}

// Dispatcher runs delivery tasks on a fixed pool of workers fed by a bounded queue.
type Dispatcher struct {
	handler Handler
	workers int
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.RWMutex
	queue   chan Task
	stopped bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher constructs a dispatcher. Call Start before submitting.
func NewDispatcher(handler Handler, workers, queueSize int, logger *slog.Logger, metrics *Metrics) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handler: handler,
		workers: workers,
		logger:  logger.With("component", "webhook-dispatcher"),
		metrics: metrics,
		queue:   make(chan Task, queueSize),
	}
}

// Start launches the workers. Tasks run under ctx, which should outlive
// individual requests.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for task := range d.queue {
		if err := d.handler.Trigger(ctx, task); err != nil {
			d.logger.Error("webhook task failed", "tenant_id", task.TenantID, "application_id", task.ApplicationID, "event_type", task.EventType, "error", err)
		}
	}
}

// Submit enqueues task without blocking.
func (d *Dispatcher) Submit(task Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	select {
	case d.queue <- task:
		return nil
	default:
		d.metrics.taskDropped()
		return ErrQueueFull
	}
}

// Stop refuses new tasks and waits for queued ones to drain or ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
