package webhook

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Metrics counts delivery outcomes. A nil *Metrics records nothing.
type Metrics struct {
	attempts *prometheus.CounterVec
	latency  prometheus.Histogram
	dropped  prometheus.Counter
	swept    prometheus.Counter
}

// NewMetrics registers delivery collectors with reg, reusing collectors that
// are already registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "versionlifecycle",
			Subsystem: "webhooks",
			Name:      "delivery_attempts_total",
			Help:      "Webhook delivery attempts by outcome",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "versionlifecycle",
			Subsystem: "webhooks",
			Name:      "delivery_duration_seconds",
			Help:      "Latency of outbound webhook requests",
			Buckets:   histogramBuckets,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "versionlifecycle",
			Subsystem: "webhooks",
			Name:      "tasks_dropped_total",
			Help:      "Delivery tasks dropped because the dispatcher queue was full",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "versionlifecycle",
			Subsystem: "webhooks",
			Name:      "sweep_redeliveries_total",
			Help:      "Deliveries re-driven by the retry sweep",
		}),
	}
	if reg == nil {
		return m
	}
	m.attempts = register(reg, m.attempts)
	m.latency = register(reg, m.latency)
	m.dropped = register(reg, m.dropped)
	m.swept = register(reg, m.swept)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) observeAttempt(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.latency.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) taskDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) sweptDelivery() {
	if m == nil {
		return
	}
	m.swept.Inc()
}
