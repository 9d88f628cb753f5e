// Package metrics exposes Prometheus collectors for the offline queue and
// the drain engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kimhsiao/driverq/internal/models"
	syncpkg "github.com/kimhsiao/driverq/internal/sync"
)

// Metrics holds every collector. It satisfies sync.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	enqueued      *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	pending       prometheus.Gauge
	drains        *prometheus.CounterVec
	drainDuration prometheus.Histogram
}

var _ syncpkg.Recorder = (*Metrics)(nil)

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driverq",
			Name:      "actions_enqueued_total",
			Help:      "Number of offline actions enqueued.",
		}, []string{"type"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driverq",
			Name:      "action_outcomes_total",
			Help:      "Number of executed offline actions by outcome.",
		}, []string{"type", "outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "driverq",
			Name:      "pending_actions",
			Help:      "Number of actions waiting to be synchronized.",
		}),
		drains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driverq",
			Name:      "drains_total",
			Help:      "Number of drain passes by result.",
		}, []string{"result"}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "driverq",
			Name:      "drain_duration_seconds",
			Help:      "Duration of drain passes that ran.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.enqueued, m.outcomes, m.pending, m.drains, m.drainDuration)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEnqueue counts a newly queued action.
func (m *Metrics) ObserveEnqueue(actionType models.ActionType) {
	m.enqueued.WithLabelValues(string(actionType)).Inc()
}

// SetPending records the current queue length.
func (m *Metrics) SetPending(n int) {
	m.pending.Set(float64(n))
}

// ObserveOutcome counts the fate of one executed action.
func (m *Metrics) ObserveOutcome(actionType models.ActionType, outcome syncpkg.Outcome) {
	m.outcomes.WithLabelValues(string(actionType), string(outcome)).Inc()
}

// ObserveDrain counts a pass and records its duration when it ran.
func (m *Metrics) ObserveDrain(r *syncpkg.DrainResult) {
	switch {
	case !r.Ran():
		m.drains.WithLabelValues("skipped_" + r.Skipped).Inc()
	case r.Halted:
		m.drains.WithLabelValues("halted").Inc()
		m.drainDuration.Observe(r.Duration.Seconds())
	case r.Interrupted:
		m.drains.WithLabelValues("interrupted").Inc()
		m.drainDuration.Observe(r.Duration.Seconds())
	default:
		m.drains.WithLabelValues("completed").Inc()
		m.drainDuration.Observe(r.Duration.Seconds())
	}
}
