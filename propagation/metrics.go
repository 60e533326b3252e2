package propagation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/featuresync/metric"
)

// Run outcomes recorded in runs_total.
const (
	outcomeEmpty     = "empty"
	outcomeNoTargets = "no_targets"
	outcomeUpdated   = "updated"
	outcomeFailed    = "failed"
)

// Metrics tracks propagation runs.
type Metrics struct {
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	changeSetSize  prometheus.Histogram
	targetsUpdated prometheus.Counter
	failures       *prometheus.CounterVec
	eventsReceived *prometheus.CounterVec
}

const metricsService = "propagation"

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "propagation",
			Name:      "runs_total",
			Help:      "Propagation runs by outcome",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "propagation",
			Name:      "run_duration_seconds",
			Help:      "Duration of one propagation run",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		changeSetSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "propagation",
			Name:      "changeset_size",
			Help:      "Number of source refs per run",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		targetsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "propagation",
			Name:      "targets_updated_total",
			Help:      "Target updates accepted by the store",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "propagation",
			Name:      "failures_total",
			Help:      "Failed store calls and rejected updates by kind (partial, transport)",
		}, []string{"kind"}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "propagation",
			Name:      "events_received_total",
			Help:      "Edit events received by source",
		}, []string{"source"}),
	}

	// A recreated orchestrator replaces the collectors of the previous one.
	registry.UnregisterService(metricsService)
	_ = registry.RegisterCounterVec(metricsService, "runs_total", m.runs)
	_ = registry.RegisterHistogram(metricsService, "run_duration_seconds", m.runDuration)
	_ = registry.RegisterHistogram(metricsService, "changeset_size", m.changeSetSize)
	_ = registry.RegisterCounter(metricsService, "targets_updated_total", m.targetsUpdated)
	_ = registry.RegisterCounterVec(metricsService, "failures_total", m.failures)
	_ = registry.RegisterCounterVec(metricsService, "events_received_total", m.eventsReceived)
	return m
}

func (m *Metrics) recordEvent(source string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(source).Inc()
}

func (m *Metrics) recordRun(size int, outcome string, updated int, took time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.changeSetSize.Observe(float64(size))
	m.targetsUpdated.Add(float64(updated))
	m.runDuration.Observe(took.Seconds())
}

func (m *Metrics) recordFailure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}
