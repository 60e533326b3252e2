package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every featuresync metric.
const Namespace = "featuresync"

// Service status values recorded by RecordServiceStatus.
const (
	StatusStopped = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusFailed
)

// Metrics contains the service-level metrics shared by all components.
type Metrics struct {
	ServiceStatus     *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec
	SessionActive     prometheus.Gauge

	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the core metrics. They are registered by
// NewMetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "service",
			Name:      "status",
			Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
		}, []string{"service"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "errors",
			Name:      "total",
			Help:      "Total number of errors by class",
		}, []string{"service", "class"}),

		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health check status (0=unhealthy, 1=degraded, 2=healthy)",
		}, []string{"component"}),

		SessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Whether an application session is open (0/1)",
		}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),

		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),

		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "circuit_breaker",
			Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus,
		c.ErrorsTotal,
		c.HealthCheckStatus,
		c.SessionActive,
		c.NATSConnected,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	}
}

// RecordServiceStatus updates the service status gauge.
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordError counts an error of the given class.
func (c *Metrics) RecordError(service, class string) {
	c.ErrorsTotal.WithLabelValues(service, class).Inc()
}

// RecordHealthStatus sets the health gauge for a component.
func (c *Metrics) RecordHealthStatus(component string, level int) {
	c.HealthCheckStatus.WithLabelValues(component).Set(float64(level))
}

// RecordSession marks the application session as open or closed.
func (c *Metrics) RecordSession(open bool) {
	c.SessionActive.Set(boolValue(open))
}

// RecordNATSStatus updates the NATS connection gauge.
func (c *Metrics) RecordNATSStatus(connected bool) {
	c.NATSConnected.Set(boolValue(connected))
}

// RecordNATSReconnect counts a reconnection.
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates the circuit breaker gauge.
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
