package wssource

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/featuresync/metric"
)

const metricsService = "wssource"

// Metrics holds the WebSocket server metrics.
type Metrics struct {
	messagesReceived  *prometheus.CounterVec
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	noticesSent       prometheus.Counter
	errorsTotal       *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "messages_received_total",
			Help:      "Envelopes received from editors by type",
		}, []string{"type"}),

		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "connections_active",
			Help:      "Connected editors",
		}),

		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "connections_total",
			Help:      "Accepted editor connections",
		}),

		noticesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "notices_sent_total",
			Help:      "Notices written to editors",
		}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "WebSocket errors by type",
		}, []string{"type"}),
	}

	registry.UnregisterService(metricsService)
	_ = registry.RegisterCounterVec(metricsService, "messages_received_total", m.messagesReceived)
	_ = registry.RegisterGauge(metricsService, "connections_active", m.connectionsActive)
	_ = registry.RegisterCounter(metricsService, "connections_total", m.connectionsTotal)
	_ = registry.RegisterCounter(metricsService, "notices_sent_total", m.noticesSent)
	_ = registry.RegisterCounterVec(metricsService, "errors_total", m.errorsTotal)
	return m
}
