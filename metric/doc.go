// Package metric provides the Prometheus metrics registry and HTTP server for
// featuresync.
//
// MetricsRegistry wraps a private prometheus.Registry. It registers the core
// service metrics (service status, error classes, health, session state, NATS
// connectivity) and the Go runtime collectors, and lets components register
// their own metrics under a service name:
//
//	registry := metric.NewMetricsRegistry()
//	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
//	    Namespace: metric.Namespace,
//	    Subsystem: "propagation",
//	    Name:      "runs_total",
//	}, []string{"outcome"})
//	_ = registry.RegisterCounterVec("propagation", "runs_total", runs)
//
// Registering the same service and metric name twice is an invalid error.
// UnregisterService removes a component's metrics so it can be recreated,
// which happens when an application session is reopened.
//
// Server serves the registry on /metrics (OpenMetrics enabled). Additional
// handlers such as /healthz are mounted with Handle before Start:
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	server.Handle("/healthz", health.Handler(checks...))
//	go server.Start()
//	defer server.Shutdown(ctx)
package metric
