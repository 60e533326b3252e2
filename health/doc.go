// Package health tracks component health and serves it on /healthz.
//
// Components are healthy, degraded or unhealthy. A Monitor holds explicit
// updates and live checks; AggregateHealth rolls them up so that any
// unhealthy component makes the system unhealthy and any degraded one makes
// it degraded.
//
//	monitor := health.NewMonitor()
//	monitor.AddCheck("nats", func() health.Status {
//		if !client.IsHealthy() {
//			return health.NewUnhealthy("nats", "not connected")
//		}
//		return health.NewHealthy("nats", "connected")
//	})
//	mux.Handle("/healthz", health.Handler(monitor, "featuresync"))
//
// Messages built with FromError are sanitized: URLs, paths, IP addresses,
// ports and credentials are replaced by placeholders.
package health
