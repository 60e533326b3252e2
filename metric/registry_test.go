package metric

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/featuresync/errors"
)

func gathered(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestMetricsRegistry_RegisterKinds(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter_vec", Help: "cv"}, []string{"l"})

	require.NoError(t, registry.RegisterCounter("svc", "test_counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "test_gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "test_histogram", histogram))
	require.NoError(t, registry.RegisterCounterVec("svc", "test_counter_vec", counterVec))

	counter.Inc()
	gauge.Set(42)
	histogram.Observe(1.5)
	counterVec.WithLabelValues("x").Inc()

	names := gathered(t, registry)
	for _, n := range []string{"test_counter", "test_gauge", "test_histogram", "test_counter_vec"} {
		assert.True(t, names[n], n)
	}
	assert.Equal(t, 42.0, testutil.ToFloat64(gauge))
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	c1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "dup"})
	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "dup"})

	require.NoError(t, registry.RegisterCounter("service1", "duplicate_counter", c1))

	err := registry.RegisterCounter("service1", "duplicate_counter", c2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "duplicate metric registration")

	err = registry.RegisterCounter("service2", "duplicate_counter", c2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "unregister_counter", Help: "u"})
	require.NoError(t, registry.RegisterCounter("svc", "unregister_counter", counter))

	assert.True(t, gathered(t, registry)["unregister_counter"])
	assert.True(t, registry.Unregister("svc", "unregister_counter"))
	assert.False(t, registry.Unregister("svc", "unregister_counter"))
	assert.False(t, gathered(t, registry)["unregister_counter"])
}

func TestMetricsRegistry_UnregisterService(t *testing.T) {
	registry := NewMetricsRegistry()
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("svc_metric_%d", i)
		require.NoError(t, registry.RegisterGauge("svc", name, prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: "g"})))
	}
	require.NoError(t, registry.RegisterGauge("svc2", "other", prometheus.NewGauge(prometheus.GaugeOpts{Name: "other", Help: "g"})))

	assert.Equal(t, 3, registry.UnregisterService("svc"))
	names := gathered(t, registry)
	assert.False(t, names["svc_metric_0"])
	assert.True(t, names["other"])

	// Can register again after removal.
	require.NoError(t, registry.RegisterGauge("svc", "svc_metric_0",
		prometheus.NewGauge(prometheus.GaugeOpts{Name: "svc_metric_0", Help: "g"})))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_counter_%d", id)
			assert.NoError(t, registry.RegisterCounter("concurrent", name,
				prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "c"})))
		}(i)
	}
	wg.Wait()

	count := 0
	for name := range gathered(t, registry) {
		if strings.HasPrefix(name, "concurrent_counter_") {
			count++
		}
	}
	assert.Equal(t, 10, count)
}

func TestCoreMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordServiceStatus("featuresync", StatusRunning)
	core.RecordError("featuresync", "transient")
	core.RecordHealthStatus("nats", 2)
	core.RecordSession(true)
	core.RecordNATSStatus(true)
	core.RecordNATSReconnect()
	core.RecordCircuitBreakerState(0)

	names := gathered(t, registry)
	for _, n := range []string{
		"featuresync_service_status",
		"featuresync_errors_total",
		"featuresync_health_status",
		"featuresync_session_active",
		"featuresync_nats_connected",
		"featuresync_nats_reconnects_total",
		"featuresync_nats_circuit_breaker",
	} {
		assert.True(t, names[n], "core metric %s", n)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(core.SessionActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(core.ServiceStatus.WithLabelValues("featuresync")))
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordSession(true)

	s := NewServer(0, "", registry)
	s.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	assert.Equal(t, "http://localhost:9090/metrics", s.Address())

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "featuresync_session_active 1")

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))
}
