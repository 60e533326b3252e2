// Package worker provides a bounded worker pool for detached tasks.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/featuresync/metric"
)

// Pool processes submitted work items of type T on a fixed number of
// goroutines. Submit never blocks; a full queue rejects the item.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	logger    *slog.Logger

	workChan chan T
	metrics  *Metrics
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64

	metricsRegistry *metric.MetricsRegistry
	metricsName     string
}

// Metrics holds the Prometheus metrics of one pool.
type Metrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers the pool metrics under the given subsystem
// name, e.g. "propagation_pool".
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsName = name
	}
}

// WithLogger sets the logger used for failed and panicking items.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 4 workers and a
// queue of 64 items.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		logger:    slog.Default(),
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(pool)
	}
	if pool.metricsRegistry != nil && pool.metricsName != "" {
		pool.initializeMetrics()
	}
	return pool
}

func (p *Pool[T]) initializeMetrics() {
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: p.metricsName,
			Name:      "queue_depth",
			Help:      "Current worker pool queue depth",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: p.metricsName,
			Name:      "submitted_total",
			Help:      "Total work items submitted",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: p.metricsName,
			Name:      "dropped_total",
			Help:      "Total work items rejected because the queue was full",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: p.metricsName,
			Name:      "processing_duration_seconds",
			Help:      "Time spent processing work items",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),
	}

	service := "worker_pool_" + p.metricsName
	for _, err := range []error{
		p.metricsRegistry.RegisterGauge(service, "queue_depth", m.queueDepth),
		p.metricsRegistry.RegisterCounter(service, "submitted_total", m.submitted),
		p.metricsRegistry.RegisterCounter(service, "dropped_total", m.dropped),
		p.metricsRegistry.RegisterHistogramVec(service, "processing_duration_seconds", m.processingTime),
	} {
		if err != nil {
			p.logger.Warn("worker pool metric registration failed", "pool", p.metricsName, "error", err)
		}
	}
	p.metrics = m
}

// Submit queues work. It returns ErrQueueFull when the queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. Cancelling ctx stops workers without draining.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Stop rejects further work and waits for queued items to finish, up to
// timeout.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
		Panics:     p.panics.Load(),
	}
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	Panics     int64 `json:"panics"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.process(ctx, work)
		}
	}
}

// process runs one item. A panicking item is counted as failed and does not
// take the worker down.
func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				err = fmt.Errorf("%w: %v", ErrPanic, r)
				p.logger.Error("worker item panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		err = p.processor(ctx, work)
	}()

	p.processed.Add(1)
	status := "success"
	if err != nil {
		p.failed.Add(1)
		status = "error"
		p.logger.Debug("worker item failed", "error", err)
	}
	if p.metrics != nil {
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
		p.metrics.processingTime.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}
