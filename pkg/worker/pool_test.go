package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/c360/featuresync/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
	panic bool
}

func process(_ context.Context, w testWork) error {
	time.Sleep(w.delay)
	if w.panic {
		panic("boom")
	}
	if w.fail {
		return errors.New("failed")
	}
	return nil
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(0, 0, process)
	if pool.workers != 4 {
		t.Errorf("expected 4 workers, got %d", pool.workers)
	}
	if pool.queueSize != 64 {
		t.Errorf("expected queue size 64, got %d", pool.queueSize)
	}
}

func TestNewPool_NilProcessor(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected panic for nil processor")
		}
	}()
	NewPool[testWork](1, 1, nil)
}

func TestPool_Lifecycle(t *testing.T) {
	pool := NewPool(2, 10, process)

	if err := pool.Submit(testWork{}); !errors.Is(err, ErrPoolNotStarted) {
		t.Errorf("expected ErrPoolNotStarted, got %v", err)
	}

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := pool.Start(ctx); !errors.Is(err, ErrPoolAlreadyStarted) {
		t.Errorf("expected ErrPoolAlreadyStarted, got %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := pool.Submit(testWork{id: i, delay: time.Millisecond}); err != nil {
			t.Errorf("submit %d: %v", i, err)
		}
	}

	// Stop drains the queue.
	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := pool.Stats().Processed; got != 5 {
		t.Errorf("expected 5 processed, got %d", got)
	}
	if err := pool.Submit(testWork{}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped, got %v", err)
	}
	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("second stop: %v", err)
	}
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	var once sync.Once

	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		once.Do(started.Done)
		<-release
		return nil
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	_ = pool.Submit(testWork{id: 1})
	started.Wait()
	_ = pool.Submit(testWork{id: 2})

	if err := pool.Submit(testWork{id: 3}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if got := pool.Stats().Dropped; got != 1 {
		t.Errorf("expected 1 dropped, got %d", got)
	}

	close(release)
	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestPool_FailuresAndPanics(t *testing.T) {
	pool := NewPool(1, 10, process)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	_ = pool.Submit(testWork{fail: true})
	_ = pool.Submit(testWork{panic: true})
	_ = pool.Submit(testWork{})

	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatal(err)
	}

	stats := pool.Stats()
	if stats.Processed != 3 || stats.Failed != 2 || stats.Panics != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestPool_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = pool.Submit(testWork{})

	if err := pool.Stop(20 * time.Millisecond); !errors.Is(err, ErrStopTimeout) {
		t.Errorf("expected ErrStopTimeout, got %v", err)
	}
}

func TestPool_ContextCancel(t *testing.T) {
	var ran atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())

	pool := NewPool(2, 10, func(_ context.Context, _ testWork) error {
		ran.Add(1)
		return nil
	})
	if err := pool.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("stop after cancel: %v", err)
	}
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(1, 4, process, WithMetricsRegistry[testWork](registry, "test_pool"))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	_ = pool.Submit(testWork{})
	_ = pool.Submit(testWork{})
	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(pool.metrics.submitted); got != 2 {
		t.Errorf("expected 2 submitted, got %v", got)
	}
	if got := testutil.CollectAndCount(pool.metrics.processingTime); got != 1 {
		t.Errorf("expected 1 histogram series, got %d", got)
	}
}
