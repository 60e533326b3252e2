// Package propagation wires edit sources to the propagation pipeline for one
// application session.
//
// An Orchestrator validates the configured layers, captures the session's
// write capability, and installs a pipeline that turns every batch of edits on
// the source layer into one detached propagation run:
//
//	sess := propagation.NewSession(st)
//	orch := propagation.New(cfg, []source.Source{layerEvents, editorEvents},
//	    propagation.WithNotifier(sink))
//	inst, err := orch.Install(ctx, sess)
//	...
//	defer sess.Close()
//
// Runs are not serialised against each other; concurrent runs may interleave
// their target writes and the last write wins.
package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/featuresync/applier"
	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/metric"
	"github.com/c360/featuresync/normalizer"
	"github.com/c360/featuresync/notify"
	"github.com/c360/featuresync/pkg/worker"
	"github.com/c360/featuresync/resolver"
	"github.com/c360/featuresync/source"
	"github.com/c360/featuresync/spatialjoin"
	"github.com/c360/featuresync/store"
)

// Layer names a layer and the propagated field on it.
type Layer struct {
	Name  string
	Title string
	Field string
}

func (l Layer) title() string {
	if l.Title != "" {
		return l.Title
	}
	return l.Name
}

// Config configures an Orchestrator.
type Config struct {
	Source Layer
	Target Layer
	// Window is the FanIn merge window; zero handles each event on its own.
	Window time.Duration
	// Workers and QueueSize size the run pool.
	Workers   int
	QueueSize int
	// ProtectTarget makes the session's public store read-only for the
	// target layer once the pipeline is installed.
	ProtectTarget bool
	// StopTimeout bounds how long Uninstall waits for queued runs.
	StopTimeout time.Duration
}

// DefaultConfig returns the Laadpalen to Zoekgebieden configuration.
func DefaultConfig() Config {
	return Config{
		Source:      Layer{Name: "laadpalen", Title: "Laadpalen", Field: "laadpaal_geaccepteerd"},
		Target:      Layer{Name: "zoekgebieden", Title: "Zoekgebieden", Field: "laadpaal_geaccepteerd"},
		Window:      normalizer.DefaultWindow,
		Workers:     4,
		QueueSize:   64,
		StopTimeout: 10 * time.Second,
	}
}

// Orchestrator installs propagation pipelines on sessions.
type Orchestrator struct {
	cfg      Config
	sources  []source.Source
	notifier notify.Sink
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets the notice sink.
func WithNotifier(s notify.Sink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.notifier = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics registers propagation and pool metrics.
func WithMetrics(r *metric.MetricsRegistry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// New creates an Orchestrator for cfg and the given edit sources.
func New(cfg Config, sources []source.Source, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		sources:  sources,
		notifier: notify.Discard,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.StopTimeout <= 0 {
		o.cfg.StopTimeout = 10 * time.Second
	}
	o.logger = o.logger.With("component", "propagation", "source_layer", cfg.Source.Name, "target_layer", cfg.Target.Name)
	o.metrics = newMetrics(o.registry)
	return o
}

// Install builds the pipeline for sess and subscribes to every source.
// Installing again on the same session returns the existing installation.
// A missing layer or field is fatal: it is reported once and nothing is
// subscribed.
func (o *Orchestrator) Install(ctx context.Context, sess *Session) (*Installation, error) {
	inst, created, err := sess.install(o.cfg.Source.Name, func() (*Installation, error) {
		return o.build(ctx, sess)
	})
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			o.notifier.Notify(notify.New(notify.Error, setupMessage(err)))
		}
		return nil, err
	}
	if !created {
		o.logger.Debug("propagation already installed", "session", sess.ID())
		return inst, nil
	}

	if o.cfg.ProtectTarget {
		sess.ProtectWrites(o.cfg.Target.Name)
	}
	o.logger.Info("propagation installed", "session", sess.ID(), "sources", len(o.sources))
	return inst, nil
}

func setupMessage(err error) string {
	return fmt.Sprintf("Propagation not started: %v", err)
}

func (o *Orchestrator) build(ctx context.Context, sess *Session) (*Installation, error) {
	raw := sess.Raw()

	srcLayer, srcField, err := o.resolveField(ctx, raw, o.cfg.Source)
	if err != nil {
		return nil, err
	}
	tgtLayer, tgtField, err := o.resolveField(ctx, raw, o.cfg.Target)
	if err != nil {
		return nil, err
	}

	// Captured now; protective wrappers layered on the session later do not
	// apply to propagation writes.
	write := store.Capture(raw)
	reader := sess.Store()

	logger := o.logger.With("session", sess.ID())
	p := &Pipeline{
		resolver: resolver.New(reader, srcLayer.Name, srcField.Name, logger),
		join:     spatialjoin.New(reader, tgtLayer.Name),
		applier:  applier.New(write, tgtLayer.Name, srcField, tgtField, logger),
		notifier: o.notifier,
		target:   tgtLayer,
		logger:   logger,
		metrics:  o.metrics,
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	poolOpts := []worker.Option[feature.ChangeSet]{worker.WithLogger[feature.ChangeSet](logger)}
	if o.registry != nil {
		o.registry.UnregisterService("worker_pool_propagation_pool")
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[feature.ChangeSet](o.registry, "propagation_pool"))
	}
	pool := worker.NewPool(o.cfg.Workers, o.cfg.QueueSize, func(ctx context.Context, cs feature.ChangeSet) error {
		res := p.Run(ctx, cs)
		p.Report(res)
		return res.Err
	}, poolOpts...)
	if err := pool.Start(runCtx); err != nil {
		cancel()
		return nil, errors.WrapFatal(err, "Orchestrator", "Install", "start run pool")
	}

	inst := &Installation{
		pipeline:    p,
		pool:        pool,
		cancel:      cancel,
		stopTimeout: o.cfg.StopTimeout,
		done:        make(chan struct{}),
		logger:      logger,
	}

	inst.fanin = normalizer.NewFanIn(normalizer.New(srcLayer.Name), func(cs feature.ChangeSet) {
		if err := pool.Submit(cs); err != nil {
			logger.Warn("propagation run dropped", "refs", cs.Len(), "error", err)
			if errors.Is(err, worker.ErrQueueFull) {
				o.notifier.Notify(notify.New(notify.Warning, "Too many edits at once, propagation skipped"))
			}
		}
	},
		normalizer.WithWindow(o.cfg.Window),
		normalizer.WithLogger(logger),
		normalizer.WithEventHook(o.metrics.recordEvent),
	)
	if err := inst.fanin.Start(runCtx, o.sources...); err != nil {
		if serr := pool.Stop(o.cfg.StopTimeout); serr != nil {
			logger.Warn("run pool did not stop cleanly", "error", serr)
		}
		cancel()
		return nil, errors.WrapTransient(err, "Orchestrator", "Install", "subscribe to edit sources")
	}
	return inst, nil
}

// resolveField looks up the layer's fields and returns the layer with its
// actual field name.
func (o *Orchestrator) resolveField(ctx context.Context, md store.Metadata, l Layer) (Layer, *feature.Field, error) {
	fields, err := md.Fields(ctx, l.Name)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return l, nil, errors.WrapFatal(err, "Orchestrator", "Install", "load fields of "+l.Name)
		}
		return l, nil, errors.WrapTransient(err, "Orchestrator", "Install", "load fields of "+l.Name)
	}
	f, ok := feature.FindField(fields, l.Field)
	if !ok {
		return l, nil, errors.WrapFatal(
			fmt.Errorf("field %s on layer %s: %w", l.Field, l.Name, errors.ErrNotFound),
			"Orchestrator", "Install", "find propagated field")
	}
	l.Field = f.Name
	return l, f, nil
}

// Installation is a pipeline installed on a session.
type Installation struct {
	pipeline    *Pipeline
	fanin       *normalizer.FanIn
	pool        *worker.Pool[feature.ChangeSet]
	cancel      context.CancelFunc
	stopTimeout time.Duration
	logger      *slog.Logger
	release     func()

	once sync.Once
	done chan struct{}
	err  error
}

// Pipeline returns the installed pipeline.
func (i *Installation) Pipeline() *Pipeline { return i.pipeline }

// Stats returns the run pool statistics.
func (i *Installation) Stats() worker.PoolStats { return i.pool.Stats() }

// Flush hands pending edit events to the pipeline without waiting for the
// merge window.
func (i *Installation) Flush() { i.fanin.Flush() }

// Uninstall unsubscribes from every source and waits for queued runs.
func (i *Installation) Uninstall() error {
	i.once.Do(func() {
		if err := i.fanin.Stop(); err != nil {
			i.err = errors.Wrap(err, "Installation", "Uninstall", "unsubscribe")
		}
		if err := i.pool.Stop(i.stopTimeout); err != nil && i.err == nil {
			i.err = errors.Wrap(err, "Installation", "Uninstall", "drain runs")
		}
		i.cancel()
		if i.release != nil {
			i.release()
		}
		i.logger.Info("propagation uninstalled")
		close(i.done)
	})
	return i.err
}

// Wait blocks until the installation is uninstalled or ctx is done.
func (i *Installation) Wait(ctx context.Context) error {
	select {
	case <-i.done:
		return i.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
