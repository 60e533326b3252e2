package normalizer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/source"
)

// DefaultWindow is the processing tick over which events are merged.
const DefaultWindow = 250 * time.Millisecond

// FlushFunc receives one non-empty ChangeSet per processing tick.
type FlushFunc func(cs feature.ChangeSet)

// FanIn is the single subscription point for every edit source. Events that
// arrive within one window are normalised together, so the same logical edit
// reported by two sources yields each ref once.
type FanIn struct {
	normalizer Normalizer
	flush      FlushFunc
	window     time.Duration
	logger     *slog.Logger
	onEvent    func(source string)

	mu      sync.Mutex
	pending []feature.EditEvent
	timer   *time.Timer
	subs    []source.Subscription
	started bool
	stopped bool
}

// Option configures a FanIn.
type Option func(*FanIn)

// WithWindow sets the merge window. Zero normalises each event on its own.
func WithWindow(d time.Duration) Option {
	return func(f *FanIn) {
		if d >= 0 {
			f.window = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *FanIn) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithEventHook registers a callback invoked for each received event.
func WithEventHook(fn func(source string)) Option {
	return func(f *FanIn) { f.onEvent = fn }
}

// NewFanIn creates a FanIn that hands normalised batches to flush.
func NewFanIn(n Normalizer, flush FlushFunc, opts ...Option) *FanIn {
	f := &FanIn{
		normalizer: n,
		flush:      flush,
		window:     DefaultWindow,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start subscribes to every source. If one subscription fails, the ones
// already made are cancelled.
func (f *FanIn) Start(ctx context.Context, sources ...source.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started {
		return errors.ErrAlreadyStarted
	}

	subs := make([]source.Subscription, 0, len(sources))
	for _, src := range sources {
		sub, err := src.Subscribe(ctx, f.receive)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return errors.Wrap(err, "FanIn", "Start", "subscribe to "+src.Name())
		}
		subs = append(subs, sub)
	}

	f.subs = subs
	f.started = true
	f.logger.Debug("edit fan-in started", "layer", f.normalizer.Layer(), "sources", len(sources), "window", f.window)
	return nil
}

// Stop cancels all subscriptions and discards pending events.
func (f *FanIn) Stop() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	subs := f.subs
	f.subs = nil
	f.pending = nil
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()

	var firstErr error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Flush normalises pending events immediately.
func (f *FanIn) Flush() {
	f.mu.Lock()
	events := f.pending
	f.pending = nil
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()

	f.emit(events)
}

func (f *FanIn) receive(ev feature.EditEvent) {
	if f.onEvent != nil {
		f.onEvent(ev.Source)
	}

	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	if f.window == 0 {
		f.mu.Unlock()
		f.emit([]feature.EditEvent{ev})
		return
	}
	f.pending = append(f.pending, ev)
	if f.timer == nil {
		f.timer = time.AfterFunc(f.window, f.tick)
	}
	f.mu.Unlock()
}

func (f *FanIn) tick() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	events := f.pending
	f.pending = nil
	f.timer = nil
	f.mu.Unlock()

	f.emit(events)
}

func (f *FanIn) emit(events []feature.EditEvent) {
	if len(events) == 0 {
		return
	}
	cs := f.normalizer.Normalize(events...)
	if cs.IsEmpty() {
		f.logger.Debug("edit batch without source refs", "events", len(events))
		return
	}
	f.flush(cs)
}
