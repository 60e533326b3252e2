// Package source defines edit-notification sources and the codec for the edit
// payloads reported by the browser editor.
package source

import (
	"context"
	"sync"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
)

// Handler receives edit events. It must not block for long; the pipeline
// detaches propagation from the handler.
type Handler func(event feature.EditEvent)

// Subscription is an active registration on a Source.
type Subscription interface {
	Unsubscribe() error
}

// Source emits edit events for one or more layers.
type Source interface {
	// Name identifies the source in logs and metrics.
	Name() string
	// Subscribe registers h until the returned subscription is cancelled.
	Subscribe(ctx context.Context, h Handler) (Subscription, error)
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

// Unsubscribe implements Subscription.
func (f SubscriptionFunc) Unsubscribe() error { return f() }

// Emitter is an in-process Source. Transports decode payloads and hand the
// resulting events to an Emitter.
type Emitter struct {
	name string

	mu       sync.RWMutex
	handlers map[uint64]Handler
	next     uint64
}

var _ Source = (*Emitter)(nil)

// NewEmitter creates an emitter with the given source name.
func NewEmitter(name string) *Emitter {
	return &Emitter{name: name, handlers: make(map[uint64]Handler)}
}

// Name implements Source.
func (e *Emitter) Name() string { return e.name }

// Subscribe implements Source.
func (e *Emitter) Subscribe(_ context.Context, h Handler) (Subscription, error) {
	if h == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Emitter", "Subscribe", "register nil handler")
	}

	e.mu.Lock()
	id := e.next
	e.next++
	e.handlers[id] = h
	e.mu.Unlock()

	var once sync.Once
	return SubscriptionFunc(func() error {
		once.Do(func() {
			e.mu.Lock()
			delete(e.handlers, id)
			e.mu.Unlock()
		})
		return nil
	}), nil
}

// Emit delivers event to every handler. The source name is filled in when the
// event does not carry one.
func (e *Emitter) Emit(event feature.EditEvent) {
	if event.Source == "" {
		event.Source = e.name
	}

	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Subscribers returns the number of active handlers.
func (e *Emitter) Subscribers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}
