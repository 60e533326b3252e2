// Package natssource receives edit notifications from NATS. Payloads are the
// JSON edit shapes decoded by source.Decode.
//
// In core mode every handler gets its own subscription on the subject. In
// stream mode a JetStream consumer is attached instead and messages are acked
// once the handler has seen them, giving at-least-once delivery; repeated
// deliveries are harmless because propagation writes are idempotent.
package natssource

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/source"
)

// Subscriber is the core NATS surface used in core mode.
// natsclient.Client satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (*nats.Subscription, error)
}

// StreamConsumer is the JetStream surface used in stream mode.
// natsclient.Client satisfies it.
type StreamConsumer interface {
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	ConsumeStream(ctx context.Context, stream, durable, subject string, handler func(context.Context, []byte) error) (jetstream.ConsumeContext, error)
}

// Source is a source.Source backed by NATS.
type Source struct {
	name    string
	subject string

	sub      Subscriber
	consumer StreamConsumer
	stream   string
	durable  string

	logger *slog.Logger

	received atomic.Int64
	rejected atomic.Int64
}

var _ source.Source = (*Source)(nil)

// Option configures a Source.
type Option func(*Source)

// WithName sets the source name used in events, logs and metrics.
func WithName(name string) Option {
	return func(s *Source) {
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a core-mode source on subject.
func New(sub Subscriber, subject string, opts ...Option) (*Source, error) {
	if sub == nil || subject == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "natssource", "New", "validate subscriber")
	}
	s := &Source{name: "nats", subject: subject, sub: sub, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "natssource", "source", s.name, "subject", subject)
	return s, nil
}

// NewStream creates a stream-mode source consuming subject from stream. The
// stream is created on first subscribe when missing. An empty durable name
// gives an ephemeral consumer.
func NewStream(consumer StreamConsumer, stream, durable, subject string, opts ...Option) (*Source, error) {
	if consumer == nil || stream == "" || subject == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "natssource", "NewStream", "validate consumer")
	}
	s := &Source{name: "jetstream", subject: subject, consumer: consumer, stream: stream, durable: durable, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "natssource", "source", s.name, "stream", stream, "subject", subject)
	return s, nil
}

// Name implements source.Source.
func (s *Source) Name() string { return s.name }

// Stats returns the number of decoded and rejected payloads.
func (s *Source) Stats() (received, rejected int64) {
	return s.received.Load(), s.rejected.Load()
}

// Subscribe implements source.Source. The handler stops receiving events as
// soon as the subscription is cancelled, even if messages are still in
// flight.
func (s *Source) Subscribe(ctx context.Context, h source.Handler) (source.Subscription, error) {
	if h == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "natssource", "Subscribe", "register nil handler")
	}

	var stopped atomic.Bool
	deliver := func(data []byte) {
		if stopped.Load() {
			return
		}
		event, err := source.Decode(s.name, data)
		if err != nil {
			s.rejected.Add(1)
			s.logger.Warn("Dropping undecodable edit payload", "error", err)
			return
		}
		s.received.Add(1)
		h(event)
	}

	if s.consumer != nil {
		return s.subscribeStream(ctx, deliver, &stopped)
	}

	sub, err := s.sub.Subscribe(ctx, s.subject, func(_ context.Context, data []byte) { deliver(data) })
	if err != nil {
		return nil, errors.Wrap(err, "natssource", "Subscribe", "subscribe to "+s.subject)
	}
	s.logger.Debug("Subscribed")

	var once sync.Once
	return source.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			stopped.Store(true)
			if sub != nil {
				err = sub.Unsubscribe()
			}
		})
		return err
	}), nil
}

func (s *Source) subscribeStream(ctx context.Context, deliver func([]byte), stopped *atomic.Bool) (source.Subscription, error) {
	if _, err := s.consumer.CreateStream(ctx, jetstream.StreamConfig{
		Name:     s.stream,
		Subjects: []string{s.subject},
	}); err != nil {
		return nil, errors.Wrap(err, "natssource", "Subscribe", "ensure stream "+s.stream)
	}

	// undecodable payloads are acked so they are not redelivered forever
	cc, err := s.consumer.ConsumeStream(ctx, s.stream, s.durable, s.subject, func(_ context.Context, data []byte) error {
		deliver(data)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "natssource", "Subscribe", "consume "+s.stream)
	}
	s.logger.Debug("Consuming stream", "durable", s.durable)

	var once sync.Once
	return source.SubscriptionFunc(func() error {
		once.Do(func() {
			stopped.Store(true)
			if cc != nil {
				cc.Stop()
			}
		})
		return nil
	}), nil
}
