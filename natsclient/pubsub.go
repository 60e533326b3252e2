package natsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/featuresync/errors"
)

// HandlerTimeout bounds the context handed to message handlers.
const HandlerTimeout = 30 * time.Second

// Subscribe subscribes to a core NATS subject. Each handler call receives a
// context derived from ctx with HandlerTimeout applied. The returned
// subscription is also released by Close.
func (m *Client) Subscribe(
	ctx context.Context,
	subject string,
	handler func(context.Context, []byte),
) (*nats.Subscription, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil, ErrNotConnected
	}

	sub, err := m.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, HandlerTimeout)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		m.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "Subscribe", fmt.Sprintf("subscribe to %s", subject))
	}

	m.subs = append(m.subs, sub)
	return sub, nil
}

// Publish publishes a message to a core NATS subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	if err := m.ready(); err != nil {
		return err
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.Publish(subject, data); err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "Publish", fmt.Sprintf("publish to %s", subject))
	}
	return nil
}

// JetStream returns the JetStream context
func (m *Client) JetStream() (jetstream.JetStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.js == nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("JetStream not initialized"),
			"Client", "JetStream", "get JetStream context")
	}
	return m.js, nil
}

func (m *Client) jetStream() (jetstream.JetStream, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	js, err := m.JetStream()
	if err != nil {
		m.recordFailure()
		return nil, err
	}
	return js, nil
}

// CreateStream creates or updates a JetStream stream
func (m *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := m.jetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		m.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "CreateStream", fmt.Sprintf("create stream %s", cfg.Name))
	}

	m.resetCircuit()
	return stream, nil
}

// PublishToStream publishes to a subject bound to a JetStream stream and
// waits for the server ack.
func (m *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := m.jetStream()
	if err != nil {
		return err
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "PublishToStream", fmt.Sprintf("publish to %s", subject))
	}

	m.resetCircuit()
	return nil
}

// ConsumeStream attaches a consumer to streamName filtered on subject.
// A non-empty durable name makes the consumer survive restarts. Messages
// are acked when handler returns nil and nacked otherwise, so delivery is
// at-least-once. Starting a consumer with a key already in use replaces
// the previous one.
func (m *Client) ConsumeStream(
	ctx context.Context,
	streamName, durable, subject string,
	handler func(context.Context, []byte) error,
) (jetstream.ConsumeContext, error) {
	js, err := m.jetStream()
	if err != nil {
		return nil, err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		m.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "ConsumeStream",
			fmt.Sprintf("create consumer on %s", streamName))
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, HandlerTimeout)
		defer cancel()

		if err := handler(msgCtx, msg.Data()); err != nil {
			m.logger.Warn("Handler rejected stream message", "stream", streamName, "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		m.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "ConsumeStream", "start consuming")
	}

	m.consumersMu.Lock()
	defer m.consumersMu.Unlock()

	if m.closed.Load() {
		cc.Stop()
		return nil, ErrClosed
	}
	if m.consumers == nil {
		m.consumers = make(map[string]jetstream.ConsumeContext)
	}
	key := streamName + ":" + subject
	if existing, ok := m.consumers[key]; ok {
		existing.Stop()
		m.logger.Debug("Replaced consumer", "consumer", key)
	}
	m.consumers[key] = cc

	m.resetCircuit()
	return cc, nil
}
