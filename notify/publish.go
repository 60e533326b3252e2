package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Publisher sends raw bytes on a subject. natsclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// PublishSink publishes notices as JSON on a subject.
type PublishSink struct {
	publisher Publisher
	subject   string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewPublishSink creates a sink publishing to subject.
func NewPublishSink(p Publisher, subject string, logger *slog.Logger) *PublishSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishSink{publisher: p, subject: subject, timeout: 5 * time.Second, logger: logger}
}

// Notify implements Sink. Publish failures are logged.
func (s *PublishSink) Notify(n Notice) {
	data, err := json.Marshal(n)
	if err != nil {
		s.logger.Error("encode notice", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, s.subject, data); err != nil {
		s.logger.Warn("publish notice failed", "subject", s.subject, "error", err)
	}
}
