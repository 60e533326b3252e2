// Package notify delivers user-facing notices about propagation outcomes.
// Delivery is fire and forget; sinks never report failure to the caller.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Severity classifies a notice.
type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// DefaultDuration returns the display duration hint for s.
func (s Severity) DefaultDuration() time.Duration {
	switch s {
	case Warning:
		return 5 * time.Second
	case Error:
		return 6 * time.Second
	default:
		return 3 * time.Second
	}
}

// Level maps the severity to a log level.
func (s Severity) Level() slog.Level {
	switch s {
	case Warning:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Notice is one message for the user.
type Notice struct {
	Message  string        `json:"message"`
	Severity Severity      `json:"severity"`
	Duration time.Duration `json:"-"`
}

// New creates a notice with the default duration for its severity.
func New(severity Severity, message string) Notice {
	return Notice{Message: message, Severity: severity, Duration: severity.DefaultDuration()}
}

// MarshalJSON renders the duration hint in milliseconds.
func (n Notice) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Message    string   `json:"message"`
		Severity   Severity `json:"severity"`
		DurationMS int64    `json:"durationMs"`
	}{n.Message, n.Severity, n.Duration.Milliseconds()})
}

// Sink receives notices.
type Sink interface {
	Notify(n Notice)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notice)

// Notify implements Sink.
func (f SinkFunc) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Sink = SinkFunc(func(Notice) {})

// LogSink writes notices to a logger.
type LogSink struct {
	Logger *slog.Logger
}

// Notify implements Sink.
func (s LogSink) Notify(n Notice) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(context.Background(), n.Severity.Level(), n.Message,
		"severity", string(n.Severity), "duration", n.Duration)
}

// Fanout delivers each notice to every sink in order.
type Fanout []Sink

// Notify implements Sink.
func (f Fanout) Notify(n Notice) {
	for _, s := range f {
		if s != nil {
			s.Notify(n)
		}
	}
}
