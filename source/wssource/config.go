package wssource

import (
	"fmt"
	"time"

	"github.com/c360/featuresync/errors"
)

// Config holds the WebSocket server settings.
type Config struct {
	// Port to listen on. Zero lets Start pick a free port.
	Port int `json:"port"`
	// Path of the WebSocket endpoint.
	Path string `json:"path"`
	// Token, when set, must be sent as a bearer token or a token query
	// parameter. Browsers cannot set headers on WebSocket upgrades.
	Token string `json:"-"`
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	MaxConnections  int           `json:"max_connections"`
	MaxMessageSize  int64         `json:"max_message_size"`
	ReadBufferSize  int           `json:"read_buffer_size"`
	WriteBufferSize int           `json:"write_buffer_size"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	PingInterval    time.Duration `json:"ping_interval"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Port:            8081,
		Path:            "/edits",
		MaxConnections:  100,
		MaxMessageSize:  1 << 20,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		WriteTimeout:    5 * time.Second,
		PingInterval:    30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return errors.WrapInvalid(fmt.Errorf("port %d out of range: %w", c.Port, errors.ErrInvalidConfig),
			"wssource", "Validate", "check port")
	case c.Path == "" || c.Path[0] != '/':
		return errors.WrapInvalid(fmt.Errorf("path %q must start with /: %w", c.Path, errors.ErrInvalidConfig),
			"wssource", "Validate", "check path")
	case c.MaxConnections < 0:
		return errors.WrapInvalid(fmt.Errorf("max_connections must not be negative: %w", errors.ErrInvalidConfig),
			"wssource", "Validate", "check limits")
	}
	return nil
}
