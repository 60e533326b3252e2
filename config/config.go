package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/c360/featuresync/errors"
)

// Store drivers.
const (
	DriverMemory         = "memory"
	DriverFeatureService = "featureservice"
	DriverPostGIS        = "postgis"
	DriverSQLite         = "sqlite"
)

// Config is the complete featuresync configuration.
type Config struct {
	NATS        NATSConfig        `json:"nats"`
	Store       StoreConfig       `json:"store"`
	Layers      LayersConfig      `json:"layers"`
	Sources     SourcesConfig     `json:"sources"`
	Notify      NotifyConfig      `json:"notify"`
	Propagation PropagationConfig `json:"propagation"`
	Metrics     MetricsConfig     `json:"metrics"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	// PingInterval and MaxBackoff tune failure detection and the circuit
	// breaker; DrainTimeout bounds the drain on shutdown.
	PingInterval time.Duration `json:"ping_interval,omitempty"`
	MaxBackoff   time.Duration `json:"max_backoff,omitempty"`
	DrainTimeout time.Duration `json:"drain_timeout,omitempty"`
	TLS          TLSConfig     `json:"tls"`
}

// TLSConfig enables TLS towards NATS. CertFile and KeyFile select a client
// certificate; CAFile adds a root CA.
type TLSConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// StoreConfig selects and configures the feature store.
type StoreConfig struct {
	Driver string `json:"driver"`
	// URL is the FeatureServer URL for the featureservice driver.
	URL string `json:"url,omitempty"`
	// DSN is the connection string for postgis, or the database file for
	// sqlite.
	DSN       string        `json:"dsn,omitempty"`
	Token     string        `json:"token,omitempty"`
	RateLimit float64       `json:"rate_limit,omitempty"`
	Burst     int           `json:"burst,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	SRID      int           `json:"srid,omitempty"`
}

// LayerConfig names a layer and its propagated field.
type LayerConfig struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
	Field string `json:"field"`
}

// LayersConfig holds the source and target layers.
type LayersConfig struct {
	Source LayerConfig `json:"source"`
	Target LayerConfig `json:"target"`
}

// SourcesConfig configures where edit notifications come from.
type SourcesConfig struct {
	WebSocket WebSocketConfig  `json:"websocket"`
	NATS      NATSSourceConfig `json:"nats"`
}

// WebSocketConfig configures the editor WebSocket endpoint.
type WebSocketConfig struct {
	Enabled        bool          `json:"enabled"`
	Port           int           `json:"port"`
	Path           string        `json:"path"`
	Token          string        `json:"token,omitempty"`
	AllowedOrigins []string      `json:"allowed_origins,omitempty"`
	MaxConnections int           `json:"max_connections,omitempty"`
	PingInterval   time.Duration `json:"ping_interval,omitempty"`
}

// NATSSourceConfig configures edit notifications over NATS. Setting Stream
// consumes through JetStream instead of a core subscription.
type NATSSourceConfig struct {
	Enabled bool   `json:"enabled"`
	Subject string `json:"subject"`
	Stream  string `json:"stream,omitempty"`
	Durable string `json:"durable,omitempty"`
}

// NotifyConfig configures where user notices go besides the log.
type NotifyConfig struct {
	// Subject publishes notices on NATS when set.
	Subject string `json:"subject,omitempty"`
	// WebSocket broadcasts notices to connected editors.
	WebSocket bool `json:"websocket"`
}

// PropagationConfig tunes the pipeline.
type PropagationConfig struct {
	Window        time.Duration `json:"window"`
	Workers       int           `json:"workers"`
	QueueSize     int           `json:"queue_size"`
	ProtectTarget bool          `json:"protect_target"`
	StopTimeout   time.Duration `json:"stop_timeout,omitempty"`
}

// MetricsConfig configures the Prometheus and health endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// UsesNATS reports whether a NATS connection is needed.
func (c *Config) UsesNATS() bool {
	return c.Sources.NATS.Enabled || c.Notify.Subject != ""
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "config", "Validate", "check configuration")
	}
	return nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Store.Driver) {
	case DriverMemory:
	case DriverFeatureService:
		if c.Store.URL == "" {
			return errors.New("store.url is required for the featureservice driver")
		}
		if c.Store.RateLimit < 0 || c.Store.Burst < 0 {
			return errors.New("store.rate_limit and store.burst must not be negative")
		}
	case DriverPostGIS:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgis driver")
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("store.driver %q is not one of memory, featureservice, postgis, sqlite", c.Store.Driver)
	}

	for name, l := range map[string]LayerConfig{"source": c.Layers.Source, "target": c.Layers.Target} {
		if l.Name == "" || l.Field == "" {
			return fmt.Errorf("layers.%s needs a name and a field", name)
		}
	}
	if strings.EqualFold(c.Layers.Source.Name, c.Layers.Target.Name) {
		return errors.New("layers.source and layers.target must differ")
	}

	if ws := c.Sources.WebSocket; ws.Enabled {
		if ws.Port < 0 || ws.Port > 65535 {
			return fmt.Errorf("sources.websocket.port %d out of range", ws.Port)
		}
		if !strings.HasPrefix(ws.Path, "/") {
			return fmt.Errorf("sources.websocket.path %q must start with /", ws.Path)
		}
	}
	if ns := c.Sources.NATS; ns.Enabled {
		if !isValidSubject(ns.Subject) {
			return fmt.Errorf("sources.nats.subject %q is not a valid NATS subject", ns.Subject)
		}
	}
	if c.Notify.Subject != "" && !isValidSubject(c.Notify.Subject) {
		return fmt.Errorf("notify.subject %q is not a valid NATS subject", c.Notify.Subject)
	}
	if c.Notify.WebSocket && !c.Sources.WebSocket.Enabled {
		return errors.New("notify.websocket requires sources.websocket.enabled")
	}
	if c.UsesNATS() && len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required when a NATS source or notify subject is configured")
	}
	if n := c.NATS; n.PingInterval < 0 || n.MaxBackoff < 0 || n.DrainTimeout < 0 {
		return errors.New("nats.ping_interval, nats.max_backoff and nats.drain_timeout must not be negative")
	}
	if t := c.NATS.TLS; (t.CertFile == "") != (t.KeyFile == "") {
		return errors.New("nats.tls.cert_file and nats.tls.key_file must be set together")
	}

	p := c.Propagation
	if p.Window < 0 {
		return errors.New("propagation.window must not be negative")
	}
	if p.Workers < 1 || p.QueueSize < 1 {
		return errors.New("propagation.workers and propagation.queue_size must be positive")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	return nil
}

// isValidSubject accepts NATS subjects made of tokens of letters, digits,
// dashes and underscores, with * and > wildcards.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	tokens := strings.Split(s, ".")
	for i, tok := range tokens {
		switch {
		case tok == "":
			return false
		case tok == "*":
		case tok == ">":
			if i != len(tokens)-1 {
				return false
			}
		default:
			for _, r := range tok {
				if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
					return false
				}
			}
		}
	}
	return true
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String renders the configuration as JSON with secrets masked.
func (c *Config) String() string {
	redacted := c.Clone()
	for _, s := range []*string{&redacted.NATS.Password, &redacted.NATS.Token, &redacted.Store.Token, &redacted.Sources.WebSocket.Token} {
		if *s != "" {
			*s = "***"
		}
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}

// SafeConfig guards a configuration that is swapped on reload.
type SafeConfig struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewSafeConfig wraps cfg.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{cfg: cfg.Clone()}
}

// Get returns a copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.cfg.Clone()
}

// Update validates cfg and makes it current.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Update", "replace configuration")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cfg = cfg.Clone()
	return nil
}
