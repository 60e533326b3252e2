package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/normalizer"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FEATURESYNC"

// durationKeys are the settings that accept duration strings such as "250ms"
// or "1d".
var durationKeys = [][]string{
	{"nats", "reconnect_wait"},
	{"nats", "ping_interval"},
	{"nats", "max_backoff"},
	{"nats", "drain_timeout"},
	{"store", "timeout"},
	{"sources", "websocket", "ping_interval"},
	{"propagation", "window"},
	{"propagation", "stop_timeout"},
}

// Default returns the built-in configuration: an in-memory store, the
// Laadpalen and Zoekgebieden layers and the editor WebSocket endpoint.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			PingInterval:  30 * time.Second,
			MaxBackoff:    time.Minute,
			DrainTimeout:  5 * time.Second,
		},
		Store: StoreConfig{
			Driver:    DriverMemory,
			RateLimit: 10,
			Burst:     5,
			Timeout:   30 * time.Second,
			SRID:      28992,
		},
		Layers: LayersConfig{
			Source: LayerConfig{Name: "laadpalen", Title: "Laadpalen", Field: "laadpaal_geaccepteerd"},
			Target: LayerConfig{Name: "zoekgebieden", Title: "Zoekgebieden", Field: "laadpaal_geaccepteerd"},
		},
		Sources: SourcesConfig{
			WebSocket: WebSocketConfig{
				Enabled:        true,
				Port:           8081,
				Path:           "/edits",
				MaxConnections: 100,
				PingInterval:   30 * time.Second,
			},
			NATS: NATSSourceConfig{Subject: "featuresync.edits.>"},
		},
		Notify: NotifyConfig{WebSocket: true},
		Propagation: PropagationConfig{
			Window:      normalizer.DefaultWindow,
			Workers:     4,
			QueueSize:   64,
			StopTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
	}
}

// Loader loads configuration from layered files and the environment.
// Later layers override earlier ones key by key.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{validation: true, envPrefix: EnvPrefix, getenv: os.Getenv}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges the defaults, every layer and the environment, then validates.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("load %s: %w", path, err), "config", "Load", "read layer")
		}
		merged = deepMergeMaps(merged, raw)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "config", "Load", "decode configuration")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML layer as a map with durations converted.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(raw map[string]any) error {
	for _, keys := range durationKeys {
		parent := raw
		for _, k := range keys[:len(keys)-1] {
			next, ok := parent[k].(map[string]any)
			if !ok {
				parent = nil
				break
			}
			parent = next
		}
		if parent == nil {
			continue
		}
		last := keys[len(keys)-1]
		s, ok := parent[last].(string)
		if !ok {
			continue
		}
		d, err := parseDurationWithDays(s)
		if err != nil {
			return fmt.Errorf("%s: %w", strings.Join(keys, "."), err)
		}
		parent[last] = d.Nanoseconds()
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(suffix string) (string, error) {
		key := l.envPrefix + "_" + suffix
		val := l.getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return "", errors.WrapInvalid(err, "config", "Load", "apply environment")
		}
		return val, nil
	}

	texts := []struct {
		suffix string
		dst    *string
	}{
		{"NATS_USERNAME", &cfg.NATS.Username},
		{"NATS_PASSWORD", &cfg.NATS.Password},
		{"NATS_TOKEN", &cfg.NATS.Token},
		{"STORE_DRIVER", &cfg.Store.Driver},
		{"STORE_URL", &cfg.Store.URL},
		{"STORE_DSN", &cfg.Store.DSN},
		{"STORE_TOKEN", &cfg.Store.Token},
		{"WEBSOCKET_TOKEN", &cfg.Sources.WebSocket.Token},
		{"NOTIFY_SUBJECT", &cfg.Notify.Subject},
	}
	for _, o := range texts {
		val, err := lookup(o.suffix)
		if err != nil {
			return err
		}
		if val != "" {
			*o.dst = val
		}
	}

	urls, err := lookup("NATS_URLS")
	if err != nil {
		return err
	}
	if urls != "" {
		cfg.NATS.URLs = splitList(urls)
	}

	rateLimit, err := lookup("STORE_RATE_LIMIT")
	if err != nil {
		return err
	}
	if rateLimit != "" {
		v, err := strconv.ParseFloat(rateLimit, 64)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%s_STORE_RATE_LIMIT: %w", l.envPrefix, err), "config", "Load", "apply environment")
		}
		cfg.Store.RateLimit = v
	}

	bools := []struct {
		suffix string
		dst    *bool
	}{
		{"WEBSOCKET_ENABLED", &cfg.Sources.WebSocket.Enabled},
		{"NATS_SOURCE_ENABLED", &cfg.Sources.NATS.Enabled},
		{"METRICS_ENABLED", &cfg.Metrics.Enabled},
	}
	for _, o := range bools {
		val, err := lookup(o.suffix)
		if err != nil {
			return err
		}
		if val == "" {
			continue
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%s_%s: %w", l.envPrefix, o.suffix, err), "config", "Load", "apply environment")
		}
		*o.dst = b
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
