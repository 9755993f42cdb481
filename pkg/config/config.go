package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from YAML file and environment variables.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	data, err := os.ReadFile(absPath) // #nosec G304 -- Path sanitized with filepath.Clean and filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML after expanding ${VAR} references and applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = ":8080"
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.Server.RateLimit.RequestsPerSecond > 0 && cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = int(cfg.Server.RateLimit.RequestsPerSecond) + 1
	}

	// Cache defaults
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = BackendMemory
	}
	cfg.Cache.Backend = strings.ToLower(cfg.Cache.Backend)
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(24 * time.Hour)
	}
	if cfg.Cache.MaxConns == 0 {
		cfg.Cache.MaxConns = 10
	}

	// Aggregator defaults
	if cfg.Aggregator.AdapterTimeout == 0 {
		cfg.Aggregator.AdapterTimeout = Duration(5 * time.Second)
	}
	if cfg.Aggregator.MinAIConfidence == 0 {
		cfg.Aggregator.MinAIConfidence = 40
	}
	if cfg.Aggregator.DefaultCategory == "" {
		cfg.Aggregator.DefaultCategory = "tcg"
	}

	// Retry defaults
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = Duration(500 * time.Millisecond)
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = Duration(8 * time.Second)
	}
	if cfg.Retry.AttemptTimeout == 0 {
		cfg.Retry.AttemptTimeout = Duration(5 * time.Second)
	}

	// Refresh defaults
	if cfg.Refresh.Schedule == "" {
		cfg.Refresh.Schedule = "@every 6h"
	}
	if cfg.Refresh.BatchSize == 0 {
		cfg.Refresh.BatchSize = 5
	}
	if cfg.Refresh.BatchDelay == 0 {
		cfg.Refresh.BatchDelay = Duration(2 * time.Second)
	}
	if cfg.Refresh.Limit == 0 {
		cfg.Refresh.Limit = 100
	}

	// Metrics defaults
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// EnabledSources returns the enabled source entries in file order.
func (c *Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Source returns the entry with the given name.
func (c *Config) Source(name string) (*SourceConfig, bool) {
	for i := range c.Sources {
		if c.Sources[i].Name == name {
			return &c.Sources[i], true
		}
	}
	return nil, false
}

// GetString retrieves a string value from the source configuration.
func (sc *SourceConfig) GetString(key, defaultValue string) string {
	if val, ok := sc.Config[key]; ok {
		if str, ok := val.(string); ok && str != "" {
			return str
		}
	}
	return defaultValue
}

// SetDefault stores value under key unless a non-empty value is present.
func (sc *SourceConfig) SetDefault(key string, value interface{}) {
	if sc.Config == nil {
		sc.Config = make(map[string]interface{})
	}
	switch v := sc.Config[key].(type) {
	case nil:
	case string:
		if v != "" {
			return
		}
	case []interface{}:
		if len(v) > 0 {
			return
		}
	default:
		return
	}
	sc.Config[key] = value
}

// FactoryConfig returns a copy of the source's config map with the weight
// folded in, ready for sources.Create. Callers add runtime values such as
// the logger and retry policy.
func (sc *SourceConfig) FactoryConfig() map[string]interface{} {
	out := make(map[string]interface{}, len(sc.Config)+1)
	for k, v := range sc.Config {
		out[k] = v
	}
	if sc.Weight > 0 {
		out["weight"] = sc.Weight
	}
	return out
}
