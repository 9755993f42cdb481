package config

import (
	"time"

	"github.com/StrathCole/cardprice/pkg/retry"
)

// Config is the root configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Cache      CacheConfig      `yaml:"cache"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Retry      RetryConfig      `yaml:"retry"`
	Refresh    RefreshConfig    `yaml:"refresh"`
	Sources    []SourceConfig   `yaml:"sources"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	HTTP           HTTPConfig      `yaml:"http"`
	WebSocket      WSConfig        `yaml:"websocket"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	RequestTimeout Duration        `yaml:"request_timeout"`
	TrustProxy     bool            `yaml:"trust_proxy"`
}

// HTTPConfig configures the HTTP server
type HTTPConfig struct {
	Addr string    `yaml:"addr"`
	TLS  TLSConfig `yaml:"tls"`
}

// WSConfig enables the /v1/stream endpoint
type WSConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TLSConfig holds TLS certificate configuration
type TLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// RateLimitConfig is the per-client token bucket. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Cache backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// CacheConfig selects and configures the price store
type CacheConfig struct {
	Backend      string      `yaml:"backend"`
	TTL          Duration    `yaml:"ttl"`
	DSN          string      `yaml:"dsn"`
	MaxConns     int         `yaml:"max_conns"`
	Path         string      `yaml:"path"`
	EnsureSchema bool        `yaml:"ensure_schema"`
	Redis        RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis backend
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AggregatorConfig tunes aggregation
type AggregatorConfig struct {
	AdapterTimeout  Duration            `yaml:"adapter_timeout"`
	MinAIConfidence int                 `yaml:"min_ai_confidence"`
	DefaultCategory string              `yaml:"default_category"`
	FallbackSource  string              `yaml:"fallback_source"`
	Categories      map[string][]string `yaml:"categories"`
}

// RetryConfig is the outbound retry policy shared by all sources
type RetryConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	BaseDelay      Duration `yaml:"base_delay"`
	MaxDelay       Duration `yaml:"max_delay"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
}

// Policy converts the section into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay.ToDuration(),
		MaxDelay:    r.MaxDelay.ToDuration(),
		Timeout:     r.AttemptTimeout.ToDuration(),
	}
}

// RefreshConfig configures the bulk refresh of unpriced items
type RefreshConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Schedule   string   `yaml:"schedule"`
	BatchSize  int      `yaml:"batch_size"`
	BatchDelay Duration `yaml:"batch_delay"`
	Limit      int      `yaml:"limit"`
}

// SourceConfig configures a price source
type SourceConfig struct {
	Name    string                 `yaml:"name"`
	Enabled bool                   `yaml:"enabled"`
	Weight  float64                `yaml:"weight"`
	Config  map[string]interface{} `yaml:"config"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a wrapper around time.Duration for YAML parsing
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
