package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks configuration for errors
func Validate(cfg *Config) error {
	if err := validateServerConfig(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateCacheConfig(&cfg.Cache); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if cfg.Aggregator.MinAIConfidence < 0 || cfg.Aggregator.MinAIConfidence > 100 {
		return fmt.Errorf("aggregator config: %w", ErrInvalidConfidence)
	}

	if cfg.Retry.MaxAttempts < 1 || cfg.Retry.BaseDelay < 0 || cfg.Retry.AttemptTimeout < 0 {
		return fmt.Errorf("retry config: %w: max_attempts must be >= 1 and delays non-negative", ErrInvalidRetry)
	}

	if err := validateRefreshConfig(&cfg.Refresh); err != nil {
		return fmt.Errorf("refresh config: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Sources))
	for i, source := range cfg.Sources {
		if err := validateSourceConfig(&source); err != nil {
			return fmt.Errorf("source %d (%s): %w", i, source.Name, err)
		}
		if seen[source.Name] {
			return fmt.Errorf("source %d: %w: %s", i, ErrDuplicateSource, source.Name)
		}
		seen[source.Name] = true
	}
	if len(cfg.EnabledSources()) == 0 {
		return ErrNoSourcesEnabled
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func validateServerConfig(cfg *ServerConfig) error {
	if cfg.HTTP.TLS.Enabled {
		if cfg.HTTP.TLS.Cert == "" || cfg.HTTP.TLS.Key == "" {
			return ErrTLSConfigIncomplete
		}
		if _, err := os.Stat(cfg.HTTP.TLS.Cert); err != nil {
			return fmt.Errorf("%w: %s", ErrTLSCertNotFound, cfg.HTTP.TLS.Cert)
		}
		if _, err := os.Stat(cfg.HTTP.TLS.Key); err != nil {
			return fmt.Errorf("%w: %s", ErrTLSKeyNotFound, cfg.HTTP.TLS.Key)
		}
	}
	return nil
}

func validateCacheConfig(cfg *CacheConfig) error {
	if cfg.TTL <= 0 {
		return ErrInvalidTTL
	}
	switch cfg.Backend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.DSN == "" {
			return ErrDSNRequired
		}
	case BackendSQLite:
		if cfg.Path == "" {
			return ErrPathRequired
		}
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return ErrRedisAddrRequired
		}
	default:
		return fmt.Errorf("%w: %s (must be one of: memory, postgres, sqlite, redis)", ErrInvalidBackend, cfg.Backend)
	}
	return nil
}

func validateRefreshConfig(cfg *RefreshConfig) error {
	if cfg.BatchSize < 1 || cfg.Limit < 1 || cfg.BatchDelay < 0 {
		return fmt.Errorf("%w: batch_size and limit must be >= 1", ErrInvalidRefresh)
	}
	if cfg.Enabled {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, cfg.Schedule, err)
		}
	}
	return nil
}

func validateSourceConfig(cfg *SourceConfig) error {
	if cfg.Name == "" {
		return ErrSourceNameRequired
	}
	if cfg.Weight < 0 {
		return ErrSourceWeightMustBeNonNegative
	}
	return nil
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, l := range validLevels {
		if strings.ToLower(cfg.Level) == l {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("%w: %s (must be one of: %s)", ErrInvalidLogLevel, cfg.Level, strings.Join(validLevels, ", "))
	}

	format := strings.ToLower(cfg.Format)
	if format != "json" && format != "text" {
		return fmt.Errorf("%w: %s (must be 'json' or 'text')", ErrInvalidLogFormat, cfg.Format)
	}

	return nil
}
