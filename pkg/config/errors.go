// Package config provides configuration loading and validation for cardprice.
package config

import "errors"

var (
	// ErrInvalidBackend indicates that cache.backend is not supported.
	ErrInvalidBackend = errors.New("invalid cache backend")
	// ErrDSNRequired indicates that the postgres backend has no dsn.
	ErrDSNRequired = errors.New("cache.dsn must be specified for the postgres backend")
	// ErrPathRequired indicates that the sqlite backend has no path.
	ErrPathRequired = errors.New("cache.path must be specified for the sqlite backend")
	// ErrRedisAddrRequired indicates that the redis backend has no address.
	ErrRedisAddrRequired = errors.New("cache.redis.addr must be specified for the redis backend")
	// ErrInvalidTTL indicates a non-positive cache ttl.
	ErrInvalidTTL = errors.New("cache.ttl must be positive")
	// ErrTLSConfigIncomplete indicates that TLS config is incomplete.
	ErrTLSConfigIncomplete = errors.New("TLS cert and key must be specified when TLS is enabled")
	// ErrTLSCertNotFound indicates that the TLS cert file was not found.
	ErrTLSCertNotFound = errors.New("TLS cert file not found")
	// ErrTLSKeyNotFound indicates that the TLS key file was not found.
	ErrTLSKeyNotFound = errors.New("TLS key file not found")
	// ErrNoSourcesEnabled indicates that no sources are enabled.
	ErrNoSourcesEnabled = errors.New("no sources enabled")
	// ErrSourceNameRequired indicates that source name is required.
	ErrSourceNameRequired = errors.New("source name is required")
	// ErrDuplicateSource indicates that a source is configured twice.
	ErrDuplicateSource = errors.New("duplicate source")
	// ErrSourceWeightMustBeNonNegative indicates that source weight must be >= 0.
	ErrSourceWeightMustBeNonNegative = errors.New("weight must be >= 0")
	// ErrInvalidRetry indicates an unusable retry policy.
	ErrInvalidRetry = errors.New("invalid retry policy")
	// ErrInvalidSchedule indicates a refresh schedule cron cannot parse.
	ErrInvalidSchedule = errors.New("invalid refresh schedule")
	// ErrInvalidRefresh indicates non-positive refresh batch settings.
	ErrInvalidRefresh = errors.New("invalid refresh settings")
	// ErrInvalidConfidence indicates a confidence threshold outside 0..100.
	ErrInvalidConfidence = errors.New("min_ai_confidence must be between 0 and 100")
	// ErrInvalidLogLevel indicates that the log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat indicates that the log format is invalid.
	ErrInvalidLogFormat = errors.New("invalid log format")
)
