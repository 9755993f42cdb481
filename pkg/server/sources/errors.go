// Package sources provides the pricing source contract, shared adapter plumbing
// and the candidate selector used by the individual providers.
package sources

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrProviderAuth indicates the provider rejected our credentials. Never retried.
	ErrProviderAuth = errors.New("provider rejected credentials")
	// ErrNotConfigured indicates the source has no credentials configured.
	ErrNotConfigured = errors.New("source not configured")
	// ErrRateLimitExceeded indicates that a rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidResponse indicates an invalid response from the source.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrInvalidConfig indicates that the source configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrUnknownSource indicates that no factory is registered under the name.
	ErrUnknownSource = errors.New("unknown source")
)

// StatusError is a non-2xx provider response.
type StatusError struct {
	Source     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected HTTP status %d", e.Source, e.StatusCode)
}

// Retryable returns true for statuses worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Unwrap maps auth and rate-limit statuses onto the sentinel errors.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrProviderAuth
	case http.StatusTooManyRequests:
		return ErrRateLimitExceeded
	}
	return nil
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
