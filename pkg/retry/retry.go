// Package retry provides a bounded-attempt exponential backoff combinator
// used around every outbound provider call.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/StrathCole/cardprice/pkg/logging"
	"github.com/StrathCole/cardprice/pkg/metrics"
)

// ErrInvalidPolicy is returned when a policy allows no attempts.
var ErrInvalidPolicy = errors.New("retry policy must allow at least one attempt")

// Policy parameterizes Do.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	// BaseDelay is the wait after the first failure; it doubles after each further failure.
	BaseDelay time.Duration
	// MaxDelay caps the wait between attempts. Zero means uncapped.
	MaxDelay time.Duration
	// Timeout bounds each single attempt. Zero means only the parent context applies.
	Timeout time.Duration
}

// DefaultPolicy is three attempts of at most 5s each with 500ms base backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Timeout:     5 * time.Second,
	}
}

// Backoff returns the delay after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	// #nosec G115 -- attempt is small and positive
	d := p.BaseDelay * time.Duration(1<<uint(attempt-1))
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// sleep waits for d or until ctx is done.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs op until it succeeds, returns a permanent error, or the policy is exhausted.
// Each attempt gets its own context bounded by p.Timeout. Every failed attempt is logged.
// After the last attempt the last error is returned.
func Do(ctx context.Context, p Policy, logger *logging.Logger, operation string, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, logger, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, logger *logging.Logger, operation string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, fmt.Errorf("%w: %s", ErrInvalidPolicy, operation)
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}

		v, err := runAttempt(ctx, p.Timeout, op)
		if err == nil {
			return v, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			logger.Warn("Attempt failed with permanent error",
				"operation", operation,
				"attempt", attempt,
				"error", perm.err,
			)
			return zero, perm.err
		}

		lastErr = err
		metrics.RecordRetryFailure(operation)
		logger.Warn("Attempt failed",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"error", err,
		)

		if attempt == p.MaxAttempts {
			break
		}

		backoff := p.Backoff(attempt)
		logger.Debug("Retrying after backoff",
			"operation", operation,
			"backoff", backoff,
			"attempt", attempt+1,
		)
		if err := sleep(ctx, backoff); err != nil {
			return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}

	return zero, lastErr
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}
