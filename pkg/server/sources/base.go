package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/StrathCole/cardprice/pkg/logging"
	"github.com/StrathCole/cardprice/pkg/retry"
	"github.com/StrathCole/cardprice/pkg/version"
)

const (
	defaultTimeout  = 5 * time.Second
	maxResponseSize = 4 << 20
)

// BaseSource provides common functionality for all pricing sources:
// identity, weight, a rate limited HTTP client and the retry policy.
type BaseSource struct {
	name    string
	weight  float64
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	logger  *logging.Logger
}

// NewBaseSource builds the shared plumbing from a factory config map.
// Recognized keys: logger, weight, base_url, timeout (ms or duration string),
// rate_limit (requests per second), burst, retry (retry.Policy), http_client (*http.Client).
func NewBaseSource(name, defaultBaseURL string, defaultWeight float64, config map[string]interface{}) *BaseSource {
	timeout := GetDuration(config, "timeout", defaultTimeout)

	policy := retry.DefaultPolicy()
	if p, ok := config["retry"].(retry.Policy); ok && p.MaxAttempts > 0 {
		policy = p
	}
	policy.Timeout = timeout

	client, ok := config["http_client"].(*http.Client)
	if !ok || client == nil {
		// Backstop only; each attempt is bounded by the retry policy timeout.
		client = &http.Client{Timeout: timeout + time.Second}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps := GetFloat(config, "rate_limit", 0); rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), GetInt(config, "burst", 1))
	}

	weight := GetFloat(config, "weight", 0)
	if weight <= 0 {
		weight = defaultWeight
	}

	return &BaseSource{
		name:    name,
		weight:  weight,
		baseURL: GetString(config, "base_url", defaultBaseURL),
		client:  client,
		limiter: limiter,
		policy:  policy,
		logger:  GetLoggerFromConfig(config).With("source", name),
	}
}

// Name returns the source name
func (b *BaseSource) Name() string {
	return b.name
}

// Weight returns the trust coefficient of this source
func (b *BaseSource) Weight() float64 {
	return b.weight
}

// BaseURL returns the provider API root
func (b *BaseSource) BaseURL() string {
	return b.baseURL
}

// Logger returns the logger
func (b *BaseSource) Logger() *logging.Logger {
	return b.logger
}

// Policy returns the retry policy used for provider calls
func (b *BaseSource) Policy() retry.Policy {
	return b.policy
}

// Fetch performs one logical provider call with rate limiting and retries.
// newReq is invoked for every attempt with that attempt's context.
// 401/403 and other non-retryable statuses end the retry loop immediately.
func (b *BaseSource) Fetch(ctx context.Context, operation string, newReq func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	return retry.DoValue(ctx, b.policy, b.logger, b.name+"."+operation, func(ctx context.Context) ([]byte, error) {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := newReq(ctx)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("User-Agent", version.AgentString())
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "application/json")
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", operation, err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &StatusError{Source: b.name, StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
			if errors.Is(serr, ErrRateLimitExceeded) {
				b.logger.Warn("Rate limit exceeded", "operation", operation)
			}
			if !serr.Retryable() {
				return nil, retry.Permanent(serr)
			}
			return nil, serr
		}

		return body, nil
	})
}

// GetJSON is Fetch for a plain GET with optional headers.
func (b *BaseSource) GetJSON(ctx context.Context, operation, url string, headers map[string]string) ([]byte, error) {
	return b.Fetch(ctx, operation, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
