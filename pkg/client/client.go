package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/StrathCole/cardprice/pkg/server/api"
	"github.com/StrathCole/cardprice/pkg/server/refresh"
	"github.com/StrathCole/cardprice/pkg/version"
)

// Client prices cards through a cardprice server.
type Client interface {
	GetPrice(ctx context.Context, req api.PriceRequest) (*api.PriceResponse, error)
	Refresh(ctx context.Context) (*refresh.Summary, error)
}

// HTTPError is a non-2xx reply. It unwraps to ErrServerHTTPError.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("price server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap implements errors unwrapping.
func (e *HTTPError) Unwrap() error {
	return ErrServerHTTPError
}

// HTTPClient implements Client using HTTP requests. Endpoints are tried in
// order; the next one is used only on transport errors and 5xx replies.
type HTTPClient struct {
	endpoints []string
	client    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for baseURL with optional fallback URLs.
func NewHTTPClient(baseURL string, fallbackURLs []string, timeout time.Duration) (*HTTPClient, error) {
	var endpoints []string
	for _, u := range append([]string{baseURL}, fallbackURLs...) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			endpoints = append(endpoints, u)
		}
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return &HTTPClient{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

// GetPrice posts req to /v1/price.
func (c *HTTPClient) GetPrice(ctx context.Context, req api.PriceRequest) (*api.PriceResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	var resp api.PriceResponse
	if err := c.do(ctx, http.MethodPost, "/v1/price", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh triggers a bulk refresh and waits for its summary.
func (c *HTTPClient) Refresh(ctx context.Context) (*refresh.Summary, error) {
	var summary refresh.Summary
	if err := c.do(ctx, http.MethodPost, "/v1/refresh", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var lastErr error
	for _, base := range c.endpoints {
		err := c.once(ctx, method, base+path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode < 500 {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return lastErr
}

func (c *HTTPClient) once(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", version.AgentString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach price server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(data))
		var apiErr api.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
