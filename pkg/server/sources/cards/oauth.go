package cards

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/StrathCole/cardprice/pkg/retry"
	"github.com/StrathCole/cardprice/pkg/server/sources"
)

// DefaultTokenMargin is how long before expiry a cached token is replaced.
const DefaultTokenMargin = 60 * time.Second

// TokenCache hands out a bearer token, fetching a new one when needed.
type TokenCache interface {
	Token(ctx context.Context) (string, error)
}

// ClientCredentialsTokenCache is a single-slot TokenCache over the OAuth2
// client-credentials grant. Concurrent refreshes may both fetch; the last
// stored token wins.
type ClientCredentialsTokenCache struct {
	cfg    *clientcredentials.Config
	client *http.Client
	margin time.Duration
	slot   atomic.Pointer[oauth2.Token]
	now    func() time.Time
}

// NewClientCredentialsTokenCache creates a token cache. client may be nil.
func NewClientCredentialsTokenCache(cfg *clientcredentials.Config, client *http.Client, margin time.Duration) *ClientCredentialsTokenCache {
	if margin <= 0 {
		margin = DefaultTokenMargin
	}
	return &ClientCredentialsTokenCache{
		cfg:    cfg,
		client: client,
		margin: margin,
		now:    time.Now,
	}
}

// Token returns the cached access token while it is more than margin away
// from expiry, otherwise fetches and stores a new one.
func (c *ClientCredentialsTokenCache) Token(ctx context.Context) (string, error) {
	if t := c.slot.Load(); c.fresh(t) {
		return t.AccessToken, nil
	}

	if c.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	}
	t, err := c.cfg.Token(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			switch re.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return "", retry.Permanent(fmt.Errorf("%w: token endpoint returned %d", sources.ErrProviderAuth, re.Response.StatusCode))
			}
		}
		return "", fmt.Errorf("failed to fetch token: %w", err)
	}
	if t.AccessToken == "" {
		return "", retry.Permanent(ErrTokenResponse)
	}

	c.slot.Store(t)
	return t.AccessToken, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (c *ClientCredentialsTokenCache) Invalidate() {
	c.slot.Store(nil)
}

func (c *ClientCredentialsTokenCache) fresh(t *oauth2.Token) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return t.Expiry.Sub(c.now()) > c.margin
}
