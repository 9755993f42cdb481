// Package store persists the last known aggregated price of each item.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/cardprice/pkg/server/sources"
)

// DefaultTTL is how long a stored price is served without refreshing.
const DefaultTTL = 24 * time.Hour

var (
	// ErrInvalidIdentity indicates an identity with neither external id nor name.
	ErrInvalidIdentity = errors.New("identity needs an external id or a name")
	// ErrClosed indicates the store was used after Close.
	ErrClosed = errors.New("store is closed")
)

// Identity names one stored item. ExternalID wins over the name triple.
type Identity struct {
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name"`
	SetName    string `json:"set_name,omitempty"`
	CardNumber string `json:"card_number,omitempty"`
}

// IdentityFromQuery extracts the identity part of a price query.
func IdentityFromQuery(q sources.Query) Identity {
	return Identity{
		ExternalID: strings.TrimSpace(q.ExternalID),
		Name:       strings.TrimSpace(q.Name),
		SetName:    strings.TrimSpace(q.SetName),
		CardNumber: strings.TrimSpace(q.CardNumber),
	}
}

// Valid reports whether the identity can address a record.
func (i Identity) Valid() bool {
	return i.ExternalID != "" || strings.TrimSpace(i.Name) != ""
}

// Key is the unique upsert key: the same identity always maps to the same key.
func (i Identity) Key() string {
	if i.ExternalID != "" {
		return "ext:" + i.ExternalID
	}
	return "name:" + NormalizedName(i.Name) + "|" + sources.NormalizeText(i.SetName) + "|" + sources.NormalizeNumber(i.CardNumber)
}

// NormalizedName is the case-insensitive form names are matched on.
func NormalizedName(name string) string {
	return sources.NormalizeText(name)
}

// Matches reports whether a stored identity answers a name lookup: the names
// are equal ignoring case and the set and number agree where the lookup has them.
func (i Identity) Matches(lookup Identity) bool {
	if NormalizedName(i.Name) != NormalizedName(lookup.Name) {
		return false
	}
	if lookup.SetName != "" && sources.NormalizeText(i.SetName) != sources.NormalizeText(lookup.SetName) {
		return false
	}
	if lookup.CardNumber != "" && sources.NormalizeNumber(i.CardNumber) != sources.NormalizeNumber(lookup.CardNumber) {
		return false
	}
	return true
}

// Record is the last known aggregated price of one item.
type Record struct {
	ID string `json:"id"`
	Identity
	MarketPrice  decimal.NullDecimal `json:"market_price"`
	LowestListed decimal.NullDecimal `json:"lowest_listed"`
	Source       string              `json:"source"`
	Confidence   int                 `json:"confidence"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Age is the time since the record was last updated.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.UpdatedAt)
}

// Fresh reports whether the record may be served instead of refreshing.
func (r *Record) Fresh(now time.Time, ttl time.Duration) bool {
	return r != nil && r.MarketPrice.Valid && r.Age(now) < ttl
}

// Store is the read/write contract against persisted item prices.
type Store interface {
	// Get returns the record for an identity, or nil when there is none.
	// An external id match is preferred; otherwise the most recently updated
	// name match narrowed by set and number where given.
	Get(ctx context.Context, id Identity) (*Record, error)

	// Upsert creates the record on first write for its identity and updates
	// it in place afterwards. It returns the record id.
	Upsert(ctx context.Context, rec Record) (string, error)

	// ListMissingPrice returns up to limit records without a market price,
	// least recently updated first.
	ListMissingPrice(ctx context.Context, limit int) ([]Record, error)

	Close() error
}
