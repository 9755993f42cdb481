package aggregator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/cardprice/pkg/server/sources"
)

// SourceResult is one source's priced opinion. Weight is the source's raw
// trust coefficient, normalized only when results are combined.
type SourceResult struct {
	Source     string              `json:"source"`
	Price      decimal.Decimal     `json:"price"`
	LowPrice   decimal.NullDecimal `json:"low_price"`
	Weight     float64             `json:"weight"`
	Confidence int                 `json:"confidence,omitempty"`
	Matched    string              `json:"matched,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
}

// PriceRange is the [min, max] of the prices that were combined.
type PriceRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// AggregatedPrice is the outcome of one aggregation. MarketPrice is null when
// no source contributed; that is a valid result, not an error.
type AggregatedPrice struct {
	MarketPrice   decimal.NullDecimal `json:"market_price"`
	LowestListed  decimal.NullDecimal `json:"lowest_listed"`
	Confidence    int                 `json:"confidence"`
	Sources       []string            `json:"sources"`
	SourceCount   int                 `json:"source_count"`
	PriceRange    *PriceRange         `json:"price_range,omitempty"`
	Cached        bool                `json:"cached"`
	CacheAgeHours *float64            `json:"cache_age_hours,omitempty"`
	ProductID     string              `json:"product_id,omitempty"`
	Category      sources.Category    `json:"category,omitempty"`
	Results       []SourceResult      `json:"results,omitempty"`
	Errors        []string            `json:"errors,omitempty"`
	Query         sources.Query       `json:"-"`
	UpdatedAt     time.Time           `json:"updated_at"`
}
