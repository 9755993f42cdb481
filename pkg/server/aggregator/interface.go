// Package aggregator combines pricing source quotes into one market price.
package aggregator

import (
	"context"
	"time"

	"github.com/StrathCole/cardprice/pkg/server/sources"
	"github.com/StrathCole/cardprice/pkg/server/sources/cards"
	"github.com/StrathCole/cardprice/pkg/store"
)

const (
	// DefaultAdapterTimeout bounds each source call independently of the caller.
	DefaultAdapterTimeout = 5 * time.Second
	// DefaultMinAIConfidence is the self-score a quote needs to be used.
	DefaultMinAIConfidence = 40
)

// Pricer prices one item. Aggregator is the production implementation.
type Pricer interface {
	Aggregate(ctx context.Context, q sources.Query) (*AggregatedPrice, error)
}

// Listener receives every freshly aggregated (not cached) price.
type Listener func(p *AggregatedPrice)

// Config holds aggregator configuration.
type Config struct {
	// TTL is how long a stored price is served without fan-out.
	TTL time.Duration
	// AdapterTimeout bounds every source lookup.
	AdapterTimeout time.Duration
	// MinAIConfidence is the minimum self-score for self-scoring sources.
	MinAIConfidence int
	// DefaultCategory is used when no inference rule matches.
	DefaultCategory sources.Category
	// CategorySources overrides the source list of individual categories.
	CategorySources map[sources.Category][]string
	// Rules replaces the category inference rules when non-empty.
	Rules []Rule
	// FallbackSource is asked when no other source produced a price.
	FallbackSource string
}

// DefaultCategorySources lists the sources asked for each category.
func DefaultCategorySources() map[sources.Category][]string {
	standard := []string{cards.NameTCGDB, cards.NameEbay, cards.NamePriceCharting}
	return map[sources.Category][]string{
		sources.CategoryGraded:   {cards.NameGraded, cards.NamePriceCharting, cards.NameEbay},
		sources.CategorySealed:   {cards.NameTCGDB, cards.NameEbay, cards.NamePriceCharting},
		sources.CategoryPokemon:  {cards.NamePokemonTCG, cards.NameTCGDB, cards.NameEbay, cards.NamePriceCharting},
		sources.CategoryMTG:      standard,
		sources.CategoryYugioh:   standard,
		sources.CategoryOnePiece: standard,
		sources.CategoryLorcana:  standard,
		sources.CategoryGeneric:  {cards.NameTCGDB, cards.NameEbay, cards.NamePriceCharting, cards.NameAISearch},
	}
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = store.DefaultTTL
	}
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = DefaultAdapterTimeout
	}
	if c.MinAIConfidence <= 0 {
		c.MinAIConfidence = DefaultMinAIConfidence
	}
	if c.DefaultCategory == "" {
		c.DefaultCategory = sources.CategoryGeneric
	}
	if len(c.Rules) == 0 {
		c.Rules = DefaultRules()
	}
	if c.FallbackSource == "" {
		c.FallbackSource = cards.NameAISearch
	}

	merged := DefaultCategorySources()
	for cat, names := range c.CategorySources {
		merged[cat] = names
	}
	c.CategorySources = merged
	return c
}
