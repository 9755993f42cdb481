package sources

import (
	"context"

	"github.com/shopspring/decimal"
)

// Category classifies an item and decides which sources are asked about it.
type Category string

const (
	CategoryGraded   Category = "graded"
	CategorySealed   Category = "sealed"
	CategoryPokemon  Category = "pokemon"
	CategoryMTG      Category = "mtg"
	CategoryYugioh   Category = "yugioh"
	CategoryOnePiece Category = "onepiece"
	CategoryLorcana  Category = "lorcana"
	CategoryGeneric  Category = "tcg"
)

// Query identifies one item to price.
type Query struct {
	Name           string   `json:"name"`
	SetName        string   `json:"set_name,omitempty"`
	CardNumber     string   `json:"card_number,omitempty"`
	Variant        string   `json:"variant,omitempty"`
	Category       Category `json:"category,omitempty"`
	GradingCompany string   `json:"grading_company,omitempty"`
	Grade          string   `json:"grade,omitempty"`
	ExternalID     string   `json:"external_id,omitempty"`
	ForceRefresh   bool     `json:"force_refresh,omitempty"`
}

// IsGraded reports whether the query asks for a graded price.
func (q Query) IsGraded() bool {
	return q.GradingCompany != "" && q.Grade != ""
}

// Quote is one source's opinion about a query.
type Quote struct {
	Price    decimal.Decimal
	LowPrice decimal.NullDecimal
	// Confidence is the source's own score (0-100). Zero means the source does not score itself.
	Confidence int
	// Matched is the title of the record the price was taken from.
	Matched string
}

// Source is a single external pricing provider.
//
// Lookup returns (nil, nil) when the provider has no matching record. Errors are
// reserved for network, auth and payload failures.
type Source interface {
	// Name returns the unique name of this source
	Name() string

	// Weight returns the provider trust coefficient used when combining quotes
	Weight() float64

	// Configured reports whether the credentials the source needs are present
	Configured() bool

	// Lookup prices a single item
	Lookup(ctx context.Context, q Query) (*Quote, error)
}

// SourceFactory is a function that creates a new Source instance
type SourceFactory func(config map[string]interface{}) (Source, error)
