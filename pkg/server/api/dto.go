package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/cardprice/pkg/server/aggregator"
	"github.com/StrathCole/cardprice/pkg/server/sources"
)

// PriceRequest is the body of POST /v1/price.
type PriceRequest struct {
	Name           string `json:"name"`
	SetName        string `json:"setName,omitempty"`
	CardNumber     string `json:"cardNumber,omitempty"`
	Variant        string `json:"variant,omitempty"`
	Category       string `json:"category,omitempty"`
	GradingCompany string `json:"gradingCompany,omitempty"`
	Grade          string `json:"grade,omitempty"`
	ExternalID     string `json:"externalId,omitempty"`
	ForceRefresh   bool   `json:"forceRefresh,omitempty"`
}

// Query converts the request into an aggregator query.
func (r PriceRequest) Query() (sources.Query, error) {
	q := sources.Query{
		Name:           strings.TrimSpace(r.Name),
		SetName:        strings.TrimSpace(r.SetName),
		CardNumber:     strings.TrimSpace(r.CardNumber),
		Variant:        strings.TrimSpace(r.Variant),
		Category:       sources.Category(strings.ToLower(strings.TrimSpace(r.Category))),
		GradingCompany: strings.TrimSpace(r.GradingCompany),
		Grade:          strings.TrimSpace(r.Grade),
		ExternalID:     strings.TrimSpace(r.ExternalID),
		ForceRefresh:   r.ForceRefresh,
	}
	if q.Name == "" && q.ExternalID == "" {
		return q, fmt.Errorf("%w: name or externalId is required", aggregator.ErrInvalidQuery)
	}
	return q, nil
}

// requestFromValues reads GET /v1/price query parameters.
func requestFromValues(v url.Values) (PriceRequest, error) {
	req := PriceRequest{
		Name:           v.Get("name"),
		SetName:        v.Get("set"),
		CardNumber:     v.Get("number"),
		Variant:        v.Get("variant"),
		Category:       v.Get("category"),
		GradingCompany: v.Get("grading_company"),
		Grade:          v.Get("grade"),
		ExternalID:     v.Get("external_id"),
	}
	if raw := v.Get("force_refresh"); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			return req, fmt.Errorf("%w: force_refresh must be a boolean", aggregator.ErrInvalidQuery)
		}
		req.ForceRefresh = force
	}
	return req, nil
}

// PriceResponse is the JSON shape returned for a priced query. Prices are
// plain numbers; a null market_price means no source produced one.
type PriceResponse struct {
	MarketPrice   *float64         `json:"market_price"`
	LowestListed  *float64         `json:"lowest_listed"`
	Confidence    int              `json:"confidence"`
	Sources       []string         `json:"sources"`
	SourceCount   int              `json:"source_count"`
	PriceRange    []float64        `json:"price_range,omitempty"`
	Cached        bool             `json:"cached"`
	CacheAgeHours *float64         `json:"cache_age_hours,omitempty"`
	ProductID     string           `json:"product_id,omitempty"`
	Category      string           `json:"category,omitempty"`
	Results       []SourceResponse `json:"results,omitempty"`
	Errors        []string         `json:"errors,omitempty"`
}

// SourceResponse is one contributing source inside a PriceResponse.
type SourceResponse struct {
	Source     string   `json:"source"`
	Price      float64  `json:"price"`
	LowPrice   *float64 `json:"low_price,omitempty"`
	Weight     float64  `json:"weight"`
	Confidence int      `json:"confidence,omitempty"`
	Matched    string   `json:"matched,omitempty"`
}

func newPriceResponse(p *aggregator.AggregatedPrice) PriceResponse {
	resp := PriceResponse{
		MarketPrice:   nullFloat(p.MarketPrice),
		LowestListed:  nullFloat(p.LowestListed),
		Confidence:    p.Confidence,
		Sources:       p.Sources,
		SourceCount:   p.SourceCount,
		Cached:        p.Cached,
		CacheAgeHours: p.CacheAgeHours,
		ProductID:     p.ProductID,
		Category:      string(p.Category),
		Errors:        p.Errors,
	}
	if resp.Sources == nil {
		resp.Sources = []string{}
	}
	if p.PriceRange != nil {
		resp.PriceRange = []float64{cents(p.PriceRange.Min), cents(p.PriceRange.Max)}
	}
	for _, r := range p.Results {
		resp.Results = append(resp.Results, SourceResponse{
			Source:     r.Source,
			Price:      cents(r.Price),
			LowPrice:   nullFloat(r.LowPrice),
			Weight:     r.Weight,
			Confidence: r.Confidence,
			Matched:    r.Matched,
		})
	}
	return resp
}

func nullFloat(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := cents(d.Decimal)
	return &f
}

// cents rounds an engine price to whole cents for the wire.
func cents(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}
