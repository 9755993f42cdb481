package cards

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/StrathCole/cardprice/pkg/server/sources"
)

const (
	// NamePriceCharting is the registry name of the price comparison source.
	NamePriceCharting = "pricecharting"

	priceChartingBaseURL = "https://www.pricecharting.com/api"
	priceChartingWeight  = 0.6
)

var (
	productNumberRe  = regexp.MustCompile(`\s#\s?([A-Za-z0-9-]+)\s*$`)
	productVariantRe = regexp.MustCompile(`\[([^\]]+)\]`)
)

// PriceChartingSource prices items via the PriceCharting product search.
// All prices in its payload are integer cents.
// https://www.pricecharting.com/api-documentation
type PriceChartingSource struct {
	*sources.BaseSource

	token string
}

// NewPriceChartingSourceFromConfig creates a PriceChartingSource. Config: token.
func NewPriceChartingSourceFromConfig(config map[string]interface{}) (sources.Source, error) {
	return newPriceChartingSource(config), nil
}

func newPriceChartingSource(config map[string]interface{}) *PriceChartingSource {
	return &PriceChartingSource{
		BaseSource: sources.NewBaseSource(NamePriceCharting, priceChartingBaseURL, priceChartingWeight, config),
		token:      sources.GetString(config, "token", ""),
	}
}

// Configured reports whether an API token is present.
func (s *PriceChartingSource) Configured() bool {
	return s.token != ""
}

// Lookup prices an item: the grade's field for graded queries, loose (ungraded)
// price for singles and new price for sealed products.
func (s *PriceChartingSource) Lookup(ctx context.Context, q sources.Query) (*sources.Quote, error) {
	if !s.Configured() {
		return nil, fmt.Errorf("%w: %s", sources.ErrNotConfigured, s.Name())
	}

	extractors := []sources.Extractor{sources.Pennies("loose-price")}
	switch {
	case q.IsGraded():
		// Only the requested grade's field; an ungraded price is a different item.
		fieldKey, ok := GradedFieldKey(q.GradingCompany, q.Grade)
		if !ok {
			s.Logger().Debug("No price field for grade", "grading_company", q.GradingCompany, "grade", q.Grade)
			return nil, nil
		}
		extractors = []sources.Extractor{sources.Pennies(fieldKey)}
	case q.Category == sources.CategorySealed || sources.IsSealedProduct(q.Name):
		extractors = []sources.Extractor{sources.Pennies("new-price"), sources.Pennies("loose-price")}
	}

	search := sources.SearchText(q.Name, q.SetName, q.CardNumber)
	candidates, err := s.searchProducts(ctx, search)
	if err != nil {
		return nil, err
	}

	best, ok := sources.Select(candidates, q)
	if !ok {
		s.Logger().Debug("No products matched", "query", search)
		return nil, nil
	}

	price, ok := sources.FirstPrice(best.Data, extractors...)
	if !ok {
		return nil, nil
	}
	return &sources.Quote{Price: price, Matched: best.Data.Get("product-name").String()}, nil
}

// searchProducts runs one product search and parses the result into candidates.
func (s *PriceChartingSource) searchProducts(ctx context.Context, search string) ([]sources.Candidate, error) {
	params := url.Values{}
	params.Set("t", s.token)
	params.Set("q", search)

	body, err := s.GetJSON(ctx, "products", s.BaseURL()+"/products?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	if status := gjson.GetBytes(body, "status").String(); status != "" && status != "success" {
		return nil, fmt.Errorf("%w: %s", sources.ErrInvalidResponse, gjson.GetBytes(body, "error-message").String())
	}
	products := gjson.GetBytes(body, "products")
	if !products.Exists() {
		return nil, fmt.Errorf("%w: missing products", sources.ErrInvalidResponse)
	}
	return parseProductCandidates(products), nil
}

// parseProductCandidates splits "Charizard [1st Edition] #4" / "Pokemon Base Set"
// into name, variant, number and set.
func parseProductCandidates(products gjson.Result) []sources.Candidate {
	var out []sources.Candidate
	products.ForEach(func(_, p gjson.Result) bool {
		title := p.Get("product-name").String()
		c := sources.Candidate{
			ID:      p.Get("id").String(),
			SetName: strings.TrimSpace(strings.TrimPrefix(p.Get("console-name").String(), "Pokemon ")),
			Data:    p,
		}
		if m := productNumberRe.FindStringSubmatch(title); m != nil {
			c.Number = m[1]
			title = title[:len(title)-len(m[0])]
		}
		if m := productVariantRe.FindStringSubmatch(title); m != nil {
			c.Variant = strings.TrimSpace(m[1])
			title = strings.Replace(title, m[0], "", 1)
		}
		c.Name = strings.Join(strings.Fields(title), " ")
		out = append(out, c)
		return true
	})
	return out
}
