package cards

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/StrathCole/cardprice/pkg/server/sources"
)

const (
	// NameTCGDB is the registry name of the paid singles and sealed aggregator.
	NameTCGDB = "tcgdb"

	tcgdbBaseURL       = "https://api.justtcg.com/v1"
	tcgdbWeight        = 1.0
	tcgdbMaxKeys       = 2
	tcgdbEnoughResults = 3

	conditionSealed = "Sealed"
)

var (
	tcgdbConditions = []string{"Near Mint", "Lightly Played", "Moderately Played"}
	tcgdbPrintings  = []string{"Normal", "Holofoil", "Reverse Holofoil", "1st Edition", "Unlimited"}
)

// TCGDBSource prices singles and sealed products from a paid aggregator.
// Each lookup walks progressively looser queries across up to two API keys.
type TCGDBSource struct {
	*sources.BaseSource

	keys []string
}

// NewTCGDBSourceFromConfig creates a TCGDBSource.
// Config: api_keys (list or comma separated), api_key.
func NewTCGDBSourceFromConfig(config map[string]interface{}) (sources.Source, error) {
	keys := sources.GetStringSlice(config, "api_keys")
	if k := sources.GetString(config, "api_key", ""); k != "" && len(keys) == 0 {
		keys = []string{k}
	}
	if len(keys) > tcgdbMaxKeys {
		keys = keys[:tcgdbMaxKeys]
	}

	return &TCGDBSource{
		BaseSource: sources.NewBaseSource(NameTCGDB, tcgdbBaseURL, tcgdbWeight, config),
		keys:       keys,
	}, nil
}

// Configured reports whether at least one API key is present.
func (s *TCGDBSource) Configured() bool {
	return len(s.keys) > 0
}

// Lookup prices a single or a sealed product.
func (s *TCGDBSource) Lookup(ctx context.Context, q sources.Query) (*sources.Quote, error) {
	if !s.Configured() {
		return nil, fmt.Errorf("%w: %s", sources.ErrNotConfigured, s.Name())
	}

	sealed := q.Category == sources.CategorySealed || sources.IsSealedProduct(sources.SearchText(q.Name, q.SetName))
	endpoint := "/cards"
	if sealed {
		endpoint = "/sealed"
	}

	candidates, err := s.collect(ctx, endpoint, tcgdbQueries(q))
	if err != nil {
		return nil, err
	}

	best, ok := sources.Select(candidates, q)
	if !ok {
		return nil, nil
	}

	price, ok := sources.FirstPrice(best.Data, tcgdbExtractors(q.Variant, sealed, "price")...)
	if !ok {
		s.Logger().Debug("Matched record has no price", "id", best.ID, "sealed", sealed)
		return nil, nil
	}

	quote := &sources.Quote{Price: price, Matched: best.Name}
	if low, ok := sources.FirstPrice(best.Data, tcgdbExtractors(q.Variant, sealed, "low_price")...); ok {
		quote.LowPrice = decimal.NewNullDecimal(low)
	}
	return quote, nil
}

// collect runs queries in order, each with the first key that still works, and
// stops once enough distinct candidates have accumulated.
func (s *TCGDBSource) collect(ctx context.Context, endpoint string, queries []url.Values) ([]sources.Candidate, error) {
	dead := make([]bool, len(s.keys))
	seen := make(map[string]bool)
	var (
		out     []sources.Candidate
		lastErr error
	)

	for _, params := range queries {
		for i, key := range s.keys {
			if dead[i] {
				continue
			}

			body, err := s.GetJSON(ctx, "search", s.BaseURL()+endpoint+"?"+params.Encode(), map[string]string{"X-API-Key": key})
			if errors.Is(err, sources.ErrProviderAuth) {
				s.Logger().Warn("API key rejected", "key_index", i)
				dead[i] = true
				lastErr = err
				continue
			}
			if err != nil {
				lastErr = err
				continue
			}

			for _, c := range parseTCGDBCandidates(gjson.GetBytes(body, "data")) {
				if !seen[c.ID] {
					seen[c.ID] = true
					out = append(out, c)
				}
			}
			break
		}

		if len(out) >= tcgdbEnoughResults {
			break
		}
	}

	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// tcgdbQueries returns name+set+number, name+number, then name only, skipping duplicates.
func tcgdbQueries(q sources.Query) []url.Values {
	name := strings.TrimSpace(q.Name)
	number := sources.NormalizeNumber(q.CardNumber)
	set := strings.TrimSpace(q.SetName)

	var out []url.Values
	add := func(set, number string) {
		v := url.Values{}
		v.Set("q", name)
		if set != "" {
			v.Set("set", set)
		}
		if number != "" {
			v.Set("number", number)
		}
		for _, prev := range out {
			if prev.Encode() == v.Encode() {
				return
			}
		}
		out = append(out, v)
	}

	add(set, number)
	add("", number)
	add("", "")
	return out
}

func parseTCGDBCandidates(data gjson.Result) []sources.Candidate {
	var out []sources.Candidate
	data.ForEach(func(_, r gjson.Result) bool {
		id := r.Get("id").String()
		if id == "" {
			return true
		}
		out = append(out, sources.Candidate{
			ID:      id,
			Name:    r.Get("name").String(),
			SetName: r.Get("set").String(),
			Number:  r.Get("number").String(),
			Data:    r,
		})
		return true
	})
	return out
}

// tcgdbExtractors orders (condition, printing) pairs: better condition first,
// the requested printing ahead of the defaults within a condition.
func tcgdbExtractors(variant string, sealed bool, field string) []sources.Extractor {
	if sealed {
		return []sources.Extractor{variantField(conditionSealed, "", field)}
	}

	printings := tcgdbPrintings
	if variant != "" {
		printings = append([]string{variant}, tcgdbPrintings...)
	}

	out := make([]sources.Extractor, 0, len(tcgdbConditions)*len(printings))
	for _, cond := range tcgdbConditions {
		for _, p := range printings {
			out = append(out, variantField(cond, p, field))
		}
	}
	return out
}

// variantField reads field from the first entry of the variants array with the
// given condition and printing. An empty printing matches any printing.
func variantField(condition, printing, field string) sources.Extractor {
	return func(record gjson.Result) (decimal.Decimal, bool) {
		var (
			price decimal.Decimal
			found bool
		)
		record.Get("variants").ForEach(func(_, v gjson.Result) bool {
			if !strings.EqualFold(v.Get("condition").String(), condition) {
				return true
			}
			if printing != "" && !strings.EqualFold(v.Get("printing").String(), printing) {
				return true
			}
			price, found = sources.Path(field)(v)
			return !found
		})
		return price, found
	}
}
