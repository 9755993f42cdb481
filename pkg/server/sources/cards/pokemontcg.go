package cards

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/StrathCole/cardprice/pkg/server/sources"
)

const (
	// NamePokemonTCG is the registry name of the free canonical card database.
	NamePokemonTCG = "pokemontcg"

	pokemonTCGBaseURL = "https://api.pokemontcg.io/v2"
	pokemonTCGWeight  = 0.8
	pokemonTCGPageMax = 20
)

// Printing keys of the tcgplayer price block, in preference order.
var pokemonTCGVariants = []string{
	"holofoil",
	"reverseHolofoil",
	"normal",
	"1stEditionHolofoil",
	"unlimitedHolofoil",
	"1stEditionNormal",
	"unlimited",
}

var (
	pokemonTCGPrice = sources.VariantPaths("tcgplayer.prices", pokemonTCGVariants, []string{"mid", "low", "market"})
	pokemonTCGLow   = sources.VariantPaths("tcgplayer.prices", pokemonTCGVariants, []string{"low"})
)

// PokemonTCGSource prices single Pokemon cards from the public card database.
// The API key is optional and only raises the rate limit.
type PokemonTCGSource struct {
	*sources.BaseSource

	apiKey string
}

// NewPokemonTCGSourceFromConfig creates a PokemonTCGSource. Config: api_key.
func NewPokemonTCGSourceFromConfig(config map[string]interface{}) (sources.Source, error) {
	return &PokemonTCGSource{
		BaseSource: sources.NewBaseSource(NamePokemonTCG, pokemonTCGBaseURL, pokemonTCGWeight, config),
		apiKey:     sources.GetString(config, "api_key", ""),
	}, nil
}

// Configured is always true; the free tier needs no key.
func (s *PokemonTCGSource) Configured() bool {
	return true
}

// Lookup searches cards by name narrowed by set and number and prices the best match.
func (s *PokemonTCGSource) Lookup(ctx context.Context, q sources.Query) (*sources.Quote, error) {
	if strings.TrimSpace(q.Name) == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", pokemonTCGQuery(q))
	params.Set("pageSize", fmt.Sprint(pokemonTCGPageMax))

	headers := map[string]string{}
	if s.apiKey != "" {
		headers["X-Api-Key"] = s.apiKey
	}

	body, err := s.GetJSON(ctx, "cards", s.BaseURL()+"/cards?"+params.Encode(), headers)
	if err != nil {
		return nil, err
	}

	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, fmt.Errorf("%w: missing data", sources.ErrInvalidResponse)
	}

	var candidates []sources.Candidate
	data.ForEach(func(_, card gjson.Result) bool {
		candidates = append(candidates, sources.Candidate{
			ID:      card.Get("id").String(),
			Name:    card.Get("name").String(),
			SetName: card.Get("set.name").String(),
			Number:  card.Get("number").String(),
			Data:    card,
		})
		return true
	})

	best, ok := sources.Select(candidates, q)
	if !ok {
		return nil, nil
	}

	price, ok := sources.FirstPrice(best.Data, pokemonTCGPrice...)
	if !ok {
		s.Logger().Debug("Matched card has no price", "card", best.ID)
		return nil, nil
	}

	quote := &sources.Quote{Price: price, Matched: best.Name + " (" + best.SetName + ")"}
	if low, ok := sources.FirstPrice(best.Data, pokemonTCGLow...); ok {
		quote.LowPrice = decimal.NewNullDecimal(low)
	}
	return quote, nil
}

// pokemonTCGQuery builds the Lucene-like search expression for the card endpoint.
func pokemonTCGQuery(q sources.Query) string {
	parts := []string{fmt.Sprintf("name:%q", strings.TrimSpace(q.Name))}
	if q.SetName != "" {
		parts = append(parts, fmt.Sprintf("set.name:%q", strings.TrimSpace(q.SetName)))
	}
	if n := sources.NormalizeNumber(q.CardNumber); n != "" {
		parts = append(parts, "number:"+n)
	}
	return strings.Join(parts, " ")
}
