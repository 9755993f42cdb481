package cards

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/StrathCole/cardprice/pkg/retry"
	"github.com/StrathCole/cardprice/pkg/server/sources"
)

const (
	// NameEbay is the registry name of the marketplace listings source.
	NameEbay = "ebay"

	ebayBaseURL     = "https://api.ebay.com"
	ebayTokenURL    = "https://api.ebay.com/identity/v1/oauth2/token"
	ebayScope       = "https://api.ebay.com/oauth/api_scope"
	ebayMarketplace = "EBAY_US"
	ebayWeight      = 0.7
	ebaySearchLimit = 50

	// Trading card singles and sealed trading card products.
	ebayCategorySingles = "183454"
	ebayCategorySealed  = "183456"
)

var (
	ebayExcludedWords = []string{"lot", "lots", "proxy", "custom", "orica", "replica", "digital", "fake"}
	ebayGradedWords   = []string{"psa", "bgs", "cgc", "sgc", "beckett", "graded", "slab"}
)

// EbaySource prices items from active marketplace listings: the median asking
// price resists outliers, the cheapest listing is the low price.
type EbaySource struct {
	*sources.BaseSource

	tokens      TokenCache
	marketplace string
	configured  bool
}

// NewEbaySourceFromConfig creates an EbaySource.
// Config: client_id, client_secret, token_url, marketplace, token_cache (TokenCache).
func NewEbaySourceFromConfig(config map[string]interface{}) (sources.Source, error) {
	base := sources.NewBaseSource(NameEbay, ebayBaseURL, ebayWeight, config)
	clientID := sources.GetString(config, "client_id", "")
	clientSecret := sources.GetString(config, "client_secret", "")

	tokens, injected := config["token_cache"].(TokenCache)
	if !injected {
		client, _ := config["http_client"].(*http.Client)
		tokens = NewClientCredentialsTokenCache(&clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     sources.GetString(config, "token_url", ebayTokenURL),
			Scopes:       []string{ebayScope},
			AuthStyle:    oauth2.AuthStyleInHeader,
		}, client, sources.GetDuration(config, "token_margin", DefaultTokenMargin))
	}

	return &EbaySource{
		BaseSource:  base,
		tokens:      tokens,
		marketplace: sources.GetString(config, "marketplace", ebayMarketplace),
		configured:  injected || (clientID != "" && clientSecret != ""),
	}, nil
}

// Configured reports whether client credentials or a token cache were provided.
func (s *EbaySource) Configured() bool {
	return s.configured
}

// Lookup searches active listings in the category matching the item kind.
func (s *EbaySource) Lookup(ctx context.Context, q sources.Query) (*sources.Quote, error) {
	if !s.Configured() {
		return nil, fmt.Errorf("%w: %s", sources.ErrNotConfigured, s.Name())
	}

	token, err := retry.DoValue(ctx, s.Policy(), s.Logger(), s.Name()+".token", s.tokens.Token)
	if err != nil {
		return nil, err
	}

	sealed := q.Category == sources.CategorySealed || sources.IsSealedProduct(q.Name)
	category := ebayCategorySingles
	if sealed {
		category = ebayCategorySealed
	}

	search := ebaySearchText(q)
	params := url.Values{}
	params.Set("q", search)
	params.Set("category_ids", category)
	params.Set("limit", fmt.Sprint(ebaySearchLimit))
	params.Set("filter", "buyingOptions:{FIXED_PRICE}")

	body, err := s.GetJSON(ctx, "search", s.BaseURL()+"/buy/browse/v1/item_summary/search?"+params.Encode(), map[string]string{
		"Authorization":           "Bearer " + token,
		"X-EBAY-C-MARKETPLACE-ID": s.marketplace,
	})
	if err != nil {
		if inv, ok := s.tokens.(interface{ Invalidate() }); ok && sources.IsStatus(err, http.StatusUnauthorized) {
			inv.Invalidate()
		}
		return nil, err
	}

	prices := listingPrices(gjson.GetBytes(body, "itemSummaries"), q)
	if len(prices) == 0 {
		s.Logger().Debug("No usable listings", "query", search)
		return nil, nil
	}

	median, _ := sources.Median(prices)
	low, _ := sources.Min(prices)
	return &sources.Quote{
		Price:    median,
		LowPrice: decimal.NewNullDecimal(low),
		Matched:  fmt.Sprintf("%d listings", len(prices)),
	}, nil
}

func ebaySearchText(q sources.Query) string {
	number := sources.NormalizeNumber(q.CardNumber)
	if q.IsGraded() {
		return sources.SearchText(q.Name, q.SetName, number, q.GradingCompany, q.Grade)
	}
	return sources.SearchText(q.Name, q.SetName, number)
}

// listingPrices keeps the prices of listings that plausibly are the item:
// no lots or proxies, and graded slabs only when a grade was asked for.
func listingPrices(items gjson.Result, q sources.Query) []decimal.Decimal {
	graded := q.IsGraded()
	var slab *regexp.Regexp
	if graded {
		slab = slabGradeRe(q.GradingCompany)
	}
	var out []decimal.Decimal
	items.ForEach(func(_, item gjson.Result) bool {
		title := item.Get("title").String()
		if sources.ContainsWord(title, ebayExcludedWords...) {
			return true
		}
		if !graded && sources.ContainsWord(title, ebayGradedWords...) {
			return true
		}
		if graded && !hasSlabGrade(slab, title, q.Grade) {
			return true
		}
		if v, ok := sources.Path("price.value")(item); ok {
			out = append(out, v)
		}
		return true
	})
	return out
}

// slabGradeRe matches a grading company followed by its grade, as in
// "PSA 10", "PSA10", "PSA GEM MINT 10" or "BGS 9.5".
func slabGradeRe(company string) *regexp.Regexp {
	names := []string{regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(company)))}
	if strings.EqualFold(strings.TrimSpace(company), "BGS") {
		names = append(names, "beckett")
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(names, "|") +
		`)\s*(?:gem\s*(?:mint|mt)\s*|mint\s*|nm-mt\s*)?(\d{1,2}(?:\.\d)?)\b`)
}

// hasSlabGrade reports whether the title names the company with exactly grade.
func hasSlabGrade(re *regexp.Regexp, title, grade string) bool {
	want := normalizeGrade(grade)
	for _, m := range re.FindAllStringSubmatch(title, -1) {
		if normalizeGrade(m[1]) == want {
			return true
		}
	}
	return false
}
