package cards

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/StrathCole/cardprice/pkg/server/sources"
)

const (
	// NameAISearch is the registry name of the AI web search fallback.
	NameAISearch = "aisearch"

	aiSearchBaseURL = "https://api.perplexity.ai"
	aiSearchModel   = "sonar"
	aiSearchWeight  = 0.3

	aiConfidencePerMention = 20
)

var (
	aiMinPrice = decimal.NewFromFloat(0.25)
	aiMaxPrice = decimal.NewFromInt(100000)

	aiAmount = `(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)`

	aiPricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:US\$|\$|USD\s?)\s?` + aiAmount),
		regexp.MustCompile(`(?i)\b(?:price|value|worth)\s+(?:(?:is|was|of|at|around|about|approximately|roughly)\s+)+(?:US\$|\$|USD\s?)?\s?` + aiAmount),
	}
)

// AISearchSource asks an AI-powered web search for recent sale prices and
// reads the numbers out of the free-text answer. It scores itself by how
// many distinct prices the answer mentions.
type AISearchSource struct {
	*sources.BaseSource

	apiKey string
	model  string
}

// NewAISearchSourceFromConfig creates an AISearchSource. Config: api_key, model.
func NewAISearchSourceFromConfig(config map[string]interface{}) (sources.Source, error) {
	return &AISearchSource{
		BaseSource: sources.NewBaseSource(NameAISearch, aiSearchBaseURL, aiSearchWeight, config),
		apiKey:     sources.GetString(config, "api_key", ""),
		model:      sources.GetString(config, "model", aiSearchModel),
	}, nil
}

// Configured reports whether an API key is present.
func (s *AISearchSource) Configured() bool {
	return s.apiKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// Lookup runs one search and returns the median of the prices mentioned.
func (s *AISearchSource) Lookup(ctx context.Context, q sources.Query) (*sources.Quote, error) {
	if !s.Configured() {
		return nil, fmt.Errorf("%w: %s", sources.ErrNotConfigured, s.Name())
	}

	payload, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a collectibles pricing assistant. Answer with recent US dollar sale prices."},
			{Role: "user", Content: aiSearchPrompt(q)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	body, err := s.Fetch(ctx, "search", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL()+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	answer := gjson.GetBytes(body, "choices.0.message.content")
	if !answer.Exists() {
		return nil, fmt.Errorf("%w: missing answer", sources.ErrInvalidResponse)
	}

	prices := ExtractPrices(answer.String())
	if len(prices) == 0 {
		return nil, nil
	}

	median, _ := sources.Median(prices)
	low, _ := sources.Min(prices)
	return &sources.Quote{
		Price:      median,
		LowPrice:   decimal.NewNullDecimal(low),
		Confidence: AIConfidence(prices),
		Matched:    fmt.Sprintf("%d price mentions", len(prices)),
	}, nil
}

func aiSearchPrompt(q sources.Query) string {
	item := sources.SearchText(q.Name, q.SetName, q.CardNumber, q.Variant)
	if q.IsGraded() {
		item = sources.SearchText(item, q.GradingCompany, q.Grade)
	}
	kind := "trading card"
	if q.Category == sources.CategorySealed {
		kind = "sealed product"
	}
	return fmt.Sprintf("What is the current market price of the %s %q? List recent sold prices.", kind, item)
}

// ExtractPrices returns every plausible dollar amount mentioned in text, in
// order of appearance. A mention matched by several patterns counts once;
// amounts outside [$0.25, $100,000] are dropped.
func ExtractPrices(text string) []decimal.Decimal {
	type mention struct {
		at    int
		value decimal.Decimal
	}
	byOffset := make(map[int]decimal.Decimal)
	for _, re := range aiPricePatterns {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2], m[3]
			if _, ok := byOffset[start]; ok {
				continue
			}
			v, err := decimal.NewFromString(strings.ReplaceAll(text[start:end], ",", ""))
			if err != nil {
				continue
			}
			byOffset[start] = v
		}
	}

	mentions := make([]mention, 0, len(byOffset))
	for at, v := range byOffset {
		if v.LessThan(aiMinPrice) || v.GreaterThan(aiMaxPrice) {
			continue
		}
		mentions = append(mentions, mention{at: at, value: v})
	}
	sort.Slice(mentions, func(i, j int) bool { return mentions[i].at < mentions[j].at })

	out := make([]decimal.Decimal, len(mentions))
	for i, m := range mentions {
		out[i] = m.value
	}
	return out
}

// AIConfidence is 20 points per distinct price, capped at 100.
func AIConfidence(prices []decimal.Decimal) int {
	distinct := make(map[string]struct{}, len(prices))
	for _, p := range prices {
		distinct[p.String()] = struct{}{}
	}
	return min(100, aiConfidencePerMention*len(distinct))
}
