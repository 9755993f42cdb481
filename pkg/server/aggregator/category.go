package aggregator

import (
	"strings"

	"github.com/StrathCole/cardprice/pkg/server/sources"
)

// Rule maps a predicate over the query to a category. Rules are evaluated
// top to bottom and the first match wins.
type Rule struct {
	Category sources.Category
	Match    func(q sources.Query) bool
}

// keywordRule matches when any phrase occurs in the normalized name or set.
func keywordRule(category sources.Category, phrases ...string) Rule {
	return Rule{
		Category: category,
		Match: func(q sources.Query) bool {
			text := " " + sources.NormalizeText(q.Name+" "+q.SetName) + " "
			for _, p := range phrases {
				if strings.Contains(text, p) {
					return true
				}
			}
			return false
		},
	}
}

// DefaultRules is the built-in inference policy.
func DefaultRules() []Rule {
	return []Rule{
		{Category: sources.CategoryGraded, Match: func(q sources.Query) bool { return q.IsGraded() }},
		{Category: sources.CategorySealed, Match: func(q sources.Query) bool { return sources.IsSealedProduct(q.Name) }},
		keywordRule(sources.CategoryPokemon, "pokemon", "pokémon", " ptcg "),
		keywordRule(sources.CategoryMTG, "magic the gathering", "magic: the gathering", " mtg "),
		keywordRule(sources.CategoryYugioh, "yu-gi-oh", "yugioh", "yu gi oh"),
		keywordRule(sources.CategoryOnePiece, "one piece"),
		keywordRule(sources.CategoryLorcana, "lorcana"),
		{Category: sources.CategoryGraded, Match: func(q sources.Query) bool {
			return sources.IsCertNumber(q.Name) || sources.IsCertNumber(q.ExternalID)
		}},
	}
}

// InferCategory returns the query's own category or the first matching rule's.
func InferCategory(q sources.Query, rules []Rule, fallback sources.Category) sources.Category {
	if q.Category != "" {
		return q.Category
	}
	for _, r := range rules {
		if r.Match(q) {
			return r.Category
		}
	}
	return fallback
}
