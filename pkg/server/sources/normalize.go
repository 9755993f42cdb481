package sources

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	certNumberRe = regexp.MustCompile(`^\d{8,10}$`)
)

// Sealed product keywords. Multi-word phrases are matched as substrings,
// short tokens as whole words so "tin" does not match "Tinkaton".
var (
	sealedPhrases = []string{
		"booster box", "booster pack", "booster bundle", "booster display",
		"elite trainer box", "collection box", "premium collection",
		"build & battle", "build and battle", "starter deck", "theme deck",
		"structure deck", "blister", "sealed case", "display box", "gift box",
	}
	sealedWords = []string{"etb", "tin", "bundle", "sealed"}
)

// NormalizeText lowercases, trims and collapses internal whitespace.
func NormalizeText(s string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// NormalizeNumber reduces a collector number to its comparable form:
// "#004/102" -> "4", "SWSH050" -> "swsh050".
func NormalizeNumber(s string) string {
	n := NormalizeText(s)
	n = strings.TrimPrefix(n, "#")
	if i := strings.Index(n, "/"); i >= 0 {
		n = n[:i]
	}
	n = strings.TrimSpace(n)
	trimmed := strings.TrimLeft(n, "0")
	if trimmed == "" && n != "" {
		return "0"
	}
	return trimmed
}

// IsCertNumber reports whether s looks like a grading certificate number (8-10 digits).
func IsCertNumber(s string) bool {
	return certNumberRe.MatchString(strings.TrimSpace(s))
}

// IsSealedProduct reports whether the text names a sealed product rather than a single card.
func IsSealedProduct(text string) bool {
	t := NormalizeText(text)
	for _, p := range sealedPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return containsWord(t, sealedWords...)
}

// containsWord reports whether any of words appears as a whole word in normalized text t.
func containsWord(t string, words ...string) bool {
	fields := strings.FieldsFunc(t, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
	})
	for _, f := range fields {
		for _, w := range words {
			if f == w {
				return true
			}
		}
	}
	return false
}

// ContainsWord is containsWord for callers outside the package; text is normalized first.
func ContainsWord(text string, words ...string) bool {
	return containsWord(NormalizeText(text), words...)
}

// SearchText joins the non-empty identity parts into a provider search string.
func SearchText(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return whitespaceRe.ReplaceAllString(strings.Join(kept, " "), " ")
}
