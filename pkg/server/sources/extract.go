package sources

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Extractor pulls a price out of a provider record. It reports false when the
// field is absent, null, non-numeric or not positive.
type Extractor func(record gjson.Result) (decimal.Decimal, bool)

// Path extracts a dollar amount at a gjson path.
func Path(path string) Extractor {
	return func(record gjson.Result) (decimal.Decimal, bool) {
		return positive(record.Get(path), 1)
	}
}

// Pennies extracts an amount stored in cents at a gjson path.
func Pennies(path string) Extractor {
	return func(record gjson.Result) (decimal.Decimal, bool) {
		return positive(record.Get(path), 100)
	}
}

// FirstPrice runs the extractors in order and returns the first hit.
func FirstPrice(record gjson.Result, extractors ...Extractor) (decimal.Decimal, bool) {
	for _, extract := range extractors {
		if v, ok := extract(record); ok {
			return v, true
		}
	}
	return decimal.Zero, false
}

// VariantPaths expands variant keys and price fields into path extractors,
// variant-major: every field of the first variant is tried before the next variant.
func VariantPaths(prefix string, variants, fields []string) []Extractor {
	out := make([]Extractor, 0, len(variants)*len(fields))
	for _, v := range variants {
		for _, f := range fields {
			out = append(out, Path(prefix+"."+v+"."+f))
		}
	}
	return out
}

func positive(r gjson.Result, divisor int64) (decimal.Decimal, bool) {
	if !r.Exists() || r.Type == gjson.Null {
		return decimal.Zero, false
	}
	var d decimal.Decimal
	switch r.Type {
	case gjson.Number:
		parsed, err := decimal.NewFromString(r.Raw)
		if err != nil {
			return decimal.Zero, false
		}
		d = parsed
	case gjson.String:
		parsed, err := decimal.NewFromString(r.Str)
		if err != nil {
			return decimal.Zero, false
		}
		d = parsed
	default:
		return decimal.Zero, false
	}
	if divisor != 1 {
		d = d.Div(decimal.NewFromInt(divisor))
	}
	if !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}
