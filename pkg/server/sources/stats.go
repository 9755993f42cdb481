package sources

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Median returns the median of values; for an even count the two middle
// values are averaged. The input is not modified.
func Median(values []decimal.Decimal) (decimal.Decimal, bool) {
	n := len(values)
	if n == 0 {
		return decimal.Zero, false
	}

	sorted := make([]decimal.Decimal, n)
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})

	if n%2 == 0 {
		return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2)), true
	}
	return sorted[n/2], true
}

// Min returns the smallest value.
func Min(values []decimal.Decimal) (decimal.Decimal, bool) {
	if len(values) == 0 {
		return decimal.Zero, false
	}
	return decimal.Min(values[0], values[1:]...), true
}
