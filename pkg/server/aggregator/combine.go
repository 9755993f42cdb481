package aggregator

import (
	"math"

	"github.com/shopspring/decimal"
)

// Confidence point allocations.
const (
	pointsPerSource   = 15
	maxSourcePoints   = 40
	maxAgreement      = 40
	singleSourcePoint = 20
	maxCoverage       = 20
)

// Combined is the weighted combination of priced results.
type Combined struct {
	WeightedAverage decimal.Decimal
	Lowest          decimal.NullDecimal
	Min             decimal.Decimal
	Max             decimal.Decimal
	Confidence      int
}

// NormalizeWeights scales weights to sum to 1. Non-positive weights count as
// zero; when every weight is zero the results share equally.
func NormalizeWeights(results []SourceResult) []float64 {
	out := make([]float64, len(results))
	if len(results) == 0 {
		return out
	}

	var sum float64
	for _, r := range results {
		if r.Weight > 0 {
			sum += r.Weight
		}
	}
	for i, r := range results {
		switch {
		case sum == 0:
			out[i] = 1 / float64(len(results))
		case r.Weight > 0:
			out[i] = r.Weight / sum
		}
	}
	return out
}

// WeightedAverage is sum(price*weight)/sum(weight), kept inside [min, max] of
// the prices. It is not rounded; the API rounds to cents on output. When no result has a positive weight the
// prices are averaged equally.
func WeightedAverage(results []SourceResult) decimal.Decimal {
	if len(results) == 0 {
		return decimal.Zero
	}

	num, den := decimal.Zero, decimal.Zero
	sum := decimal.Zero
	lo, hi := results[0].Price, results[0].Price
	for _, r := range results {
		if r.Weight > 0 {
			w := decimal.NewFromFloat(r.Weight)
			num = num.Add(r.Price.Mul(w))
			den = den.Add(w)
		}
		sum = sum.Add(r.Price)
		lo = decimal.Min(lo, r.Price)
		hi = decimal.Max(hi, r.Price)
	}
	if den.IsZero() {
		num, den = sum, decimal.NewFromInt(int64(len(results)))
	}

	avg := num.Div(den)
	return decimal.Max(lo, decimal.Min(hi, avg))
}

// Confidence scores an aggregation from how many sources priced it, how
// closely their prices agree and how much normalized weight they cover.
func Confidence(count int, lo, hi decimal.Decimal, coverage float64) int {
	if count <= 0 {
		return 0
	}

	a := math.Min(float64(pointsPerSource*count), maxSourcePoints)

	var b float64
	switch {
	case count >= 2 && hi.IsPositive():
		spread, _ := hi.Sub(lo).Div(hi).Float64()
		b = maxAgreement * math.Max(0, 1-spread)
	case count == 1:
		b = singleSourcePoint
	}

	c := maxCoverage * coverage

	score := int(math.Round(a + b + c))
	return max(0, min(100, score))
}

// Combine merges priced results. It reports false when there are none.
func Combine(results []SourceResult) (Combined, bool) {
	if len(results) == 0 {
		return Combined{}, false
	}

	weights := NormalizeWeights(results)
	var coverage float64
	for _, w := range weights {
		coverage += w
	}

	out := Combined{
		WeightedAverage: WeightedAverage(results),
		Min:             results[0].Price,
		Max:             results[0].Price,
	}
	for _, r := range results {
		out.Min = decimal.Min(out.Min, r.Price)
		out.Max = decimal.Max(out.Max, r.Price)
		if r.LowPrice.Valid && (!out.Lowest.Valid || r.LowPrice.Decimal.LessThan(out.Lowest.Decimal)) {
			out.Lowest = r.LowPrice
		}
	}
	out.Confidence = Confidence(len(results), out.Min, out.Max, math.Min(coverage, 1))
	return out, true
}
