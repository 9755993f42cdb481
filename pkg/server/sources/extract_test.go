package sources

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const pricesPayload = `{
	"prices": {
		"holofoil": {"low": null, "mid": null, "market": 310.5},
		"reverseHolofoil": {"low": 2.1, "mid": 3.25},
		"normal": {"mid": 1.0}
	},
	"pennies": 12345,
	"text": "19.99",
	"zero": 0
}`

func TestFirstPrice_OrderedFallback(t *testing.T) {
	record := gjson.Parse(pricesPayload)
	extractors := VariantPaths("prices", []string{"holofoil", "reverseHolofoil", "normal"}, []string{"mid", "low", "market"})

	got, ok := FirstPrice(record, extractors...)
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.RequireFromString("310.5")), got.String())
}

func TestFirstPrice_SkipsMissingVariant(t *testing.T) {
	record := gjson.Parse(pricesPayload)
	extractors := VariantPaths("prices", []string{"1stEditionHolofoil", "reverseHolofoil"}, []string{"mid", "low"})

	got, ok := FirstPrice(record, extractors...)
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.RequireFromString("3.25")))
}

func TestFirstPrice_NoMatch(t *testing.T) {
	_, ok := FirstPrice(gjson.Parse(pricesPayload), Path("zero"), Path("missing"), Path("prices.holofoil.low"))
	assert.False(t, ok)
}

func TestPennies(t *testing.T) {
	got, ok := Pennies("pennies")(gjson.Parse(pricesPayload))
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.RequireFromString("123.45")))
}

func TestPath_NumericString(t *testing.T) {
	got, ok := Path("text")(gjson.Parse(pricesPayload))
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.RequireFromString("19.99")))
}

func TestMedianAndMin(t *testing.T) {
	vals := []decimal.Decimal{
		decimal.NewFromInt(30), decimal.NewFromInt(10), decimal.NewFromInt(1000), decimal.NewFromInt(20),
	}
	m, ok := Median(vals)
	require.True(t, ok)
	assert.True(t, m.Equal(decimal.NewFromInt(25)))
	assert.True(t, vals[0].Equal(decimal.NewFromInt(30)), "input must not be reordered")

	m, _ = Median(vals[:3])
	assert.True(t, m.Equal(decimal.NewFromInt(30)))

	low, ok := Min(vals)
	require.True(t, ok)
	assert.True(t, low.Equal(decimal.NewFromInt(10)))

	_, ok = Median(nil)
	assert.False(t, ok)
	_, ok = Min(nil)
	assert.False(t, ok)
}
