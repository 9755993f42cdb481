package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/cardprice/pkg/logging"
	"github.com/StrathCole/cardprice/pkg/server/sources"
	"github.com/StrathCole/cardprice/pkg/server/sources/cards"
	"github.com/StrathCole/cardprice/pkg/store"
)

type fakeSource struct {
	name       string
	weight     float64
	configured bool
	calls      atomic.Int32
	lookup     func(ctx context.Context, q sources.Query) (*sources.Quote, error)
}

func (f *fakeSource) Name() string     { return f.name }
func (f *fakeSource) Weight() float64  { return f.weight }
func (f *fakeSource) Configured() bool { return f.configured }
func (f *fakeSource) Lookup(ctx context.Context, q sources.Query) (*sources.Quote, error) {
	f.calls.Add(1)
	return f.lookup(ctx, q)
}

func priced(name string, weight float64, price string) *fakeSource {
	return &fakeSource{name: name, weight: weight, configured: true,
		lookup: func(context.Context, sources.Query) (*sources.Quote, error) {
			return &sources.Quote{Price: decimal.RequireFromString(price)}, nil
		}}
}

func missing(name string) *fakeSource {
	return &fakeSource{name: name, weight: 1, configured: true,
		lookup: func(context.Context, sources.Query) (*sources.Quote, error) { return nil, nil }}
}

func failing(name string, err error) *fakeSource {
	return &fakeSource{name: name, weight: 1, configured: true,
		lookup: func(context.Context, sources.Query) (*sources.Quote, error) { return nil, err }}
}

func newAggregator(t *testing.T, st store.Store, cfg Config, srcs ...*fakeSource) *Aggregator {
	t.Helper()
	list := make([]sources.Source, len(srcs))
	for i, s := range srcs {
		list[i] = s
	}
	a, err := New(list, st, cfg, logging.NewNoopLogger())
	require.NoError(t, err)
	return a
}

func TestAggregate_WeightedAverage(t *testing.T) {
	a := newAggregator(t, nil, Config{},
		priced(cards.NameTCGDB, 0.4, "100"),
		priced(cards.NameEbay, 0.6, "120"),
		missing(cards.NamePriceCharting),
	)

	got, err := a.Aggregate(context.Background(), sources.Query{Name: "Blue-Eyes White Dragon", Category: sources.CategoryYugioh})
	require.NoError(t, err)
	require.True(t, got.MarketPrice.Valid)
	assert.True(t, decimal.NewFromInt(112).Equal(got.MarketPrice.Decimal))
	assert.Equal(t, []string{cards.NameEbay, cards.NameTCGDB}, got.Sources)
	assert.Equal(t, 2, got.SourceCount)
	assert.Equal(t, 83, got.Confidence)
	assert.Equal(t, "100", got.PriceRange.Min.String())
	assert.Equal(t, "120", got.PriceRange.Max.String())
	assert.False(t, got.Cached)
	assert.Empty(t, got.Errors)
}

func TestAggregate_ZeroSources(t *testing.T) {
	a := newAggregator(t, store.NewMemoryStore(), Config{},
		missing(cards.NameTCGDB),
		&fakeSource{name: cards.NameEbay, configured: false},
	)

	got, err := a.Aggregate(context.Background(), sources.Query{Name: "Unknown card", Category: sources.CategoryMTG})
	require.NoError(t, err)
	assert.False(t, got.MarketPrice.Valid)
	assert.Equal(t, 0, got.Confidence)
	assert.Empty(t, got.Sources)
	assert.Empty(t, got.Errors, "unconfigured sources are skipped silently")

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"market_price":null`)
	assert.Contains(t, string(raw), `"sources":[]`)
}

func TestAggregate_CacheHit(t *testing.T) {
	st := store.NewMemoryStore()
	src := priced(cards.NameTCGDB, 1, "42.5")
	a := newAggregator(t, st, Config{}, src)
	q := sources.Query{Name: "Black Lotus", SetName: "Alpha", Category: sources.CategoryMTG}

	first, err := a.Aggregate(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.NotEmpty(t, first.ProductID)

	second, err := a.Aggregate(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.True(t, first.MarketPrice.Decimal.Equal(second.MarketPrice.Decimal))
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, []string{cards.NameTCGDB}, second.Sources)
	assert.Equal(t, first.ProductID, second.ProductID)
	require.NotNil(t, second.CacheAgeHours)
	assert.Less(t, *second.CacheAgeHours, 1.0)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestAggregate_ForceRefreshBypassesCache(t *testing.T) {
	st := store.NewMemoryStore()
	src := priced(cards.NameTCGDB, 1, "10")
	a := newAggregator(t, st, Config{}, src)
	q := sources.Query{Name: "Sol Ring", Category: sources.CategoryMTG}

	_, err := a.Aggregate(context.Background(), q)
	require.NoError(t, err)

	q.ForceRefresh = true
	got, err := a.Aggregate(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, got.Cached)
	assert.Equal(t, int32(2), src.calls.Load())
	assert.Equal(t, 1, st.Len(), "refresh updates the same record")
}

func TestAggregate_StaleRecordRefetched(t *testing.T) {
	st := store.NewMemoryStore()
	_, err := st.Upsert(context.Background(), store.Record{
		Identity:    store.Identity{Name: "Sol Ring"},
		MarketPrice: decimal.NewNullDecimal(decimal.NewFromInt(1)),
		UpdatedAt:   time.Now().Add(-25 * time.Hour),
	})
	require.NoError(t, err)

	src := priced(cards.NameTCGDB, 1, "3")
	a := newAggregator(t, st, Config{}, src)
	got, err := a.Aggregate(context.Background(), sources.Query{Name: "Sol Ring", Category: sources.CategoryMTG})
	require.NoError(t, err)
	assert.False(t, got.Cached)
	assert.Equal(t, "3", got.MarketPrice.Decimal.String())
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestAggregate_PricelessRecordIsMiss(t *testing.T) {
	st := store.NewMemoryStore()
	_, _ = st.Upsert(context.Background(), store.Record{Identity: store.Identity{Name: "Sol Ring"}})

	src := priced(cards.NameTCGDB, 1, "3")
	a := newAggregator(t, st, Config{}, src)
	got, err := a.Aggregate(context.Background(), sources.Query{Name: "Sol Ring", Category: sources.CategoryMTG})
	require.NoError(t, err)
	assert.False(t, got.Cached)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestAggregate_FailuresAreAdvisory(t *testing.T) {
	a := newAggregator(t, nil, Config{},
		priced(cards.NameTCGDB, 1, "20"),
		failing(cards.NameEbay, errors.New("connection reset")),
		failing(cards.NamePriceCharting, sources.ErrProviderAuth),
	)

	got, err := a.Aggregate(context.Background(), sources.Query{Name: "Luffy", Category: sources.CategoryOnePiece})
	require.NoError(t, err)
	assert.Equal(t, "20", got.MarketPrice.Decimal.String())
	require.Len(t, got.Errors, 2)
	assert.Contains(t, got.Errors[0], "ebay: connection reset")
	assert.Contains(t, got.Errors[1], "pricecharting:")
}

func TestAggregate_FallbackWhenNothingPriced(t *testing.T) {
	ai := &fakeSource{name: cards.NameAISearch, weight: 0.3, configured: true,
		lookup: func(context.Context, sources.Query) (*sources.Quote, error) {
			return &sources.Quote{Price: decimal.NewFromInt(75), Confidence: 60}, nil
		}}
	a := newAggregator(t, nil, Config{}, missing(cards.NamePokemonTCG), missing(cards.NameTCGDB), ai)

	got, err := a.Aggregate(context.Background(), sources.Query{Name: "Pikachu Illustrator", Category: sources.CategoryPokemon})
	require.NoError(t, err)
	assert.Equal(t, "75", got.MarketPrice.Decimal.String())
	assert.Equal(t, []string{cards.NameAISearch}, got.Sources)
	assert.Equal(t, int32(1), ai.calls.Load())
}

func TestAggregate_FallbackRunsAgainForDefaultCategory(t *testing.T) {
	ai := &fakeSource{name: cards.NameAISearch, weight: 0.3, configured: true,
		lookup: func(context.Context, sources.Query) (*sources.Quote, error) { return nil, nil }}
	a := newAggregator(t, nil, Config{}, ai)

	got, err := a.Aggregate(context.Background(), sources.Query{Name: "Mystery item"})
	require.NoError(t, err)
	assert.False(t, got.MarketPrice.Valid)
	assert.Equal(t, sources.CategoryGeneric, got.Category)
	assert.Equal(t, int32(2), ai.calls.Load())
}

func TestAggregate_LowConfidenceRejected(t *testing.T) {
	ai := &fakeSource{name: cards.NameAISearch, weight: 0.3, configured: true,
		lookup: func(context.Context, sources.Query) (*sources.Quote, error) {
			return &sources.Quote{Price: decimal.NewFromInt(75), Confidence: 20}, nil
		}}
	a := newAggregator(t, nil, Config{}, ai)

	got, err := a.Aggregate(context.Background(), sources.Query{Name: "Rare thing", Category: sources.CategoryPokemon})
	require.NoError(t, err)
	assert.False(t, got.MarketPrice.Valid)
	require.Len(t, got.Errors, 1)
	assert.Contains(t, got.Errors[0], "confidence 20 below 40")
}

func TestAggregate_CallerCancellationDoesNotReachSources(t *testing.T) {
	var sawCancel atomic.Bool
	src := &fakeSource{name: cards.NameTCGDB, weight: 1, configured: true,
		lookup: func(ctx context.Context, _ sources.Query) (*sources.Quote, error) {
			if ctx.Err() != nil {
				sawCancel.Store(true)
			}
			return &sources.Quote{Price: decimal.NewFromInt(5)}, nil
		}}
	a := newAggregator(t, nil, Config{}, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := a.Aggregate(ctx, sources.Query{Name: "Sol Ring", Category: sources.CategoryMTG})
	require.NoError(t, err)
	assert.True(t, got.MarketPrice.Valid)
	assert.False(t, sawCancel.Load())
}

func TestAggregate_SlowSourceBoundedByOwnTimeout(t *testing.T) {
	slow := &fakeSource{name: cards.NameEbay, weight: 1, configured: true,
		lookup: func(ctx context.Context, _ sources.Query) (*sources.Quote, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
	a := newAggregator(t, nil, Config{AdapterTimeout: 50 * time.Millisecond}, priced(cards.NameTCGDB, 1, "8"), slow)

	got, err := a.Aggregate(context.Background(), sources.Query{Name: "Sol Ring", Category: sources.CategoryMTG})
	require.NoError(t, err)
	assert.Equal(t, "8", got.MarketPrice.Decimal.String())
	require.Len(t, got.Errors, 1)
	assert.Contains(t, got.Errors[0], "deadline exceeded")
}

func TestAggregate_InvalidQuery(t *testing.T) {
	a := newAggregator(t, nil, Config{}, missing(cards.NameTCGDB))
	_, err := a.Aggregate(context.Background(), sources.Query{SetName: "Base Set"})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestNew_NoSources(t *testing.T) {
	_, err := New(nil, nil, Config{}, nil)
	assert.ErrorIs(t, err, ErrNoSources)
}

type brokenStore struct{ store.Store }

func (brokenStore) Get(context.Context, store.Identity) (*store.Record, error) {
	return nil, errors.New("db down")
}

func (brokenStore) Upsert(context.Context, store.Record) (string, error) {
	return "", errors.New("db down")
}

func TestAggregate_CacheUnavailable(t *testing.T) {
	a := newAggregator(t, brokenStore{}, Config{}, priced(cards.NameTCGDB, 1, "9"))

	got, err := a.Aggregate(context.Background(), sources.Query{Name: "Sol Ring", Category: sources.CategoryMTG})
	require.NoError(t, err)
	assert.Equal(t, "9", got.MarketPrice.Decimal.String())
	assert.Empty(t, got.ProductID)
	assert.Len(t, got.Errors, 2)
}

func TestAggregate_ListenersGetFreshResultsOnly(t *testing.T) {
	a := newAggregator(t, store.NewMemoryStore(), Config{}, priced(cards.NameTCGDB, 1, "9"))
	var seen []*AggregatedPrice
	a.OnUpdate(func(p *AggregatedPrice) { seen = append(seen, p) })

	q := sources.Query{Name: "Sol Ring", Category: sources.CategoryMTG}
	_, _ = a.Aggregate(context.Background(), q)
	_, _ = a.Aggregate(context.Background(), q)

	require.Len(t, seen, 1)
	assert.False(t, seen[0].Cached)
	assert.Equal(t, "Sol Ring", seen[0].Query.Name)
}

func TestAggregate_CategoryOverride(t *testing.T) {
	a := newAggregator(t, nil, Config{
		CategorySources: map[sources.Category][]string{sources.CategoryMTG: {cards.NameEbay}},
	}, priced(cards.NameTCGDB, 1, "1"), priced(cards.NameEbay, 1, "2"))

	got, err := a.Aggregate(context.Background(), sources.Query{Name: "Sol Ring", Category: sources.CategoryMTG})
	require.NoError(t, err)
	assert.Equal(t, []string{cards.NameEbay}, got.Sources)
	// Other categories keep their defaults.
	assert.Equal(t, DefaultCategorySources()[sources.CategorySealed], a.SourcesFor(sources.CategorySealed))
}
