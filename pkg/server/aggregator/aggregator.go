package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/StrathCole/cardprice/pkg/logging"
	"github.com/StrathCole/cardprice/pkg/metrics"
	"github.com/StrathCole/cardprice/pkg/server/sources"
	"github.com/StrathCole/cardprice/pkg/store"
)

// Aggregator checks the cache, fans a query out to the sources of its
// category, combines their quotes and persists the result.
type Aggregator struct {
	sources map[string]sources.Source
	store   store.Store
	cfg     Config
	logger  *logging.Logger
	now     func() time.Time

	mu        sync.RWMutex
	listeners []Listener
}

var _ Pricer = (*Aggregator)(nil)

// New creates an Aggregator. st may be nil, in which case nothing is cached.
func New(srcs []sources.Source, st store.Store, cfg Config, logger *logging.Logger) (*Aggregator, error) {
	if len(srcs) == 0 {
		return nil, ErrNoSources
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	byName := make(map[string]sources.Source, len(srcs))
	for _, s := range srcs {
		byName[s.Name()] = s
	}

	return &Aggregator{
		sources: byName,
		store:   st,
		cfg:     cfg.withDefaults(),
		logger:  logger.With("component", "aggregator"),
		now:     time.Now,
	}, nil
}

// OnUpdate registers a listener for fresh aggregations.
func (a *Aggregator) OnUpdate(l Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

// SourcesFor returns the configured source names asked for a category.
func (a *Aggregator) SourcesFor(category sources.Category) []string {
	if names, ok := a.cfg.CategorySources[category]; ok {
		return names
	}
	return a.cfg.CategorySources[a.cfg.DefaultCategory]
}

// Aggregate prices one item. Only a query without any identity is an error;
// every source or cache failure is reported in Errors instead.
func (a *Aggregator) Aggregate(ctx context.Context, q sources.Query) (*AggregatedPrice, error) {
	identity := store.IdentityFromQuery(q)
	if !identity.Valid() {
		return nil, ErrInvalidQuery
	}

	var advisories []string

	if !q.ForceRefresh && a.store != nil {
		cached, err := a.cached(ctx, identity)
		if err != nil {
			a.logger.Warn("Cache lookup failed", "name", q.Name, "error", err)
			advisories = append(advisories, "cache: "+err.Error())
		}
		if cached != nil {
			return cached, nil
		}
	}

	start := a.now()
	q.Category = InferCategory(q, a.cfg.Rules, a.cfg.DefaultCategory)

	results, errs := a.fanOut(ctx, q, a.SourcesFor(q.Category))
	advisories = append(advisories, errs...)

	if len(results) == 0 {
		if fb, ok := a.sources[a.cfg.FallbackSource]; ok && fb.Configured() {
			a.logger.Debug("No source priced the item, asking fallback", "name", q.Name, "fallback", fb.Name())
			results, errs = a.fanOut(ctx, q, []string{fb.Name()})
			advisories = append(advisories, errs...)
		}
	}

	out := a.build(q, results)
	out.Errors = advisories

	if out.MarketPrice.Valid && a.store != nil {
		id, err := a.store.Upsert(ctx, store.Record{
			Identity:     identity,
			MarketPrice:  out.MarketPrice,
			LowestListed: out.LowestListed,
			Source:       strings.Join(out.Sources, ","),
			Confidence:   out.Confidence,
			UpdatedAt:    out.UpdatedAt,
		})
		if err != nil {
			a.logger.Warn("Failed to persist price", "name", q.Name, "error", err)
			out.Errors = append(out.Errors, "cache: "+err.Error())
		} else {
			out.ProductID = id
		}
	}

	metrics.RecordAggregation(string(q.Category), out.Confidence, a.now().Sub(start))
	a.logger.Info("Aggregated price",
		"name", q.Name,
		"category", q.Category,
		"sources", out.SourceCount,
		"confidence", out.Confidence,
		"errors", len(out.Errors),
	)

	a.publish(out)
	return out, nil
}

// cached returns a response built from a fresh stored record, or nil.
func (a *Aggregator) cached(ctx context.Context, id store.Identity) (*AggregatedPrice, error) {
	rec, err := a.store.Get(ctx, id)
	if err != nil {
		metrics.RecordCacheResult("error")
		return nil, err
	}
	now := a.now()
	switch {
	case rec == nil:
		metrics.RecordCacheResult("miss")
		return nil, nil
	case !rec.Fresh(now, a.cfg.TTL):
		metrics.RecordCacheResult("stale")
		return nil, nil
	}
	metrics.RecordCacheResult("hit")

	age := rec.Age(now).Hours()
	names := []string{}
	if rec.Source != "" {
		names = strings.Split(rec.Source, ",")
	}
	return &AggregatedPrice{
		MarketPrice:   rec.MarketPrice,
		LowestListed:  rec.LowestListed,
		Confidence:    rec.Confidence,
		Sources:       names,
		SourceCount:   len(names),
		Cached:        true,
		CacheAgeHours: &age,
		ProductID:     rec.ID,
		UpdatedAt:     rec.UpdatedAt,
	}, nil
}

// fanOut asks every named, configured source concurrently and waits for all
// of them. Calls are detached from ctx cancellation and bounded by the
// adapter timeout instead.
func (a *Aggregator) fanOut(ctx context.Context, q sources.Query, names []string) ([]SourceResult, []string) {
	detached := context.WithoutCancel(ctx)

	type outcome struct {
		result *SourceResult
		err    string
	}
	outcomes := make([]outcome, len(names))

	var g errgroup.Group
	for i, name := range names {
		src, ok := a.sources[name]
		if !ok || !src.Configured() {
			metrics.RecordSourceLookup(name, "skipped", 0)
			continue
		}

		i := i // per-iteration copy (pre-Go 1.22 loop semantics)
		g.Go(func() error {
			res, err := a.lookup(detached, src, q)
			switch {
			case err != nil:
				outcomes[i].err = fmt.Sprintf("%s: %v", src.Name(), err)
			case res != nil:
				outcomes[i].result = res
			}
			return nil
		})
	}
	_ = g.Wait()

	var (
		results []SourceResult
		errs    []string
	)
	for _, o := range outcomes {
		if o.err != "" {
			errs = append(errs, o.err)
		}
		if o.result != nil {
			results = append(results, *o.result)
		}
	}
	return results, errs
}

// lookup runs one source call and applies the self-score threshold.
func (a *Aggregator) lookup(ctx context.Context, src sources.Source, q sources.Query) (*SourceResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.AdapterTimeout)
	defer cancel()

	start := time.Now()
	quote, err := src.Lookup(ctx, q)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, sources.ErrNotConfigured):
		metrics.RecordSourceLookup(src.Name(), "skipped", 0)
		return nil, nil
	case err != nil:
		metrics.RecordSourceLookup(src.Name(), "error", elapsed)
		a.logger.Warn("Source lookup failed", "source", src.Name(), "name", q.Name, "error", err)
		return nil, err
	case quote == nil || !quote.Price.IsPositive():
		metrics.RecordSourceLookup(src.Name(), "miss", elapsed)
		return nil, nil
	case quote.Confidence > 0 && quote.Confidence < a.cfg.MinAIConfidence:
		metrics.RecordSourceLookup(src.Name(), "miss", elapsed)
		return nil, fmt.Errorf("confidence %d below %d", quote.Confidence, a.cfg.MinAIConfidence)
	}

	metrics.RecordSourceLookup(src.Name(), "price", elapsed)
	return &SourceResult{
		Source:     src.Name(),
		Price:      quote.Price,
		LowPrice:   quote.LowPrice,
		Weight:     src.Weight(),
		Confidence: quote.Confidence,
		Matched:    quote.Matched,
		Timestamp:  a.now(),
	}, nil
}

// build combines results into the response. Zero results give a null price.
func (a *Aggregator) build(q sources.Query, results []SourceResult) *AggregatedPrice {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Source < results[j].Source
	})

	out := &AggregatedPrice{
		Sources:   make([]string, 0, len(results)),
		Category:  q.Category,
		Results:   results,
		Query:     q,
		UpdatedAt: a.now(),
	}

	combined, ok := Combine(results)
	if !ok {
		return out
	}

	for _, r := range results {
		out.Sources = append(out.Sources, r.Source)
	}
	out.SourceCount = len(results)
	out.MarketPrice.Valid = true
	out.MarketPrice.Decimal = combined.WeightedAverage
	out.LowestListed = combined.Lowest
	out.Confidence = combined.Confidence
	out.PriceRange = &PriceRange{Min: combined.Min, Max: combined.Max}
	return out
}

func (a *Aggregator) publish(p *AggregatedPrice) {
	a.mu.RLock()
	listeners := append([]Listener(nil), a.listeners...)
	a.mu.RUnlock()

	for _, l := range listeners {
		l(p)
	}
}
