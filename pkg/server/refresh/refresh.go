// Package refresh re-prices stored items that have no market price yet.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/StrathCole/cardprice/pkg/logging"
	"github.com/StrathCole/cardprice/pkg/metrics"
	"github.com/StrathCole/cardprice/pkg/server/aggregator"
	"github.com/StrathCole/cardprice/pkg/server/sources"
	"github.com/StrathCole/cardprice/pkg/store"
)

const (
	DefaultBatchSize  = 5
	DefaultBatchDelay = 2 * time.Second
	DefaultLimit      = 100
)

// ErrAlreadyRunning is returned when a refresh is started while one is in progress.
var ErrAlreadyRunning = errors.New("refresh already running")

// Config holds bulk refresh settings.
type Config struct {
	BatchSize  int
	BatchDelay time.Duration
	Limit      int
}

// Summary reports one refresh run.
type Summary struct {
	Scanned  int           `json:"scanned"`
	Priced   int           `json:"priced"`
	Unpriced int           `json:"unpriced"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration_ns"`
}

// Refresher scans items missing a price and aggregates them in small
// concurrent batches. Batches run one after another with a pause between
// them to stay under upstream rate limits.
type Refresher struct {
	pricer  aggregator.Pricer
	store   store.Store
	cfg     Config
	logger  *logging.Logger
	running atomic.Bool
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Refresher.
func New(pricer aggregator.Pricer, st store.Store, cfg Config, logger *logging.Logger) *Refresher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultBatchDelay
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Refresher{
		pricer: pricer,
		store:  st,
		cfg:    cfg,
		logger: logger.With("component", "refresh"),
		sleep:  sleepCtx,
	}
}

// Run performs one refresh pass. On cancellation it stops between batches
// and returns what was done so far together with the context error.
func (r *Refresher) Run(ctx context.Context) (Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	start := time.Now()
	var sum Summary
	defer func() {
		sum.Duration = time.Since(start)
	}()

	records, err := r.store.ListMissingPrice(ctx, r.cfg.Limit)
	if err != nil {
		return sum, fmt.Errorf("list items missing a price: %w", err)
	}
	sum.Scanned = len(records)
	r.logger.Info("Starting refresh", "items", len(records), "batch_size", r.cfg.BatchSize)

	var priced, unpriced, failed atomic.Int32
	for i := 0; i < len(records); i += r.cfg.BatchSize {
		if i > 0 && r.cfg.BatchDelay > 0 {
			if err := r.sleep(ctx, r.cfg.BatchDelay); err != nil {
				sum.Priced, sum.Unpriced, sum.Failed = int(priced.Load()), int(unpriced.Load()), int(failed.Load())
				return sum, err
			}
		}

		batch := records[i:min(i+r.cfg.BatchSize, len(records))]
		var g errgroup.Group
		for _, rec := range batch {
			rec := rec // per-iteration copy (pre-Go 1.22 loop semantics)
			g.Go(func() error {
				switch r.refreshOne(ctx, rec) {
				case "priced":
					priced.Add(1)
				case "unpriced":
					unpriced.Add(1)
				default:
					failed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	sum.Priced, sum.Unpriced, sum.Failed = int(priced.Load()), int(unpriced.Load()), int(failed.Load())
	r.logger.Info("Refresh finished",
		"scanned", sum.Scanned,
		"priced", sum.Priced,
		"unpriced", sum.Unpriced,
		"failed", sum.Failed,
		"duration", time.Since(start),
	)
	return sum, nil
}

// Running reports whether a refresh pass is in progress.
func (r *Refresher) Running() bool {
	return r.running.Load()
}

func (r *Refresher) refreshOne(ctx context.Context, rec store.Record) string {
	status := "failed"
	defer func() {
		metrics.RecordRefreshItem(status)
	}()

	res, err := r.pricer.Aggregate(ctx, sources.Query{
		Name:         rec.Name,
		SetName:      rec.SetName,
		CardNumber:   rec.CardNumber,
		ExternalID:   rec.ExternalID,
		ForceRefresh: true,
	})
	if err != nil {
		r.logger.Warn("Refresh of item failed", "id", rec.ID, "name", rec.Name, "error", err)
		return status
	}

	status = "unpriced"
	if res.MarketPrice.Valid {
		status = "priced"
	}
	return status
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
