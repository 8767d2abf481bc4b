// Package analysis computes market statistics over stored car listings:
// price trends, price distribution, mileage and year regressions, and
// popularity counts. Results resolve cache-first, then precomputed
// aggregates, then a full batch scan.
package analysis

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/coder895/car-market-analyzer/internal/batch"
	"github.com/coder895/car-market-analyzer/internal/model"
	"github.com/coder895/car-market-analyzer/internal/store"
)

// Config tunes the engine. Zero values pick sane defaults.
type Config struct {
	// CacheTTL is how long computed results stay valid. Default 30m.
	CacheTTL time.Duration
	// MaxChartPoints caps series length before downsampling. Default 100.
	MaxChartPoints int
	// BatchPageSize is the listing page size for full scans. Default 500.
	BatchPageSize int
	// Precompute enables the MarketStat fast path and write-back for
	// make+model scoped trend queries.
	Precompute bool
	// PopularityLimit is the top-N size for popularity queries. Default 10.
	PopularityLimit int
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Minute
	}
	if c.MaxChartPoints <= 0 {
		c.MaxChartPoints = 100
	}
	if c.BatchPageSize <= 0 {
		c.BatchPageSize = 500
	}
	if c.PopularityLimit <= 0 {
		c.PopularityLimit = 10
	}
	return c
}

// Engine runs analyses against a Store. It is safe for concurrent use.
type Engine struct {
	store store.Store
	cfg   Config
	// now is swappable in tests that pin "today" for aggregate writes.
	now func() time.Time
}

// New builds an Engine over the given store.
func New(st store.Store, cfg Config) *Engine {
	return &Engine{store: st, cfg: cfg.withDefaults(), now: time.Now}
}

// Run dispatches one analysis by type. progress, when non-nil, receives
// fractional completion in [0, 1] as the underlying scan advances.
func (e *Engine) Run(ctx context.Context, typ model.AnalysisType, params model.AnalysisParams, progress func(float64)) (any, error) {
	switch typ {
	case model.AnalysisPriceTrends:
		return e.priceTrends(ctx, params, progress)
	case model.AnalysisPriceDistribution:
		return e.priceDistribution(ctx, params, progress)
	case model.AnalysisMileageVsPrice:
		return e.mileageVsPrice(ctx, params, progress)
	case model.AnalysisYearVsPrice:
		return e.yearVsPrice(ctx, params, progress)
	case model.AnalysisPopularity:
		return e.popularity(ctx, params)
	default:
		return nil, eris.Errorf("analysis: unknown analysis type %q", typ)
	}
}

// PriceTrends computes date-indexed price statistics for the filtered set.
func (e *Engine) PriceTrends(ctx context.Context, params model.AnalysisParams) (*model.PriceTrendResult, error) {
	return e.priceTrends(ctx, params, nil)
}

// PriceDistribution computes a price histogram for the filtered set.
func (e *Engine) PriceDistribution(ctx context.Context, params model.AnalysisParams) (*model.PriceDistributionResult, error) {
	return e.priceDistribution(ctx, params, nil)
}

// MileageVsPrice fits price against mileage for the filtered set.
func (e *Engine) MileageVsPrice(ctx context.Context, params model.AnalysisParams) (*model.MileagePriceResult, error) {
	return e.mileageVsPrice(ctx, params, nil)
}

// YearVsPrice computes per-model-year price statistics and their trend.
func (e *Engine) YearVsPrice(ctx context.Context, params model.AnalysisParams) (*model.YearPriceResult, error) {
	return e.yearVsPrice(ctx, params, nil)
}

// Popularity returns the most-listed makes and models.
func (e *Engine) Popularity(ctx context.Context, params model.AnalysisParams) (*model.PopularityResult, error) {
	return e.popularity(ctx, params)
}

// lookupCache tries the cache under the request fingerprint. Cache failures
// are logged and reported as a miss; they must not fail the analysis.
func (e *Engine) lookupCache(ctx context.Context, typ model.AnalysisType, params model.AnalysisParams, dest any) (string, bool) {
	key, err := Fingerprint(typ, params)
	if err != nil {
		zap.L().Warn("analysis: fingerprint failed", zap.Error(err))
		return "", false
	}
	ok, err := e.store.GetCache(ctx, key, dest)
	if err != nil {
		zap.L().Warn("analysis: cache read failed",
			zap.String("key", key), zap.Error(err))
		return key, false
	}
	return key, ok
}

// saveCache writes a computed result back. Best effort: failures are logged
// and the result is still returned to the caller.
func (e *Engine) saveCache(ctx context.Context, key string, value any) {
	if key == "" {
		return
	}
	if err := e.store.SaveCache(ctx, key, value, e.cfg.CacheTTL); err != nil {
		zap.L().Warn("analysis: cache write failed",
			zap.String("key", key), zap.Error(err))
	}
}

// foldListings runs a batch fold over the filtered listings, translating
// page progress into the engine's fractional progress callback.
func foldListings[A any](ctx context.Context, e *Engine, f model.ListingFilter, progress func(float64), acc A, fn func(A, []model.Listing) (A, error)) (A, error) {
	opts := batch.Options{PageSize: e.cfg.BatchPageSize}
	if progress != nil {
		opts.Progress = func(done, total int) {
			progress(float64(done) / float64(total))
		}
	}
	acc, _, err := batch.Fold(ctx, e.store, f, opts, acc, fn)
	return acc, err
}
