package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/coder895/car-market-analyzer/internal/analysis"
	"github.com/coder895/car-market-analyzer/internal/config"
	"github.com/coder895/car-market-analyzer/internal/store"
)

// appEnv holds the initialized store, analysis engine, and job runner
// shared by the commands.
type appEnv struct {
	Store  store.Store
	Engine *analysis.Engine
	Runner *analysis.Runner
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the store, runs migrations, and builds the analysis
// engine and runner. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	// Sweep expired cache and prune old listings on every open; a failure
	// here never blocks startup.
	if err := st.RunMaintenance(ctx); err != nil {
		zap.L().Warn("store maintenance at open failed", zap.Error(err))
	}

	engine := analysis.New(st, analysis.Config{
		CacheTTL:        cfg.Analysis.CacheTTL(),
		MaxChartPoints:  cfg.Analysis.MaxChartPoints,
		BatchPageSize:   cfg.Analysis.BatchPageSize,
		Precompute:      cfg.Analysis.Precompute,
		PopularityLimit: cfg.Analysis.PopularityLimit,
	})

	return &appEnv{
		Store:  st,
		Engine: engine,
		Runner: analysis.NewRunner(engine, cfg.Analysis.CancelGrace()),
	}, nil
}

func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	opts := store.Options{
		Compression:       sc.Compression,
		MaxSizeMB:         sc.MaxSizeMB,
		RetentionDays:     sc.RetentionDays,
		VacuumProbability: sc.VacuumProbability,
	}

	switch sc.Driver {
	case "sqlite":
		path := sc.Path
		if path == "" {
			path = "car_listings.db"
		}
		return store.NewSQLite(path, opts)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, opts)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}
