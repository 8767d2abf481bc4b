package main

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/coder895/car-market-analyzer/internal/feed"
	"github.com/coder895/car-market-analyzer/internal/model"
	"github.com/coder895/car-market-analyzer/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import <feed-file>...",
	Short: "Import listing feed files (JSON or XLSX) into the store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := importFeeds(ctx, env.Store, args)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.Int("found", stats.found),
			zap.Int("saved", stats.saved),
			zap.Int("failed", stats.failed),
			zap.Int("skipped", stats.skipped),
		)
		return nil
	},
}

type importStats struct {
	mu      sync.Mutex
	found   int
	saved   int
	failed  int
	skipped int
}

func (s *importStats) add(found, saved, failed, skipped int) {
	s.mu.Lock()
	s.found += found
	s.saved += saved
	s.failed += failed
	s.skipped += skipped
	s.mu.Unlock()
}

// importFeeds parses feed files concurrently and upserts their listings in
// rate-limited batches, recording the run as a scrape session.
func importFeeds(ctx context.Context, st store.Store, paths []string) (*importStats, error) {
	sessionID, err := st.StartScrapeSession(ctx, map[string]any{
		"source": "import",
		"files":  len(paths),
	})
	if err != nil {
		return nil, eris.Wrap(err, "start scrape session")
	}

	stats := &importStats{}
	lim := rate.Limit(cfg.Import.RatePerSec)
	if lim <= 0 {
		lim = rate.Inf
	}
	limiter := rate.NewLimiter(lim, 1)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Import.Concurrency > 0 {
		g.SetLimit(cfg.Import.Concurrency)
	}

	for _, path := range paths {
		g.Go(func() error {
			res, err := feed.ParseFile(gctx, path)
			if err != nil {
				return eris.Wrapf(err, "parse %s", path)
			}

			saved, failed, err := upsertBatches(gctx, st, limiter, res.Listings)
			stats.add(len(res.Listings), saved, failed, res.Skipped)
			if err != nil {
				return eris.Wrapf(err, "import %s", path)
			}

			zap.L().Info("feed imported",
				zap.String("file", path),
				zap.Int("listings", len(res.Listings)),
				zap.Int("skipped", res.Skipped),
			)
			return nil
		})
	}

	runErr := g.Wait()

	status := "completed"
	errMsg := ""
	if runErr != nil {
		status = "error"
		errMsg = runErr.Error()
	}
	if err := st.FinishScrapeSession(ctx, sessionID, status, stats.found, stats.saved, 0, errMsg); err != nil {
		zap.L().Warn("finish scrape session failed", zap.Error(err))
	}

	return stats, runErr
}

func upsertBatches(ctx context.Context, st store.Store, limiter *rate.Limiter, listings []model.Listing) (saved, failed int, err error) {
	size := cfg.Import.BatchSize
	if size <= 0 {
		size = 200
	}

	for start := 0; start < len(listings); start += size {
		end := min(start+size, len(listings))

		if err := limiter.Wait(ctx); err != nil {
			return saved, failed, eris.Wrap(err, "rate limit wait")
		}

		s, f, err := st.UpsertListingsBatch(ctx, listings[start:end])
		saved += s
		failed += f
		if err != nil {
			return saved, failed, err
		}
	}
	return saved, failed, nil
}

func init() {
	rootCmd.AddCommand(importCmd)
}
