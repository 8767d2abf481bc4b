// Package batch streams large listing result sets through a caller-supplied
// fold so analyses never hold the full data set in memory.
package batch

import (
	"context"
	"runtime/debug"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/coder895/car-market-analyzer/internal/model"
)

// ErrNoData reports that the filter matched no listings. Callers treat it as
// a normal empty outcome, not a storage failure.
var ErrNoData = eris.New("batch: no matching listings")

// Source is the subset of the store the processor reads from.
type Source interface {
	CountListings(ctx context.Context, f model.ListingFilter) (int, error)
	ListListings(ctx context.Context, f model.ListingFilter, sortBy string, order model.SortOrder, limit, offset int) ([]model.Listing, error)
}

// Options tunes paging behavior. Zero values pick sane defaults.
type Options struct {
	// PageSize is the number of listings fetched per page. Default 500.
	PageSize int
	// GCEvery releases memory to the OS after this many pages. Large raw
	// payloads otherwise keep the heap inflated for the whole run.
	// Default 5; negative disables.
	GCEvery int
	// Progress, when set, is called after each page with listings
	// processed so far and the total match count.
	Progress func(done, total int)
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 500
	}
	if o.GCEvery == 0 {
		o.GCEvery = 5
	}
	return o
}

// Fold pages through all listings matching f in listing-date order, threading
// acc through fn. Cancellation is honored at page boundaries: a canceled
// context returns the accumulator as folded so far along with ctx.Err().
func Fold[A any](ctx context.Context, src Source, f model.ListingFilter, opts Options, acc A, fn func(A, []model.Listing) (A, error)) (A, int, error) {
	opts = opts.withDefaults()

	total, err := src.CountListings(ctx, f)
	if err != nil {
		return acc, 0, eris.Wrap(err, "batch: count listings")
	}
	if total == 0 {
		return acc, 0, ErrNoData
	}

	done := 0
	for page := 0; done < total; page++ {
		if err := ctx.Err(); err != nil {
			zap.L().Debug("batch: fold canceled",
				zap.Int("done", done), zap.Int("total", total))
			return acc, done, err
		}

		listings, err := src.ListListings(ctx, f, "listing_date", model.SortAsc, opts.PageSize, done)
		if err != nil {
			return acc, done, eris.Wrap(err, "batch: list page")
		}
		if len(listings) == 0 {
			break
		}

		if acc, err = fn(acc, listings); err != nil {
			return acc, done, err
		}
		done += len(listings)

		if opts.Progress != nil {
			opts.Progress(done, total)
		}
		if opts.GCEvery > 0 && (page+1)%opts.GCEvery == 0 {
			debug.FreeOSMemory()
		}
	}
	return acc, done, nil
}

// Each is Fold without an accumulator.
func Each(ctx context.Context, src Source, f model.ListingFilter, opts Options, fn func([]model.Listing) error) (int, error) {
	_, done, err := Fold(ctx, src, f, opts, struct{}{}, func(acc struct{}, page []model.Listing) (struct{}, error) {
		return acc, fn(page)
	})
	return done, err
}
