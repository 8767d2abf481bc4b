package batch

import (
	"context"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coder895/car-market-analyzer/internal/model"
)

// fakeSource serves a fixed slice of listings page by page.
type fakeSource struct {
	listings []model.Listing
	pages    int
	countErr error
	listErr  error
}

func (f *fakeSource) CountListings(ctx context.Context, _ model.ListingFilter) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.listings), nil
}

func (f *fakeSource) ListListings(ctx context.Context, _ model.ListingFilter, _ string, _ model.SortOrder, limit, offset int) ([]model.Listing, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.pages++
	if offset >= len(f.listings) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.listings) {
		end = len(f.listings)
	}
	return f.listings[offset:end], nil
}

func makeListings(n int) []model.Listing {
	out := make([]model.Listing, n)
	for i := range out {
		out[i] = model.Listing{ID: fmt.Sprintf("l%03d", i)}
	}
	return out
}

func TestFoldVisitsEveryListingOnce(t *testing.T) {
	src := &fakeSource{listings: makeListings(23)}

	seen, done, err := Fold(context.Background(), src, model.ListingFilter{}, Options{PageSize: 10},
		map[string]int{}, func(acc map[string]int, page []model.Listing) (map[string]int, error) {
			for _, l := range page {
				acc[l.ID]++
			}
			return acc, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 23, done)
	assert.Len(t, seen, 23)
	for id, n := range seen {
		assert.Equal(t, 1, n, "listing %s folded more than once", id)
	}
	assert.Equal(t, 3, src.pages)
}

func TestFoldNoData(t *testing.T) {
	src := &fakeSource{}

	_, done, err := Fold(context.Background(), src, model.ListingFilter{}, Options{}, 0,
		func(acc int, _ []model.Listing) (int, error) { return acc, nil })
	require.ErrorIs(t, err, ErrNoData)
	assert.Zero(t, done)
}

func TestFoldCountError(t *testing.T) {
	src := &fakeSource{countErr: eris.New("disk on fire")}

	_, _, err := Fold(context.Background(), src, model.ListingFilter{}, Options{}, 0,
		func(acc int, _ []model.Listing) (int, error) { return acc, nil })
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoData)
}

func TestFoldStopsOnCancel(t *testing.T) {
	src := &fakeSource{listings: makeListings(50)}
	ctx, cancel := context.WithCancel(context.Background())

	sum, done, err := Fold(ctx, src, model.ListingFilter{}, Options{PageSize: 10}, 0,
		func(acc int, page []model.Listing) (int, error) {
			if acc == 0 {
				cancel() // takes effect at the next page boundary
			}
			return acc + len(page), nil
		})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, done)
	assert.Equal(t, 10, sum)
}

func TestFoldPropagatesFnError(t *testing.T) {
	src := &fakeSource{listings: makeListings(30)}
	boom := eris.New("bad fold")

	_, done, err := Fold(context.Background(), src, model.ListingFilter{}, Options{PageSize: 10}, 0,
		func(acc int, _ []model.Listing) (int, error) {
			if acc >= 1 {
				return acc, boom
			}
			return acc + 1, nil
		})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 10, done)
}

func TestFoldStopsOnShortCount(t *testing.T) {
	// Listings deleted between count and paging: the empty page ends the
	// run instead of looping forever.
	wrapped := &shrinkingSource{
		inner:         &fakeSource{listings: makeListings(5)},
		reportedCount: 10,
	}

	sum, done, err := Fold(context.Background(), wrapped, model.ListingFilter{}, Options{PageSize: 3}, 0,
		func(acc int, page []model.Listing) (int, error) { return acc + len(page), nil })
	require.NoError(t, err)
	assert.Equal(t, 5, done)
	assert.Equal(t, 5, sum)
}

type shrinkingSource struct {
	inner         *fakeSource
	reportedCount int
}

func (s *shrinkingSource) CountListings(ctx context.Context, f model.ListingFilter) (int, error) {
	return s.reportedCount, nil
}

func (s *shrinkingSource) ListListings(ctx context.Context, f model.ListingFilter, sortBy string, order model.SortOrder, limit, offset int) ([]model.Listing, error) {
	return s.inner.ListListings(ctx, f, sortBy, order, limit, offset)
}

func TestEach(t *testing.T) {
	src := &fakeSource{listings: makeListings(12)}

	var progress [][2]int
	done, err := Each(context.Background(), src, model.ListingFilter{},
		Options{PageSize: 5, Progress: func(done, total int) {
			progress = append(progress, [2]int{done, total})
		}},
		func(page []model.Listing) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 12, done)
	assert.Equal(t, [][2]int{{5, 12}, {10, 12}, {12, 12}}, progress)
}
