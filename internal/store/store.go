// Package store persists car listings, precomputed market statistics, and
// cached analysis results in an embedded database.
package store

import (
	"context"
	"time"

	"github.com/coder895/car-market-analyzer/internal/model"
)

// Options tunes store behavior shared by all drivers.
type Options struct {
	// Compression controls whether side payloads and cache values are
	// zlib-compressed before storage. Reads handle both forms either way.
	Compression bool
	// MaxSizeMB is the on-disk size ceiling that triggers retention
	// pruning during maintenance. Zero disables the check.
	MaxSizeMB int
	// RetentionDays is the age past last_updated after which inactive
	// listings are archived. Archived rows older than twice this window
	// are deleted outright.
	RetentionDays int
	// VacuumProbability is the per-maintenance-pass chance of running a
	// space-reclaiming vacuum.
	VacuumProbability float64
}

// Store defines the persistence interface for the market analyzer.
//
// Lookup methods report "not found" as a nil/zero result with a nil error; a
// non-nil error always means the storage layer itself failed. Callers that
// cache results rely on that distinction: an empty result is cacheable "no
// data", a storage failure is not.
type Store interface {
	// Listings
	UpsertListing(ctx context.Context, l model.Listing) error
	UpsertListingsBatch(ctx context.Context, listings []model.Listing) (saved, failed int, err error)
	GetListing(ctx context.Context, id string) (*model.Listing, error)
	ListListings(ctx context.Context, f model.ListingFilter, sortBy string, order model.SortOrder, limit, offset int) ([]model.Listing, error)
	CountListings(ctx context.Context, f model.ListingFilter) (int, error)

	// Precomputed market stats
	SaveMarketStat(ctx context.Context, s model.MarketStat) error
	GetMarketStats(ctx context.Context, q model.MarketStatQuery) ([]model.MarketStat, error)

	// Analysis cache
	SaveCache(ctx context.Context, key string, value any, ttl time.Duration) error
	GetCache(ctx context.Context, key string, dest any) (bool, error)
	SweepExpiredCache(ctx context.Context) (int, error)

	// Grouped lookups for popularity and filter pickers
	TopMakes(ctx context.Context, limit int) ([]model.MakeCount, error)
	TopModels(ctx context.Context, limit int) ([]model.ModelCount, error)
	Makes(ctx context.Context) ([]string, error)
	ModelsForMake(ctx context.Context, make string) ([]string, error)
	YearRange(ctx context.Context, make, carModel string) (minYear, maxYear int, err error)

	// Scrape sessions
	StartScrapeSession(ctx context.Context, params map[string]any) (string, error)
	FinishScrapeSession(ctx context.Context, id, status string, found, added, updated int, errMsg string) error

	// Saved searches
	SaveSearch(ctx context.Context, s model.SavedSearch) (int64, error)
	ListSavedSearches(ctx context.Context) ([]model.SavedSearch, error)

	// Lifecycle
	RunMaintenance(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// listingSortColumns is the allow-list for ListListings sort input. Anything
// else falls back to listing_date.
var listingSortColumns = map[string]bool{
	"price":        true,
	"year":         true,
	"mileage":      true,
	"listing_date": true,
	"last_updated": true,
	"make":         true,
	"model":        true,
	"title":        true,
}

// normalizeSort applies the sort allow-list. Invalid input is normalized to
// a safe default rather than rejected.
func normalizeSort(sortBy string, order model.SortOrder) (string, model.SortOrder) {
	if !listingSortColumns[sortBy] {
		sortBy = "listing_date"
	}
	if order != model.SortAsc && order != model.SortDesc {
		order = model.SortDesc
	}
	return sortBy, order
}
