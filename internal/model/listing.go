package model

import "time"

// ListingStatus represents the lifecycle state of a marketplace listing.
// Transitions are monotonic: active -> inactive -> archived.
type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusInactive ListingStatus = "inactive"
	ListingStatusArchived ListingStatus = "archived"
)

// Listing is a single marketplace observation of a car ad. The fixed columns
// below are indexed and filterable; everything else a scrape produces lives
// in Extra and is persisted as a compressed side payload.
type Listing struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Price       *float64       `json:"price,omitempty"`
	Year        *int           `json:"year,omitempty"`
	Make        string         `json:"make,omitempty"`
	Model       string         `json:"model,omitempty"`
	Mileage     *int           `json:"mileage,omitempty"`
	Location    string         `json:"location,omitempty"`
	ListingDate time.Time      `json:"listing_date"`
	LastUpdated time.Time      `json:"last_updated"`
	URL         string         `json:"url,omitempty"`
	ImageURLs   []string       `json:"image_urls,omitempty"`
	Status      ListingStatus  `json:"status"`
	Extra       map[string]any `json:"extra,omitempty"`

	// RawHTML keeps the scraped page for fallback re-parsing. Stored
	// compressed, dropped when the listing is archived.
	RawHTML []byte `json:"-"`
}

// ListingFilter selects listings for queries and analyses. All fields are
// optional; zero values mean "no constraint". Status defaults to active at
// the store layer when left empty.
type ListingFilter struct {
	PriceMin       *float64   `json:"price_min,omitempty"`
	PriceMax       *float64   `json:"price_max,omitempty"`
	YearMin        *int       `json:"year_min,omitempty"`
	YearMax        *int       `json:"year_max,omitempty"`
	MileageMax     *int       `json:"mileage_max,omitempty"`
	Make           string     `json:"make,omitempty"`
	Model          string     `json:"model,omitempty"`
	Status         string     `json:"status,omitempty"`
	SearchTerm     string     `json:"search_term,omitempty"`
	ListingDateMin *time.Time `json:"listing_date_min,omitempty"`
}

// SortOrder restricts listing sorts to the two SQL directions.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// StatType identifies a precomputed daily market statistic.
type StatType string

const (
	StatAvgPrice    StatType = "avg_price"
	StatMedianPrice StatType = "median_price"
	StatMinPrice    StatType = "min_price"
	StatMaxPrice    StatType = "max_price"
	StatCount       StatType = "count"
)

// MarketStat is a precomputed per-day aggregate for a make/model/year-range
// combination. At most one row exists per (Date, Make, Model, YearMin,
// YearMax, Type); a rewrite for the same day wins.
type MarketStat struct {
	Date       string   `json:"date"` // YYYY-MM-DD
	Make       string   `json:"make"`
	Model      string   `json:"model"`
	YearMin    *int     `json:"year_min,omitempty"`
	YearMax    *int     `json:"year_max,omitempty"`
	Type       StatType `json:"stat_type"`
	Value      float64  `json:"stat_value"`
	SampleSize int      `json:"sample_size"`
}

// MarketStatQuery filters stored market stats.
type MarketStatQuery struct {
	Make     string   `json:"make,omitempty"`
	Model    string   `json:"model,omitempty"`
	YearMin  *int     `json:"year_min,omitempty"`
	YearMax  *int     `json:"year_max,omitempty"`
	Type     StatType `json:"stat_type,omitempty"`
	DateFrom string   `json:"date_from,omitempty"`
	DateTo   string   `json:"date_to,omitempty"`
}

// ScrapeSession records one scraper run for bookkeeping. The analysis core
// never mutates sessions beyond start/finish.
type ScrapeSession struct {
	ID              string         `json:"id"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	Status          string         `json:"status"`
	ListingsFound   int            `json:"listings_found"`
	NewListings     int            `json:"new_listings"`
	UpdatedListings int            `json:"updated_listings"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	SearchParams    map[string]any `json:"search_params,omitempty"`
}

// SavedSearch is a user-stored filter set, opaque to the analysis engine.
type SavedSearch struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Filter      ListingFilter `json:"filter"`
	CreatedDate time.Time     `json:"created_date"`
	LastRun     *time.Time    `json:"last_run,omitempty"`
	AutoRun     bool          `json:"auto_run"`
}
