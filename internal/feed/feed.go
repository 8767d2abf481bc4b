// Package feed parses scraped listing feed files (JSON or XLSX) into
// listings ready for upsert.
package feed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/coder895/car-market-analyzer/internal/model"
)

// Result reports one parsed feed file.
type Result struct {
	Listings []model.Listing
	// Skipped counts rows that could not be mapped to a listing; they
	// are logged and dropped, never fatal.
	Skipped int
}

// ParseFile dispatches on the file extension. Supported: .json, .xlsx.
func ParseFile(ctx context.Context, path string) (Result, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		f, err := os.Open(path)
		if err != nil {
			return Result{}, eris.Wrapf(err, "feed: open %s", path)
		}
		defer f.Close()
		return ParseJSON(ctx, f)
	case ".xlsx":
		return ParseXLSX(path)
	default:
		return Result{}, eris.Errorf("feed: unsupported feed format %q", filepath.Ext(path))
	}
}

// record is the loose wire shape one feed row arrives in. Dates come as
// either YYYY-MM-DD or RFC 3339.
type record struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Price       *float64       `json:"price"`
	Year        *int           `json:"year"`
	Make        string         `json:"make"`
	Model       string         `json:"model"`
	Mileage     *int           `json:"mileage"`
	Location    string         `json:"location"`
	ListingDate string         `json:"listing_date"`
	URL         string         `json:"url"`
	ImageURLs   []string       `json:"image_urls"`
	Status      string         `json:"status"`
	Extra       map[string]any `json:"extra"`
}

func (r record) toListing() (model.Listing, error) {
	if r.ID == "" {
		return model.Listing{}, eris.New("feed: record missing id")
	}

	l := model.Listing{
		ID:        r.ID,
		Title:     r.Title,
		Price:     r.Price,
		Year:      r.Year,
		Make:      r.Make,
		Model:     r.Model,
		Mileage:   r.Mileage,
		Location:  r.Location,
		URL:       r.URL,
		ImageURLs: r.ImageURLs,
		Status:    model.ListingStatus(r.Status),
		Extra:     r.Extra,
	}
	if r.ListingDate != "" {
		d, err := parseDate(r.ListingDate)
		if err != nil {
			return model.Listing{}, err
		}
		l.ListingDate = d
	}
	return l, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, eris.Errorf("feed: unparseable listing date %q", s)
}
