package feed

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/coder895/car-market-analyzer/internal/model"
)

// ParseXLSX reads the first sheet of a spreadsheet export. The first row
// is a header naming the columns; unrecognized columns land in Extra.
func ParseXLSX(path string) (Result, error) {
	var res Result

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return res, eris.Wrap(err, "feed: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return res, eris.New("feed: xlsx has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return res, nil
	}

	header := rowToStrings(sheet.Rows[0])
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["id"]; !ok {
		return res, eris.New("feed: xlsx header missing id column")
	}

	for _, row := range sheet.Rows[1:] {
		rec, err := rowToRecord(header, cols, rowToStrings(row))
		if err == nil {
			var l model.Listing
			if l, err = rec.toListing(); err == nil {
				res.Listings = append(res.Listings, l)
				continue
			}
		}
		zap.L().Warn("skipping feed row", zap.Error(err))
		res.Skipped++
	}

	return res, nil
}

func rowToRecord(header []string, cols map[string]int, cells []string) (record, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}

	rec := record{
		ID:          get("id"),
		Title:       get("title"),
		Make:        get("make"),
		Model:       get("model"),
		Location:    get("location"),
		ListingDate: get("listing_date"),
		URL:         get("url"),
		Status:      get("status"),
	}

	if s := get("price"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return rec, eris.Wrapf(err, "feed: row %s: bad price %q", rec.ID, s)
		}
		rec.Price = &v
	}
	if s := get("year"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return rec, eris.Wrapf(err, "feed: row %s: bad year %q", rec.ID, s)
		}
		rec.Year = &v
	}
	if s := get("mileage"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return rec, eris.Wrapf(err, "feed: row %s: bad mileage %q", rec.ID, s)
		}
		rec.Mileage = &v
	}

	// Carry unknown columns through as extra attributes.
	known := map[string]bool{
		"id": true, "title": true, "price": true, "year": true,
		"make": true, "model": true, "mileage": true, "location": true,
		"listing_date": true, "url": true, "status": true,
	}
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if known[key] || i >= len(cells) || strings.TrimSpace(cells[i]) == "" {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]any)
		}
		rec.Extra[key] = strings.TrimSpace(cells[i])
	}

	return rec, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
