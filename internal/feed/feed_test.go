package feed

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/coder895/car-market-analyzer/internal/model"
)

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Listings")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "feed.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestParseJSON(t *testing.T) {
	input := `[
		{"id": "a1", "title": "2018 Honda Civic", "price": 15000, "year": 2018, "make": "Honda", "model": "Civic", "mileage": 40000, "listing_date": "2024-01-05", "extra": {"color": "blue"}},
		{"id": "a2", "title": "2020 Toyota Corolla", "price": 18500}
	]`

	res, err := ParseJSON(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, res.Listings, 2)
	assert.Zero(t, res.Skipped)

	l := res.Listings[0]
	assert.Equal(t, "a1", l.ID)
	assert.Equal(t, "2018 Honda Civic", l.Title)
	require.NotNil(t, l.Price)
	assert.Equal(t, 15000.0, *l.Price)
	require.NotNil(t, l.Year)
	assert.Equal(t, 2018, *l.Year)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), l.ListingDate)
	assert.Equal(t, map[string]any{"color": "blue"}, l.Extra)
}

func TestParseJSONSkipsBadRecords(t *testing.T) {
	input := `[
		{"id": "", "title": "no id"},
		{"id": "ok1"},
		{"id": "bad-date", "listing_date": "last tuesday"}
	]`

	res, err := ParseJSON(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, res.Listings, 1)
	assert.Equal(t, "ok1", res.Listings[0].ID)
	assert.Equal(t, 2, res.Skipped)
}

func TestParseJSONRejectsNonArray(t *testing.T) {
	_, err := ParseJSON(context.Background(), strings.NewReader(`{"id": "a1"}`))
	require.Error(t, err)
}

func TestParseJSONEmptyInput(t *testing.T) {
	res, err := ParseJSON(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, res.Listings)
}

func TestParseJSONCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ParseJSON(ctx, strings.NewReader(`[{"id": "a1"}, {"id": "a2"}]`))
	require.Error(t, err)
}

func TestParseXLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"id", "title", "price", "year", "make", "model", "mileage", "listing_date", "color"},
		{"x1", "2019 Ford Focus", "12500.50", "2019", "Ford", "Focus", "55000", "2024-02-10", "red"},
		{"x2", "2015 Mazda 3", "", "2015", "Mazda", "3", "", "", ""},
	})

	res, err := ParseXLSX(path)
	require.NoError(t, err)
	require.Len(t, res.Listings, 2)
	assert.Zero(t, res.Skipped)

	l := res.Listings[0]
	assert.Equal(t, "x1", l.ID)
	require.NotNil(t, l.Price)
	assert.Equal(t, 12500.50, *l.Price)
	require.NotNil(t, l.Mileage)
	assert.Equal(t, 55000, *l.Mileage)
	assert.Equal(t, map[string]any{"color": "red"}, l.Extra)

	// Blank cells stay unset.
	l2 := res.Listings[1]
	assert.Nil(t, l2.Price)
	assert.Nil(t, l2.Mileage)
	assert.True(t, l2.ListingDate.IsZero())
	assert.Nil(t, l2.Extra)
}

func TestParseXLSXSkipsBadRows(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"id", "price"},
		{"", "1000"},
		{"ok1", "not-a-number"},
		{"ok2", "2000"},
	})

	res, err := ParseXLSX(path)
	require.NoError(t, err)
	require.Len(t, res.Listings, 1)
	assert.Equal(t, "ok2", res.Listings[0].ID)
	assert.Equal(t, 2, res.Skipped)
}

func TestParseXLSXMissingIDColumn(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"title", "price"},
		{"no id anywhere", "1000"},
	})

	_, err := ParseXLSX(path)
	require.Error(t, err)
}

func TestParseFileDispatch(t *testing.T) {
	_, err := ParseFile(context.Background(), "feed.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported feed format")
}

func TestRecordStatusMapping(t *testing.T) {
	rec := record{ID: "s1", Status: "inactive"}
	l, err := rec.toListing()
	require.NoError(t, err)
	assert.Equal(t, model.ListingStatusInactive, l.Status)
}
