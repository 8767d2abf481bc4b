package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coder895/car-market-analyzer/internal/model"
)

// anyArgs builds n pgxmock.AnyArg placeholders; v4 matches argument counts
// even when WithArgs is omitted.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s := newPostgresWithPool(mock, Options{Compression: true, RetentionDays: 90})
	return s, mock
}

func TestPostgresUpsertListing(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO car_listings`).
		WithArgs(anyArgs(15)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertListing(context.Background(), testListing("pg1")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertListingRequiresID(t *testing.T) {
	s, mock := newMockPostgres(t)

	err := s.UpsertListing(context.Background(), model.Listing{Title: "no id"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func expectBatchRecord(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec(`^SAVEPOINT listing_rec$`).
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`INSERT INTO car_listings`).
		WithArgs(anyArgs(15)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`^RELEASE SAVEPOINT listing_rec$`).
		WillReturnResult(pgxmock.NewResult("RELEASE", 0))
}

func TestPostgresUpsertListingsBatchCountsFailures(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectBegin()
	for i := 0; i < 4; i++ {
		expectBatchRecord(mock)
	}
	mock.ExpectCommit()

	listings := []model.Listing{
		testListing("b1"),
		testListing("b2"),
		{Title: "missing id"},
		testListing("b4"),
		testListing("b5"),
	}
	saved, failed, err := s.UpsertListingsBatch(context.Background(), listings)
	require.NoError(t, err)
	assert.Equal(t, 4, saved)
	assert.Equal(t, 1, failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertListingsBatchRecoversFromBadRecord(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectBegin()
	expectBatchRecord(mock)
	// Second record blows up mid-transaction; the savepoint rollback keeps
	// the remaining records insertable.
	mock.ExpectExec(`^SAVEPOINT listing_rec$`).
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`INSERT INTO car_listings`).
		WithArgs(anyArgs(15)...).
		WillReturnError(fmt.Errorf("value too long for column"))
	mock.ExpectExec(`^ROLLBACK TO SAVEPOINT listing_rec$`).
		WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
	expectBatchRecord(mock)
	mock.ExpectCommit()

	listings := []model.Listing{
		testListing("r1"),
		testListing("r2"),
		testListing("r3"),
	}
	saved, failed, err := s.UpsertListingsBatch(context.Background(), listings)
	require.NoError(t, err)
	assert.Equal(t, 2, saved)
	assert.Equal(t, 1, failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetListingNotFound(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT .+ FROM car_listings WHERE id`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetListing(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCountListings(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM car_listings`).
		WithArgs(anyArgs(2)...).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	count, err := s.CountListings(context.Background(), model.ListingFilter{Make: "Honda"})
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCacheHit(t *testing.T) {
	s, mock := newMockPostgres(t)

	raw, err := json.Marshal(map[string]int{"n": 42})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT data FROM analysis_cache`).
		WithArgs("key1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(compressBlob(raw, true)))

	var out map[string]int
	ok, err := s.GetCache(context.Background(), "key1", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, out["n"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCacheMiss(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT data FROM analysis_cache`).
		WithArgs("absent").
		WillReturnError(pgx.ErrNoRows)

	var out map[string]int
	ok, err := s.GetCache(context.Background(), "absent", &out)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveCache(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO analysis_cache`).
		WithArgs(anyArgs(4)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveCache(context.Background(), "key1", map[string]int{"n": 1}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSweepExpiredCache(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`DELETE FROM analysis_cache`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	removed, err := s.SweepExpiredCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveMarketStat(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO market_stats`).
		WithArgs("2026-08-30", "Honda", "Civic", 0, 0, "avg_price", 15000.0, 40).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveMarketStat(context.Background(), model.MarketStat{
		Date: "2026-08-30", Make: "Honda", Model: "Civic",
		Type: model.StatAvgPrice, Value: 15000, SampleSize: 40,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTopMakes(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT make, COUNT\(\*\) AS count FROM car_listings`).
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{"make", "count"}).
			AddRow("Honda", 12).
			AddRow("Toyota", 9))

	makes, err := s.TopMakes(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, makes, 2)
	assert.Equal(t, model.MakeCount{Make: "Honda", Count: 12}, makes[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFinishScrapeSessionNotFound(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`UPDATE scrape_sessions`).
		WithArgs(anyArgs(7)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishScrapeSession(context.Background(), "ghost", "completed", 0, 0, 0, "")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildPgListingWhereNumbering(t *testing.T) {
	where, args := buildPgListingWhere(model.ListingFilter{
		PriceMin:   f64(5000),
		Make:       "Honda",
		SearchTerm: "civic",
	})

	// Three search-term placeholders share one clause; status always closes
	// the list.
	assert.Contains(t, where, "price >= $1")
	assert.Contains(t, where, "make ILIKE $2")
	assert.Contains(t, where, "(title ILIKE $3 OR make ILIKE $4 OR model ILIKE $5)")
	assert.Contains(t, where, "status = $6")
	assert.Len(t, args, 6)
}

func TestBuildPgListingWhereStatusAll(t *testing.T) {
	where, args := buildPgListingWhere(model.ListingFilter{Status: "all", Make: "Honda"})
	assert.NotContains(t, where, "status")
	assert.Len(t, args, 1)

	// No filter at all collapses to no WHERE clause.
	where, args = buildPgListingWhere(model.ListingFilter{Status: "all"})
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestPostgresBulkUpsertPath(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_car_listings"}, pgListingColumns).
		WillReturnResult(int64(pgBulkThreshold))
	mock.ExpectExec(`INSERT INTO "car_listings"`).
		WillReturnResult(pgxmock.NewResult("INSERT", int64(pgBulkThreshold)))
	mock.ExpectCommit()

	listings := make([]model.Listing, 0, pgBulkThreshold+1)
	for i := 0; i < pgBulkThreshold; i++ {
		listings = append(listings, testListing(fmt.Sprintf("bulk-%03d", i)))
	}
	listings = append(listings, model.Listing{Title: "missing id"})

	saved, failed, err := s.UpsertListingsBatch(context.Background(), listings)
	require.NoError(t, err)
	assert.Equal(t, pgBulkThreshold, saved)
	assert.Equal(t, 1, failed)
	require.NoError(t, mock.ExpectationsWereMet())
}
