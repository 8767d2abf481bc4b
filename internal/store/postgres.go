package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/coder895/car-market-analyzer/internal/db"
	"github.com/coder895/car-market-analyzer/internal/model"
)

// PostgresStore implements Store on a pgx pool. It exists for setups that
// share one listing database between the scraper and several analyzer
// instances; the embedded SQLite store remains the default.
type PostgresStore struct {
	pool    db.Pool
	opts    Options
	closeFn func()
}

// NewPostgres connects to the given database and verifies the connection.
func NewPostgres(ctx context.Context, connString string, opts Options) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, opts: opts, closeFn: pool.Close}, nil
}

// newPostgresWithPool is used by tests to inject a mock pool.
func newPostgresWithPool(pool db.Pool, opts Options) *PostgresStore {
	return &PostgresStore{pool: pool, opts: opts}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS car_listings (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	price        DOUBLE PRECISION,
	year         INTEGER,
	make         TEXT,
	model        TEXT,
	mileage      INTEGER,
	location     TEXT,
	listing_date TIMESTAMPTZ NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL,
	url          TEXT,
	data         BYTEA,
	image_urls   TEXT,
	status       TEXT NOT NULL DEFAULT 'active',
	raw_html     BYTEA
);

CREATE INDEX IF NOT EXISTS idx_listings_make_model ON car_listings(make, model);
CREATE INDEX IF NOT EXISTS idx_listings_price ON car_listings(price);
CREATE INDEX IF NOT EXISTS idx_listings_year ON car_listings(year);
CREATE INDEX IF NOT EXISTS idx_listings_date ON car_listings(listing_date);
CREATE INDEX IF NOT EXISTS idx_listings_status ON car_listings(status);

CREATE TABLE IF NOT EXISTS market_stats (
	id          BIGSERIAL PRIMARY KEY,
	date        TEXT NOT NULL,
	make        TEXT NOT NULL DEFAULT '',
	model       TEXT NOT NULL DEFAULT '',
	year_min    INTEGER NOT NULL DEFAULT 0,
	year_max    INTEGER NOT NULL DEFAULT 0,
	stat_type   TEXT NOT NULL,
	stat_value  DOUBLE PRECISION,
	sample_size INTEGER,
	UNIQUE(date, make, model, year_min, year_max, stat_type)
);

CREATE TABLE IF NOT EXISTS analysis_cache (
	cache_key TEXT PRIMARY KEY,
	data      BYTEA,
	created   TIMESTAMPTZ NOT NULL,
	expires   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_expires ON analysis_cache(expires);

CREATE TABLE IF NOT EXISTS scrape_sessions (
	id               TEXT PRIMARY KEY,
	start_time       TIMESTAMPTZ NOT NULL,
	end_time         TIMESTAMPTZ,
	status           TEXT NOT NULL DEFAULT 'in_progress',
	listings_found   INTEGER NOT NULL DEFAULT 0,
	new_listings     INTEGER NOT NULL DEFAULT 0,
	updated_listings INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT,
	search_params    TEXT
);

CREATE TABLE IF NOT EXISTS saved_searches (
	id            BIGSERIAL PRIMARY KEY,
	name          TEXT NOT NULL,
	search_params TEXT NOT NULL,
	created_date  TIMESTAMPTZ NOT NULL,
	last_run      TIMESTAMPTZ,
	auto_run      BOOLEAN NOT NULL DEFAULT FALSE
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgUpsertListingSQL = `
INSERT INTO car_listings (
	id, title, price, year, make, model, mileage, location,
	listing_date, last_updated, url, data, image_urls, status, raw_html
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
	title        = EXCLUDED.title,
	price        = EXCLUDED.price,
	year         = EXCLUDED.year,
	make         = EXCLUDED.make,
	model        = EXCLUDED.model,
	mileage      = EXCLUDED.mileage,
	location     = EXCLUDED.location,
	last_updated = EXCLUDED.last_updated,
	url          = EXCLUDED.url,
	data         = EXCLUDED.data,
	image_urls   = EXCLUDED.image_urls,
	status       = EXCLUDED.status,
	raw_html     = COALESCE(EXCLUDED.raw_html, car_listings.raw_html)`

func (s *PostgresStore) upsertArgs(l model.Listing, now time.Time) ([]any, error) {
	if l.ID == "" {
		return nil, eris.New("postgres: listing id required")
	}

	if l.Status == "" {
		l.Status = model.ListingStatusActive
	}
	listingDate := l.ListingDate
	if listingDate.IsZero() {
		listingDate = now
	}

	payload, err := encodeSidePayload(l.Extra, s.opts.Compression)
	if err != nil {
		zap.L().Warn("postgres: dropping unserializable side payload",
			zap.String("listing_id", l.ID), zap.Error(err))
		payload = nil
	}
	imageURLs, err := json.Marshal(l.ImageURLs)
	if err != nil {
		imageURLs = []byte("[]")
	}
	var rawHTML []byte
	if len(l.RawHTML) > 0 {
		rawHTML = compressBlob(l.RawHTML, s.opts.Compression)
	}

	return []any{
		l.ID, l.Title, l.Price, l.Year, l.Make, l.Model, l.Mileage, l.Location,
		listingDate.UTC(), now.UTC(), l.URL, payload, string(imageURLs), string(l.Status), rawHTML,
	}, nil
}

func (s *PostgresStore) UpsertListing(ctx context.Context, l model.Listing) error {
	args, err := s.upsertArgs(l, time.Now())
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, pgUpsertListingSQL, args...)
	return eris.Wrapf(err, "postgres: upsert listing %s", l.ID)
}

// Batches at or above this size go through COPY into a temp table
// instead of row-at-a-time INSERTs.
const pgBulkThreshold = 100

var pgListingColumns = []string{
	"id", "title", "price", "year", "make", "model", "mileage", "location",
	"listing_date", "last_updated", "url", "data", "image_urls", "status",
	"raw_html",
}

// UpsertListingsBatch saves listings inside one transaction. Records that
// fail validation or insertion are counted and skipped; a commit failure
// rolls back everything and reports all records as failed.
func (s *PostgresStore) UpsertListingsBatch(ctx context.Context, listings []model.Listing) (int, int, error) {
	if len(listings) == 0 {
		return 0, 0, nil
	}
	if len(listings) >= pgBulkThreshold {
		return s.bulkUpsertListings(ctx, listings)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, len(listings), eris.Wrap(err, "postgres: begin batch upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now()
	saved, failed := 0, 0
	for _, l := range listings {
		args, err := s.upsertArgs(l, now)
		if err != nil {
			zap.L().Warn("postgres: batch upsert record skipped",
				zap.String("listing_id", l.ID), zap.Error(err))
			failed++
			continue
		}
		// Each record runs under a savepoint: a failed INSERT would
		// otherwise abort the whole transaction and take the rest of
		// the batch down with it.
		if _, err := tx.Exec(ctx, "SAVEPOINT listing_rec"); err != nil {
			return 0, len(listings), eris.Wrap(err, "postgres: batch savepoint")
		}
		if _, err := tx.Exec(ctx, pgUpsertListingSQL, args...); err != nil {
			zap.L().Warn("postgres: batch upsert record failed",
				zap.String("listing_id", l.ID), zap.Error(err))
			failed++
			if _, err := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT listing_rec"); err != nil {
				return 0, len(listings), eris.Wrap(err, "postgres: batch savepoint rollback")
			}
			continue
		}
		if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT listing_rec"); err != nil {
			return 0, len(listings), eris.Wrap(err, "postgres: batch savepoint release")
		}
		saved++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, len(listings), eris.Wrap(err, "postgres: commit batch upsert")
	}
	return saved, failed, nil
}

// bulkUpsertListings loads a large batch via the COPY protocol. Bulk loads
// come from feed imports, which never carry page HTML; raw_html and the
// original listing_date are left untouched on conflict.
func (s *PostgresStore) bulkUpsertListings(ctx context.Context, listings []model.Listing) (int, int, error) {
	now := time.Now()

	rows := make([][]any, 0, len(listings))
	failed := 0
	for _, l := range listings {
		args, err := s.upsertArgs(l, now)
		if err != nil {
			zap.L().Warn("postgres: bulk upsert record skipped",
				zap.String("listing_id", l.ID), zap.Error(err))
			failed++
			continue
		}
		rows = append(rows, args)
	}

	updateCols := make([]string, 0, len(pgListingColumns))
	for _, c := range pgListingColumns {
		if c == "id" || c == "listing_date" || c == "raw_html" {
			continue
		}
		updateCols = append(updateCols, c)
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "car_listings",
		Columns:      pgListingColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   updateCols,
	}, rows)
	if err != nil {
		return 0, len(listings), eris.Wrap(err, "postgres: bulk upsert")
	}
	return int(n), failed, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+`, raw_html FROM car_listings WHERE id = $1`, id)

	l, rawHTML, err := scanListingInto(row, true)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get listing %s", id)
	}

	if len(rawHTML) > 0 {
		html, err := decompressBlob(rawHTML)
		if err != nil {
			zap.L().Warn("postgres: corrupt raw html", zap.String("listing_id", id), zap.Error(err))
		} else {
			l.RawHTML = html
		}
	}
	return l, nil
}

func (s *PostgresStore) ListListings(ctx context.Context, f model.ListingFilter, sortBy string, order model.SortOrder, limit, offset int) ([]model.Listing, error) {
	where, args := buildPgListingWhere(f)
	sortBy, order = normalizeSort(sortBy, order)

	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + listingColumns + ` FROM car_listings` + where +
		fmt.Sprintf(" ORDER BY %s %s LIMIT $%d OFFSET $%d", sortBy, order, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list listings")
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, _, err := scanListingInto(rows, false)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan listing")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "postgres: list listings iterate")
}

func (s *PostgresStore) CountListings(ctx context.Context, f model.ListingFilter) (int, error) {
	where, args := buildPgListingWhere(f)

	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM car_listings`+where, args...).Scan(&count)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count listings")
	}
	return count, nil
}

// buildPgListingWhere mirrors buildListingWhere with positional parameters
// and ILIKE for case-insensitive matching.
func buildPgListingWhere(f model.ListingFilter) (string, []any) {
	var clauses []string
	var args []any

	next := func() int { return len(args) + 1 }

	if f.PriceMin != nil {
		clauses = append(clauses, fmt.Sprintf("price >= $%d", next()))
		args = append(args, *f.PriceMin)
	}
	if f.PriceMax != nil {
		clauses = append(clauses, fmt.Sprintf("price <= $%d", next()))
		args = append(args, *f.PriceMax)
	}
	if f.YearMin != nil {
		clauses = append(clauses, fmt.Sprintf("year >= $%d", next()))
		args = append(args, *f.YearMin)
	}
	if f.YearMax != nil {
		clauses = append(clauses, fmt.Sprintf("year <= $%d", next()))
		args = append(args, *f.YearMax)
	}
	if f.MileageMax != nil {
		clauses = append(clauses, fmt.Sprintf("mileage <= $%d", next()))
		args = append(args, *f.MileageMax)
	}
	if f.Make != "" {
		clauses = append(clauses, fmt.Sprintf("make ILIKE $%d", next()))
		args = append(args, "%"+f.Make+"%")
	}
	if f.Model != "" {
		clauses = append(clauses, fmt.Sprintf("model ILIKE $%d", next()))
		args = append(args, "%"+f.Model+"%")
	}
	if f.SearchTerm != "" {
		n := next()
		clauses = append(clauses,
			fmt.Sprintf("(title ILIKE $%d OR make ILIKE $%d OR model ILIKE $%d)", n, n+1, n+2))
		term := "%" + f.SearchTerm + "%"
		args = append(args, term, term, term)
	}
	if f.ListingDateMin != nil {
		clauses = append(clauses, fmt.Sprintf("listing_date >= $%d", next()))
		args = append(args, f.ListingDateMin.UTC())
	}
	status := f.Status
	if status == "" {
		status = string(model.ListingStatusActive)
	}
	// "all" spans every lifecycle state: no status clause.
	if status != "all" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", next()))
		args = append(args, status)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) SaveMarketStat(ctx context.Context, st model.MarketStat) error {
	yearMin, yearMax := 0, 0
	if st.YearMin != nil {
		yearMin = *st.YearMin
	}
	if st.YearMax != nil {
		yearMax = *st.YearMax
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO market_stats
			(date, make, model, year_min, year_max, stat_type, stat_value, sample_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (date, make, model, year_min, year_max, stat_type)
		DO UPDATE SET stat_value = EXCLUDED.stat_value, sample_size = EXCLUDED.sample_size`,
		st.Date, st.Make, st.Model, yearMin, yearMax, string(st.Type), st.Value, st.SampleSize,
	)
	return eris.Wrap(err, "postgres: save market stat")
}

func (s *PostgresStore) GetMarketStats(ctx context.Context, q model.MarketStatQuery) ([]model.MarketStat, error) {
	query := `SELECT date, make, model, year_min, year_max, stat_type, stat_value, sample_size
		FROM market_stats WHERE TRUE`
	var args []any

	appendClause := func(clause string, val any) {
		query += fmt.Sprintf(" AND "+clause, len(args)+1)
		args = append(args, val)
	}

	if q.Make != "" {
		appendClause("make = $%d", q.Make)
	}
	if q.Model != "" {
		appendClause("model = $%d", q.Model)
	}
	if q.YearMin != nil {
		appendClause("year_min >= $%d", *q.YearMin)
	}
	if q.YearMax != nil {
		appendClause("year_max <= $%d", *q.YearMax)
	}
	if q.Type != "" {
		appendClause("stat_type = $%d", string(q.Type))
	}
	if q.DateFrom != "" {
		appendClause("date >= $%d", q.DateFrom)
	}
	if q.DateTo != "" {
		appendClause("date <= $%d", q.DateTo)
	}
	query += ` ORDER BY date DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get market stats")
	}
	defer rows.Close()

	var stats []model.MarketStat
	for rows.Next() {
		st, err := scanMarketStat(rows)
		if err != nil {
			return nil, err
		}
		stats = append(stats, *st)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: market stats iterate")
}

func (s *PostgresStore) SaveCache(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cache value")
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO analysis_cache (cache_key, data, created, expires)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cache_key)
		DO UPDATE SET data = EXCLUDED.data, created = EXCLUDED.created, expires = EXCLUDED.expires`,
		key, compressBlob(raw, s.opts.Compression), now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: save cache")
}

func (s *PostgresStore) GetCache(ctx context.Context, key string, dest any) (bool, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM analysis_cache WHERE cache_key = $1 AND expires > now()`,
		key,
	).Scan(&blob)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: get cache")
	}

	raw, err := decompressBlob(blob)
	if err != nil {
		return false, eris.Wrap(err, "postgres: decompress cache")
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, eris.Wrap(err, "postgres: unmarshal cache")
	}
	return true, nil
}

func (s *PostgresStore) SweepExpiredCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analysis_cache WHERE expires <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: sweep expired cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) TopMakes(ctx context.Context, limit int) ([]model.MakeCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT make, COUNT(*) AS count FROM car_listings
		WHERE make IS NOT NULL AND make != ''
		GROUP BY make ORDER BY count DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: top makes")
	}
	defer rows.Close()

	var out []model.MakeCount
	for rows.Next() {
		var mc model.MakeCount
		if err := rows.Scan(&mc.Make, &mc.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan make count")
		}
		out = append(out, mc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: top makes iterate")
}

func (s *PostgresStore) TopModels(ctx context.Context, limit int) ([]model.ModelCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT make, model, COUNT(*) AS count FROM car_listings
		WHERE make IS NOT NULL AND model IS NOT NULL AND make != '' AND model != ''
		GROUP BY make, model ORDER BY count DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: top models")
	}
	defer rows.Close()

	var out []model.ModelCount
	for rows.Next() {
		var mc model.ModelCount
		if err := rows.Scan(&mc.Make, &mc.Model, &mc.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan model count")
		}
		out = append(out, mc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: top models iterate")
}

func (s *PostgresStore) Makes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT make FROM car_listings
		WHERE make IS NOT NULL AND make != '' ORDER BY make`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: makes")
	}
	defer rows.Close()
	return scanPgStrings(rows, "postgres: makes")
}

func (s *PostgresStore) ModelsForMake(ctx context.Context, make string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT model FROM car_listings
		WHERE make = $1 AND model IS NOT NULL AND model != '' ORDER BY model`, make)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: models for make")
	}
	defer rows.Close()
	return scanPgStrings(rows, "postgres: models for make")
}

func scanPgStrings(rows pgx.Rows, op string) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, eris.Wrap(err, op)
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), op)
}

func (s *PostgresStore) YearRange(ctx context.Context, make, carModel string) (int, int, error) {
	query := `SELECT MIN(year), MAX(year) FROM car_listings WHERE year IS NOT NULL`
	var args []any
	if make != "" {
		args = append(args, make)
		query += fmt.Sprintf(` AND make = $%d`, len(args))
	}
	if carModel != "" {
		args = append(args, carModel)
		query += fmt.Sprintf(` AND model = $%d`, len(args))
	}

	var minYear, maxYear *int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&minYear, &maxYear); err != nil {
		return 0, 0, eris.Wrap(err, "postgres: year range")
	}
	if minYear == nil || maxYear == nil {
		return 1990, time.Now().Year(), nil
	}
	return *minYear, *maxYear, nil
}

func (s *PostgresStore) StartScrapeSession(ctx context.Context, params map[string]any) (string, error) {
	id := uuid.New().String()

	var paramsJSON []byte
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return "", eris.Wrap(err, "postgres: marshal search params")
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_sessions (id, start_time, status, search_params)
		VALUES ($1, $2, 'in_progress', $3)`,
		id, time.Now().UTC(), string(paramsJSON))
	if err != nil {
		return "", eris.Wrap(err, "postgres: start scrape session")
	}
	return id, nil
}

func (s *PostgresStore) FinishScrapeSession(ctx context.Context, id, status string, found, added, updated int, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scrape_sessions SET
			end_time = $1, status = $2, listings_found = $3,
			new_listings = $4, updated_listings = $5, error_message = $6
		WHERE id = $7`,
		time.Now().UTC(), status, found, added, updated, errMsg, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish scrape session %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: scrape session not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SaveSearch(ctx context.Context, search model.SavedSearch) (int64, error) {
	filterJSON, err := json.Marshal(search.Filter)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal saved search")
	}

	created := search.CreatedDate
	if created.IsZero() {
		created = time.Now().UTC()
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO saved_searches (name, search_params, created_date, last_run, auto_run)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		search.Name, string(filterJSON), created, search.LastRun, search.AutoRun).Scan(&id)
	return id, eris.Wrap(err, "postgres: save search")
}

func (s *PostgresStore) ListSavedSearches(ctx context.Context) ([]model.SavedSearch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, search_params, created_date, last_run, auto_run
		FROM saved_searches ORDER BY created_date DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list saved searches")
	}
	defer rows.Close()

	var searches []model.SavedSearch
	for rows.Next() {
		var (
			ss         model.SavedSearch
			filterJSON string
			lastRun    *time.Time
		)
		if err := rows.Scan(&ss.ID, &ss.Name, &filterJSON, &ss.CreatedDate, &lastRun, &ss.AutoRun); err != nil {
			return nil, eris.Wrap(err, "postgres: scan saved search")
		}
		if err := json.Unmarshal([]byte(filterJSON), &ss.Filter); err != nil {
			zap.L().Warn("postgres: corrupt saved search filter", zap.Int64("id", ss.ID), zap.Error(err))
		}
		ss.LastRun = lastRun
		searches = append(searches, ss)
	}
	return searches, eris.Wrap(rows.Err(), "postgres: saved searches iterate")
}

// RunMaintenance mirrors the SQLite maintenance pass. Size comes from
// pg_database_size; VACUUM ANALYZE stands in for the SQLite VACUUM.
func (s *PostgresStore) RunMaintenance(ctx context.Context) error {
	var sizeBytes int64
	if err := s.pool.QueryRow(ctx, `SELECT pg_database_size(current_database())`).Scan(&sizeBytes); err != nil {
		zap.L().Error("postgres: size check failed", zap.Error(err))
	}
	sizeMB := float64(sizeBytes) / (1024 * 1024)

	if s.opts.MaxSizeMB > 0 && sizeMB > float64(s.opts.MaxSizeMB) {
		if err := s.pruneOldListings(ctx); err != nil {
			zap.L().Error("postgres: retention prune failed", zap.Error(err))
		}
	}

	if _, err := s.SweepExpiredCache(ctx); err != nil {
		zap.L().Error("postgres: cache sweep failed", zap.Error(err))
	}

	if sizeMB > 10 && rand.Float64() < s.opts.VacuumProbability {
		if _, err := s.pool.Exec(ctx, "VACUUM ANALYZE car_listings"); err != nil {
			zap.L().Error("postgres: vacuum failed", zap.Error(err))
		}
	}
	return nil
}

func (s *PostgresStore) pruneOldListings(ctx context.Context) error {
	retention := s.opts.RetentionDays
	if retention <= 0 {
		retention = 90
	}
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -retention)
	hardCutoff := now.AddDate(0, 0, -retention*2)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin prune")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
		UPDATE car_listings
		SET status = 'archived', raw_html = NULL, data = NULL
		WHERE last_updated < $1 AND status = 'inactive'`, cutoff); err != nil {
		return eris.Wrap(err, "postgres: archive stale listings")
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM car_listings
		WHERE status = 'archived' AND last_updated < $1`, hardCutoff); err != nil {
		return eris.Wrap(err, "postgres: delete archived listings")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit prune")
}
