package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/coder895/car-market-analyzer/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	opts Options
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, path: path, opts: opts}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS car_listings (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	price        REAL,
	year         INTEGER,
	make         TEXT,
	model        TEXT,
	mileage      INTEGER,
	location     TEXT,
	listing_date DATETIME NOT NULL,
	last_updated DATETIME NOT NULL,
	url          TEXT,
	data         BLOB,
	image_urls   TEXT,
	status       TEXT NOT NULL DEFAULT 'active',
	raw_html     BLOB
);

CREATE INDEX IF NOT EXISTS idx_listings_make_model ON car_listings(make, model);
CREATE INDEX IF NOT EXISTS idx_listings_price ON car_listings(price);
CREATE INDEX IF NOT EXISTS idx_listings_year ON car_listings(year);
CREATE INDEX IF NOT EXISTS idx_listings_date ON car_listings(listing_date);
CREATE INDEX IF NOT EXISTS idx_listings_status ON car_listings(status);

CREATE TABLE IF NOT EXISTS market_stats (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	date        TEXT NOT NULL,
	make        TEXT,
	model       TEXT,
	year_min    INTEGER,
	year_max    INTEGER,
	stat_type   TEXT NOT NULL,
	stat_value  REAL,
	sample_size INTEGER,
	UNIQUE(date, make, model, year_min, year_max, stat_type)
);

CREATE INDEX IF NOT EXISTS idx_stats_make_model ON market_stats(make, model);
CREATE INDEX IF NOT EXISTS idx_stats_date ON market_stats(date);

CREATE TABLE IF NOT EXISTS analysis_cache (
	cache_key TEXT PRIMARY KEY,
	data      BLOB,
	created   DATETIME NOT NULL,
	expires   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_expires ON analysis_cache(expires);

CREATE TABLE IF NOT EXISTS scrape_sessions (
	id               TEXT PRIMARY KEY,
	start_time       DATETIME NOT NULL,
	end_time         DATETIME,
	status           TEXT NOT NULL DEFAULT 'in_progress',
	listings_found   INTEGER NOT NULL DEFAULT 0,
	new_listings     INTEGER NOT NULL DEFAULT 0,
	updated_listings INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT,
	search_params    TEXT
);

CREATE TABLE IF NOT EXISTS saved_searches (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL,
	search_params TEXT NOT NULL,
	created_date  DATETIME NOT NULL,
	last_run      DATETIME,
	auto_run      INTEGER NOT NULL DEFAULT 0
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertListingSQL = `
INSERT INTO car_listings (
	id, title, price, year, make, model, mileage, location,
	listing_date, last_updated, url, data, image_urls, status, raw_html
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title        = excluded.title,
	price        = excluded.price,
	year         = excluded.year,
	make         = excluded.make,
	model        = excluded.model,
	mileage      = excluded.mileage,
	location     = excluded.location,
	last_updated = excluded.last_updated,
	url          = excluded.url,
	data         = excluded.data,
	image_urls   = excluded.image_urls,
	status       = excluded.status,
	raw_html     = COALESCE(excluded.raw_html, raw_html)`

func (s *SQLiteStore) upsertListingExec(ctx context.Context, ex execer, l model.Listing, now time.Time) error {
	if l.ID == "" {
		return eris.New("sqlite: listing id required")
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
		// A single bad field never fails the whole record.
		zap.L().Warn("sqlite: dropping unserializable side payload",
			zap.String("listing_id", l.ID), zap.Error(err))
		payload = nil
	}

	imageURLs, err := json.Marshal(l.ImageURLs)
	if err != nil {
		zap.L().Warn("sqlite: dropping image urls", zap.String("listing_id", l.ID), zap.Error(err))
		imageURLs = []byte("[]")
	}

	var rawHTML []byte
	if len(l.RawHTML) > 0 {
		rawHTML = compressBlob(l.RawHTML, s.opts.Compression)
	}

	_, err = ex.ExecContext(ctx, upsertListingSQL,
		l.ID, l.Title, l.Price, l.Year, l.Make, l.Model, l.Mileage, l.Location,
		listingDate.UTC(), now.UTC(), l.URL, payload, string(imageURLs), string(l.Status), rawHTML,
	)
	return eris.Wrapf(err, "sqlite: upsert listing %s", l.ID)
}

func (s *SQLiteStore) UpsertListing(ctx context.Context, l model.Listing) error {
	return s.upsertListingExec(ctx, s.db, l, time.Now())
}

// UpsertListingsBatch saves listings inside one transaction. A failure on
// one record is counted and skipped; a transaction-level failure rolls back
// everything and reports all records as failed.
func (s *SQLiteStore) UpsertListingsBatch(ctx context.Context, listings []model.Listing) (int, int, error) {
	if len(listings) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, len(listings), eris.Wrap(err, "sqlite: begin batch upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now()
	saved, failed := 0, 0
	for _, l := range listings {
		if err := s.upsertListingExec(ctx, tx, l, now); err != nil {
			zap.L().Warn("sqlite: batch upsert record failed",
				zap.String("listing_id", l.ID), zap.Error(err))
			failed++
			continue
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, len(listings), eris.Wrap(err, "sqlite: commit batch upsert")
	}
	return saved, failed, nil
}

const listingColumns = `id, title, price, year, make, model, mileage, location,
	listing_date, last_updated, url, data, image_urls, status`

func (s *SQLiteStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+`, raw_html FROM car_listings WHERE id = ?`, id)

	l, rawHTML, err := scanListingInto(row, true)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get listing %s", id)
	}

	if len(rawHTML) > 0 {
		html, err := decompressBlob(rawHTML)
		if err != nil {
			zap.L().Warn("sqlite: corrupt raw html", zap.String("listing_id", id), zap.Error(err))
		} else {
			l.RawHTML = html
		}
	}
	return l, nil
}

func (s *SQLiteStore) ListListings(ctx context.Context, f model.ListingFilter, sortBy string, order model.SortOrder, limit, offset int) ([]model.Listing, error) {
	where, args := buildListingWhere(f)
	sortBy, order = normalizeSort(sortBy, order)

	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + listingColumns + ` FROM car_listings` + where +
		fmt.Sprintf(" ORDER BY %s %s LIMIT ? OFFSET ?", sortBy, order)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list listings")
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, _, err := scanListingInto(rows, false)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan listing")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "sqlite: list listings iterate")
}

func (s *SQLiteStore) CountListings(ctx context.Context, f model.ListingFilter) (int, error) {
	where, args := buildListingWhere(f)

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM car_listings`+where, args...).Scan(&count)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count listings")
	}
	return count, nil
}

// buildListingWhere translates a sparse filter into a WHERE clause shared by
// list and count so pagination and totals always agree. Status defaults to
// active when the filter leaves it unset.
func buildListingWhere(f model.ListingFilter) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, vals ...any) {
		clauses = append(clauses, clause)
		args = append(args, vals...)
	}

	if f.PriceMin != nil {
		add("price >= ?", *f.PriceMin)
	}
	if f.PriceMax != nil {
		add("price <= ?", *f.PriceMax)
	}
	if f.YearMin != nil {
		add("year >= ?", *f.YearMin)
	}
	if f.YearMax != nil {
		add("year <= ?", *f.YearMax)
	}
	if f.MileageMax != nil {
		add("mileage <= ?", *f.MileageMax)
	}
	if f.Make != "" {
		add("make LIKE ?", "%"+f.Make+"%")
	}
	if f.Model != "" {
		add("model LIKE ?", "%"+f.Model+"%")
	}
	if f.SearchTerm != "" {
		term := "%" + f.SearchTerm + "%"
		add("(title LIKE ? OR make LIKE ? OR model LIKE ?)", term, term, term)
	}
	if f.ListingDateMin != nil {
		add("listing_date >= ?", f.ListingDateMin.UTC())
	}
	status := f.Status
	if status == "" {
		status = string(model.ListingStatusActive)
	}
	// "all" spans every lifecycle state: no status clause.
	if status != "all" {
		add("status = ?", status)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

type scannable interface {
	Scan(dest ...any) error
}

func scanListingInto(row scannable, withHTML bool) (*model.Listing, []byte, error) {
	var (
		l         model.Listing
		price     sql.NullFloat64
		year      sql.NullInt64
		mileage   sql.NullInt64
		makeCol   sql.NullString
		modelCol  sql.NullString
		location  sql.NullString
		url       sql.NullString
		payload   []byte
		imageURLs sql.NullString
		status    string
		rawHTML   []byte
	)

	dest := []any{
		&l.ID, &l.Title, &price, &year, &makeCol, &modelCol, &mileage, &location,
		&l.ListingDate, &l.LastUpdated, &url, &payload, &imageURLs, &status,
	}
	if withHTML {
		dest = append(dest, &rawHTML)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, nil, err
	}

	if price.Valid {
		l.Price = &price.Float64
	}
	if year.Valid {
		y := int(year.Int64)
		l.Year = &y
	}
	if mileage.Valid {
		m := int(mileage.Int64)
		l.Mileage = &m
	}
	l.Make = makeCol.String
	l.Model = modelCol.String
	l.Location = location.String
	l.URL = url.String
	l.Status = model.ListingStatus(status)

	if imageURLs.Valid && imageURLs.String != "" {
		if err := json.Unmarshal([]byte(imageURLs.String), &l.ImageURLs); err != nil {
			zap.L().Warn("sqlite: corrupt image urls", zap.String("listing_id", l.ID), zap.Error(err))
		}
	}

	extra, err := decodeSidePayload(payload)
	if err != nil {
		zap.L().Warn("sqlite: corrupt side payload", zap.String("listing_id", l.ID), zap.Error(err))
	} else {
		l.Extra = extra
	}

	return &l, rawHTML, nil
}

// encodeSidePayload serializes then optionally compresses the open-ended
// listing attributes.
func encodeSidePayload(extra map[string]any, compress bool) ([]byte, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return nil, eris.Wrap(err, "encode side payload")
	}
	return compressBlob(raw, compress), nil
}

func decodeSidePayload(blob []byte) (map[string]any, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	raw, err := decompressBlob(blob)
	if err != nil {
		return nil, err
	}
	var extra map[string]any
	if err := json.Unmarshal(raw, &extra); err != nil {
		return nil, eris.Wrap(err, "decode side payload")
	}
	return extra, nil
}

func (s *SQLiteStore) SaveMarketStat(ctx context.Context, st model.MarketStat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO market_stats
			(date, make, model, year_min, year_max, stat_type, stat_value, sample_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		st.Date, st.Make, st.Model, st.YearMin, st.YearMax, string(st.Type), st.Value, st.SampleSize,
	)
	return eris.Wrap(err, "sqlite: save market stat")
}

func (s *SQLiteStore) GetMarketStats(ctx context.Context, q model.MarketStatQuery) ([]model.MarketStat, error) {
	query := `SELECT date, make, model, year_min, year_max, stat_type, stat_value, sample_size
		FROM market_stats WHERE 1=1`
	var args []any

	if q.Make != "" {
		query += ` AND make = ?`
		args = append(args, q.Make)
	}
	if q.Model != "" {
		query += ` AND model = ?`
		args = append(args, q.Model)
	}
	if q.YearMin != nil {
		query += ` AND year_min >= ?`
		args = append(args, *q.YearMin)
	}
	if q.YearMax != nil {
		query += ` AND year_max <= ?`
		args = append(args, *q.YearMax)
	}
	if q.Type != "" {
		query += ` AND stat_type = ?`
		args = append(args, string(q.Type))
	}
	if q.DateFrom != "" {
		query += ` AND date >= ?`
		args = append(args, q.DateFrom)
	}
	if q.DateTo != "" {
		query += ` AND date <= ?`
		args = append(args, q.DateTo)
	}
	query += ` ORDER BY date DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get market stats")
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
	return stats, eris.Wrap(rows.Err(), "sqlite: market stats iterate")
}

func scanMarketStat(row scannable) (*model.MarketStat, error) {
	var (
		st               model.MarketStat
		makeCol, mdl     sql.NullString
		yearMin, yearMax sql.NullInt64
		statValue        sql.NullFloat64
		sampleSize       sql.NullInt64
	)
	if err := row.Scan(&st.Date, &makeCol, &mdl, &yearMin, &yearMax, &st.Type, &statValue, &sampleSize); err != nil {
		return nil, eris.Wrap(err, "scan market stat")
	}
	st.Make = makeCol.String
	st.Model = mdl.String
	if yearMin.Valid {
		y := int(yearMin.Int64)
		st.YearMin = &y
	}
	if yearMax.Valid {
		y := int(yearMax.Int64)
		st.YearMax = &y
	}
	st.Value = statValue.Float64
	st.SampleSize = int(sampleSize.Int64)
	return &st, nil
}

// SaveCache stores a JSON-serialized, compressed analysis result under the
// given fingerprint. A rewrite for the same key fully replaces the entry.
func (s *SQLiteStore) SaveCache(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cache value")
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO analysis_cache (cache_key, data, created, expires)
		VALUES (?, ?, ?, ?)`,
		key, compressBlob(raw, s.opts.Compression), now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: save cache")
}

// GetCache loads a cached value into dest. Expired entries are treated as
// absent.
func (s *SQLiteStore) GetCache(ctx context.Context, key string, dest any) (bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM analysis_cache WHERE cache_key = ? AND expires > ?`,
		key, time.Now().UTC(),
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: get cache")
	}

	raw, err := decompressBlob(blob)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: decompress cache")
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, eris.Wrap(err, "sqlite: unmarshal cache")
	}
	return true, nil
}

func (s *SQLiteStore) SweepExpiredCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM analysis_cache WHERE expires <= ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sweep expired cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) TopMakes(ctx context.Context, limit int) ([]model.MakeCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT make, COUNT(*) AS count FROM car_listings
		WHERE make IS NOT NULL AND make != ''
		GROUP BY make ORDER BY count DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: top makes")
	}
	defer rows.Close()

	var out []model.MakeCount
	for rows.Next() {
		var mc model.MakeCount
		if err := rows.Scan(&mc.Make, &mc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan make count")
		}
		out = append(out, mc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: top makes iterate")
}

func (s *SQLiteStore) TopModels(ctx context.Context, limit int) ([]model.ModelCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT make, model, COUNT(*) AS count FROM car_listings
		WHERE make IS NOT NULL AND model IS NOT NULL AND make != '' AND model != ''
		GROUP BY make, model ORDER BY count DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: top models")
	}
	defer rows.Close()

	var out []model.ModelCount
	for rows.Next() {
		var mc model.ModelCount
		if err := rows.Scan(&mc.Make, &mc.Model, &mc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan model count")
		}
		out = append(out, mc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: top models iterate")
}

func (s *SQLiteStore) Makes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT make FROM car_listings
		WHERE make IS NOT NULL AND make != '' ORDER BY make`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: makes")
	}
	defer rows.Close()
	return scanStrings(rows, "sqlite: makes")
}

func (s *SQLiteStore) ModelsForMake(ctx context.Context, make string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT model FROM car_listings
		WHERE make = ? AND model IS NOT NULL AND model != '' ORDER BY model`, make)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: models for make")
	}
	defer rows.Close()
	return scanStrings(rows, "sqlite: models for make")
}

func scanStrings(rows *sql.Rows, op string) ([]string, error) {
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

// YearRange returns the min and max model years present, optionally scoped
// to a make and model. Defaults to (1990, current year) when no data exists.
func (s *SQLiteStore) YearRange(ctx context.Context, make, carModel string) (int, int, error) {
	query := `SELECT MIN(year), MAX(year) FROM car_listings WHERE year IS NOT NULL`
	var args []any
	if make != "" {
		query += ` AND make = ?`
		args = append(args, make)
	}
	if carModel != "" {
		query += ` AND model = ?`
		args = append(args, carModel)
	}

	var minYear, maxYear sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&minYear, &maxYear); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: year range")
	}
	if !minYear.Valid || !maxYear.Valid {
		return 1990, time.Now().Year(), nil
	}
	return int(minYear.Int64), int(maxYear.Int64), nil
}

func (s *SQLiteStore) StartScrapeSession(ctx context.Context, params map[string]any) (string, error) {
	id := uuid.New().String()

	var paramsJSON []byte
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return "", eris.Wrap(err, "sqlite: marshal search params")
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_sessions (id, start_time, status, search_params)
		VALUES (?, ?, 'in_progress', ?)`,
		id, time.Now().UTC(), string(paramsJSON))
	if err != nil {
		return "", eris.Wrap(err, "sqlite: start scrape session")
	}
	return id, nil
}

func (s *SQLiteStore) FinishScrapeSession(ctx context.Context, id, status string, found, added, updated int, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scrape_sessions SET
			end_time = ?, status = ?, listings_found = ?,
			new_listings = ?, updated_listings = ?, error_message = ?
		WHERE id = ?`,
		time.Now().UTC(), status, found, added, updated, errMsg, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish scrape session %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: scrape session not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) SaveSearch(ctx context.Context, search model.SavedSearch) (int64, error) {
	filterJSON, err := json.Marshal(search.Filter)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal saved search")
	}

	created := search.CreatedDate
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO saved_searches (name, search_params, created_date, last_run, auto_run)
		VALUES (?, ?, ?, ?, ?)`,
		search.Name, string(filterJSON), created, search.LastRun, search.AutoRun)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: save search")
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: last insert id")
}

func (s *SQLiteStore) ListSavedSearches(ctx context.Context) ([]model.SavedSearch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, search_params, created_date, last_run, auto_run
		FROM saved_searches ORDER BY created_date DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list saved searches")
	}
	defer rows.Close()

	var searches []model.SavedSearch
	for rows.Next() {
		var (
			ss         model.SavedSearch
			filterJSON string
			lastRun    sql.NullTime
		)
		if err := rows.Scan(&ss.ID, &ss.Name, &filterJSON, &ss.CreatedDate, &lastRun, &ss.AutoRun); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan saved search")
		}
		if err := json.Unmarshal([]byte(filterJSON), &ss.Filter); err != nil {
			zap.L().Warn("sqlite: corrupt saved search filter", zap.Int64("id", ss.ID), zap.Error(err))
		}
		if lastRun.Valid {
			ss.LastRun = &lastRun.Time
		}
		searches = append(searches, ss)
	}
	return searches, eris.Wrap(rows.Err(), "sqlite: saved searches iterate")
}

// RunMaintenance enforces the size ceiling, sweeps expired cache entries,
// and occasionally vacuums. Called on store open and periodically after.
func (s *SQLiteStore) RunMaintenance(ctx context.Context) error {
	sizeMB := s.fileSizeMB()

	if s.opts.MaxSizeMB > 0 && sizeMB > float64(s.opts.MaxSizeMB) {
		if err := s.pruneOldListings(ctx); err != nil {
			zap.L().Error("sqlite: retention prune failed", zap.Error(err))
		}
	}

	swept, err := s.SweepExpiredCache(ctx)
	if err != nil {
		zap.L().Error("sqlite: cache sweep failed", zap.Error(err))
	} else if swept > 0 {
		zap.L().Debug("sqlite: swept expired cache entries", zap.Int("count", swept))
	}

	if sizeMB > 10 && rand.Float64() < s.opts.VacuumProbability {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			zap.L().Error("sqlite: vacuum failed", zap.Error(err))
		}
	}
	return nil
}

func (s *SQLiteStore) fileSizeMB() float64 {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / (1024 * 1024)
}

// pruneOldListings demotes stale inactive listings to archived (dropping
// their side payload and raw HTML) and hard-deletes archived rows older than
// twice the retention window.
func (s *SQLiteStore) pruneOldListings(ctx context.Context) error {
	retention := s.opts.RetentionDays
	if retention <= 0 {
		retention = 90
	}
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -retention)
	hardCutoff := now.AddDate(0, 0, -retention*2)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin prune")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		UPDATE car_listings
		SET status = 'archived', raw_html = NULL, data = NULL
		WHERE last_updated < ? AND status = 'inactive'`, cutoff); err != nil {
		return eris.Wrap(err, "sqlite: archive stale listings")
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM car_listings
		WHERE status = 'archived' AND last_updated < ?`, hardCutoff); err != nil {
		return eris.Wrap(err, "sqlite: delete archived listings")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit prune")
}
