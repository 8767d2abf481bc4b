//go:build !integration

package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coder895/car-market-analyzer/internal/config"
	"github.com/coder895/car-market-analyzer/internal/model"
	"github.com/coder895/car-market-analyzer/internal/store"
)

func writeJSONFeed(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func setTestConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Import: config.ImportConfig{BatchSize: 2, Concurrency: 2, RatePerSec: 1000},
	}
	t.Cleanup(func() { cfg = prev })
}

func TestImportFeeds(t *testing.T) {
	env := newTestEnv(t)
	setTestConfig(t)

	feed1 := writeJSONFeed(t, "a.json", `[
		{"id": "f1", "title": "2018 Honda Civic", "price": 14000, "make": "Honda", "model": "Civic"},
		{"id": "f2", "title": "2019 Honda Civic", "price": 16000, "make": "Honda", "model": "Civic"},
		{"id": "", "title": "dropped: no id"}
	]`)
	feed2 := writeJSONFeed(t, "b.json", `[
		{"id": "f3", "title": "2015 Mazda 3", "price": 9000, "make": "Mazda", "model": "3"}
	]`)

	stats, err := importFeeds(context.Background(), env.Store, []string{feed1, feed2})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.found)
	assert.Equal(t, 3, stats.saved)
	assert.Zero(t, stats.failed)
	assert.Equal(t, 1, stats.skipped)

	n, err := env.Store.CountListings(context.Background(), model.ListingFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := env.Store.GetListing(context.Background(), "f3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Mazda", got.Make)
}

func TestImportFeedsBadFile(t *testing.T) {
	env := newTestEnv(t)
	setTestConfig(t)

	_, err := importFeeds(context.Background(), env.Store, []string{"does-not-exist.json"})
	require.Error(t, err)
}

func TestImportFeedsMalformedJSON(t *testing.T) {
	env := newTestEnv(t)
	setTestConfig(t)

	path := writeJSONFeed(t, "bad.json", `{"not": "an array"}`)
	_, err := importFeeds(context.Background(), env.Store, []string{path})
	require.Error(t, err)
}

func TestInitEnvRunsMaintenanceAtOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "open.db")

	seed, err := store.NewSQLite(path, store.Options{})
	require.NoError(t, err)
	require.NoError(t, seed.Migrate(context.Background()))
	require.NoError(t, seed.SaveCache(context.Background(), "stale", map[string]int{"x": 1}, -time.Minute))
	require.NoError(t, seed.Close())

	prev := cfg
	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite", Path: path}}
	t.Cleanup(func() { cfg = prev })

	env, err := initEnv(context.Background())
	require.NoError(t, err)
	env.Close()

	// The expired cache row was swept during open.
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM analysis_cache").Scan(&n))
	assert.Zero(t, n)
}
