package export

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"

	"github.com/kosmo/strava-tiles/internal/strava"
	"github.com/kosmo/strava-tiles/internal/tiledb"
)

const streamsPayload = `{
	"latlng": {"data": [[47.3769, 8.5417], [47.3770, 8.5418]]},
	"time": {"data": [0, 10]},
	"altitude": {"data": [430.0, 431.0]}
}`

func newTestClient(t *testing.T, handler http.Handler) *strava.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := strava.NewClient(context.Background(), "testtoken")
	c.BaseURL = srv.URL
	return c
}

func newTestDB(t *testing.T) *tiledb.DB {
	t.Helper()
	db, err := tiledb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestActivitiesExportsAndSkips(t *testing.T) {
	streamCalls := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamCalls++
		assert.Equal(t, "/activities/101/streams", r.URL.Path)
		w.Write([]byte(streamsPayload))
	}))
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.MarkActivityImported(ctx, 102, "Evening Ride", 21.5))

	dir := t.TempDir()
	acts := []strava.ActivitySummary{
		{ID: 101, Name: "Morning Run", StartDate: "2024-01-15T10:30:00Z"},
		{ID: 102, Name: "Evening Ride", StartDate: "2024-01-16T18:00:00Z"},
	}

	res, err := Activities(ctx, client, db, acts, dir, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, streamCalls, "streams of skipped activities must not be fetched")

	data, err := os.ReadFile(filepath.Join(dir, "activity_101.gpx"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Morning Run")

	ids, err := db.ImportedActivityIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{101, 102}, ids)
}

func TestActivitiesFetchAllReExports(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(streamsPayload))
	}))
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.MarkActivityImported(ctx, 101, "Morning Run", 5.0))

	res, err := Activities(ctx, client, db,
		[]strava.ActivitySummary{{ID: 101, Name: "Morning Run", StartDate: "2024-01-15T10:30:00Z"}},
		t.TempDir(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Zero(t, res.Skipped)
}

func TestActivitiesPolylineFallback(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Record Not Found"}`))
	}))
	db := newTestDB(t)
	ctx := context.Background()

	encoded := polyline.EncodeCoords([][]float64{{47.3769, 8.5417}, {47.4000, 8.6000}})
	dir := t.TempDir()
	res, err := Activities(ctx, client, db,
		[]strava.ActivitySummary{{
			ID:        101,
			Name:      "Morning Run",
			StartDate: "2024-01-15T10:30:00Z",
			Map:       strava.ActivityMap{SummaryPolyline: string(encoded)},
		}},
		dir, false)
	require.NoError(t, err)
	assert.Zero(t, res.Imported)

	// tiles are recorded from the polyline, but no GPX is written and the
	// activity stays unimported so a later run retries it
	n, err := db.TileCount(ctx)
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	_, err = os.Stat(filepath.Join(dir, "activity_101.gpx"))
	assert.True(t, os.IsNotExist(err))

	ids, err := db.ImportedActivityIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestActivitiesBadPolylineIsSkipped(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Record Not Found"}`))
	}))
	db := newTestDB(t)
	ctx := context.Background()

	res, err := Activities(ctx, client, db,
		[]strava.ActivitySummary{{
			ID:        101,
			Name:      "Morning Run",
			StartDate: "2024-01-15T10:30:00Z",
			Map:       strava.ActivityMap{SummaryPolyline: "\x00not a polyline"},
		}},
		t.TempDir(), false)
	require.NoError(t, err)
	assert.Zero(t, res.Imported)

	n, err := db.TileCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
