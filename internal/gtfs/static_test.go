package gtfs

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"overlay.onebusaway.org/internal/appconf"
	"overlay.onebusaway.org/internal/cache"
)

func newHTTPEngine(t *testing.T, url string, opts ...Option) *Engine {
	t.Helper()
	engine, err := NewEngine(Config{
		GtfsURL:               url,
		StaticAuthHeaderKey:   "X-Api-Key",
		StaticAuthHeaderValue: "secret",
		GTFSDataPath:          ":memory:",
		Env:                   appconf.Test,
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestLoadScheduleFromLocalFile(t *testing.T) {
	engine := newTestEngine(t)
	assert.False(t, engine.IsHealthy())

	snap, err := engine.LoadSchedule(context.Background())
	require.NoError(t, err)

	assert.Len(t, snap.Agencies, 1)
	assert.Len(t, snap.Routes, 3)
	assert.Len(t, snap.Trips, 4)
	assert.Len(t, snap.StopTimes, 10)
	assert.Len(t, snap.Stops, 3)
	assert.Len(t, snap.Services, 2)
	assert.True(t, engine.IsHealthy())
}

func TestLoadScheduleMissingFile(t *testing.T) {
	engine, err := NewEngine(Config{GtfsURL: "does/not/exist.zip", Env: appconf.Test})
	require.NoError(t, err)
	defer func() { _ = engine.Close() }()

	_, err = engine.LoadSchedule(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnreachable)
	assert.False(t, engine.IsHealthy())
}

func TestLoadScheduleOverHTTPSendsAuthHeader(t *testing.T) {
	data, err := os.ReadFile(testSchedulePath)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(data)
	}))
	defer server.Close()

	engine := newHTTPEngine(t, server.URL+"/gtfs.zip", WithStaticRetry(0))
	snap, err := engine.LoadSchedule(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Routes, 3)
}

func TestLoadScheduleRetriesTransientFailures(t *testing.T) {
	data, err := os.ReadFile(testSchedulePath)
	require.NoError(t, err)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(data)
	}))
	defer server.Close()

	engine := newHTTPEngine(t, server.URL, WithStaticRetry(10*time.Second))
	engine.staticRetryInitial = 10 * time.Millisecond

	snap, err := engine.LoadSchedule(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Routes, 3)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLoadScheduleDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	engine := newHTTPEngine(t, server.URL, WithStaticRetry(10*time.Second))
	engine.staticRetryInitial = 10 * time.Millisecond

	_, err := engine.LoadSchedule(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnreachable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoadScheduleInvalidArchive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not a zip archive"))
	}))
	defer server.Close()

	engine := newHTTPEngine(t, server.URL, WithStaticRetry(0))
	_, err := engine.LoadSchedule(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestLoadScheduleTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	engine := newHTTPEngine(t, server.URL, WithStaticRetry(0))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := engine.LoadSchedule(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLoadScheduleFailureKeepsPreviousImport(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.LoadSchedule(context.Background())
	require.NoError(t, err)

	engine.config.GtfsURL = "does/not/exist.zip"
	_, err = engine.LoadSchedule(context.Background())
	require.Error(t, err)

	routes, err := engine.DB().Queries.ListRoutes(context.Background())
	require.NoError(t, err)
	assert.Len(t, routes, 3)
}

// writeScheduleWithDuplicateTrip copies the test schedule to dir with the
// first trips.txt row repeated.
func writeScheduleWithDuplicateTrip(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(testSchedulePath)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		if f.Name == "trips.txt" {
			text := strings.TrimRight(string(body), "\r\n") + "\n"
			firstRow := strings.Split(text, "\n")[1]
			body = []byte(text + firstRow + "\n")
		}
		w, err := zw.Create(f.Name)
		require.NoError(t, err)
		_, err = w.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, "duplicate-trip.zip")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o600))
	return path
}

func TestLoadScheduleDuplicateTripIsInvariantViolation(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.LoadSchedule(context.Background())
	require.NoError(t, err)

	engine.config.GtfsURL = writeScheduleWithDuplicateTrip(t, t.TempDir())
	_, err = engine.LoadSchedule(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, cache.ErrInvariantViolation)
	assert.NotErrorIs(t, err, ErrInvalidFormat)

	var invErr *cache.InvariantError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "trip", invErr.Kind)
	assert.Equal(t, "T1", invErr.ID)

	trips, err := engine.DB().Queries.ListTrips(context.Background())
	require.NoError(t, err)
	assert.Len(t, trips, 4, "previous import stays in place")
}
