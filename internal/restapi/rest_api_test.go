package restapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"overlay.onebusaway.org/internal/app"
	"overlay.onebusaway.org/internal/appconf"
	"overlay.onebusaway.org/internal/cache"
	"overlay.onebusaway.org/internal/clock"
	"overlay.onebusaway.org/internal/gtfs"
	"overlay.onebusaway.org/internal/metrics"
	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/refresh"
	"overlay.onebusaway.org/internal/selection"
)

// testNow is 08:00 on a Monday in the testdata agency's time zone.
var testNow = time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)

var testSchedulePath = filepath.Join("..", "..", "testdata", "transit.zip")

func createTestApi(t *testing.T) *RestAPI {
	t.Helper()
	return createTestApiWithClock(t, clock.NewMockClock(testNow))
}

// createTestApiWithClock wires the full stack over the testdata schedule and
// an in-memory database. No realtime feeds are configured; tests push
// realtime data straight into the cache.
func createTestApiWithClock(t *testing.T, c clock.Clock) *RestAPI {
	t.Helper()

	engine, err := gtfs.NewEngine(gtfs.Config{
		GtfsURL:      testSchedulePath,
		GTFSDataPath: ":memory:",
		Env:          appconf.Test,
	}, gtfs.WithClock(c), gtfs.WithStaticRetry(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	application := newTestApplication(t, c, engine, engine)
	require.NoError(t, application.Scheduler.LoadSchedule(context.Background()))
	return newTestRestAPI(t, application)
}

func newTestApplication(t *testing.T, c clock.Clock, qe refresh.QueryEngine, engine *gtfs.Engine) *app.Application {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	entityCache := cache.New(c)
	m := metrics.New()
	cfg := appconf.Config{
		Env:         appconf.Test,
		ApiKeys:     []string{"TEST"},
		RateLimit:   100,
		AutoRefresh: true,
	}

	sched := refresh.New(qe, entityCache, refresh.Options{
		Interval:    cfg.RefreshInterval(),
		AutoRefresh: cfg.AutoRefresh,
		Clock:       c,
		Logger:      logger,
		Metrics:     m,
	})
	t.Cleanup(sched.Shutdown)

	application := &app.Application{
		Config:    cfg,
		Logger:    logger,
		Engine:    engine,
		Cache:     entityCache,
		Scheduler: sched,
		Selection: selection.New(entityCache, selection.Options{Clock: c, Fresh: sched.Fresh, Logger: logger}),
		Clock:     c,
		Metrics:   m,
	}
	if engine != nil {
		application.GtfsConfig = engine.Config()
	}
	return application
}

func newTestRestAPI(t *testing.T, application *app.Application) *RestAPI {
	t.Helper()
	api := NewRestAPI(application)
	t.Cleanup(api.Shutdown)
	return api
}

func serveAndRetrieveEndpoint(t *testing.T, endpoint string) (*RestAPI, *http.Response, models.ResponseModel) {
	t.Helper()
	api := createTestApi(t)
	resp, model := serveApiAndRetrieveEndpoint(t, api, endpoint)
	return api, resp, model
}

func serveApiAndRetrieveEndpoint(t *testing.T, api *RestAPI, endpoint string) (*http.Response, models.ResponseModel) {
	t.Helper()
	return doRequest(t, api, http.MethodGet, endpoint, "")
}

func postToEndpoint(t *testing.T, api *RestAPI, endpoint, body string) (*http.Response, models.ResponseModel) {
	t.Helper()
	return doRequest(t, api, http.MethodPost, endpoint, body)
}

func doRequest(t *testing.T, api *RestAPI, method, endpoint, body string) (*http.Response, models.ResponseModel) {
	t.Helper()
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, server.URL+endpoint, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var model models.ResponseModel
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &model), string(raw))
	}
	return resp, model
}

func entryOf(t *testing.T, model models.ResponseModel) map[string]interface{} {
	t.Helper()
	data, ok := model.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", model.Data)
	entry, ok := data["entry"].(map[string]interface{})
	require.True(t, ok, "entry is %T", data["entry"])
	return entry
}

func listOf(t *testing.T, model models.ResponseModel) []interface{} {
	t.Helper()
	data, ok := model.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", model.Data)
	list, ok := data["list"].([]interface{})
	require.True(t, ok, "list is %T", data["list"])
	return list
}

func TestEndpointsRequireValidApiKey(t *testing.T) {
	api := createTestApi(t)

	endpoints := []string{
		"/api/agencies",
		"/api/routes",
		"/api/routes/R10",
		"/api/routes/R10/trips",
		"/api/trips/T1/stop-times",
		"/api/stops/S1",
		"/api/alerts",
		"/api/vehicles",
		"/api/selection",
		"/api/refresh",
		"/api/export",
		"/api/config",
		"/api/current-time",
	}
	for _, endpoint := range endpoints {
		t.Run(endpoint, func(t *testing.T) {
			resp, model := serveApiAndRetrieveEndpoint(t, api, endpoint+"?key=invalid")
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, http.StatusUnauthorized, model.Code)
			assert.Equal(t, "permission denied", model.Text)
		})
	}
}

func TestResponsesCarryRequestID(t *testing.T) {
	api := createTestApi(t)
	resp, _ := serveApiAndRetrieveEndpoint(t, api, "/api/agencies?key=TEST")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAgenciesHandler(t *testing.T) {
	_, resp, model := serveAndRetrieveEndpoint(t, "/api/agencies?key=TEST")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := listOf(t, model)
	assert.Equal(t, []string{"metro"}, idsOf(t, list, "id"))
	agency := list[0].(map[string]interface{})
	assert.Equal(t, "America/Los_Angeles", agency["timezone"])
}

func TestMetricsEndpoint(t *testing.T) {
	api := createTestApi(t)
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/routes?key=TEST")
	require.NoError(t, err)
	_ = resp.Body.Close()

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `overlay_http_requests_total{method="GET",path="GET /api/routes",status="200"} 1`)
	assert.Contains(t, string(body), "overlay_cache_generation 1")
}
