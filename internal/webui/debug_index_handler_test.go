package webui

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"overlay.onebusaway.org/internal/app"
	"overlay.onebusaway.org/internal/appconf"
	"overlay.onebusaway.org/internal/cache"
	"overlay.onebusaway.org/internal/clock"
	"overlay.onebusaway.org/internal/gtfs"
	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/selection"
)

func newTestWebUI(t *testing.T, env appconf.Environment) *WebUI {
	t.Helper()
	mc := clock.NewMockClock(time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC))
	c := cache.New(mc)
	require.NoError(t, c.Load(&models.ScheduleSnapshot{
		Agencies: []models.Agency{{ID: "metro", Name: "Metro Transit", Timezone: "America/Los_Angeles"}},
		Routes:   []models.Route{{ID: "R10", AgencyID: "metro", ShortName: "10"}},
		Trips:    []models.Trip{{ID: "T1", RouteID: "R10", ServiceID: "WKDY", DirectionID: "0"}},
		StopTimes: []models.StopTime{
			{TripID: "T1", StopSequence: 1, StopID: "S1", ArrivalTime: "08:00:00", DepartureTime: "08:00:00"},
		},
		Stops: []models.Stop{{ID: "S1", Name: "First & Main"}},
	}))
	return &WebUI{
		Application: &app.Application{
			Config:    appconf.Config{Env: env},
			Cache:     c,
			Clock:     mc,
			Selection: selection.New(c, selection.Options{Clock: mc}),
		},
	}
}

func serveDebug(webUI *WebUI, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	webUI.SetWebUIRoutes(mux)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestDebugIndexHandler_ProductionReturns404(t *testing.T) {
	webUI := newTestWebUI(t, appconf.Production)

	rr := serveDebug(webUI, "/debug/?dataType=agencies")

	assert.Equal(t, http.StatusNotFound, rr.Code, "Should return 404 in Production")
}

func TestDebugIndexHandler_DevelopmentDumpsCache(t *testing.T) {
	webUI := newTestWebUI(t, appconf.Development)

	tests := []struct {
		dataType string
		title    string
		contains string
	}{
		{"agencies", "Entity Cache - Agencies", "Metro Transit"},
		{"routes", "Entity Cache - Routes", "R10"},
		{"stops", "Entity Cache - Stops", "First &amp; Main"},
		{"trips&routeId=R10", "Entity Cache - Trips for R10", "T1"},
		{"stop_times&tripId=T1", "Entity Cache - Stop Times for T1", "08:00:00"},
		{"counts", "Entity Cache - Counts", "generation"},
		{"tables", "Query Engine - Table Counts", "database not initialized"},
		{"status", "Refresh Scheduler - Status", "scheduler not running"},
		{"selection", "Selection - State", "selection.State"},
		{"bogus", "Choose a data type", "Please use one of the following"},
	}

	for _, tt := range tests {
		t.Run(tt.dataType, func(t *testing.T) {
			rr := serveDebug(webUI, "/debug/?dataType="+tt.dataType)

			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
			body := rr.Body.String()
			assert.Contains(t, body, "<title>"+tt.title+"</title>")
			assert.Contains(t, body, tt.contains)
		})
	}
}

func TestDebugIndexHandler_TableCounts(t *testing.T) {
	webUI := newTestWebUI(t, appconf.Development)
	engine, err := gtfs.NewEngine(gtfs.Config{GTFSDataPath: ":memory:", Env: appconf.Test})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	webUI.Engine = engine

	rr := serveDebug(webUI, "/debug/?dataType=tables")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "stop_times")
	assert.Contains(t, rr.Body.String(), "rt_vehicles")
}

func TestDebugIndexHandler_NoCache(t *testing.T) {
	webUI := &WebUI{Application: &app.Application{Config: appconf.Config{Env: appconf.Development}}}

	rr := serveDebug(webUI, "/debug/?dataType=agencies")

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
