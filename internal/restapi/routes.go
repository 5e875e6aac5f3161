package restapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetRoutes registers every endpoint on mux.
func (api *RestAPI) SetRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", api.healthHandler)
	if api.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(api.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	api.handle(mux, "GET /api/agencies", scheduleTier, api.agenciesHandler)
	api.handle(mux, "GET /api/routes", scheduleTier, api.routesHandler)
	api.handle(mux, "GET /api/routes/{id}", realtimeTier, api.routeHandler)
	api.handle(mux, "GET /api/routes/{id}/trips", scheduleTier, api.tripsForRouteHandler)
	api.handle(mux, "GET /api/trips/{id}/stop-times", realtimeTier, api.stopTimesForTripHandler)
	api.handle(mux, "GET /api/stops", scheduleTier, api.stopsHandler)
	api.handle(mux, "GET /api/stops/{id}", scheduleTier, api.stopHandler)
	api.handle(mux, "GET /api/alerts", realtimeTier, api.alertsHandler)
	api.handle(mux, "GET /api/vehicles", realtimeTier, api.vehiclesHandler)

	api.handle(mux, "GET /api/selection", noStore, api.selectionHandler)
	api.handle(mux, "DELETE /api/selection", noStore, api.resetSelectionHandler)
	api.handle(mux, "POST /api/selection/route", noStore, api.selectRouteHandler)
	api.handle(mux, "POST /api/selection/trip", noStore, api.selectTripHandler)
	api.handle(mux, "POST /api/selection/stop-time", noStore, api.selectStopTimeHandler)

	api.handle(mux, "GET /api/refresh", noStore, api.refreshStatusHandler)
	api.handle(mux, "POST /api/refresh", noStore, api.startRefreshHandler)
	api.handle(mux, "POST /api/refresh/auto", noStore, api.autoRefreshHandler)
	api.handle(mux, "POST /api/refresh/interval", noStore, api.refreshIntervalHandler)

	api.handle(mux, "GET /api/export", noStore, api.exportHandler)
	api.handle(mux, "GET /api/config", noStore, api.configHandler)
	api.handle(mux, "GET /api/current-time", noStore, api.currentTimeHandler)
}

// Handler returns the full middleware chain around a fresh mux.
func (api *RestAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	api.SetRoutes(mux)
	return api.Wrap(mux)
}

// Wrap applies the request-scoped middleware shared by every endpoint.
func (api *RestAPI) Wrap(next http.Handler) http.Handler {
	next = MetricsHandler(api.Metrics)(next)
	next = NewRequestLoggingMiddleware(api.Logger)(next)
	return RequestIDMiddleware(next)
}

func (api *RestAPI) handle(mux *http.ServeMux, pattern string, tier cacheTier, h http.HandlerFunc) {
	var handler http.Handler = h
	handler = api.cacheControl(tier, handler)
	handler = api.requireAPIKey(handler)
	handler = api.rateLimiter.Handler()(handler)
	mux.Handle(pattern, handler)
}

func (api *RestAPI) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.RequestHasInvalidAPIKey(r) {
			api.sendUnauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
