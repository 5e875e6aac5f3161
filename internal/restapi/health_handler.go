package restapi

import (
	"encoding/json"
	"net/http"

	"overlay.onebusaway.org/internal/logging"
)

// HealthResponse represents the JSON response from the health endpoint.
type HealthResponse struct {
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
}

// healthHandler verifies database connectivity and readiness.
// It returns 503 Service Unavailable until a schedule has been loaded into the cache.
func (api *RestAPI) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	// 1. Liveness Check: Is the basic infrastructure initialized?
	if api.Application == nil || api.Engine == nil || api.Engine.DB() == nil || api.Engine.DB().DB == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status: "unavailable",
			Detail: "database not initialized",
		})
		return
	}

	// 2. Readiness Check: has a schedule been published to readers?
	if !api.Engine.IsHealthy() || api.Cache == nil || api.Cache.Snapshot().Empty() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status: "starting",
			Detail: "schedule is not loaded yet",
		})
		return
	}

	// 3. Connectivity Check: Is the database actually reachable?
	if err := api.Engine.DB().DB.PingContext(r.Context()); err != nil {
		logging.LogError(api.Logger, "GTFS DB ping failed", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status: "unavailable",
			Detail: "database connection failed",
		})
		return
	}

	// All checks passed
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:     "ok",
		Generation: api.Cache.Generation(),
	})
}
