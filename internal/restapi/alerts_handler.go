package restapi

import (
	"net/http"

	"overlay.onebusaway.org/internal/models"
)

// alertsHandler lists the alerts active now, optionally only those naming
// the route given by the "routeId" query parameter.
func (api *RestAPI) alertsHandler(w http.ResponseWriter, r *http.Request) {
	snap := api.Cache.Snapshot()
	now := api.Clock.Now()

	var alerts []models.Alert
	if routeID := r.URL.Query().Get("routeId"); routeID != "" {
		for _, alert := range snap.AlertsForRoute(routeID) {
			if alert.ActiveAt(now) {
				alerts = append(alerts, alert)
			}
		}
	} else {
		alerts = snap.ActiveAlerts(now)
	}
	api.sendResponse(w, r, models.NewListResponse(alerts, api.Clock))
}
