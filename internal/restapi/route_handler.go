package restapi

import (
	"net/http"

	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/realtime"
)

// routeEntry is a route as displayed: text color is always resolved and
// Alerts holds the route's currently active alerts.
type routeEntry struct {
	models.Route
	DisplayName string         `json:"displayName"`
	Alerts      []models.Alert `json:"alerts,omitempty"`
}

func newRouteEntry(route models.Route) routeEntry {
	route.TextColor = realtime.RouteTextColor(route)
	return routeEntry{Route: route, DisplayName: route.DisplayName()}
}

// routesHandler lists routes in display order.
func (api *RestAPI) routesHandler(w http.ResponseWriter, r *http.Request) {
	routes := api.Cache.Routes()
	entries := make([]routeEntry, 0, len(routes))
	for _, route := range routes {
		entries = append(entries, newRouteEntry(route))
	}
	api.sendResponse(w, r, models.NewListResponse(entries, api.Clock))
}

func (api *RestAPI) routeHandler(w http.ResponseWriter, r *http.Request) {
	snap := api.Cache.Snapshot()
	route, ok := snap.Route(r.PathValue("id"))
	if !ok {
		api.sendNotFound(w, r)
		return
	}

	entry := newRouteEntry(route)
	now := api.Clock.Now()
	for _, alert := range snap.AlertsForRoute(route.ID) {
		if alert.ActiveAt(now) {
			entry.Alerts = append(entry.Alerts, alert)
		}
	}
	api.sendResponse(w, r, models.NewEntryResponse(entry, api.Clock))
}
