package restapi

import (
	"net/http"

	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/selection"
)

type tripsForRouteEntry struct {
	RouteID     string                     `json:"routeId"`
	ServiceDate string                     `json:"serviceDate"`
	Directions  []selection.DirectionGroup `json:"directions"`
}

func (api *RestAPI) tripsForRouteHandler(w http.ResponseWriter, r *http.Request) {
	routeID := r.PathValue("id")
	snap := api.Cache.Snapshot()
	if _, ok := snap.Route(routeID); !ok {
		api.sendNotFound(w, r)
		return
	}

	date, err := api.serviceDateParam(r, snap)
	if err != nil {
		api.validationErrorResponse(w, r, map[string][]string{"date": {err.Error()}})
		return
	}

	entry := tripsForRouteEntry{
		RouteID:     routeID,
		ServiceDate: date.Format(models.ServiceDateLayout),
		Directions:  api.Selection.TripGroupsOn(routeID, date),
	}
	api.sendResponse(w, r, models.NewEntryResponse(entry, api.Clock))
}
