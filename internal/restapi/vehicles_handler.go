package restapi

import (
	"net/http"

	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/realtime"
	"overlay.onebusaway.org/internal/selection"
)

// vehicleEntry is a vehicle position with its schedule association. Vehicles
// on trips that do not run today are reported unassociated.
type vehicleEntry struct {
	models.VehiclePosition
	Association realtime.AssociationStatus `json:"association"`
	TripLabel   string                     `json:"tripLabel"`
	RouteLabel  string                     `json:"routeLabel"`
	Headsign    string                     `json:"headsign,omitempty"`
	RouteColor  string                     `json:"routeColor,omitempty"`
	TextColor   string                     `json:"routeTextColor,omitempty"`
}

func (api *RestAPI) vehiclesHandler(w http.ResponseWriter, r *http.Request) {
	snap := api.Cache.Snapshot()
	today := selection.ServiceDate(snap, api.Clock.Now())
	lookup := realtime.FilterTrips(snap, func(trip models.Trip) bool {
		return snap.TripActiveOn(trip, today)
	})

	vehicles := snap.VehiclePositions()
	entries := make([]vehicleEntry, 0, len(vehicles))
	for _, v := range vehicles {
		a := realtime.AssociateVehicle(v, lookup)
		entry := vehicleEntry{
			VehiclePosition: v,
			Association:     a.Status,
			TripLabel:       a.TripLabel(),
			RouteLabel:      a.RouteLabel(),
		}
		if a.Trip != nil {
			entry.Headsign = a.Trip.Headsign
		}
		if a.Route != nil {
			entry.RouteColor = a.Route.Color
			entry.TextColor = realtime.RouteTextColor(*a.Route)
		}
		entries = append(entries, entry)
	}
	api.sendResponse(w, r, models.NewListResponse(entries, api.Clock))
}
