package realtime

import (
	"overlay.onebusaway.org/internal/models"
)

// UnknownLabel is shown in place of route or trip references that do not
// resolve against the loaded schedule.
const UnknownLabel = "unknown"

// DeriveStatus maps a raw GTFS-RT VehicleStopStatus code onto VehicleStatus.
// 0, 1 and 2 are INCOMING_AT, STOPPED_AT and IN_TRANSIT_TO; anything else,
// including a missing code, is UNKNOWN.
func DeriveStatus(raw *int32) models.VehicleStatus {
	if raw == nil {
		return models.VehicleUnknown
	}
	switch *raw {
	case 0:
		return models.VehicleIncoming
	case 1:
		return models.VehicleStopped
	case 2:
		return models.VehicleInTransit
	default:
		return models.VehicleUnknown
	}
}

// TripLookup resolves schedule references. The cache snapshot satisfies it.
type TripLookup interface {
	Trip(id string) (models.Trip, bool)
	Route(id string) (models.Route, bool)
}

type AssociationStatus int

const (
	Unassociated AssociationStatus = iota
	Associated
)

func (s AssociationStatus) String() string {
	if s == Associated {
		return "associated"
	}
	return "unassociated"
}

func (s AssociationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Association is the result of matching a vehicle to the schedule.
// Trip and Route are nil when the reference does not resolve.
type Association struct {
	Status AssociationStatus
	Trip   *models.Trip
	Route  *models.Route
}

// TripLabel returns the resolved trip display name or UnknownLabel.
func (a Association) TripLabel() string {
	if a.Trip == nil {
		return UnknownLabel
	}
	return a.Trip.DisplayName()
}

// RouteLabel returns the resolved route display name or UnknownLabel.
func (a Association) RouteLabel() string {
	if a.Route == nil {
		return UnknownLabel
	}
	return a.Route.DisplayName()
}

// AssociateVehicle matches v's trip reference against lookup. Live feeds
// routinely reference trips outside the loaded window, so a miss is a normal
// Unassociated result, never an error. The route comes from the vehicle's own
// route reference when present, else from the matched trip.
func AssociateVehicle(v models.VehiclePosition, lookup TripLookup) Association {
	var a Association
	if lookup == nil {
		return a
	}

	if v.TripID != nil && *v.TripID != "" {
		if trip, ok := lookup.Trip(*v.TripID); ok {
			a.Status = Associated
			a.Trip = &trip
		}
	}

	routeID := ""
	if v.RouteID != nil {
		routeID = *v.RouteID
	} else if a.Trip != nil {
		routeID = a.Trip.RouteID
	}
	if routeID != "" {
		if route, ok := lookup.Route(routeID); ok {
			a.Route = &route
		}
	}
	return a
}

// FilterTrips narrows lookup to trips accepted by keep, e.g. trips running on
// the current service date. Routes are passed through unchanged.
func FilterTrips(lookup TripLookup, keep func(models.Trip) bool) TripLookup {
	return filteredLookup{TripLookup: lookup, keep: keep}
}

type filteredLookup struct {
	TripLookup
	keep func(models.Trip) bool
}

func (f filteredLookup) Trip(id string) (models.Trip, bool) {
	trip, ok := f.TripLookup.Trip(id)
	if !ok || (f.keep != nil && !f.keep(trip)) {
		return models.Trip{}, false
	}
	return trip, true
}
