package models

import (
	"strings"
	"time"
)

// RealtimeDelay is a live-feed deviation for one stop-time, in signed seconds.
// A nil field means no deviation for that event.
type RealtimeDelay struct {
	ArrivalDelay   *int32 `json:"arrivalDelay,omitempty"`
	DepartureDelay *int32 `json:"departureDelay,omitempty"`
}

// ActivePeriod bounds are epoch seconds; a nil bound is open-ended.
type ActivePeriod struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

func (p ActivePeriod) Contains(t time.Time) bool {
	sec := t.Unix()
	if p.Start != nil && sec < *p.Start {
		return false
	}
	if p.End != nil && sec > *p.End {
		return false
	}
	return true
}

type Alert struct {
	ID            string         `json:"id"`
	Header        string         `json:"header"`
	Description   string         `json:"description,omitempty"`
	URL           string         `json:"url,omitempty"`
	RouteIDs      []string       `json:"routeIds,omitempty"`
	ActivePeriods []ActivePeriod `json:"activePeriods,omitempty"`
}

// ActiveAt reports whether the alert applies at t. An alert without periods is always active.
func (a Alert) ActiveAt(t time.Time) bool {
	if len(a.ActivePeriods) == 0 {
		return true
	}
	for _, p := range a.ActivePeriods {
		if p.Contains(t) {
			return true
		}
	}
	return false
}

// VehicleStatus mirrors the GTFS-RT VehicleStopStatus values, plus UNKNOWN.
type VehicleStatus int

const (
	VehicleIncoming VehicleStatus = iota
	VehicleStopped
	VehicleInTransit
	VehicleUnknown
)

func (s VehicleStatus) String() string {
	switch s {
	case VehicleIncoming:
		return "INCOMING"
	case VehicleStopped:
		return "STOPPED"
	case VehicleInTransit:
		return "IN_TRANSIT"
	default:
		return "UNKNOWN"
	}
}

func (s VehicleStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *VehicleStatus) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "INCOMING":
		*s = VehicleIncoming
	case "STOPPED":
		*s = VehicleStopped
	case "IN_TRANSIT":
		*s = VehicleInTransit
	default:
		*s = VehicleUnknown
	}
	return nil
}

type VehiclePosition struct {
	VehicleID     string        `json:"vehicleId"`
	Label         string        `json:"label,omitempty"`
	RouteID       *string       `json:"routeId,omitempty"`
	TripID        *string       `json:"tripId,omitempty"`
	Latitude      float64       `json:"lat"`
	Longitude     float64       `json:"lon"`
	Status        VehicleStatus `json:"status"`
	CurrentStopID *string       `json:"currentStopId,omitempty"`
	Timestamp     *time.Time    `json:"timestamp,omitempty"`
}

// FeedCategory names one of the independently refreshed realtime feeds.
type FeedCategory string

const (
	CategoryAlerts      FeedCategory = "alerts"
	CategoryVehicles    FeedCategory = "vehicles"
	CategoryTripUpdates FeedCategory = "trip_updates"
)

// FeedCategories lists every category in a stable order.
var FeedCategories = []FeedCategory{CategoryAlerts, CategoryVehicles, CategoryTripUpdates}

// RealtimeSnapshot is the decoded content of one refresh cycle.
type RealtimeSnapshot struct {
	Alerts         []Alert
	Vehicles       []VehiclePosition
	StopTimeDelays map[StopTimeKey]RealtimeDelay
}
