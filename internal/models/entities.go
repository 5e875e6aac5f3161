package models

import (
	"math"
	"slices"
	"time"
)

// DefaultRouteSortOrder is used for routes without a declared sort order so
// that they sort after every ordered route.
const DefaultRouteSortOrder = math.MaxInt32

// ServiceDateLayout is the GTFS YYYYMMDD service date format.
const ServiceDateLayout = "20060102"

type Agency struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	Timezone string `json:"timezone"`
}

type Route struct {
	ID        string `json:"id"`
	AgencyID  string `json:"agencyId"`
	ShortName string `json:"shortName"`
	LongName  string `json:"longName"`
	SortOrder *int   `json:"sortOrder,omitempty"`
	Color     string `json:"color,omitempty"`
	TextColor string `json:"textColor,omitempty"`
}

// EffectiveSortOrder returns the declared sort order or DefaultRouteSortOrder.
func (r Route) EffectiveSortOrder() int {
	if r.SortOrder == nil {
		return DefaultRouteSortOrder
	}
	return *r.SortOrder
}

// DisplayName prefers the short name, then the long name, then the id.
func (r Route) DisplayName() string {
	switch {
	case r.ShortName != "":
		return r.ShortName
	case r.LongName != "":
		return r.LongName
	default:
		return r.ID
	}
}

type Trip struct {
	ID          string `json:"id"`
	RouteID     string `json:"routeId"`
	ServiceID   string `json:"serviceId"`
	DirectionID string `json:"directionId"`
	ShortName   string `json:"shortName,omitempty"`
	Headsign    string `json:"headsign,omitempty"`
}

// DisplayName returns the trip short name, falling back to the trip id.
func (t Trip) DisplayName() string {
	if t.ShortName != "" {
		return t.ShortName
	}
	return t.ID
}

// Direction returns the trip direction, "0" when the feed left it blank.
func (t Trip) Direction() string {
	if t.DirectionID == "" {
		return "0"
	}
	return t.DirectionID
}

// StopTimeKey identifies a stop-time. Sequence numbers are unique only within a trip.
type StopTimeKey struct {
	TripID       string `json:"tripId"`
	StopSequence int    `json:"stopSequence"`
}

type StopTime struct {
	TripID        string `json:"tripId"`
	StopSequence  int    `json:"stopSequence"`
	StopID        string `json:"stopId"`
	ArrivalTime   string `json:"arrivalTime"`
	DepartureTime string `json:"departureTime"`
}

func (st StopTime) Key() StopTimeKey {
	return StopTimeKey{TripID: st.TripID, StopSequence: st.StopSequence}
}

type Stop struct {
	ID        string  `json:"id"`
	Code      string  `json:"code,omitempty"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Service is one service calendar: a weekly pattern over a date range plus
// explicit exceptions. Dates are YYYYMMDD strings so comparison is
// independent of time zone.
type Service struct {
	ID           string   `json:"id"`
	Weekdays     [7]bool  `json:"weekdays"` // indexed by time.Weekday
	StartDate    string   `json:"startDate,omitempty"`
	EndDate      string   `json:"endDate,omitempty"`
	AddedDates   []string `json:"addedDates,omitempty"`
	RemovedDates []string `json:"removedDates,omitempty"`
}

// ActiveOn reports whether the service runs on the calendar day of date.
// Exceptions win over the weekly pattern.
func (s Service) ActiveOn(date time.Time) bool {
	day := date.Format(ServiceDateLayout)
	if slices.Contains(s.RemovedDates, day) {
		return false
	}
	if slices.Contains(s.AddedDates, day) {
		return true
	}
	if s.StartDate == "" || s.EndDate == "" {
		return false
	}
	if day < s.StartDate || day > s.EndDate {
		return false
	}
	return s.Weekdays[date.Weekday()]
}

// ScheduleSnapshot is one complete static schedule as produced by the query engine.
type ScheduleSnapshot struct {
	Agencies  []Agency
	Routes    []Route
	Trips     []Trip
	StopTimes []StopTime
	Stops     []Stop
	Services  []Service
}
