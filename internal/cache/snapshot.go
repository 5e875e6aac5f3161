package cache

import (
	"cmp"
	"slices"
	"time"

	"overlay.onebusaway.org/internal/models"
)

// Snapshot is one immutable cache generation. Every read on a Snapshot sees
// the same schedule and the same realtime overlay; a refresh never changes a
// Snapshot, it publishes a new one.
type Snapshot struct {
	generation uint64
	loadedAt   time.Time

	agencies     []models.Agency
	agencyByID   map[string]models.Agency
	routes       []models.Route
	routeByID    map[string]models.Route
	tripByID     map[string]models.Trip
	tripsByRoute map[string][]models.Trip
	stopTimes    map[string][]models.StopTime
	stops        []models.Stop
	stopByID     map[string]models.Stop
	serviceByID  map[string]models.Service

	rt *overlay
}

// overlay is the realtime part of a generation. Each category is replaced
// wholesale; a category absent from an update keeps its previous value.
type overlay struct {
	alerts        []models.Alert
	alertsByRoute map[string][]models.Alert
	vehicles      []models.VehiclePosition
	vehicleByID   map[string]models.VehiclePosition
	delays        map[models.StopTimeKey]models.RealtimeDelay
	updatedAt     map[models.FeedCategory]time.Time
}

var emptyOverlay = &overlay{
	alertsByRoute: map[string][]models.Alert{},
	vehicleByID:   map[string]models.VehiclePosition{},
	delays:        map[models.StopTimeKey]models.RealtimeDelay{},
	updatedAt:     map[models.FeedCategory]time.Time{},
}

func emptySnapshot(generation uint64) *Snapshot {
	return &Snapshot{
		generation:   generation,
		agencyByID:   map[string]models.Agency{},
		routeByID:    map[string]models.Route{},
		tripByID:     map[string]models.Trip{},
		tripsByRoute: map[string][]models.Trip{},
		stopTimes:    map[string][]models.StopTime{},
		stopByID:     map[string]models.Stop{},
		serviceByID:  map[string]models.Service{},
		rt:           emptyOverlay,
	}
}

// Generation is a monotonically increasing number identifying this snapshot.
func (s *Snapshot) Generation() uint64 { return s.generation }

// LoadedAt is when the schedule in this snapshot was loaded; zero when empty.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Empty reports whether no schedule has been loaded.
func (s *Snapshot) Empty() bool { return s.loadedAt.IsZero() }

// Agencies returns agencies ordered by name, then id.
func (s *Snapshot) Agencies() []models.Agency { return slices.Clone(s.agencies) }

func (s *Snapshot) Agency(id string) (models.Agency, bool) {
	a, ok := s.agencyByID[id]
	return a, ok
}

// Routes returns routes ordered by sort order (unordered last), short name, then id.
func (s *Snapshot) Routes() []models.Route { return slices.Clone(s.routes) }

func (s *Snapshot) Route(id string) (models.Route, bool) {
	r, ok := s.routeByID[id]
	return r, ok
}

// TripsForRoute returns the route's trips ordered by id. Service-date
// filtering and display ordering belong to the caller.
func (s *Snapshot) TripsForRoute(routeID string) []models.Trip {
	return slices.Clone(s.tripsByRoute[routeID])
}

func (s *Snapshot) Trip(id string) (models.Trip, bool) {
	t, ok := s.tripByID[id]
	return t, ok
}

// StopTimes returns the trip's stop-times ordered by stop sequence.
func (s *Snapshot) StopTimes(tripID string) []models.StopTime {
	return slices.Clone(s.stopTimes[tripID])
}

// Stops returns stops ordered by name, then id.
func (s *Snapshot) Stops() []models.Stop { return slices.Clone(s.stops) }

func (s *Snapshot) Stop(id string) (models.Stop, bool) {
	st, ok := s.stopByID[id]
	return st, ok
}

func (s *Snapshot) Service(id string) (models.Service, bool) {
	svc, ok := s.serviceByID[id]
	return svc, ok
}

// ServiceDateRange returns the first and last YYYYMMDD day any service runs,
// counting added dates. Both are empty when no service has dates.
func (s *Snapshot) ServiceDateRange() (from, to string) {
	widen := func(day string) {
		if day == "" {
			return
		}
		if from == "" || day < from {
			from = day
		}
		if day > to {
			to = day
		}
	}
	for _, svc := range s.serviceByID {
		widen(svc.StartDate)
		widen(svc.EndDate)
		for _, day := range svc.AddedDates {
			widen(day)
		}
	}
	return from, to
}

// TripActiveOn reports whether the trip's service runs on date. Trips with an
// unknown service never run.
func (s *Snapshot) TripActiveOn(trip models.Trip, date time.Time) bool {
	svc, ok := s.serviceByID[trip.ServiceID]
	return ok && svc.ActiveOn(date)
}

// Alerts returns every alert of the current overlay ordered by id.
func (s *Snapshot) Alerts() []models.Alert { return slices.Clone(s.rt.alerts) }

// ActiveAlerts returns alerts whose active periods cover now, ordered by id.
func (s *Snapshot) ActiveAlerts(now time.Time) []models.Alert {
	var out []models.Alert
	for _, a := range s.rt.alerts {
		if a.ActiveAt(now) {
			out = append(out, a)
		}
	}
	return out
}

// AlertsForRoute returns alerts that name routeID, ordered by id.
func (s *Snapshot) AlertsForRoute(routeID string) []models.Alert {
	return slices.Clone(s.rt.alertsByRoute[routeID])
}

// VehiclePositions returns vehicles ordered by vehicle id.
func (s *Snapshot) VehiclePositions() []models.VehiclePosition { return slices.Clone(s.rt.vehicles) }

func (s *Snapshot) Vehicle(id string) (models.VehiclePosition, bool) {
	v, ok := s.rt.vehicleByID[id]
	return v, ok
}

// Delay returns the realtime delay for a stop-time. A miss means the
// stop-time runs on schedule.
func (s *Snapshot) Delay(key models.StopTimeKey) (models.RealtimeDelay, bool) {
	d, ok := s.rt.delays[key]
	return d, ok
}

// UpdatedAt returns when category was last replaced; zero if never.
func (s *Snapshot) UpdatedAt(category models.FeedCategory) time.Time {
	return s.rt.updatedAt[category]
}

// Counts returns entity counts by kind, for metrics and debugging.
func (s *Snapshot) Counts() map[string]int {
	stopTimes := 0
	for _, sts := range s.stopTimes {
		stopTimes += len(sts)
	}
	return map[string]int{
		"agencies":   len(s.agencies),
		"routes":     len(s.routes),
		"trips":      len(s.tripByID),
		"stop_times": stopTimes,
		"stops":      len(s.stops),
		"services":   len(s.serviceByID),
		"alerts":     len(s.rt.alerts),
		"vehicles":   len(s.rt.vehicles),
		"delays":     len(s.rt.delays),
	}
}

func sortRoutes(routes []models.Route) {
	slices.SortStableFunc(routes, func(a, b models.Route) int {
		return cmp.Or(
			cmp.Compare(a.EffectiveSortOrder(), b.EffectiveSortOrder()),
			cmp.Compare(a.ShortName, b.ShortName),
			cmp.Compare(a.ID, b.ID),
		)
	})
}
