// Package cache holds the synchronous, query-ready view of the schedule and
// its realtime overlay.
//
// The cache publishes immutable Snapshots through an atomic pointer. Readers
// load the pointer and never block; writers build the next Snapshot off to
// the side and swap it in, so a reader sees either the previous generation or
// the next one in full.
package cache

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"overlay.onebusaway.org/internal/clock"
	"overlay.onebusaway.org/internal/models"
)

// ErrInvariantViolation is returned by Load when the schedule contains a
// duplicate key. The previous generation stays current.
var ErrInvariantViolation = errors.New("cache invariant violation")

// InvariantError names the offending entity kind and key.
type InvariantError struct {
	Kind string
	ID   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: duplicate %s %q", ErrInvariantViolation, e.Kind, e.ID)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// Cache is the entity cache handle. Create one with New and pass it to every
// consumer; the zero value is not usable.
type Cache struct {
	current atomic.Pointer[Snapshot]

	// writeMu serializes writers. Readers never take it.
	writeMu        sync.Mutex
	lastGeneration uint64

	clock clock.Clock
}

// New returns an empty cache.
func New(c clock.Clock) *Cache {
	if c == nil {
		c = clock.RealClock{}
	}
	cache := &Cache{clock: c}
	cache.current.Store(emptySnapshot(0))
	return cache
}

// Snapshot returns the current generation.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// Generation returns the number of the current generation.
func (c *Cache) Generation() uint64 {
	return c.current.Load().generation
}

// Load replaces every static entity with the contents of schedule in one
// swap. The current realtime overlay is carried into the new generation and
// is replaced category by category on the following refreshes.
func (c *Cache) Load(schedule *models.ScheduleSnapshot) error {
	if schedule == nil {
		return errors.New("cache: nil schedule")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next, err := buildSnapshot(schedule)
	if err != nil {
		return err
	}

	c.lastGeneration++
	next.generation = c.lastGeneration
	next.loadedAt = c.clock.Now()
	next.rt = c.current.Load().rt
	c.current.Store(next)
	return nil
}

// ApplyRealtimeSnapshot swaps in every category present in update in a
// single new generation. Categories absent from update keep their previous
// data. It returns the generation now current.
func (c *Cache) ApplyRealtimeSnapshot(update RealtimeUpdate) uint64 {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	prev := c.current.Load()
	if update.Empty() {
		return prev.generation
	}

	at := update.At
	if at.IsZero() {
		at = c.clock.Now()
	}

	rt := &overlay{
		alerts:        prev.rt.alerts,
		alertsByRoute: prev.rt.alertsByRoute,
		vehicles:      prev.rt.vehicles,
		vehicleByID:   prev.rt.vehicleByID,
		delays:        prev.rt.delays,
		updatedAt:     maps.Clone(prev.rt.updatedAt),
	}
	if update.hasAlerts {
		rt.alerts, rt.alertsByRoute = indexAlerts(update.alerts)
		rt.updatedAt[models.CategoryAlerts] = at
	}
	if update.hasVehicles {
		rt.vehicles, rt.vehicleByID = indexVehicles(update.vehicles)
		rt.updatedAt[models.CategoryVehicles] = at
	}
	if update.hasDelays {
		rt.delays = maps.Clone(update.delays)
		if rt.delays == nil {
			rt.delays = map[models.StopTimeKey]models.RealtimeDelay{}
		}
		rt.updatedAt[models.CategoryTripUpdates] = at
	}

	next := *prev
	next.rt = rt
	c.lastGeneration++
	next.generation = c.lastGeneration
	c.current.Store(&next)
	return next.generation
}

// Clear drops all schedule and realtime state. The generation number keeps
// increasing so memoized views of older generations are never reused.
func (c *Cache) Clear() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.lastGeneration++
	c.current.Store(emptySnapshot(c.lastGeneration))
}

// Convenience readers over the current generation. Callers that need several
// reads to agree should take one Snapshot and read from it instead.

func (c *Cache) Agencies() []models.Agency                 { return c.Snapshot().Agencies() }
func (c *Cache) Routes() []models.Route                    { return c.Snapshot().Routes() }
func (c *Cache) Route(id string) (models.Route, bool)      { return c.Snapshot().Route(id) }
func (c *Cache) Stop(id string) (models.Stop, bool)        { return c.Snapshot().Stop(id) }
func (c *Cache) StopTimes(tripID string) []models.StopTime { return c.Snapshot().StopTimes(tripID) }
func (c *Cache) ActiveAlerts() []models.Alert              { return c.Snapshot().ActiveAlerts(c.clock.Now()) }
func (c *Cache) VehiclePositions() []models.VehiclePosition {
	return c.Snapshot().VehiclePositions()
}

func buildSnapshot(s *models.ScheduleSnapshot) (*Snapshot, error) {
	snap := emptySnapshot(0)

	for _, a := range s.Agencies {
		if _, dup := snap.agencyByID[a.ID]; dup {
			return nil, &InvariantError{Kind: "agency", ID: a.ID}
		}
		snap.agencyByID[a.ID] = a
	}
	snap.agencies = slices.Collect(maps.Values(snap.agencyByID))
	slices.SortFunc(snap.agencies, func(a, b models.Agency) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})

	for _, r := range s.Routes {
		if _, dup := snap.routeByID[r.ID]; dup {
			return nil, &InvariantError{Kind: "route", ID: r.ID}
		}
		snap.routeByID[r.ID] = r
	}
	snap.routes = slices.Collect(maps.Values(snap.routeByID))
	sortRoutes(snap.routes)

	for _, svc := range s.Services {
		if _, dup := snap.serviceByID[svc.ID]; dup {
			return nil, &InvariantError{Kind: "service", ID: svc.ID}
		}
		snap.serviceByID[svc.ID] = svc
	}

	for _, t := range s.Trips {
		if _, dup := snap.tripByID[t.ID]; dup {
			return nil, &InvariantError{Kind: "trip", ID: t.ID}
		}
		if t.DirectionID == "" {
			t.DirectionID = "0"
		}
		snap.tripByID[t.ID] = t
		snap.tripsByRoute[t.RouteID] = append(snap.tripsByRoute[t.RouteID], t)
	}
	for _, trips := range snap.tripsByRoute {
		slices.SortFunc(trips, func(a, b models.Trip) int { return cmp.Compare(a.ID, b.ID) })
	}

	seen := make(map[models.StopTimeKey]struct{}, len(s.StopTimes))
	for _, st := range s.StopTimes {
		key := st.Key()
		if _, dup := seen[key]; dup {
			return nil, &InvariantError{Kind: "stop_time", ID: st.TripID + "#" + strconv.Itoa(st.StopSequence)}
		}
		seen[key] = struct{}{}
		snap.stopTimes[st.TripID] = append(snap.stopTimes[st.TripID], st)
	}
	for _, sts := range snap.stopTimes {
		slices.SortFunc(sts, func(a, b models.StopTime) int { return cmp.Compare(a.StopSequence, b.StopSequence) })
	}

	for _, st := range s.Stops {
		if _, dup := snap.stopByID[st.ID]; dup {
			return nil, &InvariantError{Kind: "stop", ID: st.ID}
		}
		snap.stopByID[st.ID] = st
	}
	snap.stops = slices.Collect(maps.Values(snap.stopByID))
	slices.SortFunc(snap.stops, func(a, b models.Stop) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})

	return snap, nil
}

// indexAlerts orders alerts by id. A repeated id keeps the last occurrence.
func indexAlerts(in []models.Alert) ([]models.Alert, map[string][]models.Alert) {
	byID := make(map[string]models.Alert, len(in))
	for _, a := range in {
		byID[a.ID] = a
	}
	alerts := slices.Collect(maps.Values(byID))
	slices.SortFunc(alerts, func(a, b models.Alert) int { return cmp.Compare(a.ID, b.ID) })

	byRoute := make(map[string][]models.Alert)
	for _, a := range alerts {
		for _, routeID := range slices.Compact(slices.Sorted(slices.Values(a.RouteIDs))) {
			byRoute[routeID] = append(byRoute[routeID], a)
		}
	}
	return alerts, byRoute
}

// indexVehicles orders vehicles by id. A repeated id keeps the last occurrence.
func indexVehicles(in []models.VehiclePosition) ([]models.VehiclePosition, map[string]models.VehiclePosition) {
	byID := make(map[string]models.VehiclePosition, len(in))
	for _, v := range in {
		byID[v.VehicleID] = v
	}
	vehicles := slices.Collect(maps.Values(byID))
	slices.SortFunc(vehicles, func(a, b models.VehiclePosition) int { return cmp.Compare(a.VehicleID, b.VehicleID) })
	return vehicles, byID
}

// RealtimeUpdate carries the categories one refresh cycle produced. Build it
// with the With methods; a category that was never set is left untouched by
// ApplyRealtimeSnapshot, while a category set to an empty value is cleared.
type RealtimeUpdate struct {
	// At stamps the updated categories; the cache clock is used when zero.
	At time.Time

	alerts      []models.Alert
	vehicles    []models.VehiclePosition
	delays      map[models.StopTimeKey]models.RealtimeDelay
	hasAlerts   bool
	hasVehicles bool
	hasDelays   bool
}

func (u RealtimeUpdate) WithAlerts(alerts []models.Alert) RealtimeUpdate {
	u.alerts, u.hasAlerts = alerts, true
	return u
}

func (u RealtimeUpdate) WithVehicles(vehicles []models.VehiclePosition) RealtimeUpdate {
	u.vehicles, u.hasVehicles = vehicles, true
	return u
}

func (u RealtimeUpdate) WithStopTimeDelays(delays map[models.StopTimeKey]models.RealtimeDelay) RealtimeUpdate {
	u.delays, u.hasDelays = delays, true
	return u
}

// With sets category from snap. Unknown categories are ignored.
func (u RealtimeUpdate) With(category models.FeedCategory, snap models.RealtimeSnapshot) RealtimeUpdate {
	switch category {
	case models.CategoryAlerts:
		return u.WithAlerts(snap.Alerts)
	case models.CategoryVehicles:
		return u.WithVehicles(snap.Vehicles)
	case models.CategoryTripUpdates:
		return u.WithStopTimeDelays(snap.StopTimeDelays)
	}
	return u
}

// Categories lists the categories present, in models.FeedCategories order.
func (u RealtimeUpdate) Categories() []models.FeedCategory {
	var out []models.FeedCategory
	if u.hasAlerts {
		out = append(out, models.CategoryAlerts)
	}
	if u.hasVehicles {
		out = append(out, models.CategoryVehicles)
	}
	if u.hasDelays {
		out = append(out, models.CategoryTripUpdates)
	}
	return out
}

func (u RealtimeUpdate) Empty() bool {
	return !u.hasAlerts && !u.hasVehicles && !u.hasDelays
}
