// Package selection holds the route → trip → stop-time drill-down over the
// entity cache. Every view is recomputed from the current generation, so a
// selection that no longer exists yields an empty result instead of an error.
package selection

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"overlay.onebusaway.org/internal/cache"
	"overlay.onebusaway.org/internal/clock"
	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/realtime"
)

const defaultMemoSize = 512

// DirectionGroup is the trips of one direction, in display order.
type DirectionGroup struct {
	DirectionID string        `json:"directionId"`
	Trips       []models.Trip `json:"trips"`
}

// State is the current selection. Empty fields are unselected.
type State struct {
	RouteID      string `json:"routeId,omitempty"`
	TripID       string `json:"tripId,omitempty"`
	StopSequence *int   `json:"stopSequence,omitempty"`
}

type Options struct {
	// Language drives trip name collation. Defaults to English.
	Language language.Tag
	// MemoSize bounds the trip group memo. Defaults to 512 entries.
	MemoSize int
	// Fresh reports whether a realtime category may decorate rows. Nil means always.
	Fresh  func(models.FeedCategory) bool
	Clock  clock.Clock
	Logger *slog.Logger
}

// Selection is safe for concurrent use.
type Selection struct {
	cache  *cache.Cache
	clock  clock.Clock
	fresh  func(models.FeedCategory) bool
	logger *slog.Logger
	memo   gcache.Cache

	mu       sync.Mutex
	collator *collate.Collator
	state    State
}

func New(c *cache.Cache, opts Options) *Selection {
	tag := opts.Language
	if tag == language.Und {
		tag = language.English
	}
	size := opts.MemoSize
	if size <= 0 {
		size = defaultMemoSize
	}
	s := &Selection{
		cache:    c,
		clock:    opts.Clock,
		fresh:    opts.Fresh,
		logger:   opts.Logger,
		collator: collate.New(tag),
		memo:     gcache.New(size).LRU().Build(),
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "selection"))
	return s
}

func (s *Selection) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if st.StopSequence != nil {
		seq := *st.StopSequence
		st.StopSequence = &seq
	}
	return st
}

// SelectRoute selects routeID. Choosing a different route clears the trip
// and stop-time selections.
func (s *Selection) SelectRoute(routeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.RouteID == routeID {
		return
	}
	s.state = State{RouteID: routeID}
}

// SelectTrip selects a trip of the selected route. It reports false and
// leaves the selection unchanged when no route is selected or the trip is
// not on that route in the current generation. Choosing a different trip
// clears the stop-time selection.
func (s *Selection) SelectTrip(tripID string) bool {
	trip, found := s.cache.Snapshot().Trip(tripID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.RouteID == "" || !found || trip.RouteID != s.state.RouteID {
		return false
	}
	if s.state.TripID == tripID {
		return true
	}
	s.state.TripID = tripID
	s.state.StopSequence = nil
	return true
}

// SelectStopTime selects a stop-time of the selected trip. It reports false
// and leaves the selection unchanged when no trip is selected.
func (s *Selection) SelectStopTime(stopSequence int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.TripID == "" {
		return false
	}
	s.state.StopSequence = &stopSequence
	return true
}

func (s *Selection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
}

// TripGroups returns the selected route's trips active on serviceDate.
func (s *Selection) TripGroups(serviceDate time.Time) []DirectionGroup {
	return s.TripGroupsOn(s.State().RouteID, serviceDate)
}

// TripGroupsOn is TripGroups for an explicit route, independent of the selection.
func (s *Selection) TripGroupsOn(routeID string, serviceDate time.Time) []DirectionGroup {
	if routeID == "" {
		return []DirectionGroup{}
	}
	snap := s.cache.Snapshot()
	key := fmt.Sprintf("%d|%s|%s", snap.Generation(), routeID, serviceDate.Format(models.ServiceDateLayout))

	if cached, err := s.memo.Get(key); err == nil {
		if groups, ok := cached.([]DirectionGroup); ok {
			return cloneGroups(groups)
		}
	}

	s.mu.Lock()
	groups := TripGroupsFor(snap, routeID, serviceDate, s.collator)
	s.mu.Unlock()

	if err := s.memo.Set(key, groups); err != nil {
		s.logger.Warn("failed to memoize trip groups", slog.String("key", key), slog.Any("error", err))
	}
	return cloneGroups(groups)
}

// StopTimes returns the selected trip's stop-times, decorated with realtime
// delays while the trip update category is fresh.
func (s *Selection) StopTimes() []realtime.AnnotatedStopTime {
	return s.StopTimesOf(s.State().TripID)
}

// StopTimesOf is StopTimes for an explicit trip, independent of the selection.
func (s *Selection) StopTimesOf(tripID string) []realtime.AnnotatedStopTime {
	if tripID == "" {
		return []realtime.AnnotatedStopTime{}
	}
	decorate := s.fresh == nil || s.fresh(models.CategoryTripUpdates)
	return StopTimesFor(s.cache.Snapshot(), tripID, decorate)
}

// SelectedStopTime returns the selected stop-time if it still exists.
func (s *Selection) SelectedStopTime() (realtime.AnnotatedStopTime, bool) {
	st := s.State()
	if st.StopSequence == nil {
		return realtime.AnnotatedStopTime{}, false
	}
	for _, row := range s.StopTimesOf(st.TripID) {
		if row.StopSequence == *st.StopSequence {
			return row, true
		}
	}
	return realtime.AnnotatedStopTime{}, false
}

// ServiceDate returns today's service date in the timezone of the first
// agency, or in UTC when no agency timezone can be loaded.
func (s *Selection) ServiceDate() time.Time {
	return ServiceDate(s.cache.Snapshot(), s.clock.Now())
}

// TripGroupsFor groups the trips of routeID active on serviceDate by
// direction: "0", then "1", then any other value in string order. Within a
// group trips sort by display name under col, then by id. col must not be
// shared across goroutines.
func TripGroupsFor(snap *cache.Snapshot, routeID string, serviceDate time.Time, col *collate.Collator) []DirectionGroup {
	byDirection := make(map[string][]models.Trip)
	for _, trip := range snap.TripsForRoute(routeID) {
		if !snap.TripActiveOn(trip, serviceDate) {
			continue
		}
		dir := trip.Direction()
		byDirection[dir] = append(byDirection[dir], trip)
	}

	groups := make([]DirectionGroup, 0, len(byDirection))
	for dir, trips := range byDirection {
		slices.SortFunc(trips, func(a, b models.Trip) int {
			if c := col.CompareString(a.DisplayName(), b.DisplayName()); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		groups = append(groups, DirectionGroup{DirectionID: dir, Trips: trips})
	}
	slices.SortFunc(groups, func(a, b DirectionGroup) int {
		return cmp.Or(cmp.Compare(directionRank(a.DirectionID), directionRank(b.DirectionID)),
			cmp.Compare(a.DirectionID, b.DirectionID))
	})
	return groups
}

func directionRank(dir string) int {
	switch dir {
	case "0":
		return 0
	case "1":
		return 1
	default:
		return 2
	}
}

// StopTimesFor returns the trip's stop-times ordered by sequence. With
// decorate set each row carries the delay-adjusted times; otherwise the
// actual times equal the scheduled ones.
func StopTimesFor(snap *cache.Snapshot, tripID string, decorate bool) []realtime.AnnotatedStopTime {
	stopTimes := snap.StopTimes(tripID)
	out := make([]realtime.AnnotatedStopTime, 0, len(stopTimes))
	for _, st := range stopTimes {
		var delay *models.RealtimeDelay
		if decorate {
			if d, ok := snap.Delay(st.Key()); ok {
				delay = &d
			}
		}
		out = append(out, realtime.ApplyStopTimeDelay(st, delay))
	}
	return out
}

// ServiceDate returns the calendar day of now in the first agency's timezone.
func ServiceDate(snap *cache.Snapshot, now time.Time) time.Time {
	loc := time.UTC
	if agencies := snap.Agencies(); len(agencies) > 0 && agencies[0].Timezone != "" {
		if l, err := time.LoadLocation(agencies[0].Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

func cloneGroups(groups []DirectionGroup) []DirectionGroup {
	out := make([]DirectionGroup, len(groups))
	for i, g := range groups {
		out[i] = DirectionGroup{DirectionID: g.DirectionID, Trips: slices.Clone(g.Trips)}
	}
	return out
}
