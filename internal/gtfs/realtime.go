package gtfs

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/OneBusAway/go-gtfs"
	"overlay.onebusaway.org/internal/logging"
	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/realtime"
)

const maxRealtimeBodySize = 25 * 1024 * 1024

// realtimeHTTPClient is a dedicated HTTP client for GTFS-RT feed fetching,
// configured with explicit timeouts and transport limits.
// The transport is cloned from http.DefaultTransport to preserve important
// defaults (ProxyFromEnvironment, DialContext, HTTP/2, keepalives).
var realtimeHTTPClient = newRealtimeHTTPClient()

func newRealtimeHTTPClient() *http.Client {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConns = 50
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ExpectContinueTimeout = 1 * time.Second

	return &http.Client{
		// Absolute bound per request; the refresh cycle also sets a context deadline.
		Timeout:   10 * time.Second,
		Transport: transport,
	}
}

// RealtimeResult is the outcome of one FetchRealtime call. Categories listed
// in Updated were fetched, decoded and stored; categories in Errors failed
// and must keep their previous data. A category no enabled feed provides
// appears in neither.
type RealtimeResult struct {
	Snapshot  models.RealtimeSnapshot
	Updated   []models.FeedCategory
	Errors    map[models.FeedCategory]error
	FetchedAt time.Time
}

func (r *RealtimeResult) Succeeded(category models.FeedCategory) bool {
	return slices.Contains(r.Updated, category)
}

type categoryFetch struct {
	feed     RTFeedConfig
	category models.FeedCategory
	body     []byte
	err      error
}

// FetchRealtime fetches every category of every enabled feed in parallel.
// A category whose fetch or decode fails for any feed is reported in
// Errors without affecting the others. The returned error is non-nil only
// when the store itself fails.
func (e *Engine) FetchRealtime(ctx context.Context) (*RealtimeResult, error) {
	logger := logging.FromContext(ctx).With(slog.String("subcomponent", "gtfs_realtime"))

	result := &RealtimeResult{
		Errors:    make(map[models.FeedCategory]error),
		FetchedAt: e.clock.Now(),
	}

	var fetches []*categoryFetch
	for _, feed := range e.config.enabledFeeds() {
		for _, category := range models.FeedCategories {
			if feed.URLFor(category) != "" {
				fetches = append(fetches, &categoryFetch{feed: feed, category: category})
			}
		}
	}

	var wg sync.WaitGroup
	for _, f := range fetches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.body, f.err = e.loadRealtimeData(ctx, f.feed.URLFor(f.category), f.feed.Headers)
			if f.err != nil {
				logging.LogError(logger, "Error loading GTFS-RT data", f.err,
					slog.String("feed", f.feed.ID),
					slog.String("category", string(f.category)))
			}
		}()
	}
	wg.Wait()

	for _, category := range models.FeedCategories {
		var group []*categoryFetch
		for _, f := range fetches {
			if f.category == category {
				group = append(group, f)
			}
		}
		if len(group) == 0 {
			continue
		}

		if err := e.applyCategory(ctx, category, group, result); err != nil {
			var feedErr *FeedError
			if errors.As(err, &feedErr) {
				result.Errors[category] = err
				continue
			}
			return nil, err
		}
		for _, f := range group {
			e.recordFeedPayload(f.feed.ID, category, f.body, result.FetchedAt)
		}
		result.Updated = append(result.Updated, category)
	}

	logging.LogOperation(logger, "gtfs_realtime_fetched",
		slog.Int("updated", len(result.Updated)),
		slog.Int("failed", len(result.Errors)))
	return result, nil
}

// applyCategory decodes every payload of one category, replaces the stored
// snapshot and reads it back into result. Fetch and decode failures come back
// as *FeedError; anything else is a store failure.
func (e *Engine) applyCategory(ctx context.Context, category models.FeedCategory, group []*categoryFetch, result *RealtimeResult) error {
	for _, f := range group {
		if f.err != nil {
			return &FeedError{Category: category, Feed: f.feed.ID, Err: f.err}
		}
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	switch category {
	case models.CategoryAlerts:
		var alerts []models.Alert
		for _, f := range group {
			decoded, err := decodeAlerts(f.body)
			if err != nil {
				return &FeedError{Category: category, Feed: f.feed.ID, Err: err}
			}
			alerts = append(alerts, decoded...)
		}
		if err := e.db.ReplaceAlerts(ctx, alerts); err != nil {
			return err
		}
		stored, err := e.db.Queries.ListAlerts(ctx)
		if err != nil {
			return err
		}
		result.Snapshot.Alerts = stored

	case models.CategoryVehicles:
		var vehicles []models.VehiclePosition
		for _, f := range group {
			decoded, err := decodeVehicles(f.body)
			if err != nil {
				return &FeedError{Category: category, Feed: f.feed.ID, Err: err}
			}
			vehicles = append(vehicles, decoded...)
		}
		if err := e.db.ReplaceVehicles(ctx, vehicles); err != nil {
			return err
		}
		stored, err := e.db.Queries.ListVehicles(ctx)
		if err != nil {
			return err
		}
		result.Snapshot.Vehicles = stored

	case models.CategoryTripUpdates:
		delays := make(map[models.StopTimeKey]models.RealtimeDelay)
		for _, f := range group {
			decoded, err := e.decodeTripUpdates(ctx, f.body)
			if err != nil {
				return &FeedError{Category: category, Feed: f.feed.ID, Err: err}
			}
			for k, v := range decoded {
				delays[k] = v
			}
		}
		if err := e.db.ReplaceStopTimeDelays(ctx, delays); err != nil {
			return err
		}
		stored, err := e.db.Queries.ListStopTimeDelays(ctx)
		if err != nil {
			return err
		}
		result.Snapshot.StopTimeDelays = stored
	}
	return nil
}

func (e *Engine) loadRealtimeData(ctx context.Context, source string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
	}
	for key, value := range headers {
		req.Header.Add(key, value)
	}

	resp, err := e.realtimeClient.Do(req)
	if err != nil {
		return nil, classifyFetchError(fmt.Errorf("failed to execute GTFS-RT request: %w", err))
	}
	defer logging.SafeCloseWithLogging(resp.Body,
		slog.Default().With(slog.String("component", "gtfs_realtime_downloader")),
		"http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrSourceUnreachable, source, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRealtimeBodySize+1))
	if err != nil {
		return nil, classifyFetchError(fmt.Errorf("failed to read response body: %w", err))
	}
	if int64(len(body)) > maxRealtimeBodySize {
		return nil, fmt.Errorf("%w: GTFS-RT response exceeds size limit of %d bytes", ErrMalformedPayload, maxRealtimeBodySize)
	}
	return body, nil
}

func parseRealtime(body []byte) (*gtfs.Realtime, error) {
	data, err := gtfs.ParseRealtime(body, &gtfs.ParseRealtimeOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return data, nil
}

// decodeVehicles converts vehicle positions. Vehicles without an id or a
// position cannot be shown and are dropped.
func decodeVehicles(body []byte) ([]models.VehiclePosition, error) {
	data, err := parseRealtime(body)
	if err != nil {
		return nil, err
	}

	vehicles := make([]models.VehiclePosition, 0, len(data.Vehicles))
	for _, v := range data.Vehicles {
		if v.ID == nil || v.ID.ID == "" {
			continue
		}
		if v.Position == nil || v.Position.Latitude == nil || v.Position.Longitude == nil {
			continue
		}

		vp := models.VehiclePosition{
			VehicleID: v.ID.ID,
			Label:     v.ID.Label,
			Latitude:  float64(*v.Position.Latitude),
			Longitude: float64(*v.Position.Longitude),
			Status:    realtime.DeriveStatus(nil),
		}
		if v.Trip != nil {
			if v.Trip.ID.ID != "" {
				tripID := v.Trip.ID.ID
				vp.TripID = &tripID
			}
			if v.Trip.ID.RouteID != "" {
				routeID := v.Trip.ID.RouteID
				vp.RouteID = &routeID
			}
		}
		if v.CurrentStatus != nil {
			raw := int32(*v.CurrentStatus)
			vp.Status = realtime.DeriveStatus(&raw)
		}
		if v.StopID != nil && *v.StopID != "" {
			stopID := *v.StopID
			vp.CurrentStopID = &stopID
		}
		if v.Timestamp != nil {
			ts := v.Timestamp.UTC()
			vp.Timestamp = &ts
		}
		vehicles = append(vehicles, vp)
	}
	return vehicles, nil
}

// decodeTripUpdates converts trip updates into per-stop-time delays. A delay
// carries forward to later stop-times of the same trip until the next
// update, and an update given only by stop id is placed by matching the
// scheduled stop-times.
func (e *Engine) decodeTripUpdates(ctx context.Context, body []byte) (map[models.StopTimeKey]models.RealtimeDelay, error) {
	data, err := parseRealtime(body)
	if err != nil {
		return nil, err
	}

	delays := make(map[models.StopTimeKey]models.RealtimeDelay)
	for _, trip := range data.Trips {
		if trip.ID.ID == "" || len(trip.StopTimeUpdates) == 0 {
			continue
		}
		scheduled, err := e.db.Queries.GetStopTimesForTrip(ctx, trip.ID.ID)
		if err != nil {
			return nil, fmt.Errorf("reading stop times for trip %s: %w", trip.ID.ID, err)
		}
		for key, delay := range tripDelays(trip, scheduled) {
			delays[key] = delay
		}
	}
	return delays, nil
}

type stopUpdate struct {
	sequence  int
	arrival   *int32
	departure *int32
}

func delaySeconds(ev *gtfs.StopTimeEvent) *int32 {
	if ev == nil || ev.Delay == nil {
		return nil
	}
	s := int32(*ev.Delay / time.Second)
	return &s
}

func tripDelays(trip gtfs.Trip, scheduled []models.StopTime) map[models.StopTimeKey]models.RealtimeDelay {
	out := make(map[models.StopTimeKey]models.RealtimeDelay)

	var updates []stopUpdate
	searchFrom := 0
	for _, stu := range trip.StopTimeUpdates {
		u := stopUpdate{sequence: -1, arrival: delaySeconds(stu.Arrival), departure: delaySeconds(stu.Departure)}
		switch {
		case stu.StopSequence != nil:
			u.sequence = int(*stu.StopSequence)
		case stu.StopID != nil:
			for i := searchFrom; i < len(scheduled); i++ {
				if scheduled[i].StopID == *stu.StopID {
					u.sequence = scheduled[i].StopSequence
					searchFrom = i + 1
					break
				}
			}
		}
		if u.sequence < 0 {
			continue
		}
		updates = append(updates, u)
	}
	slices.SortStableFunc(updates, func(a, b stopUpdate) int { return cmp.Compare(a.sequence, b.sequence) })

	if len(scheduled) == 0 {
		// Unknown trip: keep what the feed stated.
		for _, u := range updates {
			if u.arrival == nil && u.departure == nil {
				continue
			}
			out[models.StopTimeKey{TripID: trip.ID.ID, StopSequence: u.sequence}] = models.RealtimeDelay{
				ArrivalDelay: u.arrival, DepartureDelay: u.departure,
			}
		}
		return out
	}

	var carried *int32
	next := 0
	for _, st := range scheduled {
		for next < len(updates) && updates[next].sequence < st.StopSequence {
			next++
		}
		delay := models.RealtimeDelay{}
		if next < len(updates) && updates[next].sequence == st.StopSequence {
			u := updates[next]
			delay.ArrivalDelay = cmp.Or(u.arrival, carried)
			delay.DepartureDelay = cmp.Or(u.departure, delay.ArrivalDelay)
			carried = delay.DepartureDelay
		} else if carried != nil {
			delay.ArrivalDelay, delay.DepartureDelay = carried, carried
		}
		if delay.ArrivalDelay == nil && delay.DepartureDelay == nil {
			continue
		}
		out[st.Key()] = delay
	}
	return out
}
