package gtfs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfsrt "github.com/OneBusAway/go-gtfs/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"overlay.onebusaway.org/internal/models"
)

type feedServer struct {
	*httptest.Server
	mux *http.ServeMux
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &feedServer{Server: server, mux: mux}
}

func (s *feedServer) feed(id string) RTFeedConfig {
	return RTFeedConfig{
		ID:                  id,
		TripUpdatesURL:      s.URL + "/" + id + "/trips.pb",
		VehiclePositionsURL: s.URL + "/" + id + "/vehicles.pb",
		ServiceAlertsURL:    s.URL + "/" + id + "/alerts.pb",
		Enabled:             true,
	}
}

func loadedEngine(t *testing.T, feeds ...RTFeedConfig) *Engine {
	t.Helper()
	engine := newTestEngine(t, feeds...)
	_, err := engine.LoadSchedule(context.Background())
	require.NoError(t, err)
	return engine
}

func TestFetchRealtimeAllCategories(t *testing.T) {
	srv := newFeedServer(t)
	srv.mux.Handle("/a/vehicles.pb", serveBytes(feedMessage(t,
		vehicleEntity("V1", "T1", "R10", gtfsrt.VehiclePosition_STOPPED_AT),
	)))
	srv.mux.Handle("/a/alerts.pb", serveBytes(feedMessage(t,
		alertEntity("A1", translated("fr", "Détour", "en", "Detour"), "R10"),
	)))
	srv.mux.Handle("/a/trips.pb", serveBytes(feedMessage(t,
		tripUpdateEntity("T1", stopTimeUpdate(1, int32Ptr(120), nil)),
	)))

	engine := loadedEngine(t, srv.feed("a"))
	result, err := engine.FetchRealtime(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Errors)
	assert.ElementsMatch(t, models.FeedCategories, result.Updated)
	for _, c := range models.FeedCategories {
		assert.True(t, result.Succeeded(c), c)
	}

	require.Len(t, result.Snapshot.Vehicles, 1)
	v := result.Snapshot.Vehicles[0]
	assert.Equal(t, "V1", v.VehicleID)
	assert.Equal(t, "Bus V1", v.Label)
	assert.Equal(t, models.VehicleStopped, v.Status)
	require.NotNil(t, v.TripID)
	assert.Equal(t, "T1", *v.TripID)
	assert.InDelta(t, 47.6, v.Latitude, 0.001)

	require.Len(t, result.Snapshot.Alerts, 1)
	assert.Equal(t, "Detour", result.Snapshot.Alerts[0].Header)
	assert.Equal(t, []string{"R10"}, result.Snapshot.Alerts[0].RouteIDs)

	delays := result.Snapshot.StopTimeDelays
	require.Len(t, delays, 3)
	for seq := 1; seq <= 3; seq++ {
		d := delays[models.StopTimeKey{TripID: "T1", StopSequence: seq}]
		require.NotNil(t, d.ArrivalDelay, seq)
		assert.Equal(t, int32(120), *d.ArrivalDelay)
		assert.Equal(t, int32(120), *d.DepartureDelay)
	}
}

func TestFetchRealtimeDelayPropagation(t *testing.T) {
	tests := []struct {
		name    string
		entity  *gtfsrt.FeedEntity
		want    map[models.StopTimeKey][2]*int32
		missing []models.StopTimeKey
	}{
		{
			name:   "departure only starts carrying at its stop",
			entity: tripUpdateEntity("T1", stopTimeUpdate(2, nil, int32Ptr(300))),
			want: map[models.StopTimeKey][2]*int32{
				{TripID: "T1", StopSequence: 2}: {nil, int32Ptr(300)},
				{TripID: "T1", StopSequence: 3}: {int32Ptr(300), int32Ptr(300)},
			},
			missing: []models.StopTimeKey{{TripID: "T1", StopSequence: 1}},
		},
		{
			name: "later update replaces the carried delay",
			entity: tripUpdateEntity("T1",
				stopTimeUpdate(1, int32Ptr(60), nil),
				stopTimeUpdate(3, int32Ptr(-30), nil)),
			want: map[models.StopTimeKey][2]*int32{
				{TripID: "T1", StopSequence: 1}: {int32Ptr(60), int32Ptr(60)},
				{TripID: "T1", StopSequence: 2}: {int32Ptr(60), int32Ptr(60)},
				{TripID: "T1", StopSequence: 3}: {int32Ptr(-30), int32Ptr(-30)},
			},
		},
		{
			name: "update by stop id is placed on the schedule",
			entity: &gtfsrt.FeedEntity{
				Id: proto.String("tu-T2"),
				TripUpdate: &gtfsrt.TripUpdate{
					Trip: &gtfsrt.TripDescriptor{TripId: proto.String("T2")},
					StopTimeUpdate: []*gtfsrt.TripUpdate_StopTimeUpdate{{
						StopId:  proto.String("S2"),
						Arrival: &gtfsrt.TripUpdate_StopTimeEvent{Delay: int32Ptr(90)},
					}},
				},
			},
			want: map[models.StopTimeKey][2]*int32{
				{TripID: "T2", StopSequence: 2}: {int32Ptr(90), int32Ptr(90)},
				{TripID: "T2", StopSequence: 3}: {int32Ptr(90), int32Ptr(90)},
			},
			missing: []models.StopTimeKey{{TripID: "T2", StopSequence: 1}},
		},
		{
			name:   "unknown trip keeps only stated updates",
			entity: tripUpdateEntity("TX", stopTimeUpdate(5, int32Ptr(30), nil)),
			want: map[models.StopTimeKey][2]*int32{
				{TripID: "TX", StopSequence: 5}: {int32Ptr(30), nil},
			},
			missing: []models.StopTimeKey{{TripID: "TX", StopSequence: 6}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFeedServer(t)
			srv.mux.Handle("/a/trips.pb", serveBytes(feedMessage(t, tt.entity)))
			feed := srv.feed("a")
			feed.VehiclePositionsURL, feed.ServiceAlertsURL = "", ""

			engine := loadedEngine(t, feed)
			result, err := engine.FetchRealtime(context.Background())
			require.NoError(t, err)
			require.Empty(t, result.Errors)

			delays := result.Snapshot.StopTimeDelays
			assert.Len(t, delays, len(tt.want))
			for key, want := range tt.want {
				got, ok := delays[key]
				require.True(t, ok, key)
				assert.Equal(t, want[0], got.ArrivalDelay, key)
				assert.Equal(t, want[1], got.DepartureDelay, key)
			}
			for _, key := range tt.missing {
				assert.NotContains(t, delays, key)
			}
		})
	}
}

func TestFetchRealtimeOnlyConfiguredCategories(t *testing.T) {
	srv := newFeedServer(t)
	srv.mux.Handle("/a/vehicles.pb", serveBytes(feedMessage(t,
		vehicleEntity("V1", "", "", gtfsrt.VehiclePosition_IN_TRANSIT_TO),
	)))
	feed := srv.feed("a")
	feed.TripUpdatesURL, feed.ServiceAlertsURL = "", ""

	engine := loadedEngine(t, feed)
	result, err := engine.FetchRealtime(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []models.FeedCategory{models.CategoryVehicles}, result.Updated)
	assert.Empty(t, result.Errors)
	assert.False(t, result.Succeeded(models.CategoryAlerts))
	require.Len(t, result.Snapshot.Vehicles, 1)
	assert.Nil(t, result.Snapshot.Vehicles[0].TripID)
	assert.Equal(t, models.VehicleInTransit, result.Snapshot.Vehicles[0].Status)
}

func TestFetchRealtimeDropsVehiclesWithoutPosition(t *testing.T) {
	srv := newFeedServer(t)
	noPosition := vehicleEntity("V2", "T1", "", gtfsrt.VehiclePosition_STOPPED_AT)
	noPosition.Vehicle.Position = nil
	srv.mux.Handle("/a/vehicles.pb", serveBytes(feedMessage(t,
		vehicleEntity("V1", "T1", "", gtfsrt.VehiclePosition_STOPPED_AT),
		noPosition,
	)))
	feed := srv.feed("a")
	feed.TripUpdatesURL, feed.ServiceAlertsURL = "", ""

	engine := loadedEngine(t, feed)
	result, err := engine.FetchRealtime(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Snapshot.Vehicles, 1)
	assert.Equal(t, "V1", result.Snapshot.Vehicles[0].VehicleID)
}

func TestFetchRealtimePartialFailure(t *testing.T) {
	srv := newFeedServer(t)
	srv.mux.Handle("/a/vehicles.pb", serveBytes(feedMessage(t,
		vehicleEntity("V1", "T1", "R10", gtfsrt.VehiclePosition_STOPPED_AT),
	)))
	srv.mux.HandleFunc("/a/alerts.pb", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv.mux.Handle("/a/trips.pb", serveBytes([]byte("garbage")))

	engine := loadedEngine(t, srv.feed("a"))
	result, err := engine.FetchRealtime(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []models.FeedCategory{models.CategoryVehicles}, result.Updated)
	require.Len(t, result.Errors, 2)

	alertsErr := result.Errors[models.CategoryAlerts]
	assert.ErrorIs(t, alertsErr, ErrSourceUnreachable)
	var feedErr *FeedError
	require.True(t, errors.As(alertsErr, &feedErr))
	assert.Equal(t, "a", feedErr.Feed)
	assert.Equal(t, models.CategoryAlerts, feedErr.Category)

	assert.ErrorIs(t, result.Errors[models.CategoryTripUpdates], ErrMalformedPayload)
	assert.Len(t, result.Snapshot.Vehicles, 1)
}

func TestFetchRealtimeMalformedAlerts(t *testing.T) {
	srv := newFeedServer(t)
	srv.mux.Handle("/a/alerts.pb", serveBytes([]byte("garbage")))
	feed := srv.feed("a")
	feed.TripUpdatesURL, feed.VehiclePositionsURL = "", ""

	engine := loadedEngine(t, feed)
	result, err := engine.FetchRealtime(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Updated)
	assert.ErrorIs(t, result.Errors[models.CategoryAlerts], ErrMalformedPayload)
}

func TestFetchRealtimeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := newFeedServer(t)
	srv.mux.HandleFunc("/a/vehicles.pb", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	feed := srv.feed("a")
	feed.TripUpdatesURL, feed.ServiceAlertsURL = "", ""

	engine := newTestEngine(t, feed)
	engine.realtimeClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := engine.LoadSchedule(context.Background())
	require.NoError(t, err)

	result, err := engine.FetchRealtime(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, result.Errors[models.CategoryVehicles], ErrTimeout)
}

func TestFetchRealtimeSendsFeedHeaders(t *testing.T) {
	srv := newFeedServer(t)
	body := feedMessage(t, vehicleEntity("V1", "", "", gtfsrt.VehiclePosition_STOPPED_AT))
	srv.mux.HandleFunc("/a/vehicles.pb", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write(body)
	})
	feed := srv.feed("a")
	feed.TripUpdatesURL, feed.ServiceAlertsURL = "", ""
	feed.Headers = map[string]string{"Authorization": "Bearer token"}

	engine := loadedEngine(t, feed)
	result, err := engine.FetchRealtime(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Succeeded(models.CategoryVehicles))
}

func TestPickTranslation(t *testing.T) {
	tests := []struct {
		name string
		in   *gtfsrt.TranslatedString
		want string
	}{
		{"nil", nil, ""},
		{"untagged wins", translated("en", "English", "", "Default"), "Default"},
		{"english over others", translated("fr", "Français", "en", "English"), "English"},
		{"first when no preferred language", translated("fr", "Français", "de", "Deutsch"), "Français"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickTranslation(tt.in))
		})
	}
}

func TestDecodeAlertsSkipsDeletedAndCollectsTripRoutes(t *testing.T) {
	deleted := alertEntity("gone", translated("", "Old"))
	deleted.IsDeleted = proto.Bool(true)

	viaTrip := alertEntity("A2", translated("", "Trip level"), "R2")
	viaTrip.Alert.InformedEntity = append(viaTrip.Alert.InformedEntity,
		&gtfsrt.EntitySelector{Trip: &gtfsrt.TripDescriptor{RouteId: proto.String("R10")}},
		&gtfsrt.EntitySelector{RouteId: proto.String("R2")})
	viaTrip.Alert.ActivePeriod = []*gtfsrt.TimeRange{{Start: proto.Uint64(100)}}

	alerts, err := decodeAlerts(feedMessage(t, deleted, viaTrip))
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "A2", alerts[0].ID)
	assert.Equal(t, []string{"R2", "R10"}, alerts[0].RouteIDs)
	require.Len(t, alerts[0].ActivePeriods, 1)
	assert.Equal(t, int64(100), *alerts[0].ActivePeriods[0].Start)
	assert.Nil(t, alerts[0].ActivePeriods[0].End)
}
