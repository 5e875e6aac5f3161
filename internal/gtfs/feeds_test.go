package gtfs

import (
	"net/http"
	"path/filepath"
	"testing"

	gtfsrt "github.com/OneBusAway/go-gtfs/proto"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"overlay.onebusaway.org/internal/appconf"
)

var testSchedulePath = filepath.Join("..", "..", "testdata", "transit.zip")

// newTestEngine returns an engine over an in-memory database and the
// testdata schedule, with retries disabled.
func newTestEngine(t *testing.T, feeds ...RTFeedConfig) *Engine {
	t.Helper()
	engine, err := NewEngine(Config{
		GtfsURL:      testSchedulePath,
		GTFSDataPath: ":memory:",
		Env:          appconf.Test,
		RTFeeds:      feeds,
	}, WithStaticRetry(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func feedMessage(t *testing.T, entities ...*gtfsrt.FeedEntity) []byte {
	t.Helper()
	incrementality := gtfsrt.FeedHeader_FULL_DATASET
	data, err := proto.Marshal(&gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      &incrementality,
			Timestamp:           proto.Uint64(1_790_000_000),
		},
		Entity: entities,
	})
	require.NoError(t, err)
	return data
}

func stopTimeUpdate(seq uint32, arrivalDelay, departureDelay *int32) *gtfsrt.TripUpdate_StopTimeUpdate {
	stu := &gtfsrt.TripUpdate_StopTimeUpdate{StopSequence: proto.Uint32(seq)}
	if arrivalDelay != nil {
		stu.Arrival = &gtfsrt.TripUpdate_StopTimeEvent{Delay: arrivalDelay}
	}
	if departureDelay != nil {
		stu.Departure = &gtfsrt.TripUpdate_StopTimeEvent{Delay: departureDelay}
	}
	return stu
}

func tripUpdateEntity(tripID string, updates ...*gtfsrt.TripUpdate_StopTimeUpdate) *gtfsrt.FeedEntity {
	return &gtfsrt.FeedEntity{
		Id: proto.String("tu-" + tripID),
		TripUpdate: &gtfsrt.TripUpdate{
			Trip:           &gtfsrt.TripDescriptor{TripId: proto.String(tripID)},
			StopTimeUpdate: updates,
		},
	}
}

func vehicleEntity(vehicleID, tripID, routeID string, status gtfsrt.VehiclePosition_VehicleStopStatus) *gtfsrt.FeedEntity {
	vp := &gtfsrt.VehiclePosition{
		Vehicle:       &gtfsrt.VehicleDescriptor{Id: proto.String(vehicleID), Label: proto.String("Bus " + vehicleID)},
		Position:      &gtfsrt.Position{Latitude: proto.Float32(47.6), Longitude: proto.Float32(-122.3)},
		CurrentStatus: &status,
		Timestamp:     proto.Uint64(1_790_000_000),
	}
	if tripID != "" || routeID != "" {
		vp.Trip = &gtfsrt.TripDescriptor{}
		if tripID != "" {
			vp.Trip.TripId = proto.String(tripID)
		}
		if routeID != "" {
			vp.Trip.RouteId = proto.String(routeID)
		}
	}
	return &gtfsrt.FeedEntity{Id: proto.String("vp-" + vehicleID), Vehicle: vp}
}

func translated(pairs ...string) *gtfsrt.TranslatedString {
	ts := &gtfsrt.TranslatedString{}
	for i := 0; i+1 < len(pairs); i += 2 {
		tr := &gtfsrt.TranslatedString_Translation{Text: proto.String(pairs[i+1])}
		if pairs[i] != "" {
			tr.Language = proto.String(pairs[i])
		}
		ts.Translation = append(ts.Translation, tr)
	}
	return ts
}

func alertEntity(id string, header *gtfsrt.TranslatedString, routeIDs ...string) *gtfsrt.FeedEntity {
	alert := &gtfsrt.Alert{HeaderText: header}
	for _, routeID := range routeIDs {
		alert.InformedEntity = append(alert.InformedEntity, &gtfsrt.EntitySelector{RouteId: proto.String(routeID)})
	}
	return &gtfsrt.FeedEntity{Id: proto.String(id), Alert: alert}
}

func serveBytes(body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write(body)
	}
}

func int32Ptr(v int32) *int32 { return &v }
