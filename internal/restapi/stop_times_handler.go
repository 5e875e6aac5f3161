package restapi

import (
	"net/http"

	"overlay.onebusaway.org/internal/cache"
	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/realtime"
	"overlay.onebusaway.org/internal/selection"
)

// stopTimeRow is one row of a trip timetable. StopName falls back to
// realtime.UnknownLabel when the stop is not in the schedule.
type stopTimeRow struct {
	realtime.AnnotatedStopTime
	StopName string `json:"stopName"`
	Deviated bool   `json:"deviated"`
}

func stopTimeRows(snap *cache.Snapshot, annotated []realtime.AnnotatedStopTime) []stopTimeRow {
	rows := make([]stopTimeRow, 0, len(annotated))
	for _, a := range annotated {
		row := stopTimeRow{AnnotatedStopTime: a, StopName: realtime.UnknownLabel, Deviated: a.Deviated()}
		if stop, ok := snap.Stop(a.StopID); ok {
			row.StopName = stop.Name
		}
		rows = append(rows, row)
	}
	return rows
}

func (api *RestAPI) stopTimesForTripHandler(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("id")
	snap := api.Cache.Snapshot()
	if _, ok := snap.Trip(tripID); !ok {
		api.sendNotFound(w, r)
		return
	}

	annotated := selection.StopTimesFor(snap, tripID, api.fresh(models.CategoryTripUpdates))
	api.sendResponse(w, r, models.NewListResponse(stopTimeRows(snap, annotated), api.Clock))
}
