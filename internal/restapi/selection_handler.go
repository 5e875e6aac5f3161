package restapi

import (
	"net/http"

	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/selection"
)

// selectionEntry is the drill-down view for the current selection.
type selectionEntry struct {
	State            selection.State            `json:"state"`
	ServiceDate      string                     `json:"serviceDate"`
	Directions       []selection.DirectionGroup `json:"directions"`
	StopTimes        []stopTimeRow              `json:"stopTimes"`
	SelectedStopTime *stopTimeRow               `json:"selectedStopTime,omitempty"`
}

type selectRouteRequest struct {
	RouteID string `json:"routeId" validate:"required"`
}

type selectTripRequest struct {
	TripID string `json:"tripId" validate:"required"`
}

type selectStopTimeRequest struct {
	StopSequence *int `json:"stopSequence" validate:"required,gte=0"`
}

func (api *RestAPI) selectionView() selectionEntry {
	sel := api.Selection
	date := sel.ServiceDate()
	snap := api.Cache.Snapshot()
	state := sel.State()

	entry := selectionEntry{
		State:       state,
		ServiceDate: date.Format(models.ServiceDateLayout),
		Directions:  sel.TripGroupsOn(state.RouteID, date),
		StopTimes:   stopTimeRows(snap, sel.StopTimesOf(state.TripID)),
	}
	if state.StopSequence != nil {
		for i := range entry.StopTimes {
			if entry.StopTimes[i].StopSequence == *state.StopSequence {
				row := entry.StopTimes[i]
				entry.SelectedStopTime = &row
				break
			}
		}
	}
	return entry
}

func (api *RestAPI) sendSelection(w http.ResponseWriter, r *http.Request) {
	api.sendResponse(w, r, models.NewEntryResponse(api.selectionView(), api.Clock))
}

func (api *RestAPI) selectionHandler(w http.ResponseWriter, r *http.Request) {
	api.sendSelection(w, r)
}

func (api *RestAPI) resetSelectionHandler(w http.ResponseWriter, r *http.Request) {
	api.Selection.Reset()
	api.sendSelection(w, r)
}

func (api *RestAPI) selectRouteHandler(w http.ResponseWriter, r *http.Request) {
	var req selectRouteRequest
	if !api.readRequest(w, r, &req) {
		return
	}
	api.Selection.SelectRoute(req.RouteID)
	api.sendSelection(w, r)
}

func (api *RestAPI) selectTripHandler(w http.ResponseWriter, r *http.Request) {
	var req selectTripRequest
	if !api.readRequest(w, r, &req) {
		return
	}
	if !api.Selection.SelectTrip(req.TripID) {
		if api.Selection.State().RouteID == "" {
			api.sendError(w, r, http.StatusConflict, "select a route before selecting a trip")
			return
		}
		api.sendError(w, r, http.StatusConflict, "trip is not on the selected route")
		return
	}
	api.sendSelection(w, r)
}

func (api *RestAPI) selectStopTimeHandler(w http.ResponseWriter, r *http.Request) {
	var req selectStopTimeRequest
	if !api.readRequest(w, r, &req) {
		return
	}
	if !api.Selection.SelectStopTime(*req.StopSequence) {
		api.sendError(w, r, http.StatusConflict, "select a trip before selecting a stop-time")
		return
	}
	api.sendSelection(w, r)
}

// readRequest decodes and validates a JSON body, writing the error response
// itself when it reports false.
func (api *RestAPI) readRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	fieldErrors, err := api.decodeJSONBody(w, r, dst)
	if err != nil {
		api.badRequestResponse(w, r, err.Error())
		return false
	}
	if fieldErrors != nil {
		api.validationErrorResponse(w, r, fieldErrors)
		return false
	}
	return true
}
