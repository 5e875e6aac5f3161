package restapi

import (
	"context"
	"net/http"
	"time"

	"overlay.onebusaway.org/internal/logging"
	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/refresh"
)

type autoRefreshRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type refreshIntervalRequest struct {
	Seconds int `json:"seconds" validate:"required,min=1,max=86400"`
}

func (api *RestAPI) refreshStatusHandler(w http.ResponseWriter, r *http.Request) {
	api.sendResponse(w, r, models.NewEntryResponse(api.Scheduler.Status(), api.Clock))
}

// startRefreshHandler starts a cycle in the background. The cycle outlives
// the request, so it runs on a context detached from it.
func (api *RestAPI) startRefreshHandler(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	if !api.Scheduler.Start(ctx) {
		api.sendError(w, r, http.StatusConflict, refresh.ErrRefreshInProgress.Error())
		return
	}
	logging.LogOperation(logging.FromContext(r.Context()), "manual_refresh_started")
	api.sendAccepted(w, r, models.NewEntryResponse(api.Scheduler.Status(), api.Clock))
}

func (api *RestAPI) autoRefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req autoRefreshRequest
	if !api.readRequest(w, r, &req) {
		return
	}
	if *req.Enabled {
		api.Scheduler.EnableAutoRefresh()
	} else {
		api.Scheduler.DisableAutoRefresh()
	}
	api.sendResponse(w, r, models.NewEntryResponse(api.Scheduler.Status(), api.Clock))
}

func (api *RestAPI) refreshIntervalHandler(w http.ResponseWriter, r *http.Request) {
	var req refreshIntervalRequest
	if !api.readRequest(w, r, &req) {
		return
	}
	if err := api.Scheduler.SetInterval(time.Duration(req.Seconds) * time.Second); err != nil {
		api.badRequestResponse(w, r, err.Error())
		return
	}
	api.sendResponse(w, r, models.NewEntryResponse(api.Scheduler.Status(), api.Clock))
}
