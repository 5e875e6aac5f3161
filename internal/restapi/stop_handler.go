package restapi

import (
	"net/http"

	"overlay.onebusaway.org/internal/models"
)

func (api *RestAPI) stopsHandler(w http.ResponseWriter, r *http.Request) {
	api.sendResponse(w, r, models.NewListResponse(api.Cache.Snapshot().Stops(), api.Clock))
}

func (api *RestAPI) stopHandler(w http.ResponseWriter, r *http.Request) {
	stop, ok := api.Cache.Stop(r.PathValue("id"))
	if !ok {
		api.sendNotFound(w, r)
		return
	}
	api.sendResponse(w, r, models.NewEntryResponse(stop, api.Clock))
}
