package restapi

import (
	"net/http"

	"overlay.onebusaway.org/internal/models"
)

func (api *RestAPI) agenciesHandler(w http.ResponseWriter, r *http.Request) {
	response := models.NewListResponse(api.Cache.Agencies(), api.Clock)
	api.sendResponse(w, r, response)
}
