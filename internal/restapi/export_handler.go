package restapi

import (
	"fmt"
	"net/http"
	"strconv"
)

// exportHandler downloads the raw payloads behind the current generation.
func (api *RestAPI) exportHandler(w http.ResponseWriter, r *http.Request) {
	archive, err := api.Engine.ExportRawSnapshot(r.Context())
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}

	name := fmt.Sprintf("overlay-snapshot-%d.zip", api.Cache.Generation())
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	if _, err := w.Write(archive); err != nil {
		api.logError(r, err)
	}
}
