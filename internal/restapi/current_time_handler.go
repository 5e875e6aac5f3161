package restapi

import (
	"net/http"
	"time"

	"overlay.onebusaway.org/internal/models"
)

type currentTimeEntry struct {
	Time         int64  `json:"time"`
	ReadableTime string `json:"readableTime"`
	ServiceDate  string `json:"serviceDate"`
}

// currentTimeHandler reports the service clock and today's service date,
// which is what screens page their timetables by.
func (api *RestAPI) currentTimeHandler(w http.ResponseWriter, r *http.Request) {
	now := api.Clock.Now()
	entry := currentTimeEntry{
		Time:         now.UnixMilli(),
		ReadableTime: now.Format(time.RFC3339),
		ServiceDate:  api.Selection.ServiceDate().Format(models.ServiceDateLayout),
	}
	api.sendResponse(w, r, models.NewEntryResponse(entry, api.Clock))
}
