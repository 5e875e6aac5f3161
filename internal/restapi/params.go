package restapi

import (
	"errors"
	"net/http"
	"time"

	"overlay.onebusaway.org/internal/cache"
	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/selection"
)

// serviceDateParam reads the optional "date" query parameter (YYYYMMDD) in
// the agency time zone. Without it, today's service date is used.
func (api *RestAPI) serviceDateParam(r *http.Request, snap *cache.Snapshot) (time.Time, error) {
	today := selection.ServiceDate(snap, api.Clock.Now())
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return today, nil
	}
	date, err := time.ParseInLocation(models.ServiceDateLayout, raw, today.Location())
	if err != nil {
		return time.Time{}, errors.New("date must be formatted as YYYYMMDD")
	}
	return date, nil
}

// fresh reports whether category may decorate responses.
func (api *RestAPI) fresh(category models.FeedCategory) bool {
	if api.Scheduler == nil {
		return true
	}
	return api.Scheduler.Fresh(category)
}
