package restapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/selection"
)

// cacheTier says how long a successful response may be reused.
type cacheTier int

const (
	// noStore responses reflect mutable state outside the cache generation.
	noStore cacheTier = iota
	// scheduleTier responses depend only on the generation and the service date.
	scheduleTier
	// realtimeTier responses also depend on the clock, so they expire with
	// the refresh interval and carry no validator.
	realtimeTier
)

const (
	scheduleMaxAge       = 5 * time.Minute
	defaultRealtimeAge   = 10 * time.Second
	noStoreCacheControl  = "no-cache, no-store, must-revalidate"
	publicMaxAgeTemplate = "public, max-age=%d"
)

// cacheControl sets Cache-Control on successful responses for tier. Schedule
// responses are tagged with a weak ETag naming the cache generation and
// service date, and a matching If-None-Match is answered with 304.
func (api *RestAPI) cacheControl(tier cacheTier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := api.cacheControlValue(tier)
		var etag string
		if tier == scheduleTier {
			etag = api.scheduleETag()
		}
		if etag != "" && etagMatches(r.Header.Get("If-None-Match"), etag) {
			w.Header().Set("Cache-Control", header)
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		next.ServeHTTP(&cacheControlWriter{ResponseWriter: w, headerValue: header, etag: etag}, r)
	})
}

func (api *RestAPI) cacheControlValue(tier cacheTier) string {
	switch tier {
	case scheduleTier:
		return fmt.Sprintf(publicMaxAgeTemplate, int(scheduleMaxAge.Seconds()))
	case realtimeTier:
		age := defaultRealtimeAge
		if api.Scheduler != nil {
			age = api.Scheduler.Interval()
		}
		if age < time.Second {
			return noStoreCacheControl
		}
		return fmt.Sprintf(publicMaxAgeTemplate, int(age.Seconds()))
	default:
		return noStoreCacheControl
	}
}

// scheduleETag is empty until a schedule is loaded.
func (api *RestAPI) scheduleETag() string {
	snap := api.Cache.Snapshot()
	if snap.Empty() {
		return ""
	}
	today := selection.ServiceDate(snap, api.Clock.Now())
	return fmt.Sprintf(`W/"g%d-%s"`, snap.Generation(), today.Format(models.ServiceDateLayout))
}

// etagMatches applies the weak comparison of an If-None-Match list.
func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if strings.TrimPrefix(candidate, "W/") == want {
			return true
		}
	}
	return false
}

// cacheControlWriter decides the caching headers once the status is known.
// Errors are never cached.
type cacheControlWriter struct {
	http.ResponseWriter
	headerValue   string
	etag          string
	headerWritten bool
}

func (w *cacheControlWriter) WriteHeader(code int) {
	if !w.headerWritten {
		w.headerWritten = true
		h := w.ResponseWriter.Header()
		if code >= 200 && code < 300 {
			h.Set("Cache-Control", w.headerValue)
			if w.etag != "" {
				h.Set("ETag", w.etag)
			}
		} else {
			h.Set("Cache-Control", noStoreCacheControl)
			h.Del("ETag")
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *cacheControlWriter) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
