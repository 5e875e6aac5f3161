package restapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"overlay.onebusaway.org/internal/metrics"
)

// MetricsHandler records request counts and latency per route. Conditional
// GETs are also counted by outcome, which shows how often clients hold the
// current cache generation. A nil m disables recording.
func MetricsHandler(m *metrics.Metrics) func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(recorder, r)

			route := routeLabel(r)
			status := recorder.status()
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())

			if r.Method == http.MethodGet && r.Header.Get("If-None-Match") != "" {
				outcome := metrics.RevalidationChanged
				if status == http.StatusNotModified {
					outcome = metrics.RevalidationNotModified
				}
				m.HTTPRevalidations.WithLabelValues(route, outcome).Inc()
			}
		})
	}
}

// routeLabel is the matched mux pattern without its method, so label values
// are bounded by the route table rather than by ids in the URL.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}

// statusRecorder remembers the first status written.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}
