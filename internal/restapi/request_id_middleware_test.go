package restapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"overlay.onebusaway.org/internal/logging"
)

const uuidPattern = `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`

func serveWithRequestID(t *testing.T, incoming string) (seen string, echoed string) {
	t.Helper()
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/routes", nil)
	if incoming != "" {
		req.Header.Set(RequestIDHeader, incoming)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return seen, rec.Header().Get(RequestIDHeader)
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"missing", "", false},
		{"caller trace id", "dashboard:7f3a.2_b", true},
		{"longest accepted", strings.Repeat("a", maxRequestIDLength), true},
		{"too long", strings.Repeat("a", maxRequestIDLength+1), false},
		{"markup", "bad-id-<script>", false},
		{"whitespace", "trip T1", false},
		{"non-ascii", "ruta-Ñ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen, echoed := serveWithRequestID(t, tt.incoming)
			assert.Equal(t, seen, echoed, "response header repeats the context id")
			if tt.keep {
				assert.Equal(t, tt.incoming, seen)
			} else {
				assert.Regexp(t, uuidPattern, seen)
			}
		})
	}
}

func TestRequestIDFromContextWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, RequestIDFromContext(req.Context()))
}

func TestRequestIDBoundToHandlerLogger(t *testing.T) {
	var logBuf bytes.Buffer
	logger := logging.NewStructuredLogger(&logBuf, slog.LevelInfo)

	handler := RequestIDMiddleware(NewRequestLoggingMiddleware(logger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logging.FromContext(r.Context()).Info("selection changed")
			w.WriteHeader(http.StatusNoContent)
		})))

	req := httptest.NewRequest(http.MethodPost, "/api/selection/route", nil)
	req.Header.Set(RequestIDHeader, "integration-test-id-999")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	lines := strings.Split(strings.TrimSpace(logBuf.String()), "\n")
	require.Len(t, lines, 2, "handler line then access line")
	for _, line := range lines {
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		assert.Equal(t, "integration-test-id-999", record["request_id"], line)
	}
}
