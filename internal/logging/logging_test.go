package logging

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCloser struct{}

func (failingCloser) Close() error { return errors.New("boom") }

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func TestFromContext_DefaultsToSlogDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
}

func TestWithLogger_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestLogError_IncludesErrorAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	LogError(logger, "feed failed", errors.New("timeout"), slog.String("category", "alerts"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "ERROR", lines[0]["level"])
	assert.Equal(t, "feed failed", lines[0]["msg"])
	assert.Equal(t, "timeout", lines[0]["error"])
	assert.Equal(t, "alerts", lines[0]["category"])
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	LogOperation(logger, "cache_generation_swapped", slog.Uint64("generation", 3))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "cache_generation_swapped", lines[0]["operation"])
	assert.Equal(t, float64(3), lines[0]["generation"])
}

func TestLogHTTPRequest_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "INFO"},
		{404, "WARN"},
		{503, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := NewStructuredLogger(&buf, slog.LevelDebug)
		LogHTTPRequest(logger, "GET", "/api/routes", tt.status, 1.5)

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 1)
		assert.Equal(t, tt.level, lines[0]["level"], "status %d", tt.status)
	}
}

func TestSafeCloseWithLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	SafeCloseWithLogging(failingCloser{}, logger, "http_response_body")
	SafeCloseWithLogging(nil, logger, "nothing")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "http_response_body", lines[0]["resource"])
}

func TestSafeRollbackWithLogging(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// Rolling back a committed transaction is expected after a deferred call.
	SafeRollbackWithLogging(tx, logger, "committed")
	SafeRollbackWithLogging(nil, logger, "nil")
	assert.Empty(t, buf.String())
}
