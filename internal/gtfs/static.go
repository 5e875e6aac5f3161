package gtfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"overlay.onebusaway.org/gtfsdb"
	"overlay.onebusaway.org/internal/cache"
	"overlay.onebusaway.org/internal/logging"
	"overlay.onebusaway.org/internal/models"
)

const (
	maxStaticSize      = 200 * 1024 * 1024
	defaultStaticRetry = 2 * time.Minute
)

var staticHTTPClient = &http.Client{
	Timeout: 5 * time.Minute,
	Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	},
}

// LoadSchedule reads the schedule archive, imports it and returns the full
// static schedule. On failure the database keeps the previous import.
func (e *Engine) LoadSchedule(ctx context.Context) (*models.ScheduleSnapshot, error) {
	logger := logging.FromContext(ctx).With(slog.String("subcomponent", "gtfs_loader"))

	b, err := e.rawGtfsData(ctx)
	if err != nil {
		logging.LogError(logger, "Error reading GTFS data", err,
			slog.String("source", e.config.GtfsURL))
		return nil, err
	}

	e.writeMu.Lock()
	result, err := e.db.ImportFromBytes(ctx, b, e.config.GtfsURL)
	e.writeMu.Unlock()
	if err != nil {
		var dupErr *gtfsdb.DuplicateKeyError
		switch {
		case errors.As(err, &dupErr):
			err = fmt.Errorf("importing schedule: %w", &cache.InvariantError{Kind: dupErr.Kind, ID: dupErr.ID})
		case errors.Is(err, gtfsdb.ErrInvalidFeed):
			err = fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		logging.LogError(logger, "Error importing GTFS data", err,
			slog.String("source", e.config.GtfsURL))
		return nil, err
	}

	snap, err := e.db.Queries.LoadSchedule(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading GTFS data back: %w", err)
	}

	e.rawMu.Lock()
	e.rawSchedule = b
	e.rawScheduleAt = e.clock.Now()
	e.rawScheduleSum = result.Hash
	e.rawMu.Unlock()
	e.MarkHealthy()

	logging.LogOperation(logger, "gtfs_static_data_loaded",
		slog.String("source", e.config.GtfsURL),
		slog.Bool("import_skipped", result.Skipped),
		slog.Int("routes", len(snap.Routes)),
		slog.Int("trips", len(snap.Trips)),
		slog.Int("stop_times", len(snap.StopTimes)))
	return snap, nil
}

func (e *Engine) rawGtfsData(ctx context.Context) ([]byte, error) {
	if e.config.IsLocalFile() {
		b, err := os.ReadFile(e.config.GtfsURL)
		if err != nil {
			return nil, fmt.Errorf("%w: error reading local GTFS file: %v", ErrSourceUnreachable, err)
		}
		return b, nil
	}

	logger := logging.FromContext(ctx).With(slog.String("subcomponent", "gtfs_downloader"))

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if e.staticRetry > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = e.staticRetryInitial
		exp.MaxElapsedTime = e.staticRetry
		policy = exp
	}

	b, err := backoff.RetryNotifyWithData(
		func() ([]byte, error) {
			return e.downloadStatic(ctx)
		},
		backoff.WithContext(policy, ctx),
		func(err error, d time.Duration) {
			logging.LogError(logger, "GTFS download failed, retrying", err,
				slog.Duration("backoff", d))
		},
	)
	if err != nil {
		return nil, classifyFetchError(err)
	}
	return b, nil
}

// downloadStatic performs one download attempt. Errors that a retry cannot
// fix are marked permanent.
func (e *Engine) downloadStatic(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.GtfsURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: error creating GTFS request: %v", ErrSourceUnreachable, err))
	}
	if e.config.StaticAuthHeaderKey != "" && e.config.StaticAuthHeaderValue != "" {
		req.Header.Set(e.config.StaticAuthHeaderKey, e.config.StaticAuthHeaderValue)
	}

	resp, err := e.staticClient.Do(req)
	if err != nil {
		err = classifyFetchError(fmt.Errorf("error downloading GTFS data: %w", err))
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer logging.SafeCloseWithLogging(resp.Body,
		slog.Default().With(slog.String("component", "gtfs_downloader")),
		"http_response_body")

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: failed to download GTFS data: received HTTP status %s", ErrSourceUnreachable, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxStaticSize+1))
	if err != nil {
		return nil, classifyFetchError(fmt.Errorf("error reading GTFS data: %w", err))
	}
	if int64(len(b)) > maxStaticSize {
		return nil, backoff.Permanent(fmt.Errorf("%w: static GTFS response exceeds size limit of %d bytes", ErrInvalidFormat, maxStaticSize))
	}
	return b, nil
}
