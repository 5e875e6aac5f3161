// Package gtfs is the query engine behind the cache: it loads the static
// schedule and fetches realtime feeds, storing both in a gtfsdb database and
// handing decoded snapshots to the refresh scheduler.
package gtfs

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"overlay.onebusaway.org/gtfsdb"
	"overlay.onebusaway.org/internal/clock"
	"overlay.onebusaway.org/internal/logging"
	"overlay.onebusaway.org/internal/models"
)

// Engine owns the schedule database and the last raw payload of every source.
// All methods are safe for concurrent use.
type Engine struct {
	config Config
	db     *gtfsdb.Client
	clock  clock.Clock
	logger *slog.Logger

	realtimeClient     *http.Client
	staticClient       *http.Client
	staticRetry        time.Duration
	staticRetryInitial time.Duration

	// writeMu serializes writes to db.
	writeMu sync.Mutex

	rawMu          sync.Mutex
	rawSchedule    []byte
	rawScheduleAt  time.Time
	rawScheduleSum string
	rawFeeds       map[feedKey]rawPayload

	isHealthy atomic.Bool
}

type feedKey struct {
	Feed     string
	Category models.FeedCategory
}

type rawPayload struct {
	body      []byte
	fetchedAt time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock sets the clock used to stamp fetches.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithHTTPClient replaces the client used for both schedule and feed requests.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		e.realtimeClient = client
		e.staticClient = client
	}
}

// WithStaticRetry bounds how long a schedule download is retried. Zero disables retries.
func WithStaticRetry(maxElapsed time.Duration) Option {
	return func(e *Engine) { e.staticRetry = maxElapsed }
}

// NewEngine opens the database at config.GTFSDataPath. No data is loaded
// until LoadSchedule is called.
func NewEngine(config Config, opts ...Option) (*Engine, error) {
	dbPath := config.GTFSDataPath
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := gtfsdb.NewClient(gtfsdb.NewConfig(dbPath, config.Env, config.Verbose))
	if err != nil {
		return nil, fmt.Errorf("failed to create GTFS database client: %w", err)
	}

	e := &Engine{
		config:             config,
		db:                 db,
		clock:              clock.RealClock{},
		logger:             slog.Default().With(slog.String("component", "gtfs_engine")),
		realtimeClient:     realtimeHTTPClient,
		staticClient:       staticHTTPClient,
		staticRetry:        defaultStaticRetry,
		staticRetryInitial: time.Second,
		rawFeeds:           make(map[feedKey]rawPayload),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// DB exposes the underlying store for debugging pages.
func (e *Engine) DB() *gtfsdb.Client {
	return e.db
}

func (e *Engine) Config() Config {
	return e.config
}

// IsHealthy reports whether a schedule import has succeeded. A failed reload
// keeps the previous import, so it does not clear the flag.
func (e *Engine) IsHealthy() bool {
	return e.isHealthy.Load()
}

func (e *Engine) MarkHealthy() {
	e.isHealthy.Store(true)
}

func (e *Engine) MarkUnhealthy() {
	e.isHealthy.Store(false)
}

func (e *Engine) Close() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.db.Close(); err != nil {
		logging.LogError(e.logger, "Error closing GTFS database", err)
		return err
	}
	return nil
}

func (e *Engine) recordFeedPayload(feed string, category models.FeedCategory, body []byte, at time.Time) {
	e.rawMu.Lock()
	defer e.rawMu.Unlock()
	e.rawFeeds[feedKey{Feed: feed, Category: category}] = rawPayload{body: body, fetchedAt: at}
}
