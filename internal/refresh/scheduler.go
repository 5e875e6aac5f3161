// Package refresh drives the entity cache from the query engine: a timer
// loop starts realtime refresh cycles, at most one at a time, and callers may
// reload the schedule or trigger a cycle on demand.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"overlay.onebusaway.org/internal/cache"
	"overlay.onebusaway.org/internal/clock"
	"overlay.onebusaway.org/internal/gtfs"
	"overlay.onebusaway.org/internal/logging"
	"overlay.onebusaway.org/internal/metrics"
	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/realtime"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultFetchTimeout = 15 * time.Second
	DefaultLoadTimeout  = 5 * time.Minute
)

// ErrRefreshInProgress is returned by Refresh when a cycle is already running.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// ErrSchedulerClosed is returned by synchronous work requested after Shutdown.
var ErrSchedulerClosed = errors.New("refresh scheduler is shut down")

// QueryEngine is the asynchronous boundary the scheduler pulls data from.
// *gtfs.Engine satisfies it.
type QueryEngine interface {
	LoadSchedule(ctx context.Context) (*models.ScheduleSnapshot, error)
	FetchRealtime(ctx context.Context) (*gtfs.RealtimeResult, error)
}

// Event describes a generation the scheduler just published.
type Event struct {
	Generation uint64                `json:"generation"`
	Reason     string                `json:"reason"`
	Categories []models.FeedCategory `json:"categories,omitempty"`
	At         time.Time             `json:"at"`
}

const (
	ReasonRealtime = "realtime"
	ReasonSchedule = "schedule"
)

// Notifier is told about every generation the scheduler publishes. A failed
// notification is logged and otherwise ignored.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type Options struct {
	Interval       time.Duration
	StaleThreshold time.Duration
	AutoRefresh    bool
	// StaticReloadInterval reloads the schedule periodically when positive.
	StaticReloadInterval time.Duration
	FetchTimeout         time.Duration
	LoadTimeout          time.Duration

	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Notifier Notifier
}

// Scheduler owns the refresh state machine. Create it with New; the zero
// value is not usable.
type Scheduler struct {
	engine   QueryEngine
	cache    *cache.Cache
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	notifier Notifier
	stale    *realtime.StaleDetector

	fetchTimeout time.Duration
	loadTimeout  time.Duration
	staticReload time.Duration

	inFlight    atomic.Bool
	loading     atomic.Bool
	autoRefresh atomic.Bool

	// mu guards interval, ticker and closed.
	mu       sync.Mutex
	interval time.Duration
	ticker   clock.Ticker
	closed   bool

	lastMu    sync.Mutex
	lastCycle time.Time
	lastErr   error

	done chan struct{}
	wg   sync.WaitGroup
}

func New(engine QueryEngine, c *cache.Cache, opts Options) *Scheduler {
	s := &Scheduler{
		engine:       engine,
		cache:        c,
		clock:        opts.Clock,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		notifier:     opts.Notifier,
		stale:        realtime.NewStaleDetector().WithThreshold(opts.StaleThreshold),
		fetchTimeout: opts.FetchTimeout,
		loadTimeout:  opts.LoadTimeout,
		staticReload: opts.StaticReloadInterval,
		interval:     opts.Interval,
		done:         make(chan struct{}),
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "refresh_scheduler"))
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.fetchTimeout <= 0 {
		s.fetchTimeout = DefaultFetchTimeout
	}
	if s.loadTimeout <= 0 {
		s.loadTimeout = DefaultLoadTimeout
	}
	s.autoRefresh.Store(opts.AutoRefresh)
	return s
}

func (s *Scheduler) State() State {
	switch {
	case s.inFlight.Load():
		return Refreshing
	case !s.autoRefresh.Load():
		return Disabled
	default:
		return Idle
	}
}

// Start begins a refresh cycle in the background and reports whether it did.
// While a cycle is in flight Start is a no-op and returns false.
func (s *Scheduler) Start(ctx context.Context) bool {
	if !s.track() {
		return false
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.wg.Done()
		s.metrics.ObserveRefresh(metrics.OutcomeSkipped, 0)
		return false
	}
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		_ = s.cycle(ctx)
	}()
	return true
}

// Refresh runs one cycle and waits for it. It returns ErrRefreshInProgress
// when another cycle is running, and an error only when the engine itself
// failed; per-category feed failures are logged, not returned. Shutdown
// waits for a Refresh in progress, and Refresh after Shutdown returns
// ErrSchedulerClosed.
func (s *Scheduler) Refresh(ctx context.Context) error {
	if !s.track() {
		return ErrSchedulerClosed
	}
	defer s.wg.Done()
	if !s.inFlight.CompareAndSwap(false, true) {
		s.metrics.ObserveRefresh(metrics.OutcomeSkipped, 0)
		return ErrRefreshInProgress
	}
	defer s.inFlight.Store(false)
	return s.cycle(ctx)
}

func (s *Scheduler) cycle(ctx context.Context) error {
	started := s.clock.Now()
	s.metrics.SetRefreshInFlight(true)
	defer s.metrics.SetRefreshInFlight(false)

	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, s.logger)

	logging.LogOperation(s.logger, "updating_gtfs_realtime_data")
	result, err := s.engine.FetchRealtime(ctx)
	if err != nil {
		err = fmt.Errorf("fetching realtime data: %w", err)
		logging.LogError(s.logger, "Realtime refresh failed", err)
		s.metrics.ObserveRefresh(metrics.OutcomeFailure, s.clock.Now().Sub(started))
		s.recordCycle(err)
		return err
	}

	update := cache.RealtimeUpdate{At: result.FetchedAt}
	for _, category := range models.FeedCategories {
		if result.Succeeded(category) {
			update = update.With(category, result.Snapshot)
			s.metrics.ObserveFeed(string(category), metrics.OutcomeSuccess)
			continue
		}
		if catErr, ok := result.Errors[category]; ok {
			logging.LogError(s.logger, "Realtime category failed, keeping previous data", catErr,
				slog.String("category", string(category)),
				slog.Bool("fatal", false))
			s.metrics.ObserveFeed(string(category), metrics.OutcomeFailure)
		}
	}

	generation := s.cache.ApplyRealtimeSnapshot(update)
	s.metrics.SetCacheStats(generation, s.cache.Snapshot().Counts())
	s.metrics.ObserveRefresh(metrics.OutcomeSuccess, s.clock.Now().Sub(started))
	s.recordCycle(nil)

	if !update.Empty() {
		s.notify(ctx, Event{
			Generation: generation,
			Reason:     ReasonRealtime,
			Categories: update.Categories(),
			At:         result.FetchedAt,
		})
	}
	return nil
}

// LoadSchedule reloads the static schedule into the cache. On failure the
// cache keeps its last good generation and the error is returned. Like
// Refresh, it is tracked by Shutdown.
func (s *Scheduler) LoadSchedule(ctx context.Context) error {
	if !s.track() {
		return ErrSchedulerClosed
	}
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, s.loadTimeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, s.logger)

	snap, err := s.engine.LoadSchedule(ctx)
	if err != nil {
		s.metrics.ObserveScheduleLoad(metrics.OutcomeFailure)
		return fmt.Errorf("loading schedule: %w", err)
	}
	if err := s.cache.Load(snap); err != nil {
		s.metrics.ObserveScheduleLoad(metrics.OutcomeFailure)
		logging.LogError(s.logger, "Schedule rejected by cache", err)
		return fmt.Errorf("loading schedule: %w", err)
	}

	snapshot := s.cache.Snapshot()
	s.metrics.ObserveScheduleLoad(metrics.OutcomeSuccess)
	s.metrics.SetCacheStats(snapshot.Generation(), snapshot.Counts())
	logging.LogOperation(s.logger, "schedule_loaded",
		slog.Uint64("generation", snapshot.Generation()))

	s.notify(ctx, Event{
		Generation: snapshot.Generation(),
		Reason:     ReasonSchedule,
		At:         snapshot.LoadedAt(),
	})
	return nil
}

// Run is the timer loop. It blocks until ctx is done or Shutdown is called.
// Each tick starts a cycle when auto refresh is enabled.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.track() {
		return
	}
	defer s.wg.Done()

	s.mu.Lock()
	ticker := s.clock.NewTicker(s.interval)
	if !s.autoRefresh.Load() {
		ticker.Stop()
	}
	s.ticker = ticker
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.ticker = nil
		s.mu.Unlock()
		ticker.Stop()
	}()

	var staticTick <-chan time.Time
	if s.staticReload > 0 {
		staticTicker := s.clock.NewTicker(s.staticReload)
		defer staticTicker.Stop()
		staticTick = staticTicker.C()
	}

	for {
		select {
		case <-ticker.C():
			if s.autoRefresh.Load() {
				s.Start(ctx)
			}
		case <-staticTick:
			s.reloadInBackground(ctx)
		case <-ctx.Done():
			logging.LogOperation(s.logger, "shutting_down_realtime_updates")
			return
		case <-s.done:
			logging.LogOperation(s.logger, "shutting_down_realtime_updates")
			return
		}
	}
}

func (s *Scheduler) reloadInBackground(ctx context.Context) {
	if !s.track() {
		return
	}
	if !s.loading.CompareAndSwap(false, true) {
		s.wg.Done()
		return
	}
	go func() {
		defer s.wg.Done()
		defer s.loading.Store(false)
		if err := s.LoadSchedule(ctx); err != nil && !errors.Is(err, ErrSchedulerClosed) {
			logging.LogError(s.logger, "Error updating GTFS data", err)
		}
	}()
}

// EnableAutoRefresh re-arms the timer with the current interval.
func (s *Scheduler) EnableAutoRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.autoRefresh.Swap(true) {
		return
	}
	if s.ticker != nil {
		s.ticker.Reset(s.interval)
	}
}

// DisableAutoRefresh stops the pending timer. A cycle already in flight
// runs to completion and its result is applied.
func (s *Scheduler) DisableAutoRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoRefresh.Store(false)
	if s.ticker != nil {
		s.ticker.Stop()
	}
}

func (s *Scheduler) AutoRefresh() bool {
	return s.autoRefresh.Load()
}

// SetInterval changes the tick period. The next tick comes d from now.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	if s.ticker != nil && s.autoRefresh.Load() {
		s.ticker.Reset(d)
	}
	return nil
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Fresh reports whether category was updated within the staleness threshold.
func (s *Scheduler) Fresh(category models.FeedCategory) bool {
	return !s.stale.Check(s.cache.Snapshot().UpdatedAt(category), s.clock.Now())
}

func (s *Scheduler) StaleThreshold() time.Duration {
	return s.stale.Threshold()
}

// Shutdown stops the timer loop and waits for in-flight work. It is safe to
// call more than once.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// track registers one unit of background work unless the scheduler is shut down.
func (s *Scheduler) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Scheduler) recordCycle(err error) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	s.lastCycle = s.clock.Now()
	s.lastErr = err
}

func (s *Scheduler) notify(ctx context.Context, ev Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		logging.LogError(s.logger, "Failed to publish generation event", err,
			slog.Uint64("generation", ev.Generation),
			slog.String("reason", ev.Reason))
	}
}
