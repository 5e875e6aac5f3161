// Package metrics provides Prometheus metrics for the overlay service.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values shared by the refresh metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Revalidation label values for conditional GETs.
const (
	RevalidationNotModified = "not_modified"
	RevalidationChanged     = "changed"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRevalidations   *prometheus.CounterVec

	// Refresh metrics
	RefreshCyclesTotal *prometheus.CounterVec
	FeedUpdatesTotal   *prometheus.CounterVec
	RefreshDuration    prometheus.Histogram
	RefreshInFlight    prometheus.Gauge
	ScheduleLoadsTotal *prometheus.CounterVec

	// Cache metrics
	CacheGeneration prometheus.Gauge
	CacheEntities   *prometheus.GaugeVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	// logger for error reporting
	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool

	// cancel stops the DB stats collector goroutine
	cancel context.CancelFunc

	// wg tracks the DB stats collector goroutine for graceful shutdown
	wg sync.WaitGroup
}

// New creates and registers all application metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	httpRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overlay_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpRevalidations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlay_http_revalidations_total",
			Help: "Conditional GETs by whether the cache generation had changed",
		},
		[]string{"path", "outcome"},
	)

	refreshCyclesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlay_refresh_cycles_total",
			Help: "Realtime refresh cycles by outcome",
		},
		[]string{"outcome"},
	)

	feedUpdatesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlay_feed_updates_total",
			Help: "Per-category realtime feed merges by outcome",
		},
		[]string{"category", "outcome"},
	)

	refreshDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "overlay_refresh_duration_seconds",
		Help:    "Wall time of one realtime refresh cycle",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	refreshInFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overlay_refresh_in_flight",
		Help: "1 while a realtime refresh cycle is running",
	})

	scheduleLoadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlay_schedule_loads_total",
			Help: "Static schedule loads by outcome",
		},
		[]string{"outcome"},
	)

	cacheGeneration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overlay_cache_generation",
		Help: "Generation number of the current entity cache snapshot",
	})

	cacheEntities := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "overlay_cache_entities",
			Help: "Number of entities held by the current cache generation",
		},
		[]string{"kind"},
	)

	notificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlay_notifications_total",
			Help: "Generation change notifications by outcome",
		},
		[]string{"outcome"},
	)

	dbConnectionsOpen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overlay_db_connections_open",
		Help: "Number of open database connections",
	})

	dbConnectionsInUse := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overlay_db_connections_in_use",
		Help: "Number of database connections currently in use",
	})

	dbConnectionsIdle := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overlay_db_connections_idle",
		Help: "Number of idle database connections",
	})

	dbWaitSecondsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_db_wait_seconds_total",
		Help: "Total time blocked waiting for a database connection",
	})

	// Register all metrics with the custom registry
	registry.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		httpRevalidations,
		refreshCyclesTotal,
		feedUpdatesTotal,
		refreshDuration,
		refreshInFlight,
		scheduleLoadsTotal,
		cacheGeneration,
		cacheEntities,
		notificationsTotal,
		dbConnectionsOpen,
		dbConnectionsInUse,
		dbConnectionsIdle,
		dbWaitSecondsTotal,
	)

	return &Metrics{
		Registry:            registry,
		HTTPRequestsTotal:   httpRequestsTotal,
		HTTPRequestDuration: httpRequestDuration,
		HTTPRevalidations:   httpRevalidations,
		RefreshCyclesTotal:  refreshCyclesTotal,
		FeedUpdatesTotal:    feedUpdatesTotal,
		RefreshDuration:     refreshDuration,
		RefreshInFlight:     refreshInFlight,
		ScheduleLoadsTotal:  scheduleLoadsTotal,
		CacheGeneration:     cacheGeneration,
		CacheEntities:       cacheEntities,
		NotificationsTotal:  notificationsTotal,
		DBConnectionsOpen:   dbConnectionsOpen,
		DBConnectionsInUse:  dbConnectionsInUse,
		DBConnectionsIdle:   dbConnectionsIdle,
		DBWaitSecondsTotal:  dbWaitSecondsTotal,
		logger:              logger,
	}
}

// ObserveRefresh records one finished refresh cycle. Safe on a nil receiver.
func (m *Metrics) ObserveRefresh(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshCyclesTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		m.RefreshDuration.Observe(d.Seconds())
	}
}

// ObserveFeed records the merge outcome of one feed category. Safe on a nil receiver.
func (m *Metrics) ObserveFeed(category, outcome string) {
	if m == nil {
		return
	}
	m.FeedUpdatesTotal.WithLabelValues(category, outcome).Inc()
}

// ObserveScheduleLoad records one schedule load attempt. Safe on a nil receiver.
func (m *Metrics) ObserveScheduleLoad(outcome string) {
	if m == nil {
		return
	}
	m.ScheduleLoadsTotal.WithLabelValues(outcome).Inc()
}

// SetRefreshInFlight flips the in-flight gauge. Safe on a nil receiver.
func (m *Metrics) SetRefreshInFlight(inFlight bool) {
	if m == nil {
		return
	}
	if inFlight {
		m.RefreshInFlight.Set(1)
	} else {
		m.RefreshInFlight.Set(0)
	}
}

// SetCacheStats publishes the generation number and per-kind entity counts
// of the current cache snapshot. Safe on a nil receiver.
func (m *Metrics) SetCacheStats(generation uint64, counts map[string]int) {
	if m == nil {
		return
	}
	m.CacheGeneration.Set(float64(generation))
	for kind, n := range counts {
		m.CacheEntities.WithLabelValues(kind).Set(float64(n))
	}
}

// ObserveNotification records one generation notification. Safe on a nil receiver.
func (m *Metrics) ObserveNotification(outcome string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(outcome).Inc()
}

// StartDBStatsCollector starts a goroutine that periodically collects database
// connection pool statistics and updates the corresponding metrics.
// The interval specifies how often to collect stats.
// This method is idempotent - calling it multiple times has no effect after the first call.
// Call Shutdown() to stop the collector.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}

	// Prevent spawning multiple collectors
	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	var lastWaitDuration time.Duration

	// Add to WaitGroup BEFORE exposing cancel to avoid race with Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				if m.logger != nil {
					m.logger.Error("panic in DB stats collector", "error", r)
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
				m.DBConnectionsInUse.Set(float64(stats.InUse))
				m.DBConnectionsIdle.Set(float64(stats.Idle))

				// Add the delta of wait duration since last check
				waitDelta := stats.WaitDuration - lastWaitDuration
				if waitDelta > 0 {
					m.DBWaitSecondsTotal.Add(waitDelta.Seconds())
				}
				lastWaitDuration = stats.WaitDuration

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the DB stats collector goroutine and waits for it to exit.
// This method is safe to call multiple times.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
