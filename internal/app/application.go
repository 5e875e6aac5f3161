package app

import (
	"log/slog"

	"overlay.onebusaway.org/internal/appconf"
	"overlay.onebusaway.org/internal/cache"
	"overlay.onebusaway.org/internal/clock"
	"overlay.onebusaway.org/internal/gtfs"
	"overlay.onebusaway.org/internal/metrics"
	"overlay.onebusaway.org/internal/publisher"
	"overlay.onebusaway.org/internal/refresh"
	"overlay.onebusaway.org/internal/selection"
)

// Application holds the dependencies for our HTTP handlers, helpers,
// and middleware. Handlers read the Cache; only the Scheduler writes to it.
type Application struct {
	Config     appconf.Config
	GtfsConfig gtfs.Config
	Logger     *slog.Logger
	Engine     *gtfs.Engine
	Cache      *cache.Cache
	Scheduler  *refresh.Scheduler
	Selection  *selection.Selection
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	// Publisher is nil unless a NATS URL is configured.
	Publisher  *publisher.NATSPublisher
}
