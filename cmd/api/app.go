package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"overlay.onebusaway.org/internal/app"
	"overlay.onebusaway.org/internal/appconf"
	"overlay.onebusaway.org/internal/cache"
	"overlay.onebusaway.org/internal/clock"
	"overlay.onebusaway.org/internal/gtfs"
	"overlay.onebusaway.org/internal/logging"
	"overlay.onebusaway.org/internal/metrics"
	"overlay.onebusaway.org/internal/publisher"
	"overlay.onebusaway.org/internal/refresh"
	"overlay.onebusaway.org/internal/restapi"
	"overlay.onebusaway.org/internal/selection"
	"overlay.onebusaway.org/internal/webui"
)

const dbStatsInterval = 15 * time.Second

// ParseAPIKeys splits a comma-separated list of API keys and trims each one.
func ParseAPIKeys(apiKeysFlag string) []string {
	if apiKeysFlag == "" {
		return []string{}
	}
	keys := strings.Split(apiKeysFlag, ",")
	for i, key := range keys {
		keys[i] = strings.TrimSpace(key)
	}
	return keys
}

// BuildApplication wires the query engine, cache, scheduler and selection,
// and performs the initial schedule load. Realtime data is fetched once
// before returning; a failed fetch only leaves the overlay empty.
func BuildApplication(cfg appconf.Config, gtfsCfg gtfs.Config) (*app.Application, error) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := logging.NewStructuredLogger(os.Stdout, level)

	engine, err := gtfs.NewEngine(gtfsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GTFS engine: %w", err)
	}

	c := clock.RealClock{}
	entityCache := cache.New(c)
	m := metrics.NewWithLogger(logger)
	m.StartDBStatsCollector(engine.DB().DB, dbStatsInterval)

	var pub *publisher.NATSPublisher
	if cfg.NatsURL != "" {
		pub, err = publisher.NewNATSPublisher(cfg.NatsURL, cfg.NatsSubject, m, logger)
		if err != nil {
			m.Shutdown()
			logging.SafeCloseWithLogging(engine, logger, "gtfs_engine")
			return nil, err
		}
	}

	opts := refresh.Options{
		Interval:       cfg.RefreshInterval(),
		StaleThreshold: cfg.StaleThreshold(),
		AutoRefresh:    cfg.AutoRefresh,
		Clock:          c,
		Logger:         logger,
		Metrics:        m,
	}
	if !gtfsCfg.IsLocalFile() {
		opts.StaticReloadInterval = cfg.StaticReloadInterval
	}
	if pub != nil {
		opts.Notifier = pub
	}
	scheduler := refresh.New(engine, entityCache, opts)
	sel := selection.New(entityCache, selection.Options{
		Fresh:  scheduler.Fresh,
		Clock:  c,
		Logger: logger,
	})

	coreApp := &app.Application{
		Config:     cfg,
		GtfsConfig: gtfsCfg,
		Logger:     logger,
		Engine:     engine,
		Cache:      entityCache,
		Scheduler:  scheduler,
		Selection:  sel,
		Clock:      c,
		Metrics:    m,
		Publisher:  pub,
	}

	ctx := context.Background()
	if err := scheduler.LoadSchedule(ctx); err != nil {
		shutdownApplication(coreApp)
		return nil, fmt.Errorf("failed to initialize GTFS engine: %w", err)
	}
	if err := scheduler.Refresh(ctx); err != nil {
		logging.LogError(logger, "Initial realtime refresh failed", err)
	}

	return coreApp, nil
}

// CreateServer creates the HTTP server serving the REST API and the debug pages.
func CreateServer(coreApp *app.Application, cfg appconf.Config) (*http.Server, *restapi.RestAPI) {
	api := restapi.NewRestAPI(coreApp)

	webUI := &webui.WebUI{Application: coreApp}

	mux := http.NewServeMux()
	api.SetRoutes(mux)
	webUI.SetWebUIRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.Wrap(mux),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(coreApp.Logger.Handler(), slog.LevelError),
	}

	return srv, api
}

// Run starts the refresh loop and the server, and blocks until SIGINT or
// SIGTERM, then shuts everything down gracefully.
func Run(srv *http.Server, coreApp *app.Application, api *restapi.RestAPI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, srv, coreApp, api)
}

func serve(ctx context.Context, srv *http.Server, coreApp *app.Application, api *restapi.RestAPI) error {
	logger := coreApp.Logger

	go coreApp.Scheduler.Run(ctx)

	serverErr := make(chan error, 1)
	go func() {
		logging.LogOperation(logger, "starting_server",
			slog.String("addr", srv.Addr),
			slog.String("env", coreApp.Config.Env.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = err
	case <-ctx.Done():
		logging.LogOperation(logger, "shutting_down_server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(logger, "Server forced to shutdown", err)
		runErr = errors.Join(runErr, err)
	}

	api.Shutdown()
	shutdownApplication(coreApp)

	logging.LogOperation(logger, "server_exited")
	return runErr
}

// shutdownApplication stops background work and releases the database and
// NATS connection.
func shutdownApplication(coreApp *app.Application) {
	if coreApp.Scheduler != nil {
		coreApp.Scheduler.Shutdown()
	}
	if coreApp.Publisher != nil {
		coreApp.Publisher.Close()
	}
	if coreApp.Metrics != nil {
		coreApp.Metrics.Shutdown()
	}
	if coreApp.Engine != nil {
		logging.SafeCloseWithLogging(coreApp.Engine, coreApp.Logger, "gtfs_engine")
	}
}
