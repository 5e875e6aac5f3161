package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"overlay.onebusaway.org/internal/appconf"
	"overlay.onebusaway.org/internal/gtfs"
	"overlay.onebusaway.org/internal/logging"
)

func main() {
	var cfg appconf.Config
	var gtfsCfg gtfs.Config
	var apiKeysFlag, envFlag, configFile string
	var feed gtfs.RTFeedConfig
	var realtimeAuthHeaderName, realtimeAuthHeaderValue string

	flag.StringVar(&configFile, "f", "", "Path to YAML configuration file (overrides all other flags)")
	flag.IntVar(&cfg.Port, "port", 4000, "API server port")
	flag.StringVar(&envFlag, "env", "development", "Environment (development|test|production)")
	flag.StringVar(&apiKeysFlag, "api-keys", "", "Comma separated list of API keys; empty disables key checks")
	flag.IntVar(&cfg.RateLimit, "rate-limit", 100, "Requests per second per API key (0 disables)")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")
	flag.IntVar(&cfg.RefreshIntervalSeconds, "refresh-interval", appconf.DefaultRefreshIntervalSeconds, "Realtime refresh interval in seconds")
	flag.IntVar(&cfg.StaleThresholdSeconds, "stale-threshold", appconf.DefaultStaleThresholdSeconds, "Seconds after which realtime data is ignored")
	flag.BoolVar(&cfg.AutoRefresh, "auto-refresh", true, "Start with automatic realtime refresh enabled")
	flag.DurationVar(&cfg.StaticReloadInterval, "static-reload-interval", 24*time.Hour, "Schedule reload period for remote sources (0 disables)")
	flag.StringVar(&cfg.NatsURL, "nats-url", "", "NATS server URL for generation events")
	flag.StringVar(&cfg.NatsSubject, "nats-subject", "", "NATS subject prefix for generation events")

	flag.StringVar(&gtfsCfg.GtfsURL, "gtfs-url", "", "URL or path of the static GTFS zip")
	flag.StringVar(&gtfsCfg.StaticAuthHeaderKey, "gtfs-static-auth-header-name", "", "Header name for static GTFS requests")
	flag.StringVar(&gtfsCfg.StaticAuthHeaderValue, "gtfs-static-auth-header-value", "", "Header value for static GTFS requests")
	flag.StringVar(&gtfsCfg.GTFSDataPath, "data-path", "./gtfs.db", "Path to the SQLite database")
	flag.StringVar(&feed.TripUpdatesURL, "trip-updates-url", "", "GTFS-RT trip updates URL")
	flag.StringVar(&feed.VehiclePositionsURL, "vehicle-positions-url", "", "GTFS-RT vehicle positions URL")
	flag.StringVar(&feed.ServiceAlertsURL, "service-alerts-url", "", "GTFS-RT service alerts URL")
	flag.StringVar(&realtimeAuthHeaderName, "realtime-auth-header-name", "", "Header name for GTFS-RT requests")
	flag.StringVar(&realtimeAuthHeaderValue, "realtime-auth-header-value", "", "Header value for GTFS-RT requests")

	flag.Parse()

	if err := appconf.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if configFile != "" {
		fileCfg, err := appconf.LoadFromFile(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = fileCfg.ToAppConfig()
		gtfsCfg = gtfs.ConfigFromData(fileCfg.ToGtfsConfigData())
	} else {
		cfg.Env = appconf.EnvFlagToEnvironment(envFlag)
		cfg.ApiKeys = ParseAPIKeys(apiKeysFlag)
		gtfsCfg.Env = cfg.Env
		gtfsCfg.Verbose = cfg.Verbose

		feed.ID = "default"
		feed.Enabled = true
		if realtimeAuthHeaderName != "" {
			feed.Headers = map[string]string{realtimeAuthHeaderName: realtimeAuthHeaderValue}
		}
		if feed.TripUpdatesURL != "" || feed.VehiclePositionsURL != "" || feed.ServiceAlertsURL != "" {
			gtfsCfg.RTFeeds = []gtfs.RTFeedConfig{feed}
		}
	}

	if strings.TrimSpace(gtfsCfg.GtfsURL) == "" {
		fmt.Fprintln(os.Stderr, "Error: a static GTFS source is required (-gtfs-url or gtfs-url in the config file)")
		flag.Usage()
		os.Exit(1)
	}

	coreApp, err := BuildApplication(cfg, gtfsCfg)
	if err != nil {
		logging.LogError(slog.Default(), "Failed to build application", err)
		os.Exit(1)
	}

	srv, api := CreateServer(coreApp, cfg)
	if err := Run(srv, coreApp, api); err != nil {
		logging.LogError(coreApp.Logger, "Server exited with error", err)
		os.Exit(1)
	}
}
