package gtfs

import (
	"strings"

	"overlay.onebusaway.org/internal/appconf"
	"overlay.onebusaway.org/internal/models"
)

// Configuration for a single GTFS-RT feed.
type RTFeedConfig struct {
	ID                  string
	TripUpdatesURL      string
	VehiclePositionsURL string
	ServiceAlertsURL    string
	Headers             map[string]string
	Enabled             bool
}

// URLFor returns the feed URL serving category, or "" when the feed does not provide it.
func (feed RTFeedConfig) URLFor(category models.FeedCategory) string {
	switch category {
	case models.CategoryTripUpdates:
		return feed.TripUpdatesURL
	case models.CategoryVehicles:
		return feed.VehiclePositionsURL
	case models.CategoryAlerts:
		return feed.ServiceAlertsURL
	}
	return ""
}

// Config holds GTFS configuration for the engine.
type Config struct {
	GtfsURL               string
	StaticAuthHeaderKey   string
	StaticAuthHeaderValue string
	RTFeeds               []RTFeedConfig
	GTFSDataPath          string
	Env                   appconf.Environment
	Verbose               bool
}

// ConfigFromData converts the appconf representation into a Config.
func ConfigFromData(data appconf.GtfsConfigData) Config {
	config := Config{
		GtfsURL:               data.GtfsURL,
		StaticAuthHeaderKey:   data.StaticAuthHeaderKey,
		StaticAuthHeaderValue: data.StaticAuthHeaderValue,
		GTFSDataPath:          data.GTFSDataPath,
		Env:                   data.Env,
		Verbose:               data.Verbose,
	}
	for _, f := range data.Feeds {
		config.RTFeeds = append(config.RTFeeds, RTFeedConfig{
			ID:                  f.ID,
			TripUpdatesURL:      f.TripUpdatesURL,
			VehiclePositionsURL: f.VehiclePositionsURL,
			ServiceAlertsURL:    f.ServiceAlertsURL,
			Headers:             f.Headers,
			Enabled:             f.Enabled,
		})
	}
	return config
}

// enabledFeeds returns only the enabled feeds that have at least one URL configured.
func (config Config) enabledFeeds() []RTFeedConfig {
	var feeds []RTFeedConfig
	for _, feed := range config.RTFeeds {
		if feed.Enabled && (feed.TripUpdatesURL != "" || feed.VehiclePositionsURL != "" || feed.ServiceAlertsURL != "") {
			feeds = append(feeds, feed)
		}
	}
	return feeds
}

// IsLocalFile reports whether the schedule source is a path rather than a URL.
func (config Config) IsLocalFile() bool {
	return !strings.HasPrefix(config.GtfsURL, "http://") && !strings.HasPrefix(config.GtfsURL, "https://")
}
