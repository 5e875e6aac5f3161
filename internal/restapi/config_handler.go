package restapi

import (
	"net/http"

	"overlay.onebusaway.org/internal/buildinfo"
	"overlay.onebusaway.org/internal/models"
)

const serviceName = "OneBusAway Transit Overlay"

func (api *RestAPI) configHandler(w http.ResponseWriter, r *http.Request) {
	build := models.BuildProperties{
		Version:      buildinfo.Version,
		CommitID:     buildinfo.CommitHash,
		CommitAbbrev: buildinfo.ShortHash(),
		Branch:       buildinfo.Branch,
		BuildTime:    buildinfo.BuildTime,
		CommitTime:   buildinfo.CommitTime,
		Dirty:        buildinfo.Dirty,
	}

	configEntry := models.ConfigModel{
		Build:                  build,
		Name:                   serviceName,
		RefreshIntervalSeconds: int(api.Config.RefreshInterval().Seconds()),
		StaleThresholdSeconds:  int(api.Config.StaleThreshold().Seconds()),
		AutoRefresh:            api.Config.AutoRefresh,
		Feeds:                  []models.FeedConfigModel{},
	}
	if api.Scheduler != nil {
		configEntry.RefreshIntervalSeconds = int(api.Scheduler.Interval().Seconds())
		configEntry.StaleThresholdSeconds = int(api.Scheduler.StaleThreshold().Seconds())
		configEntry.AutoRefresh = api.Scheduler.AutoRefresh()
	}
	for _, feed := range api.GtfsConfig.RTFeeds {
		if !feed.Enabled {
			continue
		}
		configEntry.Feeds = append(configEntry.Feeds, models.FeedConfigModel{
			ID:               feed.ID,
			TripUpdates:      feed.TripUpdatesURL != "",
			VehiclePositions: feed.VehiclePositionsURL != "",
			ServiceAlerts:    feed.ServiceAlertsURL != "",
		})
	}
	configEntry.ServiceDateFrom, configEntry.ServiceDateTo = api.Cache.Snapshot().ServiceDateRange()

	api.sendResponse(w, r, models.NewEntryResponse(configEntry, api.Clock))
}
