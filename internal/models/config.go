package models

type BuildProperties struct {
	Version      string `json:"version"`
	CommitID     string `json:"commitId"`
	CommitAbbrev string `json:"commitIdAbbrev"`
	Branch       string `json:"branch"`
	BuildTime    string `json:"buildTime"`
	CommitTime   string `json:"commitTime"`
	Dirty        string `json:"dirty"`
}

type FeedConfigModel struct {
	ID               string `json:"id"`
	TripUpdates      bool   `json:"tripUpdates"`
	VehiclePositions bool   `json:"vehiclePositions"`
	ServiceAlerts    bool   `json:"serviceAlerts"`
}

// ConfigModel describes the running service. Feed URLs and headers are
// never included.
type ConfigModel struct {
	Build                  BuildProperties   `json:"build"`
	Name                   string            `json:"name"`
	RefreshIntervalSeconds int               `json:"refreshIntervalSeconds"`
	StaleThresholdSeconds  int               `json:"staleThresholdSeconds"`
	AutoRefresh            bool              `json:"autoRefresh"`
	Feeds                  []FeedConfigModel `json:"feeds"`
	ServiceDateFrom        string            `json:"serviceDateFrom,omitempty"`
	ServiceDateTo          string            `json:"serviceDateTo,omitempty"`
}
