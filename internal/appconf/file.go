package appconf

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FeedFileConfig describes one realtime feed in the YAML config file.
type FeedFileConfig struct {
	ID                  string            `yaml:"id" validate:"required"`
	TripUpdatesURL      string            `yaml:"trip-updates-url" validate:"required_without_all=VehiclePositionsURL ServiceAlertsURL"`
	VehiclePositionsURL string            `yaml:"vehicle-positions-url"`
	ServiceAlertsURL    string            `yaml:"service-alerts-url"`
	Headers             map[string]string `yaml:"headers"`
	Enabled             *bool             `yaml:"enabled"`
}

// FileConfig is the on-disk shape of the -f config file.
type FileConfig struct {
	Port      int      `yaml:"port" validate:"min=0,max=65535"`
	Env       string   `yaml:"env" validate:"omitempty,oneof=development test production"`
	ApiKeys   []string `yaml:"api-keys"`
	Verbose   bool     `yaml:"verbose"`
	RateLimit int      `yaml:"rate-limit" validate:"min=0"`

	GtfsURL               string `yaml:"gtfs-url" validate:"required"`
	StaticAuthHeaderKey   string `yaml:"gtfs-static-auth-header-name" validate:"required_with=StaticAuthHeaderValue"`
	StaticAuthHeaderValue string `yaml:"gtfs-static-auth-header-value"`
	DataPath              string `yaml:"data-path"`

	Feeds []FeedFileConfig `yaml:"gtfs-rt-feeds" validate:"dive"`

	RefreshIntervalSeconds int    `yaml:"refresh-interval" validate:"min=0,max=86400"`
	StaleThresholdSeconds  int    `yaml:"stale-threshold" validate:"min=0"`
	AutoRefresh            *bool  `yaml:"auto-refresh"`
	StaticReloadInterval   string `yaml:"static-reload-interval"`

	NatsURL     string `yaml:"nats-url" validate:"omitempty,url"`
	NatsSubject string `yaml:"nats-subject"`
}

// FeedData is the feed shape handed to the GTFS layer.
type FeedData struct {
	ID                  string
	TripUpdatesURL      string
	VehiclePositionsURL string
	ServiceAlertsURL    string
	Headers             map[string]string
	Enabled             bool
}

// GtfsConfigData carries the GTFS settings without importing the gtfs package.
type GtfsConfigData struct {
	GtfsURL               string
	StaticAuthHeaderKey   string
	StaticAuthHeaderValue string
	GTFSDataPath          string
	Feeds                 []FeedData
	Env                   Environment
	Verbose               bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFromFile reads, env-expands and validates a YAML config file.
// ${VAR} references are expanded after .env has been loaded, so feed
// credentials can stay out of the file itself.
func LoadFromFile(path string) (*FileConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat config file %q: %w", path, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	raw = []byte(os.ExpandEnv(string(raw)))

	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies struct tag rules and the cross-field checks tags cannot express.
func (c *FileConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.StaticReloadInterval != "" {
		d, err := time.ParseDuration(c.StaticReloadInterval)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid configuration: static-reload-interval %q is not a non-negative duration", c.StaticReloadInterval)
		}
	}

	seen := make(map[string]struct{}, len(c.Feeds))
	for _, f := range c.Feeds {
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("invalid configuration: duplicate feed id %q", f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}

// ToAppConfig converts the file config into the process Config, applying defaults.
func (c *FileConfig) ToAppConfig() Config {
	cfg := Config{
		Port:                   c.Port,
		Env:                    EnvFlagToEnvironment(c.Env),
		ApiKeys:                c.ApiKeys,
		Verbose:                c.Verbose,
		RateLimit:              c.RateLimit,
		RefreshIntervalSeconds: c.RefreshIntervalSeconds,
		StaleThresholdSeconds:  c.StaleThresholdSeconds,
		AutoRefresh:            true,
		NatsURL:                c.NatsURL,
		NatsSubject:            c.NatsSubject,
	}
	if cfg.Port == 0 {
		cfg.Port = 4000
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 100
	}
	if cfg.RefreshIntervalSeconds == 0 {
		cfg.RefreshIntervalSeconds = DefaultRefreshIntervalSeconds
	}
	if cfg.StaleThresholdSeconds == 0 {
		cfg.StaleThresholdSeconds = DefaultStaleThresholdSeconds
	}
	if c.AutoRefresh != nil {
		cfg.AutoRefresh = *c.AutoRefresh
	}
	if c.StaticReloadInterval != "" {
		// Validate already rejected unparsable values.
		cfg.StaticReloadInterval, _ = time.ParseDuration(c.StaticReloadInterval)
	}
	return cfg
}

// ToGtfsConfigData converts the file config into the GTFS layer's settings.
func (c *FileConfig) ToGtfsConfigData() GtfsConfigData {
	data := GtfsConfigData{
		GtfsURL:               c.GtfsURL,
		StaticAuthHeaderKey:   c.StaticAuthHeaderKey,
		StaticAuthHeaderValue: c.StaticAuthHeaderValue,
		GTFSDataPath:          c.DataPath,
		Env:                   EnvFlagToEnvironment(c.Env),
		Verbose:               c.Verbose,
	}
	if data.GTFSDataPath == "" {
		data.GTFSDataPath = "./gtfs.db"
	}
	for _, f := range c.Feeds {
		enabled := true
		if f.Enabled != nil {
			enabled = *f.Enabled
		}
		data.Feeds = append(data.Feeds, FeedData{
			ID:                  f.ID,
			TripUpdatesURL:      f.TripUpdatesURL,
			VehiclePositionsURL: f.VehiclePositionsURL,
			ServiceAlertsURL:    f.ServiceAlertsURL,
			Headers:             f.Headers,
			Enabled:             enabled,
		})
	}
	return data
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}
