package appconf

import (
	"strings"
	"time"
)

type Environment int

const (
	Development Environment = iota
	Test
	Production
)

const (
	DefaultRefreshIntervalSeconds = 30
	DefaultStaleThresholdSeconds  = 900
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// EnvFlagToEnvironment maps the -env flag value onto an Environment.
// Unknown values fall back to Development.
func EnvFlagToEnvironment(env string) Environment {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod":
		return Production
	case "test":
		return Test
	default:
		return Development
	}
}

// Config holds the process-level settings shared by the HTTP layer and the
// refresh scheduler.
type Config struct {
	Port      int
	Env       Environment
	ApiKeys   []string
	Verbose   bool
	RateLimit int // requests per second per API key

	RefreshIntervalSeconds int
	StaleThresholdSeconds  int
	AutoRefresh            bool
	StaticReloadInterval   time.Duration

	NatsURL     string
	NatsSubject string
}

// RefreshInterval returns the realtime refresh period, falling back to the default.
func (c Config) RefreshInterval() time.Duration {
	if c.RefreshIntervalSeconds <= 0 {
		return DefaultRefreshIntervalSeconds * time.Second
	}
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// StaleThreshold returns the age after which realtime data stops decorating schedule rows.
func (c Config) StaleThreshold() time.Duration {
	if c.StaleThresholdSeconds <= 0 {
		return DefaultStaleThresholdSeconds * time.Second
	}
	return time.Duration(c.StaleThresholdSeconds) * time.Second
}
