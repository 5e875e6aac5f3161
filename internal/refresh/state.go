package refresh

import (
	"time"

	"overlay.onebusaway.org/internal/models"
)

type State int

const (
	Idle State = iota
	Refreshing
	Disabled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Refreshing:
		return "refreshing"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the scheduler for the control surface.
type Status struct {
	State           State                        `json:"state"`
	AutoRefresh     bool                         `json:"autoRefresh"`
	IntervalSeconds int                          `json:"intervalSeconds"`
	LastCycleAt     *time.Time                   `json:"lastCycleAt,omitempty"`
	LastError       string                       `json:"lastError,omitempty"`
	Generation      uint64                       `json:"generation"`
	Fresh           map[models.FeedCategory]bool `json:"fresh"`
}

func (s *Scheduler) Status() Status {
	st := Status{
		State:           s.State(),
		AutoRefresh:     s.AutoRefresh(),
		IntervalSeconds: int(s.Interval() / time.Second),
		Generation:      s.cache.Generation(),
		Fresh:           make(map[models.FeedCategory]bool, len(models.FeedCategories)),
	}
	for _, category := range models.FeedCategories {
		st.Fresh[category] = s.Fresh(category)
	}

	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if !s.lastCycle.IsZero() {
		at := s.lastCycle
		st.LastCycleAt = &at
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
