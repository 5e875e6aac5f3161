package realtime

import "time"

// DefaultStaleThreshold matches the default staleness threshold of 900 seconds.
const DefaultStaleThreshold = 15 * time.Minute

// StaleDetector decides whether realtime data is too old to decorate schedule
// rows with. Stale data is never purged; it simply stops being shown as live.
type StaleDetector struct {
	threshold time.Duration
}

func NewStaleDetector() *StaleDetector {
	return &StaleDetector{threshold: DefaultStaleThreshold}
}

func (d *StaleDetector) WithThreshold(threshold time.Duration) *StaleDetector {
	if threshold > 0 {
		d.threshold = threshold
	}
	return d
}

func (d *StaleDetector) Threshold() time.Duration {
	return d.threshold
}

// Check returns true when updatedAt is zero or older than the threshold.
func (d *StaleDetector) Check(updatedAt, now time.Time) bool {
	if updatedAt.IsZero() {
		return true
	}
	return now.Sub(updatedAt) > d.threshold
}

// Age returns how old updatedAt is. A zero time reports one past the threshold.
func (d *StaleDetector) Age(updatedAt, now time.Time) time.Duration {
	if updatedAt.IsZero() {
		return d.threshold + 1
	}
	return now.Sub(updatedAt)
}
