// Package clock provides time abstraction for testing and production use.
// It enables deterministic testing of time-dependent logic, including
// periodic work, by allowing injection of a mock clock whose tickers only
// fire when the test advances time.
package clock

import (
	"sync"
	"time"
)

// Clock provides an abstraction for time operations.
// Use RealClock in production and MockClock in tests.
type Clock interface {
	// Now returns the current time
	Now() time.Time
	// NowUnixMilli returns the current time as Unix milliseconds
	NowUnixMilli() int64
	// NewTicker returns a ticker firing every d
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker used by periodic loops.
type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

// RealClock implements Clock using actual system time.
// This is the default implementation for production use.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// NowUnixMilli returns the current time as Unix milliseconds.
func (RealClock) NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// NewTicker wraps time.NewTicker.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time   { return r.t.C }
func (r *realTicker) Reset(d time.Duration) { r.t.Reset(d) }
func (r *realTicker) Stop()                 { r.t.Stop() }

// MockClock implements Clock and provides a controllable, thread-safe time for tests.
// Tickers created from a MockClock fire only from Advance or Set.
// Use NewMockClock to create instances.
type MockClock struct {
	currentTime time.Time
	tickers     []*mockTicker
	mu          sync.Mutex
}

// NewMockClock creates a new MockClock set to the specified time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{currentTime: t}
}

// Now returns the mock clock's current time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

// NowUnixMilli returns the mock clock's current time as Unix milliseconds.
func (m *MockClock) NowUnixMilli() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime.UnixMilli()
}

// NewTicker returns a ticker driven by Advance. Like time.Ticker, its channel
// holds at most one pending tick; ticks nobody reads are dropped.
func (m *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &mockTicker{
		clock:  m,
		ch:     make(chan time.Time, 1),
		period: d,
		next:   m.currentTime.Add(d),
		active: true,
	}
	m.tickers = append(m.tickers, t)
	return t
}

// ActiveTickers reports how many tickers are currently running.
// Tests use it to wait until a loop has armed its ticker before advancing.
func (m *MockClock) ActiveTickers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tickers {
		if t.active {
			n++
		}
	}
	return n
}

// Set changes the mock clock's current time, firing any tickers that come due.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = t
	m.fireDueLocked()
}

// Advance moves the mock clock by the specified duration, firing any tickers
// that come due. Use positive durations to move forward, negative to move backward.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
	m.fireDueLocked()
}

func (m *MockClock) fireDueLocked() {
	for _, t := range m.tickers {
		if !t.active || m.currentTime.Before(t.next) {
			continue
		}
		select {
		case t.ch <- m.currentTime:
		default:
		}
		for !m.currentTime.Before(t.next) {
			t.next = t.next.Add(t.period)
		}
	}
}

type mockTicker struct {
	clock  *MockClock
	ch     chan time.Time
	period time.Duration
	next   time.Time
	active bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Reset(d time.Duration) {
	if d <= 0 {
		panic("clock: non-positive interval for Reset")
	}
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.period = d
	t.next = t.clock.currentTime.Add(d)
	t.active = true
}

func (t *mockTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.active = false
}
