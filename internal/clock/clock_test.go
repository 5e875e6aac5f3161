package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClock_Now(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	result := c.Now()
	after := time.Now()

	assert.False(t, result.Before(before), "RealClock.Now() should not be before the call")
	assert.False(t, result.After(after), "RealClock.Now() should not be after the call")
}

func TestRealClock_NowUnixMilli(t *testing.T) {
	c := RealClock{}
	before := time.Now().UnixMilli()
	result := c.NowUnixMilli()
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, result, before)
	assert.LessOrEqual(t, result, after)
}

func TestRealClock_NewTicker(t *testing.T) {
	ticker := RealClock{}.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire")
	}
}

func TestMockClock_Now(t *testing.T) {
	fixedTime := time.Date(2024, 6, 15, 8, 30, 0, 0, time.UTC)
	c := NewMockClock(fixedTime)

	assert.Equal(t, fixedTime, c.Now())
	// Should return the same time on repeated calls
	assert.Equal(t, fixedTime, c.Now())
	assert.Equal(t, fixedTime.UnixMilli(), c.NowUnixMilli())
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	initialTime := time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)
	c := NewMockClock(initialTime)

	c.Advance(1 * time.Hour)
	assert.Equal(t, time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC), c.Now())

	c.Advance(-30 * time.Minute)
	assert.Equal(t, time.Date(2024, 6, 15, 8, 30, 0, 0, time.UTC), c.Now())

	newTime := time.Date(2024, 12, 25, 12, 0, 0, 0, time.UTC)
	c.Set(newTime)
	assert.Equal(t, newTime, c.Now())
}

func TestMockTicker_FiresOnlyWhenDue(t *testing.T) {
	c := NewMockClock(time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC))
	ticker := c.NewTicker(30 * time.Second)

	c.Advance(29 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case tick := <-ticker.C():
		assert.Equal(t, c.Now(), tick)
	default:
		t.Fatal("ticker did not fire when due")
	}
}

func TestMockTicker_DropsUnreadTicks(t *testing.T) {
	c := NewMockClock(time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC))
	ticker := c.NewTicker(time.Second)

	c.Advance(time.Second)
	c.Advance(time.Second)
	c.Advance(time.Second)

	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("only one pending tick should be buffered")
	default:
	}
}

func TestMockTicker_StopAndReset(t *testing.T) {
	c := NewMockClock(time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC))
	ticker := c.NewTicker(10 * time.Second)
	require.Equal(t, 1, c.ActiveTickers())

	ticker.Stop()
	assert.Equal(t, 0, c.ActiveTickers())
	c.Advance(time.Minute)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}

	ticker.Reset(5 * time.Second)
	assert.Equal(t, 1, c.ActiveTickers())
	c.Advance(5 * time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("reset ticker did not fire after new period")
	}
}

func TestMockClock_NewTickerPanicsOnNonPositive(t *testing.T) {
	c := NewMockClock(time.Now())
	assert.Panics(t, func() { c.NewTicker(0) })
}

// TestMockClock_ConcurrentAccess verifies thread-safety of MockClock.
// Run with '-race' flag to detect race conditions.
func TestMockClock_ConcurrentAccess(t *testing.T) {
	initialTime := time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)
	c := NewMockClock(initialTime)
	ticker := c.NewTicker(time.Millisecond)
	defer ticker.Stop()

	const goroutines = 50
	const iterations = 100

	var wg sync.WaitGroup
	wg.Add(goroutines * 2)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				_ = c.Now()
				_ = c.NowUnixMilli()
			}
		}()
	}

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.Advance(time.Millisecond)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, initialTime.Add(goroutines*iterations*time.Millisecond), c.Now())
}
