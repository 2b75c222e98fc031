// Package clock provides the monotonic millisecond tick source the task
// queue keys all of its timing off.
//
// Ticks come from Go's monotonic clock reading, never from wall time, so
// NTP adjustments or manual clock changes cannot move them backwards. A
// host process being suspended (laptop lid, VM freeze) simply produces a
// larger gap between two ticks; accumulator-based timers in the queue are
// built to tolerate that.
package clock

import (
	"sync"
	"time"
)

// Clock yields a monotonically non-decreasing millisecond counter.
//
// Implementations must be safe for concurrent use.
type Clock interface {
	// NowTicks returns the current tick in milliseconds. The zero point is
	// implementation-defined; only differences between ticks are meaningful.
	NowTicks() int64
}

// System returns a Clock backed by the process monotonic clock.
// Ticks start near zero at the time of the call.
func System() Clock {
	return &systemClock{start: time.Now()}
}

type systemClock struct {
	start time.Time
}

func (c *systemClock) NowTicks() int64 {
	// time.Since uses the monotonic reading carried by c.start.
	return time.Since(c.start).Milliseconds()
}

// Manual is a hand-cranked Clock for deterministic tests. It only moves
// when Advance or Set is called.
type Manual struct {
	mu sync.Mutex
	ts int64
}

// NewManual returns a Manual clock positioned at start.
func NewManual(start int64) *Manual {
	return &Manual{ts: start}
}

func (m *Manual) NowTicks() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ts
}

// Advance moves the clock forward by d. Negative values are ignored so
// the monotonic contract cannot be violated from test code.
func (m *Manual) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.ts += d.Milliseconds()
	m.mu.Unlock()
}

// Set positions the clock at ts. Attempts to move backwards are ignored.
func (m *Manual) Set(ts int64) {
	m.mu.Lock()
	if ts > m.ts {
		m.ts = ts
	}
	m.mu.Unlock()
}
