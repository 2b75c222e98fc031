package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"tickq/internal/eventbus"
	"tickq/pkg/clock"
)

// Condition gates a task's completion. IsMet is re-evaluated on every poll
// and must be cheap; it may consult internal timers or latches but never
// queue state.
type Condition interface {
	IsMet() bool
}

// pausable is implemented by conditions that track elapsed time and need to
// freeze it while the queue is paused.
type pausable interface {
	Pause()
	Resume()
}

// ---- immediate ----

type immediateCond struct{}

func (immediateCond) IsMet() bool { return true }

// Immediately returns a condition that is always satisfied: the task
// completes on the same poll its body runs.
func Immediately() Condition { return immediateCond{} }

// ---- predicate ----

type predicateCond struct {
	fn func() bool
}

func (c predicateCond) IsMet() bool { return c.fn() }

// When returns a condition satisfied whenever fn reports true. fn is
// invoked once per poll and must not block.
func When(fn func() bool) Condition {
	if fn == nil {
		return Immediately()
	}
	return predicateCond{fn: fn}
}

// ---- external event ----

// EventCondition latches once a matching event is observed on the bus.
//
// The subscription is taken at construction time, not when the owning task
// starts, so an event fired between enqueue and first poll is not lost.
// The latch is one-way: it is set by the bus callback and never cleared.
type EventCondition struct {
	met   atomic.Bool
	unsub atomic.Pointer[func()]
}

// WhenEvent subscribes to bus for events of the given type (optionally
// narrowed by filter) and returns a condition satisfied once the first
// match is delivered. The subscription removes itself after that first
// match.
func WhenEvent(bus eventbus.Bus, eventType string, filter func(eventbus.Event) bool) *EventCondition {
	c := &EventCondition{}
	unsub := bus.Subscribe(eventType, filter, func(eventbus.Event) {
		c.met.Store(true)
		// A match delivered while Subscribe is still returning finds no
		// pointer yet; the queue's Close at task finish cleans up then.
		c.Close()
	})
	c.unsub.Store(&unsub)
	return c
}

func (c *EventCondition) IsMet() bool { return c.met.Load() }

// Close drops the subscription without satisfying the condition. The queue
// calls this when the owning task reaches a terminal state before the
// event arrives.
func (c *EventCondition) Close() {
	if u := c.unsub.Load(); u != nil {
		(*u)()
	}
}

// ---- delay ----

// DelayCondition is satisfied after a target amount of unpaused time has
// accumulated. Accumulation starts on the first IsMet poll; Pause and
// Resume are idempotent.
type DelayCondition struct {
	mu     sync.Mutex
	clk    clock.Clock
	target int64 // ms
	watch  stopwatch
}

// After returns a condition satisfied once d of unpaused time has elapsed,
// measured from the first poll.
func After(d time.Duration, clk clock.Clock) *DelayCondition {
	return &DelayCondition{clk: clk, target: d.Milliseconds()}
}

func (c *DelayCondition) IsMet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.NowTicks()
	if !c.watch.started {
		c.watch.start(now)
	}
	return c.watch.elapsed(now) >= c.target
}

// Pause freezes the elapsed-time accumulator. Calling it again without an
// intervening Resume is a no-op.
func (c *DelayCondition) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.watch.started {
		// Not yet polled: start frozen so no pre-poll time leaks in.
		c.watch.start(c.clk.NowTicks())
	}
	c.watch.pause(c.clk.NowTicks())
}

// Resume unfreezes the accumulator. Idempotent.
func (c *DelayCondition) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watch.resume(c.clk.NowTicks())
}

// Elapsed reports the unpaused time counted so far.
func (c *DelayCondition) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.watch.elapsed(c.clk.NowTicks())) * time.Millisecond
}
