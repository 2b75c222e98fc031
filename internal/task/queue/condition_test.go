package queue

import (
	"testing"
	"time"

	"tickq/internal/eventbus"
	"tickq/pkg/clock"
)

func TestImmediatelyAlwaysMet(t *testing.T) {
	t.Parallel()
	c := Immediately()
	if !c.IsMet() || !c.IsMet() {
		t.Fatal("Immediately must always be met")
	}
}

func TestWhenTracksPredicate(t *testing.T) {
	t.Parallel()
	ok := false
	c := When(func() bool { return ok })
	if c.IsMet() {
		t.Fatal("predicate should be unmet")
	}
	ok = true
	if !c.IsMet() {
		t.Fatal("predicate should be met")
	}
}

func TestWhenNilIsImmediate(t *testing.T) {
	t.Parallel()
	if !When(nil).IsMet() {
		t.Fatal("nil predicate should behave as Immediately")
	}
}

func TestDelayMetAfterTarget(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(0)
	c := After(100*time.Millisecond, clk)

	if c.IsMet() {
		t.Fatal("met at 0ms")
	}
	clk.Advance(99 * time.Millisecond)
	if c.IsMet() {
		t.Fatal("met at 99ms")
	}
	clk.Advance(time.Millisecond)
	if !c.IsMet() {
		t.Fatal("unmet at 100ms")
	}
}

// Pausing must subtract the paused interval exactly: the condition becomes
// true only after the target amount of unpaused time.
func TestDelayPauseExcludesPausedTime(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(0)
	c := After(100*time.Millisecond, clk)

	_ = c.IsMet() // start accumulating
	clk.Advance(40 * time.Millisecond)
	c.Pause()
	clk.Advance(10 * time.Hour) // host suspended; must not count
	if c.IsMet() {
		t.Fatal("met while paused")
	}
	c.Resume()
	clk.Advance(59 * time.Millisecond)
	if c.IsMet() {
		t.Fatalf("met at 99ms unpaused (elapsed=%v)", c.Elapsed())
	}
	clk.Advance(time.Millisecond)
	if !c.IsMet() {
		t.Fatalf("unmet at 100ms unpaused (elapsed=%v)", c.Elapsed())
	}
}

func TestDelayPauseResumeIdempotent(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(0)
	c := After(50*time.Millisecond, clk)

	_ = c.IsMet()
	clk.Advance(20 * time.Millisecond)
	c.Pause()
	c.Pause() // no-op
	clk.Advance(time.Hour)
	c.Resume()
	c.Resume() // no-op
	clk.Advance(29 * time.Millisecond)
	if c.IsMet() {
		t.Fatal("met at 49ms unpaused")
	}
	clk.Advance(time.Millisecond)
	if !c.IsMet() {
		t.Fatal("unmet at 50ms unpaused")
	}
}

func TestDelayPauseBeforeFirstPoll(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(0)
	c := After(10*time.Millisecond, clk)

	c.Pause()
	clk.Advance(time.Hour)
	c.Resume()
	if c.IsMet() {
		t.Fatal("pre-poll pause leaked time into the accumulator")
	}
	clk.Advance(10 * time.Millisecond)
	if !c.IsMet() {
		t.Fatal("unmet after 10ms unpaused")
	}
}

func TestEventConditionLatches(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	c := WhenEvent(bus, "build.done", nil)

	if c.IsMet() {
		t.Fatal("met before any event")
	}
	bus.Publish(eventbus.Event{Type: "build.failed"})
	if c.IsMet() {
		t.Fatal("latched on wrong event type")
	}
	bus.Publish(eventbus.Event{Type: "build.done"})
	if !c.IsMet() {
		t.Fatal("did not latch")
	}
	// Latch is one-way and survives further traffic.
	bus.Publish(eventbus.Event{Type: "build.done"})
	if !c.IsMet() {
		t.Fatal("latch cleared")
	}
}

// The subscription is taken at construction, so an event published before
// the owning task ever gets polled still satisfies the condition.
func TestEventConditionNoLostEventBeforeStart(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	c := WhenEvent(bus, "ready", nil)
	bus.Publish(eventbus.Event{Type: "ready"})
	if !c.IsMet() {
		t.Fatal("event published before first poll was lost")
	}
}

func TestEventConditionFilter(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	c := WhenEvent(bus, "result", func(e eventbus.Event) bool {
		n, ok := e.Data.(int)
		return ok && n >= 10
	})

	bus.Publish(eventbus.Event{Type: "result", Data: 3})
	if c.IsMet() {
		t.Fatal("latched on filtered-out event")
	}
	bus.Publish(eventbus.Event{Type: "result", Data: 12})
	if !c.IsMet() {
		t.Fatal("did not latch on matching event")
	}
}

func TestEventConditionCloseDropsSubscription(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	c := WhenEvent(bus, "late", nil)
	c.Close()
	bus.Publish(eventbus.Event{Type: "late"})
	if c.IsMet() {
		t.Fatal("latched after Close")
	}
}
