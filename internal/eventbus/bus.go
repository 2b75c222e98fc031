package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST NOT be used for control flow in the publisher.
//   - Subscriber callbacks run synchronously on the publishing goroutine
//     and must be short and non-blocking.
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe registers fn for events whose Type equals eventType.
	// A nil filter matches every event of that type. The returned func
	// removes the subscription; it is safe to call more than once and
	// safe to call from inside the callback itself.
	Subscribe(eventType string, filter func(Event) bool, fn func(Event)) (unsubscribe func())
}

// New returns a simple in-memory bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscription{}}
}

type subscription struct {
	typ    string
	filter func(Event) bool
	fn     func(Event)
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscription
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so callbacks can unsubscribe (or subscribe)
	// without deadlocking against the bus lock.
	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.typ != e.Type {
			continue
		}
		matched = append(matched, s)
	}
	b.mu.RUnlock()

	for _, s := range matched {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		s.fn(e)
	}
}

func (b *memBus) Subscribe(eventType string, filter func(Event) bool, fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = &subscription{typ: eventType, filter: filter, fn: fn}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}
