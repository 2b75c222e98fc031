// Package queue implements a cooperative, poll-driven task queue.
//
// Tasks execute in FIFO admission order. Each task is gated by a completion
// condition (immediate, predicate, external event, or delay) that is
// re-checked on every poll; nothing in this package blocks the calling
// goroutine or runs on a background goroutine of its own. The host calls
// Tick() on a steady cadence and all advancement happens inside that call.
//
// All timing uses monotonic millisecond ticks (pkg/clock), tracked as
// accumulators with pause markers so that pausing the queue or suspending
// the host process never corrupts elapsed-time accounting.
//
// Enqueue, Cancel and Snapshot may be called from any goroutine; queue
// mutation is serialized through a single mutex, and user-supplied code
// (task bodies, predicates, lifecycle callbacks) always runs with that
// mutex released.
package queue
