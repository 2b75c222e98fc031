package queue

import (
	"time"

	"github.com/google/uuid"
)

// Action is a task body. It must be short and non-blocking; a returned
// error or a panic fails the task with a FaultError.
type Action func() error

// Spec describes a task to enqueue. The zero value of every field is
// valid: a nil Action gates on the condition alone, a nil Condition means
// Immediately(), a zero Timeout falls back to the queue default.
type Spec struct {
	// CustomID is an optional caller-chosen identifier, usable with
	// Queue.Cancel alongside the system-assigned id.
	CustomID string

	Action    Action
	Condition Condition
	Retry     *RetryPolicy

	// Blocking tasks hold the queue until terminal; non-blocking tasks are
	// multiplexed so later tasks are not delayed.
	Blocking bool

	// Timeout bounds unpaused running time. 0 uses the queue default;
	// a negative value disables the timeout explicitly.
	Timeout time.Duration

	OnCompleted func(*Task)
	OnCancelled func(*Task)
	OnFailed    func(*Task)

	// Meta is opaque to the queue and carried into clones and records.
	Meta map[string]any

	// StopOnFail / StopOnCancel halt the whole queue when this task fails
	// or is cancelled. This is the only cross-task propagation path.
	StopOnFail   bool
	StopOnCancel bool
}

const tickUnset = int64(-1)

// Task is the live handle for an enqueued unit of work. All mutation
// happens inside the owning queue; accessors are safe from any goroutine.
// A detached clone has no owner and is immutable.
type Task struct {
	q *Queue // nil when detached

	id       string
	customID string

	action   Action
	cond     Condition
	retry    *RetryPolicy
	blocking bool
	timeout  int64 // ms; 0 = none

	onCompleted func(*Task)
	onCancelled func(*Task)
	onFailed    func(*Task)

	status  Status
	failure error

	queuedAt   int64
	startedAt  int64
	finishedAt int64

	runWatch   stopwatch // unpaused running time; feeds timeout + stats
	stallWatch stopwatch // unpaused time since the condition was last expected to fire

	attempt int // retries fired so far; 0 = first try

	meta         map[string]any
	stopOnFail   bool
	stopOnCancel bool
}

func newTask(q *Queue, spec Spec, now int64) *Task {
	cond := spec.Condition
	if cond == nil {
		cond = Immediately()
	}
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = q.cfg.DefaultTimeout
	}
	if timeout < 0 {
		timeout = 0
	}
	return &Task{
		q:            q,
		id:           uuid.NewString(),
		customID:     spec.CustomID,
		action:       spec.Action,
		cond:         cond,
		retry:        spec.Retry,
		blocking:     spec.Blocking,
		timeout:      timeout.Milliseconds(),
		onCompleted:  spec.OnCompleted,
		onCancelled:  spec.OnCancelled,
		onFailed:     spec.OnFailed,
		status:       StatusQueued,
		queuedAt:     now,
		startedAt:    tickUnset,
		finishedAt:   tickUnset,
		meta:         spec.Meta,
		stopOnFail:   spec.StopOnFail,
		stopOnCancel: spec.StopOnCancel,
	}
}

func (t *Task) lock() func() {
	if t.q == nil {
		return func() {}
	}
	t.q.mu.Lock()
	return t.q.mu.Unlock
}

func (t *Task) ID() string       { return t.id }
func (t *Task) CustomID() string { return t.customID }
func (t *Task) IsBlocking() bool { return t.blocking }

func (t *Task) Status() Status {
	defer t.lock()()
	return t.status
}

// Err returns the recorded failure: ErrTimeout, ErrRetriesExhausted or a
// *FaultError. Nil unless Status is StatusFailed.
func (t *Task) Err() error {
	defer t.lock()()
	return t.failure
}

// Attempt returns how many retries have fired. 0 means the first try.
func (t *Task) Attempt() int {
	defer t.lock()()
	return t.attempt
}

// Meta returns the opaque metadata attached at enqueue time.
func (t *Task) Meta() map[string]any { return t.meta }

// Cancel requests cancellation through the owning queue. It reports false
// for a detached or already-terminal task; on success the task is
// Cancelled, OnCancelled has fired, and no further transition will occur.
func (t *Task) Cancel() bool {
	q := t.q
	if q == nil {
		return false
	}
	return q.cancelTask(t)
}

// HasTimedOut reports whether the task has started and its unpaused
// running time exceeds the timeout. Always false without a timeout.
func (t *Task) HasTimedOut() bool {
	q := t.q
	if q == nil || t.timeout <= 0 {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return t.timedOutLocked(q.clk.NowTicks())
}

func (t *Task) timedOutLocked(now int64) bool {
	return t.timeout > 0 && t.startedAt != tickUnset && t.runWatch.elapsed(now) > t.timeout
}

// TotalTime is the time from admission to the terminal tick, or to the
// live tick if the task is still in flight.
func (t *Task) TotalTime() time.Duration {
	defer t.lock()()
	return ticksToDuration(t.queuedAt, t.finishedAt, t.liveTick())
}

// ExecutionTime is the time from start to the terminal tick (or live
// tick). It is zero before the task starts.
func (t *Task) ExecutionTime() time.Duration {
	defer t.lock()()
	if t.startedAt == tickUnset {
		return 0
	}
	return ticksToDuration(t.startedAt, t.finishedAt, t.liveTick())
}

func (t *Task) liveTick() int64 {
	if t.q == nil {
		return tickUnset
	}
	return t.q.clk.NowTicks()
}

func ticksToDuration(from, finished, live int64) time.Duration {
	end := finished
	if end == tickUnset {
		end = live
	}
	if from == tickUnset || end == tickUnset || end < from {
		return 0
	}
	return time.Duration(end-from) * time.Millisecond
}

// Clone produces a detached copy: new identity, no owner, retry counter
// reset. The body, condition reference, callbacks, timeout, metadata and
// stop flags carry over, as do the status, timestamps and failure so the
// copy can serve as a historical record independent of the live instance.
func (t *Task) Clone() *Task {
	defer t.lock()()
	cp := *t
	cp.q = nil
	cp.id = uuid.NewString()
	cp.attempt = 0
	if t.meta != nil {
		cp.meta = make(map[string]any, len(t.meta))
		for k, v := range t.meta {
			cp.meta[k] = v
		}
	}
	return &cp
}
