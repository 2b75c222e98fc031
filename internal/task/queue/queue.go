package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tickq/internal/eventbus"
	"tickq/pkg/clock"
	"tickq/pkg/logx"
)

// Config controls queue-wide defaults.
type Config struct {
	// DefaultTimeout applies to tasks enqueued with a zero Timeout.
	// 0 means no default timeout.
	DefaultTimeout time.Duration

	// HistorySize bounds the in-memory ring of terminal task records.
	HistorySize int

	// StallWarnEvery throttles repeated stall/retry warnings in the log.
	StallWarnEvery time.Duration
}

// Queue is a sequential, poll-driven task queue. See the package doc for
// the execution model.
type Queue struct {
	mu sync.Mutex

	// tickMu keeps Tick single-flight: a concurrent or reentrant Tick is
	// dropped rather than interleaved.
	tickMu sync.Mutex

	cfg Config
	log logx.Logger
	bus eventbus.Bus
	clk clock.Clock
	rec Recorder

	state   State // StateRunning, StatePaused or StateStopped; Idle is derived
	pending []*Task
	current *Task   // blocking slot
	side    []*Task // outstanding non-blocking tasks

	queuedTotal    uint64
	completedTotal uint64
	cancelledTotal uint64
	failedTotal    uint64
	processingMS   int64

	history []TaskRecord
	warn    *rate.Limiter
}

// New returns a running queue. bus may be nil when no task will ever wait
// on external events; log may be the zero Logger.
func New(cfg Config, clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Queue {
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if cfg.StallWarnEvery <= 0 {
		cfg.StallWarnEvery = 5 * time.Second
	}
	return &Queue{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		clk:   clk,
		state: StateRunning,
		warn:  rate.NewLimiter(rate.Every(cfg.StallWarnEvery), 1),
	}
}

// SetRecorder installs a sink for terminal task records. Pass nil to
// detach. Not safe to swap while Tick is running.
func (q *Queue) SetRecorder(r Recorder) {
	q.mu.Lock()
	q.rec = r
	q.mu.Unlock()
}

// Clock returns the queue's tick source, so callers can build delay
// conditions against the same timeline.
func (q *Queue) Clock() clock.Clock { return q.clk }

// Enqueue admits a task. Admission order is FIFO. Tasks may be admitted
// while the queue is paused; they run once it resumes.
func (q *Queue) Enqueue(spec Spec) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == StateStopped {
		return nil, ErrStopped
	}
	t := newTask(q, spec, q.clk.NowTicks())
	q.pending = append(q.pending, t)
	q.queuedTotal++
	q.log.Debug("task queued",
		logx.String("id", t.id),
		logx.String("custom_id", t.customID),
		logx.Bool("blocking", t.blocking),
		logx.Int("pending", len(q.pending)))
	return t, nil
}

// Cancel cancels the live task whose system id or custom id matches.
// It reports false when no live task matches.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	t := q.findLocked(id)
	q.mu.Unlock()
	if t == nil {
		return false
	}
	return q.cancelTask(t)
}

func (q *Queue) findLocked(id string) *Task {
	if q.current != nil && (q.current.id == id || (id != "" && q.current.customID == id)) {
		return q.current
	}
	for _, t := range q.side {
		if t.id == id || (id != "" && t.customID == id) {
			return t
		}
	}
	for _, t := range q.pending {
		if t.id == id || (id != "" && t.customID == id) {
			return t
		}
	}
	return nil
}

// Pause suspends polling and freezes every per-task timer (timeout, stall,
// delay). Idempotent.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != StateRunning {
		return
	}
	q.state = StatePaused
	now := q.clk.NowTicks()
	for _, t := range q.liveStartedLocked() {
		t.runWatch.pause(now)
		t.stallWatch.pause(now)
		if pc, ok := t.cond.(pausable); ok {
			pc.Pause()
		}
	}
	q.log.Info("queue paused")
}

// Resume restarts polling and unfreezes per-task timers. Idempotent.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != StatePaused {
		return
	}
	q.state = StateRunning
	now := q.clk.NowTicks()
	for _, t := range q.liveStartedLocked() {
		t.runWatch.resume(now)
		t.stallWatch.resume(now)
		if pc, ok := t.cond.(pausable); ok {
			pc.Resume()
		}
	}
	q.log.Info("queue resumed")
}

// Stop halts the queue permanently: no further admission or advancement.
// In-flight tasks stay in their current state.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == StateStopped {
		return
	}
	q.state = StateStopped
	q.log.Info("queue stopped",
		logx.Int("pending", len(q.pending)),
		logx.Int("outstanding", len(q.side)))
}

// State reports the queue mode. A running queue with nothing to advance
// reports StateIdle.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == StateRunning && q.current == nil && len(q.side) == 0 && len(q.pending) == 0 {
		return StateIdle
	}
	return q.state
}

func (q *Queue) liveStartedLocked() []*Task {
	out := make([]*Task, 0, 1+len(q.side))
	if q.current != nil && q.current.startedAt != tickUnset {
		out = append(out, q.current)
	}
	out = append(out, q.side...)
	return out
}

// Tick advances the queue by one poll cycle. The host must call it on a
// steady cadence. A Tick overlapping another is dropped, which keeps the
// model strictly sequential even if the host misbehaves.
func (q *Queue) Tick() {
	if !q.tickMu.TryLock() {
		return
	}
	defer q.tickMu.Unlock()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != StateRunning {
		return
	}

	q.pollSideLocked()

	if q.state != StateRunning {
		return
	}
	startedBlocking := q.advanceLocked()

	// Poll the blocking slot. A task that became current this poll was
	// already evaluated once inside advanceLocked; one that completes here
	// frees the slot so the next task starts on the following poll.
	if q.state == StateRunning && !startedBlocking {
		if t := q.current; t != nil {
			q.pollTaskLocked(t)
			if t.status.Terminal() && q.current == t {
				q.current = nil
			}
		}
	}
}

// pollSideLocked multiplexes all outstanding non-blocking tasks on this
// poll. Iterates over a snapshot: finishes and cancellations mutate q.side.
func (q *Queue) pollSideLocked() {
	if len(q.side) == 0 {
		return
	}
	snap := make([]*Task, len(q.side))
	copy(snap, q.side)
	for _, t := range snap {
		if q.state != StateRunning {
			return
		}
		if t.status.Terminal() {
			q.removeSideLocked(t)
			continue
		}
		if q.pollTaskLocked(t) {
			q.removeSideLocked(t)
		}
	}
}

func (q *Queue) removeSideLocked(t *Task) {
	for i, st := range q.side {
		if st == t {
			q.side = append(q.side[:i], q.side[i+1:]...)
			return
		}
	}
}

// advanceLocked pops and starts queued tasks: non-blocking ones are
// dispatched (completed or parked on the side list) without occupying the
// slot, so they never delay the task behind them. It stops once a blocking
// task holds the slot. Reports whether a blocking task was started on this
// poll.
func (q *Queue) advanceLocked() bool {
	for q.state == StateRunning && q.current == nil && len(q.pending) > 0 {
		t := q.pending[0]
		q.pending = q.pending[1:]
		q.current = t

		q.startLocked(t)

		if t.status.Terminal() {
			if q.current == t {
				q.current = nil
			}
			continue
		}
		if t.blocking {
			// First evaluation on the same poll the task starts. If it
			// goes terminal here, the slot frees but the next task still
			// waits for the following poll.
			if q.pollTaskLocked(t) && t.status.Terminal() && q.current == t {
				q.current = nil
			}
			return true
		}

		// Non-blocking: evaluate once now; unmet conditions park the task
		// on the side list and the slot frees up within the same poll.
		done := q.pollTaskLocked(t)
		if q.current == t {
			q.current = nil
		}
		if !done && !t.status.Terminal() {
			q.side = append(q.side, t)
		}
	}
	return false
}

// startLocked runs the task body (if any) and moves the task to
// StatusWaiting. A body error or panic fails the task in place.
func (q *Queue) startLocked(t *Task) {
	now := q.clk.NowTicks()
	t.status = StatusExecuting
	t.startedAt = now
	t.runWatch.start(now)
	t.stallWatch.start(now)

	q.log.Debug("task started", logx.String("id", t.id), logx.Bool("blocking", t.blocking))
	q.publishLocked("task.started", t)

	if t.status.Terminal() {
		// Cancelled from a bus subscriber.
		return
	}
	if t.action != nil {
		if err := q.runUserLocked(t.action); err != nil {
			if !t.status.Terminal() {
				q.finishLocked(t, StatusFailed, err)
			}
			return
		}
	}
	if t.status == StatusExecuting {
		t.status = StatusWaiting
	}
}

// pollTaskLocked runs one poll cycle for a started task: timeout, then
// condition, then stall/retry. Reports whether the task is done (terminal
// or otherwise finished with polling).
func (q *Queue) pollTaskLocked(t *Task) bool {
	if t.status != StatusWaiting {
		return t.status.Terminal()
	}
	now := q.clk.NowTicks()

	if t.timedOutLocked(now) {
		q.finishLocked(t, StatusFailed, ErrTimeout)
		return true
	}

	met := q.evalCondLocked(t)
	if t.status.Terminal() {
		// Cancelled while the predicate ran.
		return true
	}
	if met {
		q.finishLocked(t, StatusCompleted, nil)
		return true
	}

	return q.checkStallLocked(t)
}

// checkStallLocked applies the retry protocol when the condition has been
// unmet beyond the policy threshold. Returns true only when the task went
// terminal.
func (q *Queue) checkStallLocked(t *Task) bool {
	rp := t.retry
	if !rp.enabled() {
		return false
	}
	now := q.clk.NowTicks()
	if t.stallWatch.elapsed(now) < rp.threshold(t.attempt) {
		return false
	}

	if rp.exhausted(t.attempt) {
		if rp.OnExhausted != nil {
			q.runHookLocked(func() { rp.OnExhausted(t) })
			if t.status.Terminal() {
				return true
			}
		}
		q.finishLocked(t, StatusFailed, ErrRetriesExhausted)
		return true
	}

	attempt := t.attempt + 1
	if rp.OnRetry != nil {
		q.runHookLocked(func() { rp.OnRetry(t, attempt) })
		if t.status.Terminal() {
			return true
		}
	}

	body := rp.Override
	if body == nil {
		body = t.action
	}
	if body != nil {
		if err := q.runUserLocked(body); err != nil {
			if !t.status.Terminal() {
				q.finishLocked(t, StatusFailed, err)
			}
			return true
		}
		if t.status.Terminal() {
			return true
		}
	}

	t.attempt = attempt
	t.stallWatch.reset(q.clk.NowTicks())
	if q.warn.Allow() {
		q.log.Warn("task stalled, retrying",
			logx.String("id", t.id),
			logx.Int("attempt", attempt),
			logx.Int("max_attempts", rp.MaxAttempts))
	}
	q.publishLocked("task.retry", t)
	return false
}

// cancelTask is the single cancellation path. It reports false for a task
// that is not live in this queue.
func (q *Queue) cancelTask(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.status.Terminal() {
		return false
	}
	if q.findLocked(t.id) != t {
		return false
	}
	// Remove from wherever it lives.
	if q.current == t {
		q.current = nil
	}
	q.removeSideLocked(t)
	for i, pt := range q.pending {
		if pt == t {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	q.finishLocked(t, StatusCancelled, nil)
	return true
}

// finishLocked performs the one terminal transition of a task's life:
// bookkeeping under the lock, then recorder, lifecycle callback and bus
// publish with the lock released.
func (q *Queue) finishLocked(t *Task, st Status, failure error) {
	now := q.clk.NowTicks()
	t.status = st
	t.failure = failure
	t.finishedAt = now

	exec := int64(0)
	if t.startedAt != tickUnset {
		exec = t.runWatch.elapsed(now)
	}
	q.processingMS += exec

	var evType string
	var cb func(*Task)
	switch st {
	case StatusCompleted:
		q.completedTotal++
		evType = "task.completed"
		cb = t.onCompleted
	case StatusCancelled:
		q.cancelledTotal++
		evType = "task.cancelled"
		cb = t.onCancelled
	case StatusFailed:
		q.failedTotal++
		evType = "task.failed"
		cb = t.onFailed
	}

	// A still-armed event subscription must not outlive the task.
	if ec, ok := t.cond.(*EventCondition); ok {
		ec.Close()
	}

	rec := newTaskRecord(t, exec)
	q.history = append(q.history, rec)
	if len(q.history) > q.cfg.HistorySize {
		q.history = q.history[len(q.history)-q.cfg.HistorySize:]
	}

	if st == StatusFailed {
		q.log.Warn("task failed",
			logx.String("id", t.id),
			logx.Err(failure),
			logx.Int("attempts", t.attempt),
			logx.Duration("execution", time.Duration(exec)*time.Millisecond))
	} else {
		q.log.Debug("task "+st.String(),
			logx.String("id", t.id),
			logx.Duration("execution", time.Duration(exec)*time.Millisecond))
	}

	if (st == StatusFailed && t.stopOnFail) || (st == StatusCancelled && t.stopOnCancel) {
		q.state = StateStopped
		q.log.Warn("queue halted by task", logx.String("id", t.id), logx.String("status", st.String()))
	}

	recd := q.rec
	bus := q.bus
	ev := eventbus.Event{Type: evType, Data: newTaskEvent(rec)}
	q.mu.Unlock()
	if recd != nil {
		recd.Record(rec)
	}
	if cb != nil {
		cb(t)
	}
	if bus != nil {
		bus.Publish(ev)
	}
	q.mu.Lock()
}

// evalCondLocked evaluates the condition with the lock released; predicate
// conditions run arbitrary caller code.
func (q *Queue) evalCondLocked(t *Task) bool {
	cond := t.cond
	q.mu.Unlock()
	defer q.mu.Lock()
	return cond.IsMet()
}

// runUserLocked invokes a task body with the lock released, converting a
// returned error or panic into a *FaultError. One bad task never takes
// down the poll loop.
func (q *Queue) runUserLocked(fn Action) (fault error) {
	q.mu.Unlock()
	defer q.mu.Lock()
	defer func() {
		if r := recover(); r != nil {
			fault = &FaultError{Recovered: r}
		}
	}()
	if err := fn(); err != nil {
		fault = &FaultError{Err: err}
	}
	return fault
}

// runHookLocked invokes a retry hook with the lock released; hook panics
// are swallowed so diagnostics code cannot wedge the queue.
func (q *Queue) runHookLocked(fn func()) {
	q.mu.Unlock()
	defer q.mu.Lock()
	defer func() { _ = recover() }()
	fn()
}

// publishLocked emits a lifecycle event with the lock released. The
// payload is built under the lock so a concurrent Cancel cannot race it.
func (q *Queue) publishLocked(evType string, t *Task) {
	bus := q.bus
	if bus == nil {
		return
	}
	ev := eventbus.Event{Type: evType, Data: newTaskEvent(newTaskRecord(t, 0))}
	q.mu.Unlock()
	defer q.mu.Lock()
	bus.Publish(ev)
}
