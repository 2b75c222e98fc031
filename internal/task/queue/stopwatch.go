package queue

// stopwatch is the one timing primitive in this package: an accumulator of
// unpaused milliseconds plus a pause marker. Delay conditions, per-task
// timeouts and stall detection all use it, which is what keeps elapsed-time
// accounting drift-free across Pause/Resume and host suspension.
//
// It is a plain value; callers provide the current tick and serialize
// access themselves.
type stopwatch struct {
	started     bool
	paused      bool
	accumulated int64 // ms counted while running and unpaused
	since       int64 // tick when counting last (re)started
}

func (w *stopwatch) start(now int64) {
	if w.started {
		return
	}
	w.started = true
	w.paused = false
	w.accumulated = 0
	w.since = now
}

// elapsed returns the unpaused milliseconds counted so far.
func (w *stopwatch) elapsed(now int64) int64 {
	if !w.started {
		return 0
	}
	if w.paused {
		return w.accumulated
	}
	d := now - w.since
	if d < 0 {
		d = 0
	}
	return w.accumulated + d
}

// pause freezes accumulation. Idempotent.
func (w *stopwatch) pause(now int64) {
	if !w.started || w.paused {
		return
	}
	w.accumulated = w.elapsed(now)
	w.paused = true
}

// resume unfreezes accumulation. Idempotent.
func (w *stopwatch) resume(now int64) {
	if !w.started || !w.paused {
		return
	}
	w.paused = false
	w.since = now
}

// reset zeroes the accumulator without touching the pause state.
func (w *stopwatch) reset(now int64) {
	w.accumulated = 0
	w.since = now
}
