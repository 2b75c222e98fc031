package queue

import "time"

// RetryPolicy controls what happens when a task's condition stalls: remains
// unmet for longer than a threshold. Retrying re-invokes the task's body
// (or Override), which matters when the side effect that should satisfy the
// condition is itself unreliable and must be re-sent.
//
// The zero value disables retry entirely (StallAfter == 0).
type RetryPolicy struct {
	// MaxAttempts bounds the number of retries. 0 means unlimited.
	// With MaxAttempts = N the body runs at most N+1 times in total, after
	// which the task fails with ErrRetriesExhausted.
	MaxAttempts int

	// StallAfter is how long the condition may stay unmet before the first
	// retry fires. 0 disables retry.
	StallAfter time.Duration

	// Delay, when set, replaces StallAfter as the threshold between
	// subsequent attempts.
	Delay time.Duration

	// Override, when set, runs on retries instead of the task's body.
	Override Action

	// OnRetry fires before each retry with the 1-based attempt number.
	OnRetry func(t *Task, attempt int)

	// OnExhausted fires when MaxAttempts is reached and the task is about
	// to fail.
	OnExhausted func(t *Task)
}

// enabled reports whether stall detection applies at all.
func (p *RetryPolicy) enabled() bool {
	return p != nil && p.StallAfter > 0
}

// threshold returns the stall threshold in ms for the given retry attempt
// counter (0 = no retry has fired yet).
func (p *RetryPolicy) threshold(attempt int) int64 {
	if attempt > 0 && p.Delay > 0 {
		return p.Delay.Milliseconds()
	}
	return p.StallAfter.Milliseconds()
}

// exhausted reports whether another retry would exceed the budget.
func (p *RetryPolicy) exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}
