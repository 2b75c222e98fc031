package queue

import "time"

// TaskRecord is an immutable snapshot of a task, taken at its terminal
// transition for the history ring and the Recorder, and on lifecycle
// events for the bus.
type TaskRecord struct {
	ID       string
	CustomID string
	Status   Status
	Failure  string // empty unless Status == StatusFailed
	Attempts int

	QueuedAt   int64 // ticks; -1 = unset
	StartedAt  int64
	FinishedAt int64

	// Execution is the unpaused running time. Zero for a task that never
	// started.
	Execution time.Duration
}

// Recorder archives terminal task records. Implementations must tolerate
// being called from the queue's polling goroutine and must not call back
// into the queue.
type Recorder interface {
	Record(rec TaskRecord)
}

func newTaskRecord(t *Task, execMS int64) TaskRecord {
	r := TaskRecord{
		ID:         t.id,
		CustomID:   t.customID,
		Status:     t.status,
		Attempts:   t.attempt,
		QueuedAt:   t.queuedAt,
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
		Execution:  time.Duration(execMS) * time.Millisecond,
	}
	if t.failure != nil {
		r.Failure = t.failure.Error()
	}
	return r
}

// TaskEvent is the bus payload for task lifecycle events.
type TaskEvent struct {
	ID       string        `json:"id"`
	CustomID string        `json:"custom_id,omitempty"`
	Status   string        `json:"status"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

func newTaskEvent(rec TaskRecord) TaskEvent {
	return TaskEvent{
		ID:       rec.ID,
		CustomID: rec.CustomID,
		Status:   rec.Status.String(),
		Attempts: rec.Attempts,
		Error:    rec.Failure,
		Duration: rec.Execution,
	}
}
