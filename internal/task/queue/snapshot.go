package queue

import "time"

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	State string `json:"state"`

	Queued    uint64 `json:"queued"`
	Completed uint64 `json:"completed"`
	Cancelled uint64 `json:"cancelled"`
	Failed    uint64 `json:"failed"`

	// CurrentSize counts live tasks: pending, the blocking slot, and
	// outstanding non-blocking tasks.
	CurrentSize int `json:"current_size"`

	CurrentTaskID     string `json:"current_task_id,omitempty"`
	CurrentTaskStatus string `json:"current_task_status,omitempty"`

	// TotalProcessing is the cumulative unpaused execution time of all
	// terminal tasks.
	TotalProcessing time.Duration `json:"total_processing"`

	History []TaskRecord `json:"history,omitempty"`
}

func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	state := q.state
	if state == StateRunning && q.current == nil && len(q.side) == 0 && len(q.pending) == 0 {
		state = StateIdle
	}

	s := Snapshot{
		State:           state.String(),
		Queued:          q.queuedTotal,
		Completed:       q.completedTotal,
		Cancelled:       q.cancelledTotal,
		Failed:          q.failedTotal,
		CurrentSize:     len(q.pending) + len(q.side),
		TotalProcessing: time.Duration(q.processingMS) * time.Millisecond,
	}
	if q.current != nil {
		s.CurrentSize++
		s.CurrentTaskID = q.current.id
		s.CurrentTaskStatus = q.current.status.String()
	}
	s.History = make([]TaskRecord, len(q.history))
	copy(s.History, q.history)
	return s
}
