package queue

// Status is the lifecycle state of a single task.
type Status int

const (
	StatusQueued Status = iota
	StatusExecuting
	StatusWaiting // body ran; condition polled each tick
	StatusCompleted
	StatusCancelled
	StatusFailed
)

// Terminal reports whether the status is final. A terminal task is
// immutable and no longer polled.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusExecuting:
		return "executing"
	case StatusWaiting:
		return "waiting"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the queue's own mode.
type State int

const (
	StateIdle State = iota // running, but nothing to advance
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
