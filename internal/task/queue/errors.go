package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrStopped is returned by Enqueue after Stop().
	ErrStopped = errors.New("queue stopped")

	// ErrTimeout is the failure recorded when a task's running time
	// exceeds its timeout.
	ErrTimeout = errors.New("task timed out")

	// ErrRetriesExhausted is the failure recorded when a task's condition
	// never became true within its retry budget.
	ErrRetriesExhausted = errors.New("retry attempts exhausted")
)

// FaultError records a task body failure: either a returned error or a
// recovered panic. It never propagates out of Tick(); it is surfaced via
// Task.Err() and the OnFailed callback.
type FaultError struct {
	Err       error // non-nil when the body returned an error
	Recovered any   // non-nil when the body panicked
}

func (e *FaultError) Error() string {
	if e.Recovered != nil {
		return fmt.Sprintf("task body panicked: %v", e.Recovered)
	}
	return fmt.Sprintf("task body failed: %v", e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }
