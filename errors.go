package grid_go

import (
	"errors"
	"fmt"
)

var (
	// ErrBrokerStopped is returned by blocking broker calls once Stop has been called.
	ErrBrokerStopped = errors.New("task broker is stopped")

	ErrInvalidDescriptor = errors.New("invalid work descriptor")
	ErrDuplicateTask     = errors.New("task id is already tracked")

	ErrUnknownEngine     = errors.New("unknown engine")
	ErrEngineClosed      = errors.New("engine is closed")
	ErrUnknownObject     = errors.New("unknown host object")
	ErrUnknownCapability = errors.New("no capability registered for code locator")
	ErrNoOperation       = errors.New("capability has no such operation")

	// ErrTaskNotCollectable is returned when collecting a handle that has not reached Finished or Faulted.
	ErrTaskNotCollectable = errors.New("task is not in a collectable state")
)

// Task execution phases used in TaskError.
const (
	PhaseResolve     = "resolve"
	PhaseInstantiate = "instantiate"
	PhaseInvoke      = "invoke"
	PhaseRelease     = "release"
	PhaseDispatch    = "dispatch"
)

// TaskError is a failure of one descriptor on an engine.
type TaskError struct {
	TaskID string
	Phase  string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed in %s phase: %v", e.TaskID, e.Phase, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

func newTaskError(taskID, phase string, err error) error {
	return &TaskError{TaskID: taskID, Phase: phase, Err: err}
}

// TaskIDOf returns the task id carried by err when it wraps a TaskError.
func TaskIDOf(err error) (string, bool) {
	var te *TaskError
	if errors.As(err, &te) {
		return te.TaskID, true
	}
	return "", false
}
