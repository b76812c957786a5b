package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrNoModelLoaded is returned when a task arrives with no active model
	ErrNoModelLoaded = errors.New("no model loaded")

	// ErrCapabilityMismatch is returned when the loaded model cannot serve the task
	ErrCapabilityMismatch = errors.New("loaded model does not satisfy task capability")

	// ErrAdmissionRejected is returned when the degradation level gates out the allocation
	ErrAdmissionRejected = errors.New("allocation rejected by degradation policy")
)

// InsufficientMemoryError is returned when a candidate model cannot fit
// within the orchestrator's memory limit. Recoverable: the caller can
// choose a smaller model or unload first.
type InsufficientMemoryError struct {
	ModelID  string
	Required int64
	Limit    int64
}

// Error implements the error interface
func (e *InsufficientMemoryError) Error() string {
	return fmt.Sprintf("Insufficient memory: model %s requires %d bytes, limit is %d bytes",
		e.ModelID, e.Required, e.Limit)
}

// IsInsufficientMemory reports whether err is an InsufficientMemoryError
func IsInsufficientMemory(err error) bool {
	var target *InsufficientMemoryError
	return errors.As(err, &target)
}

// ModelOrchestratorError wraps a backend processing failure. The
// underlying error is surfaced verbatim; retry policy belongs to the
// caller.
type ModelOrchestratorError struct {
	TaskID string
	Err    error
}

// Error implements the error interface
func (e *ModelOrchestratorError) Error() string {
	return fmt.Sprintf("model orchestrator: task %s: %v", e.TaskID, e.Err)
}

// Unwrap returns the backend error
func (e *ModelOrchestratorError) Unwrap() error {
	return e.Err
}
