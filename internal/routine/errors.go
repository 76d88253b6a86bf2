package routine

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateTaskName = errors.New("duplicate task name")
	ErrEmptyTaskName     = errors.New("task name required")
	ErrAlreadyRunning    = errors.New("routine manager already running")
	ErrManagerClosed     = errors.New("routine manager closed")
)

// ConfigurationError reports a routine that could not be registered.
type ConfigurationError struct {
	Routine string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("routine %q: %v", e.Routine, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ExecutionError wraps a failed cycle. Panics are converted into one as well.
type ExecutionError struct {
	Routine string
	Cycle   uint64
	Err     error
	Panic   any

	stack string
}

func (e *ExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("routine %q cycle %d panicked: %v", e.Routine, e.Cycle, e.Panic)
	}
	return fmt.Sprintf("routine %q cycle %d: %v", e.Routine, e.Cycle, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
