package engine

import (
	"errors"
	"fmt"
)

var (
	ErrOOMKilled      = errors.New("oom killed")
	ErrTimedOut       = errors.New("timed out")
	ErrWorkflowFailed = errors.New("workflow failed")
)

// StepError reports a step that ran to completion and exited non-zero.
// It unwraps to ErrWorkflowFailed.
type StepError struct {
	Step     string
	ExitCode int64
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q exited with code %d", e.Step, e.ExitCode)
}

func (e *StepError) Unwrap() error {
	return ErrWorkflowFailed
}
