package subprocess

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingDependency is returned when a required tool cannot be found on PATH.
var ErrMissingDependency = errors.New("missing dependency")

// MissingDependency builds an ErrMissingDependency error naming tool.
func MissingDependency(tool, hint string) error {
	if hint == "" {
		return fmt.Errorf("%w: %s not found on PATH", ErrMissingDependency, tool)
	}
	return fmt.Errorf("%w: %s not found on PATH (%s)", ErrMissingDependency, tool, hint)
}

// A ToolError reports a non-zero exit from an external tool.
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Err      error
}

// Error returns the error message.
func (e *ToolError) Error() string {
	command := e.Tool
	if len(e.Args) > 0 {
		command += " " + strings.Join(e.Args, " ")
	}
	if e.Err == nil {
		return fmt.Sprintf("%s exited with status %d", command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %v", command, e.ExitCode, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
