package build

import (
	"context"
	"errors"
	"fmt"

	"github.com/ringrtc/rtcbuild/arch"
	"github.com/ringrtc/rtcbuild/internal/platform"
	"github.com/ringrtc/rtcbuild/internal/subprocess"
)

// Error kinds surfaced by a run. All of them are terminal.
var (
	ErrInvalidArguments        = errors.New("invalid arguments")
	ErrUnsupportedArchitecture = arch.ErrUnsupported
	ErrUnknownPlatform         = platform.ErrUnknown
	ErrMissingDependency       = subprocess.ErrMissingDependency
)

// ToolError wraps a non-zero exit of an external tool.
type ToolError = subprocess.ToolError

// A BuildError represents an error that occurred while orchestrating a phase.
type BuildError struct {
	Phase   string
	Message string
	Err     error
}

// Error returns the error message.
func (e *BuildError) Error() string {
	msg := e.Message
	if e.Phase != "" {
		msg = e.Phase + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func invalidArguments(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArguments, fmt.Sprintf(format, args...))
}

// ExitCode maps err onto the process exit status: tool failures propagate the
// tool's own status, interruptions exit 130 and everything else exits 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) && toolErr.ExitCode > 0 {
		return toolErr.ExitCode
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}
