package subprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// Runner executes external tools. Implementations block until the tool exits.
type Runner interface {
	// LookPath reports where tool is installed, or an error if it is absent.
	LookPath(tool string) (string, error)
	// Run executes inv and returns a *ToolError on non-zero exit.
	Run(ctx context.Context, inv Invocation) error
}

// Ensure ExecRunner satisfies the Runner interface.
var _ Runner = (*ExecRunner)(nil)

// ExecRunner runs tools as child processes of the current process.
type ExecRunner struct {
	Environment Environment
	Stdout      io.Writer
	Stderr      io.Writer
	Logger      *slog.Logger
}

func (r *ExecRunner) logger() *slog.Logger {
	if r != nil && r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// LookPath searches PATH for tool.
func (r *ExecRunner) LookPath(tool string) (string, error) {
	return exec.LookPath(tool)
}

// Run executes inv with the runner's environment snapshot plus inv.Env.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) error {
	if inv.Tool == "" {
		return errors.New("no command provided")
	}

	cmd := exec.CommandContext(ctx, inv.Tool, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = r.Environment.Merge(inv.Env)
	cmd.Stdout = firstWriter(inv.Stdout, r.Stdout, os.Stdout)
	cmd.Stderr = firstWriter(r.Stderr, os.Stderr)

	r.logger().Debug("running tool", "command", inv.String(), "dir", inv.Dir, "env", inv.Env)

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", inv.Tool, ctxErr)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return MissingDependency(inv.Tool, "")
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ToolError{Tool: inv.Tool, Args: inv.Args, ExitCode: exitErr.ExitCode(), Err: err}
	}
	return &ToolError{Tool: inv.Tool, Args: inv.Args, ExitCode: 1, Err: err}
}

func firstWriter(writers ...io.Writer) io.Writer {
	for _, w := range writers {
		if w != nil {
			return w
		}
	}
	return io.Discard
}

// Require returns an ErrMissingDependency error if tool cannot be found.
func Require(r Runner, tool, hint string) error {
	if _, err := r.LookPath(tool); err != nil {
		return MissingDependency(tool, hint)
	}
	return nil
}

// Available reports whether tool can be found.
func Available(r Runner, tool string) bool {
	_, err := r.LookPath(tool)
	return err == nil
}
