// Package subprocesstest provides a recording Runner for tests that must not
// spawn real toolchains.
package subprocesstest

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/ringrtc/rtcbuild/internal/subprocess"
)

// Handler simulates a tool. It may write files or to inv.Stdout, and its error
// is returned from Run.
type Handler func(inv subprocess.Invocation) error

// Runner records every invocation and dispatches to per-tool handlers.
// Tools listed in Missing fail LookPath; all others resolve to /usr/bin/<tool>.
type Runner struct {
	Handlers map[string]Handler
	Missing  map[string]bool

	mu    sync.Mutex
	calls []subprocess.Invocation
}

var _ subprocess.Runner = (*Runner)(nil)

// New returns an empty Runner.
func New() *Runner {
	return &Runner{
		Handlers: map[string]Handler{},
		Missing:  map[string]bool{},
	}
}

// Handle registers h for tool.
func (r *Runner) Handle(tool string, h Handler) *Runner {
	r.Handlers[tool] = h
	return r
}

// Without marks tools as not installed.
func (r *Runner) Without(tools ...string) *Runner {
	for _, tool := range tools {
		r.Missing[tool] = true
	}
	return r
}

func (r *Runner) LookPath(tool string) (string, error) {
	if r.Missing[tool] {
		return "", &exec.Error{Name: tool, Err: exec.ErrNotFound}
	}
	return "/usr/bin/" + tool, nil
}

func (r *Runner) Run(ctx context.Context, inv subprocess.Invocation) error {
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Missing[inv.Tool] {
		return subprocess.MissingDependency(inv.Tool, "")
	}
	if h, ok := r.Handlers[inv.Tool]; ok {
		return h(inv)
	}
	return nil
}

// Calls returns a copy of the recorded invocations.
func (r *Runner) Calls() []subprocess.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]subprocess.Invocation(nil), r.calls...)
}

// Tools returns the tool name of each recorded invocation, in order.
func (r *Runner) Tools() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Tool
	}
	return out
}

// Find returns the first invocation of tool whose arguments start with prefix.
func (r *Runner) Find(tool string, prefix ...string) (subprocess.Invocation, bool) {
	for _, c := range r.Calls() {
		if c.Tool != tool || len(c.Args) < len(prefix) {
			continue
		}
		if strings.Join(c.Args[:len(prefix)], "\x00") == strings.Join(prefix, "\x00") {
			return c, true
		}
	}
	return subprocess.Invocation{}, false
}

// Fail returns a handler exiting with code.
func Fail(code int) Handler {
	return func(inv subprocess.Invocation) error {
		return &subprocess.ToolError{
			Tool:     inv.Tool,
			Args:     inv.Args,
			ExitCode: code,
			Err:      fmt.Errorf("exit status %d", code),
		}
	}
}

// EnvValue returns the value of key in inv's overrides.
func EnvValue(inv subprocess.Invocation, key string) (string, bool) {
	for _, entry := range inv.Env {
		k, v, ok := strings.Cut(entry, "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}
