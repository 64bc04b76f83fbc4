package subprocess

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"
)

// Invocation is a single external tool call. It is built once and passed by
// value; Env only carries the overrides for this call.
type Invocation struct {
	Tool string
	Args []string
	Dir  string
	Env  []string

	// Stdout receives the tool's standard output when set. The runner's
	// default writer is used otherwise.
	Stdout io.Writer
}

// String renders the invocation as a shell-like command line for logging.
func (inv Invocation) String() string {
	if len(inv.Args) == 0 {
		return inv.Tool
	}
	return inv.Tool + " " + strings.Join(inv.Args, " ")
}

// Command is a configurable tool: an executable plus fixed leading arguments,
// e.g. "python3 -u".
type Command struct {
	Path string
	Args []string
}

// ParseCommand splits value using shell quoting rules.
func ParseCommand(value string) (Command, error) {
	fields, err := shlex.Split(value)
	if err != nil {
		return Command{}, fmt.Errorf("parse command %q: %w", value, err)
	}
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("parse command %q: empty", value)
	}
	return Command{Path: fields[0], Args: fields[1:]}, nil
}

// MustParseCommand is like ParseCommand but panics on error.
func MustParseCommand(value string) Command {
	cmd, err := ParseCommand(value)
	if err != nil {
		panic(err)
	}
	return cmd
}

// Invocation returns an invocation of c with args appended to its fixed arguments.
func (c Command) Invocation(args ...string) Invocation {
	all := make([]string, 0, len(c.Args)+len(args))
	all = append(all, c.Args...)
	all = append(all, args...)
	return Invocation{Tool: c.Path, Args: all}
}

// String returns the command line of c.
func (c Command) String() string {
	return c.Invocation().String()
}
