package subprocess

import (
	"sort"
	"strings"
)

// Environment is an immutable snapshot of process environment variables.
// Child processes receive the snapshot merged with per-invocation overrides,
// the orchestrator never mutates its own environment.
type Environment struct {
	vars map[string]string
}

// NewEnvironment captures a KEY=VALUE list, typically os.Environ().
// Later entries win over earlier ones.
func NewEnvironment(environ []string) Environment {
	vars := make(map[string]string, len(environ))
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		vars[key] = value
	}
	return Environment{vars: vars}
}

// Lookup returns the value of key and whether it is set.
func (e Environment) Lookup(key string) (string, bool) {
	value, ok := e.vars[key]
	return value, ok
}

// Get returns the value of key or "".
func (e Environment) Get(key string) string {
	return e.vars[key]
}

// Merge returns the snapshot with overrides applied as a sorted KEY=VALUE
// list. The receiver is not modified.
func (e Environment) Merge(overrides []string) []string {
	merged := make(map[string]string, len(e.vars)+len(overrides))
	for k, v := range e.vars {
		merged[k] = v
	}
	for _, entry := range overrides {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		merged[key] = value
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Var formats a KEY=VALUE override.
func Var(key, value string) string {
	return key + "=" + value
}
