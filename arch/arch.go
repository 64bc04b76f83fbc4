package arch

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrUnsupported is returned for architecture spellings outside the alias table.
var ErrUnsupported = errors.New("unsupported architecture")

// Architecture is the canonical target architecture used in artifact names.
type Architecture string

const (
	X64   Architecture = "x64"
	IA32  Architecture = "ia32"
	ARM64 Architecture = "arm64"
)

// Names is the pair of spellings the external toolchains expect for an architecture.
type Names struct {
	// GN is the value handed to the build-graph generator as target_cpu.
	GN string
	// Cargo is the architecture prefix of the Rust target triple.
	Cargo string
}

var names = map[Architecture]Names{
	X64:   {GN: "x64", Cargo: "x86_64"},
	IA32:  {GN: "x86", Cargo: "i686"},
	ARM64: {GN: "arm64", Cargo: "aarch64"},
}

var aliases = map[string]Architecture{
	"x64":     X64,
	"x86_64":  X64,
	"amd64":   X64,
	"ia32":    IA32,
	"arm64":   ARM64,
	"aarch64": ARM64,
}

// goarch maps runtime.GOARCH values onto canonical architectures.
var goarch = map[string]Architecture{
	"amd64": X64,
	"386":   IA32,
	"arm64": ARM64,
}

// Supported returns the canonical architectures in a stable order.
func Supported() []Architecture {
	return []Architecture{X64, IA32, ARM64}
}

// IsValid reports whether a is a canonical architecture.
func (a Architecture) IsValid() bool {
	_, ok := names[a]
	return ok
}

// String returns the architecture as string.
func (a Architecture) String() string {
	return string(a)
}

// Names returns the toolchain spellings for a. The zero value is returned for
// invalid architectures.
func (a Architecture) Names() Names {
	return names[a]
}

// GN returns the build-graph generator spelling of a.
func (a Architecture) GN() string {
	return names[a].GN
}

// Cargo returns the Rust target triple prefix of a.
func (a Architecture) Cargo() string {
	return names[a].Cargo
}

// Parse returns the canonical Architecture for value or an error wrapping
// ErrUnsupported. There is no fallback for unknown spellings.
func Parse(value string) (Architecture, error) {
	if a := Normalize(value); a != "" {
		return a, nil
	}
	return "", fmt.Errorf("%w %q (accepted: %s)", ErrUnsupported, value, strings.Join(aliasStrings(), ", "))
}

// MustParse is like Parse but panics on error.
func MustParse(value string) Architecture {
	a, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return a
}

// Normalize maps an accepted spelling to its canonical Architecture. Returns ""
// when the spelling is not in the alias table.
func Normalize(value string) Architecture {
	return aliases[strings.ToLower(strings.TrimSpace(value))]
}

// Host returns the canonical architecture of the running process.
func Host() (Architecture, error) {
	return fromGOARCH(runtime.GOARCH)
}

func fromGOARCH(value string) (Architecture, error) {
	if a, ok := goarch[value]; ok {
		return a, nil
	}
	return "", fmt.Errorf("%w: host %q", ErrUnsupported, value)
}

// Resolve returns the architecture named by value, or the host architecture
// when value is empty.
func Resolve(value string) (Architecture, error) {
	if strings.TrimSpace(value) == "" {
		return Host()
	}
	return Parse(value)
}

func aliasStrings() []string {
	out := make([]string, 0, len(aliases))
	for alias := range aliases {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}
