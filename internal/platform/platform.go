package platform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ringrtc/rtcbuild/arch"
)

// ErrUnknown is returned when the toolchain identity matches no known platform.
var ErrUnknown = errors.New("unknown platform")

// Platform is the closed set of host toolchain families the addon builds on.
type Platform int

const (
	Darwin Platform = iota + 1
	Windows
	Linux
)

// All returns every platform.
func All() []Platform {
	return []Platform{Darwin, Windows, Linux}
}

// String returns the node platform name, used for output directories.
func (p Platform) String() string {
	switch p {
	case Darwin:
		return "darwin"
	case Windows:
		return "win32"
	case Linux:
		return "linux"
	default:
		return fmt.Sprintf("platform(%d)", int(p))
	}
}

// TripleSuffix returns the Rust target triple suffix for p.
func (p Platform) TripleSuffix() string {
	switch p {
	case Darwin:
		return "apple-darwin"
	case Windows:
		return "pc-windows-msvc"
	case Linux:
		return "unknown-linux-gnu"
	default:
		return ""
	}
}

// SharedLibrary returns the file name the linker gives a dynamic library
// called name.
func (p Platform) SharedLibrary(name string) string {
	switch p {
	case Darwin:
		return "lib" + name + ".dylib"
	case Windows:
		return name + ".dll"
	default:
		return "lib" + name + ".so"
	}
}

// architectures lists the targets the addon supports per platform.
var architectures = map[Platform][]arch.Architecture{
	Darwin:  {arch.X64, arch.ARM64},
	Windows: {arch.X64, arch.IA32, arch.ARM64},
	Linux:   {arch.X64, arch.ARM64},
}

// Supports reports whether the addon can be built for a on p.
func (p Platform) Supports(a arch.Architecture) bool {
	for _, candidate := range architectures[p] {
		if candidate == a {
			return true
		}
	}
	return false
}

// Detect maps a toolchain identity such as
// "stable-aarch64-apple-darwin (default)" to its platform.
func Detect(identity string) (Platform, error) {
	fields := strings.Fields(identity)
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty toolchain identity", ErrUnknown)
	}
	toolchain := fields[0]

	for _, p := range All() {
		if strings.HasSuffix(toolchain, "-"+p.TripleSuffix()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: toolchain %q; install a valid Rust toolchain via rustup", ErrUnknown, toolchain)
}

// Profile is the resolved (platform, architecture) pair for one run.
type Profile struct {
	Platform Platform
	Arch     arch.Architecture
	// Target is the Rust target triple, e.g. aarch64-apple-darwin.
	Target string
}

// NewProfile validates the combination and composes its target triple.
func NewProfile(p Platform, a arch.Architecture) (Profile, error) {
	if p.TripleSuffix() == "" {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknown, p)
	}
	if !a.IsValid() {
		return Profile{}, fmt.Errorf("%w %q", arch.ErrUnsupported, a)
	}
	if !p.Supports(a) {
		return Profile{}, fmt.Errorf("%w %q on %s", arch.ErrUnsupported, a, p)
	}
	return Profile{
		Platform: p,
		Arch:     a,
		Target:   a.Cargo() + "-" + p.TripleSuffix(),
	}, nil
}

// String returns "<platform>/<arch>".
func (p Profile) String() string {
	return p.Platform.String() + "/" + p.Arch.String()
}
