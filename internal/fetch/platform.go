package fetch

import (
	"fmt"
	"maps"
	"runtime"
	"slices"

	"github.com/ringrtc/rtcbuild/arch"
	"github.com/ringrtc/rtcbuild/internal/build"
)

// DefaultChecksums are the sha256 sums of the published prebuilds, keyed by
// prebuild platform.
var DefaultChecksums = map[string]string{
	"android":       "4986cac447c7e539210e7cc6c10b7837236085e74ffd23facfb6538c845b6b58",
	"ios":           "c55faed99b2d8cd1489f24f75a747b564c5039e6f0f1691e846c7d8aa81198c3",
	"windows-x64":   "96bbe705fbc0e1d0df9feb95c589a1bfad1ab1bdda5480e1db4ef6481d90fd76",
	"windows-arm64": "4f6fc4eb023304f90f3538a3039f1a2328bd660e9d61190f3799fa003f02059e",
	"mac-x64":       "c5edcca6875527acd86565ed7d87e96d0202addbb99a727618fccee646eda7dc",
	"mac-arm64":     "be53969d429b9284cc697455bd57438473aa6dfc51eb8b5b6e5b44fe4845cff0",
	"linux-x64":     "aafcee11a6775312e4a8529b2275b0b0b17578fc089511fa118289c0e8763d8d",
	"linux-arm64":   "2cd1b4cddf5d16bbf947cf2231cabfe732d0f396d2146d5e864782246d126842",
}

// Checksums merges overrides onto DefaultChecksums.
func Checksums(overrides map[string]string) map[string]string {
	merged := maps.Clone(DefaultChecksums)
	maps.Copy(merged, overrides)
	return merged
}

// Host is the machine a prebuild is fetched for.
type Host struct {
	// OS is a GOOS value.
	OS   string
	Arch arch.Architecture
}

// CurrentHost describes the running machine.
func CurrentHost() (Host, error) {
	a, err := arch.Host()
	if err != nil {
		return Host{}, err
	}
	return Host{OS: runtime.GOOS, Arch: a}, nil
}

// desktopFamilies maps GOOS values onto prebuild platform families.
var desktopFamilies = map[string]string{
	"darwin":  "mac",
	"linux":   "linux",
	"windows": "windows",
}

// ResolvePlatform turns a platform selector into a prebuild platform name.
// Selectors are an exact prebuild name, a family (mac, linux, windows)
// completed with the host architecture, or desktop for the host family.
func (h Host) ResolvePlatform(name string, known map[string]string) (string, error) {
	if _, ok := known[name]; ok {
		return name, nil
	}

	switch name {
	case "mac", "linux", "windows":
		switch h.Arch {
		case arch.X64, arch.ARM64:
			return h.ResolvePlatform(name+"-"+h.Arch.String(), known)
		default:
			return "", fmt.Errorf("%w %q for prebuilds", build.ErrUnsupportedArchitecture, h.Arch)
		}
	case "desktop":
		family, ok := desktopFamilies[h.OS]
		if !ok {
			return "", fmt.Errorf("%w: no desktop prebuild for %s", build.ErrUnknownPlatform, h.OS)
		}
		return h.ResolvePlatform(family, known)
	}

	return "", fmt.Errorf("%w %q (known: %v)", build.ErrUnknownPlatform, name, slices.Sorted(maps.Keys(known)))
}
