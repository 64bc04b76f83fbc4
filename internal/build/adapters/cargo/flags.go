package cargo

import (
	"strings"

	"github.com/ringrtc/rtcbuild/arch"
	"github.com/ringrtc/rtcbuild/internal/build"
	"github.com/ringrtc/rtcbuild/internal/platform"
	"github.com/ringrtc/rtcbuild/internal/subprocess"
)

// MacOSDeploymentTarget is the oldest macOS release the addon supports.
const MacOSDeploymentTarget = "10.15"

// RustFlags appends the platform specific compiler flags to the caller's
// RUSTFLAGS. The caller's flags always come first and are never dropped.
func RustFlags(profile platform.Profile, project build.Project) string {
	flags := strings.Fields(project.RustFlags)

	if profile.Platform == platform.Windows {
		// The 32-bit MSVC build fails to link against the dynamic runtime.
		if profile.Arch == arch.IA32 {
			flags = append(flags, "-C", "target-feature=+crt-static")
		}
		if version, ok := linkerVersion(project.Version); ok {
			flags = append(flags, "-C", "link-arg=/VERSION:"+version)
		}
	}
	return strings.Join(flags, " ")
}

// linkerVersion reduces a project version such as 2.50.1 to the
// <major>.<minor> form the MSVC linker accepts.
func linkerVersion(version string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(version), ".", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	for _, part := range parts[:2] {
		if strings.Trim(part, "0123456789") != "" {
			return "", false
		}
	}
	return parts[0] + "." + parts[1], true
}

// Environment returns the variables every cargo invocation of a run receives.
func Environment(bctx build.BuildContext) []string {
	env := []string{
		subprocess.Var("CARGO_TARGET_DIR", bctx.Layout.CargoTargetDir()),
		subprocess.Var("OUTPUT_DIR", bctx.Layout.OutputDir),
	}
	if flags := RustFlags(bctx.Profile, bctx.Project); flags != "" {
		env = append(env, subprocess.Var("RUSTFLAGS", flags))
	}
	if bctx.Profile.Platform == platform.Darwin {
		env = append(env, subprocess.Var("MACOSX_DEPLOYMENT_TARGET", MacOSDeploymentTarget))
	}
	return env
}
