package cargo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/ringrtc/rtcbuild/arch"
	"github.com/ringrtc/rtcbuild/internal/build"
	"github.com/ringrtc/rtcbuild/internal/build/adapters/gn"
	"github.com/ringrtc/rtcbuild/internal/platform"
	"github.com/ringrtc/rtcbuild/internal/subprocess"
	"github.com/ringrtc/rtcbuild/internal/subprocess/subprocesstest"
)

const builtContents = "unstripped addon"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeToolchain simulates rustup, cargo and the binary utilities. cargo rustc
// writes the shared library where the real toolchain would.
func fakeToolchain(identity string) *subprocesstest.Runner {
	stripTo := func(inv subprocess.Invocation) error {
		i := slices.Index(inv.Args, "-o")
		if i < 0 {
			return nil
		}
		return os.WriteFile(inv.Args[i+1], []byte("stripped addon"), 0o755)
	}

	return subprocesstest.New().
		Handle("rustup", func(inv subprocess.Invocation) error {
			if inv.Args[0] == "show" && inv.Stdout != nil {
				_, err := io.WriteString(inv.Stdout, identity+"\n")
				return err
			}
			return nil
		}).
		Handle("cargo", func(inv subprocess.Invocation) error {
			if inv.Args[0] != "rustc" {
				return nil
			}
			targetDir, _ := subprocesstest.EnvValue(inv, "CARGO_TARGET_DIR")
			target := inv.Args[slices.Index(inv.Args, "--target")+1]
			bt := build.Debug
			if slices.Contains(inv.Args, "--release") {
				bt = build.Release
			}
			p, err := platform.Detect(target)
			if err != nil {
				return err
			}
			dir := filepath.Join(targetDir, target, string(bt))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			if p == platform.Windows {
				if err := os.WriteFile(filepath.Join(dir, "ringrtc.pdb"), []byte("pdb"), 0o644); err != nil {
					return err
				}
			}
			return os.WriteFile(filepath.Join(dir, p.SharedLibrary("ringrtc")), []byte(builtContents), 0o755)
		}).
		Handle("dsymutil", func(inv subprocess.Invocation) error {
			return os.MkdirAll(inv.Args[slices.Index(inv.Args, "-o")+1], 0o755)
		}).
		Handle("strip", stripTo).
		Handle("x86_64-linux-gnu-strip", stripTo).
		Handle("aarch64-linux-gnu-strip", stripTo).
		Handle("dump_syms", func(inv subprocess.Invocation) error {
			_, err := fmt.Fprintf(inv.Stdout, "MODULE %s\n", inv.Args[0])
			return err
		})
}

func newContext(t *testing.T, p platform.Platform, req build.BuildRequest) build.BuildContext {
	t.Helper()
	profile, err := platform.NewProfile(p, req.TargetArch)
	if err != nil {
		t.Fatalf("NewProfile() error = %v", err)
	}
	return build.BuildContext{
		RunID:   "test",
		Request: req,
		Profile: profile,
		Layout:  build.NewLayout(t.TempDir(), ""),
		Project: build.Project{Version: "2.50.1"},
	}
}

func newBuilder(runner subprocess.Runner) *RingRTCBuilder {
	return &RingRTCBuilder{Runner: runner, Tools: DefaultTools(), Logger: discard}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestRustFlagsAugmentCallerFlags(t *testing.T) {
	t.Parallel()

	project := build.Project{Version: "2.50.1", RustFlags: "-C opt-level=2"}
	cases := []struct {
		platform platform.Platform
		arch     arch.Architecture
		want     string
	}{
		{platform.Windows, arch.IA32, "-C opt-level=2 -C target-feature=+crt-static -C link-arg=/VERSION:2.50"},
		{platform.Windows, arch.X64, "-C opt-level=2 -C link-arg=/VERSION:2.50"},
		{platform.Linux, arch.X64, "-C opt-level=2"},
		{platform.Darwin, arch.ARM64, "-C opt-level=2"},
	}

	for _, tc := range cases {
		profile, err := platform.NewProfile(tc.platform, tc.arch)
		if err != nil {
			t.Fatalf("NewProfile() error = %v", err)
		}
		if got := RustFlags(profile, project); got != tc.want {
			t.Fatalf("%s: RustFlags() = %q, want %q", profile, got, tc.want)
		}
	}
}

func TestLinkerVersionRejectsMalformedVersions(t *testing.T) {
	t.Parallel()

	for _, version := range []string{"", "2", "2.x.1", "v2.50"} {
		if got, ok := linkerVersion(version); ok {
			t.Fatalf("linkerVersion(%q) = %q, want rejection", version, got)
		}
	}
}

func TestEnvironmentSetsDeploymentTargetOnDarwin(t *testing.T) {
	t.Parallel()

	bctx := newContext(t, platform.Darwin, build.BuildRequest{TargetArch: arch.ARM64, BuildType: build.Debug})
	inv := subprocess.Invocation{Env: Environment(bctx)}

	if v, _ := subprocesstest.EnvValue(inv, "MACOSX_DEPLOYMENT_TARGET"); v != MacOSDeploymentTarget {
		t.Fatalf("MACOSX_DEPLOYMENT_TARGET = %q", v)
	}
	if v, _ := subprocesstest.EnvValue(inv, "CARGO_TARGET_DIR"); v != bctx.Layout.CargoTargetDir() {
		t.Fatalf("CARGO_TARGET_DIR = %q", v)
	}
	if _, ok := subprocesstest.EnvValue(inv, "RUSTFLAGS"); ok {
		t.Fatal("RUSTFLAGS set although there is nothing to add")
	}
}

func TestBuildCompilesAddonForTarget(t *testing.T) {
	t.Parallel()

	runner := fakeToolchain("")
	bctx := newContext(t, platform.Linux, build.BuildRequest{TargetArch: arch.ARM64, BuildType: build.Debug, Scope: build.ScopeAll})

	if _, err := newBuilder(runner).Build(context.Background(), bctx); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, ok := runner.Find("rustup", "target", "add", "aarch64-unknown-linux-gnu"); !ok {
		t.Fatalf("target not installed: %v", runner.Tools())
	}
	compile, ok := runner.Find("cargo", "rustc")
	if !ok {
		t.Fatal("cargo rustc not invoked")
	}
	want := "rustc --package ringrtc --target aarch64-unknown-linux-gnu --features electron --crate-type cdylib"
	if got := strings.Join(compile.Args, " "); got != want {
		t.Fatalf("cargo args = %q, want %q", got, want)
	}
	if compile.Dir != bctx.Layout.ProjectDir {
		t.Fatalf("cargo ran in %q", compile.Dir)
	}
}

func TestBuildLinuxStripsOnlyReleaseBuilds(t *testing.T) {
	t.Parallel()

	for _, bt := range []build.BuildType{build.Debug, build.Release} {
		runner := fakeToolchain("").Without("dump_syms")
		bctx := newContext(t, platform.Linux, build.BuildRequest{TargetArch: arch.X64, BuildType: bt, Scope: build.ScopeRingRTCOnly})

		out, err := newBuilder(runner).Build(context.Background(), bctx)
		if err != nil {
			t.Fatalf("%s: Build() error = %v", bt, err)
		}

		addon := filepath.Join(bctx.Layout.NodeDir, "build", "linux", "libringrtc-x64.node")
		if out[0].Path != addon {
			t.Fatalf("%s: addon artifact = %q, want %q", bt, out[0].Path, addon)
		}

		strip, stripped := runner.Find("x86_64-linux-gnu-strip", "--strip-debug")
		if bt == build.Release {
			if !stripped {
				t.Fatalf("release build not stripped: %v", runner.Tools())
			}
			if got := strings.Join(strip.Args, " "); got != "--strip-debug -o "+addon+" "+filepath.Join(bctx.Layout.CargoProfileDir("x86_64-unknown-linux-gnu", bt), "libringrtc.so") {
				t.Fatalf("unexpected strip args: %q", got)
			}
			if readFile(t, addon) != "stripped addon" {
				t.Fatal("installed addon is not the stripped binary")
			}
			continue
		}
		if stripped {
			t.Fatal("debug build stripped")
		}
		if readFile(t, addon) != builtContents {
			t.Fatal("debug addon is not a plain copy")
		}
	}
}

func TestBuildLinuxFallsBackToGenericStrip(t *testing.T) {
	t.Parallel()

	runner := fakeToolchain("").Without("x86_64-linux-gnu-strip", "dump_syms")
	bctx := newContext(t, platform.Linux, build.BuildRequest{TargetArch: arch.X64, BuildType: build.Release, Scope: build.ScopeAll})

	if _, err := newBuilder(runner).Build(context.Background(), bctx); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, ok := runner.Find("strip", "--strip-debug"); !ok {
		t.Fatalf("generic strip not used: %v", runner.Tools())
	}
}

func TestBuildWindowsCopiesDebugDatabase(t *testing.T) {
	t.Parallel()

	runner := fakeToolchain("")
	bctx := newContext(t, platform.Windows, build.BuildRequest{TargetArch: arch.IA32, BuildType: build.Release, Scope: build.ScopeAll})

	out, err := newBuilder(runner).Build(context.Background(), bctx)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	dir := filepath.Join(bctx.Layout.NodeDir, "build", "win32")
	for _, name := range []string{"libringrtc-ia32.node", "libringrtc-ia32.pdb"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s not installed: %v", name, err)
		}
	}
	if slices.Contains(runner.Tools(), "strip") {
		t.Fatal("windows addon must not be stripped")
	}

	compile, _ := runner.Find("cargo", "rustc")
	flags, _ := subprocesstest.EnvValue(compile, "RUSTFLAGS")
	if !strings.Contains(flags, "+crt-static") {
		t.Fatalf("RUSTFLAGS = %q, want static runtime", flags)
	}

	dump, ok := runner.Find("dump_syms")
	if !ok || !strings.HasSuffix(dump.Args[0], "ringrtc.pdb") {
		t.Fatalf("dump_syms should read the pdb, got %+v", dump)
	}
	if len(out) != 2 {
		t.Fatalf("expected addon and symbols, got %+v", out)
	}
}

func TestBuildRunsADMTestsAfterBuild(t *testing.T) {
	t.Parallel()

	runner := fakeToolchain("")
	bctx := newContext(t, platform.Linux, build.BuildRequest{TargetArch: arch.X64, BuildType: build.Debug, Scope: build.ScopeAll, TestADM: true})

	if _, err := newBuilder(runner).Build(context.Background(), bctx); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	calls := runner.Calls()
	last := calls[len(calls)-1]
	want := "test --package ringrtc --target x86_64-unknown-linux-gnu --features electron audio_device_module_tests"
	if last.Tool != "cargo" || strings.Join(last.Args, " ") != want {
		t.Fatalf("last invocation = %s, want cargo %s", last, want)
	}
}

func TestBuildPropagatesCompileFailure(t *testing.T) {
	t.Parallel()

	runner := fakeToolchain("").Handle("cargo", subprocesstest.Fail(101))
	bctx := newContext(t, platform.Linux, build.BuildRequest{TargetArch: arch.X64, BuildType: build.Debug, Scope: build.ScopeAll, TestADM: true})

	_, err := newBuilder(runner).Build(context.Background(), bctx)
	if build.ExitCode(err) != 101 {
		t.Fatalf("ExitCode() = %d, want 101 (err = %v)", build.ExitCode(err), err)
	}
	if n := len(runner.Calls()); n != 2 {
		t.Fatalf("expected rustup and cargo only, got %v", runner.Tools())
	}
}

func TestBuildRequiresRustup(t *testing.T) {
	t.Parallel()

	runner := fakeToolchain("").Without("rustup")
	bctx := newContext(t, platform.Linux, build.BuildRequest{TargetArch: arch.X64, BuildType: build.Debug, Scope: build.ScopeAll})

	_, err := newBuilder(runner).Build(context.Background(), bctx)
	if !errors.Is(err, build.ErrMissingDependency) || !strings.Contains(err.Error(), "rustup") {
		t.Fatalf("Build() error = %v, want missing rustup", err)
	}
	if len(runner.Calls()) != 0 {
		t.Fatalf("tools invoked: %v", runner.Tools())
	}
}

func TestCleanerRunsCargoClean(t *testing.T) {
	t.Parallel()

	runner := subprocesstest.New()
	layout := build.NewLayout(t.TempDir(), "")
	cleaner := &Cleaner{Runner: runner, Cargo: DefaultTools().Cargo, Logger: discard}

	if err := cleaner.Clean(context.Background(), layout); err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	inv, ok := runner.Find("cargo", "clean")
	if !ok {
		t.Fatal("cargo clean not invoked")
	}
	if v, _ := subprocesstest.EnvValue(inv, "CARGO_TARGET_DIR"); v != layout.CargoTargetDir() {
		t.Fatalf("CARGO_TARGET_DIR = %q", v)
	}
}

// A release addon-only run on an Apple silicon host installs exactly one
// addon and one symbol file and never touches the dependency build.
func TestRingRTCOnlyReleaseOnDarwinARM64(t *testing.T) {
	t.Parallel()

	runner := fakeToolchain("stable-aarch64-apple-darwin (default)")
	projectDir := t.TempDir()

	tools := DefaultTools()
	orchestrator := &build.Orchestrator{
		Logger:          discard,
		ProfileResolver: &platform.Detector{Runner: runner, Rustup: tools.Rustup, Logger: discard},
		DependencyPhase: &gn.WebRTCBuilder{Runner: runner, Tools: gn.DefaultTools(), Logger: discard},
		AddonPhase:      &RingRTCBuilder{Runner: runner, Tools: tools, Logger: discard},
		Layout:          build.NewLayout(projectDir, ""),
		Project:         build.Project{Version: "2.50.1"},
	}

	req, clean, err := build.ParseOptions(build.Options{RingRTCOnly: true, Release: true, TargetArch: "aarch64"})
	if err != nil || clean {
		t.Fatalf("ParseOptions() = %v, %t", err, clean)
	}
	if _, err := orchestrator.Run(context.Background(), req); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	addonDir := filepath.Join(projectDir, "src", "node", "build", "darwin")
	entries, err := os.ReadDir(addonDir)
	if err != nil {
		t.Fatalf("read addon dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "libringrtc-arm64.node" {
		t.Fatalf("addon dir entries = %v, want only libringrtc-arm64.node", entries)
	}

	var symbols []string
	err = filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".sym") {
			symbols = append(symbols, path)
		}
		if d.Name() == "obj" || strings.HasSuffix(path, ".tar.bz2") || filepath.Base(path) == "LICENSE.md" {
			t.Errorf("dependency build output produced: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(symbols) != 1 {
		t.Fatalf("symbol files = %v, want exactly one", symbols)
	}
	if name := filepath.Base(symbols[0]); !strings.Contains(name, "arm64") || !strings.Contains(symbols[0], "release") {
		t.Fatalf("symbol file %q must name arm64 and release", symbols[0])
	}
	info, err := os.Stat(symbols[0])
	if err != nil {
		t.Fatalf("stat symbol file: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o644 {
		t.Fatalf("symbol file mode = %v, want 0644", info.Mode().Perm())
	}

	for _, tool := range runner.Tools() {
		if tool == "gn" || tool == "ninja" {
			t.Fatalf("dependency tool %s invoked", tool)
		}
	}
	if _, ok := runner.Find("strip", "-S"); !ok {
		t.Fatal("darwin addon not stripped")
	}
}
