package cargo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ringrtc/rtcbuild/internal/artifacts"
	"github.com/ringrtc/rtcbuild/internal/build"
	"github.com/ringrtc/rtcbuild/internal/subprocess"
)

var (
	_ build.Phase   = (*RingRTCBuilder)(nil)
	_ build.Cleaner = (*Cleaner)(nil)
)

const (
	packageName = "ringrtc"
	feature     = "electron"
	admTests    = "audio_device_module_tests"
)

// Tools are the external commands the addon build invokes.
type Tools struct {
	Rustup   subprocess.Command
	Cargo    subprocess.Command
	Dsymutil subprocess.Command
	// Strip is the generic strip used on Darwin and as the Linux fallback.
	Strip    subprocess.Command
	DumpSyms subprocess.Command
}

// DefaultTools returns the toolchain commands found on a typical PATH.
func DefaultTools() Tools {
	return Tools{
		Rustup:   subprocess.MustParseCommand("rustup"),
		Cargo:    subprocess.MustParseCommand("cargo"),
		Dsymutil: subprocess.MustParseCommand("dsymutil"),
		Strip:    subprocess.MustParseCommand("strip"),
		DumpSyms: subprocess.MustParseCommand("dump_syms"),
	}
}

// RingRTCBuilder compiles the addon as a cdylib and installs it where the
// node packaging expects it.
type RingRTCBuilder struct {
	Runner subprocess.Runner
	Tools  Tools
	Logger *slog.Logger
}

func (b *RingRTCBuilder) logger() *slog.Logger {
	if b != nil && b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Name identifies the phase in logs.
func (b *RingRTCBuilder) Name() string {
	return "ringrtc"
}

// Build installs the target, compiles the addon, post-processes the binary
// for the platform and optionally emits symbols and runs the ADM tests.
func (b *RingRTCBuilder) Build(ctx context.Context, bctx build.BuildContext) ([]artifacts.Artifact, error) {
	if b.Runner == nil {
		return nil, &build.BuildError{Phase: b.Name(), Message: "runner is not configured"}
	}
	if err := subprocess.Require(b.Runner, b.Tools.Rustup.Path, "make sure rustup is installed and configured"); err != nil {
		return nil, err
	}
	if err := subprocess.Require(b.Runner, b.Tools.Cargo.Path, "install a Rust toolchain via rustup"); err != nil {
		return nil, err
	}

	req := bctx.Request
	logger := b.logger().With("run_id", bctx.RunID, "target", bctx.Profile.Target)
	env := Environment(bctx)

	addTarget := b.Tools.Rustup.Invocation("target", "add", bctx.Profile.Target)
	logger.Info("running tool", "command", addTarget.String())
	if err := b.Runner.Run(ctx, addTarget); err != nil {
		return nil, err
	}

	compile := b.Tools.Cargo.Invocation(b.cargoArgs("rustc", bctx, "--crate-type", "cdylib")...)
	compile.Dir = bctx.Layout.ProjectDir
	compile.Env = env
	logger.Info("building ringrtc", "command", compile.String(), "env", env)
	if err := b.Runner.Run(ctx, compile); err != nil {
		return nil, err
	}

	installed, err := b.install(ctx, bctx, logger)
	if err != nil {
		return nil, err
	}

	library, err := artifacts.Describe(artifacts.LibraryArtifact, installed.addon, map[string]any{
		"platform": bctx.Profile.Platform.String(),
		"arch":     req.TargetArch.String(),
	})
	if err != nil {
		return nil, err
	}
	produced := []artifacts.Artifact{library}

	if req.BuildType == build.Release {
		symbols, ok, err := b.dumpSymbols(ctx, bctx, installed.debugInfo, logger)
		if err != nil {
			return nil, err
		}
		if ok {
			produced = append(produced, symbols)
		}
	}

	if req.TestADM {
		test := b.Tools.Cargo.Invocation(b.cargoArgs("test", bctx, admTests)...)
		test.Dir = bctx.Layout.ProjectDir
		test.Env = env
		logger.Info("running audio device module tests", "command", test.String())
		if err := b.Runner.Run(ctx, test); err != nil {
			return nil, err
		}
	}

	return produced, nil
}

// cargoArgs builds "<subcommand> --package ringrtc --target T --features
// electron [--release] extra...".
func (b *RingRTCBuilder) cargoArgs(subcommand string, bctx build.BuildContext, extra ...string) []string {
	args := []string{subcommand, "--package", packageName, "--target", bctx.Profile.Target, "--features", feature}
	if bctx.Request.BuildType == build.Release {
		args = append(args, "--release")
	}
	return append(args, extra...)
}

// dumpSymbols writes the breakpad symbol file when dump_syms is installed.
// The file is written next to the dependency outputs of the build type.
func (b *RingRTCBuilder) dumpSymbols(ctx context.Context, bctx build.BuildContext, debugInfo string, logger *slog.Logger) (artifacts.Artifact, bool, error) {
	if !subprocess.Available(b.Runner, b.Tools.DumpSyms.Path) {
		logger.Info("dump_syms not found, skipping symbol file")
		return artifacts.Artifact{}, false, nil
	}

	dir := bctx.Layout.BuildTypeDir(bctx.Request.BuildType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return artifacts.Artifact{}, false, &build.BuildError{Phase: b.Name(), Message: "create symbol dir", Err: err}
	}
	name := artifacts.SymbolFileName(bctx.Project.Version, bctx.Profile.Platform.String(), bctx.Request.TargetArch.String())
	dest := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".sym-*")
	if err != nil {
		return artifacts.Artifact{}, false, &build.BuildError{Phase: b.Name(), Message: "create symbol file", Err: err}
	}
	defer os.Remove(tmp.Name())

	inv := b.Tools.DumpSyms.Invocation(debugInfo)
	inv.Stdout = tmp
	logger.Info("dumping symbols", "command", inv.String(), "dest", dest)
	if err := b.Runner.Run(ctx, inv); err != nil {
		tmp.Close()
		return artifacts.Artifact{}, false, err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return artifacts.Artifact{}, false, &build.BuildError{Phase: b.Name(), Message: "chmod symbol file", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return artifacts.Artifact{}, false, &build.BuildError{Phase: b.Name(), Message: "write symbol file", Err: err}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return artifacts.Artifact{}, false, &build.BuildError{Phase: b.Name(), Message: fmt.Sprintf("move %s into place", name), Err: err}
	}

	symbols, err := artifacts.Describe(artifacts.SymbolArtifact, dest, map[string]any{"version": bctx.Project.Version})
	if err != nil {
		return artifacts.Artifact{}, false, err
	}
	return symbols, true, nil
}
