package cargo

import (
	"context"
	"log/slog"

	"github.com/ringrtc/rtcbuild/internal/build"
	"github.com/ringrtc/rtcbuild/internal/subprocess"
)

// Cleaner runs cargo clean against the addon's target directory.
type Cleaner struct {
	Runner subprocess.Runner
	Cargo  subprocess.Command
	Logger *slog.Logger
}

// Clean removes everything cargo built for the addon.
func (c *Cleaner) Clean(ctx context.Context, layout build.Layout) error {
	if err := subprocess.Require(c.Runner, c.Cargo.Path, "install a Rust toolchain via rustup"); err != nil {
		return err
	}

	inv := c.Cargo.Invocation("clean")
	inv.Dir = layout.ProjectDir
	inv.Env = []string{subprocess.Var("CARGO_TARGET_DIR", layout.CargoTargetDir())}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("running tool", "command", inv.String(), "target_dir", layout.CargoTargetDir())
	return c.Runner.Run(ctx, inv)
}
