package platform

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/ringrtc/rtcbuild/arch"
	"github.com/ringrtc/rtcbuild/internal/subprocess"
)

// Detector resolves the active profile by asking rustup for the active toolchain.
type Detector struct {
	Runner subprocess.Runner
	Rustup subprocess.Command
	Logger *slog.Logger
}

func (d *Detector) logger() *slog.Logger {
	if d != nil && d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Platform returns the platform of the active Rust toolchain.
func (d *Detector) Platform(ctx context.Context) (Platform, error) {
	if d.Runner == nil {
		return 0, fmt.Errorf("detector runner is not configured")
	}
	if err := subprocess.Require(d.Runner, d.Rustup.Path, "make sure rustup is installed and configured"); err != nil {
		return 0, err
	}

	var out bytes.Buffer
	inv := d.Rustup.Invocation("show", "active-toolchain")
	inv.Stdout = &out
	if err := d.Runner.Run(ctx, inv); err != nil {
		return 0, err
	}

	p, err := Detect(out.String())
	if err != nil {
		return 0, err
	}
	d.logger().Debug("detected toolchain platform", "identity", out.String(), "platform", p.String())
	return p, nil
}

// Resolve detects the platform and combines it with a.
func (d *Detector) Resolve(ctx context.Context, a arch.Architecture) (Profile, error) {
	p, err := d.Platform(ctx)
	if err != nil {
		return Profile{}, err
	}
	return NewProfile(p, a)
}
