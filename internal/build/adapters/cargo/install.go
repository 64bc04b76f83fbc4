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
	"strings"

	"github.com/ringrtc/rtcbuild/internal/artifacts"
	"github.com/ringrtc/rtcbuild/internal/build"
	"github.com/ringrtc/rtcbuild/internal/platform"
	"github.com/ringrtc/rtcbuild/internal/subprocess"
)

// installed describes the addon after post-processing.
type installed struct {
	// addon is the binary consumed by node packaging.
	addon string
	// debugInfo is what dump_syms reads: the dSYM bundle, the PDB or the
	// unstripped shared object.
	debugInfo string
}

// install post-processes the cargo output for the profile's platform and
// copies it to src/node/build/<platform>/libringrtc-<arch>.node.
func (b *RingRTCBuilder) install(ctx context.Context, bctx build.BuildContext, logger *slog.Logger) (installed, error) {
	profile := bctx.Profile
	layout := bctx.Layout
	bt := bctx.Request.BuildType

	profileDir := layout.CargoProfileDir(profile.Target, bt)
	built := filepath.Join(profileDir, profile.Platform.SharedLibrary(packageName))
	if _, err := os.Stat(built); err != nil {
		return installed{}, &build.BuildError{Phase: b.Name(), Message: "locate compiled addon", Err: err}
	}

	addonDir := layout.AddonDir(profile.Platform)
	if err := os.MkdirAll(addonDir, 0o755); err != nil {
		return installed{}, &build.BuildError{Phase: b.Name(), Message: "create addon dir", Err: err}
	}
	out := installed{
		addon:     filepath.Join(addonDir, artifacts.AddonFileName(profile.Arch.String())),
		debugInfo: built,
	}
	logger = logger.With("platform", profile.Platform.String(), "addon", out.addon)

	switch profile.Platform {
	case platform.Darwin:
		if err := b.requireAll("install the Xcode command line tools", b.Tools.Dsymutil, b.Tools.Strip); err != nil {
			return installed{}, err
		}
		symbolDir := layout.BuildTypeDir(bt)
		if err := os.MkdirAll(symbolDir, 0o755); err != nil {
			return installed{}, &build.BuildError{Phase: b.Name(), Message: "create symbol dir", Err: err}
		}
		out.debugInfo = filepath.Join(symbolDir, fmt.Sprintf("libringrtc-%s.dylib.dSYM", profile.Arch))

		steps := []subprocess.Invocation{
			b.Tools.Dsymutil.Invocation(built, "-o", out.debugInfo),
			b.Tools.Strip.Invocation("-S", built),
		}
		for _, inv := range steps {
			logger.Info("running tool", "command", inv.String())
			if err := b.Runner.Run(ctx, inv); err != nil {
				return installed{}, err
			}
		}
		if err := copyFile(built, out.addon); err != nil {
			return installed{}, &build.BuildError{Phase: b.Name(), Message: "install addon", Err: err}
		}

	case platform.Windows:
		if err := copyFile(built, out.addon); err != nil {
			return installed{}, &build.BuildError{Phase: b.Name(), Message: "install addon", Err: err}
		}
		pdb := filepath.Join(profileDir, packageName+".pdb")
		dest := strings.TrimSuffix(out.addon, ".node") + ".pdb"
		switch err := copyFile(pdb, dest); {
		case err == nil:
			out.debugInfo = pdb
		case errors.Is(err, fs.ErrNotExist):
			logger.Warn("debug database not found", "path", pdb)
		default:
			return installed{}, &build.BuildError{Phase: b.Name(), Message: "install debug database", Err: err}
		}

	case platform.Linux:
		if bt != build.Release {
			if err := copyFile(built, out.addon); err != nil {
				return installed{}, &build.BuildError{Phase: b.Name(), Message: "install addon", Err: err}
			}
			break
		}
		strip, err := b.linuxStrip(bctx)
		if err != nil {
			return installed{}, err
		}
		inv := strip.Invocation("--strip-debug", "-o", out.addon, built)
		logger.Info("stripping addon", "command", inv.String())
		if err := b.Runner.Run(ctx, inv); err != nil {
			return installed{}, err
		}

	default:
		return installed{}, fmt.Errorf("%w: %s", build.ErrUnknownPlatform, profile.Platform)
	}

	logger.Info("installed addon")
	return out, nil
}

// linuxStrip prefers the cross strip for the target architecture and falls
// back to the generic strip.
func (b *RingRTCBuilder) linuxStrip(bctx build.BuildContext) (subprocess.Command, error) {
	cross := subprocess.Command{Path: bctx.Profile.Arch.Cargo() + "-linux-gnu-strip"}
	if subprocess.Available(b.Runner, cross.Path) {
		return cross, nil
	}
	b.logger().Debug("cross strip not found, using generic strip", "tool", cross.Path)
	if err := subprocess.Require(b.Runner, b.Tools.Strip.Path, "install binutils"); err != nil {
		return subprocess.Command{}, err
	}
	return b.Tools.Strip, nil
}

func (b *RingRTCBuilder) requireAll(hint string, tools ...subprocess.Command) error {
	for _, tool := range tools {
		if err := subprocess.Require(b.Runner, tool.Path, hint); err != nil {
			return err
		}
	}
	return nil
}

// copyFile copies src to dst through a temporary file in dst's directory.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, os.Remove(tmp.Name()))
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err = tmp.Chmod(0o755); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
