package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ringrtc/rtcbuild/internal/build"
	"github.com/ringrtc/rtcbuild/internal/cli"
	"github.com/ringrtc/rtcbuild/internal/configurations/electron"
	"github.com/ringrtc/rtcbuild/internal/subprocess"
)

// runnerFactory creates the runner executing external tools.
type runnerFactory func(env subprocess.Environment, logger *slog.Logger) subprocess.Runner

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	globals := &cli.Globals{
		Environment: subprocess.NewEnvironment(os.Environ()),
		Stderr:      os.Stderr,
	}
	root := newRootCommand(globals, defaultRunner, os.Stdout, os.Stderr)
	code := cli.Execute(ctx, root, os.Args[1:], globals)
	stop()
	os.Exit(code)
}

func defaultRunner(env subprocess.Environment, logger *slog.Logger) subprocess.Runner {
	return electron.NewRunner(env, logger)
}

func newRootCommand(globals *cli.Globals, newRunner runnerFactory, stdout, stderr io.Writer) *cobra.Command {
	var opts build.Options

	root := &cobra.Command{
		Use:   "build-electron",
		Short: "Build WebRTC and the RingRTC electron addon for the host platform",
		Long: `Build WebRTC and the RingRTC electron addon for the host platform.

The target architecture defaults to the host and can be set with TARGET_ARCH.
OUTPUT_DIR, PROJECT_VERSION, WEBRTC_VERSION, RUSTFLAGS and HOST_PLATFORM are
read from the environment and win over the configuration file.`,
		Args:          cli.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := globals.Logger()
			if err != nil {
				return err
			}
			cfg, err := globals.LoadConfig()
			if err != nil {
				return err
			}

			if opts.TargetArch == "" {
				opts.TargetArch = cfg.TargetArch
			}
			if _, _, err := build.ParseOptions(opts); errors.Is(err, build.ErrInvalidArguments) {
				return cli.Usage(cmd, err)
			}

			cmdLogger := logger.With("command", "build-electron")
			cmdLogger.Debug("configuration loaded", "project_dir", cfg.ProjectDir, "output_dir", cfg.OutputDir)

			runner := newRunner(globals.Environment, logger)
			produced, err := electron.Build(cmd.Context(), runner, opts, cfg, cmdLogger)
			if err != nil {
				return err
			}
			for _, a := range produced {
				cmdLogger.Info("artifact", "kind", string(a.Kind), "path", a.Path, "size", a.HumanSize())
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.Flags()
	flags.BoolVarP(&opts.Debug, "debug", "d", false, "Build a debug version (default)")
	flags.BoolVarP(&opts.Release, "release", "r", false, "Build a release version")
	flags.BoolVar(&opts.WebRTCOnly, "webrtc-only", false, "Only build WebRTC")
	flags.BoolVar(&opts.RingRTCOnly, "ringrtc-only", false, "Only build RingRTC")
	flags.BoolVar(&opts.WebRTCTests, "webrtc-tests", false, "Build WebRTC including its tests and test resources")
	flags.BoolVar(&opts.ArchiveWebRTC, "archive-webrtc", false, "Archive the WebRTC build with its licenses")
	flags.BoolVar(&opts.TestRingRTCADM, "test-ringrtc-adm", false, "Run the audio device module tests after building RingRTC")
	flags.BoolVar(&opts.BuildForSimulator, "build-for-simulator", false, "Use dummy audio file devices")
	flags.BoolVarP(&opts.Clean, "clean", "c", false, "Remove all build outputs and exit")

	globals.Bind(root)

	return root
}
