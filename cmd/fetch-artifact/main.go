package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ringrtc/rtcbuild/internal/cli"
	"github.com/ringrtc/rtcbuild/internal/configurations/electron"
	"github.com/ringrtc/rtcbuild/internal/fetch"
	"github.com/ringrtc/rtcbuild/internal/subprocess"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	globals := &cli.Globals{
		Environment: subprocess.NewEnvironment(os.Environ()),
		Stderr:      os.Stderr,
	}
	root := newRootCommand(globals, http.DefaultClient, os.Stdout, os.Stderr)
	code := cli.Execute(ctx, root, os.Args[1:], globals)
	stop()
	os.Exit(code)
}

func newRootCommand(globals *cli.Globals, client *http.Client, stdout, stderr io.Writer) *cobra.Command {
	var (
		req     fetch.Request
		release bool
	)

	root := &cobra.Command{
		Use:   "fetch-artifact",
		Short: "Download and unpack a WebRTC prebuild for a platform, or an archive from a URL",
		Example: `  fetch-artifact --platform desktop --webrtc-version 7204a -o out
  fetch-artifact --url https://example.com/webrtc.tar.bz2 --checksum <sha256> -o out`,
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

			cmdLogger := logger.With("command", "fetch-artifact")
			archive, err := electron.Fetch(cmd.Context(), req, cfg, client, cmdLogger)
			if err != nil {
				return err
			}
			cmdLogger.Info("archive ready", "path", archive.Path, "size", archive.HumanSize(), "extracted", !req.SkipExtract)
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.Flags()
	flags.StringVarP(&req.URL, "url", "u", "", "URL of an explicitly specified artifact archive")
	flags.StringVarP(&req.Platform, "platform", "p", "", "WebRTC prebuild platform to fetch artifacts for (e.g. desktop, mac, linux-arm64, ios)")
	flags.StringVarP(&req.Checksum, "checksum", "c", "", "sha256sum of the archive (can be omitted for standard prebuilds)")
	flags.BoolVar(&req.SkipExtract, "skip-extract", false, "Download the archive if necessary, but skip extracting it")
	flags.BoolVar(&req.Debug, "debug", false, "Fetch the debug prebuild instead of release")
	flags.BoolVar(&release, "release", false, "Fetch the release prebuild (default)")
	flags.StringVar(&req.WebRTCVersion, "webrtc-version", "", "WebRTC tag identifying a prebuild (default: WEBRTC_VERSION)")
	flags.StringVar(&req.ArchiveDir, "archive-dir", "", "Directory to download archives to (default: output directory)")
	flags.StringVarP(&req.OutputDir, "output-dir", "o", "", "Directory to extract into (default: OUTPUT_DIR)")

	root.MarkFlagsMutuallyExclusive("url", "platform")
	root.MarkFlagsOneRequired("url", "platform")
	root.MarkFlagsMutuallyExclusive("debug", "release")

	globals.Bind(root)
	return root
}
