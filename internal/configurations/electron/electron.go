// Package electron wires configuration, toolchain adapters and the
// orchestrator into the build-electron and fetch-artifact flows.
package electron

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/ringrtc/rtcbuild/internal/artifacts"
	"github.com/ringrtc/rtcbuild/internal/build"
	"github.com/ringrtc/rtcbuild/internal/build/adapters/cargo"
	"github.com/ringrtc/rtcbuild/internal/build/adapters/gn"
	"github.com/ringrtc/rtcbuild/internal/config"
	"github.com/ringrtc/rtcbuild/internal/fetch"
	"github.com/ringrtc/rtcbuild/internal/logging"
	"github.com/ringrtc/rtcbuild/internal/platform"
	"github.com/ringrtc/rtcbuild/internal/subprocess"
)

// NewRunner returns a runner executing tools with env and streaming their
// output to the terminal.
func NewRunner(env subprocess.Environment, logger *slog.Logger) *subprocess.ExecRunner {
	return &subprocess.ExecRunner{
		Environment: env,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Logger:      logging.Ensure(logger).With("component", "runner"),
	}
}

// Layout returns the directory tree described by cfg.
func Layout(cfg config.Config) build.Layout {
	layout := build.NewLayout(cfg.ProjectDir, cfg.OutputDir)
	if cfg.WebRTCSourceDir != "" {
		layout.WebRTCSourceDir = cfg.WebRTCSourceDir
	}
	if cfg.NodeDir != "" {
		layout.NodeDir = cfg.NodeDir
	}
	return layout
}

// Project returns the naming and version inputs described by cfg.
func Project(cfg config.Config) build.Project {
	return build.Project{
		Version:       cfg.ProjectVersion,
		WebRTCVersion: cfg.WebRTCVersion,
		HostPlatform:  cfg.HostPlatform,
		RustFlags:     cfg.RustFlags,
	}
}

// NewOrchestrator assembles the detector, both phases and the cleaner.
func NewOrchestrator(cfg config.Config, runner subprocess.Runner, logger *slog.Logger) (*build.Orchestrator, error) {
	logger = logging.Ensure(logger)

	gnTools, err := gnTools(cfg.Tools)
	if err != nil {
		return nil, err
	}
	cargoTools, err := cargoTools(cfg.Tools)
	if err != nil {
		return nil, err
	}

	return &build.Orchestrator{
		Logger: logger.With("component", "orchestrator"),
		ProfileResolver: &platform.Detector{
			Runner: runner,
			Rustup: cargoTools.Rustup,
			Logger: logger.With("component", "platform"),
		},
		DependencyPhase: &gn.WebRTCBuilder{
			Runner: runner,
			Tools:  gnTools,
			Logger: logger.With("component", "webrtc"),
		},
		AddonPhase: &cargo.RingRTCBuilder{
			Runner: runner,
			Tools:  cargoTools,
			Logger: logger.With("component", "ringrtc"),
		},
		Cleaner: &cargo.Cleaner{
			Runner: runner,
			Cargo:  cargoTools.Cargo,
			Logger: logger.With("component", "clean"),
		},
		Layout:  Layout(cfg),
		Project: Project(cfg),
	}, nil
}

// Build validates opts and either cleans or runs the requested phases. An
// architecture given in opts wins over the configured one.
func Build(ctx context.Context, runner subprocess.Runner, opts build.Options, cfg config.Config, logger *slog.Logger) ([]artifacts.Artifact, error) {
	logger = logging.Ensure(logger)

	if opts.TargetArch == "" {
		opts.TargetArch = cfg.TargetArch
	}
	req, clean, err := build.ParseOptions(opts)
	if err != nil {
		return nil, err
	}

	orchestrator, err := NewOrchestrator(cfg, runner, logger)
	if err != nil {
		return nil, err
	}
	if clean {
		return nil, orchestrator.Clean(ctx)
	}
	return orchestrator.Run(ctx, req)
}

// Fetch downloads and unpacks a prebuilt dependency archive.
func Fetch(ctx context.Context, req fetch.Request, cfg config.Config, client *http.Client, logger *slog.Logger) (artifacts.Artifact, error) {
	logger = logging.Ensure(logger)

	host, err := fetch.CurrentHost()
	if err != nil && req.URL == "" {
		return artifacts.Artifact{}, err
	}
	if req.WebRTCVersion == "" {
		req.WebRTCVersion = cfg.WebRTCVersion
	}
	if req.OutputDir == "" {
		req.OutputDir = cfg.OutputDir
	}

	fetcher := &fetch.Fetcher{
		Client:    client,
		BaseURL:   cfg.Fetch.BaseURL,
		Checksums: fetch.Checksums(cfg.Fetch.Checksums),
		Host:      host,
		Logger:    logger.With("component", "fetch"),
	}
	return fetcher.Fetch(ctx, req)
}

func gnTools(overrides config.Tools) (gn.Tools, error) {
	tools := gn.DefaultTools()
	for _, o := range []struct {
		value string
		into  *subprocess.Command
	}{
		{overrides.GN, &tools.GN},
		{overrides.Ninja, &tools.Ninja},
		{overrides.Python, &tools.Python},
		{overrides.DownloadResources, &tools.DownloadResources},
	} {
		if err := override(o.value, o.into); err != nil {
			return gn.Tools{}, err
		}
	}
	return tools, nil
}

func cargoTools(overrides config.Tools) (cargo.Tools, error) {
	tools := cargo.DefaultTools()
	for _, o := range []struct {
		value string
		into  *subprocess.Command
	}{
		{overrides.Rustup, &tools.Rustup},
		{overrides.Cargo, &tools.Cargo},
		{overrides.Dsymutil, &tools.Dsymutil},
		{overrides.Strip, &tools.Strip},
		{overrides.DumpSyms, &tools.DumpSyms},
	} {
		if err := override(o.value, o.into); err != nil {
			return cargo.Tools{}, err
		}
	}
	return tools, nil
}

func override(value string, into *subprocess.Command) error {
	if value == "" {
		return nil
	}
	cmd, err := subprocess.ParseCommand(value)
	if err != nil {
		return fmt.Errorf("%w: tool override: %v", build.ErrInvalidArguments, err)
	}
	*into = cmd
	return nil
}
