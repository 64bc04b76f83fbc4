package gn

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

// Ensure WebRTCBuilder satisfies the build phase interface.
var _ build.Phase = (*WebRTCBuilder)(nil)

// Tools are the external commands the dependency build invokes.
type Tools struct {
	GN    subprocess.Command
	Ninja subprocess.Command
	// Python runs the license aggregation script shipped with WebRTC.
	Python subprocess.Command
	// DownloadResources fetches the binary test resources from cloud storage.
	DownloadResources subprocess.Command
}

// DefaultTools returns the depot_tools commands found on a typical PATH.
func DefaultTools() Tools {
	return Tools{
		GN:                subprocess.MustParseCommand("gn"),
		Ninja:             subprocess.MustParseCommand("ninja"),
		Python:            subprocess.MustParseCommand("python3"),
		DownloadResources: subprocess.MustParseCommand("download_from_google_storage"),
	}
}

const (
	licenseScript = "tools_webrtc/libs/generate_licenses.py"
	licenseFile   = "LICENSE.md"
)

// WebRTCBuilder builds WebRTC as a static library with gn and ninja.
type WebRTCBuilder struct {
	Runner subprocess.Runner
	Tools  Tools
	Logger *slog.Logger
}

func (b *WebRTCBuilder) logger() *slog.Logger {
	if b != nil && b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Name identifies the phase in logs.
func (b *WebRTCBuilder) Name() string {
	return "webrtc"
}

// Build generates the build graph, compiles the library and optionally runs
// the test resource download, license aggregation and archival steps.
func (b *WebRTCBuilder) Build(ctx context.Context, bctx build.BuildContext) ([]artifacts.Artifact, error) {
	if b.Runner == nil {
		return nil, &build.BuildError{Phase: b.Name(), Message: "runner is not configured"}
	}
	req := bctx.Request
	layout := bctx.Layout

	if err := b.checkTools(req); err != nil {
		return nil, err
	}

	buildDir := layout.BuildTypeDir(req.BuildType)
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return nil, &build.BuildError{Phase: b.Name(), Message: "create output dir", Err: err}
	}

	gnArgs := Args(bctx.Profile, req)
	logger := b.logger().With("run_id", bctx.RunID, "gn_arch", bctx.Profile.Arch.GN(), "out", buildDir)
	logger.Info("building webrtc", "args", ArgString(gnArgs))

	for _, inv := range b.compileSteps(bctx, buildDir, gnArgs) {
		logger.Info("running tool", "command", inv.String())
		if err := b.Runner.Run(ctx, inv); err != nil {
			return nil, err
		}
	}

	var produced []artifacts.Artifact

	library, err := locateStaticLibrary(buildDir)
	if err != nil {
		if req.ArchiveWebRTC {
			return nil, &build.BuildError{Phase: b.Name(), Message: "locate static library", Err: err}
		}
		logger.Warn("static library not found after build", "error", err)
	} else {
		libArtifact, err := artifacts.Describe(artifacts.LibraryArtifact, library, map[string]any{"arch": req.TargetArch.String()})
		if err != nil {
			return nil, err
		}
		produced = append(produced, libArtifact)
	}

	if req.IncludeWebRTCTests || req.ArchiveWebRTC {
		license, err := b.aggregateLicenses(ctx, bctx, buildDir, logger)
		if err != nil {
			return nil, err
		}
		produced = append(produced, license)
	}

	if req.ArchiveWebRTC {
		archive, err := b.archive(ctx, bctx, library, logger)
		if err != nil {
			return nil, err
		}
		produced = append(produced, archive)
	}

	return produced, nil
}

func (b *WebRTCBuilder) checkTools(req build.BuildRequest) error {
	required := []subprocess.Command{b.Tools.GN, b.Tools.Ninja}
	if req.IncludeWebRTCTests {
		required = append(required, b.Tools.DownloadResources)
	}
	if req.IncludeWebRTCTests || req.ArchiveWebRTC {
		required = append(required, b.Tools.Python)
	}
	for _, tool := range required {
		if err := subprocess.Require(b.Runner, tool.Path, "install depot_tools and add it to PATH"); err != nil {
			return err
		}
	}
	return nil
}

// compileSteps returns the graph generation and compile invocations, plus the
// test resource download when tests are included.
func (b *WebRTCBuilder) compileSteps(bctx build.BuildContext, buildDir string, gnArgs []string) []subprocess.Invocation {
	srcDir := bctx.Layout.WebRTCSourceDir

	gen := b.Tools.GN.Invocation("gen", buildDir, "--args="+ArgString(gnArgs))
	gen.Dir = srcDir

	targets := []string{"webrtc"}
	if bctx.Request.IncludeWebRTCTests {
		targets = append(targets, "default")
	}
	compile := b.Tools.Ninja.Invocation(append([]string{"-C", buildDir}, targets...)...)
	compile.Dir = srcDir

	steps := []subprocess.Invocation{gen, compile}
	if bctx.Request.IncludeWebRTCTests {
		download := b.Tools.DownloadResources.Invocation(
			"--directory", "--recursive", "--num_threads=10", "--no_auth", "--quiet",
			"--bucket", "chromium-webrtc-resources", "resources",
		)
		download.Dir = srcDir
		steps = append(steps, download)
	}
	return steps
}

func (b *WebRTCBuilder) aggregateLicenses(ctx context.Context, bctx build.BuildContext, buildDir string, logger *slog.Logger) (artifacts.Artifact, error) {
	inv := b.Tools.Python.Invocation(licenseScript, "--target", ":webrtc", buildDir, buildDir)
	inv.Dir = bctx.Layout.WebRTCSourceDir
	logger.Info("aggregating licenses", "command", inv.String())
	if err := b.Runner.Run(ctx, inv); err != nil {
		return artifacts.Artifact{}, err
	}
	return artifacts.Describe(artifacts.LicenseArtifact, filepath.Join(buildDir, licenseFile), nil)
}

func (b *WebRTCBuilder) archive(ctx context.Context, bctx build.BuildContext, library string, logger *slog.Logger) (artifacts.Artifact, error) {
	req := bctx.Request
	outputDir := bctx.Layout.OutputDir
	buildDir := bctx.Layout.BuildTypeDir(req.BuildType)

	libraryMember, err := filepath.Rel(outputDir, library)
	if err != nil {
		return artifacts.Artifact{}, &build.BuildError{Phase: b.Name(), Message: "resolve library path", Err: err}
	}
	licenseMember := filepath.Join(string(req.BuildType), licenseFile)

	name := artifacts.ArchiveFileName(
		bctx.Project.WebRTCVersion,
		bctx.Project.HostPlatform,
		req.TargetArch.String(),
		string(req.BuildType),
		req.BuildForSimulator,
	)
	dest := filepath.Join(buildDir, name)

	logger.Info("archiving webrtc", "archive", dest, "members", []string{libraryMember, licenseMember})
	if err := writeArchive(ctx, outputDir, dest, []string{libraryMember, licenseMember}); err != nil {
		return artifacts.Artifact{}, &build.BuildError{Phase: b.Name(), Message: fmt.Sprintf("archive %s", name), Err: err}
	}

	return artifacts.Describe(artifacts.ArchiveArtifact, dest, map[string]any{
		"webrtc_version": bctx.Project.WebRTCVersion,
		"host_platform":  bctx.Project.HostPlatform,
	})
}
