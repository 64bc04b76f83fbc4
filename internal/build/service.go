package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/ringrtc/rtcbuild/internal/artifacts"
)

// Orchestrator runs the dependency and addon phases for a request.
type Orchestrator struct {
	Logger          *slog.Logger
	ProfileResolver ProfileResolver
	DependencyPhase Phase
	AddonPhase      Phase
	Cleaner         Cleaner
	Layout          Layout
	Project         Project

	// NewRunID overrides run id generation in tests.
	NewRunID func() string
}

// Run executes the phases req selects, dependency phase first. The first
// failure aborts the run; files written by earlier phases stay on disk but no
// artifacts are reported.
func (o *Orchestrator) Run(ctx context.Context, req BuildRequest) ([]artifacts.Artifact, error) {
	if err := o.Layout.Validate(); err != nil {
		return nil, err
	}
	if o.ProfileResolver == nil {
		return nil, errors.New("profile resolver is not configured")
	}
	if req.Scope.IncludesWebRTC() && o.DependencyPhase == nil {
		return nil, errors.New("dependency phase is not configured")
	}
	if req.Scope.IncludesRingRTC() && o.AddonPhase == nil {
		return nil, errors.New("addon phase is not configured")
	}
	if missing := o.Project.missingFor(req); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s not set", ErrInvalidArguments, strings.Join(missing, ", "))
	}

	runID := o.runID()
	logger := o.logger().With(
		"run_id", runID,
		"build_type", string(req.BuildType),
		"scope", string(req.Scope),
		"arch", req.TargetArch.String(),
	)

	profile, err := o.ProfileResolver.Resolve(ctx, req.TargetArch)
	if err != nil {
		return nil, err
	}
	logger = logger.With("platform", profile.Platform.String(), "target", profile.Target)
	logger.Info("starting build")

	buildContext := BuildContext{
		RunID:   runID,
		Request: req,
		Profile: profile,
		Layout:  o.Layout,
		Project: o.Project,
	}

	var produced []artifacts.Artifact
	for _, phase := range o.phases(req.Scope) {
		phaseLogger := logger.With("phase", phase.Name())
		phaseLogger.Info("phase started")

		out, err := phase.Build(ctx, buildContext)
		if err != nil {
			phaseLogger.Error("phase failed", "error", err)
			return nil, err
		}
		for _, a := range out {
			phaseLogger.Info("artifact produced", "kind", string(a.Kind), "path", a.Path, "size", a.HumanSize())
		}
		produced = append(produced, out...)
		phaseLogger.Info("phase completed", "artifacts", len(out))
	}

	logger.Info("build completed", "artifacts", len(produced))
	return produced, nil
}

// phases returns the phases for scope in execution order.
func (o *Orchestrator) phases(scope Scope) []Phase {
	var phases []Phase
	if scope.IncludesWebRTC() {
		phases = append(phases, o.DependencyPhase)
	}
	if scope.IncludesRingRTC() {
		phases = append(phases, o.AddonPhase)
	}
	return phases
}

// Clean removes the addon output directories and runs the build tool's own
// clean. No build phase runs.
func (o *Orchestrator) Clean(ctx context.Context) error {
	if err := o.Layout.Validate(); err != nil {
		return err
	}
	logger := o.logger().With("action", "clean")

	for _, dir := range o.Layout.CleanTargets() {
		if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &BuildError{Phase: "clean", Message: "remove " + dir, Err: err}
		}
		logger.Info("removed directory", "path", dir)
	}

	if o.Cleaner == nil {
		return nil
	}
	if err := o.Cleaner.Clean(ctx, o.Layout); err != nil {
		return err
	}
	logger.Info("clean completed")
	return nil
}

func (o *Orchestrator) runID() string {
	if o.NewRunID != nil {
		return o.NewRunID()
	}
	return uuid.NewString()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
