package build

import (
	"errors"
	"path/filepath"

	"github.com/ringrtc/rtcbuild/internal/platform"
)

// Layout is the directory tree a run reads from and writes into.
type Layout struct {
	ProjectDir      string
	OutputDir       string
	WebRTCSourceDir string
	NodeDir         string
}

// NewLayout fills unset directories with the conventional tree under projectDir.
func NewLayout(projectDir, outputDir string) Layout {
	if outputDir == "" {
		outputDir = filepath.Join(projectDir, "out")
	}
	return Layout{
		ProjectDir:      projectDir,
		OutputDir:       outputDir,
		WebRTCSourceDir: filepath.Join(projectDir, "src", "webrtc", "src"),
		NodeDir:         filepath.Join(projectDir, "src", "node"),
	}
}

// Validate reports unset directories.
func (l Layout) Validate() error {
	switch {
	case l.ProjectDir == "":
		return errors.New("project directory is required")
	case l.OutputDir == "":
		return errors.New("output directory is required")
	case l.NodeDir == "":
		return errors.New("node directory is required")
	}
	return nil
}

// BuildTypeDir is where the dependency build and release symbols land.
func (l Layout) BuildTypeDir(bt BuildType) string {
	return filepath.Join(l.OutputDir, string(bt))
}

// CargoTargetDir is the addon's cargo target directory.
func (l Layout) CargoTargetDir() string {
	return filepath.Join(l.OutputDir, "build")
}

// CargoProfileDir holds the addon binaries cargo produced for target.
func (l Layout) CargoProfileDir(target string, bt BuildType) string {
	return filepath.Join(l.CargoTargetDir(), target, string(bt))
}

// AddonDir is the per-platform addon output directory consumed by packaging.
func (l Layout) AddonDir(p platform.Platform) string {
	return filepath.Join(l.NodeDir, "build", p.String())
}

// CleanTargets lists the directories removed by a clean run.
func (l Layout) CleanTargets() []string {
	return []string{
		filepath.Join(l.NodeDir, "build"),
		filepath.Join(l.NodeDir, "dist"),
		filepath.Join(l.NodeDir, "node_modules"),
	}
}
