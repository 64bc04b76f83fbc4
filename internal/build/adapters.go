package build

import (
	"context"

	"github.com/ringrtc/rtcbuild/arch"
	"github.com/ringrtc/rtcbuild/internal/artifacts"
	"github.com/ringrtc/rtcbuild/internal/platform"
)

// ProfileResolver detects the host toolchain profile for an architecture.
type ProfileResolver interface {
	Resolve(ctx context.Context, a arch.Architecture) (platform.Profile, error)
}

// Phase drives one group of external tool invocations.
type Phase interface {
	Name() string
	Build(ctx context.Context, buildContext BuildContext) ([]artifacts.Artifact, error)
}

// Cleaner runs a build tool's own clean operation.
type Cleaner interface {
	Clean(ctx context.Context, layout Layout) error
}
