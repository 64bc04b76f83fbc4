package build

import (
	"strings"

	"github.com/ringrtc/rtcbuild/arch"
	"github.com/ringrtc/rtcbuild/internal/platform"
)

// BuildType selects debug or optimized outputs.
type BuildType string

const (
	Debug   BuildType = "debug"
	Release BuildType = "release"
)

// Scope selects which phases run.
type Scope string

const (
	ScopeAll         Scope = "all"
	ScopeWebRTCOnly  Scope = "webrtc-only"
	ScopeRingRTCOnly Scope = "ringrtc-only"
)

// IncludesWebRTC reports whether the dependency phase runs for s.
func (s Scope) IncludesWebRTC() bool {
	return s == ScopeAll || s == ScopeWebRTCOnly
}

// IncludesRingRTC reports whether the addon phase runs for s.
func (s Scope) IncludesRingRTC() bool {
	return s == ScopeAll || s == ScopeRingRTCOnly
}

// Options are the raw command line switches before validation.
type Options struct {
	Debug             bool
	Release           bool
	WebRTCOnly        bool
	RingRTCOnly       bool
	WebRTCTests       bool
	ArchiveWebRTC     bool
	TestRingRTCADM    bool
	BuildForSimulator bool
	Clean             bool

	// TargetArch is the requested architecture spelling; empty selects the host.
	TargetArch string
}

// BuildRequest is a validated build invocation.
type BuildRequest struct {
	TargetArch         arch.Architecture
	BuildType          BuildType
	Scope              Scope
	ArchiveWebRTC      bool
	TestADM            bool
	BuildForSimulator  bool
	IncludeWebRTCTests bool
}

// ParseOptions validates opts and returns the request they describe. When
// opts.Clean is set the returned clean flag is true and the request is zero:
// clean takes precedence over every build switch.
func ParseOptions(opts Options) (request BuildRequest, clean bool, err error) {
	if opts.Clean {
		return BuildRequest{}, true, nil
	}

	if opts.Debug && opts.Release {
		return BuildRequest{}, false, invalidArguments("--debug and --release are mutually exclusive")
	}
	if opts.WebRTCOnly && opts.RingRTCOnly {
		return BuildRequest{}, false, invalidArguments("--webrtc-only and --ringrtc-only are mutually exclusive")
	}

	request = BuildRequest{
		BuildType:          Debug,
		Scope:              ScopeAll,
		ArchiveWebRTC:      opts.ArchiveWebRTC,
		TestADM:            opts.TestRingRTCADM,
		BuildForSimulator:  opts.BuildForSimulator,
		IncludeWebRTCTests: opts.WebRTCTests,
	}
	if opts.Release {
		request.BuildType = Release
	}
	switch {
	case opts.WebRTCOnly:
		request.Scope = ScopeWebRTCOnly
	case opts.RingRTCOnly:
		request.Scope = ScopeRingRTCOnly
	}

	if request.ArchiveWebRTC && !request.Scope.IncludesWebRTC() {
		return BuildRequest{}, false, invalidArguments("--archive-webrtc requires the webrtc build (drop --ringrtc-only)")
	}
	if request.IncludeWebRTCTests && !request.Scope.IncludesWebRTC() {
		return BuildRequest{}, false, invalidArguments("--webrtc-tests requires the webrtc build (drop --ringrtc-only)")
	}
	if request.TestADM && !request.Scope.IncludesRingRTC() {
		return BuildRequest{}, false, invalidArguments("--test-ringrtc-adm requires the ringrtc build (drop --webrtc-only)")
	}

	request.TargetArch, err = arch.Resolve(opts.TargetArch)
	if err != nil {
		return BuildRequest{}, false, err
	}
	return request, false, nil
}

// BuildContext is passed to each phase of a run.
type BuildContext struct {
	RunID   string
	Request BuildRequest
	Profile platform.Profile
	Layout  Layout
	Project Project
}

// Project carries the version and naming inputs of a run.
type Project struct {
	Version       string
	WebRTCVersion string
	HostPlatform  string
	// RustFlags is the caller's RUSTFLAGS value, augmented by the addon phase.
	RustFlags string
}

// missingFor lists the project settings req needs that are unset.
func (p Project) missingFor(req BuildRequest) []string {
	var missing []string
	if req.Scope.IncludesWebRTC() && req.ArchiveWebRTC {
		if strings.TrimSpace(p.WebRTCVersion) == "" {
			missing = append(missing, "WEBRTC_VERSION")
		}
		if strings.TrimSpace(p.HostPlatform) == "" {
			missing = append(missing, "HOST_PLATFORM")
		}
	}
	if req.Scope.IncludesRingRTC() && req.BuildType == Release && strings.TrimSpace(p.Version) == "" {
		missing = append(missing, "PROJECT_VERSION")
	}
	return missing
}
