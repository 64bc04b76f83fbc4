package gn

import (
	"fmt"
	"strings"

	"github.com/ringrtc/rtcbuild/arch"
	"github.com/ringrtc/rtcbuild/internal/build"
	"github.com/ringrtc/rtcbuild/internal/platform"
)

// disabledProducts turns off parts of WebRTC the addon never links.
var disabledProducts = []string{
	"rtc_build_examples=false",
	"rtc_build_tools=false",
	"rtc_use_x11=false",
	"rtc_enable_sctp=false",
	"rtc_libvpx_build_vp9=true",
	"rtc_disable_metrics=true",
	"rtc_disable_trace_events=true",
}

// SMEFlag disables libyuv's SME kernels, which fail to assemble with the
// Linux arm64 toolchain.
const SMEFlag = "libyuv_use_sme=false"

// Args returns the GN arguments for the dependency build of req on profile.
func Args(profile platform.Profile, req build.BuildRequest) []string {
	args := []string{fmt.Sprintf("target_cpu=%q", profile.Arch.GN())}
	args = append(args, disabledProducts...)
	args = append(args, fmt.Sprintf("rtc_include_tests=%t", req.IncludeWebRTCTests))

	if req.BuildForSimulator {
		args = append(args, "rtc_use_dummy_audio_file_devices=true")
	}
	if req.BuildType == build.Release {
		args = append(args, "is_debug=false", "symbol_level=1")
	}
	if profile.Platform == platform.Linux && profile.Arch == arch.ARM64 {
		args = append(args, SMEFlag)
	}
	return args
}

// ArgString joins args the way gn expects them in --args.
func ArgString(args []string) string {
	return strings.Join(args, " ")
}
