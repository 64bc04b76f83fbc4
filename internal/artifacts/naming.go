package artifacts

import "fmt"

// AddonFileName is the canonical name of the addon binary for arch.
func AddonFileName(arch string) string {
	return fmt.Sprintf("libringrtc-%s.node", arch)
}

// ArchiveFileName names the compressed dependency build,
// webrtc-<version>-<host>-<arch>-<buildType>[-sim].tar.bz2.
func ArchiveFileName(version, host, arch, buildType string, simulator bool) string {
	suffix := ""
	if simulator {
		suffix = "-sim"
	}
	return fmt.Sprintf("webrtc-%s-%s-%s-%s%s.tar.bz2", version, host, arch, buildType, suffix)
}

// SymbolFileName names the breakpad symbol file of a release addon.
func SymbolFileName(version, platform, arch string) string {
	return fmt.Sprintf("libringrtc-%s-%s-%s-debuginfo.sym", version, platform, arch)
}
