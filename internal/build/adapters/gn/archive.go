package gn

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mholt/archives"
)

// staticLibraryCandidates are tried in order. GN names the library after the
// platform's archiver, so the Windows spelling is checked before the Unix one.
var staticLibraryCandidates = []string{
	filepath.Join("obj", "webrtc.lib"),
	filepath.Join("obj", "libwebrtc.a"),
}

// locateStaticLibrary returns the path of the built WebRTC static library
// below buildDir.
func locateStaticLibrary(buildDir string) (string, error) {
	for _, candidate := range staticLibraryCandidates {
		path := filepath.Join(buildDir, candidate)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("static library not found in %s (tried %v)", buildDir, staticLibraryCandidates)
}

// writeArchive packs members, given relative to baseDir, into a tar.bz2 at
// dest. Symlinks are dereferenced. The archive is written to a temporary file
// and renamed into place so a failed run never leaves a truncated archive.
func writeArchive(ctx context.Context, baseDir, dest string, members []string) error {
	names := make(map[string]string, len(members))
	for _, member := range members {
		names[filepath.Join(baseDir, member)] = filepath.ToSlash(member)
	}

	files, err := archives.FilesFromDisk(ctx, &archives.FromDiskOptions{FollowSymlinks: true}, names)
	if err != nil {
		return fmt.Errorf("collect archive members: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".webrtc-archive-*")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	format := archives.CompressedArchive{
		Archival:    archives.Tar{},
		Compression: archives.Bz2{},
	}
	if err := format.Archive(ctx, tmp, files); err != nil {
		tmp.Close()
		return fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("move archive into place: %w", err)
	}
	return nil
}
