// Package fetch downloads and unpacks prebuilt WebRTC archives.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ringrtc/rtcbuild/internal/artifacts"
	"github.com/ringrtc/rtcbuild/internal/build"
)

// DefaultBaseURL hosts the published prebuilds.
const DefaultBaseURL = "https://build-artifacts.signal.org/libraries"

// unverifiedName is where downloads land until their checksum is checked.
const unverifiedName = "unverified.tmp"

// ErrChecksumMismatch is returned when a downloaded archive does not hash to
// the expected sum.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// An HTTPError reports a non-200 response.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

// Request selects an archive either by URL or by platform and version.
type Request struct {
	URL      string
	Checksum string

	Platform      string
	WebRTCVersion string
	Debug         bool

	SkipExtract bool
	OutputDir   string
	// ArchiveDir defaults to OutputDir.
	ArchiveDir string
}

// Source is a resolved download.
type Source struct {
	URL      string
	Checksum string
}

// Fetcher downloads archives with Client and verifies them against Checksums.
type Fetcher struct {
	Client    *http.Client
	BaseURL   string
	Checksums map[string]string
	Host      Host
	Logger    *slog.Logger
}

func (f *Fetcher) logger() *slog.Logger {
	if f != nil && f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// Resolve computes the URL and checksum for req.
func (f *Fetcher) Resolve(req Request) (Source, error) {
	if req.URL != "" && req.Platform != "" {
		return Source{}, fmt.Errorf("%w: --url and --platform are mutually exclusive", build.ErrInvalidArguments)
	}

	src := Source{URL: req.URL, Checksum: strings.ToLower(strings.TrimSpace(req.Checksum))}
	if src.URL == "" {
		if req.Platform == "" {
			return Source{}, fmt.Errorf("%w: one of --url or --platform is required", build.ErrInvalidArguments)
		}
		if req.WebRTCVersion == "" {
			return Source{}, fmt.Errorf("%w: --platform requires --webrtc-version", build.ErrInvalidArguments)
		}

		checksums := f.Checksums
		if checksums == nil {
			checksums = DefaultChecksums
		}
		name, err := f.Host.ResolvePlatform(req.Platform, checksums)
		if err != nil {
			return Source{}, err
		}

		mode := "release"
		if req.Debug {
			mode = "debug"
		}
		base := strings.TrimSuffix(f.BaseURL, "/")
		if base == "" {
			base = DefaultBaseURL
		}
		src.URL = fmt.Sprintf("%s/webrtc-%s-%s-%s.tar.bz2", base, req.WebRTCVersion, name, mode)
		if src.Checksum == "" {
			src.Checksum = checksums[name]
		}
	}

	if src.Checksum == "" {
		return Source{}, fmt.Errorf("%w: missing --checksum", build.ErrInvalidArguments)
	}
	return src, nil
}

// Fetch makes sure the archive req names is present and verified, then
// extracts it into req.OutputDir unless req.SkipExtract is set.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (artifacts.Artifact, error) {
	if req.OutputDir == "" {
		return artifacts.Artifact{}, fmt.Errorf("%w: output directory is required", build.ErrInvalidArguments)
	}
	src, err := f.Resolve(req)
	if err != nil {
		return artifacts.Artifact{}, err
	}

	archiveDir := req.ArchiveDir
	if archiveDir == "" {
		archiveDir = req.OutputDir
	}
	for _, dir := range []string{req.OutputDir, archiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return artifacts.Artifact{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	name, err := archiveName(src.URL)
	if err != nil {
		return artifacts.Artifact{}, err
	}
	archivePath := filepath.Join(archiveDir, name)
	logger := f.logger().With("archive", name)

	if err := f.downloadIfNeeded(ctx, src, archivePath, logger); err != nil {
		return artifacts.Artifact{}, err
	}

	archive, err := artifacts.Describe(artifacts.ArchiveArtifact, archivePath, map[string]any{
		"url":    src.URL,
		"sha256": src.Checksum,
	})
	if err != nil {
		return artifacts.Artifact{}, err
	}

	if req.SkipExtract {
		return archive, nil
	}
	logger.Info("extracting archive", "dest", req.OutputDir, "size", archive.HumanSize())
	if err := Extract(ctx, archivePath, req.OutputDir); err != nil {
		return artifacts.Artifact{}, err
	}
	return archive, nil
}

func archiveName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", build.ErrInvalidArguments, err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("%w: url %q names no file", build.ErrInvalidArguments, rawURL)
	}
	return name, nil
}

// downloadIfNeeded keeps an existing archive whose checksum matches and
// downloads it otherwise.
func (f *Fetcher) downloadIfNeeded(ctx context.Context, src Source, archivePath string, logger *slog.Logger) error {
	existing, err := fileChecksum(archivePath)
	switch {
	case err == nil && existing == src.Checksum:
		logger.Info("using cached archive", "path", archivePath)
		return nil
	case err == nil:
		logger.Warn("existing archive has non-matching checksum, re-downloading", "actual", existing)
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	logger.Info("downloading", "url", src.URL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", build.ErrInvalidArguments, err)
	}
	resp, err := f.client().Do(httpReq)
	if err != nil {
		return fmt.Errorf("download %s: %w", src.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{URL: src.URL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	unverified := filepath.Join(filepath.Dir(archivePath), unverifiedName)
	out, err := os.Create(unverified)
	if err != nil {
		return fmt.Errorf("create %s: %w", unverified, err)
	}

	digest := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, digest), resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.Join(fmt.Errorf("download %s: %w", src.URL, err), os.Remove(unverified))
	}

	actual := hex.EncodeToString(digest.Sum(nil))
	if actual != src.Checksum {
		return fmt.Errorf("%w: expected %s, actual %s", ErrChecksumMismatch, src.Checksum, actual)
	}
	if err := os.Rename(unverified, archivePath); err != nil {
		return fmt.Errorf("move download into place: %w", err)
	}
	logger.Info("downloaded", "size", humanize.Bytes(uint64(written)))
	return nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
