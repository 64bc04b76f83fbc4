package fetch

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/mholt/archives"

	"github.com/ringrtc/rtcbuild/arch"
	"github.com/ringrtc/rtcbuild/internal/build"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type entry struct {
	name, body string
	// link makes the entry a symlink to link.
	link string
}

// tarBz2 builds an archive in memory, the same way the dependency build does.
func tarBz2(t *testing.T, entries ...entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := archives.Bz2{}.OpenWriter(&buf)
	if err != nil {
		t.Fatalf("open bzip2 writer: %v", err)
	}
	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if e.link != "" {
			hdr = &tar.Header{Name: e.name, Mode: 0o777, Linkname: e.link, Typeflag: tar.TypeSymlink}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if e.link != "" {
			continue
		}
		if _, err := io.WriteString(tw, e.body); err != nil {
			t.Fatalf("write body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close bzip2: %v", err)
	}
	return buf.Bytes()
}

func sum(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

func serve(t *testing.T, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if filepath.Ext(r.URL.Path) != ".bz2" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestResolvePlatform(t *testing.T) {
	t.Parallel()

	cases := []struct {
		host Host
		name string
		want string
	}{
		{Host{OS: "linux", Arch: arch.X64}, "android", "android"},
		{Host{OS: "linux", Arch: arch.X64}, "mac-arm64", "mac-arm64"},
		{Host{OS: "linux", Arch: arch.ARM64}, "windows", "windows-arm64"},
		{Host{OS: "darwin", Arch: arch.ARM64}, "desktop", "mac-arm64"},
		{Host{OS: "linux", Arch: arch.X64}, "desktop", "linux-x64"},
		{Host{OS: "windows", Arch: arch.X64}, "desktop", "windows-x64"},
	}
	for _, tc := range cases {
		got, err := tc.host.ResolvePlatform(tc.name, DefaultChecksums)
		if err != nil {
			t.Fatalf("%s on %+v: %v", tc.name, tc.host, err)
		}
		if got != tc.want {
			t.Fatalf("%s on %+v = %q, want %q", tc.name, tc.host, got, tc.want)
		}
	}
}

func TestResolvePlatformRejectsUnknown(t *testing.T) {
	t.Parallel()

	if _, err := (Host{OS: "windows", Arch: arch.IA32}).ResolvePlatform("windows", DefaultChecksums); !errors.Is(err, build.ErrUnsupportedArchitecture) {
		t.Fatalf("ia32 host: err = %v, want ErrUnsupportedArchitecture", err)
	}
	if _, err := (Host{OS: "freebsd", Arch: arch.X64}).ResolvePlatform("desktop", DefaultChecksums); !errors.Is(err, build.ErrUnknownPlatform) {
		t.Fatalf("freebsd desktop: err = %v, want ErrUnknownPlatform", err)
	}
	if _, err := (Host{OS: "linux", Arch: arch.X64}).ResolvePlatform("beos", DefaultChecksums); !errors.Is(err, build.ErrUnknownPlatform) {
		t.Fatalf("unknown name: err = %v, want ErrUnknownPlatform", err)
	}
}

func TestResolveComposesPrebuildURL(t *testing.T) {
	t.Parallel()

	f := &Fetcher{Host: Host{OS: "darwin", Arch: arch.X64}}

	src, err := f.Resolve(Request{Platform: "mac", WebRTCVersion: "7204a", Debug: true})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if src.URL != DefaultBaseURL+"/webrtc-7204a-mac-x64-debug.tar.bz2" {
		t.Fatalf("URL = %q", src.URL)
	}
	if src.Checksum != DefaultChecksums["mac-x64"] {
		t.Fatalf("Checksum = %q", src.Checksum)
	}

	src, err = f.Resolve(Request{Platform: "ios", WebRTCVersion: "7204a", Checksum: "ABCDEF"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if src.Checksum != "abcdef" || filepath.Base(src.URL) != "webrtc-7204a-ios-release.tar.bz2" {
		t.Fatalf("unexpected source %+v", src)
	}
}

func TestResolveValidatesArguments(t *testing.T) {
	t.Parallel()

	f := &Fetcher{Host: Host{OS: "linux", Arch: arch.X64}}
	bad := []Request{
		{},
		{Platform: "linux"},
		{URL: "https://example.com/a.tar.bz2"},
		{URL: "https://example.com/a.tar.bz2", Platform: "linux", Checksum: "00"},
	}
	for _, req := range bad {
		if _, err := f.Resolve(req); !errors.Is(err, build.ErrInvalidArguments) {
			t.Fatalf("Resolve(%+v) error = %v, want ErrInvalidArguments", req, err)
		}
	}
}

func TestFetchDownloadsVerifiesAndExtracts(t *testing.T) {
	t.Parallel()

	body := tarBz2(t, entry{name: "release/obj/libwebrtc.a", body: "lib"}, entry{name: "release/LICENSE.md", body: "licenses"})
	srv, hits := serve(t, body)
	out := t.TempDir()

	f := &Fetcher{Client: srv.Client(), Logger: discard}
	req := Request{URL: srv.URL + "/webrtc-7204a-linux-x64.tar.bz2", Checksum: sum(body), OutputDir: out}

	archive, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if archive.Path != filepath.Join(out, "webrtc-7204a-linux-x64.tar.bz2") || archive.Size != int64(len(body)) {
		t.Fatalf("unexpected archive artifact %+v", archive)
	}
	data, err := os.ReadFile(filepath.Join(out, "release", "obj", "libwebrtc.a"))
	if err != nil || string(data) != "lib" {
		t.Fatalf("extracted library = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(out, unverifiedName)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("unverified download left behind")
	}

	if _, err := f.Fetch(context.Background(), req); err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hits = %d, want cached archive to be reused", hits.Load())
	}
}

func TestFetchRejectsChecksumMismatch(t *testing.T) {
	t.Parallel()

	body := tarBz2(t, entry{name: "a.txt", body: "a"})
	srv, _ := serve(t, body)
	out := t.TempDir()

	f := &Fetcher{Client: srv.Client(), Logger: discard}
	_, err := f.Fetch(context.Background(), Request{URL: srv.URL + "/a.tar.bz2", Checksum: sum([]byte("other")), OutputDir: out})
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Fetch() error = %v, want ErrChecksumMismatch", err)
	}
	if _, err := os.Stat(filepath.Join(out, "a.tar.bz2")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("unverified archive moved into place")
	}
}

func TestFetchReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv, _ := serve(t, nil)
	f := &Fetcher{Client: srv.Client(), Logger: discard}

	_, err := f.Fetch(context.Background(), Request{URL: srv.URL + "/missing.zip", Checksum: "00", OutputDir: t.TempDir()})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
		t.Fatalf("Fetch() error = %v, want 404 HTTPError", err)
	}
}

func TestFetchSkipExtract(t *testing.T) {
	t.Parallel()

	body := tarBz2(t, entry{name: "a.txt", body: "a"})
	srv, _ := serve(t, body)
	out := t.TempDir()
	archiveDir := t.TempDir()

	f := &Fetcher{Client: srv.Client(), Logger: discard}
	_, err := f.Fetch(context.Background(), Request{URL: srv.URL + "/a.tar.bz2", Checksum: sum(body), OutputDir: out, ArchiveDir: archiveDir, SkipExtract: true})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(archiveDir, "a.tar.bz2")); err != nil {
		t.Fatalf("archive not stored in archive dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "a.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("archive extracted despite SkipExtract")
	}
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "evil.tar.bz2")
	if err := os.WriteFile(path, tarBz2(t, entry{name: "../escaped.txt", body: "x"}), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	dest := filepath.Join(dir, "out")
	if err := Extract(context.Background(), path, dest); !errors.Is(err, ErrUnsafePath) && !errors.Is(err, tar.ErrInsecurePath) {
		t.Fatalf("Extract() error = %v, want ErrUnsafePath", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escaped.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("entry written outside destination")
	}
}

func TestExtractRejectsSymlinkChains(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "chain.tar.bz2")
	archive := tarBz2(t,
		entry{name: "link", link: "."},
		entry{name: "link/up", link: ".."},
		entry{name: "up/pwned.txt", body: "x"},
	)
	if err := os.WriteFile(path, archive, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	dest := filepath.Join(dir, "out")
	if err := Extract(context.Background(), path, dest); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("Extract() error = %v, want ErrUnsafePath", err)
	}
	if _, err := os.Lstat(filepath.Join(dir, "pwned.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("entry written outside destination")
	}
	if _, err := os.Lstat(filepath.Join(dest, "up")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("escaping symlink created")
	}
}

func TestExtractRefusesWritingThroughSymlinks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// The link resolves inside dest at creation time and is then replaced
	// by a regular file entry of the same name.
	path := filepath.Join(dir, "overwrite.tar.bz2")
	archive := tarBz2(t,
		entry{name: "lib.a", body: "lib"},
		entry{name: "alias.a", link: "lib.a"},
		entry{name: "alias.a", body: "replaced"},
	)
	if err := os.WriteFile(path, archive, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	dest := filepath.Join(dir, "out")
	if err := Extract(context.Background(), path, dest); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("Extract() error = %v, want ErrUnsafePath", err)
	}
	if data, _ := os.ReadFile(filepath.Join(dest, "lib.a")); string(data) != "lib" {
		t.Fatalf("symlink target modified: %q", data)
	}
}

func TestExtractKeepsInternalSymlinks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "links.tar.bz2")
	archive := tarBz2(t,
		entry{name: "release/obj/libwebrtc.a", body: "lib"},
		entry{name: "release/libwebrtc.a", link: "obj/libwebrtc.a"},
	)
	if err := os.WriteFile(path, archive, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	dest := filepath.Join(dir, "out")
	if err := Extract(context.Background(), path, dest); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "release", "libwebrtc.a"))
	if err != nil || string(data) != "lib" {
		t.Fatalf("read through symlink = %q, %v", data, err)
	}
}

func TestExtractRequiresBzip2(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plain.tar.bz2")
	if err := os.WriteFile(path, []byte("definitely not compressed"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Extract(context.Background(), path, t.TempDir()); !errors.Is(err, ErrNotBzip2) {
		t.Fatalf("Extract() error = %v, want ErrNotBzip2", err)
	}
}
