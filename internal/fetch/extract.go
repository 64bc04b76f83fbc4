package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/mholt/archives"
)

// ErrUnsafePath is returned for archive entries that would land outside the
// extraction directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// ErrNotBzip2 is returned when the archive does not start with a bzip2 header.
var ErrNotBzip2 = errors.New("archive is not bzip2 compressed")

// Extract unpacks the tar.bz2 at archivePath into dest. Every write goes
// through an os.Root, so entries cannot reach outside dest even through
// symlinks extracted earlier.
func Extract(ctx context.Context, archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	head := make([]byte, 262)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read archive header: %w", err)
	}
	if kind, _ := filetype.Match(head[:n]); kind.Extension != "bz2" {
		return fmt.Errorf("%w: %s (detected %q)", ErrNotBzip2, filepath.Base(archivePath), kind.MIME.Value)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind archive: %w", err)
	}

	decompressed, err := archives.Bz2{}.OpenReader(f)
	if err != nil {
		return fmt.Errorf("open bzip2 stream: %w", err)
	}
	defer decompressed.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	rootDir, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return err
	}
	if rootDir, err = filepath.Abs(rootDir); err != nil {
		return err
	}
	root, err := os.OpenRoot(rootDir)
	if err != nil {
		return fmt.Errorf("open %s: %w", dest, err)
	}
	defer root.Close()

	x := &extractor{root: root, dir: rootDir}
	err = archives.Tar{}.Extract(ctx, decompressed, func(ctx context.Context, info archives.FileInfo) error {
		return x.entry(info)
	})
	if err != nil {
		return err
	}
	return x.verifyLinks()
}

// extractor writes entries below dir through root.
type extractor struct {
	root  *os.Root
	dir   string
	links []string
}

func (x *extractor) entry(info archives.FileInfo) error {
	name, err := entryName(info.NameInArchive)
	if err != nil {
		return err
	}
	if name == "." {
		return nil
	}
	if err := x.refuseSymlink(name); err != nil {
		return err
	}

	switch {
	case info.IsDir():
		return x.mkdirAll(name)

	case info.LinkTarget != "":
		if err := x.mkdirAll(path.Dir(name)); err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			// Hard link: copy the already extracted file it points at.
			source, err := entryName(info.LinkTarget)
			if err != nil {
				return err
			}
			return x.writeFile(name, info.Mode().Perm(), func() (io.ReadCloser, error) { return x.root.Open(source) })
		}
		return x.symlink(name, info.NameInArchive, info.LinkTarget)

	case info.Mode().IsRegular():
		if err := x.mkdirAll(path.Dir(name)); err != nil {
			return err
		}
		return x.writeFile(name, info.Mode().Perm(), func() (io.ReadCloser, error) { return info.Open() })
	}
	return nil
}

// refuseSymlink rejects entries that would replace or write through a
// symlink extracted earlier.
func (x *extractor) refuseSymlink(name string) error {
	fi, err := x.root.Lstat(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("%w: %s: %v", ErrUnsafePath, name, err)
	case fi.Mode()&os.ModeSymlink != 0:
		return fmt.Errorf("%w: %s overwrites a symlink", ErrUnsafePath, name)
	}
	return nil
}

func (x *extractor) mkdirAll(name string) error {
	if name == "." || name == "" {
		return nil
	}
	current := ""
	for _, part := range strings.Split(name, "/") {
		current = path.Join(current, part)
		if err := x.root.Mkdir(current, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s: %v", ErrUnsafePath, current, err)
		}
	}
	return nil
}

// symlink creates name -> target after checking the target against the real
// location of name's parent, so earlier links cannot be chained out of dir.
func (x *extractor) symlink(name, original, target string) error {
	if filepath.IsAbs(target) || strings.HasPrefix(target, "/") {
		return fmt.Errorf("%w: %s -> %s", ErrUnsafePath, original, target)
	}

	parent, err := filepath.EvalSymlinks(filepath.Join(x.dir, filepath.FromSlash(path.Dir(name))))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnsafePath, original, err)
	}
	if !within(x.dir, parent) || !within(x.dir, filepath.Join(parent, filepath.FromSlash(target))) {
		return fmt.Errorf("%w: %s -> %s", ErrUnsafePath, original, target)
	}

	link := filepath.Join(parent, path.Base(name))
	if err := os.Remove(link); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Symlink(target, link); err != nil {
		return err
	}
	x.links = append(x.links, link)
	return nil
}

// verifyLinks resolves every extracted symlink once the tree is complete and
// removes the ones that lead outside dir.
func (x *extractor) verifyLinks() error {
	var escaped []error
	for _, link := range x.links {
		resolved, err := filepath.EvalSymlinks(link)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err == nil && within(x.dir, resolved) {
			continue
		}
		escaped = append(escaped, fmt.Errorf("%w: %s", ErrUnsafePath, link), os.Remove(link))
	}
	return errors.Join(escaped...)
}

func (x *extractor) writeFile(name string, perm os.FileMode, open func() (io.ReadCloser, error)) error {
	in, err := open()
	if err != nil {
		return err
	}
	defer in.Close()

	if perm == 0 {
		perm = 0o644
	}
	out, err := x.root.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnsafePath, name, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		return errors.Join(fmt.Errorf("extract %s: %w", name, err), out.Close())
	}
	return out.Close()
}

// entryName cleans an archive name into a slash separated path relative to
// the extraction root.
func entryName(name string) (string, error) {
	slashed := filepath.ToSlash(name)
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	cleaned := path.Clean(slashed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return cleaned, nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
