package artifacts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/h2non/filetype"
)

// sniffLength covers the longest magic number filetype inspects.
const sniffLength = 262

// Describe stats path and returns it as an artifact of the given kind.
func Describe(kind ArtifactKind, path string, metadata map[string]any) (Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("describe artifact: %w", err)
	}

	contentType := "inode/directory"
	if !info.IsDir() {
		contentType, err = DetectContentType(path)
		if err != nil {
			return Artifact{}, err
		}
	}

	return Artifact{
		Kind:        kind,
		Path:        path,
		Size:        info.Size(),
		ContentType: contentType,
		Metadata:    cloneMetadata(metadata),
	}, nil
}

// DetectContentType sniffs the first bytes of path, falling back to the file
// extension for formats without a magic number.
func DetectContentType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	kind, err := filetype.Match(head[:n])
	if err == nil && kind != filetype.Unknown {
		return kind.MIME.Value, nil
	}
	return contentTypeFromExtension(path), nil
}

func contentTypeFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt", ".sym":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".bz2":
		return "application/x-bzip2"
	default:
		return "application/octet-stream"
	}
}

// HumanSize renders the artifact size for logs.
func (a Artifact) HumanSize() string {
	if a.Size < 0 {
		return "unknown"
	}
	return humanize.Bytes(uint64(a.Size))
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for k, v := range metadata {
		cloned[k] = v
	}
	return cloned
}
