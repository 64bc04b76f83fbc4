package artifacts

type ArtifactKind string

const (
	LibraryArtifact ArtifactKind = "library" // Loadable addon or static library
	SymbolArtifact  ArtifactKind = "symbols" // Detached debug information
	LicenseArtifact ArtifactKind = "license" // Aggregated third-party licenses
	ArchiveArtifact ArtifactKind = "archive" // Compressed dependency build
)

// Artifact is a file produced by a build run.
type Artifact struct {
	Kind ArtifactKind
	Path string

	Size        int64
	ContentType string
	Metadata    map[string]any
}
