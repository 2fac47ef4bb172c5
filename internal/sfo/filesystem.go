package sfo

// FilesystemManager resolves user-supplied paths and discovers files to organize.
type FilesystemManager interface {
	// Resolve makes rawPath absolute, stats it, and rejects anything that is
	// not a regular file or directory.
	Resolve(rawPath string) (*Path, error)

	// FindFiles lists regular files under dir, skipping ignored names.
	FindFiles(dir *Path, recursive bool) ([]*Path, error)

	// IsIgnored reports whether path matches an ignore pattern relative to root.
	IsIgnored(path, root string) bool
}
