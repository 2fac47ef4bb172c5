package fs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"sfo-go/internal/sfo"
)

// OSFilesystemManager is the real filesystem implementation of sfo.FilesystemManager.
// Discovered files are filtered through the configured ignore patterns plus the
// built-in ones, and through any ignore file found in the scanned root.
type OSFilesystemManager struct {
	ignore   *IgnoreMatcher
	excluded []string
}

// NewOSFilesystemManager creates a filesystem manager that skips files matching
// ignorePatterns. Directories in excluded (typically the organized tree) are never descended into.
func NewOSFilesystemManager(ignorePatterns []string, excluded ...string) *OSFilesystemManager {
	var cleaned []string
	for _, e := range excluded {
		if e == "" {
			continue
		}
		if abs, err := filepath.Abs(e); err == nil {
			cleaned = append(cleaned, abs)
		}
	}
	return &OSFilesystemManager{
		ignore:   NewIgnoreMatcher(WithBuiltins(ignorePatterns)),
		excluded: cleaned,
	}
}

// Resolve validates a raw path and returns a Path object.
func (m *OSFilesystemManager) Resolve(rawPath string) (*sfo.Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}

	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return nil, fmt.Errorf("symlinks not supported: %s", absPath)
	case mode&os.ModeDevice != 0:
		return nil, fmt.Errorf("device files not supported: %s", absPath)
	case mode&os.ModeNamedPipe != 0:
		return nil, fmt.Errorf("named pipes not supported: %s", absPath)
	case mode&os.ModeSocket != 0:
		return nil, fmt.Errorf("sockets not supported: %s", absPath)
	}

	return sfo.NewPath(absPath, info.IsDir(), info), nil
}

// IsIgnored reports whether path matches an ignore pattern relative to root.
func (m *OSFilesystemManager) IsIgnored(path, root string) bool {
	return m.ignore.MatchUnder(path, root)
}

// IsExcluded reports whether path is inside one of the excluded directories.
func (m *OSFilesystemManager) IsExcluded(path string) bool {
	for _, e := range m.excluded {
		if IsWithin(path, e) {
			return true
		}
	}
	return false
}

// FindFiles discovers regular files under the given directory path.
func (m *OSFilesystemManager) FindFiles(path *sfo.Path, recursive bool) ([]*sfo.Path, error) {
	if !path.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", path.String())
	}

	root := path.String()
	matcher := m.ignore
	local, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	if len(local) > 0 {
		matcher = matcher.Extend(local)
	}

	var paths []*sfo.Path
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == root {
				return nil
			}
			if !recursive || m.IsExcluded(p) || matcher.MatchUnder(p, root) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matcher.MatchUnder(p, root) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		paths = append(paths, sfo.NewPath(p, false, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return paths, nil
}

// IsWithin reports whether path equals dir or lies beneath it.
func IsWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:2] == ".." && rel[2] == filepath.Separator
}

// Compile-time check that OSFilesystemManager implements sfo.FilesystemManager
var _ sfo.FilesystemManager = (*OSFilesystemManager)(nil)
