package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-directory ignore file read from each watch root.
const IgnoreFileName = ".sfoignore"

// builtinIgnorePatterns cover in-progress downloads, editor lock files and
// the temp files this program creates itself. They are always applied.
var builtinIgnorePatterns = []string{
	IgnoreFileName,
	"*.crdownload",
	"*.part",
	"*.partial",
	"*.download",
	"*.tmp",
	"~$*",
	".~lock.*",
	".DS_Store",
	"Thumbs.db",
	".sfo-*",
	".tmp-*",
}

// WithBuiltins returns the built-in patterns followed by extra.
func WithBuiltins(extra []string) []string {
	out := make([]string, 0, len(builtinIgnorePatterns)+len(extra))
	out = append(out, builtinIgnorePatterns...)
	return append(out, extra...)
}

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
}

// IgnoreMatcher checks file paths against a set of glob patterns.
// Patterns without '/' match against the file's basename only.
// Patterns with '/' match against the path relative to the watch root.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   filepath.ToSlash(raw),
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Extend returns a new matcher holding m's patterns plus rawPatterns.
func (m *IgnoreMatcher) Extend(rawPatterns []string) *IgnoreMatcher {
	extra := NewIgnoreMatcher(rawPatterns)
	merged := make([]ignorePattern, 0, len(m.patterns)+len(extra.patterns))
	merged = append(merged, m.patterns...)
	merged = append(merged, extra.patterns...)
	return &IgnoreMatcher{patterns: merged}
}

// Match reports whether the given relative path should be ignored.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if len(m.patterns) == 0 || relativePath == "" {
		return false
	}

	normalized := filepath.ToSlash(relativePath)
	basename := filepath.Base(relativePath)

	for _, p := range m.patterns {
		var matched bool
		var err error
		if p.matchPath {
			matched, err = filepath.Match(p.pattern, normalized)
		} else {
			matched, err = filepath.Match(p.pattern, basename)
		}
		if err != nil {
			// Malformed pattern: skip it.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// MatchUnder reports whether absPath should be ignored when watched from root.
// Paths outside root are matched by basename only.
func (m *IgnoreMatcher) MatchUnder(absPath, root string) bool {
	rel, err := filepath.Rel(root, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(absPath)
	}
	return m.Match(rel)
}

// ParseIgnoreFile reads an ignore file and returns the raw pattern lines.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
