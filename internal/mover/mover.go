// Package mover places classified files into the organized tree.
package mover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"

	"sfo-go/internal/sfo"
)

// DuplicatesDirName is the quarantine subdirectory that receives duplicates.
const DuplicatesDirName = "duplicates"

// Options configure a FileMover.
type Options struct {
	BaseDir        string
	QuarantineDir  string
	UseDateFolders bool
	Strategy       sfo.ConflictStrategy
}

// FileMover implements sfo.Mover on the local filesystem.
type FileMover struct {
	opts     Options
	resolver *Resolver
	clock    sfo.Clock
	logger   sfo.Logger
	locks    *keyedMutex
}

var _ sfo.Mover = (*FileMover)(nil)

// New creates a FileMover.
func New(opts Options, clock sfo.Clock, logger sfo.Logger) *FileMover {
	if clock == nil {
		clock = sfo.RealClock{}
	}
	return &FileMover{
		opts:     opts,
		resolver: NewResolver(opts.Strategy, opts.QuarantineDir, clock),
		clock:    clock,
		logger:   sfo.With(logger, "component", "mover"),
		locks:    newKeyedMutex(),
	}
}

// Destination returns base/Category[/Subcategory][/YYYY/MM]/name.
func (m *FileMover) Destination(source string, result *sfo.ClassificationResult) string {
	dir := filepath.Join(m.opts.BaseDir, filepath.FromSlash(result.SuggestedFolder()))
	if m.opts.UseDateFolders {
		now := m.clock.Now()
		dir = filepath.Join(dir, now.Format("2006"), now.Format("01"))
	}
	return filepath.Join(dir, filepath.Base(source))
}

// Organize moves source into its category folder, resolving name conflicts.
// Resolution and the move happen under a lock on every directory the file
// may land in, so a renamed file never lands on a name another worker is
// moving into.
func (m *FileMover) Organize(ctx context.Context, source string, result *sfo.ClassificationResult) (*sfo.MoveResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(source); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", sfo.ErrFileVanished, source)
		}
		return nil, fmt.Errorf("stat source: %w", err)
	}

	intended := m.Destination(source, result)
	defer m.lockDirs(filepath.Dir(intended))()

	if err := os.MkdirAll(filepath.Dir(intended), 0755); err != nil {
		return nil, fmt.Errorf("creating destination directory: %w", err)
	}

	decision, err := m.resolver.Resolve(source, intended)
	if err != nil {
		return nil, fmt.Errorf("resolving conflict: %w", err)
	}

	switch decision.Action {
	case sfo.ActionSkip:
		m.logger.Info("destination exists, skipping", "source", source, "dest", intended)
		return &sfo.MoveResult{Decision: decision}, nil
	case sfo.ActionQuarantine:
		if err := os.MkdirAll(filepath.Dir(decision.FinalPath), 0755); err != nil {
			return nil, fmt.Errorf("creating quarantine directory: %w", err)
		}
	case sfo.ActionOverwrite:
		m.logger.Info("overwriting existing file", "dest", decision.FinalPath)
	}

	if err := MoveFile(source, decision.FinalPath); err != nil {
		return nil, err
	}
	if decision.FinalPath != intended {
		m.logger.Debug("destination renamed", "intended", intended, "final", decision.FinalPath)
	}
	return &sfo.MoveResult{Decision: decision, DestPath: decision.FinalPath, Moved: true}, nil
}

// QuarantineDuplicate moves source to quarantine/duplicates under a free name.
func (m *FileMover) QuarantineDuplicate(source string) (string, error) {
	dir := filepath.Join(m.opts.QuarantineDir, DuplicatesDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating duplicates directory: %w", err)
	}

	defer m.locks.Lock(dir)()

	final, err := m.resolver.UniqueName(filepath.Join(dir, filepath.Base(source)))
	if err != nil {
		return "", err
	}
	if err := MoveFile(source, final); err != nil {
		return "", err
	}
	return final, nil
}

// lockDirs locks dir and, for the quarantine strategy, the quarantine
// directory. The category directory is always taken first.
func (m *FileMover) lockDirs(dir string) func() {
	unlock := m.locks.Lock(dir)
	q := filepath.Clean(m.opts.QuarantineDir)
	if m.resolver.Strategy() != sfo.StrategyQuarantine || q == filepath.Clean(dir) {
		return unlock
	}
	unlockQ := m.locks.Lock(q)
	return func() {
		unlockQ()
		unlock()
	}
}

// MoveFile renames src to dst, replacing dst. When they are on different
// filesystems the file is copied to a temp file beside dst, renamed into
// place, and src is removed.
func MoveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		if _, statErr := os.Stat(src); errors.Is(statErr, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", sfo.ErrFileVanished, src)
		}
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("moving %s: %w", filepath.Base(src), err)
	}
	return copyMove(src, dst)
}

func copyMove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", sfo.ErrFileVanished, src)
		}
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".sfo-move-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, in)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("copying %s: %w", humanize.Bytes(uint64(info.Size())), err)
	}
	if n != info.Size() {
		tmp.Close()
		return fmt.Errorf("short copy: wrote %d of %d bytes", n, info.Size())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Chtimes(tmpPath, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("setting modification time: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	success = true

	in.Close()
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing source after copy: %w", err)
	}
	return nil
}
