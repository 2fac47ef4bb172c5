package mover

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sfo-go/internal/sfo"
)

// MaxRenameAttempts bounds the name_N suffix search before falling back to a timestamp.
const MaxRenameAttempts = 9999

// ErrConflictExhausted is returned when no free name could be found for a file.
var ErrConflictExhausted = errors.New("conflict resolution exhausted")

// Resolver decides what happens when a destination name is already taken.
type Resolver struct {
	strategy      sfo.ConflictStrategy
	quarantineDir string
	clock         sfo.Clock
	maxAttempts   int
}

// NewResolver creates a Resolver using strategy. Quarantined files go to quarantineDir.
func NewResolver(strategy sfo.ConflictStrategy, quarantineDir string, clock sfo.Clock) *Resolver {
	if strategy == "" {
		strategy = sfo.StrategyRename
	}
	if clock == nil {
		clock = sfo.RealClock{}
	}
	return &Resolver{
		strategy:      strategy,
		quarantineDir: quarantineDir,
		clock:         clock,
		maxAttempts:   MaxRenameAttempts,
	}
}

// Strategy returns the configured conflict strategy.
func (r *Resolver) Strategy() sfo.ConflictStrategy {
	return r.strategy
}

// Resolve returns the decision for moving source to intended.
// A free destination always proceeds unchanged.
func (r *Resolver) Resolve(source, intended string) (sfo.ConflictDecision, error) {
	existing, err := os.Stat(intended)
	if errors.Is(err, os.ErrNotExist) {
		return sfo.ConflictDecision{Action: sfo.ActionProceed, FinalPath: intended}, nil
	}
	if err != nil {
		return sfo.ConflictDecision{}, fmt.Errorf("checking destination: %w", err)
	}

	switch r.strategy {
	case sfo.StrategySkip:
		return sfo.ConflictDecision{Action: sfo.ActionSkip}, nil

	case sfo.StrategyOverwrite:
		return sfo.ConflictDecision{Action: sfo.ActionOverwrite, FinalPath: intended}, nil

	case sfo.StrategyQuarantine:
		final, err := r.UniqueName(filepath.Join(r.quarantineDir, filepath.Base(source)))
		if err != nil {
			return sfo.ConflictDecision{}, err
		}
		return sfo.ConflictDecision{Action: sfo.ActionQuarantine, FinalPath: final}, nil

	case sfo.StrategyKeepNewer, sfo.StrategyKeepLarger:
		src, err := os.Stat(source)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return sfo.ConflictDecision{}, fmt.Errorf("%w: %s", sfo.ErrFileVanished, source)
			}
			return sfo.ConflictDecision{}, fmt.Errorf("stat source: %w", err)
		}
		wins := src.ModTime().After(existing.ModTime())
		if r.strategy == sfo.StrategyKeepLarger {
			wins = src.Size() > existing.Size()
		}
		if wins {
			return sfo.ConflictDecision{Action: sfo.ActionOverwrite, FinalPath: intended}, nil
		}
		return sfo.ConflictDecision{Action: sfo.ActionSkip}, nil

	default:
		final, err := r.UniqueName(intended)
		if err != nil {
			return sfo.ConflictDecision{}, err
		}
		return sfo.ConflictDecision{Action: sfo.ActionProceed, FinalPath: final}, nil
	}
}

// UniqueName returns path if it is free, otherwise the first free
// name_N.ext, otherwise name_YYYYmmdd_HHMMSS.ext.
func (r *Resolver) UniqueName(path string) (string, error) {
	if !exists(path) {
		return path, nil
	}
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)

	for i := 1; i <= r.maxAttempts; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if !exists(candidate) {
			return candidate, nil
		}
	}

	candidate := filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, r.clock.Now().Format("20060102_150405"), ext))
	if exists(candidate) {
		return "", fmt.Errorf("%w: %s", ErrConflictExhausted, path)
	}
	return candidate, nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
