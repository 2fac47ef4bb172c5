// Package dedup detects duplicate files with a staged size, partial-hash and
// full-hash index that only pays for hashing when sizes collide.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"sfo-go/internal/sfo"
)

var _ sfo.DuplicateIndex = (*Index)(nil)

// Options tunes an Index.
type Options struct {
	ChunkSize int
	// PartialOnly reports LikelyDuplicate on a partial-hash match instead of
	// confirming with a full hash.
	PartialOnly bool
}

// Stats describes the index contents.
type Stats struct {
	Files         int `json:"files"`
	UniqueSizes   int `json:"unique_sizes"`
	PartialHashes int `json:"partial_hashes"`
	FullHashes    int `json:"full_hashes"`
}

type record struct {
	size    int64
	partial string
	full    string
}

// Index is a DuplicateIndex. Every check runs under one index-wide lock, so a
// relocation never interleaves with another lookup.
type Index struct {
	opts   Options
	store  sfo.HashStore
	logger sfo.Logger

	mu        sync.Mutex
	records   map[string]*record
	bySize    map[int64][]string
	byPartial map[string][]string
	byFull    map[string][]string
}

// NewIndex creates an empty Index. store may be nil for a purely in-memory index.
func NewIndex(opts Options, store sfo.HashStore, logger sfo.Logger) *Index {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Index{
		opts:      opts,
		store:     store,
		logger:    sfo.With(logger, "component", "dedup"),
		records:   make(map[string]*record),
		bySize:    make(map[int64][]string),
		byPartial: make(map[string][]string),
		byFull:    make(map[string][]string),
	}
}

// Check reports whether path duplicates an indexed file. A unique file is
// indexed; a duplicate is not.
func (x *Index) Check(path string) (sfo.DuplicateVerdict, error) {
	unique := sfo.DuplicateVerdict{Status: sfo.Unique}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return unique, fmt.Errorf("checking %s: %w", path, sfo.ErrFileVanished)
		}
		return unique, fmt.Errorf("checking %s: %w", path, err)
	}
	size := info.Size()

	x.mu.Lock()
	defer x.mu.Unlock()

	// A path seen before is checked afresh: its content may have changed.
	if _, ok := x.records[path]; ok {
		x.forget(path)
		x.persistDelete(path)
	}

	if len(x.bySize[size]) == 0 {
		x.insert(path, &record{size: size})
		return unique, nil
	}

	partial, err := PartialHash(path, size, x.opts.ChunkSize)
	if err != nil {
		return unique, fmt.Errorf("partial hash: %w", err)
	}
	x.hydratePartials(size)

	matches := slices.Clone(x.byPartial[partial])
	if len(matches) == 0 {
		x.insert(path, &record{size: size, partial: partial})
		return unique, nil
	}

	if x.opts.PartialOnly {
		for _, m := range matches {
			if exists(m) {
				return sfo.DuplicateVerdict{Status: sfo.LikelyDuplicate, DuplicateOf: m}, nil
			}
		}
		x.relocate(matches[0], path, &record{size: size, partial: partial})
		return unique, nil
	}

	full, err := FullHash(path)
	if err != nil {
		return unique, fmt.Errorf("full hash: %w", err)
	}
	original := x.findFull(matches, full)
	switch {
	case original == "":
		x.insert(path, &record{size: size, partial: partial, full: full})
		return unique, nil
	case exists(original):
		return sfo.DuplicateVerdict{Status: sfo.ExactDuplicate, DuplicateOf: original}, nil
	default:
		x.relocate(original, path, &record{size: size, partial: partial, full: full})
		return unique, nil
	}
}

// hydratePartials computes the partial hash of every same-size path that
// does not have one yet. Vanished paths are dropped; unreadable ones skipped.
func (x *Index) hydratePartials(size int64) {
	for _, p := range slices.Clone(x.bySize[size]) {
		rec := x.records[p]
		if rec == nil || rec.partial != "" {
			continue
		}
		h, err := PartialHash(p, size, x.opts.ChunkSize)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				x.logger.Debug("dropping vanished file from index", "path", p)
				x.forget(p)
				x.persistDelete(p)
				continue
			}
			x.logger.Warn("skipping unreadable candidate", "path", p, "error", err)
			continue
		}
		rec.partial = h
		x.byPartial[h] = append(x.byPartial[h], p)
		x.persist(p, rec)
	}
}

// findFull returns the indexed path whose full hash equals full, preferring
// one that still exists. Candidates are full-hashed lazily, stopping at the
// first match.
func (x *Index) findFull(matches []string, full string) string {
	for _, p := range matches {
		rec := x.records[p]
		if rec == nil || rec.full != "" {
			continue
		}
		h, err := FullHash(p)
		if err != nil {
			x.logger.Warn("skipping unreadable candidate", "path", p, "error", err)
			continue
		}
		rec.full = h
		x.byFull[h] = append(x.byFull[h], p)
		x.persist(p, rec)
		if h == full {
			break
		}
	}

	stale := ""
	for _, p := range x.byFull[full] {
		if exists(p) {
			return p
		}
		if stale == "" {
			stale = p
		}
	}
	return stale
}

// relocate re-points every index level from a stale path to newPath.
func (x *Index) relocate(stale, newPath string, rec *record) {
	x.logger.Info("indexed original moved, following new path", "from", stale, "to", newPath)
	x.forget(stale)
	x.insert(newPath, rec)
	x.persistDelete(stale)
}

// Add indexes path without a verdict. Only its size is recorded; hashes are
// computed when another file of the same size arrives.
func (x *Index) Add(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("indexing %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("indexing %s: not a regular file", path)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.forget(path)
	x.insert(path, &record{size: info.Size()})
	return nil
}

// AddTree indexes every regular file under root. It returns the number added.
func (x *Index) AddTree(ctx context.Context, root string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := x.Add(p); err != nil {
			x.logger.Warn("skipping file", "path", p, "error", err)
			return nil
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("indexing %s: %w", root, err)
	}
	return n, nil
}

// Rename re-points the record for oldPath to newPath. It is a no-op when
// oldPath is not indexed.
func (x *Index) Rename(oldPath, newPath string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.rename(oldPath, newPath)
}

// Move runs move under the index lock and follows the file it moved. A
// concurrent Check therefore never sees the original missing from both
// its old and new path.
func (x *Index) Move(move func() (from, to string, err error)) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	from, to, err := move()
	if err != nil {
		return err
	}
	if to == "" {
		return nil
	}
	if err := x.rename(from, to); err != nil {
		x.logger.Warn("following moved file", "from", from, "to", to, "error", err)
	}
	return nil
}

func (x *Index) rename(oldPath, newPath string) error {
	rec, ok := x.records[oldPath]
	if !ok || oldPath == newPath {
		return nil
	}
	x.forget(newPath)
	x.forget(oldPath)
	x.records[newPath] = rec
	x.link(newPath, rec)

	if x.store != nil {
		if err := x.store.RenameHashRecord(oldPath, newPath); err != nil {
			return fmt.Errorf("renaming hash record: %w", err)
		}
	}
	return nil
}

// Remove drops path from the index.
func (x *Index) Remove(path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.records[path]; !ok {
		return nil
	}
	x.forget(path)
	if x.store != nil {
		if err := x.store.DeleteHashRecord(path); err != nil {
			return fmt.Errorf("deleting hash record: %w", err)
		}
	}
	return nil
}

// Load replaces the in-memory index with the store's records. Records whose
// file is gone are deleted; records whose size changed keep only the size.
func (x *Index) Load(ctx context.Context) (int, error) {
	if x.store == nil {
		return 0, nil
	}
	recs, err := x.store.LoadHashRecords()
	if err != nil {
		return 0, fmt.Errorf("loading hash records: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.reset()

	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return len(x.records), err
		}
		info, err := os.Stat(r.Path)
		if err != nil {
			x.persistDelete(r.Path)
			continue
		}
		rec := &record{size: r.Size, partial: r.PartialHash, full: r.FullHash}
		if info.Size() != r.Size {
			rec = &record{size: info.Size()}
			x.persist(r.Path, rec)
		}
		x.records[r.Path] = rec
		x.link(r.Path, rec)
	}
	x.logger.Info("hash index loaded", "files", len(x.records))
	return len(x.records), nil
}

// Clear empties the index and its store.
func (x *Index) Clear() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.reset()
	if x.store != nil {
		if err := x.store.ClearHashRecords(); err != nil {
			return fmt.Errorf("clearing hash records: %w", err)
		}
	}
	return nil
}

// Stats returns a snapshot of the index size.
func (x *Index) Stats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()
	return Stats{
		Files:         len(x.records),
		UniqueSizes:   len(x.bySize),
		PartialHashes: len(x.byPartial),
		FullHashes:    len(x.byFull),
	}
}

// Contains reports whether path is indexed.
func (x *Index) Contains(path string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.records[path]
	return ok
}

func (x *Index) reset() {
	x.records = make(map[string]*record)
	x.bySize = make(map[int64][]string)
	x.byPartial = make(map[string][]string)
	x.byFull = make(map[string][]string)
}

func (x *Index) insert(path string, rec *record) {
	x.records[path] = rec
	x.link(path, rec)
	x.persist(path, rec)
}

func (x *Index) link(path string, rec *record) {
	x.bySize[rec.size] = append(x.bySize[rec.size], path)
	if rec.partial != "" {
		x.byPartial[rec.partial] = append(x.byPartial[rec.partial], path)
	}
	if rec.full != "" {
		x.byFull[rec.full] = append(x.byFull[rec.full], path)
	}
}

// forget removes path from every level. It does not touch the store.
func (x *Index) forget(path string) {
	rec, ok := x.records[path]
	if !ok {
		return
	}
	delete(x.records, path)
	unlink(x.bySize, rec.size, path)
	if rec.partial != "" {
		unlink(x.byPartial, rec.partial, path)
	}
	if rec.full != "" {
		unlink(x.byFull, rec.full, path)
	}
}

func unlink[K comparable](m map[K][]string, key K, path string) {
	paths := slices.DeleteFunc(m[key], func(p string) bool { return p == path })
	if len(paths) == 0 {
		delete(m, key)
		return
	}
	m[key] = paths
}

func (x *Index) persist(path string, rec *record) {
	if x.store == nil {
		return
	}
	err := x.store.PutHashRecord(&sfo.HashRecord{
		Path:        path,
		Size:        rec.size,
		PartialHash: rec.partial,
		FullHash:    rec.full,
	})
	if err != nil {
		x.logger.Warn("persisting hash record", "path", path, "error", err)
	}
}

func (x *Index) persistDelete(path string) {
	if x.store == nil {
		return
	}
	if err := x.store.DeleteHashRecord(path); err != nil {
		x.logger.Warn("deleting hash record", "path", path, "error", err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
