package dedup

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"sfo-go/internal/sfo"
)

// DuplicateGroup is one original file and the copies found of it.
type DuplicateGroup struct {
	Original   string   `json:"original"`
	Duplicates []string `json:"duplicates"`
	Size       int64    `json:"size"`
}

// FindDuplicates walks root with a fresh in-memory index and groups every
// exact duplicate under the first file seen with the same content.
// Files are visited in lexical order, so the result is deterministic.
func FindDuplicates(ctx context.Context, root string, opts Options, logger sfo.Logger) ([]DuplicateGroup, error) {
	opts.PartialOnly = false
	idx := NewIndex(opts, nil, logger)

	groups := make(map[string]*DuplicateGroup)
	var order []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		v, err := idx.Check(p)
		if err != nil {
			idx.logger.Warn("skipping file", "path", p, "error", err)
			return nil
		}
		if !v.IsDuplicate() {
			return nil
		}
		g, ok := groups[v.DuplicateOf]
		if !ok {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			g = &DuplicateGroup{Original: v.DuplicateOf, Size: info.Size()}
			groups[v.DuplicateOf] = g
			order = append(order, v.DuplicateOf)
		}
		g.Duplicates = append(g.Duplicates, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	out := make([]DuplicateGroup, 0, len(order))
	for _, orig := range order {
		out = append(out, *groups[orig])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Original < out[j].Original })
	return out, nil
}

// Wasted returns the bytes held by the duplicate copies in groups.
func Wasted(groups []DuplicateGroup) int64 {
	var n int64
	for _, g := range groups {
		n += g.Size * int64(len(g.Duplicates))
	}
	return n
}
