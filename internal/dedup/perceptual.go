package dedup

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"sfo-go/internal/sfo"
)

// DefaultImageThreshold is the largest perceptual hash distance, out of 64
// bits, at which two images count as near-duplicates.
const DefaultImageThreshold = 5

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".tiff": true, ".tif": true,
}

var _ sfo.ImageIndex = (*ImageIndex)(nil)

// ImageIndex keeps a perceptual hash of every accepted image in memory.
type ImageIndex struct {
	threshold int
	logger    sfo.Logger

	mu     sync.Mutex
	hashes map[string]*goimagehash.ImageHash
}

// NewImageIndex creates an empty ImageIndex. A threshold outside 0..64
// takes DefaultImageThreshold.
func NewImageIndex(threshold int, logger sfo.Logger) *ImageIndex {
	if threshold < 0 || threshold > 64 {
		threshold = DefaultImageThreshold
	}
	return &ImageIndex{
		threshold: threshold,
		logger:    sfo.With(logger, "component", "dedup", "index", "image"),
		hashes:    make(map[string]*goimagehash.ImageHash),
	}
}

func (x *ImageIndex) Supports(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// PerceptualHash decodes the image at path and returns its 64-bit DCT hash.
func PerceptualHash(path string) (*goimagehash.ImageHash, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", sfo.ErrFileVanished, path)
		}
		return nil, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil, fmt.Errorf("hashing %s image: %w", format, err)
	}
	return h, nil
}

// Similar compares path against every indexed image and reports the closest
// one within the threshold. Images whose file is gone are dropped.
func (x *ImageIndex) Similar(path string) (sfo.DuplicateVerdict, error) {
	unique := sfo.DuplicateVerdict{Status: sfo.Unique}

	h, err := PerceptualHash(path)
	if err != nil {
		return unique, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	best, bestDist := "", x.threshold+1
	for p, other := range x.hashes {
		if p == path {
			continue
		}
		d, err := h.Distance(other)
		if err != nil || d > x.threshold {
			continue
		}
		if !exists(p) {
			x.logger.Debug("dropping vanished image", "path", p)
			delete(x.hashes, p)
			continue
		}
		if d < bestDist || (d == bestDist && p < best) {
			best, bestDist = p, d
		}
	}

	if best != "" {
		return sfo.DuplicateVerdict{Status: sfo.NearDuplicate, DuplicateOf: best, Distance: bestDist}, nil
	}
	x.hashes[path] = h
	return unique, nil
}

// Move runs move under the index lock and re-points the moved image.
func (x *ImageIndex) Move(move func() (from, to string, err error)) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	from, to, err := move()
	if err != nil {
		return err
	}
	if h, ok := x.hashes[from]; ok && to != "" && to != from {
		delete(x.hashes, from)
		x.hashes[to] = h
	}
	return nil
}

func (x *ImageIndex) Remove(path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.hashes, path)
	return nil
}

// Len returns the number of indexed images.
func (x *ImageIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.hashes)
}

// Contains reports whether path is indexed.
func (x *ImageIndex) Contains(path string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.hashes[path]
	return ok
}
