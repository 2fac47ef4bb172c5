package sfo

// DuplicateStatus is the outcome of a duplicate check.
type DuplicateStatus int

const (
	Unique DuplicateStatus = iota
	ExactDuplicate
	LikelyDuplicate
	// NearDuplicate is an image that looks like an indexed one.
	NearDuplicate
)

func (s DuplicateStatus) String() string {
	switch s {
	case Unique:
		return "unique"
	case ExactDuplicate:
		return "exact_duplicate"
	case LikelyDuplicate:
		return "likely_duplicate"
	case NearDuplicate:
		return "near_duplicate"
	default:
		return "unknown"
	}
}

// DuplicateVerdict answers whether a file duplicates one already indexed.
// DuplicateOf is set iff Status is not Unique.
type DuplicateVerdict struct {
	Status      DuplicateStatus
	DuplicateOf string
	// Distance is the perceptual hash distance of a NearDuplicate.
	Distance int
}

// IsDuplicate reports whether the verdict refers to another file.
func (v DuplicateVerdict) IsDuplicate() bool {
	return v.Status != Unique
}

// DuplicateIndex tracks accepted files and detects duplicates among new ones.
type DuplicateIndex interface {
	// Check indexes path and reports whether it duplicates an indexed file.
	Check(path string) (DuplicateVerdict, error)

	// Rename re-points the record for oldPath to newPath after a move.
	Rename(oldPath, newPath string) error

	// Move runs move while no check can observe the file half-moved, then
	// re-points the record from the returned source to the returned
	// destination. An empty destination means nothing moved.
	Move(move func() (from, to string, err error)) error

	// Remove drops path from the index.
	Remove(path string) error
}

// ImageIndex finds images that look alike even when their bytes differ.
type ImageIndex interface {
	// Supports reports whether path has an image format the index can hash.
	Supports(path string) bool

	// Similar reports whether path looks like an indexed image. An image
	// that matches nothing is indexed.
	Similar(path string) (DuplicateVerdict, error)

	// Move runs move under the index lock and follows the moved image.
	Move(move func() (from, to string, err error)) error

	// Remove drops path from the index.
	Remove(path string) error
}
