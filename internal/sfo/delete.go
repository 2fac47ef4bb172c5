package sfo

import "os"

// Overwrite passes used when deleting files.
const (
	DefaultSecureDeletePasses = 3
	DuplicateDeletePasses     = 1
)

// Deleter removes files. A secure implementation overwrites the contents
// the given number of times before unlinking.
type Deleter interface {
	Delete(path string, passes int) error
}

// PlainDeleter unlinks without overwriting.
type PlainDeleter struct{}

func (PlainDeleter) Delete(path string, _ int) error {
	return os.Remove(path)
}
