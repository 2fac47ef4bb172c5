// Package shred deletes files after overwriting their contents, so the
// plaintext of sealed files and deleted duplicates is not left on disk.
package shred

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"sfo-go/internal/sfo"
)

// MaxPasses caps the number of overwrite passes.
const MaxPasses = 7

const bufferSize = 64 * 1024

var _ sfo.Deleter = (*Shredder)(nil)

// Shredder overwrites a file with random data, zeros and ones in turn,
// syncing after every pass, before unlinking it.
type Shredder struct {
	logger sfo.Logger
}

// New creates a Shredder.
func New(logger sfo.Logger) *Shredder {
	return &Shredder{logger: sfo.With(logger, "component", "shred")}
}

// Delete overwrites path passes times (clamped to 1..MaxPasses) and removes it.
func (s *Shredder) Delete(path string, passes int) error {
	passes = min(max(passes, 1), MaxPasses)

	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", sfo.ErrFileVanished, path)
		}
		return fmt.Errorf("stat: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("shredding %s: not a regular file", path)
	}

	for pass := 0; pass < passes; pass++ {
		if err := overwrite(path, info.Size(), pass); err != nil {
			return fmt.Errorf("overwrite pass %d: %w", pass+1, err)
		}
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	s.logger.Debug("file shredded", "path", path, "passes", passes)
	return nil
}

// overwrite writes one pass over the first size bytes of path. Passes cycle
// through random data, zeros and ones.
func overwrite(path string, size int64, pass int) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, min(size, bufferSize))
	switch pass % 3 {
	case 1:
		clear(buf)
	case 2:
		for i := range buf {
			buf[i] = 0xFF
		}
	}

	for written := int64(0); written < size; {
		chunk := buf[:min(int64(len(buf)), size-written)]
		if pass%3 == 0 {
			if _, err := rand.Read(chunk); err != nil {
				return fmt.Errorf("reading random data: %w", err)
			}
		}
		n, err := f.Write(chunk)
		if err != nil {
			return err
		}
		written += int64(n)
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Close()
}
