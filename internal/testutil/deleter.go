package testutil

import (
	"os"
	"sync"

	"sfo-go/internal/sfo"
)

// RecordingDeleter removes files and remembers how each was deleted.
type RecordingDeleter struct {
	mu     sync.Mutex
	Passes map[string]int
}

var _ sfo.Deleter = (*RecordingDeleter)(nil)

func NewRecordingDeleter() *RecordingDeleter {
	return &RecordingDeleter{Passes: make(map[string]int)}
}

func (d *RecordingDeleter) Delete(path string, passes int) error {
	if err := os.Remove(path); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Passes[path] = passes
	return nil
}

// PassesFor returns the passes used for path and whether it was deleted.
func (d *RecordingDeleter) PassesFor(path string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.Passes[path]
	return n, ok
}
