package sfo

import (
	"errors"
	"fmt"
)

var (
	// ErrFileVanished means the file disappeared between the event and processing.
	// The pipeline treats it as a successful no-op.
	ErrFileVanished = errors.New("file vanished")

	// ErrNoWatchableDirectories is returned when none of the configured roots exist.
	ErrNoWatchableDirectories = errors.New("no watchable directories")

	// ErrUndoTargetMissing is returned when the organized file is gone at undo time.
	// The entry is marked non-undoable before this is returned.
	ErrUndoTargetMissing = errors.New("undo target missing")

	// ErrNothingToUndo is returned by UndoLast when no undoable entry exists.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrEntryNotFound is returned when a history id is unknown.
	ErrEntryNotFound = errors.New("history entry not found")

	// ErrEntryNotUndoable is returned when a history entry was already undone.
	ErrEntryNotUndoable = errors.New("history entry cannot be undone")

	// ErrLedgerCorrupt is returned when the persisted history cannot be parsed.
	ErrLedgerCorrupt = errors.New("history ledger corrupt")

	// ErrQueueClosed is returned by Submit after the queue has been stopped.
	ErrQueueClosed = errors.New("work queue closed")

	// ErrVaultObjectNotFound is returned when a vault has no object with the given ID.
	ErrVaultObjectNotFound = errors.New("vault object not found")

	// ErrQueueFull is returned by Submit when the task buffer is at capacity.
	ErrQueueFull = errors.New("work queue full")
)

// ProcessingError reports a task that kept failing after all retries.
type ProcessingError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s failed after %d attempt(s): %v", e.Path, e.Attempts, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
