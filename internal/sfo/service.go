package sfo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultRestoreGrace is how long a path restored by undo is left alone by the pipeline.
const DefaultRestoreGrace = 5 * time.Minute

// Deps are the collaborators of an Organizer. Index, Images, Vault and Encryptor
// may be nil: a nil Index disables duplicate detection, a nil Images disables
// near-duplicate images and a nil Vault or Encryptor disables sealing.
// A nil Deleter unlinks without overwriting.
type Deps struct {
	Index      DuplicateIndex
	Images     ImageIndex
	Deleter    Deleter
	Classifier Classifier
	Mover      Mover
	Ledger     Ledger
	Vault      Vault
	Encryptor  Encryptor
	Filesystem FilesystemManager
	Notifier   Notifier
	Logger     Logger
	Clock      Clock
	IDGen      IDGenerator
}

// Options tune the Organizer's behavior.
type Options struct {
	DuplicateAction DuplicateAction
	SealSensitive   bool
	RestoreGrace    time.Duration
	// SecureDeletePasses is how often sealed plaintext is overwritten before removal.
	SecureDeletePasses int
}

// Organizer processes one file at a time through duplicate detection,
// classification, and placement. It is safe for concurrent use by queue workers.
type Organizer struct {
	index      DuplicateIndex
	images     ImageIndex
	deleter    Deleter
	classifier Classifier
	mover      Mover
	ledger     Ledger
	vault      Vault
	encryptor  Encryptor
	fsmgr      FilesystemManager
	notifier   Notifier
	logger     Logger
	clock      Clock
	idgen      IDGenerator
	opts       Options

	stats statCounter

	mu       sync.Mutex
	restored map[string]time.Time
}

// NewOrganizer creates an Organizer. Classifier, Mover and Ledger are required.
func NewOrganizer(deps Deps, opts Options) (*Organizer, error) {
	if deps.Classifier == nil || deps.Mover == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("organizer requires a classifier, a mover and a ledger")
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = NewNopLogger()
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if deps.IDGen == nil {
		deps.IDGen = UUIDGenerator{}
	}
	if deps.Deleter == nil {
		deps.Deleter = PlainDeleter{}
	}
	if opts.DuplicateAction == "" {
		opts.DuplicateAction = DuplicateQuarantine
	}
	if opts.RestoreGrace <= 0 {
		opts.RestoreGrace = DefaultRestoreGrace
	}
	if opts.SecureDeletePasses <= 0 {
		opts.SecureDeletePasses = DefaultSecureDeletePasses
	}
	return &Organizer{
		index:      deps.Index,
		images:     deps.Images,
		deleter:    deps.Deleter,
		classifier: deps.Classifier,
		mover:      deps.Mover,
		ledger:     deps.Ledger,
		vault:      deps.Vault,
		encryptor:  deps.Encryptor,
		fsmgr:      deps.Filesystem,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		clock:      deps.Clock,
		idgen:      deps.IDGen,
		opts:       opts,
		restored:   make(map[string]time.Time),
	}, nil
}

// ProcessOne runs a single file through the pipeline.
// It returns true when the file was handled, including when it vanished before
// processing started. A false return carries the error that should be retried.
func (o *Organizer) ProcessOne(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			o.logger.Debug("file vanished before processing", "path", path)
			return true, nil
		}
		return false, o.fail(path, fmt.Errorf("stat: %w", err))
	}
	if info.IsDir() {
		return true, nil
	}
	if o.recentlyRestored(path) {
		o.logger.Debug("skipping file restored by undo", "path", path)
		return true, nil
	}

	o.stats.update(func(s *Stats) { s.Processed++ })

	handled, err := o.process(ctx, path, info.Size())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrFileVanished) {
			o.logger.Debug("file vanished during processing", "path", path)
			o.stats.update(func(s *Stats) { s.Successful++ })
			return true, nil
		}
		return false, o.fail(path, err)
	}
	if handled {
		o.stats.update(func(s *Stats) { s.Successful++ })
	}
	return handled, nil
}

func (o *Organizer) process(ctx context.Context, path string, size int64) (bool, error) {
	if o.index != nil {
		verdict, err := o.index.Check(path)
		if err != nil {
			return false, fmt.Errorf("checking duplicates: %w", err)
		}
		if verdict.IsDuplicate() {
			return true, o.handleDuplicate(path, verdict)
		}
	}

	result, err := o.classifier.Classify(ctx, path)
	if err != nil {
		return false, fmt.Errorf("classifying: %w", err)
	}
	o.logger.Debug("file classified",
		"path", path,
		"category", result.SuggestedFolder(),
		"tier", result.Tier,
		"confidence", result.Confidence,
	)

	if o.images != nil && result.Category == CategoryImages && o.images.Supports(path) {
		verdict, err := o.images.Similar(path)
		switch {
		case errors.Is(err, ErrFileVanished):
			return false, err
		case err != nil:
			o.logger.Warn("comparing image", "path", path, "error", err)
		case verdict.IsDuplicate():
			return true, o.handleDuplicate(path, verdict)
		}
	}

	if result.IsSensitive {
		o.stats.update(func(s *Stats) { s.Sensitive++ })
		o.notifier.Notify(Notification{
			Type:    NotifySensitive,
			Title:   "Sensitive file detected",
			Message: filepath.Base(path),
			Path:    path,
		})
		if o.sealingEnabled() {
			if _, err := o.seal(path, result, size); err != nil {
				return false, fmt.Errorf("sealing sensitive file: %w", err)
			}
			return true, nil
		}
	}

	var mv *MoveResult
	err = o.tracked(func() (string, string, error) {
		var err error
		mv, err = o.mover.Organize(ctx, path, result)
		if err != nil {
			return "", "", err
		}
		return path, mv.DestPath, nil
	})
	if err != nil {
		return false, fmt.Errorf("moving: %w", err)
	}
	if !mv.Moved {
		o.logger.Info("file left in place", "path", path, "action", string(mv.Decision.Action))
		return true, nil
	}

	if _, err := o.ledger.RecordMove(path, mv.DestPath, result.Category, result.Subcategory); err != nil {
		// The move already happened; losing the undo record must not trigger a retry.
		o.logger.Error("recording history", "path", mv.DestPath, "error", err)
	}

	o.logger.Info("file organized", "source", path, "dest", mv.DestPath, "category", result.SuggestedFolder())
	o.notifier.Notify(Notification{
		Type:    NotifyOrganized,
		Title:   "File organized",
		Message: fmt.Sprintf("%s → %s", filepath.Base(path), result.SuggestedFolder()),
		Path:    mv.DestPath,
	})
	return true, nil
}

func (o *Organizer) handleDuplicate(path string, verdict DuplicateVerdict) error {
	o.stats.update(func(s *Stats) { s.Duplicates++ })
	o.logger.Info("duplicate detected",
		"path", path,
		"duplicate_of", verdict.DuplicateOf,
		"status", verdict.Status.String(),
		"distance", verdict.Distance,
		"action", string(o.opts.DuplicateAction),
	)

	switch o.opts.DuplicateAction {
	case DuplicateSkip:
	case DuplicateDelete:
		if err := o.deleter.Delete(path, DuplicateDeletePasses); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrFileVanished, path)
			}
			return fmt.Errorf("deleting duplicate: %w", err)
		}
		o.forget(path)
	default:
		dest, err := o.mover.QuarantineDuplicate(path)
		if err != nil {
			return fmt.Errorf("quarantining duplicate: %w", err)
		}
		o.forget(path)
		path = dest
	}

	o.notifier.Notify(Notification{
		Type:    NotifyDuplicate,
		Title:   "Duplicate file",
		Message: fmt.Sprintf("%s duplicates %s", filepath.Base(path), filepath.Base(verdict.DuplicateOf)),
		Path:    path,
	})
	return nil
}

// tracked runs move so that both duplicate indexes follow the file.
func (o *Organizer) tracked(move func() (from, to string, err error)) error {
	run := move
	if o.images != nil {
		inner := run
		run = func() (from, to string, err error) {
			err = o.images.Move(func() (string, string, error) {
				from, to, err = inner()
				return from, to, err
			})
			return from, to, err
		}
	}
	if o.index == nil {
		_, _, err := run()
		return err
	}
	return o.index.Move(run)
}

// forget drops a path that no longer holds indexed content.
func (o *Organizer) forget(path string) {
	if o.index != nil {
		if err := o.index.Remove(path); err != nil {
			o.logger.Warn("removing path from duplicate index", "path", path, "error", err)
		}
	}
	if o.images != nil {
		if err := o.images.Remove(path); err != nil {
			o.logger.Warn("removing path from image index", "path", path, "error", err)
		}
	}
}

func (o *Organizer) fail(path string, err error) error {
	o.stats.update(func(s *Stats) { s.Failed++ })
	o.notifier.Notify(Notification{
		Type:    NotifyError,
		Title:   "Failed to organize file",
		Message: fmt.Sprintf("%s: %v", filepath.Base(path), err),
		Path:    path,
	})
	return err
}

// Preview classifies path and returns the destination it would be moved to,
// without touching the file or the duplicate index.
func (o *Organizer) Preview(ctx context.Context, path string) (*ClassificationResult, string, error) {
	result, err := o.classifier.Classify(ctx, path)
	if err != nil {
		return nil, "", fmt.Errorf("classifying: %w", err)
	}
	return result, o.mover.Destination(path, result), nil
}

// ProcessDirectory organizes the files already present in rawDir.
// A failing file does not stop the batch; all failures are returned joined.
// Returns the number of files handled successfully.
func (o *Organizer) ProcessDirectory(ctx context.Context, rawDir string, recursive bool) (int, error) {
	if o.fsmgr == nil {
		return 0, fmt.Errorf("no filesystem manager configured")
	}
	dir, err := o.fsmgr.Resolve(rawDir)
	if err != nil {
		return 0, fmt.Errorf("resolving directory: %w", err)
	}
	files, err := o.fsmgr.FindFiles(dir, recursive)
	if err != nil {
		return 0, fmt.Errorf("finding files: %w", err)
	}

	count := 0
	var errs []error
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := o.ProcessOne(ctx, f.String())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.String(), err))
			continue
		}
		if ok {
			count++
		}
	}

	o.logger.Info("directory processed", "path", dir.String(), "files", len(files), "handled", count)
	return count, errors.Join(errs...)
}

// UndoLast reverts the newest undoable move.
func (o *Organizer) UndoLast() (*HistoryEntry, error) {
	return o.undo(o.ledger.UndoLast)
}

// UndoByID reverts a specific move.
func (o *Organizer) UndoByID(id int64) (*HistoryEntry, error) {
	return o.undo(func() (*HistoryEntry, error) { return o.ledger.UndoByID(id) })
}

func (o *Organizer) undo(revert func() (*HistoryEntry, error)) (*HistoryEntry, error) {
	var entry *HistoryEntry
	err := o.tracked(func() (string, string, error) {
		var err error
		entry, err = revert()
		if err != nil {
			return "", "", err
		}
		return entry.DestPath, entry.SourcePath, nil
	})
	if err != nil {
		return entry, err
	}
	o.afterUndo(entry)
	return entry, nil
}

func (o *Organizer) afterUndo(entry *HistoryEntry) {
	o.mu.Lock()
	o.restored[entry.SourcePath] = o.clock.Now()
	o.mu.Unlock()
	o.logger.Info("move undone", "id", entry.ID, "restored", entry.SourcePath)
}

func (o *Organizer) recentlyRestored(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	at, ok := o.restored[path]
	if !ok {
		return false
	}
	if o.clock.Now().Sub(at) >= o.opts.RestoreGrace {
		delete(o.restored, path)
		return false
	}
	return true
}

// GetRecent returns up to n history entries, newest first.
func (o *Organizer) GetRecent(n int) []*HistoryEntry {
	return o.ledger.Recent(n)
}

// GetStats returns a snapshot of the pipeline counters.
func (o *Organizer) GetStats() Stats {
	return o.stats.snapshot()
}
