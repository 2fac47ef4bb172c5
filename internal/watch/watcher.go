// Package watch turns filesystem notifications into settled, de-duplicated
// paths ready for processing.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	sfofs "sfo-go/internal/fs"
	"sfo-go/internal/sfo"
)

// stopTimeout bounds how long Stop waits for the event loop to exit.
const stopTimeout = 5 * time.Second

// WatcherConfig selects what a PathWatcher subscribes to.
type WatcherConfig struct {
	Roots     []string
	Recursive bool
	// Exclude lists directories that are never watched, even when they sit
	// under a root (the organized tree usually does).
	Exclude []string
}

// PathWatcher emits a WatchEvent for every file created or written under its roots.
type PathWatcher struct {
	cfg     WatcherConfig
	logger  sfo.Logger
	clock   sfo.Clock
	watcher *fsnotify.Watcher
	events  chan sfo.WatchEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
	roots   []string
}

// NewPathWatcher creates a PathWatcher. It must be started with Start.
func NewPathWatcher(cfg WatcherConfig, logger sfo.Logger, clock sfo.Clock) (*PathWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if clock == nil {
		clock = sfo.RealClock{}
	}
	cfg.Exclude = absPaths(cfg.Exclude)
	return &PathWatcher{
		cfg:     cfg,
		logger:  sfo.With(logger, "component", "watcher"),
		clock:   clock,
		watcher: w,
		events:  make(chan sfo.WatchEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start validates the roots and begins watching those that exist.
// Returns sfo.ErrNoWatchableDirectories if none of them can be watched.
func (w *PathWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if w.stopped {
		return fmt.Errorf("watcher already stopped")
	}

	var roots []string
	for _, raw := range w.cfg.Roots {
		root, err := filepath.Abs(raw)
		if err != nil {
			w.logger.Warn("skipping watch root", "path", raw, "error", err)
			continue
		}
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			w.logger.Warn("watch root does not exist or is not a directory", "path", root)
			continue
		}
		if err := w.addTree(root); err != nil {
			w.logger.Warn("cannot watch root", "path", root, "error", err)
			continue
		}
		roots = append(roots, root)
	}
	if len(roots) == 0 {
		return sfo.ErrNoWatchableDirectories
	}

	w.roots = roots
	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	w.logger.Info("watching directories", "roots", len(roots), "recursive", w.cfg.Recursive)
	return nil
}

// Roots returns the absolute roots actually being watched.
func (w *PathWatcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// addTree watches dir, and its sub-directories when recursive.
func (w *PathWatcher) addTree(dir string) error {
	if w.excluded(dir) {
		return nil
	}
	if !w.cfg.Recursive {
		return w.watcher.Add(dir)
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.excluded(p) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			if p == dir {
				return err
			}
			w.logger.Warn("cannot watch sub-directory", "path", p, "error", err)
		}
		return nil
	})
}

func (w *PathWatcher) excluded(path string) bool {
	for _, e := range w.cfg.Exclude {
		if e != "" && sfofs.IsWithin(path, e) {
			return true
		}
	}
	return false
}

// Stop stops watching and closes the Events and Errors channels.
// It is idempotent and waits at most stopTimeout for the event loop.
func (w *PathWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	close(w.done)
	closeErr := w.watcher.Close()

	if wasRunning {
		finished := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(stopTimeout):
			return fmt.Errorf("watcher did not stop within %s", stopTimeout)
		}
	}

	close(w.events)
	close(w.errors)

	if closeErr != nil {
		return fmt.Errorf("closing watcher: %w", closeErr)
	}
	return nil
}

// Events returns the channel of observed changes. It is closed by Stop.
func (w *PathWatcher) Events() <-chan sfo.WatchEvent {
	return w.events
}

// Errors returns the channel of watcher errors. It is closed by Stop.
func (w *PathWatcher) Errors() <-chan error {
	return w.errors
}

func (w *PathWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			for _, ev := range w.convert(event) {
				if !w.emit(ev) {
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("event queue overflow, some changes were missed")
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			default:
				w.logger.Error("dropping watcher error", "error", err)
			}
		}
	}
}

func (w *PathWatcher) emit(ev sfo.WatchEvent) bool {
	select {
	case w.events <- ev:
		return true
	case <-w.done:
		return false
	}
}

// convert maps an fsnotify event to zero or more WatchEvents.
// A directory created under a recursive root is watched and its existing
// files are reported, since they may have arrived before the watch was added.
func (w *PathWatcher) convert(event fsnotify.Event) []sfo.WatchEvent {
	var kind sfo.EventKind
	switch {
	case event.Has(fsnotify.Create):
		kind = sfo.EventCreated
	case event.Has(fsnotify.Write):
		kind = sfo.EventModified
	default:
		return nil
	}
	if w.excluded(event.Name) {
		return nil
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		// Gone already; nothing to organize.
		return nil
	}

	if info.IsDir() {
		if kind != sfo.EventCreated || !w.cfg.Recursive {
			return nil
		}
		if err := w.addTree(event.Name); err != nil {
			w.logger.Warn("cannot watch new directory", "path", event.Name, "error", err)
			return nil
		}
		return w.existingFiles(event.Name)
	}

	if !info.Mode().IsRegular() {
		return nil
	}
	return []sfo.WatchEvent{{Path: event.Name, Kind: kind, ObservedAt: w.clock.Now()}}
}

func (w *PathWatcher) existingFiles(dir string) []sfo.WatchEvent {
	var out []sfo.WatchEvent
	filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if w.excluded(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			out = append(out, sfo.WatchEvent{Path: p, Kind: sfo.EventCreated, ObservedAt: w.clock.Now()})
		}
		return nil
	})
	return out
}

// IsRunning returns true if the watcher is currently running.
func (w *PathWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func absPaths(paths []string) []string {
	var out []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			out = append(out, abs)
		}
	}
	return out
}
