package watch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sfo-go/internal/sfo"
)

func newTestWatcher(t *testing.T, cfg WatcherConfig) *PathWatcher {
	t.Helper()
	w, err := NewPathWatcher(cfg, sfo.NewNopLogger(), nil)
	if err != nil {
		t.Fatalf("NewPathWatcher() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func waitForEvent(t *testing.T, w *PathWatcher, want string) sfo.WatchEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				t.Fatal("events channel closed")
			}
			if ev.Path == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for event on %s", want)
		}
	}
}

func TestPathWatcher_StartStop(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, WatcherConfig{Roots: []string{dir}})

	if w.IsRunning() {
		t.Error("new watcher should not be running")
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !w.IsRunning() {
		t.Error("watcher should be running after Start()")
	}
	if err := w.Start(); err == nil {
		t.Error("second Start() should fail")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Error("events channel should be closed after Stop()")
	}
}

func TestPathWatcher_NoWatchableDirectories(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	w := newTestWatcher(t, WatcherConfig{Roots: []string{missing}})

	err := w.Start()
	if !errors.Is(err, sfo.ErrNoWatchableDirectories) {
		t.Fatalf("Start() error = %v, want ErrNoWatchableDirectories", err)
	}
}

func TestPathWatcher_SkipsMissingRoots(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing")
	w := newTestWatcher(t, WatcherConfig{Roots: []string{missing, dir}})

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	roots := w.Roots()
	if len(roots) != 1 {
		t.Fatalf("Roots() = %v, want one root", roots)
	}
}

func TestPathWatcher_CreateEvent(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, WatcherConfig{Roots: []string{dir}})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	path := filepath.Join(dir, "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	ev := waitForEvent(t, w, path)
	if ev.Kind != sfo.EventCreated && ev.Kind != sfo.EventModified {
		t.Errorf("event kind = %v, want created or modified", ev.Kind)
	}
	if ev.ObservedAt.IsZero() {
		t.Error("event should carry an observation time")
	}
}

func TestPathWatcher_Recursive(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, WatcherConfig{Roots: []string{dir}, Recursive: true})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	sub := filepath.Join(dir, "incoming")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	// Give the watcher a moment to pick up the new directory.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(sub, "photo.jpg")
	if err := os.WriteFile(path, []byte{0xff, 0xd8, 0xff}, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	waitForEvent(t, w, path)
}

func TestPathWatcher_ExcludedDirectory(t *testing.T) {
	dir := t.TempDir()
	organized := filepath.Join(dir, "Organized")
	if err := os.Mkdir(organized, 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	w := newTestWatcher(t, WatcherConfig{Roots: []string{dir}, Recursive: true, Exclude: []string{organized}})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(organized, "hidden.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	visible := filepath.Join(dir, "visible.txt")
	if err := os.WriteFile(visible, []byte("y"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	ev := waitForEvent(t, w, visible)
	if filepath.Dir(ev.Path) == organized {
		t.Error("received event from excluded directory")
	}
}
