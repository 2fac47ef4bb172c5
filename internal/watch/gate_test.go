package watch

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sfo-go/internal/sfo"
	"sfo-go/internal/testutil"
)

type enqueueRecorder struct {
	mu    sync.Mutex
	paths []string
	ch    chan string
	err   error
}

func newEnqueueRecorder() *enqueueRecorder {
	return &enqueueRecorder{ch: make(chan string, 16)}
}

func (r *enqueueRecorder) enqueue(path string) error {
	r.mu.Lock()
	err := r.err
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	r.ch <- path
	return err
}

func (r *enqueueRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func (r *enqueueRecorder) wait(t *testing.T, timeout time.Duration) string {
	t.Helper()
	select {
	case p := <-r.ch:
		return p
	case <-time.After(timeout):
		t.Fatal("timeout waiting for enqueue")
		return ""
	}
}

func newTestGate(t *testing.T, root string, rec *enqueueRecorder, clock sfo.Clock) *EventGate {
	t.Helper()
	g := NewEventGate(GateConfig{
		Roots:          []string{root},
		Debounce:       DefaultDebounce,
		SettleInterval: 20 * time.Millisecond,
		SettleTimeout:  2 * time.Second,
	}, rec.enqueue, sfo.NewNopLogger(), clock)
	t.Cleanup(g.Stop)
	return g
}

func created(path string) sfo.WatchEvent {
	return sfo.WatchEvent{Path: path, Kind: sfo.EventCreated}
}

func TestEventGate_EnqueuesSettledFile(t *testing.T) {
	dir := t.TempDir()
	rec := newEnqueueRecorder()
	g := newTestGate(t, dir, rec, testutil.FixedClock())

	path := testutil.WriteFile(t, filepath.Join(dir, "invoice.pdf"), []byte("%PDF-1.4 invoice"))
	if !g.Handle(created(path)) {
		t.Fatal("Handle() rejected a fresh event")
	}

	if got := rec.wait(t, 2*time.Second); got != path {
		t.Errorf("enqueued %q, want %q", got, path)
	}
	if !g.InFlight(path) {
		t.Error("path should be in flight after enqueue")
	}
}

func TestEventGate_CollapsesBurst(t *testing.T) {
	dir := t.TempDir()
	rec := newEnqueueRecorder()
	clock := testutil.FixedClock()
	g := newTestGate(t, dir, rec, clock)

	path := testutil.WriteFile(t, filepath.Join(dir, "notes.txt"), []byte("hello"))
	accepted := 0
	for i := 0; i < 5; i++ {
		if g.Handle(sfo.WatchEvent{Path: path, Kind: sfo.EventModified}) {
			accepted++
		}
		clock.Advance(100 * time.Millisecond)
	}
	if accepted != 1 {
		t.Errorf("accepted %d events, want 1", accepted)
	}

	rec.wait(t, 2*time.Second)
	time.Sleep(100 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("enqueue called %d times, want 1", n)
	}
}

func TestEventGate_DebounceWindow(t *testing.T) {
	dir := t.TempDir()
	rec := newEnqueueRecorder()
	clock := testutil.FixedClock()
	g := newTestGate(t, dir, rec, clock)

	path := testutil.WriteFile(t, filepath.Join(dir, "a.txt"), []byte("x"))
	if !g.Handle(created(path)) {
		t.Fatal("first event should be accepted")
	}
	rec.wait(t, 2*time.Second)
	g.MarkComplete(path)

	// MarkComplete clears the debounce timestamp, so the next event is new work.
	if !g.Handle(created(path)) {
		t.Fatal("event after MarkComplete should be accepted")
	}
	rec.wait(t, 2*time.Second)
	if g.Handle(created(path)) {
		t.Error("event while in flight should be rejected")
	}
}

func TestEventGate_InFlightSuppression(t *testing.T) {
	dir := t.TempDir()
	rec := newEnqueueRecorder()
	clock := testutil.FixedClock()
	g := newTestGate(t, dir, rec, clock)

	path := testutil.WriteFile(t, filepath.Join(dir, "scan.png"), []byte("png-bytes"))
	g.Handle(created(path))
	rec.wait(t, 2*time.Second)

	clock.Advance(10 * time.Second)
	if g.Handle(created(path)) {
		t.Error("event for in-flight path should be rejected")
	}

	g.MarkComplete(path)
	if g.InFlight(path) {
		t.Error("MarkComplete should release the path")
	}
	if !g.Handle(created(path)) {
		t.Error("event after MarkComplete should be accepted")
	}
}

func TestEventGate_WaitsForGrowthToStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "download.bin")

	sizes := make(chan int64, 1)
	enqueue := func(p string) error {
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		sizes <- info.Size()
		return nil
	}
	g := NewEventGate(GateConfig{
		Roots:          []string{dir},
		SettleInterval: 100 * time.Millisecond,
		SettleTimeout:  5 * time.Second,
	}, enqueue, sfo.NewNopLogger(), nil)
	t.Cleanup(g.Stop)

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.Write([]byte("start")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	g.Handle(created(path))

	const chunk = "more data "
	const writes = 30
	go func() {
		for i := 0; i < writes; i++ {
			f.Write([]byte(chunk))
			time.Sleep(10 * time.Millisecond)
		}
		f.Close()
	}()

	select {
	case size := <-sizes:
		want := int64(len("start") + writes*len(chunk))
		if size != want {
			t.Errorf("size at enqueue = %d, want %d", size, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for enqueue")
	}
}

func TestEventGate_EmptyFileWaitsForContent(t *testing.T) {
	dir := t.TempDir()
	rec := newEnqueueRecorder()
	g := newTestGate(t, dir, rec, nil)

	path := testutil.WriteFile(t, filepath.Join(dir, "empty.txt"), nil)
	g.Handle(created(path))

	time.Sleep(150 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Fatalf("empty file enqueued %d times, want 0", n)
	}

	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if got := rec.wait(t, 2*time.Second); got != path {
		t.Errorf("enqueued %q, want %q", got, path)
	}
}

func TestEventGate_SettleTimeoutClearsDebounce(t *testing.T) {
	dir := t.TempDir()
	rec := newEnqueueRecorder()
	clock := testutil.FixedClock()
	g := NewEventGate(GateConfig{
		Roots:          []string{dir},
		Debounce:       time.Hour,
		SettleInterval: 10 * time.Millisecond,
		SettleTimeout:  80 * time.Millisecond,
	}, rec.enqueue, sfo.NewNopLogger(), clock)
	t.Cleanup(g.Stop)

	path := testutil.WriteFile(t, filepath.Join(dir, "stuck.txt"), nil)
	if !g.Handle(created(path)) {
		t.Fatal("first event should be accepted")
	}

	deadline := time.Now().Add(2 * time.Second)
	for g.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if g.Pending() != 0 {
		t.Fatal("settling wait did not time out")
	}
	if rec.count() != 0 {
		t.Error("unsettled file should not be enqueued")
	}

	// Same clock instant: only passes because the timeout cleared the timestamp.
	if !g.Handle(created(path)) {
		t.Error("event after settle timeout should be accepted")
	}
}

func TestEventGate_VanishedFile(t *testing.T) {
	dir := t.TempDir()
	rec := newEnqueueRecorder()
	g := newTestGate(t, dir, rec, nil)

	path := filepath.Join(dir, "gone.txt")
	g.Handle(created(path))

	deadline := time.Now().Add(2 * time.Second)
	for g.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.count() != 0 {
		t.Error("missing file should not be enqueued")
	}
}

func TestEventGate_IgnorePatterns(t *testing.T) {
	dir := t.TempDir()
	rec := newEnqueueRecorder()
	g := NewEventGate(GateConfig{
		Roots:  []string{dir},
		Ignore: []string{"*.log"},
	}, rec.enqueue, sfo.NewNopLogger(), nil)
	t.Cleanup(g.Stop)

	tests := []struct {
		name string
		want bool
	}{
		{"movie.mkv.part", false},
		{"setup.exe.crdownload", false},
		{"~$budget.xlsx", false},
		{".DS_Store", false},
		{"Thumbs.db", false},
		{"build.tmp", false},
		{"server.log", false},
		{"budget.xlsx", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if got := g.Handle(created(path)); got != tt.want {
				t.Errorf("Handle(%s) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestEventGate_IgnoreFileInRoot(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, ".sfoignore"), []byte("private/*\n*.bak\n"))

	rec := newEnqueueRecorder()
	g := newTestGate(t, dir, rec, nil)

	if g.Handle(created(filepath.Join(dir, "private", "diary.txt"))) {
		t.Error("file under ignored directory should be rejected")
	}
	if g.Handle(created(filepath.Join(dir, "old.bak"))) {
		t.Error("*.bak should be rejected")
	}
	if !g.Handle(created(filepath.Join(dir, "keep.txt"))) {
		t.Error("keep.txt should be accepted")
	}
}

func TestEventGate_ExcludedDirectory(t *testing.T) {
	dir := t.TempDir()
	organized := filepath.Join(dir, "Organized")

	rec := newEnqueueRecorder()
	g := NewEventGate(GateConfig{
		Roots:   []string{dir},
		Exclude: []string{organized},
	}, rec.enqueue, sfo.NewNopLogger(), nil)
	t.Cleanup(g.Stop)

	if g.Handle(created(filepath.Join(organized, "Documents", "a.pdf"))) {
		t.Error("event inside excluded directory should be rejected")
	}
}

func TestEventGate_EnqueueFailureReleasesPath(t *testing.T) {
	dir := t.TempDir()
	rec := newEnqueueRecorder()
	rec.err = errors.New("queue full")
	g := newTestGate(t, dir, rec, nil)

	path := testutil.WriteFile(t, filepath.Join(dir, "a.txt"), []byte("x"))
	g.Handle(created(path))
	rec.wait(t, 2*time.Second)

	deadline := time.Now().Add(time.Second)
	for g.InFlight(path) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if g.InFlight(path) {
		t.Error("failed enqueue should release the path")
	}
}

func TestEventGate_StopRejectsEvents(t *testing.T) {
	dir := t.TempDir()
	rec := newEnqueueRecorder()
	g := newTestGate(t, dir, rec, nil)

	g.Stop()
	g.Stop()
	path := testutil.WriteFile(t, filepath.Join(dir, "late.txt"), []byte("x"))
	if g.Handle(created(path)) {
		t.Error("stopped gate should reject events")
	}
}
