package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sfo-go/internal/dedup"
	sfofs "sfo-go/internal/fs"
	"sfo-go/internal/history"
	"sfo-go/internal/mover"
	"sfo-go/internal/queue"
	"sfo-go/internal/sfo"
	"sfo-go/internal/testutil"
	"sfo-go/internal/watch"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig(inbox, organized string) Config {
	return Config{
		Watcher: watch.WatcherConfig{Roots: []string{inbox}, Exclude: []string{organized}},
		Gate: watch.GateConfig{
			SettleInterval: 20 * time.Millisecond,
			SettleTimeout:  5 * time.Second,
		},
		Queue:       queue.Config{Workers: 2, MaxRetries: 1, RetryDelay: 10 * time.Millisecond},
		StopTimeout: 5 * time.Second,
	}
}

type stubProcessor struct {
	mu    sync.Mutex
	seen  map[string]int
	err   error
	calls int
}

func (p *stubProcessor) ProcessOne(_ context.Context, path string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen == nil {
		p.seen = make(map[string]int)
	}
	p.seen[path]++
	p.calls++
	if p.err != nil {
		return false, p.err
	}
	return true, nil
}

func (p *stubProcessor) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen[path]
}

func TestPipeline_OrganizesAndQuarantinesDuplicate(t *testing.T) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "Downloads")
	organized := filepath.Join(dir, "Organized")
	quarantine := filepath.Join(dir, "Quarantine")
	if err := os.MkdirAll(inbox, 0755); err != nil {
		t.Fatal(err)
	}
	existing := testutil.WriteFile(t, filepath.Join(inbox, "old.txt"), []byte("already here"))

	ledger, err := history.Open(filepath.Join(dir, "history.json"), 0, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	fsmgr := sfofs.NewOSFilesystemManager(nil, organized)
	org, err := sfo.NewOrganizer(sfo.Deps{
		Index:      dedup.NewIndex(dedup.Options{}, nil, nil),
		Classifier: testutil.NewStubClassifier("Documents", ""),
		Mover:      mover.New(mover.Options{BaseDir: organized, QuarantineDir: quarantine}, nil, nil),
		Ledger:     ledger,
		Filesystem: fsmgr,
	}, sfo.Options{})
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(inbox, organized)
	cfg.StartupScan = true
	p, err := New(cfg, org, fsmgr, nil, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	waitFor(t, "startup scan to organize old.txt", func() bool {
		return testutil.Exists(filepath.Join(organized, "Documents", "old.txt"))
	})
	if testutil.Exists(existing) {
		t.Error("old.txt still in inbox")
	}

	testutil.WriteFile(t, filepath.Join(inbox, "a.txt"), []byte("same bytes"))
	waitFor(t, "a.txt to be organized", func() bool {
		return testutil.Exists(filepath.Join(organized, "Documents", "a.txt"))
	})

	testutil.WriteFile(t, filepath.Join(inbox, "b.txt"), []byte("same bytes"))
	waitFor(t, "b.txt to be quarantined", func() bool {
		return testutil.Exists(filepath.Join(quarantine, mover.DuplicatesDirName, "b.txt"))
	})

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if p.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}

	stats := org.GetStats()
	if stats.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", stats.Duplicates)
	}
	if len(ledger.Recent(0)) != 2 {
		t.Errorf("history has %d entries, want 2", len(ledger.Recent(0)))
	}
	if testutil.Exists(filepath.Join(organized, "Documents", "b.txt")) {
		t.Error("duplicate was organized")
	}
}

func TestPipeline_FailedTaskReleasesPath(t *testing.T) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "in")
	path := testutil.WriteFile(t, filepath.Join(inbox, "bad.txt"), []byte("x"))

	proc := &stubProcessor{err: errors.New("disk on fire")}
	cfg := testConfig(inbox, filepath.Join(dir, "out"))
	cfg.StartupScan = true
	p, err := New(cfg, proc, sfofs.NewOSFilesystemManager(nil), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	waitFor(t, "task to fail permanently", func() bool {
		return p.Stats().Queue.Failed == 1 && !p.gate.InFlight(path)
	})
	if got := proc.count(path); got != 2 {
		t.Errorf("attempts = %d, want 2 (one retry)", got)
	}
	// The path is free again, so a rescan picks it up.
	if n := p.Rescan(); n != 1 {
		t.Errorf("Rescan() accepted %d, want 1", n)
	}
}

func TestPipeline_StartWithoutRoots(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := testConfig(filepath.Join(dir, "missing"), filepath.Join(dir, "out"))
	p, err := New(cfg, &stubProcessor{}, nil, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, sfo.ErrNoWatchableDirectories) {
		t.Errorf("Start() error = %v, want ErrNoWatchableDirectories", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop() after failed Start error = %v", err)
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := testConfig(dir, filepath.Join(dir, "out"))
	cfg.RescanSchedule = "every now and then"
	if _, err := New(cfg, &stubProcessor{}, nil, nil, nil, nil); err == nil {
		t.Error("New() accepted an invalid cron expression")
	}
}

func TestPipeline_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := testConfig(dir, filepath.Join(dir, "out"))
	cfg.RescanSchedule = "@every 1h"
	p, err := New(cfg, &stubProcessor{}, nil, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestPipeline_ScanEventsUseClock(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	clock := testutil.FixedClock()
	p, err := New(testConfig(dir, filepath.Join(dir, "out")), &stubProcessor{}, nil, nil, clock, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Stop() })

	clock.Advance(time.Hour)
	ev := p.scanEvent(filepath.Join(dir, "a.txt"))
	if !ev.ObservedAt.Equal(clock.Now()) {
		t.Errorf("ObservedAt = %v, want %v", ev.ObservedAt, clock.Now())
	}
	if ev.Kind != sfo.EventCreated {
		t.Errorf("Kind = %v, want created", ev.Kind)
	}
}
