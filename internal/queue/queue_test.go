package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sfo-go/internal/sfo"
	"sfo-go/internal/testutil"
)

type completions struct {
	mu    sync.Mutex
	tasks []Task
	ch    chan Task
}

func newCompletions() *completions {
	return &completions{ch: make(chan Task, 64)}
}

func (c *completions) record(t Task) {
	c.mu.Lock()
	c.tasks = append(c.tasks, t)
	c.mu.Unlock()
	c.ch <- t
}

func (c *completions) wait(t *testing.T) Task {
	t.Helper()
	select {
	case task := <-c.ch:
		return task
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for task completion")
		return Task{}
	}
}

func newTestQueue(t *testing.T, cfg Config, h Handler) (*WorkQueue, *completions) {
	t.Helper()
	done := newCompletions()
	cfg.OnComplete = done.record
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}
	q := NewWorkQueue(cfg, h, sfo.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { q.Stop(2 * time.Second) })
	return q, done
}

// failNTimes returns a handler that fails the first n calls per path.
func failNTimes(n int) (Handler, *int32) {
	var calls int32
	return func(ctx context.Context, path string) error {
		if atomic.AddInt32(&calls, 1) <= int32(n) {
			return fmt.Errorf("attempt failed")
		}
		return nil
	}, &calls
}

func TestWorkQueue_Success(t *testing.T) {
	q, done := newTestQueue(t, Config{Workers: 2}, func(ctx context.Context, path string) error {
		return nil
	})

	task, err := q.Submit("/inbox/a.txt")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if task.ID != "id-1" {
		t.Errorf("task.ID = %q, want id-1", task.ID)
	}
	if task.Status != StatusPending {
		t.Errorf("task.Status = %v, want pending", task.Status)
	}

	got := done.wait(t)
	if got.Status != StatusCompleted {
		t.Errorf("Status = %v, want completed", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", got.RetryCount)
	}

	stats := q.Stats()
	if stats.TotalProcessed != 1 || stats.Successful != 1 || stats.Failed != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestWorkQueue_RetryThenSucceed(t *testing.T) {
	tests := []struct {
		name     string
		failures int
	}{
		{"one failure", 1},
		{"two failures", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, calls := failNTimes(tt.failures)
			q, done := newTestQueue(t, Config{Workers: 1, MaxRetries: 3}, h)

			if _, err := q.Submit("/inbox/flaky.pdf"); err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			got := done.wait(t)

			if got.Status != StatusCompleted {
				t.Errorf("Status = %v, want completed", got.Status)
			}
			if got.RetryCount != tt.failures {
				t.Errorf("RetryCount = %d, want %d", got.RetryCount, tt.failures)
			}
			if n := atomic.LoadInt32(calls); int(n) != tt.failures+1 {
				t.Errorf("handler called %d times, want %d", n, tt.failures+1)
			}
			if s := q.Stats(); s.Retried != tt.failures || s.Successful != 1 {
				t.Errorf("Stats() = %+v", s)
			}
		})
	}
}

func TestWorkQueue_ExhaustsRetries(t *testing.T) {
	h, calls := failNTimes(100)
	q, done := newTestQueue(t, Config{Workers: 1, MaxRetries: 3}, h)

	if _, err := q.Submit("/inbox/broken.bin"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	got := done.wait(t)

	if got.Status != StatusFailed {
		t.Errorf("Status = %v, want failed", got.Status)
	}
	if got.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", got.RetryCount)
	}
	if n := atomic.LoadInt32(calls); n != 4 {
		t.Errorf("handler called %d times, want 4", n)
	}
	var perr *sfo.ProcessingError
	if !errors.As(got.Err, &perr) {
		t.Fatalf("Err = %v, want *sfo.ProcessingError", got.Err)
	}
	if perr.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", perr.Attempts)
	}

	stats := q.Stats()
	if stats.Failed != 1 || stats.Retried != 3 || stats.Pending != 0 || stats.Processing != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestWorkQueue_VanishedFileIsSuccess(t *testing.T) {
	q, done := newTestQueue(t, Config{Workers: 1, MaxRetries: 3}, func(ctx context.Context, path string) error {
		return fmt.Errorf("stat %s: %w", path, sfo.ErrFileVanished)
	})

	q.Submit("/inbox/gone.txt")
	got := done.wait(t)
	if got.Status != StatusCompleted {
		t.Errorf("Status = %v, want completed", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", got.RetryCount)
	}
}

func TestWorkQueue_OnCompleteOncePerTask(t *testing.T) {
	q, done := newTestQueue(t, Config{Workers: 4, MaxRetries: 1}, func(ctx context.Context, path string) error {
		return nil
	})

	const n = 20
	for i := 0; i < n; i++ {
		if _, err := q.Submit(fmt.Sprintf("/inbox/file-%d.txt", i)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	seen := make(map[string]int)
	for i := 0; i < n; i++ {
		seen[done.wait(t).Path]++
	}
	for path, count := range seen {
		if count != 1 {
			t.Errorf("%s completed %d times", path, count)
		}
	}
	if len(seen) != n {
		t.Errorf("completed %d distinct paths, want %d", len(seen), n)
	}
}

func TestWorkQueue_Full(t *testing.T) {
	q := NewWorkQueue(Config{Workers: 1, Capacity: 2}, func(ctx context.Context, path string) error {
		return nil
	}, sfo.NewNopLogger(), nil, nil)

	// Not started: nothing drains the buffer.
	for i := 0; i < 2; i++ {
		if _, err := q.Submit(fmt.Sprintf("/inbox/%d", i)); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}
	if _, err := q.Submit("/inbox/overflow"); !errors.Is(err, sfo.ErrQueueFull) {
		t.Errorf("Submit() error = %v, want ErrQueueFull", err)
	}
	if s := q.Stats(); s.Pending != 2 {
		t.Errorf("Pending = %d, want 2", s.Pending)
	}
}

func TestWorkQueue_SubmitAfterStop(t *testing.T) {
	q, _ := newTestQueue(t, Config{Workers: 1}, func(ctx context.Context, path string) error {
		return nil
	})
	if err := q.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := q.Submit("/inbox/late.txt"); !errors.Is(err, sfo.ErrQueueClosed) {
		t.Errorf("Submit() error = %v, want ErrQueueClosed", err)
	}
	if err := q.Stop(time.Second); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestWorkQueue_StopWaitsForRunningTask(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	var handlerCtxErr atomic.Value

	q, _ := newTestQueue(t, Config{Workers: 1}, func(ctx context.Context, path string) error {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			handlerCtxErr.Store(err)
		}
		finished.Store(true)
		return nil
	})

	q.Submit("/inbox/big.iso")
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- q.Stop(2 * time.Second) }()

	select {
	case <-stopped:
		t.Fatal("Stop() returned while a task was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	if err := <-stopped; err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !finished.Load() {
		t.Error("running task should finish before Stop returns")
	}
	if v := handlerCtxErr.Load(); v != nil {
		t.Errorf("handler context was cancelled: %v", v)
	}
}

func TestWorkQueue_StopTimeout(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	q, _ := newTestQueue(t, Config{Workers: 1}, func(ctx context.Context, path string) error {
		close(started)
		<-release
		return nil
	})
	q.Submit("/inbox/stuck")
	<-started

	if err := q.Stop(20 * time.Millisecond); err == nil {
		t.Error("Stop() should report a timeout while a task is stuck")
	}
}

func TestWorkQueue_StartTwice(t *testing.T) {
	q, _ := newTestQueue(t, Config{}, func(ctx context.Context, path string) error { return nil })
	if err := q.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusPending, "pending"},
		{StatusProcessing, "processing"},
		{StatusCompleted, "completed"},
		{StatusFailed, "failed"},
		{StatusRetrying, "retrying"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.status), got, tt.want)
		}
	}
}

func TestWorkQueue_CancelReportsDroppedRetries(t *testing.T) {
	done := newCompletions()
	q := NewWorkQueue(Config{Workers: 1, MaxRetries: 3, RetryDelay: time.Hour, OnComplete: done.record},
		func(ctx context.Context, path string) error { return errors.New("locked") },
		sfo.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())

	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { q.Stop(2 * time.Second) })

	if _, err := q.Submit("/inbox/busy.txt"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for q.retry.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("task never scheduled for retry")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	task := done.wait(t)
	if task.Path != "/inbox/busy.txt" || task.Status != StatusFailed {
		t.Errorf("completed task = %+v, want failed busy.txt", task)
	}
	if !errors.Is(task.Err, sfo.ErrQueueClosed) {
		t.Errorf("task error = %v, want ErrQueueClosed", task.Err)
	}
	if _, err := q.Submit("/inbox/late.txt"); !errors.Is(err, sfo.ErrQueueClosed) {
		t.Errorf("Submit() after cancel error = %v, want ErrQueueClosed", err)
	}
}

func TestWorkQueue_StopBeforeStartReportsQueued(t *testing.T) {
	done := newCompletions()
	q := NewWorkQueue(Config{Workers: 1, OnComplete: done.record}, func(ctx context.Context, path string) error {
		return nil
	}, sfo.NewNopLogger(), nil, nil)

	if _, err := q.Submit("/inbox/a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := q.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	task := done.wait(t)
	if !errors.Is(task.Err, sfo.ErrQueueClosed) {
		t.Errorf("task error = %v, want ErrQueueClosed", task.Err)
	}
	if s := q.Stats(); s.Pending != 0 || s.Failed != 0 {
		t.Errorf("Stats() = %+v, want nothing pending or failed", s)
	}
}
