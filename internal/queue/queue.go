// Package queue runs organize tasks on a fixed pool of workers with
// per-task retry through a delay queue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sfo-go/internal/sfo"
)

// Queue defaults.
const (
	DefaultWorkers     = 4
	DefaultQueueFactor = 25
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 2 * time.Second
)

// Status is the lifecycle state of a Task.
type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusRetrying
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusRetrying:
		return "retrying"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Task is one path travelling through the queue.
type Task struct {
	ID          string
	Path        string
	Status      Status
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Err         error
}

// Handler processes a single path. Returning sfo.ErrFileVanished (or an
// error wrapping it) marks the task completed.
type Handler func(ctx context.Context, path string) error

// Config tunes a WorkQueue. Zero values take the package defaults.
type Config struct {
	Workers    int
	Capacity   int
	MaxRetries int
	RetryDelay time.Duration
	// OnComplete is called exactly once per task when it reaches Completed or
	// Failed. Tasks dropped at shutdown are reported Failed with an error
	// wrapping sfo.ErrQueueClosed.
	OnComplete func(Task)
}

// Stats is a snapshot of queue counters.
type Stats struct {
	TotalProcessed int `json:"total_processed"`
	Successful     int `json:"successful"`
	Failed         int `json:"failed"`
	Retried        int `json:"retried"`
	Pending        int `json:"pending"`
	Processing     int `json:"processing"`
}

// WorkQueue is a bounded task queue drained by a fixed worker pool.
// One dispatcher goroutine moves tasks from the queue and the retry
// delay queue to idle workers.
type WorkQueue struct {
	cfg     Config
	handler Handler
	logger  sfo.Logger
	clock   sfo.Clock
	ids     sfo.IDGenerator

	tasks  chan *Task
	work   chan *Task
	retry  *DelayQueue[*Task]
	stopCh chan struct{}

	dispatcherWG sync.WaitGroup
	workerWG     sync.WaitGroup
	stopOnce     sync.Once

	mu      sync.Mutex
	stats   Stats
	started bool
	closed  bool
	hctx    context.Context
}

// NewWorkQueue creates a WorkQueue. Call Start to launch the workers.
func NewWorkQueue(cfg Config, handler Handler, logger sfo.Logger, clock sfo.Clock, ids sfo.IDGenerator) *WorkQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = cfg.Workers * DefaultQueueFactor
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if clock == nil {
		clock = sfo.RealClock{}
	}
	if ids == nil {
		ids = sfo.UUIDGenerator{}
	}
	return &WorkQueue{
		cfg:     cfg,
		handler: handler,
		logger:  sfo.With(logger, "component", "queue"),
		clock:   clock,
		ids:     ids,
		tasks:   make(chan *Task, cfg.Capacity),
		work:    make(chan *Task),
		retry:   NewDelayQueue[*Task](),
		stopCh:  make(chan struct{}),
	}
}

// Submit adds path to the queue. It never blocks: a full queue returns
// sfo.ErrQueueFull and a stopped queue returns sfo.ErrQueueClosed.
// The returned Task is a snapshot.
func (q *WorkQueue) Submit(path string) (*Task, error) {
	t := &Task{
		ID:         q.ids.New(),
		Path:       path,
		Status:     StatusPending,
		MaxRetries: q.cfg.MaxRetries,
		CreatedAt:  q.clock.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, sfo.ErrQueueClosed
	}
	select {
	case q.tasks <- t:
	default:
		return nil, sfo.ErrQueueFull
	}
	q.stats.Pending++

	snap := *t
	return &snap, nil
}

// Start launches the dispatcher and workers. Handlers receive a context
// derived from ctx that is never cancelled, so a running task always
// finishes. Cancelling ctx stops dispatch and drops queued and retrying
// tasks the same way Stop does.
func (q *WorkQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return fmt.Errorf("queue already started")
	}
	if q.closed {
		return sfo.ErrQueueClosed
	}
	q.started = true
	q.hctx = context.WithoutCancel(ctx)

	for i := 0; i < q.cfg.Workers; i++ {
		q.workerWG.Add(1)
		go q.worker(i)
	}
	q.dispatcherWG.Add(1)
	go q.dispatch(ctx)

	q.logger.Info("work queue started", "workers", q.cfg.Workers, "capacity", q.cfg.Capacity)
	return nil
}

// Stop closes intake and waits up to timeout for running tasks to finish.
// Tasks still queued or waiting for a retry are dropped.
func (q *WorkQueue) Stop(timeout time.Duration) error {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		started := q.started
		q.mu.Unlock()
		close(q.stopCh)
		if !started {
			q.closeIntake()
		}
	})

	done := make(chan struct{})
	go func() {
		q.dispatcherWG.Wait()
		q.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		return fmt.Errorf("work queue did not drain within %s", timeout)
	}

	q.retry.Close()
	q.mu.Lock()
	q.stats.Pending = 0
	q.mu.Unlock()
	return nil
}

// Stats returns a snapshot of the queue counters.
func (q *WorkQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

func (q *WorkQueue) dispatch(ctx context.Context) {
	defer q.dispatcherWG.Done()
	defer close(q.work)
	defer q.closeIntake()
	defer q.dropRetries()

	for {
		var t *Task
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case t = <-q.tasks:
		case t = <-q.retry.C():
		}

		select {
		case q.work <- t:
		case <-q.stopCh:
			q.drop(t)
			return
		case <-ctx.Done():
			q.drop(t)
			return
		}
	}
}

// closeIntake rejects further submissions and drops anything still queued.
func (q *WorkQueue) closeIntake() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	for {
		select {
		case t := <-q.tasks:
			q.drop(t)
		default:
			return
		}
	}
}

// dropRetries closes the retry queue, so later failures are final, and
// drops every task still waiting for a retry.
func (q *WorkQueue) dropRetries() {
	pending := q.retry.Drain()
	if len(pending) > 0 {
		q.logger.Warn("dropped pending retries", "count", len(pending))
	}
	for _, t := range pending {
		q.drop(t)
	}
}

// drop abandons a task that never reached a worker. It is reported to
// OnComplete but not counted as processed.
func (q *WorkQueue) drop(t *Task) {
	q.logger.Debug("dropping queued task", "path", t.Path, "task", t.ID)
	q.mu.Lock()
	if q.stats.Pending > 0 {
		q.stats.Pending--
	}
	q.mu.Unlock()

	t.Status = StatusFailed
	t.Err = &sfo.ProcessingError{Path: t.Path, Attempts: t.RetryCount, Err: sfo.ErrQueueClosed}
	t.CompletedAt = q.clock.Now()
	if q.cfg.OnComplete != nil {
		q.cfg.OnComplete(*t)
	}
}

func (q *WorkQueue) worker(id int) {
	defer q.workerWG.Done()
	for t := range q.work {
		q.run(id, t)
	}
}

func (q *WorkQueue) run(workerID int, t *Task) {
	q.mu.Lock()
	t.Status = StatusProcessing
	t.StartedAt = q.clock.Now()
	q.stats.Pending--
	q.stats.Processing++
	ctx := q.hctx
	q.mu.Unlock()

	err := q.handler(ctx, t.Path)

	q.mu.Lock()
	q.stats.Processing--
	q.mu.Unlock()

	switch {
	case err == nil || errors.Is(err, sfo.ErrFileVanished):
		if err != nil {
			q.logger.Debug("file vanished before processing", "path", t.Path)
		}
		q.finish(t, StatusCompleted, nil)

	case t.RetryCount < t.MaxRetries:
		t.RetryCount++
		t.Status = StatusRetrying
		t.Err = err
		q.mu.Lock()
		q.stats.Retried++
		q.stats.Pending++
		q.mu.Unlock()

		q.logger.Warn("task failed, retrying",
			"path", t.Path, "worker", workerID, "attempt", t.RetryCount, "delay", q.cfg.RetryDelay, "error", err)
		if !q.retry.Schedule(time.Now().Add(q.cfg.RetryDelay), t) {
			q.mu.Lock()
			q.stats.Pending--
			q.mu.Unlock()
			q.finish(t, StatusFailed, &sfo.ProcessingError{Path: t.Path, Attempts: t.RetryCount, Err: err})
		}

	default:
		perr := &sfo.ProcessingError{Path: t.Path, Attempts: t.RetryCount + 1, Err: err}
		q.logger.Error("task failed", "path", t.Path, "retries", t.RetryCount, "error", err)
		q.finish(t, StatusFailed, perr)
	}
}

func (q *WorkQueue) finish(t *Task, status Status, err error) {
	t.Status = status
	t.Err = err
	t.CompletedAt = q.clock.Now()

	q.mu.Lock()
	q.stats.TotalProcessed++
	if status == StatusCompleted {
		q.stats.Successful++
	} else {
		q.stats.Failed++
	}
	q.mu.Unlock()

	if q.cfg.OnComplete != nil {
		q.cfg.OnComplete(*t)
	}
}
