// Package pipeline connects the watcher, the event gate and the work queue to
// an Organizer and runs them as one daemon.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sfo-go/internal/queue"
	"sfo-go/internal/sfo"
	"sfo-go/internal/watch"
)

// DefaultStopTimeout bounds how long Stop waits for running tasks.
const DefaultStopTimeout = 30 * time.Second

// Processor handles one settled path.
type Processor interface {
	ProcessOne(ctx context.Context, path string) (bool, error)
}

// Config wires the stages together.
type Config struct {
	Watcher watch.WatcherConfig
	Gate    watch.GateConfig
	Queue   queue.Config

	// StartupScan feeds files already present in the roots through the gate on Start.
	StartupScan bool
	// RescanSchedule is a standard cron expression for periodic rescans. Empty disables it.
	RescanSchedule string
	StopTimeout    time.Duration
}

// Stats is a snapshot of the running stages.
type Stats struct {
	Queue    queue.Stats `json:"queue"`
	Settling int         `json:"settling"`
	Running  bool        `json:"running"`
}

// Pipeline runs PathWatcher → EventGate → WorkQueue → Processor.
type Pipeline struct {
	cfg    Config
	proc   Processor
	fsmgr  sfo.FilesystemManager
	logger sfo.Logger
	clock  sfo.Clock

	watcher *watch.PathWatcher
	gate    *watch.EventGate
	queue   *queue.WorkQueue
	sched   *cron.Cron

	forwardWG sync.WaitGroup
	scanWG    sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopped bool
}

// New builds the stages. Nothing runs until Start.
func New(cfg Config, proc Processor, fsmgr sfo.FilesystemManager, logger sfo.Logger, clock sfo.Clock, ids sfo.IDGenerator) (*Pipeline, error) {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if clock == nil {
		clock = sfo.RealClock{}
	}
	p := &Pipeline{
		cfg:    cfg,
		proc:   proc,
		fsmgr:  fsmgr,
		logger: sfo.With(logger, "component", "pipeline"),
		clock:  clock,
	}

	w, err := watch.NewPathWatcher(cfg.Watcher, logger, clock)
	if err != nil {
		return nil, err
	}
	p.watcher = w

	qcfg := cfg.Queue
	qcfg.OnComplete = p.complete
	p.queue = queue.NewWorkQueue(qcfg, p.handle, logger, clock, ids)

	if cfg.Gate.Roots == nil {
		cfg.Gate.Roots = cfg.Watcher.Roots
	}
	if cfg.Gate.Exclude == nil {
		cfg.Gate.Exclude = cfg.Watcher.Exclude
	}
	p.gate = watch.NewEventGate(cfg.Gate, p.enqueue, logger, clock)

	if cfg.RescanSchedule != "" {
		p.sched = cron.New()
		if _, err := p.sched.AddFunc(cfg.RescanSchedule, p.rescanJob); err != nil {
			return nil, fmt.Errorf("parsing rescan schedule %q: %w", cfg.RescanSchedule, err)
		}
	}
	return p, nil
}

func (p *Pipeline) handle(ctx context.Context, path string) error {
	_, err := p.proc.ProcessOne(ctx, path)
	return err
}

func (p *Pipeline) enqueue(path string) error {
	_, err := p.queue.Submit(path)
	return err
}

func (p *Pipeline) complete(t queue.Task) {
	p.gate.MarkComplete(t.Path)
	if errors.Is(t.Err, sfo.ErrQueueClosed) {
		p.logger.Debug("file dropped at shutdown", "path", t.Path)
		return
	}
	if t.Status == queue.StatusFailed {
		p.logger.Error("giving up on file", "path", t.Path, "error", t.Err)
	}
}

// Start launches the queue, the watcher and the scheduler. It fails with
// sfo.ErrNoWatchableDirectories when no root exists.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.stopped {
		return fmt.Errorf("pipeline already started")
	}

	if err := p.queue.Start(ctx); err != nil {
		return fmt.Errorf("starting queue: %w", err)
	}
	if err := p.watcher.Start(); err != nil {
		p.queue.Stop(p.cfg.StopTimeout)
		return err
	}

	p.forwardWG.Add(1)
	go p.forward()

	if p.sched != nil {
		p.sched.Start()
		p.logger.Info("rescan scheduled", "schedule", p.cfg.RescanSchedule)
	}
	if p.cfg.StartupScan {
		p.scanWG.Add(1)
		go func() {
			defer p.scanWG.Done()
			p.Rescan()
		}()
	}

	p.running = true
	p.logger.Info("pipeline started", "roots", len(p.watcher.Roots()))
	return nil
}

func (p *Pipeline) forward() {
	defer p.forwardWG.Done()
	events, errs := p.watcher.Events(), p.watcher.Errors()
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			p.gate.Handle(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.logger.Warn("watcher error", "error", err)
		}
	}
}

func (p *Pipeline) rescanJob() {
	n := p.Rescan()
	p.logger.Debug("scheduled rescan finished", "accepted", n)
}

// Rescan walks the watched roots and offers every file to the gate, which
// drops anything already in flight. Returns the number of accepted files.
func (p *Pipeline) Rescan() int {
	if p.fsmgr == nil {
		return 0
	}
	accepted := 0
	for _, root := range p.watcher.Roots() {
		dir, err := p.fsmgr.Resolve(root)
		if err != nil {
			p.logger.Warn("rescan: resolving root", "root", root, "error", err)
			continue
		}
		files, err := p.fsmgr.FindFiles(dir, p.cfg.Watcher.Recursive)
		if err != nil {
			p.logger.Warn("rescan: listing files", "root", root, "error", err)
			continue
		}
		for _, f := range files {
			if p.gate.Handle(p.scanEvent(f.String())) {
				accepted++
			}
		}
	}
	return accepted
}

func (p *Pipeline) scanEvent(path string) sfo.WatchEvent {
	return sfo.WatchEvent{Path: path, Kind: sfo.EventCreated, ObservedAt: p.clock.Now()}
}

// Stop shuts the stages down in order: scheduler, watcher, gate, queue.
// Running tasks get StopTimeout to finish. It is idempotent.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	wasRunning := p.running
	p.running = false
	p.mu.Unlock()

	var errs []error
	if p.sched != nil {
		select {
		case <-p.sched.Stop().Done():
		case <-time.After(p.cfg.StopTimeout):
			errs = append(errs, fmt.Errorf("rescan job did not finish within %s", p.cfg.StopTimeout))
		}
	}
	if err := p.watcher.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping watcher: %w", err))
	}
	p.forwardWG.Wait()
	p.gate.Stop()
	p.scanWG.Wait()
	if wasRunning {
		if err := p.queue.Stop(p.cfg.StopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("stopping queue: %w", err))
		}
	}

	p.logger.Info("pipeline stopped")
	return errors.Join(errs...)
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns queue and gate counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Queue:    p.queue.Stats(),
		Settling: p.gate.Pending(),
		Running:  p.IsRunning(),
	}
}
