package watch

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	sfofs "sfo-go/internal/fs"
	"sfo-go/internal/sfo"
)

// Gate defaults.
const (
	DefaultDebounce       = time.Second
	DefaultSettleInterval = 500 * time.Millisecond
	DefaultSettleTimeout  = 30 * time.Second
)

// GateConfig tunes an EventGate.
type GateConfig struct {
	// Roots are the watched directories; relative ignore patterns and
	// per-root ignore files are resolved against them.
	Roots          []string
	Ignore         []string
	Exclude        []string
	Debounce       time.Duration
	SettleInterval time.Duration
	SettleTimeout  time.Duration
}

// EnqueueFunc hands a settled path to the work queue.
type EnqueueFunc func(path string) error

// EventGate filters raw watch events down to at most one in-flight task per path.
//
// An accepted event starts a settling wait. Only when the file stops growing
// and can be opened is the path marked in-flight and enqueued. The pipeline
// calls MarkComplete when the task for the path has finished.
type EventGate struct {
	cfg     GateConfig
	enqueue EnqueueFunc
	logger  sfo.Logger
	clock   sfo.Clock

	base    *sfofs.IgnoreMatcher
	perRoot map[string]*sfofs.IgnoreMatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	lastEvent map[string]time.Time
	inFlight  map[string]bool
	settling  map[string]bool
	stopped   bool
}

// NewEventGate creates a gate that calls enqueue for every settled path.
func NewEventGate(cfg GateConfig, enqueue EnqueueFunc, logger sfo.Logger, clock sfo.Clock) *EventGate {
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = DefaultSettleInterval
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}
	if clock == nil {
		clock = sfo.RealClock{}
	}
	cfg.Roots = absPaths(cfg.Roots)
	cfg.Exclude = absPaths(cfg.Exclude)

	logger = sfo.With(logger, "component", "gate")
	base := sfofs.NewIgnoreMatcher(sfofs.WithBuiltins(cfg.Ignore))
	perRoot := make(map[string]*sfofs.IgnoreMatcher, len(cfg.Roots))
	for _, root := range cfg.Roots {
		local, err := sfofs.ParseIgnoreFile(filepath.Join(root, sfofs.IgnoreFileName))
		if err != nil {
			logger.Warn("reading ignore file", "root", root, "error", err)
		}
		perRoot[root] = base.Extend(local)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EventGate{
		cfg:       cfg,
		enqueue:   enqueue,
		logger:    logger,
		clock:     clock,
		base:      base,
		perRoot:   perRoot,
		ctx:       ctx,
		cancel:    cancel,
		lastEvent: make(map[string]time.Time),
		inFlight:  make(map[string]bool),
		settling:  make(map[string]bool),
	}
}

// Handle applies the ignore, debounce and in-flight filters to ev and, if the
// event survives, starts a settling wait. It reports whether the event was accepted.
func (g *EventGate) Handle(ev sfo.WatchEvent) bool {
	path := ev.Path
	if g.ignored(path) {
		return false
	}

	now := g.clock.Now()

	g.mu.Lock()
	if g.stopped || g.inFlight[path] || g.settling[path] {
		g.mu.Unlock()
		return false
	}
	if last, ok := g.lastEvent[path]; ok && now.Sub(last) < g.cfg.Debounce {
		g.mu.Unlock()
		return false
	}
	g.lastEvent[path] = now
	g.settling[path] = true
	g.wg.Add(1)
	g.mu.Unlock()

	g.logger.Debug("event accepted", "path", path, "kind", ev.Kind.String())
	go g.settleAndEnqueue(path)
	return true
}

func (g *EventGate) ignored(path string) bool {
	for _, e := range g.cfg.Exclude {
		if sfofs.IsWithin(path, e) {
			return true
		}
	}
	root := g.rootFor(path)
	if root == "" {
		return g.base.Match(filepath.Base(path))
	}
	return g.perRoot[root].MatchUnder(path, root)
}

// rootFor returns the deepest watched root containing path.
func (g *EventGate) rootFor(path string) string {
	best := ""
	for _, root := range g.cfg.Roots {
		if sfofs.IsWithin(path, root) && len(root) > len(best) {
			best = root
		}
	}
	return best
}

func (g *EventGate) settleAndEnqueue(path string) {
	defer g.wg.Done()

	ready := g.waitSettled(g.ctx, path)

	g.mu.Lock()
	delete(g.settling, path)
	if !ready || g.stopped {
		// Abandoned: a later event may retry the path.
		delete(g.lastEvent, path)
		g.mu.Unlock()
		if !ready {
			g.logger.Debug("file did not settle", "path", path)
		}
		return
	}
	if g.inFlight[path] {
		g.mu.Unlock()
		return
	}
	g.inFlight[path] = true
	g.mu.Unlock()

	if err := g.enqueue(path); err != nil {
		g.logger.Warn("enqueue failed", "path", path, "error", err)
		g.MarkComplete(path)
		return
	}
	g.logger.Debug("file settled and enqueued", "path", path)
}

// waitSettled samples the file size every SettleInterval until two consecutive
// samples agree on a non-zero size and the file can be read. It gives up when
// the file disappears, the timeout passes, or ctx is cancelled.
func (g *EventGate) waitSettled(ctx context.Context, path string) bool {
	timeout := time.NewTimer(g.cfg.SettleTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(g.cfg.SettleInterval)
	defer ticker.Stop()

	last := int64(-1)
	for {
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return false
		case err == nil && info.Mode().IsRegular():
			size := info.Size()
			if size > 0 && size == last && readable(path) {
				return true
			}
			last = size
		}

		select {
		case <-ctx.Done():
			return false
		case <-timeout.C:
			return false
		case <-ticker.C:
		}
	}
}

// readable reports whether the file can be opened and its first byte read,
// which fails while a writer holds an exclusive lock on some platforms.
func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var b [1]byte
	_, err = io.ReadFull(f, b[:])
	return err == nil
}

// MarkComplete releases path after its task has finished and clears its
// debounce timestamp.
func (g *EventGate) MarkComplete(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, path)
	delete(g.lastEvent, path)
}

// InFlight reports whether path is currently owned by a task.
func (g *EventGate) InFlight(path string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight[path]
}

// Pending returns the number of paths waiting to settle.
func (g *EventGate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.settling)
}

// Stop cancels all settling waits and waits for them to exit. It is idempotent.
func (g *EventGate) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	g.mu.Unlock()

	g.cancel()
	g.wg.Wait()
}
