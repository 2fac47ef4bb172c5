// Package notify delivers pipeline notifications to the log, the desktop and Telegram.
package notify

import (
	"sync"

	"sfo-go/internal/sfo"
)

// LogNotifier writes notifications to the logger.
type LogNotifier struct {
	logger sfo.Logger
}

var _ sfo.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger sfo.Logger) *LogNotifier {
	return &LogNotifier{logger: sfo.With(logger, "component", "notify")}
}

func (n *LogNotifier) Notify(msg sfo.Notification) {
	args := []any{"type", string(msg.Type), "title", msg.Title, "message", msg.Message, "path", msg.Path}
	if msg.Type == sfo.NotifyError {
		n.logger.Warn("notification", args...)
		return
	}
	n.logger.Info("notification", args...)
}

// Filter forwards only the selected notification types.
type Filter struct {
	next  sfo.Notifier
	types map[sfo.NotificationType]bool
}

// NewFilter wraps next. An empty types list forwards everything and returns next unchanged.
func NewFilter(next sfo.Notifier, types []string) sfo.Notifier {
	if len(types) == 0 {
		return next
	}
	f := &Filter{next: next, types: make(map[sfo.NotificationType]bool, len(types))}
	for _, t := range types {
		f.types[sfo.NotificationType(t)] = true
	}
	return f
}

func (f *Filter) Notify(msg sfo.Notification) {
	if f.types[msg.Type] {
		f.next.Notify(msg)
	}
}

// Multi fans a notification out to several sinks in order.
type Multi struct {
	mu    sync.RWMutex
	sinks []sfo.Notifier
}

var _ sfo.Notifier = (*Multi)(nil)

func NewMulti(sinks ...sfo.Notifier) *Multi {
	return &Multi{sinks: sinks}
}

// Add appends a sink.
func (m *Multi) Add(n sfo.Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, n)
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}

func (m *Multi) Notify(msg sfo.Notification) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()
	for _, s := range sinks {
		s.Notify(msg)
	}
}
