package testutil

import (
	"sync"

	"sfo-go/internal/sfo"
)

// RecordingNotifier keeps every notification it receives.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []sfo.Notification
}

var _ sfo.Notifier = (*RecordingNotifier)(nil)

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) Notify(msg sfo.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

// Count returns how many notifications of type typ were received.
func (n *RecordingNotifier) Count(typ sfo.NotificationType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, m := range n.sent {
		if m.Type == typ {
			count++
		}
	}
	return count
}

// All returns a copy of every notification received.
func (n *RecordingNotifier) All() []sfo.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sfo.Notification(nil), n.sent...)
}
