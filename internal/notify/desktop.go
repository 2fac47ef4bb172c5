package notify

import (
	"time"

	"github.com/gen2brain/beeep"

	"sfo-go/internal/sfo"
)

const desktopTimeout = 5 * time.Second

// SendFunc shows one desktop notification. alert asks for an attention-grabbing
// notification with a sound where the platform supports it.
type SendFunc func(title, message string, alert bool) error

func beeepSend(title, message string, alert bool) error {
	if alert {
		return beeep.Alert(title, message, "")
	}
	return beeep.Notify(title, message, "")
}

// DesktopNotifier shows notifications on the local desktop.
// Delivery happens in the background and failures are only logged.
type DesktopNotifier struct {
	send    SendFunc
	timeout time.Duration
	logger  sfo.Logger
}

var _ sfo.Notifier = (*DesktopNotifier)(nil)

// NewDesktopNotifier creates a DesktopNotifier using the platform's
// notification service.
func NewDesktopNotifier(logger sfo.Logger) *DesktopNotifier {
	return NewDesktopNotifierWithSender(beeepSend, logger)
}

// NewDesktopNotifierWithSender creates a DesktopNotifier that delivers through send.
func NewDesktopNotifierWithSender(send SendFunc, logger sfo.Logger) *DesktopNotifier {
	return &DesktopNotifier{
		send:    send,
		timeout: desktopTimeout,
		logger:  sfo.With(logger, "component", "notify", "sink", "desktop"),
	}
}

func (d *DesktopNotifier) Notify(msg sfo.Notification) {
	if d.send == nil {
		return
	}
	title, body, alert := desktopMessage(msg)
	go func() {
		done := make(chan error, 1)
		go func() { done <- d.send(title, body, alert) }()

		select {
		case err := <-done:
			if err != nil {
				d.logger.Warn("sending desktop notification", "title", msg.Title, "error", err)
			}
		case <-time.After(d.timeout):
			d.logger.Warn("desktop notification timed out", "title", msg.Title, "timeout", d.timeout)
		}
	}()
}

func desktopMessage(msg sfo.Notification) (title, body string, alert bool) {
	title = msg.Title
	switch msg.Type {
	case sfo.NotifyDuplicate, sfo.NotifySensitive:
		title = "⚠ " + title
	case sfo.NotifyError:
		alert = true
	}
	return title, msg.Message, alert
}
