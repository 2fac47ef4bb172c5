package sfo

// NotificationType classifies pipeline events sent to the notification sink.
type NotificationType string

const (
	NotifyOrganized NotificationType = "organized"
	NotifyDuplicate NotificationType = "duplicate"
	NotifySensitive NotificationType = "sensitive"
	NotifyError     NotificationType = "error"
)

// Notification is a fire-and-forget message about one file.
type Notification struct {
	Type    NotificationType
	Title   string
	Message string
	Path    string
}

// Notifier delivers notifications. Implementations must not block for long
// and must swallow their own failures.
type Notifier interface {
	Notify(n Notification)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}
