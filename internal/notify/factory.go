package notify

import (
	"fmt"

	"sfo-go/internal/config"
	"sfo-go/internal/sfo"
)

// NewNotifierFromConfig builds one sink per entry, each filtered to its events.
func NewNotifierFromConfig(cfgs []config.NotifierConfig, logger sfo.Logger) (*Multi, error) {
	m := NewMulti()
	for i, c := range cfgs {
		var n sfo.Notifier
		switch c.Type {
		case "log":
			n = NewLogNotifier(logger)
		case "desktop":
			n = NewDesktopNotifier(logger)
		case "telegram":
			tg, err := NewTelegramNotifier(c.TelegramTokenEnv, c.TelegramChatID, logger)
			if err != nil {
				return nil, fmt.Errorf("notifications[%d]: %w", i, err)
			}
			n = tg
		default:
			return nil, fmt.Errorf("notifications[%d]: unknown notifier type %q", i, c.Type)
		}
		m.Add(NewFilter(n, c.Events))
	}
	return m, nil
}
