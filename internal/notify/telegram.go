package notify

import (
	"fmt"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"sfo-go/internal/sfo"
)

// DefaultTelegramTokenEnv holds the bot token when no variable is configured.
const DefaultTelegramTokenEnv = "SFO_TELEGRAM_TOKEN"

// TelegramSender is the part of the bot API the notifier uses.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts notifications to one chat. Sends run in the
// background, one at a time, so messages keep their order.
type TelegramNotifier struct {
	bot    TelegramSender
	chatID int64
	logger sfo.Logger
	queue  chan sfo.Notification
}

var _ sfo.Notifier = (*TelegramNotifier)(nil)

// NewTelegramNotifier authorizes a bot with the token read from tokenEnv.
func NewTelegramNotifier(tokenEnv string, chatID int64, logger sfo.Logger) (*TelegramNotifier, error) {
	if tokenEnv == "" {
		tokenEnv = DefaultTelegramTokenEnv
	}
	token := os.Getenv(tokenEnv)
	if token == "" {
		return nil, fmt.Errorf("telegram token not set: %s is empty", tokenEnv)
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return NewTelegramNotifierWithBot(bot, chatID, logger), nil
}

// NewTelegramNotifierWithBot creates a TelegramNotifier around an existing sender.
func NewTelegramNotifierWithBot(bot TelegramSender, chatID int64, logger sfo.Logger) *TelegramNotifier {
	t := &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: sfo.With(logger, "component", "notify", "sink", "telegram"),
		queue:  make(chan sfo.Notification, 64),
	}
	go t.loop()
	return t
}

// Notify enqueues msg. When the backlog is full the message is dropped.
func (t *TelegramNotifier) Notify(msg sfo.Notification) {
	select {
	case t.queue <- msg:
	default:
		t.logger.Warn("telegram backlog full, dropping notification", "title", msg.Title)
	}
}

func (t *TelegramNotifier) loop() {
	for msg := range t.queue {
		out := tgbotapi.NewMessage(t.chatID, formatTelegram(msg))
		if _, err := t.bot.Send(out); err != nil {
			t.logger.Warn("sending telegram notification", "title", msg.Title, "error", err)
		}
	}
}

func formatTelegram(msg sfo.Notification) string {
	text := msg.Title
	if msg.Message != "" {
		text += "\n" + msg.Message
	}
	if msg.Path != "" {
		text += "\n" + msg.Path
	}
	return text
}
