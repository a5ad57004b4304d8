package notify

import (
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier mirrors device alerts into an ops chat. Optional; only
// wired when a bot token and chat id are configured.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

var _ Notifier = (*TelegramNotifier)(nil)

func NewTelegramNotifier(token, chatID string) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	slog.Info("telegram notifier authorized", "account", bot.Self.UserName)
	return &TelegramNotifier{bot: bot, chatID: id}, nil
}

func (t *TelegramNotifier) Notify(n Notification) {
	// Ops only cares about availability flips; warnings and error toasts
	// stay on the dashboard.
	if n.Kind != KindDeviceOnline && n.Kind != KindDeviceOffline {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("%s\n%s", n.Title, n.Message))
	if _, err := t.bot.Send(msg); err != nil {
		slog.Warn("telegram notification failed", "device_id", n.DeviceID, "error", err)
	}
}
