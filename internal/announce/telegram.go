package announce

import (
	"context"
	"fmt"

	"gopkg.in/telebot.v3"
)

// TelegramAnnouncer sends announcements to a chat via the Telegram Bot
// API. Grounded on notify/telegram/telegram.go's Notifier, trimmed to the
// grid's one fixed message shape (no alert templating engine needed since
// spec §6 gives two literal templates) and driven by a telebot.Bot built
// with Offline:true, matching the teacher's createTelegramClient.
type TelegramAnnouncer struct {
	bot    *telebot.Bot
	chatID int64
}

// NewTelegramAnnouncer builds a TelegramAnnouncer. apiURL may be empty to
// use Telegram's default API endpoint.
func NewTelegramAnnouncer(token string, chatID int64, apiURL string) (*TelegramAnnouncer, error) {
	bot, err := telebot.NewBot(telebot.Settings{
		Token:   token,
		URL:     apiURL,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("announce: creating telegram client: %w", err)
	}
	return &TelegramAnnouncer{bot: bot, chatID: chatID}, nil
}

// Announce sends one rendered announcement to the configured chat.
func (t *TelegramAnnouncer) Announce(_ context.Context, ev Event) error {
	_, err := t.bot.Send(telebot.ChatID(t.chatID), Render(ev), &telebot.SendOptions{
		DisableWebPagePreview: true,
	})
	return err
}
