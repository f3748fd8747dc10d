// Package notify sends operator alerts about the bot's connection to a
// Telegram chat and answers /status from that chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"pairbot/pkg/bus"
	"pairbot/pkg/config"
	"pairbot/pkg/logger"
)

const observerBuffer = 32

// StatusFunc renders the bot status for /status replies.
type StatusFunc func() string

// poster delivers text to a Telegram chat.
type poster interface {
	post(ctx context.Context, chatID int64, text string) error
}

type botPoster struct {
	bot *telego.Bot
}

func (p botPoster) post(ctx context.Context, chatID int64, text string) error {
	_, err := p.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	return err
}

// Telegram relays connection alerts to one operator chat.
type Telegram struct {
	bot    *telego.Bot
	out    poster
	chatID int64
	name   string
	log    *slog.Logger
}

func NewTelegram(cfg config.TelegramConfig, botName string, log *slog.Logger) (*Telegram, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("notify.telegram.token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify.telegram.chat_id is required")
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return &Telegram{
		bot:    bot,
		out:    botPoster{bot: bot},
		chatID: cfg.ChatID,
		name:   botName,
		log:    logger.OrDefault(log, "notify.telegram"),
	}, nil
}

// Run forwards alerts for events observed on mb until ctx ends. When status
// is set it also long-polls for /status commands from the operator chat.
func (t *Telegram) Run(ctx context.Context, mb *bus.MessageBus, status StatusFunc) error {
	if mb == nil {
		return errors.New("message bus is required")
	}

	if status != nil && t.bot != nil {
		updates, err := t.bot.UpdatesViaLongPolling(ctx, nil)
		if err != nil {
			return fmt.Errorf("start long polling: %w", err)
		}
		go t.serveCommands(ctx, updates, status)
	}

	events, unsubscribe := mb.Observe(ctx, observerBuffer)
	defer unsubscribe()

	t.log.Info("Telegram alerts started", "chat_id", t.chatID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			t.handle(ctx, ev)
		}
	}
}

func (t *Telegram) handle(ctx context.Context, ev bus.Event) {
	text, ok := alertFor(t.name, ev)
	if !ok {
		return
	}

	if err := t.out.post(ctx, t.chatID, text); err != nil && ctx.Err() == nil {
		t.log.Error("Failed to send telegram alert", "event", ev.Type, "error", err)
		return
	}
	t.log.Debug("Telegram alert sent", "event", ev.Type, "text", logger.Preview(text))
}

func (t *Telegram) serveCommands(ctx context.Context, updates <-chan telego.Update, status StatusFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}

			message := update.Message
			if message == nil || message.Chat.ID != t.chatID {
				continue
			}
			if !isStatusCommand(message.Text) {
				continue
			}

			if err := t.out.post(ctx, t.chatID, status()); err != nil && ctx.Err() == nil {
				t.log.Error("Failed to answer status command", "error", err)
			}
		}
	}
}

// alertFor maps supervisor events to operator alert text.
func alertFor(name string, ev bus.Event) (string, bool) {
	if name == "" {
		name = "Bot"
	}

	switch ev.Type {
	case bus.EventConnectionState:
		switch ev.State {
		case "active":
			return fmt.Sprintf("✅ %s is connected.", name), true
		case "terminated":
			return fmt.Sprintf("⛔ %s was logged out. Credentials were cleared; pair the device again.", name), true
		}
	case bus.EventCredentialsUpdated:
		if ev.Error != "" {
			return fmt.Sprintf("⚠️ %s failed to persist rotated credentials: %s", name, ev.Error), true
		}
	}
	return "", false
}

func isStatusCommand(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	command, _, _ := strings.Cut(fields[0], "@")
	return strings.EqualFold(command, "/status")
}
