package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/inkwell-app/inkwell/internal/shared"
)

// Telegram pushes notifications to owners over a Telegram bot. Owners are
// mapped to chat IDs in configuration; owners without a mapping are skipped
// silently since push delivery is optional per owner.
type Telegram struct {
	bot     *tgbotapi.BotAPI
	chatIDs map[string]int64
	log     *slog.Logger
}

// NewTelegram connects the bot. The token is redacted from any error so it
// never reaches the logs.
func NewTelegram(token string, chatIDs map[string]int64, log *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %s", shared.Redact(err.Error()))
	}
	log.Info("telegram notifier started", "user", bot.Self.UserName)
	return &Telegram{bot: bot, chatIDs: chatIDs, log: log}, nil
}

func (t *Telegram) Notify(ctx context.Context, ownerID, eventType string, payload map[string]any) {
	chatID, ok := t.chatIDs[ownerID]
	if !ok {
		return
	}
	msg := tgbotapi.NewMessage(chatID, renderMessage(eventType, payload))
	if _, err := t.bot.Send(msg); err != nil {
		logDeliveryError(t.log, "telegram", ownerID, eventType, err)
	}
}

// renderMessage produces the short human-readable line pushed to the chat.
func renderMessage(eventType string, payload map[string]any) string {
	switch eventType {
	case EventEntryReady:
		return "Your journal entry is saved and processed."
	case EventEntryFailed:
		return "Something went wrong processing your journal entry."
	case EventClarification:
		if q, ok := payload["question"].(string); ok && q != "" {
			return q
		}
		return "Could you clarify what you meant?"
	case EventReminder:
		if m, ok := payload["message"].(string); ok && m != "" {
			return "Reminder: " + m
		}
		return "Reminder"
	case EventPersona:
		return "Your profile has been refreshed."
	case EventTaskState:
		if s, ok := payload["status"].(string); ok {
			return fmt.Sprintf("Task update: %s", s)
		}
		return "Task update"
	default:
		return fmt.Sprintf("Update: %s", eventType)
	}
}
