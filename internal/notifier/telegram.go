package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/qcekey/iget/internal/model"
)

const telegramSnippetRunes = 600

var _ model.Notifier = (*TelegramNotifier)(nil)

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts each vacancy as a message to a chat.
type TelegramNotifier struct {
	bot      telegramSender
	chatID   int64
	interval time.Duration
	logger   *slog.Logger
}

// NewTelegramNotifier authenticates the bot token and returns a notifier
// posting to chatID.
func NewTelegramNotifier(token string, chatID int64, client model.HTTPClient, logger *slog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegramNotifier(bot, chatID, logger), nil
}

func newTelegramNotifier(bot telegramSender, chatID int64, logger *slog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:      bot,
		chatID:   chatID,
		interval: time.Second,
		logger:   logger,
	}
}

// Notify sends the batch one message per vacancy. Returns an error only
// if every message fails.
func (n *TelegramNotifier) Notify(ctx context.Context, batch []model.Screened) error {
	if len(batch) == 0 {
		return nil
	}

	failures := 0
	for i, item := range batch {
		if i > 0 {
			if err := sleep(ctx, n.interval); err != nil {
				return err
			}
		}
		if err := n.send(ctx, item); err != nil {
			n.logger.Error("telegram notification failed", "title", item.Vacancy.Title, "error", err)
			failures++
		}
	}

	if failures == len(batch) {
		return fmt.Errorf("all %d telegram notifications failed", failures)
	}
	n.logger.Info("telegram notifications complete", "sent", len(batch)-failures, "failed", failures)
	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, item model.Screened) error {
	msg := tgbotapi.NewMessage(n.chatID, formatTelegram(item))
	msg.DisableWebPagePreview = true

	_, err := n.bot.Send(msg)
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		wait := time.Duration(tgErr.RetryAfter) * time.Second
		n.logger.Warn("telegram rate limited, retrying", "retry_after", wait)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		_, err = n.bot.Send(msg)
	}
	return err
}

func formatTelegram(item model.Screened) string {
	v := item.Vacancy
	var b strings.Builder

	b.WriteString(v.Title)
	if v.Company != "" {
		b.WriteString(" @ " + v.Company)
	}
	b.WriteString("\n")
	if v.Location != "" {
		b.WriteString("📍 " + v.Location + "\n")
	}
	if !v.PostedAt.IsZero() {
		b.WriteString("🕒 " + v.PostedAt.Format("2006-01-02 15:04") + " · " + string(v.Source) + "\n")
	}
	if line := verdictLine(item); line != "" {
		b.WriteString("🤖 " + line + "\n")
	}
	if d := snippet(v.Description, telegramSnippetRunes); d != "" {
		b.WriteString("\n" + d + "\n")
	}
	b.WriteString("\n" + v.URL)
	return b.String()
}
