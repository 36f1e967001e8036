package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"schoollibrary/internal/models"
	"schoollibrary/internal/notify"
)

// Notify sends the reminder to every configured chat. It implements notify.Sink.
func (b *Bot) Notify(ctx context.Context, n models.Notification) error {
	if b.sender == nil || len(b.chatIDs) == 0 {
		return nil
	}

	text := notify.FormatReminder(n)
	var errs []error
	for _, chatID := range b.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := b.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			b.logger.Warn("Failed to send reminder", zap.Error(err), zap.Int64("chat_id", chatID))
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}
