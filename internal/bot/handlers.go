package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// handleMessage processes a single message
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage", zap.Any("panic", r))
			b.reply(message.Chat.ID, "An error occurred while processing your request. Please try again.")
		}
	}()

	if !message.IsCommand() {
		return
	}

	switch message.Command() {
	case "start", "help":
		b.handleStart(message)
	case "due":
		b.handleDue(ctx, message)
	case "overdue":
		b.handleOverdue(ctx, message)
	case "stats":
		b.handleStats(ctx, message)
	default:
		b.reply(message.Chat.ID, "Unknown command. Use /start to see available commands.")
	}
}

// reply sends a plain text message to chatID
func (b *Bot) reply(chatID int64, text string) {
	if b.sender == nil {
		return
	}
	if _, err := b.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn("Failed to send message", zap.Error(err), zap.Int64("chat_id", chatID))
	}
}
