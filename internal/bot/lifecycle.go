package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Start polls Telegram for commands until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting bot in polling mode")

	// Remove webhook (if any was set previously)
	_, err := b.api.Request(tgbotapi.DeleteWebhookConfig{})
	if err != nil {
		b.logger.Warn("Failed to delete webhook", zap.Error(err))
	}

	// Create update configuration
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	// Get updates channel
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Bot started successfully. Waiting for updates...")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	// Handle updates (blocks here)
	b.handleUpdates(ctx, updates)
	b.logger.Info("Bot stopped")
	return nil
}

// HandleUpdate processes a single update
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	userID := update.Message.From.ID
	if !b.allowedUsers[userID] {
		b.logger.Warn("Unauthorized access attempt",
			zap.Int64("user_id", userID),
			zap.String("username", update.Message.From.UserName),
			zap.String("text", update.Message.Text),
		)
		b.reply(update.Message.Chat.ID, "Sorry, you are not authorized to use this bot.")
		return
	}
	b.handleMessage(ctx, update.Message)
}

// handleUpdates processes incoming updates from polling mode
func (b *Bot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}
