package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"schoollibrary/internal/clock"
	"schoollibrary/internal/ledger"
	"schoollibrary/internal/models"
	"schoollibrary/internal/notify"
)

// maxListed caps list replies to keep messages under Telegram's size limit
const maxListed = 30

// handleStart shows welcome message and available commands
func (b *Bot) handleStart(message *tgbotapi.Message) {
	text := `School library reminders 📚

Available commands:
/due - Loans due back today
/overdue - Loans past their return date
/stats - Library totals`

	b.reply(message.Chat.ID, text)
}

// handleDue lists loans due back today
func (b *Bot) handleDue(ctx context.Context, message *tgbotapi.Message) {
	today := clock.Today(b.clock)
	entries, err := b.due.ListDueOn(ctx, today)
	if err != nil {
		b.logger.Error("Failed to list due loans", zap.Error(err), zap.Int64("chat_id", message.Chat.ID))
		b.reply(message.Chat.ID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(entries) == 0 {
		b.reply(message.Chat.ID, "No returns due today.")
		return
	}

	b.reply(message.Chat.ID, notify.FormatReminder(models.Notification{Date: today, Entries: entries}))
}

// handleOverdue lists active loans past their expected return date
func (b *Bot) handleOverdue(ctx context.Context, message *tgbotapi.Message) {
	var lines []string
	total := 0
	for loan, err := range b.loans.ListActive(ctx, ledger.ActiveFilter{}) {
		if err != nil {
			b.logger.Error("Failed to list active loans", zap.Error(err), zap.Int64("chat_id", message.Chat.ID))
			b.reply(message.Chat.ID, fmt.Sprintf("Error: %v", err))
			return
		}
		if !loan.Overdue {
			continue
		}
		total++
		if len(lines) < maxListed {
			lines = append(lines, fmt.Sprintf("- %s (%s): %s, due %s",
				loan.StudentName, loan.StudentCode, loan.BookTitle, loan.ExpectedReturn.Format("02/01/2006")))
		}
	}

	if total == 0 {
		b.reply(message.Chat.ID, "No overdue loans. 🎉")
		return
	}

	text := fmt.Sprintf("Overdue loans (%d):\n\n%s", total, strings.Join(lines, "\n"))
	if total > len(lines) {
		text += fmt.Sprintf("\n... and %d more", total-len(lines))
	}
	b.reply(message.Chat.ID, text)
}

// handleStats shows library totals
func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) {
	stats, err := b.loans.Stats(ctx)
	if err != nil {
		b.logger.Error("Failed to get stats", zap.Error(err), zap.Int64("chat_id", message.Chat.ID))
		b.reply(message.Chat.ID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.reply(message.Chat.ID, fmt.Sprintf(
		"📊 Library totals\n\nBooks: %d\nStudents: %d\nActive loans: %d\nCopies available: %d",
		stats.TotalBooks, stats.TotalStudents, stats.ActiveLoans, stats.AvailableCopies))
}
