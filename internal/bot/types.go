package bot

import (
	"context"
	"iter"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"schoollibrary/internal/clock"
	"schoollibrary/internal/ledger"
	"schoollibrary/internal/models"
)

// sender is the part of the Telegram API the bot writes through
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// LoanReader is the read access the bot commands need
type LoanReader interface {
	ListActive(ctx context.Context, filter ledger.ActiveFilter) iter.Seq2[models.ActiveLoan, error]
	Stats(ctx context.Context) (models.Stats, error)
}

// DueLister lists loans due on a date
type DueLister interface {
	ListDueOn(ctx context.Context, date time.Time) ([]models.DueEntry, error)
}

// Bot delivers due-date reminders to Telegram chats and answers a few
// read-only commands from allowed users
type Bot struct {
	api          *tgbotapi.BotAPI
	sender       sender
	loans        LoanReader
	due          DueLister
	clock        clock.Clock
	allowedUsers map[int64]bool
	chatIDs      []int64
	logger       *zap.Logger
}
