package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"schoollibrary/internal/clock"
)

// Config holds the bot's collaborators
type Config struct {
	Loans          LoanReader
	Due            DueLister
	Clock          clock.Clock
	AllowedUserIDs []int64
	ChatIDs        []int64 // reminder recipients
	Logger         *zap.Logger
}

// NewBot creates a new Telegram bot
func NewBot(token string, cfg Config) (*Bot, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		cfg.Logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(api, cfg)
	b.api = api
	cfg.Logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))
	return b, nil
}

func newBot(s sender, cfg Config) *Bot {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	allowedUsers := make(map[int64]bool)
	for _, id := range cfg.AllowedUserIDs {
		allowedUsers[id] = true
	}

	return &Bot{
		sender:       s,
		loans:        cfg.Loans,
		due:          cfg.Due,
		clock:        cfg.Clock,
		allowedUsers: allowedUsers,
		chatIDs:      cfg.ChatIDs,
		logger:       cfg.Logger,
	}
}
