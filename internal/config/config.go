package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	UseMockDB   bool

	// Loan policy
	LoanGraceDays int
	RenewalDays   int

	// Due-date scanner
	ScanInterval time.Duration
	Location     *time.Location

	// Redis keeps the last notified date across restarts (optional)
	RedisAddr     string
	RedisPassword string

	// Telegram reminders (optional)
	TelegramToken  string
	NotifyChatIDs  []int64
	AllowedUserIDs []int64

	// ClickHouse reminder journal (optional)
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	Port     string
	LogLevel string
}

// TelegramEnabled reports whether reminders should go to Telegram
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != ""
}

// ClickHouseEnabled reports whether reminders should be journaled
func (c *Config) ClickHouseEnabled() bool {
	return c.ClickHouseHost != ""
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}

	// Use Mock DB (default: false)
	config.UseMockDB = os.Getenv("USE_MOCK_DB") == "true"

	// PostgreSQL (required if not using mock)
	config.DatabaseURL = os.Getenv("DATABASE_URL")
	if config.DatabaseURL == "" && !config.UseMockDB {
		return nil, fmt.Errorf("DATABASE_URL is required when USE_MOCK_DB is not set")
	}

	var err error
	if config.LoanGraceDays, err = positiveInt("LOAN_GRACE_DAYS", 15); err != nil {
		return nil, err
	}
	if config.RenewalDays, err = positiveInt("RENEWAL_DAYS", 7); err != nil {
		return nil, err
	}

	config.ScanInterval = time.Minute
	if s := os.Getenv("SCAN_INTERVAL"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid SCAN_INTERVAL: %s", s)
		}
		config.ScanInterval = d
	}

	config.Location = time.Local
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
		}
		config.Location = loc
	}

	config.RedisAddr = os.Getenv("REDIS_ADDR")
	config.RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Telegram: chat IDs are required once a token is given
	config.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if config.TelegramToken != "" {
		if config.NotifyChatIDs, err = parseIDs("NOTIFY_CHAT_IDS"); err != nil {
			return nil, err
		}
		if len(config.NotifyChatIDs) == 0 {
			return nil, fmt.Errorf("NOTIFY_CHAT_IDS is required when TELEGRAM_BOT_TOKEN is set (comma-separated list of chat IDs)")
		}
		if config.AllowedUserIDs, err = parseIDs("ALLOWED_USER_IDS"); err != nil {
			return nil, err
		}
	}

	// ClickHouse journal is enabled by CLICKHOUSE_HOST
	config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
	if config.ClickHouseHost != "" {
		portStr := os.Getenv("CLICKHOUSE_PORT")
		if portStr == "" {
			config.ClickHousePort = 9000 // Default ClickHouse native port
		} else {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, fmt.Errorf("invalid CLICKHOUSE_PORT: %w", err)
			}
			config.ClickHousePort = port
		}

		config.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
		config.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
		config.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
		config.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	}

	config.Port = getEnv("PORT", "8080")
	config.LogLevel = getEnv("LOG_LEVEL", "info")

	return config, nil
}

func positiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %s (must be a positive integer)", key, s)
	}
	return n, nil
}

func parseIDs(key string) ([]int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return nil, nil
	}

	var ids []int64
	for _, idStr := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ID in %s: %s", key, idStr)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
