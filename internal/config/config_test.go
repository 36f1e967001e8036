package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "USE_MOCK_DB", "LOAN_GRACE_DAYS", "RENEWAL_DAYS", "SCAN_INTERVAL",
		"TIMEZONE", "REDIS_ADDR", "REDIS_PASSWORD", "TELEGRAM_BOT_TOKEN", "NOTIFY_CHAT_IDS",
		"ALLOWED_USER_IDS", "CLICKHOUSE_HOST", "CLICKHOUSE_PORT", "CLICKHOUSE_DATABASE",
		"CLICKHOUSE_USER", "CLICKHOUSE_PASSWORD", "CLICKHOUSE_USE_TLS", "PORT", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://library@localhost/library")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.LoanGraceDays)
	assert.Equal(t, 7, cfg.RenewalDays)
	assert.Equal(t, time.Minute, cfg.ScanInterval)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.TelegramEnabled())
	assert.False(t, cfg.ClickHouseEnabled())
}

func TestLoadFromEnv_DatabaseURLRequired(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromEnv()
	require.Error(t, err)

	t.Setenv("USE_MOCK_DB", "true")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.UseMockDB)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("USE_MOCK_DB", "true")
	t.Setenv("LOAN_GRACE_DAYS", "10")
	t.Setenv("SCAN_INTERVAL", "5m")
	t.Setenv("TIMEZONE", "America/Sao_Paulo")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("NOTIFY_CHAT_IDS", "100, 200")
	t.Setenv("ALLOWED_USER_IDS", "7")
	t.Setenv("CLICKHOUSE_HOST", "localhost")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.LoanGraceDays)
	assert.Equal(t, 5*time.Minute, cfg.ScanInterval)
	assert.Equal(t, "America/Sao_Paulo", cfg.Location.String())
	assert.Equal(t, []int64{100, 200}, cfg.NotifyChatIDs)
	assert.Equal(t, []int64{7}, cfg.AllowedUserIDs)
	assert.True(t, cfg.ClickHouseEnabled())
	assert.Equal(t, 9000, cfg.ClickHousePort)
	assert.Equal(t, "default", cfg.ClickHouseDatabase)
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"zero grace days":     {"LOAN_GRACE_DAYS": "0"},
		"text renewal days":   {"RENEWAL_DAYS": "week"},
		"bad interval":        {"SCAN_INTERVAL": "soon"},
		"unknown timezone":    {"TIMEZONE": "Mars/Olympus"},
		"token without chats": {"TELEGRAM_BOT_TOKEN": "token"},
		"bad chat id":         {"TELEGRAM_BOT_TOKEN": "token", "NOTIFY_CHAT_IDS": "abc"},
		"bad clickhouse port": {"CLICKHOUSE_HOST": "localhost", "CLICKHOUSE_PORT": "native"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("USE_MOCK_DB", "true")
			for k, v := range env {
				t.Setenv(k, v)
			}

			_, err := LoadFromEnv()
			assert.Error(t, err)
		})
	}
}
