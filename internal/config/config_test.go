package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("TONAPI_BASE_URL", "")
	t.Setenv("RETRY_ATTEMPTS", "")

	cfg := Load()

	assert.Equal(t, "https://tonapi.io/v2", cfg.TonAPIBaseURL)
	assert.Equal(t, 8080, cfg.WebhookPort)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, 20*time.Second, cfg.RetryDelay)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("TONAPI_BASE_URL", "https://testnet.tonapi.io/v2/")
	t.Setenv("RETRY_ATTEMPTS", "3")
	t.Setenv("RETRY_DELAY", "1s")
	t.Setenv("FEED_LIMIT", "oops")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, "123:abc", cfg.BotToken)
	assert.Equal(t, "https://testnet.tonapi.io/v2", cfg.TonAPIBaseURL)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 100, cfg.FeedLimit)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}
