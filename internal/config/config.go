package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-level settings read once from the environment.
// Values an admin may change at runtime live in Store instead.
type Config struct {
	// Telegram
	BotToken string

	// TonAPI
	TonAPIKey     string
	TonAPIBaseURL string

	// Webhook / ops server
	WebhookEndpoint string
	WebhookPort     int

	// Files
	DBPath       string
	SettingsPath string
	ProgressPath string

	// Logging
	LogLevel slog.Level

	// Reconciliation
	RetryAttempts int
	RetryDelay    time.Duration
	SendTimeout   time.Duration
	FeedLimit     int
}

func Load() *Config {
	return &Config{
		// Telegram
		BotToken: getEnv("BOT_TOKEN", ""),

		// TonAPI
		TonAPIKey:     getEnv("TONAPI_API_KEY", ""),
		TonAPIBaseURL: strings.TrimSuffix(getEnv("TONAPI_BASE_URL", "https://tonapi.io/v2"), "/"),

		// Webhook
		WebhookEndpoint: getEnv("WEBHOOK_ENDPOINT", ""),
		WebhookPort:     getEnvInt("WEBHOOK_PORT", 8080),

		// Files
		DBPath:       getEnv("DB_PATH", "./airdrop.db"),
		SettingsPath: getEnv("SETTINGS_PATH", "./settings.json"),
		ProgressPath: getEnv("PROGRESS_PATH", "./contest.json"),

		LogLevel: getEnvLevel("LOG_LEVEL", slog.LevelInfo),

		// Reconciliation
		RetryAttempts: getEnvInt("RETRY_ATTEMPTS", 5),
		RetryDelay:    getEnvDuration("RETRY_DELAY", 20*time.Second),
		SendTimeout:   getEnvDuration("SEND_TIMEOUT", 90*time.Second),
		FeedLimit:     getEnvInt("FEED_LIMIT", 100),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	if val := os.Getenv(key); val != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(val)); err == nil {
			return lvl
		}
	}
	return defaultVal
}
