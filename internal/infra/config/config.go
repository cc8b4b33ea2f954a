package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	BotToken             string
	DatabaseURL          string
	AddressEncryptionKey string
	CircleChatID         int64 // the venue supergroup the bot organizes
	Timezone             *time.Location
	TimezoneName         string
	DailyCron            string // schedule for the daily sweep
	AutoDeleteDays       int    // archived-thread retention in days; 0 disables deletion
	NotificationsEnabled bool
	LogLevel             string
	Environment          string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.BotToken = os.Getenv("BOT_TOKEN")
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is not set")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.AddressEncryptionKey = os.Getenv("ADDRESS_ENCRYPTION_KEY")
	if cfg.AddressEncryptionKey == "" {
		return nil, fmt.Errorf("ADDRESS_ENCRYPTION_KEY is not set")
	}

	chatIDStr := os.Getenv("CIRCLE_CHAT_ID")
	if chatIDStr == "" {
		return nil, fmt.Errorf("CIRCLE_CHAT_ID is not set")
	}
	cfg.CircleChatID, err = strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CIRCLE_CHAT_ID: %w", err)
	}

	cfg.TimezoneName = os.Getenv("TZ")
	if cfg.TimezoneName == "" {
		cfg.TimezoneName = "America/Los_Angeles"
	}
	cfg.Timezone, err = time.LoadLocation(cfg.TimezoneName)
	if err != nil {
		return nil, fmt.Errorf("invalid TZ %q: %w", cfg.TimezoneName, err)
	}

	cfg.DailyCron = os.Getenv("DAILY_CRON")
	if cfg.DailyCron == "" {
		cfg.DailyCron = "0 9 * * *" // Default: 9:00 AM daily
	}

	deleteDaysStr := os.Getenv("AUTO_DELETE_ARCHIVED_DAYS")
	if deleteDaysStr == "" {
		cfg.AutoDeleteDays = 30
	} else {
		cfg.AutoDeleteDays, err = strconv.Atoi(deleteDaysStr)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTO_DELETE_ARCHIVED_DAYS: %w", err)
		}
	}

	cfg.NotificationsEnabled = strings.ToLower(os.Getenv("NOTIFICATIONS_ENABLED")) != "false"

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	return cfg, nil
}
