package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gift_circle_bot/internal/app"
	"gift_circle_bot/internal/infra/config"
	idb "gift_circle_bot/internal/infra/database"
	"gift_circle_bot/internal/infra/encryption"
	"gift_circle_bot/internal/infra/logger"
	"gift_circle_bot/internal/infra/scheduler"
	"gift_circle_bot/internal/infra/telegram"
	"gift_circle_bot/internal/infra/webmeta"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	fmt.Println("Gift Circle Bot starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg)
	mainLogger := logger.Get().WithField("component", "main")
	mainLogger.WithFields(logrus.Fields{
		"log_level":   cfg.LogLevel,
		"environment": cfg.Environment,
		"venue_id":    cfg.CircleChatID,
		"timezone":    cfg.TimezoneName,
	}).Info("Configuration loaded")

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	mainLogger.Info("Database connection established successfully")

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()
	if err := idb.Migrate(startupCtx, db); err != nil {
		mainLogger.WithError(err).Fatal("Could not apply database schema")
	}
	if err := idb.EnsureCircle(startupCtx, db, cfg.CircleChatID, cfg.CircleChatID); err != nil {
		mainLogger.WithError(err).Fatal("Could not ensure circle mapping")
	}
	mainLogger.Info("Database schema ready")

	// Initialize Repositories
	personRepo := idb.NewPostgresPersonRepository(db)
	cycleRepo := idb.NewPostgresCycleRepository(db)
	mainLogger.Info("Repositories initialized")

	encryptor, err := encryption.NewEncryptor(cfg.AddressEncryptionKey)
	if err != nil {
		mainLogger.WithError(err).Fatal("Invalid ADDRESS_ENCRYPTION_KEY")
	}

	// Initialize Telegram Bot
	pref := telebot.Settings{
		Token:  cfg.BotToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) { // Global error handler
			entry := logger.Get().WithField("component", "telebot").WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{
					"sender_id": c.Sender().ID,
					"chat_id":   c.Chat().ID,
				})
			}
			entry.Error("Unhandled bot error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not create Telegram bot")
	}

	chatClient := telegram.NewClient(bot, cfg.CircleChatID)

	// Initialize Services
	cycleService := app.NewCycleService(
		personRepo,
		cycleRepo,
		chatClient,
		logger.Get().WithField("component", "cycle_service"),
		cfg.CircleChatID,
		cfg.Timezone,
		cfg.NotificationsEnabled,
		cfg.AutoDeleteDays,
	)

	// A fresh registration inside the planning window should open its cycle
	// right away rather than wait for the next cron tick.
	onRegistered := func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if err := cycleService.RunDailySweep(ctx); err != nil {
				logger.Get().WithField("component", "cycle_service").WithError(err).Error("Post-registration sweep failed")
			}
		}()
	}

	registrationService := app.NewRegistrationService(
		personRepo,
		chatClient,
		encryptor,
		cfg.Timezone,
		logger.Get().WithField("component", "registration_service"),
		onRegistered,
	)
	suggestionService := app.NewSuggestionService(
		cycleRepo,
		chatClient,
		webmeta.NewFetcher(),
		logger.Get().WithField("component", "suggestion_service"),
	)
	giftService := app.NewGiftService(
		personRepo,
		cycleRepo,
		chatClient,
		encryptor,
		logger.Get().WithField("component", "gift_service"),
	)
	mainLogger.Info("Services initialized")

	// Register Handlers
	handlers := telegram.NewHandlers(
		bot,
		cfg.CircleChatID,
		registrationService,
		suggestionService,
		giftService,
		logger.Get().WithField("component", "handlers"),
	)
	handlers.Register(context.Background())
	mainLogger.Info("Command handlers registered")

	// Initialize SweepScheduler
	sweepScheduler := scheduler.NewSweepScheduler(
		cycleService,
		cfg.DailyCron,
		cfg.Timezone,
		logger.Get().WithField("component", "scheduler"),
	)
	if err := sweepScheduler.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start sweep scheduler")
	}

	mainLogger.Info("Application setup complete. Bot and scheduler are starting...")

	// Start bot in a goroutine so it doesn't block graceful shutdown handling
	go bot.Start()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	sweepScheduler.Stop()
	bot.Stop()
	// db.Close() is handled by defer
	mainLogger.Info("Application shut down gracefully")
}
