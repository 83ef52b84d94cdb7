package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	tonapigo "github.com/tonkeeper/tonapi-go"
	"github.com/tonkeeper/tongo/liteapi"

	"github.com/suspectuso/ton-airdrop/internal/config"
	"github.com/suspectuso/ton-airdrop/internal/disburser"
	"github.com/suspectuso/ton-airdrop/internal/metrics"
	"github.com/suspectuso/ton-airdrop/internal/notifier"
	"github.com/suspectuso/ton-airdrop/internal/progress"
	"github.com/suspectuso/ton-airdrop/internal/reconciler"
	"github.com/suspectuso/ton-airdrop/internal/storage"
	"github.com/suspectuso/ton-airdrop/internal/telegram"
	"github.com/suspectuso/ton-airdrop/internal/tonapi"
	"github.com/suspectuso/ton-airdrop/internal/webhook"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	// Load config
	cfg := config.Load()

	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(log)
	if envErr != nil {
		log.Debug("no .env file found")
	}

	if cfg.BotToken == "" {
		log.Error("BOT_TOKEN is required")
		os.Exit(1)
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	settings, err := config.NewStore(cfg.SettingsPath, log)
	if err != nil {
		log.Error("init settings", "error", err)
		os.Exit(1)
	}

	ledger, err := progress.Open(cfg.ProgressPath)
	if err != nil {
		log.Error("open progress file", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize TonAPI clients
	tonAPI := tonapi.NewClient(cfg.TonAPIBaseURL, cfg.TonAPIKey)
	log.Info("tonapi client initialized", "base_url", cfg.TonAPIBaseURL)

	jettonAPI, err := newJettonAPI(cfg.TonAPIKey)
	if err != nil {
		log.Error("init tonapi-go client", "error", err)
		os.Exit(1)
	}

	lite, err := liteapi.NewClientWithDefaultMainnet()
	if err != nil {
		log.Error("init lite client", "error", err)
		os.Exit(1)
	}

	// Initialize telegram bot
	bot, err := telegram.New(cfg, settings, store, ledger, log)
	if err != nil {
		log.Error("init telegram bot", "error", err)
		os.Exit(1)
	}
	log.Info("telegram bot initialized")

	pay := disburser.New(disburser.NewTonBackend(jettonAPI, lite), store, log.With("component", "disburser"))
	notify := notifier.New(bot, store, ledger, log.With("component", "notifier"))

	rec := reconciler.New(
		store,
		tonapi.NewFeed(tonAPI),
		pay,
		notify,
		settings,
		m,
		log.With("component", "reconciler"),
		reconciler.Options{
			RetryAttempts: cfg.RetryAttempts,
			RetryDelay:    cfg.RetryDelay,
			SendTimeout:   cfg.SendTimeout,
			FeedLimit:     cfg.FeedLimit,
		},
	)

	if err := rec.Recover(); err != nil {
		log.Error("startup recovery", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitored := func() string { return settings.Snapshot().MonitoredWallet }

	// Initialize webhook
	webhookManager := webhook.NewManager(tonAPI, monitored, cfg.WebhookEndpoint, log)
	if cfg.WebhookEndpoint != "" {
		if err := webhookManager.Init(ctx); err != nil {
			log.Error("init webhook", "error", err)
		} else {
			log.Info("webhook initialized", "endpoint", cfg.WebhookEndpoint)
		}
	}

	// Start webhook server
	webhookServer := webhook.NewServer(monitored, rec.Nudge, registry, log)
	go func() {
		if err := webhookServer.Start(ctx, cfg.WebhookPort); err != nil && err != http.ErrServerClosed {
			log.Error("webhook server", "error", err)
		}
	}()

	go webhookManager.SyncLoop(ctx, 30*time.Second)

	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	// Start bot polling
	log.Info("starting bot polling...")
	bot.Start(ctx)

	// let an in-flight tick finish its sends
	<-done
	log.Info("stopped")
}

// newJettonAPI builds the tonapi-go client used for jetton metadata and balances
func newJettonAPI(apiKey string) (*tonapigo.Client, error) {
	return tonapigo.NewClient(tonapigo.TonApiURL, tonapigo.WithToken(apiKey))
}
