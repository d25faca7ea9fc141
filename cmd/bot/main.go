package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"crous_bot/internal/bot"
	"crous_bot/internal/config"
	"crous_bot/internal/fetcher"
	"crous_bot/internal/filter"
	"crous_bot/internal/monitor"
	"crous_bot/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "run a single poll cycle and exit")
	dryRun := flag.Bool("dry-run", false, "mark listings seen without sending notifications")
	debug := flag.Bool("debug", false, "force debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	level := cfg.LogLevel
	if *debug {
		level = "debug"
	}
	log := newLogger(level)

	if dir := filepath.Dir(cfg.StateDBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.StateDBPath)
	if err != nil {
		log.Error("open state database", "path", cfg.StateDBPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	static := filter.Rules{
		MaxPriceEUR: cfg.MaxPriceEUR,
		Keywords:    cfg.IncludeKeywords,
	}

	b, err := bot.New(cfg.TelegramBotToken, store, cfg.TelegramChatID, cfg.AllowedChatIDs, static, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	client := fetcher.New(&http.Client{}, cfg.HTTPTimeout, cfg.HTTPMaxRetries, cfg.UserAgent)

	mon := monitor.New(monitor.Config{
		SearchURLs:        cfg.SearchURLList(),
		StaticRules:       static,
		PollInterval:      cfg.PollInterval,
		PollJitter:        cfg.PollJitter,
		HeartbeatInterval: cfg.HeartbeatInterval,
		AlertThreshold:    cfg.AlertThreshold,
		AlertCooldown:     cfg.AlertCooldown,
	}, client, store, b, b, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		total, fresh, err := mon.PollOnce(ctx, *dryRun)
		if err != nil {
			log.Error("poll failed", "error", err)
			os.Exit(1)
		}
		log.Info("poll finished", "total", total, "new", fresh)
		return
	}

	log.Info("starting monitor", "sources", len(cfg.SearchURLList()), "interval", cfg.PollInterval)
	mon.Run(ctx, *dryRun)
	log.Info("monitor stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
