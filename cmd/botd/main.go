// Command botd runs the bot daemon: it loads every configured bot from
// storage, starts the enabled ones and trades until interrupted.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantforge/tradebot/config"
	"github.com/quantforge/tradebot/internal/adapters/bars"
	"github.com/quantforge/tradebot/internal/adapters/exchange"
	"github.com/quantforge/tradebot/internal/adapters/notify"
	"github.com/quantforge/tradebot/internal/adapters/storage"
	"github.com/quantforge/tradebot/internal/domain"
	"github.com/quantforge/tradebot/internal/engine"
	"github.com/quantforge/tradebot/internal/gateway"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	dataDir := flag.String("data", "data", "directory with <SYMBOL>-<timeframe>.csv candle files")
	feeRate := flag.Float64("fee", 0.001, "paper exchange fee rate")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	statusEvery := flag.Duration("status", time.Minute, "interval between bot status tables")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("botd starting",
		"config", *configPath,
		"tick", cfg.TickInterval(),
		"dsn", cfg.Storage.DSN,
	)

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bots, err := store.ListBots(ctx)
	if err != nil {
		slog.Error("failed to list bots", "err", err)
		os.Exit(1)
	}
	if len(bots) == 0 {
		slog.Warn("no bots configured, nothing to run")
		return
	}

	gw := gateway.New(gateway.Config{
		TokensPerSecond: cfg.Gateway.TokensPerSecond,
		Burst:           cfg.Gateway.Burst,
	})

	// One paper exchange per distinct exchange id, all fed from the
	// candle directory.
	source := bars.NewCSVSource(*dataDir)
	papers := make(map[string]*exchange.Paper)
	for _, bot := range bots {
		paper, ok := papers[bot.Exchange]
		if !ok {
			paper = exchange.NewPaper(bot.Exchange, *feeRate, source)
			papers[bot.Exchange] = paper
			gw.Register(paper)
		}
		if err := paper.Load(ctx, bot.Symbol, bot.Strategy.Timeframe, time.Time{}, time.Time{}, cfg.Engine.BarWindowSize); err != nil {
			slog.Error("failed to load history", "bot", bot.ID, "symbol", bot.Symbol, "err", err)
			os.Exit(1)
		}
	}

	eng := engine.New(engine.Config{
		TickInterval:         cfg.TickInterval(),
		BarWindowSize:        cfg.Engine.BarWindowSize,
		MaxConsecutiveErrors: cfg.Engine.MaxConsecutiveErrs,
		TransientGraceCount:  cfg.Engine.TransientGraceCount,
	}, gw, store)

	started := 0
	for _, bot := range bots {
		eng.AddBot(bot)
		if !bot.Enabled {
			slog.Info("bot disabled, skipping", "bot", bot.ID, "name", bot.Name)
			continue
		}
		if err := eng.StartBot(ctx, bot.ID); err != nil {
			slog.Error("failed to start bot", "bot", bot.ID, "err", err)
			continue
		}
		started++
	}
	slog.Info("bots started", "running", started, "total", len(bots))

	notifier := notify.NewConsole(*verbose)
	ticker := time.NewTicker(*statusEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			eng.Shutdown(context.Background())
			printStatus(eng, notifier, bots)
			slog.Info("botd stopped cleanly")
			return
		case <-ticker.C:
			printStatus(eng, notifier, bots)
		}
	}
}

func printStatus(eng *engine.Engine, notifier *notify.Console, bots []domain.Bot) {
	current := make([]domain.Bot, 0, len(bots))
	for _, bot := range bots {
		if b, err := eng.GetBot(bot.ID); err == nil {
			current = append(current, b)
		}
	}
	if err := notifier.NotifyBots(context.Background(), current); err != nil {
		slog.Warn("notifier error", "err", err)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
