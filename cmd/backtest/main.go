// Command backtest replays a strategy over historical candles and prints
// the resulting performance report.
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
	"github.com/quantforge/tradebot/internal/adapters/notify"
	"github.com/quantforge/tradebot/internal/adapters/storage"
	"github.com/quantforge/tradebot/internal/backtest"
	"github.com/quantforge/tradebot/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	strategyPath := flag.String("strategy", "", "path to the strategy YAML file (required)")
	dataDir := flag.String("data", "data", "directory with <SYMBOL>-<timeframe>.csv candle files")
	fromStr := flag.String("from", "", "range start, YYYY-MM-DD (default: beginning of data)")
	toStr := flag.String("to", "", "range end, YYYY-MM-DD (default: end of data)")
	capital := flag.Float64("capital", 0, "initial capital (overrides config)")
	verbose := flag.Bool("verbose", false, "print the per-trade table")
	noSave := flag.Bool("no-save", false, "do not persist the run to storage")
	flag.Parse()

	if *strategyPath == "" {
		slog.Error("missing required flag -strategy")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	setupLogger(cfg.Log, *verbose)

	strategy, err := config.LoadStrategy(*strategyPath)
	if err != nil {
		slog.Error("failed to load strategy", "err", err, "path", *strategyPath)
		os.Exit(1)
	}

	from, err := parseDate(*fromStr)
	if err != nil {
		slog.Error("invalid -from date", "err", err)
		os.Exit(1)
	}
	to, err := parseDate(*toStr)
	if err != nil {
		slog.Error("invalid -to date", "err", err)
		os.Exit(1)
	}

	runCfg := backtest.Config{
		InitialCapital:      cfg.Backtest.InitialCapital,
		FeeRate:             cfg.Backtest.FeeRate,
		Slippage:            cfg.Backtest.Slippage,
		AnnualizationFactor: cfg.Backtest.AnnualizationFactor,
		WindowSize:          cfg.Backtest.WindowSize,
	}
	if *capital > 0 {
		runCfg.InitialCapital = *capital
	}

	var store ports.Store
	if !*noSave {
		s, err := storage.NewSQLiteStore(cfg.Storage.DSN)
		if err != nil {
			slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
			os.Exit(1)
		}
		defer s.Close()
		store = s
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("running backtest",
		"strategy", strategy.Name,
		"symbol", strategy.Symbol,
		"timeframe", strategy.Timeframe,
		"capital", runCfg.InitialCapital,
	)

	runner := backtest.NewRunner(store)
	id := runner.SubmitRange(ctx, strategy, bars.NewCSVSource(*dataDir), from, to, runCfg)
	runner.Wait()

	job, ok := runner.Get(id)
	if !ok || job.Status == backtest.JobFailed {
		slog.Error("backtest failed", "job", id, "err", job.ErrorMessage)
		os.Exit(1)
	}

	notifier := notify.NewConsole(*verbose)
	if err := notifier.NotifyBacktest(ctx, *job.Result); err != nil {
		slog.Error("failed to print report", "err", err)
		os.Exit(1)
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func setupLogger(cfg config.LogConfig, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
