package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration for the bot daemon and backtest CLI.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Backtest BacktestConfig `yaml:"backtest"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// EngineConfig controls the bot lifecycle engine.
type EngineConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"` // scheduling tick per running bot
	BarWindowSize       int `yaml:"bar_window_size"`       // bars fetched per tick for evaluation
	MaxConsecutiveErrs  int `yaml:"max_consecutive_errors"`
	TransientGraceCount int `yaml:"transient_grace_count"` // transient errors tolerated before counting
}

// GatewayConfig controls exchange rate limiting.
type GatewayConfig struct {
	TokensPerSecond float64 `yaml:"tokens_per_second"`
	Burst           int     `yaml:"burst"`
}

// BacktestConfig holds simulator defaults.
type BacktestConfig struct {
	InitialCapital      float64 `yaml:"initial_capital"`
	FeeRate             float64 `yaml:"fee_rate"`
	Slippage            float64 `yaml:"slippage"`
	AnnualizationFactor float64 `yaml:"annualization_factor"` // samples per year for Sharpe/Sortino
	WindowSize          int     `yaml:"window_size"`
}

// StorageConfig controls where state is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // path to the SQLite file, or ":memory:"
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config file and the .env file if present.
// Environment variables override the YAML values for the keys they cover.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// TickInterval returns the engine scheduling tick as a time.Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Engine.TickIntervalSeconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Engine.TickIntervalSeconds <= 0 {
		cfg.Engine.TickIntervalSeconds = 30
	}
	if cfg.Engine.BarWindowSize <= 0 {
		cfg.Engine.BarWindowSize = 100
	}
	if cfg.Engine.MaxConsecutiveErrs <= 0 {
		cfg.Engine.MaxConsecutiveErrs = 5
	}
	if cfg.Engine.TransientGraceCount <= 0 {
		cfg.Engine.TransientGraceCount = 3
	}
	if cfg.Gateway.TokensPerSecond <= 0 {
		cfg.Gateway.TokensPerSecond = 10
	}
	if cfg.Gateway.Burst <= 0 {
		cfg.Gateway.Burst = 20
	}
	if cfg.Backtest.InitialCapital <= 0 {
		cfg.Backtest.InitialCapital = 10000
	}
	if cfg.Backtest.FeeRate <= 0 {
		cfg.Backtest.FeeRate = 0.001
	}
	if cfg.Backtest.Slippage < 0 {
		cfg.Backtest.Slippage = 0
	}
	if cfg.Backtest.AnnualizationFactor <= 0 {
		cfg.Backtest.AnnualizationFactor = 252
	}
	if cfg.Backtest.WindowSize <= 0 {
		cfg.Backtest.WindowSize = 50
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "tradebot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
