package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/tradebot/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
engine:
  tick_interval_seconds: 5
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Engine.TickIntervalSeconds)
	assert.Equal(t, 100, cfg.Engine.BarWindowSize)
	assert.Equal(t, 5, cfg.Engine.MaxConsecutiveErrs)
	assert.Equal(t, 3, cfg.Engine.TransientGraceCount)
	assert.Equal(t, 10.0, cfg.Gateway.TokensPerSecond)
	assert.Equal(t, 20, cfg.Gateway.Burst)
	assert.Equal(t, 10000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, 252.0, cfg.Backtest.AnnualizationFactor)
	assert.Equal(t, "tradebot.db", cfg.Storage.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("STORAGE_DSN", ":memory:")

	path := writeFile(t, "config.yaml", "log:\n  level: info\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadStrategy(t *testing.T) {
	path := writeFile(t, "strategy.yaml", `
id: s1
name: rsi dip
symbol: BTC/USDT
timeframe: 1h
max_positions: 3
sizing:
  policy: fixed_percent
  value: 10
stop_loss_percent: 2
take_profit_percent: 5
indicators:
  - name: rsi14
    type: rsi
    params:
      period: 14
entry:
  - logic: AND
    direction: buy
    rules:
      - indicator: rsi14
        operator: lt
        value: 30
exit:
  - logic: OR
    rules:
      - indicator: rsi14
        operator: gt
        value: 70
        weight: 2
`)

	s, err := LoadStrategy(path)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, "rsi dip", s.Name)
	assert.Equal(t, "1h", s.Timeframe)
	assert.Equal(t, domain.SizingFixedPercent, s.Sizing.Policy)
	assert.Equal(t, 10.0, s.Sizing.Value)
	require.Len(t, s.Indicators, 1)
	assert.Equal(t, 14.0, s.Indicators[0].Params["period"])
	require.Len(t, s.Entry, 1)
	assert.Equal(t, domain.SignalBuy, s.Entry[0].Direction)
	assert.Equal(t, domain.OpLT, s.Entry[0].Rules[0].Operator)
	require.Len(t, s.Exit, 1)
	assert.Equal(t, 2.0, s.Exit[0].Rules[0].Weight)
}

func TestLoadStrategyMalformed(t *testing.T) {
	path := writeFile(t, "strategy.yaml", "indicators: {not: [a, list}")
	_, err := LoadStrategy(path)
	assert.Error(t, err)
}
