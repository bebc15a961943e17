package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/tradebot/internal/adapters/notify"
	"github.com/quantforge/tradebot/internal/domain"
)

func sampleResult() domain.BacktestResult {
	closed := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	return domain.BacktestResult{
		ID:             "bt-test",
		StrategyID:     "s1",
		InitialCapital: 10000,
		FinalCapital:   10350,
		Trades: []domain.Trade{{
			ID: "bt-0001", Symbol: "BTC/USDT", Side: domain.SideBuy,
			Status: domain.TradeClosed, Quantity: 0.1,
			EntryPrice: 60000, ExitPrice: 63500,
			PnL: 350, Fees: 12.35,
			CloseReason: domain.CloseTakeProfit,
			OpenedAt:    closed.Add(-6 * time.Hour), ClosedAt: &closed,
		}},
		Stats: domain.BacktestStats{
			TotalTrades: 1, WinningTrades: 1,
			WinRate: domain.WinRate(1, 1), ProfitFactor: 0,
			SharpeRatio: 1.42, MaxDrawdown: 2.5,
			TotalFees: 12.35, NetProfit: 350,
		},
	}
}

func TestConsole_NotifyBacktest(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	require.NoError(t, n.NotifyBacktest(context.Background(), sampleResult()))

	out := buf.String()
	assert.Contains(t, out, "BACKTEST bt-test")
	assert.Contains(t, out, "10000.00 -> 10350.00")
	assert.Contains(t, out, "100.0%")
	assert.NotContains(t, out, "take_profit", "trades are only listed in verbose mode")
}

func TestConsole_NotifyBacktest_Verbose(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	require.NoError(t, n.NotifyBacktest(context.Background(), sampleResult()))

	out := buf.String()
	assert.Contains(t, out, "take_profit")
	assert.Contains(t, out, "60000.0000")
}

func TestConsole_NotifyBots(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	bots := []domain.Bot{{
		Name: "dip buyer", Type: domain.BotMeanReversion,
		Status: domain.StatusRunning, Symbol: "ETH/USDT",
		AllocatedCapital: 5000, CurrentCapital: 5210,
		Metrics: domain.BotMetrics{TotalTrades: 12, WinRate: domain.WinRate(7, 12), CurrentDrawdown: 1.2},
	}}

	require.NoError(t, n.NotifyBots(context.Background(), bots))

	out := buf.String()
	assert.Contains(t, out, "dip buyer")
	assert.Contains(t, out, "RUNNING")
	assert.Contains(t, out, "58.3%")
}

func TestConsole_NotifyBots_Empty(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	require.NoError(t, n.NotifyBots(context.Background(), nil))
	assert.Contains(t, buf.String(), "no bots configured")
}
