// Package notify renders results for an operator.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/quantforge/tradebot/internal/domain"
)

// Console implements ports.Notifier writing human-readable tables.
type Console struct {
	out     io.Writer
	verbose bool
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole(verbose bool) *Console {
	return &Console{out: os.Stdout, verbose: verbose}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer, verbose bool) *Console {
	return &Console{out: w, verbose: verbose}
}

// NotifyBacktest prints the backtest report: a stats summary and, in
// verbose mode, every simulated trade.
func (c *Console) NotifyBacktest(_ context.Context, result domain.BacktestResult) error {
	stats := result.Stats

	fmt.Fprintf(c.out, "\n=== BACKTEST %s ===\n", result.ID)
	fmt.Fprintf(c.out, "capital %.2f -> %.2f (net %+.2f, fees %.2f)\n",
		result.InitialCapital, result.FinalCapital, stats.NetProfit, stats.TotalFees)

	table := tablewriter.NewWriter(c.out)
	table.Header("Trades", "Win", "Loss", "Win rate", "Profit factor", "Sharpe", "Sortino", "Max DD")
	table.Append(
		fmt.Sprintf("%d", stats.TotalTrades),
		fmt.Sprintf("%d", stats.WinningTrades),
		fmt.Sprintf("%d", stats.LosingTrades),
		fmt.Sprintf("%.1f%%", stats.WinRate),
		fmt.Sprintf("%.2f", stats.ProfitFactor),
		fmt.Sprintf("%.2f", stats.SharpeRatio),
		fmt.Sprintf("%.2f", stats.SortinoRatio),
		fmt.Sprintf("%.2f%%", stats.MaxDrawdown),
	)
	table.Render()

	if c.verbose && len(result.Trades) > 0 {
		c.printTrades(result.Trades)
	}
	return nil
}

// printTrades lists every simulated trade.
func (c *Console) printTrades(trades []domain.Trade) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Side", "Qty", "Entry", "Exit", "PnL", "Fees", "Reason", "Opened")

	for i, t := range trades {
		table.Append(
			fmt.Sprintf("%d", i+1),
			string(t.Side),
			fmt.Sprintf("%.6f", t.Quantity),
			fmt.Sprintf("%.4f", t.EntryPrice),
			fmt.Sprintf("%.4f", t.ExitPrice),
			fmt.Sprintf("%+.4f", t.PnL),
			fmt.Sprintf("%.4f", t.Fees),
			string(t.CloseReason),
			t.OpenedAt.Format("2006-01-02 15:04"),
		)
	}

	table.Render()
}

// NotifyBots prints one status row per bot.
func (c *Console) NotifyBots(_ context.Context, bots []domain.Bot) error {
	now := time.Now().Format("15:04:05")
	if len(bots) == 0 {
		fmt.Fprintf(c.out, "[%s] no bots configured\n", now)
		return nil
	}

	fmt.Fprintf(c.out, "\n[%s] %d bots\n", now, len(bots))

	table := tablewriter.NewWriter(c.out)
	table.Header("Bot", "Type", "Status", "Symbol", "Capital", "Trades", "Win rate", "Drawdown", "Errors")

	for _, bot := range bots {
		table.Append(
			bot.Name,
			string(bot.Type),
			statusLabel(bot.Status),
			bot.Symbol,
			fmt.Sprintf("%.2f / %.2f", bot.CurrentCapital, bot.AllocatedCapital),
			fmt.Sprintf("%d", bot.Metrics.TotalTrades),
			fmt.Sprintf("%.1f%%", bot.Metrics.WinRate),
			fmt.Sprintf("%.2f%%", bot.Metrics.CurrentDrawdown),
			fmt.Sprintf("%d", bot.Metrics.ConsecutiveErrors),
		)
	}

	table.Render()
	return nil
}

func statusLabel(s domain.BotStatus) string {
	switch s {
	case domain.StatusRunning:
		return "RUNNING"
	case domain.StatusPaused:
		return "PAUSED"
	case domain.StatusError:
		return "ERROR"
	default:
		return "STOPPED"
	}
}
