package ports

import (
	"context"
	"time"

	"github.com/quantforge/tradebot/internal/domain"
)

// LogEntry is one execution log line persisted by the engine.
type LogEntry struct {
	BotID       string
	ExecutionID string
	Level       string
	Message     string
	At          time.Time
}

// Store is the durable record of bots, executions, trades and logs.
// Appends are at-least-once; bot aggregate updates must be re-derivable
// by replaying trades if a write is lost.
type Store interface {
	SaveBot(ctx context.Context, bot domain.Bot) error
	GetBot(ctx context.Context, id string) (domain.Bot, error)
	UpdateBotStatus(ctx context.Context, id string, status domain.BotStatus) error
	UpdateBotAggregates(ctx context.Context, id string, capital float64, metrics domain.BotMetrics) error
	ListBots(ctx context.Context) ([]domain.Bot, error)

	CreateExecution(ctx context.Context, exec domain.Execution) error
	UpdateExecution(ctx context.Context, exec domain.Execution) error
	LastExecutionNumber(ctx context.Context, botID string) (int, error)

	InsertTrade(ctx context.Context, trade domain.Trade) error
	UpdateTrade(ctx context.Context, trade domain.Trade) error
	TradesByExecution(ctx context.Context, executionID string) ([]domain.Trade, error)
	TradesByBot(ctx context.Context, botID string, from, to time.Time) ([]domain.Trade, error)

	AppendLog(ctx context.Context, entry LogEntry) error

	SaveBacktestRun(ctx context.Context, result domain.BacktestResult) error

	Close() error
}
