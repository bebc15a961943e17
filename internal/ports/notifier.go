package ports

import (
	"context"

	"github.com/quantforge/tradebot/internal/domain"
)

// Notifier surfaces results to an operator (console, webhook, ...).
type Notifier interface {
	NotifyBacktest(ctx context.Context, result domain.BacktestResult) error
	NotifyBots(ctx context.Context, bots []domain.Bot) error
}
