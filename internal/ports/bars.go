package ports

import (
	"context"
	"time"

	"github.com/quantforge/tradebot/internal/domain"
)

// BarSource provides historical bars for backtesting, ordered by
// timestamp ascending.
type BarSource interface {
	FetchBars(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]domain.Bar, error)
}
