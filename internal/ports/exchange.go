package ports

import (
	"context"
	"time"

	"github.com/quantforge/tradebot/internal/domain"
)

// Market is the exchange-declared metadata for one symbol.
type Market struct {
	Symbol          string
	Active          bool
	PricePrecision  int
	AmountPrecision int
	MinAmount       float64
	MaxAmount       float64
	MinNotional     float64
	MaxNotional     float64 // 0 = unlimited
}

// OrderRequest asks the exchange to create a market order.
type OrderRequest struct {
	Symbol   string
	Side     domain.Side
	Quantity float64
}

// OrderResult is the fill (or rejection) the exchange reports.
type OrderResult struct {
	OrderID   string
	Symbol    string
	Side      domain.Side
	Quantity  float64
	Price     float64
	Fee       float64
	Timestamp time.Time
}

// Exchange is the unified connectivity abstraction the gateway wraps.
// Implementations talk to a real venue or simulate one in-process.
type Exchange interface {
	// ID identifies the exchange for rate limiting. One limiter exists
	// per ID regardless of how many bots trade on it.
	ID() string

	// FetchOHLCV returns up to limit bars for the symbol/timeframe,
	// oldest first, ending at the most recent closed bar.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Bar, error)

	// CreateOrder submits an order and returns the resulting fill.
	CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	// LoadMarkets returns declared metadata for all symbols.
	LoadMarkets(ctx context.Context) (map[string]Market, error)

	// Timeframes lists the bar intervals the exchange supports.
	Timeframes() []string

	// SupportsOHLCV reports whether historical bars can be fetched.
	SupportsOHLCV() bool
}
