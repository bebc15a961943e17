package domain

import "time"

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeStatus is the lifecycle state of a position.
type TradeStatus string

const (
	TradeOpen      TradeStatus = "open"
	TradeClosed    TradeStatus = "closed"
	TradeCancelled TradeStatus = "cancelled"
)

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseStopLoss     CloseReason = "stop_loss"
	CloseTakeProfit   CloseReason = "take_profit"
	CloseTrailingStop CloseReason = "trailing_stop"
	CloseSignal       CloseReason = "signal"
	CloseManual       CloseReason = "manual"
	CloseTimeout      CloseReason = "timeout"
	CloseRiskLimit    CloseReason = "risk_limit"
)

// Trade is one open-to-close position lifecycle tied to an Execution.
// Once closed it is immutable except for corrective Notes.
type Trade struct {
	ID          string
	BotID       string
	ExecutionID string
	Symbol      string
	Side        Side
	Status      TradeStatus

	Quantity   float64
	EntryPrice float64
	ExitPrice  float64

	StopLoss        float64 // absolute price, 0 = none
	TakeProfit      float64 // absolute price, 0 = none
	TrailingStopPct float64 // percent giveback from the high-water mark, 0 = none
	HighWaterMark   float64 // best price seen since entry, drives the trailing stop

	PnL  float64
	Fees float64

	CloseReason CloseReason
	Notes       string

	OpenedAt time.Time
	ClosedAt *time.Time
}

// Notional returns the entry value of the position.
func (t Trade) Notional() float64 {
	return t.Quantity * t.EntryPrice
}

// MarkValue returns the current value of the position at the given price.
// Short positions gain when price falls.
func (t Trade) MarkValue(price float64) float64 {
	if t.Side == SideSell {
		return t.Notional() + (t.EntryPrice-price)*t.Quantity
	}
	return t.Quantity * price
}

// UnrealizedPnL is the mark-to-market profit before fees.
func (t Trade) UnrealizedPnL(price float64) float64 {
	if t.Side == SideSell {
		return (t.EntryPrice - price) * t.Quantity
	}
	return (price - t.EntryPrice) * t.Quantity
}

// Close finalizes the trade at the given price and time, computing PnL
// net of the accumulated fees.
func (t *Trade) Close(price float64, reason CloseReason, at time.Time) {
	t.ExitPrice = price
	t.PnL = t.UnrealizedPnL(price) - t.Fees
	t.Status = TradeClosed
	t.CloseReason = reason
	t.ClosedAt = &at
}
