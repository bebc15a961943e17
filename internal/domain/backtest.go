package domain

import "time"

// EquityPoint is one sample of the equity curve: cash plus the
// mark-to-market value of open positions at a bar close.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// BacktestStats are the statistics derived from a finished simulation.
type BacktestStats struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // percent of closed trades won
	ProfitFactor  float64
	SharpeRatio   float64
	SortinoRatio  float64
	MaxDrawdown   float64 // percent, largest peak-to-trough equity decline
	TotalFees     float64
	NetProfit     float64
}

// BacktestResult is the immutable outcome of one backtest run.
type BacktestResult struct {
	ID             string
	StrategyID     string
	InitialCapital float64
	FinalCapital   float64
	Trades         []Trade
	EquityCurve    []EquityPoint
	Stats          BacktestStats
}
