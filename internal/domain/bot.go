package domain

import "time"

// BotType identifies the trading style a bot runs.
type BotType string

const (
	BotGrid           BotType = "grid"
	BotDCA            BotType = "dca"
	BotScalping       BotType = "scalping"
	BotArbitrage      BotType = "arbitrage"
	BotMarketMaking   BotType = "market_making"
	BotTrendFollowing BotType = "trend_following"
	BotMeanReversion  BotType = "mean_reversion"
	BotMomentum       BotType = "momentum"
	BotBreakout       BotType = "breakout"
)

// BotStatus is the lifecycle state of a bot. The states are mutually
// exclusive and only the engine (single writer per bot) changes them.
type BotStatus string

const (
	StatusStopped BotStatus = "stopped"
	StatusRunning BotStatus = "running"
	StatusPaused  BotStatus = "paused"
	StatusError   BotStatus = "error"
)

// StopReason is the machine-readable reason an execution ended.
type StopReason string

const (
	StopManual         StopReason = "manual"
	StopError          StopReason = "error"
	StopMaxDrawdown    StopReason = "max_drawdown"
	StopDailyLossLimit StopReason = "daily_loss_limit"
	StopRestart        StopReason = "restart"
	StopShutdown       StopReason = "shutdown"
)

// ExecutionWindow constrains when a running bot is allowed to trade.
// StartTime/EndTime are "HH:MM" in UTC; an empty pair means always.
// A window wrapping midnight ("22:00" → "04:00") is valid.
type ExecutionWindow struct {
	StartTime       string
	EndTime         string
	TradeOnWeekends bool
	TradeOnHolidays bool
	Holidays        []time.Time // dates (midnight UTC) considered holidays
	CooldownMinutes int
	MaxDailyTrades  int
}

// RiskLimits are the per-bot protective limits.
type RiskLimits struct {
	MaxDrawdown       float64 // percent decline from peak capital that forces a stop
	DailyLossLimit    float64 // percent of day-start capital lost in one UTC day that forces a stop
	StopLossPercent   float64
	TakeProfitPercent float64
	MaxPositions      int
}

// BotMetrics are the running performance aggregates, recomputed
// incrementally after every closed trade.
type BotMetrics struct {
	TotalTrades       int
	WinningTrades     int
	LosingTrades      int
	WinRate           float64 // percent of closed trades won
	ProfitFactor      float64
	SharpeRatio       float64
	SortinoRatio      float64
	GrossProfit       float64
	GrossLoss         float64
	TotalProfit       float64
	TotalFees         float64
	PeakCapital       float64
	CurrentDrawdown   float64 // percent below peak capital
	MaxDrawdownSeen   float64
	ConsecutiveErrors int
}

// Bot is one configured trading bot. The entity has no terminal state:
// a stopped or errored bot can be started again.
type Bot struct {
	ID       string
	UserID   string
	Name     string
	Type     BotType
	Status   BotStatus
	Exchange string
	Symbol   string

	AllocatedCapital float64
	CurrentCapital   float64

	Risk   RiskLimits
	Window ExecutionWindow

	Enabled            bool
	AutoRestart        bool
	AutoStopOnDrawdown bool
	AutoStopOnLoss     bool

	Strategy Strategy
	Metrics  BotMetrics

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecordTrade folds a closed trade into the running aggregates.
// Capital must already reflect the trade's PnL.
func (m *BotMetrics) RecordTrade(pnl, fees, capital float64) {
	m.TotalTrades++
	m.TotalProfit += pnl
	m.TotalFees += fees
	if pnl > 0 {
		m.WinningTrades++
		m.GrossProfit += pnl
	} else if pnl < 0 {
		m.LosingTrades++
		m.GrossLoss += -pnl
	}
	m.WinRate = WinRate(m.WinningTrades, m.TotalTrades)
	m.ProfitFactor = ProfitFactor(m.GrossProfit, m.GrossLoss)
	m.UpdateCapital(capital)
}

// UpdateCapital refreshes peak capital and drawdown from the current
// capital, including mark-to-market moves with no closed trade.
func (m *BotMetrics) UpdateCapital(capital float64) {
	if capital > m.PeakCapital {
		m.PeakCapital = capital
	}
	if m.PeakCapital > 0 {
		m.CurrentDrawdown = (m.PeakCapital - capital) / m.PeakCapital * 100
	}
	if m.CurrentDrawdown > m.MaxDrawdownSeen {
		m.MaxDrawdownSeen = m.CurrentDrawdown
	}
}
