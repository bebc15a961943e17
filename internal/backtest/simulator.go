// Package backtest replays a strategy against historical bars with an
// in-process fill model: no exchange, no clock, no randomness. Identical
// inputs always produce identical results.
package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/quantforge/tradebot/internal/domain"
	"github.com/quantforge/tradebot/internal/evaluator"
	"github.com/quantforge/tradebot/internal/indicator"
)

// Config tunes the simulation.
type Config struct {
	InitialCapital float64
	FeeRate        float64 // fraction of notional charged on entry and exit
	Slippage       float64 // fraction the fill price moves against the trade

	// AnnualizationFactor scales Sharpe/Sortino. Per-trade returns are
	// treated as daily samples, so the default is 252 trading days; the
	// constant is a policy choice, not derived, and can be overridden
	// per run.
	AnnualizationFactor float64

	// WindowSize is how many bars the evaluator sees, ending at the
	// current bar. It never includes future bars.
	WindowSize int
}

func (c Config) withDefaults() Config {
	if c.InitialCapital <= 0 {
		c.InitialCapital = 10000
	}
	if c.AnnualizationFactor <= 0 {
		c.AnnualizationFactor = 252
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 50
	}
	return c
}

// Run simulates the strategy over the bars, oldest first. It fails
// synchronously on a malformed strategy or missing historical data;
// partial results are never returned alongside an error.
func Run(strategy domain.Strategy, bars []domain.Bar, cfg Config) (domain.BacktestResult, error) {
	cfg = cfg.withDefaults()

	if err := strategy.Validate(); err != nil {
		return domain.BacktestResult{}, fmt.Errorf("backtest.Run: %w", err)
	}
	for _, ind := range strategy.Indicators {
		if !indicator.Supported(ind.Type) {
			return domain.BacktestResult{}, fmt.Errorf("backtest.Run: %w",
				&domain.ValidationError{Field: "indicator", Reason: "unknown type " + ind.Type})
		}
	}
	if len(bars) == 0 {
		return domain.BacktestResult{}, errors.New("backtest.Run: no historical data for the requested range")
	}

	sim := &simulation{
		strategy: strategy,
		cfg:      cfg,
		cash:     cfg.InitialCapital,
	}

	for i := range bars {
		bar := bars[i]

		// Protective exits fire on intra-bar extremes before any new
		// signal is considered.
		sim.checkStops(bar)

		lo := i + 1 - cfg.WindowSize
		if lo < 0 {
			lo = 0
		}
		sig, err := evaluator.Evaluate(strategy, bars[lo:i+1])
		if err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				return domain.BacktestResult{}, fmt.Errorf("backtest.Run: %w", err)
			}
			// Not enough bars for the indicators yet: warm-up, no signal.
			sig = domain.None()
		}

		if sig.Active() {
			if sig.Exit {
				sim.closeAll(bar, domain.CloseSignal)
			} else {
				sim.openPosition(bar, sig)
			}
		}

		sim.recordEquity(bar)
	}

	// Whatever is still open is force-closed at the last close.
	last := bars[len(bars)-1]
	sim.forceClose(last)

	return sim.result(strategy, cfg), nil
}

// simulation is the mutable state of one run.
type simulation struct {
	strategy domain.Strategy
	cfg      Config

	cash   float64
	open   []*domain.Trade
	closed []domain.Trade
	equity []domain.EquityPoint
	seq    int
}

// openPosition sizes and opens a position if capacity and capital allow.
func (s *simulation) openPosition(bar domain.Bar, sig domain.Signal) {
	if len(s.open) >= s.strategy.MaxPositions {
		return
	}
	notional := s.strategy.PositionSize(s.cash, sig)
	if notional <= 0 {
		return
	}
	fee := notional * s.cfg.FeeRate
	if notional+fee > s.cash {
		notional = s.cash / (1 + s.cfg.FeeRate)
		fee = notional * s.cfg.FeeRate
	}
	if notional <= 0 {
		return
	}

	side := domain.SideBuy
	if sig.Type == domain.SignalSell {
		side = domain.SideSell
	}
	entry := fillPrice(bar.Close, side, s.cfg.Slippage)

	s.seq++
	trade := &domain.Trade{
		ID:            fmt.Sprintf("bt-%04d", s.seq),
		Symbol:        s.strategy.Symbol,
		Side:          side,
		Status:        domain.TradeOpen,
		Quantity:      notional / entry,
		EntryPrice:    entry,
		Fees:          fee,
		HighWaterMark: entry,
		OpenedAt:      bar.Timestamp,
	}
	setStops(trade, s.strategy)

	s.cash -= notional + fee
	s.open = append(s.open, trade)
}

// checkStops closes any open position whose stop-loss, take-profit or
// trailing stop was breached by the bar's range, at the breach price
// adjusted by slippage. Stop-loss wins over take-profit when a single
// bar spans both.
func (s *simulation) checkStops(bar domain.Bar) {
	remaining := s.open[:0]
	for _, t := range s.open {
		updateHighWaterMark(t, bar)

		price, reason, hit := stopBreach(t, bar)
		if !hit {
			remaining = append(remaining, t)
			continue
		}
		s.closeAt(t, exitFillPrice(price, t.Side, s.cfg.Slippage), reason, bar.Timestamp)
	}
	s.open = remaining
}

// closeAll closes every open position at the bar close.
func (s *simulation) closeAll(bar domain.Bar, reason domain.CloseReason) {
	for _, t := range s.open {
		s.closeAt(t, exitFillPrice(bar.Close, t.Side, s.cfg.Slippage), reason, bar.Timestamp)
	}
	s.open = s.open[:0]
}

// forceClose liquidates remaining positions at the last close with
// reason timeout. No slippage: this is a mark, not a simulated fill.
func (s *simulation) forceClose(last domain.Bar) {
	for _, t := range s.open {
		s.closeAt(t, last.Close, domain.CloseTimeout, last.Timestamp)
	}
	s.open = s.open[:0]
}

// closeAt settles one position: exit fee, PnL, cash.
func (s *simulation) closeAt(t *domain.Trade, price float64, reason domain.CloseReason, at time.Time) {
	exitFee := t.Quantity * price * s.cfg.FeeRate
	t.Fees += exitFee
	t.Close(price, reason, at)
	s.cash += t.MarkValue(price) - exitFee
	s.closed = append(s.closed, *t)
}

// recordEquity samples cash plus mark-to-market value at the bar close.
func (s *simulation) recordEquity(bar domain.Bar) {
	equity := s.cash
	for _, t := range s.open {
		equity += t.MarkValue(bar.Close)
	}
	s.equity = append(s.equity, domain.EquityPoint{Timestamp: bar.Timestamp, Equity: equity})
}

func (s *simulation) result(strategy domain.Strategy, cfg Config) domain.BacktestResult {
	stats := deriveStats(s.closed, s.equity, cfg.AnnualizationFactor)
	return domain.BacktestResult{
		StrategyID:     strategy.ID,
		InitialCapital: cfg.InitialCapital,
		FinalCapital:   s.cash,
		Trades:         s.closed,
		EquityCurve:    s.equity,
		Stats:          stats,
	}
}

// deriveStats computes the performance statistics from closed trades
// and the equity curve.
func deriveStats(trades []domain.Trade, equity []domain.EquityPoint, annualization float64) domain.BacktestStats {
	var stats domain.BacktestStats
	var grossProfit, grossLoss float64
	returns := make([]float64, 0, len(trades))

	for _, t := range trades {
		stats.TotalTrades++
		stats.TotalFees += t.Fees
		stats.NetProfit += t.PnL
		if t.PnL > 0 {
			stats.WinningTrades++
			grossProfit += t.PnL
		} else if t.PnL < 0 {
			stats.LosingTrades++
			grossLoss += -t.PnL
		}
		if n := t.Notional(); n > 0 {
			returns = append(returns, t.PnL/n)
		}
	}

	stats.WinRate = domain.WinRate(stats.WinningTrades, stats.TotalTrades)
	stats.ProfitFactor = domain.ProfitFactor(grossProfit, grossLoss)
	stats.SharpeRatio = domain.Sharpe(returns, annualization)
	stats.SortinoRatio = domain.Sortino(returns, annualization)

	curve := make([]float64, len(equity))
	for i, p := range equity {
		curve[i] = p.Equity
	}
	stats.MaxDrawdown = domain.MaxDrawdown(curve)
	return stats
}

// fillPrice applies slippage against a new position.
func fillPrice(price float64, side domain.Side, slippage float64) float64 {
	if side == domain.SideSell {
		return price * (1 - slippage)
	}
	return price * (1 + slippage)
}

// exitFillPrice applies slippage against a closing position.
func exitFillPrice(price float64, side domain.Side, slippage float64) float64 {
	if side == domain.SideSell {
		return price * (1 + slippage)
	}
	return price * (1 - slippage)
}

// setStops derives absolute stop levels from the strategy percentages
// at entry time.
func setStops(t *domain.Trade, strategy domain.Strategy) {
	if strategy.StopLossPercent > 0 {
		if t.Side == domain.SideBuy {
			t.StopLoss = t.EntryPrice * (1 - strategy.StopLossPercent/100)
		} else {
			t.StopLoss = t.EntryPrice * (1 + strategy.StopLossPercent/100)
		}
	}
	if strategy.TakeProfitPercent > 0 {
		if t.Side == domain.SideBuy {
			t.TakeProfit = t.EntryPrice * (1 + strategy.TakeProfitPercent/100)
		} else {
			t.TakeProfit = t.EntryPrice * (1 - strategy.TakeProfitPercent/100)
		}
	}
	t.TrailingStopPct = strategy.TrailingStopPercent
}

// updateHighWaterMark advances the best price seen for trailing stops.
func updateHighWaterMark(t *domain.Trade, bar domain.Bar) {
	if t.Side == domain.SideBuy {
		if bar.High > t.HighWaterMark {
			t.HighWaterMark = bar.High
		}
	} else {
		if t.HighWaterMark == 0 || bar.Low < t.HighWaterMark {
			t.HighWaterMark = bar.Low
		}
	}
}

// stopBreach reports the first protective level the bar breached.
func stopBreach(t *domain.Trade, bar domain.Bar) (price float64, reason domain.CloseReason, hit bool) {
	if t.Side == domain.SideBuy {
		if t.StopLoss > 0 && bar.Low <= t.StopLoss {
			return t.StopLoss, domain.CloseStopLoss, true
		}
		if t.TrailingStopPct > 0 {
			level := t.HighWaterMark * (1 - t.TrailingStopPct/100)
			if level > 0 && bar.Low <= level {
				return level, domain.CloseTrailingStop, true
			}
		}
		if t.TakeProfit > 0 && bar.High >= t.TakeProfit {
			return t.TakeProfit, domain.CloseTakeProfit, true
		}
		return 0, "", false
	}

	if t.StopLoss > 0 && bar.High >= t.StopLoss {
		return t.StopLoss, domain.CloseStopLoss, true
	}
	if t.TrailingStopPct > 0 {
		level := t.HighWaterMark * (1 + t.TrailingStopPct/100)
		if bar.High >= level {
			return level, domain.CloseTrailingStop, true
		}
	}
	if t.TakeProfit > 0 && bar.Low <= t.TakeProfit {
		return t.TakeProfit, domain.CloseTakeProfit, true
	}
	return 0, "", false
}
