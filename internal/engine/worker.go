package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantforge/tradebot/internal/domain"
	"github.com/quantforge/tradebot/internal/evaluator"
	"github.com/quantforge/tradebot/internal/gateway"
	"github.com/quantforge/tradebot/internal/ports"
)

// runWorker is the per-bot loop. It owns the tick schedule and performs
// the execution finalization once the context is cancelled, whether the
// cancel came from StopBot or from a risk stop inside a tick.
func (e *Engine) runWorker(ctx context.Context, r *botRunner) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			e.finalize(context.Background(), r)
			botID := r.bot.ID
			restart := r.restartable && r.bot.AutoRestart
			r.restartable = false
			done := r.done
			r.done = nil
			r.mu.Unlock()
			close(done)
			if restart {
				go e.autoRestart(botID)
			}
			return
		case <-ticker.C:
			e.tick(ctx, r)
		}
	}
}

// tick is one scheduling cycle. Risk checks run before any signal work
// so a breached limit stops the bot before the next trade attempt.
func (e *Engine) tick(ctx context.Context, r *botRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bot.Status != domain.StatusRunning {
		return
	}

	now := e.now().UTC()
	e.rollDay(r, now)

	// Mark open positions to the last observed price. Drawdown has to
	// reflect unrealized losses, not only closed trades.
	mark := r.bot.CurrentCapital
	if r.lastClose > 0 {
		for _, t := range r.open {
			mark += t.UnrealizedPnL(r.lastClose)
		}
	}
	r.bot.Metrics.UpdateCapital(mark)

	if r.bot.AutoStopOnDrawdown && r.bot.Risk.MaxDrawdown > 0 &&
		r.bot.Metrics.CurrentDrawdown >= r.bot.Risk.MaxDrawdown {
		e.stopFromTick(r, domain.StopMaxDrawdown,
			fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%", r.bot.Metrics.CurrentDrawdown, r.bot.Risk.MaxDrawdown))
		return
	}
	if r.bot.AutoStopOnLoss && r.bot.Risk.DailyLossLimit > 0 && r.dayStartCapital > 0 {
		loss := (r.dayStartCapital - mark) / r.dayStartCapital * 100
		if loss >= r.bot.Risk.DailyLossLimit {
			e.stopFromTick(r, domain.StopDailyLossLimit,
				fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", loss, r.bot.Risk.DailyLossLimit))
			return
		}
	}

	if ok, why := windowAllows(r.bot.Window, now, r.lastTradeAt, r.tradesToday); !ok {
		slog.Debug("tick skipped", "bot", r.bot.ID, "reason", why)
		return
	}

	bars, err := e.gw.FetchOHLCV(ctx, r.bot.Exchange, r.bot.Symbol, r.bot.Strategy.Timeframe, e.cfg.BarWindowSize)
	if err != nil {
		e.handleTickError(ctx, r, err)
		return
	}
	if len(bars) == 0 {
		return
	}
	last := bars[len(bars)-1]
	r.lastClose = last.Close

	// Protective stops fire on the observed price before strategy logic
	// gets a say.
	e.closeBreached(ctx, r, last.Close, now)

	sig, err := evaluator.Evaluate(r.bot.Strategy, bars)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			e.stopFromTick(r, domain.StopError, "strategy validation failed: "+verr.Error())
			return
		}
		// Not enough bars yet. The window grows on its own.
		return
	}
	r.transientErrs = 0
	r.bot.Metrics.ConsecutiveErrors = 0

	if !sig.Active() {
		return
	}
	if sig.Exit {
		e.closeAll(ctx, r, domain.CloseSignal, now)
		return
	}
	e.openPosition(ctx, r, sig, last.Close, now)
}

// rollDay resets the per-day counters on the first tick of a new UTC day.
func (e *Engine) rollDay(r *botRunner, now time.Time) {
	key := now.Format("2006-01-02")
	if key == r.dayKey {
		return
	}
	r.dayKey = key
	r.tradesToday = 0
	r.dayStartCapital = r.bot.CurrentCapital
}

// openPosition sizes, submits and records one entry order. The order is
// submitted at most once; a failed submit is handled as a tick error and
// never retried within the tick.
func (e *Engine) openPosition(ctx context.Context, r *botRunner, sig domain.Signal, price float64, now time.Time) {
	maxPos := r.bot.Strategy.MaxPositions
	if r.bot.Risk.MaxPositions > 0 && r.bot.Risk.MaxPositions < maxPos {
		maxPos = r.bot.Risk.MaxPositions
	}
	if maxPos > 0 && len(r.open) >= maxPos {
		return
	}

	committed := 0.0
	for _, t := range r.open {
		committed += t.Notional()
	}
	available := r.bot.CurrentCapital - committed
	notional := r.bot.Strategy.PositionSize(available, sig)
	if notional <= 0 || price <= 0 {
		return
	}

	qty, err := e.gw.NormalizePrecision(ctx, r.bot.Exchange, r.bot.Symbol, notional/price, gateway.KindAmount)
	if err != nil {
		e.handleTickError(ctx, r, err)
		return
	}
	if qty <= 0 {
		return
	}

	side := domain.SideBuy
	if sig.Type == domain.SignalSell {
		side = domain.SideSell
	}
	res, err := e.gw.CreateOrder(ctx, r.bot.Exchange, ports.OrderRequest{
		Symbol:   r.bot.Symbol,
		Side:     side,
		Quantity: qty,
	})
	if err != nil {
		e.handleTickError(ctx, r, err)
		return
	}

	trade := &domain.Trade{
		ID:          uuid.New().String(),
		BotID:       r.bot.ID,
		ExecutionID: r.exec.ID,
		Symbol:      r.bot.Symbol,
		Side:        res.Side,
		Status:      domain.TradeOpen,
		Quantity:    res.Quantity,
		EntryPrice:  res.Price,
		Fees:        res.Fee,
		OpenedAt:    now,
	}
	e.setProtectiveStops(r, trade)

	r.open = append(r.open, trade)
	r.tradesToday++
	r.lastTradeAt = now
	r.exec.TradeCount++
	r.transientErrs = 0
	r.bot.Metrics.ConsecutiveErrors = 0

	if err := e.store.InsertTrade(ctx, *trade); err != nil {
		slog.Warn("insert trade failed", "bot", r.bot.ID, "trade", trade.ID, "err", err)
	}
	e.log(ctx, r, "info", fmt.Sprintf("opened %s %s qty=%.8f price=%.8f", trade.Side, trade.Symbol, trade.Quantity, trade.EntryPrice))
	slog.Info("position opened",
		"bot", r.bot.ID, "side", trade.Side, "qty", trade.Quantity, "price", trade.EntryPrice)
}

// setProtectiveStops derives absolute stop levels from the strategy
// percent settings, with the bot risk limits as a fallback.
func (e *Engine) setProtectiveStops(r *botRunner, t *domain.Trade) {
	sl := r.bot.Strategy.StopLossPercent
	if sl <= 0 {
		sl = r.bot.Risk.StopLossPercent
	}
	tp := r.bot.Strategy.TakeProfitPercent
	if tp <= 0 {
		tp = r.bot.Risk.TakeProfitPercent
	}
	if t.Side == domain.SideSell {
		if sl > 0 {
			t.StopLoss = t.EntryPrice * (1 + sl/100)
		}
		if tp > 0 {
			t.TakeProfit = t.EntryPrice * (1 - tp/100)
		}
	} else {
		if sl > 0 {
			t.StopLoss = t.EntryPrice * (1 - sl/100)
		}
		if tp > 0 {
			t.TakeProfit = t.EntryPrice * (1 + tp/100)
		}
	}
	if r.bot.Strategy.TrailingStopPercent > 0 {
		t.TrailingStopPct = r.bot.Strategy.TrailingStopPercent
		t.HighWaterMark = t.EntryPrice
	}
}

// closeBreached closes every open position whose protective stop is
// breached at the observed price.
func (e *Engine) closeBreached(ctx context.Context, r *botRunner, price float64, now time.Time) {
	remaining := r.open[:0]
	for _, t := range r.open {
		advanceHighWaterMark(t, price)
		reason, breached := stopBreachedAt(t, price)
		if !breached {
			remaining = append(remaining, t)
			continue
		}
		if err := e.closeTrade(ctx, r, t, reason, now); err != nil {
			remaining = append(remaining, t)
		}
	}
	r.open = remaining
}

// advanceHighWaterMark tracks the best observed price for trailing
// stops. For shorts the best price is the lowest.
func advanceHighWaterMark(t *domain.Trade, price float64) {
	if t.TrailingStopPct <= 0 {
		return
	}
	if t.Side == domain.SideBuy {
		if price > t.HighWaterMark {
			t.HighWaterMark = price
		}
	} else {
		if t.HighWaterMark == 0 || price < t.HighWaterMark {
			t.HighWaterMark = price
		}
	}
}

// stopBreachedAt reports the first protective level the observed price
// breached, in stop-loss, trailing, take-profit order.
func stopBreachedAt(t *domain.Trade, price float64) (domain.CloseReason, bool) {
	if t.Side == domain.SideBuy {
		if t.StopLoss > 0 && price <= t.StopLoss {
			return domain.CloseStopLoss, true
		}
		if t.TrailingStopPct > 0 {
			level := t.HighWaterMark * (1 - t.TrailingStopPct/100)
			if level > 0 && price <= level {
				return domain.CloseTrailingStop, true
			}
		}
		if t.TakeProfit > 0 && price >= t.TakeProfit {
			return domain.CloseTakeProfit, true
		}
		return "", false
	}
	if t.StopLoss > 0 && price >= t.StopLoss {
		return domain.CloseStopLoss, true
	}
	if t.TrailingStopPct > 0 && t.HighWaterMark > 0 {
		if price >= t.HighWaterMark*(1+t.TrailingStopPct/100) {
			return domain.CloseTrailingStop, true
		}
	}
	if t.TakeProfit > 0 && price <= t.TakeProfit {
		return domain.CloseTakeProfit, true
	}
	return "", false
}

// closeAll closes every open position with the given reason.
func (e *Engine) closeAll(ctx context.Context, r *botRunner, reason domain.CloseReason, now time.Time) {
	remaining := r.open[:0]
	for _, t := range r.open {
		if err := e.closeTrade(ctx, r, t, reason, now); err != nil {
			remaining = append(remaining, t)
		}
	}
	r.open = remaining
}

// closeTrade submits the closing order and folds the realized result
// into the bot aggregates. The caller removes the trade from r.open.
func (e *Engine) closeTrade(ctx context.Context, r *botRunner, t *domain.Trade, reason domain.CloseReason, now time.Time) error {
	exit := domain.SideSell
	if t.Side == domain.SideSell {
		exit = domain.SideBuy
	}
	res, err := e.gw.CreateOrder(ctx, r.bot.Exchange, ports.OrderRequest{
		Symbol:   t.Symbol,
		Side:     exit,
		Quantity: t.Quantity,
	})
	if err != nil {
		e.handleTickError(ctx, r, err)
		return err
	}

	t.Fees += res.Fee
	t.Close(res.Price, reason, now)
	r.bot.CurrentCapital += t.PnL
	r.bot.Metrics.RecordTrade(t.PnL, t.Fees, r.bot.CurrentCapital)
	r.lastTradeAt = now

	if err := e.store.UpdateTrade(ctx, *t); err != nil {
		slog.Warn("update trade failed", "bot", r.bot.ID, "trade", t.ID, "err", err)
	}
	if err := e.store.UpdateBotAggregates(ctx, r.bot.ID, r.bot.CurrentCapital, r.bot.Metrics); err != nil {
		slog.Warn("update aggregates failed", "bot", r.bot.ID, "err", err)
	}
	e.log(ctx, r, "info", fmt.Sprintf("closed %s %s pnl=%.8f reason=%s", t.Side, t.Symbol, t.PnL, reason))
	slog.Info("position closed", "bot", r.bot.ID, "pnl", t.PnL, "reason", reason)
	return nil
}

// handleTickError applies the error policy: fatal classes stop the bot
// now, transient classes are forgiven up to the grace count, everything
// else counts toward the consecutive-error stop.
func (e *Engine) handleTickError(ctx context.Context, r *botRunner, err error) {
	if ctx.Err() != nil {
		// A stop is already in flight; the abandoned call is not an
		// error of the bot.
		return
	}

	class := gateway.ClassOf(err)
	r.exec.ErrorCount++
	e.log(ctx, r, "error", err.Error())
	slog.Warn("tick error", "bot", r.bot.ID, "class", class, "err", err)

	if class.Fatal() {
		e.stopFromTick(r, domain.StopError, fmt.Sprintf("fatal exchange error (%s): %v", class, err))
		return
	}
	if class.Retryable() {
		r.transientErrs++
		if r.transientErrs <= e.cfg.TransientGraceCount {
			return
		}
	}
	r.bot.Metrics.ConsecutiveErrors++
	if r.bot.Metrics.ConsecutiveErrors >= e.cfg.MaxConsecutiveErrors {
		r.restartable = true
		e.stopFromTick(r, domain.StopError,
			fmt.Sprintf("%d consecutive errors, last: %v", r.bot.Metrics.ConsecutiveErrors, err))
	}
}

// autoRestart revives a bot that stopped on accumulated errors, after
// one tick interval of backoff. Fatal and risk-policy stops never reach
// here, and an engine shutdown cancels the pending restart.
func (e *Engine) autoRestart(botID string) {
	select {
	case <-time.After(e.cfg.TickInterval):
	case <-e.closing:
		return
	}
	select {
	case <-e.closing:
		return
	default:
	}
	if err := e.StartBot(context.Background(), botID); err != nil {
		slog.Warn("auto-restart failed", "bot", botID, "err", err)
		return
	}
	slog.Info("bot auto-restarted", "bot", botID)
}

// stopFromTick requests a stop from inside a tick. It only records the
// reason and cancels the worker context; the worker loop performs the
// finalization after the tick returns, so it never deadlocks on r.mu.
func (e *Engine) stopFromTick(r *botRunner, reason domain.StopReason, detail string) {
	if r.stopReason == "" {
		r.stopReason = reason
		r.stopDetail = detail
	}
	if r.cancel != nil {
		r.cancel()
	}
}
