package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/tradebot/internal/domain"
)

func synthBars(closes []float64) []domain.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      c, High: c + 0.5, Low: c - 0.5, Close: c,
			Volume: 1000,
		}
	}
	return bars
}

// oscillatingBars produces n bars whose closes swing between 100 and 110.
func oscillatingBars(n int) []domain.Bar {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 105 + 5*math.Sin(2*math.Pi*float64(i)/20)
	}
	return synthBars(closes)
}

// gridStrategy buys dips and exits rallies via the stochastic
// oscillator, with five concurrent levels.
func gridStrategy() domain.Strategy {
	return domain.Strategy{
		ID:           "grid-1",
		Symbol:       "BTC/USDT",
		Timeframe:    "1h",
		MaxPositions: 5,
		Sizing:       domain.SizingConfig{Policy: domain.SizingFixedPercent, Value: 20},
		Indicators: []domain.IndicatorConfig{
			{Name: "stoch", Type: "stochastic", Params: map[string]float64{"period": 5}},
		},
		Entry: []domain.ConditionGroup{
			{Logic: domain.LogicAND, Direction: domain.SignalBuy, Rules: []domain.ConditionRule{
				{Indicator: "stoch", Operator: domain.OpLT, Value: 20},
			}},
		},
		Exit: []domain.ConditionGroup{
			{Logic: domain.LogicAND, Direction: domain.SignalSell, Rules: []domain.ConditionRule{
				{Indicator: "stoch", Operator: domain.OpGT, Value: 80},
			}},
		},
	}
}

func TestRunGridScenario(t *testing.T) {
	bars := oscillatingBars(100)
	cfg := Config{InitialCapital: 1000, FeeRate: 0.001, Slippage: 0.0005}

	result, err := Run(gridStrategy(), bars, cfg)
	require.NoError(t, err)

	assert.Greater(t, result.Stats.TotalTrades, 0)
	assert.Len(t, result.EquityCurve, 100, "equity is recorded at every bar")

	// Exact reconciliation: final capital differs from initial by the
	// sum of recorded trade PnL (already net of fees).
	var pnl float64
	for _, tr := range result.Trades {
		pnl += tr.PnL
		assert.Equal(t, domain.TradeClosed, tr.Status)
		assert.NotEmpty(t, tr.CloseReason)
	}
	assert.InDelta(t, result.InitialCapital+pnl, result.FinalCapital, 1e-6)
	assert.Greater(t, result.Stats.TotalFees, 0.0)
}

func TestRunDeterminism(t *testing.T) {
	bars := oscillatingBars(100)
	cfg := Config{InitialCapital: 1000, FeeRate: 0.001, Slippage: 0.0005}

	a, err := Run(gridStrategy(), bars, cfg)
	require.NoError(t, err)
	b, err := Run(gridStrategy(), bars, cfg)
	require.NoError(t, err)

	require.Equal(t, a, b, "identical inputs must produce identical results")
}

func TestRunNoFutureBars(t *testing.T) {
	bars := oscillatingBars(100)
	cfg := Config{InitialCapital: 1000}

	// Replaying a prefix must match the prefix of the full run's curve:
	// the evaluator never sees bars beyond the current one.
	full, err := Run(gridStrategy(), bars, cfg)
	require.NoError(t, err)
	prefix, err := Run(gridStrategy(), bars[:60], cfg)
	require.NoError(t, err)

	for i := 0; i < 59; i++ {
		// Last prefix bar force-closes positions, so compare up to 59.
		assert.Equal(t, full.EquityCurve[i], prefix.EquityCurve[i], "bar %d", i)
	}
}

func TestRunEmptyBars(t *testing.T) {
	_, err := Run(gridStrategy(), nil, Config{InitialCapital: 1000})
	assert.Error(t, err, "missing historical data fails synchronously")
}

func TestRunRejectsInvalidStrategy(t *testing.T) {
	s := gridStrategy()
	s.Entry = nil
	_, err := Run(s, oscillatingBars(50), Config{})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	s = gridStrategy()
	s.Indicators[0].Type = "astrology"
	_, err = Run(s, oscillatingBars(50), Config{})
	assert.ErrorAs(t, err, &verr)
}

// alwaysBuy opens a long as soon as the indicator warm-up completes.
func alwaysBuy() domain.Strategy {
	return domain.Strategy{
		ID:           "always-buy",
		Symbol:       "BTC/USDT",
		Timeframe:    "1h",
		MaxPositions: 1,
		Sizing:       domain.SizingConfig{Policy: domain.SizingFixedPercent, Value: 50},
		Indicators: []domain.IndicatorConfig{
			{Name: "sma", Type: "sma", Params: map[string]float64{"period": 3}},
		},
		Entry: []domain.ConditionGroup{
			{Logic: domain.LogicAND, Direction: domain.SignalBuy, Rules: []domain.ConditionRule{
				{Indicator: "sma", Operator: domain.OpGT, Value: 0},
			}},
		},
	}
}

func TestRunStopLoss(t *testing.T) {
	s := alwaysBuy()
	s.StopLossPercent = 5

	// Entry at 100 (bar 2, once the SMA warms up), then a crash bar
	// whose low breaches the 95 stop.
	bars := synthBars([]float64{100, 100, 100, 100, 91, 91, 91})
	result, err := Run(s, bars, Config{InitialCapital: 1000})
	require.NoError(t, err)

	require.NotEmpty(t, result.Trades)
	first := result.Trades[0]
	assert.Equal(t, domain.CloseStopLoss, first.CloseReason)
	assert.InDelta(t, 95, first.ExitPrice, 1e-9)
	assert.Less(t, first.PnL, 0.0)
}

func TestRunTakeProfit(t *testing.T) {
	s := alwaysBuy()
	s.TakeProfitPercent = 5

	bars := synthBars([]float64{100, 100, 100, 100, 106, 106, 106})
	result, err := Run(s, bars, Config{InitialCapital: 1000})
	require.NoError(t, err)

	require.NotEmpty(t, result.Trades)
	first := result.Trades[0]
	assert.Equal(t, domain.CloseTakeProfit, first.CloseReason)
	assert.InDelta(t, 105, first.ExitPrice, 1e-9)
	assert.Greater(t, first.PnL, 0.0)
}

func TestRunTrailingStop(t *testing.T) {
	s := alwaysBuy()
	s.TrailingStopPercent = 5

	// Entry at 100, high-water mark rises to 110.5, then the drop to a
	// low of 103.5 breaches the trailing level 110.5 × 0.95 = 104.975.
	bars := synthBars([]float64{100, 100, 100, 105, 110, 104, 104})
	result, err := Run(s, bars, Config{InitialCapital: 1000})
	require.NoError(t, err)

	require.NotEmpty(t, result.Trades)
	first := result.Trades[0]
	assert.Equal(t, domain.CloseTrailingStop, first.CloseReason)
	assert.InDelta(t, 104.975, first.ExitPrice, 1e-9)
}

func TestRunForceCloseAtEnd(t *testing.T) {
	bars := synthBars([]float64{100, 100, 100, 100, 100})
	result, err := Run(alwaysBuy(), bars, Config{InitialCapital: 1000, FeeRate: 0.001})
	require.NoError(t, err)

	require.NotEmpty(t, result.Trades)
	last := result.Trades[len(result.Trades)-1]
	assert.Equal(t, domain.CloseTimeout, last.CloseReason)
	assert.Equal(t, domain.TradeClosed, last.Status)

	// Flat prices: the only loss is the fees paid.
	assert.InDelta(t, result.InitialCapital-result.Stats.TotalFees, result.FinalCapital, 1e-9)
}

func TestRunRespectsMaxPositions(t *testing.T) {
	s := alwaysBuy()
	s.MaxPositions = 2

	bars := synthBars([]float64{100, 100, 100, 100, 100, 100, 100, 100})
	result, err := Run(s, bars, Config{InitialCapital: 1000})
	require.NoError(t, err)

	assert.Len(t, result.Trades, 2, "entries stop at max positions and remain open until timeout")
}

func TestProfitFactorNoLosses(t *testing.T) {
	s := alwaysBuy()
	s.TakeProfitPercent = 5

	bars := synthBars([]float64{100, 100, 100, 100, 106, 106, 106})
	result, err := Run(s, bars, Config{InitialCapital: 1000})
	require.NoError(t, err)

	assert.Equal(t, 0.0, result.Stats.ProfitFactor, "no losses yields 0, not a division by zero")
}
