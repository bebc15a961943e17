package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/tradebot/internal/domain"
)

func barsFromCloses(closes ...float64) []domain.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      c, High: c + 0.5, Low: c - 0.5, Close: c,
			Volume: 100,
		}
	}
	return bars
}

// oversoldStrategy buys when 5-period RSI drops below 30.
func oversoldStrategy() domain.Strategy {
	return domain.Strategy{
		ID:           "s1",
		Symbol:       "BTC/USDT",
		Timeframe:    "1h",
		MaxPositions: 1,
		Sizing:       domain.SizingConfig{Policy: domain.SizingFixedPercent, Value: 10},
		Indicators: []domain.IndicatorConfig{
			{Name: "rsi", Type: "rsi", Params: map[string]float64{"period": 5}},
		},
		Entry: []domain.ConditionGroup{
			{Logic: domain.LogicAND, Direction: domain.SignalBuy, Rules: []domain.ConditionRule{
				{Indicator: "rsi", Operator: domain.OpLT, Value: 30},
			}},
		},
		Exit: []domain.ConditionGroup{
			{Logic: domain.LogicAND, Direction: domain.SignalSell, Rules: []domain.ConditionRule{
				{Indicator: "rsi", Operator: domain.OpGT, Value: 70},
			}},
		},
	}
}

func TestEvaluateEntrySignal(t *testing.T) {
	falling := barsFromCloses(10, 9, 8, 7, 6, 5, 4)

	sig, err := Evaluate(oversoldStrategy(), falling)
	require.NoError(t, err)

	assert.Equal(t, domain.SignalBuy, sig.Type)
	assert.False(t, sig.Exit)
	assert.Equal(t, 100.0, sig.Strength, "single rule satisfied")
	assert.Equal(t, 1.0, sig.Confidence)
	assert.Contains(t, sig.Indicators, "rsi")
	assert.NotEmpty(t, sig.Reasons)
}

func TestEvaluateExitPrecedesEntry(t *testing.T) {
	// RSI pinned at 100 satisfies the exit group; entry must not fire.
	rising := barsFromCloses(1, 2, 3, 4, 5, 6, 7)

	sig, err := Evaluate(oversoldStrategy(), rising)
	require.NoError(t, err)

	assert.Equal(t, domain.SignalSell, sig.Type)
	assert.True(t, sig.Exit)
}

func TestEvaluateExitWithoutDirection(t *testing.T) {
	s := oversoldStrategy()
	s.Exit[0].Direction = ""

	rising := barsFromCloses(1, 2, 3, 4, 5, 6, 7)
	sig, err := Evaluate(s, rising)
	require.NoError(t, err)

	assert.True(t, sig.Exit)
	assert.True(t, sig.Active(), "an exit signal must remain actionable without a declared direction")
}

func TestEvaluateNoSignal(t *testing.T) {
	flat := barsFromCloses(10, 11, 10, 11, 10, 11, 10)

	sig, err := Evaluate(oversoldStrategy(), flat)
	require.NoError(t, err)

	assert.Equal(t, domain.SignalNone, sig.Type)
	assert.False(t, sig.Active())
}

func TestEvaluateWeightedStrength(t *testing.T) {
	s := oversoldStrategy()
	s.Indicators = append(s.Indicators, domain.IndicatorConfig{
		Name: "sma", Type: "sma", Params: map[string]float64{"period": 3},
	})
	// OR group: the RSI rule (weight 3) fires, the SMA rule (weight 1) does not.
	s.Exit = nil
	s.Entry = []domain.ConditionGroup{
		{Logic: domain.LogicOR, Direction: domain.SignalBuy, Rules: []domain.ConditionRule{
			{Indicator: "rsi", Operator: domain.OpLT, Value: 30, Weight: 3},
			{Indicator: "sma", Operator: domain.OpGT, Value: 1000, Weight: 1},
		}},
	}

	falling := barsFromCloses(10, 9, 8, 7, 6, 5, 4)
	sig, err := Evaluate(s, falling)
	require.NoError(t, err)

	assert.Equal(t, domain.SignalBuy, sig.Type)
	assert.InDelta(t, 75, sig.Strength, 1e-9, "3 of 4 weight satisfied")
	assert.InDelta(t, 0.875, sig.Confidence, 1e-9)
}

func TestEvaluateANDRequiresAllRules(t *testing.T) {
	s := oversoldStrategy()
	s.Exit = nil
	s.Entry[0].Rules = append(s.Entry[0].Rules, domain.ConditionRule{
		Indicator: "rsi", Operator: domain.OpGT, Value: 90,
	})

	falling := barsFromCloses(10, 9, 8, 7, 6, 5, 4)
	sig, err := Evaluate(s, falling)
	require.NoError(t, err)
	assert.Equal(t, domain.SignalNone, sig.Type, "contradictory AND rules never fire")
}

func TestEvaluateUnknownIndicatorType(t *testing.T) {
	s := oversoldStrategy()
	s.Indicators[0].Type = "wavelet"

	_, err := Evaluate(s, barsFromCloses(1, 2, 3, 4, 5, 6))
	require.Error(t, err)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestEvaluateNoLookahead(t *testing.T) {
	window := barsFromCloses(10, 9, 8, 7, 6, 5, 4)
	extended := append(append([]domain.Bar{}, window...), barsFromCloses(100, 200, 300)...)

	sigA, err := Evaluate(oversoldStrategy(), window)
	require.NoError(t, err)
	sigB, err := Evaluate(oversoldStrategy(), extended[:len(window)])
	require.NoError(t, err)

	assert.Equal(t, sigA, sigB, "altering bars beyond the window must not change the result")
}

func TestConfidenceMonotone(t *testing.T) {
	prev := -1.0
	for s := 0.0; s <= 100; s += 5 {
		c := confidence(s)
		assert.GreaterOrEqual(t, c, prev)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
		prev = c
	}
}
