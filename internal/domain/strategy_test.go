package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorCompare(t *testing.T) {
	tests := []struct {
		op        Operator
		value     float64
		threshold float64
		want      bool
	}{
		{OpGT, 2, 1, true},
		{OpGT, 1, 1, false},
		{OpGTE, 1, 1, true},
		{OpLT, 0.5, 1, true},
		{OpLTE, 1, 1, true},
		{OpEQ, 1.0000000001, 1, false},
		{OpEQ, 1, 1, true},
		{OpNEQ, 1, 2, true},
		{Operator("bogus"), 1, 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.Compare(tt.value, tt.threshold),
			"%v %s %v", tt.value, tt.op, tt.threshold)
	}
}

func TestPositionSize(t *testing.T) {
	sig := Signal{Type: SignalBuy, Strength: 80, Confidence: 0.9}

	fixed := Strategy{Sizing: SizingConfig{Policy: SizingFixedPercent, Value: 10}}
	assert.InDelta(t, 100, fixed.PositionSize(1000, sig), 1e-9)

	kelly := Strategy{Sizing: SizingConfig{Policy: SizingKelly, Value: 10}}
	// edge = 2*0.9-1 = 0.8 → 1000 * 0.10 * 0.8
	assert.InDelta(t, 80, kelly.PositionSize(1000, sig), 1e-9)

	coinFlip := Signal{Type: SignalBuy, Strength: 50, Confidence: 0.5}
	assert.Equal(t, 0.0, kelly.PositionSize(1000, coinFlip), "no edge sizes to zero")

	parity := Strategy{Sizing: SizingConfig{Policy: SizingRiskParity, Value: 10}}
	assert.InDelta(t, 80, parity.PositionSize(1000, sig), 1e-9)

	assert.Equal(t, 0.0, fixed.PositionSize(0, sig), "no capital, no position")

	all := Strategy{Sizing: SizingConfig{Policy: SizingFixedPercent, Value: 200}}
	assert.Equal(t, 500.0, all.PositionSize(500, sig), "capped at available capital")
}

func validStrategy() Strategy {
	return Strategy{
		ID:           "s1",
		Symbol:       "BTC/USDT",
		Timeframe:    "1h",
		MaxPositions: 1,
		Indicators: []IndicatorConfig{
			{Name: "rsi14", Type: "rsi", Params: map[string]float64{"period": 14}},
		},
		Entry: []ConditionGroup{
			{Logic: LogicAND, Direction: SignalBuy, Rules: []ConditionRule{
				{Indicator: "rsi14", Operator: OpLT, Value: 30},
			}},
		},
	}
}

func TestStrategyValidate(t *testing.T) {
	require.NoError(t, validStrategy().Validate())

	noInd := validStrategy()
	noInd.Indicators = nil
	assert.Error(t, noInd.Validate())

	noEntry := validStrategy()
	noEntry.Entry = nil
	assert.Error(t, noEntry.Validate())

	badRef := validStrategy()
	badRef.Entry[0].Rules[0].Indicator = "missing"
	err := badRef.Validate()
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	emptyGroup := validStrategy()
	emptyGroup.Exit = []ConditionGroup{{Logic: LogicOR}}
	assert.Error(t, emptyGroup.Validate())

	noMax := validStrategy()
	noMax.MaxPositions = 0
	assert.Error(t, noMax.Validate())
}

func TestTradeClose(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := Trade{Side: SideBuy, Quantity: 2, EntryPrice: 100, Fees: 1}
	tr.Close(110, CloseSignal, now)

	assert.Equal(t, TradeClosed, tr.Status)
	assert.Equal(t, CloseSignal, tr.CloseReason)
	assert.InDelta(t, 19, tr.PnL, 1e-9, "2 × 10 gain minus 1 fee")

	short := Trade{Side: SideSell, Quantity: 2, EntryPrice: 100}
	short.Close(90, CloseTakeProfit, now)
	assert.InDelta(t, 20, short.PnL, 1e-9, "shorts gain when price falls")
}
