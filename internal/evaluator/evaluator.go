// Package evaluator turns a strategy's indicator set and condition tree
// into a typed trading signal. Evaluation is pure: no I/O, no clocks,
// only the strategy and the bar window, so the live engine and the
// backtest simulator can share it.
package evaluator

import (
	"fmt"

	"github.com/quantforge/tradebot/internal/domain"
	"github.com/quantforge/tradebot/internal/indicator"
)

// Evaluate computes the strategy's indicators over the window and walks
// its condition groups. Entry groups that are fully satisfied yield a
// candidate signal in their direction; exit groups yield a close signal
// for open positions. No satisfied group returns Signal{Type: none}.
func Evaluate(strategy domain.Strategy, bars []domain.Bar) (domain.Signal, error) {
	if len(bars) == 0 {
		return domain.None(), fmt.Errorf("evaluator.Evaluate: empty bar window")
	}

	values := make(map[string]float64, len(strategy.Indicators))
	for _, cfg := range strategy.Indicators {
		v, err := indicator.Compute(cfg.Type, cfg.Params, bars)
		if err != nil {
			return domain.None(), fmt.Errorf("evaluator.Evaluate: indicator %q: %w", cfg.Name, err)
		}
		values[cfg.Name] = v
	}

	// Exit groups take precedence: closing an open position is never
	// deferred in favor of opening a new one.
	if sig, ok := evalGroups(strategy.Exit, values); ok {
		sig.Exit = true
		// Exit groups may omit a direction; the close applies to every
		// open position either way.
		if !sig.Active() {
			sig.Type = domain.SignalSell
		}
		return sig, nil
	}

	if sig, ok := evalGroups(strategy.Entry, values); ok {
		return sig, nil
	}

	return domain.None(), nil
}

// evalGroups evaluates a set of condition groups against the indicator
// snapshot. When several groups fire, strength is the weighted fraction
// of satisfied rules across all firing groups; direction is taken from
// the first firing group (groups are ordered by the strategy author).
func evalGroups(groups []domain.ConditionGroup, values map[string]float64) (domain.Signal, bool) {
	var (
		direction   domain.SignalType
		reasons     []string
		satWeight   float64
		totalWeight float64
		fired       bool
	)

	for _, group := range groups {
		sat, total, groupReasons, ok := evalGroup(group, values)
		if !ok {
			continue
		}
		if !fired {
			direction = group.Direction
			fired = true
		}
		satWeight += sat
		totalWeight += total
		reasons = append(reasons, groupReasons...)
	}

	if !fired || totalWeight == 0 {
		return domain.None(), false
	}

	strength := satWeight / totalWeight * 100
	return domain.Signal{
		Type:       direction,
		Strength:   strength,
		Confidence: confidence(strength),
		Indicators: values,
		Reasons:    reasons,
	}, true
}

// evalGroup returns the satisfied and total rule weight of one group and
// whether the group fired under its AND/OR logic.
func evalGroup(group domain.ConditionGroup, values map[string]float64) (sat, total float64, reasons []string, fired bool) {
	anySat := false
	allSat := true

	for _, rule := range group.Rules {
		w := rule.EffectiveWeight()
		total += w

		value, ok := values[rule.Indicator]
		if !ok {
			allSat = false
			continue
		}
		if rule.Operator.Compare(value, rule.Value) {
			sat += w
			anySat = true
			reasons = append(reasons, fmt.Sprintf("%s %s %.4f (value %.4f)",
				rule.Indicator, rule.Operator, rule.Value, value))
		} else {
			allSat = false
		}
	}

	switch group.Logic {
	case domain.LogicOR:
		fired = anySat
	default:
		fired = allSat && len(group.Rules) > 0
	}
	return sat, total, reasons, fired
}

// confidence maps strength to [0,1], strictly monotone so a stronger
// signal is never reported as less certain.
func confidence(strength float64) float64 {
	c := 0.5 + strength/200
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}
