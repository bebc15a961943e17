package domain

import "math"

// SizingPolicy selects how a new position is sized.
type SizingPolicy string

const (
	SizingFixedPercent SizingPolicy = "fixed_percent"
	SizingKelly        SizingPolicy = "kelly"
	SizingRiskParity   SizingPolicy = "risk_parity"
)

// Operator compares an indicator value against a rule threshold.
type Operator string

const (
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
	OpNEQ Operator = "neq"
)

const eqEpsilon = 1e-9

// Compare applies the operator to (value, threshold).
func (op Operator) Compare(value, threshold float64) bool {
	switch op {
	case OpGT:
		return value > threshold
	case OpGTE:
		return value >= threshold
	case OpLT:
		return value < threshold
	case OpLTE:
		return value <= threshold
	case OpEQ:
		return math.Abs(value-threshold) <= eqEpsilon
	case OpNEQ:
		return math.Abs(value-threshold) > eqEpsilon
	}
	return false
}

// GroupLogic combines the rules of a condition group.
type GroupLogic string

const (
	LogicAND GroupLogic = "AND"
	LogicOR  GroupLogic = "OR"
)

// IndicatorConfig declares one indicator the strategy needs, keyed by
// Name in condition rules. Type selects the computation; Params carries
// type-specific settings (period, fast, slow, stddev, ...).
type IndicatorConfig struct {
	Name   string
	Type   string
	Params map[string]float64
}

// ConditionRule is one comparison inside a group. Weight defaults to 1
// and feeds the strength score of the resulting signal.
type ConditionRule struct {
	Indicator string
	Operator  Operator
	Value     float64
	Weight    float64
}

// EffectiveWeight returns the rule weight, defaulting to 1.
func (r ConditionRule) EffectiveWeight() float64 {
	if r.Weight <= 0 {
		return 1
	}
	return r.Weight
}

// ConditionGroup is an ordered list of rules combined with AND/OR.
// Entry groups open positions in Direction; exit groups close them.
type ConditionGroup struct {
	Logic     GroupLogic
	Direction SignalType // buy or sell for entry groups
	Rules     []ConditionRule
}

// SizingConfig pairs a policy with its percent value.
type SizingConfig struct {
	Policy SizingPolicy
	Value  float64 // percent of available capital, policy-dependent
}

// Strategy is a declarative trading strategy: indicators plus entry and
// exit condition trees, with sizing and protective stop settings.
type Strategy struct {
	ID           string
	Name         string
	Symbol       string
	Timeframe    string
	MaxPositions int

	Sizing              SizingConfig
	MinPositionSize     float64 // quote units, validated against exchange limits
	MaxPositionSize     float64 // quote units, 0 = unbounded
	StopLossPercent     float64
	TakeProfitPercent   float64
	TrailingStopPercent float64

	Indicators []IndicatorConfig
	Entry      []ConditionGroup
	Exit       []ConditionGroup
}

// PositionSize returns the notional (quote currency) to deploy for a new
// position given the available capital and the triggering signal. All
// policies are pure functions so live execution and backtesting size
// identically.
//
//   - fixed_percent: Value percent of available capital.
//   - kelly: Value percent scaled by the Kelly edge proxy 2·confidence−1,
//     so a coin-flip signal sizes to zero.
//   - risk_parity: Value percent scaled by signal strength, spreading
//     capital in proportion to conviction.
func (s Strategy) PositionSize(available float64, sig Signal) float64 {
	if available <= 0 {
		return 0
	}
	frac := s.Sizing.Value / 100
	if frac <= 0 {
		frac = 0.1
	}
	switch s.Sizing.Policy {
	case SizingKelly:
		edge := 2*sig.Confidence - 1
		if edge < 0 {
			edge = 0
		}
		frac *= edge
	case SizingRiskParity:
		frac *= sig.Strength / 100
	}
	notional := available * frac
	if notional > available {
		notional = available
	}
	return notional
}

// Validate rejects strategies that cannot be evaluated: no indicators,
// no entry groups, rules referencing undeclared indicators, or groups
// with no rules.
func (s Strategy) Validate() error {
	if len(s.Indicators) == 0 {
		return &ValidationError{Field: "indicators", Reason: "at least one indicator is required"}
	}
	if len(s.Entry) == 0 {
		return &ValidationError{Field: "entry", Reason: "at least one entry condition group is required"}
	}
	declared := make(map[string]bool, len(s.Indicators))
	for _, ind := range s.Indicators {
		if ind.Name == "" || ind.Type == "" {
			return &ValidationError{Field: "indicators", Reason: "indicator name and type are required"}
		}
		declared[ind.Name] = true
	}
	for _, group := range append(append([]ConditionGroup{}, s.Entry...), s.Exit...) {
		if len(group.Rules) == 0 {
			return &ValidationError{Field: "conditions", Reason: "condition group has no rules"}
		}
		for _, rule := range group.Rules {
			if !declared[rule.Indicator] {
				return &ValidationError{Field: "conditions", Reason: "rule references undeclared indicator " + rule.Indicator}
			}
		}
	}
	if s.MaxPositions <= 0 {
		return &ValidationError{Field: "max_positions", Reason: "must be positive"}
	}
	return nil
}

// ValidationError marks a malformed strategy or request. Validation
// failures are rejected before activation and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Field + ": " + e.Reason
}
