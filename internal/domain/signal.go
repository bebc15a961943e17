package domain

// SignalType is the direction a signal recommends.
type SignalType string

const (
	SignalNone SignalType = "none"
	SignalBuy  SignalType = "buy"
	SignalSell SignalType = "sell"
)

// Signal is the output of the evaluator: a recommendation to open or
// close a position. Signals are not persisted by the engine.
type Signal struct {
	Type       SignalType
	Strength   float64 // [0,100] weighted fraction of satisfied rules
	Confidence float64 // [0,1], monotone non-decreasing in Strength
	Exit       bool    // true when an exit group fired: close positions, never open
	Indicators map[string]float64
	Reasons    []string
}

// None is the empty signal.
func None() Signal {
	return Signal{Type: SignalNone}
}

// Active reports whether the signal calls for any action.
func (s Signal) Active() bool {
	return s.Type != SignalNone && s.Type != ""
}
