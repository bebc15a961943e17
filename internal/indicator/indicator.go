// Package indicator computes technical indicators over bar windows.
// Every indicator is a pure function of its inputs; the registry lets
// strategies reference indicators by type name.
package indicator

import (
	"fmt"
	"math"

	"github.com/quantforge/tradebot/internal/domain"
)

// Func computes one indicator value from a bar window. The window is
// oldest-first; the value describes the most recent bar.
type Func func(params map[string]float64, bars []domain.Bar) (float64, error)

var registry = map[string]Func{
	"sma":        SMA,
	"ema":        EMA,
	"rsi":        RSI,
	"macd":       MACD,
	"bollinger":  BollingerPercent,
	"atr":        ATR,
	"stochastic": Stochastic,
	"volume_sma": VolumeSMA,
}

// Compute evaluates the named indicator type over the window.
// Unknown types are a validation error, caught before activation.
func Compute(typ string, params map[string]float64, bars []domain.Bar) (float64, error) {
	fn, ok := registry[typ]
	if !ok {
		return 0, &domain.ValidationError{Field: "indicator", Reason: "unknown type " + typ}
	}
	return fn(params, bars)
}

// Supported reports whether the indicator type is registered.
func Supported(typ string) bool {
	_, ok := registry[typ]
	return ok
}

func period(params map[string]float64, key string, def int) int {
	if v, ok := params[key]; ok && v > 0 {
		return int(v)
	}
	return def
}

// SMA is the simple moving average of closes over params["period"].
func SMA(params map[string]float64, bars []domain.Bar) (float64, error) {
	p := period(params, "period", 20)
	if len(bars) < p {
		return 0, fmt.Errorf("indicator.SMA: need %d bars, have %d", p, len(bars))
	}
	return mean(domain.Closes(bars[len(bars)-p:])), nil
}

// EMA is the exponential moving average of closes, seeded with the SMA
// of the first period and folded over the rest of the window.
func EMA(params map[string]float64, bars []domain.Bar) (float64, error) {
	p := period(params, "period", 20)
	if len(bars) < p {
		return 0, fmt.Errorf("indicator.EMA: need %d bars, have %d", p, len(bars))
	}
	closes := domain.Closes(bars)
	return ema(closes, p), nil
}

// RSI is the relative strength index over params["period"] (default 14),
// simple average of gains and losses over the lookback.
func RSI(params map[string]float64, bars []domain.Bar) (float64, error) {
	p := period(params, "period", 14)
	if len(bars) < p+1 {
		return 0, fmt.Errorf("indicator.RSI: need %d bars, have %d", p+1, len(bars))
	}
	closes := domain.Closes(bars)
	var gain, loss float64
	for i := len(closes) - p; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	if loss == 0 {
		return 100, nil
	}
	rs := gain / loss
	return 100 - 100/(1+rs), nil
}

// MACD returns the histogram: MACD line (fast EMA − slow EMA) minus its
// signal EMA. Params: fast (12), slow (26), signal (9).
func MACD(params map[string]float64, bars []domain.Bar) (float64, error) {
	fast := period(params, "fast", 12)
	slow := period(params, "slow", 26)
	signal := period(params, "signal", 9)
	if len(bars) < slow+signal {
		return 0, fmt.Errorf("indicator.MACD: need %d bars, have %d", slow+signal, len(bars))
	}
	closes := domain.Closes(bars)

	// MACD line series over the tail where the slow EMA is defined.
	n := len(closes) - slow + 1
	line := make([]float64, n)
	for i := 0; i < n; i++ {
		window := closes[:slow+i]
		line[i] = ema(window, fast) - ema(window, slow)
	}
	return line[n-1] - ema(line, signal), nil
}

// BollingerPercent is %B: where the close sits inside the Bollinger
// band, 0 = lower band, 1 = upper band. Params: period (20), stddev (2).
func BollingerPercent(params map[string]float64, bars []domain.Bar) (float64, error) {
	p := period(params, "period", 20)
	k := 2.0
	if v, ok := params["stddev"]; ok && v > 0 {
		k = v
	}
	if len(bars) < p {
		return 0, fmt.Errorf("indicator.BollingerPercent: need %d bars, have %d", p, len(bars))
	}
	closes := domain.Closes(bars[len(bars)-p:])
	m := mean(closes)
	var sumSq float64
	for _, c := range closes {
		d := c - m
		sumSq += d * d
	}
	sd := math.Sqrt(sumSq / float64(p))
	if sd == 0 {
		return 0.5, nil
	}
	lower := m - k*sd
	upper := m + k*sd
	return (closes[len(closes)-1] - lower) / (upper - lower), nil
}

// ATR is the average true range over params["period"] (default 14).
func ATR(params map[string]float64, bars []domain.Bar) (float64, error) {
	p := period(params, "period", 14)
	if len(bars) < p+1 {
		return 0, fmt.Errorf("indicator.ATR: need %d bars, have %d", p+1, len(bars))
	}
	var sum float64
	for i := len(bars) - p; i < len(bars); i++ {
		cur, prev := bars[i], bars[i-1]
		tr := cur.High - cur.Low
		if hc := math.Abs(cur.High - prev.Close); hc > tr {
			tr = hc
		}
		if lc := math.Abs(cur.Low - prev.Close); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(p), nil
}

// Stochastic is the %K oscillator: position of the close within the
// high-low range of the lookback, scaled to [0,100]. Params: period (14).
func Stochastic(params map[string]float64, bars []domain.Bar) (float64, error) {
	p := period(params, "period", 14)
	if len(bars) < p {
		return 0, fmt.Errorf("indicator.Stochastic: need %d bars, have %d", p, len(bars))
	}
	window := bars[len(bars)-p:]
	low, high := window[0].Low, window[0].High
	for _, b := range window[1:] {
		if b.Low < low {
			low = b.Low
		}
		if b.High > high {
			high = b.High
		}
	}
	if high == low {
		return 50, nil
	}
	return (window[len(window)-1].Close - low) / (high - low) * 100, nil
}

// VolumeSMA is the simple moving average of volume.
func VolumeSMA(params map[string]float64, bars []domain.Bar) (float64, error) {
	p := period(params, "period", 20)
	if len(bars) < p {
		return 0, fmt.Errorf("indicator.VolumeSMA: need %d bars, have %d", p, len(bars))
	}
	var sum float64
	for _, b := range bars[len(bars)-p:] {
		sum += b.Volume
	}
	return sum / float64(p), nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// ema folds the series with smoothing 2/(p+1), seeded with the SMA of
// the first p values.
func ema(xs []float64, p int) float64 {
	if len(xs) < p {
		return 0
	}
	seed := mean(xs[:p])
	k := 2.0 / float64(p+1)
	v := seed
	for _, x := range xs[p:] {
		v = x*k + v*(1-k)
	}
	return v
}
