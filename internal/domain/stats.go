package domain

import "math"

// WinRate returns winning/total as a percentage, 0 for no trades.
func WinRate(winning, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(winning) / float64(total) * 100
}

// ProfitFactor returns gross wins over gross losses. With no losses
// recorded it returns 0 rather than dividing by zero.
func ProfitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss == 0 {
		return 0
	}
	return grossProfit / grossLoss
}

// Sharpe is mean(returns)/stddev(returns) scaled by √annualization.
// Per-trade returns are treated as daily samples, so the conventional
// annualization factor is 252 trading days; callers may override it.
func Sharpe(returns []float64, annualization float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := meanOf(returns)
	sd := stddevOf(returns, mean)
	if sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(annualization)
}

// Sortino is Sharpe with downside-only deviation: only negative returns
// contribute to the denominator.
func Sortino(returns []float64, annualization float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := meanOf(returns)
	var sumSq float64
	var n int
	for _, r := range returns {
		if r < 0 {
			sumSq += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	downside := math.Sqrt(sumSq / float64(n))
	if downside == 0 {
		return 0
	}
	return mean / downside * math.Sqrt(annualization)
}

// MaxDrawdown returns the largest peak-to-trough decline of the equity
// series as a percentage of the peak.
func MaxDrawdown(equity []float64) float64 {
	var peak, maxDD float64
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			dd := (peak - e) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func meanOf(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, mean float64) float64 {
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}
