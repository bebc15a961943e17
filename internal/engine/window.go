package engine

import (
	"time"

	"github.com/quantforge/tradebot/internal/domain"
)

// windowAllows reports whether the bot may trade at the given instant
// under its execution window, and if not, why. All times are UTC.
func windowAllows(w domain.ExecutionWindow, now time.Time, lastTradeAt time.Time, tradesToday int) (bool, string) {
	if !w.TradeOnWeekends {
		switch now.Weekday() {
		case time.Saturday, time.Sunday:
			return false, "weekend"
		}
	}
	if !w.TradeOnHolidays && isHoliday(w.Holidays, now) {
		return false, "holiday"
	}
	if !insideDailyWindow(w.StartTime, w.EndTime, now) {
		return false, "outside daily window"
	}
	if w.CooldownMinutes > 0 && !lastTradeAt.IsZero() {
		if now.Sub(lastTradeAt) < time.Duration(w.CooldownMinutes)*time.Minute {
			return false, "cooldown"
		}
	}
	if w.MaxDailyTrades > 0 && tradesToday >= w.MaxDailyTrades {
		return false, "daily trade limit reached"
	}
	return true, ""
}

// insideDailyWindow checks an "HH:MM" window. An empty pair means
// always open. A window wrapping midnight ("22:00" to "04:00") allows
// both the late-evening and early-morning sides.
func insideDailyWindow(start, end string, now time.Time) bool {
	if start == "" && end == "" {
		return true
	}
	startMin, okS := parseClock(start)
	endMin, okE := parseClock(end)
	if !okS || !okE {
		return true // malformed window never locks a bot out
	}
	nowMin := now.Hour()*60 + now.Minute()
	if startMin <= endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	return nowMin >= startMin || nowMin < endMin
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func isHoliday(holidays []time.Time, now time.Time) bool {
	y, m, d := now.Date()
	for _, h := range holidays {
		hy, hm, hd := h.UTC().Date()
		if hy == y && hm == m && hd == d {
			return true
		}
	}
	return false
}
