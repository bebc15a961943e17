package engine

import (
	"fmt"

	"github.com/quantforge/tradebot/internal/domain"
)

const (
	healthDrawdownWarnFraction = 0.8
	healthWinRateFloor         = 40.0
	healthWinRateMinTrades     = 10
)

// Health derives the issue list for a bot from its current state.
func (e *Engine) Health(botID string) (domain.Health, error) {
	bot, err := e.GetBot(botID)
	if err != nil {
		return domain.Health{}, err
	}
	return deriveHealth(bot, e.cfg.MaxConsecutiveErrors), nil
}

func deriveHealth(bot domain.Bot, maxConsecutiveErrs int) domain.Health {
	h := domain.Health{BotID: bot.ID, Status: bot.Status}
	m := bot.Metrics

	if m.ConsecutiveErrors > 0 {
		sev := domain.SeverityLow
		switch {
		case m.ConsecutiveErrors >= maxConsecutiveErrs:
			sev = domain.SeverityCritical
		case m.ConsecutiveErrors >= maxConsecutiveErrs-1:
			sev = domain.SeverityHigh
		case m.ConsecutiveErrors > 1:
			sev = domain.SeverityMedium
		}
		h.Issues = append(h.Issues, domain.HealthIssue{
			Code:     "error_rate",
			Severity: sev,
			Message:  fmt.Sprintf("%d consecutive errors", m.ConsecutiveErrors),
		})
	}

	if bot.Risk.MaxDrawdown > 0 {
		switch {
		case m.CurrentDrawdown >= bot.Risk.MaxDrawdown:
			h.Issues = append(h.Issues, domain.HealthIssue{
				Code:     "drawdown_breached",
				Severity: domain.SeverityCritical,
				Message:  fmt.Sprintf("drawdown %.2f%% at or above limit %.2f%%", m.CurrentDrawdown, bot.Risk.MaxDrawdown),
			})
		case m.CurrentDrawdown >= bot.Risk.MaxDrawdown*healthDrawdownWarnFraction:
			h.Issues = append(h.Issues, domain.HealthIssue{
				Code:     "drawdown_warning",
				Severity: domain.SeverityHigh,
				Message:  fmt.Sprintf("drawdown %.2f%% approaching limit %.2f%%", m.CurrentDrawdown, bot.Risk.MaxDrawdown),
			})
		}
	}

	if bot.AllocatedCapital > 0 {
		ratio := bot.CurrentCapital / bot.AllocatedCapital
		switch {
		case ratio < 0.10:
			h.Issues = append(h.Issues, domain.HealthIssue{
				Code:     "capital_depleted",
				Severity: domain.SeverityCritical,
				Message:  fmt.Sprintf("capital %.2f is below 10%% of allocated %.2f", bot.CurrentCapital, bot.AllocatedCapital),
			})
		case ratio < 0.25:
			h.Issues = append(h.Issues, domain.HealthIssue{
				Code:     "capital_low",
				Severity: domain.SeverityHigh,
				Message:  fmt.Sprintf("capital %.2f is below 25%% of allocated %.2f", bot.CurrentCapital, bot.AllocatedCapital),
			})
		}
	}

	if m.TotalTrades >= healthWinRateMinTrades && m.WinRate < healthWinRateFloor {
		h.Issues = append(h.Issues, domain.HealthIssue{
			Code:     "poor_win_rate",
			Severity: domain.SeverityMedium,
			Message:  fmt.Sprintf("win rate %.1f%% over %d trades", m.WinRate, m.TotalTrades),
		})
	}

	return h
}
