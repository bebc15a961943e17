package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/tradebot/internal/domain"
)

func issueByCode(h domain.Health, code string) (domain.HealthIssue, bool) {
	for _, issue := range h.Issues {
		if issue.Code == code {
			return issue, true
		}
	}
	return domain.HealthIssue{}, false
}

func TestHealthNoIssues(t *testing.T) {
	bot := testBot("b1")
	h := deriveHealth(bot, 5)
	assert.Empty(t, h.Issues)
	assert.True(t, h.Healthy())
	assert.Equal(t, "b1", h.BotID)
}

func TestHealthConsecutiveErrors(t *testing.T) {
	bot := testBot("b1")

	bot.Metrics.ConsecutiveErrors = 1
	issue, ok := issueByCode(deriveHealth(bot, 5), "error_rate")
	require.True(t, ok)
	assert.Equal(t, domain.SeverityLow, issue.Severity)

	bot.Metrics.ConsecutiveErrors = 3
	issue, _ = issueByCode(deriveHealth(bot, 5), "error_rate")
	assert.Equal(t, domain.SeverityMedium, issue.Severity)

	bot.Metrics.ConsecutiveErrors = 4
	issue, _ = issueByCode(deriveHealth(bot, 5), "error_rate")
	assert.Equal(t, domain.SeverityHigh, issue.Severity)

	bot.Metrics.ConsecutiveErrors = 5
	h := deriveHealth(bot, 5)
	issue, _ = issueByCode(h, "error_rate")
	assert.Equal(t, domain.SeverityCritical, issue.Severity)
	assert.False(t, h.Healthy())
}

func TestHealthDrawdown(t *testing.T) {
	bot := testBot("b1")
	bot.Risk.MaxDrawdown = 10

	bot.Metrics.CurrentDrawdown = 5
	_, ok := issueByCode(deriveHealth(bot, 5), "drawdown_warning")
	assert.False(t, ok, "half the limit is not a warning")

	bot.Metrics.CurrentDrawdown = 8.5
	issue, ok := issueByCode(deriveHealth(bot, 5), "drawdown_warning")
	require.True(t, ok)
	assert.Equal(t, domain.SeverityHigh, issue.Severity)

	bot.Metrics.CurrentDrawdown = 10.2
	issue, ok = issueByCode(deriveHealth(bot, 5), "drawdown_breached")
	require.True(t, ok)
	assert.Equal(t, domain.SeverityCritical, issue.Severity)
}

func TestHealthCapital(t *testing.T) {
	bot := testBot("b1")
	bot.AllocatedCapital = 10000

	bot.CurrentCapital = 2000
	issue, ok := issueByCode(deriveHealth(bot, 5), "capital_low")
	require.True(t, ok)
	assert.Equal(t, domain.SeverityHigh, issue.Severity)

	bot.CurrentCapital = 500
	issue, ok = issueByCode(deriveHealth(bot, 5), "capital_depleted")
	require.True(t, ok)
	assert.Equal(t, domain.SeverityCritical, issue.Severity)

	bot.CurrentCapital = 9000
	h := deriveHealth(bot, 5)
	_, lowOK := issueByCode(h, "capital_low")
	_, depOK := issueByCode(h, "capital_depleted")
	assert.False(t, lowOK)
	assert.False(t, depOK)
}

func TestHealthWinRate(t *testing.T) {
	record := func(m *domain.BotMetrics, wins, losses int) {
		for i := 0; i < wins; i++ {
			m.RecordTrade(10, 0, 10000)
		}
		for i := 0; i < losses; i++ {
			m.RecordTrade(-10, 0, 10000)
		}
	}

	// Too few trades to judge.
	bot := testBot("b1")
	record(&bot.Metrics, 1, 4)
	_, ok := issueByCode(deriveHealth(bot, 5), "poor_win_rate")
	assert.False(t, ok)

	// 4 wins in 20 trades is 20%, well below the 40% floor.
	bot = testBot("b1")
	record(&bot.Metrics, 4, 16)
	issue, ok := issueByCode(deriveHealth(bot, 5), "poor_win_rate")
	require.True(t, ok)
	assert.Equal(t, domain.SeverityMedium, issue.Severity)
	assert.Contains(t, issue.Message, "20.0%")

	// 9 wins in 10 trades must never be flagged.
	bot = testBot("b1")
	record(&bot.Metrics, 9, 1)
	_, ok = issueByCode(deriveHealth(bot, 5), "poor_win_rate")
	assert.False(t, ok)

	// Just above the floor is healthy too.
	bot = testBot("b1")
	record(&bot.Metrics, 11, 9)
	_, ok = issueByCode(deriveHealth(bot, 5), "poor_win_rate")
	assert.False(t, ok)
}

func TestHealthViaEngine(t *testing.T) {
	e, _ := newTestEngine(newFakeExchange())
	bot := testBot("b1")
	bot.Metrics.ConsecutiveErrors = 2
	e.AddBot(bot)

	h, err := e.Health("b1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, h.Status)
	assert.Len(t, h.Issues, 1)

	_, err = e.Health("missing")
	assert.ErrorIs(t, err, ErrUnknownBot)
}
