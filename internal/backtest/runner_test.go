package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/tradebot/internal/domain"
	"github.com/quantforge/tradebot/internal/ports"
)

// mockStore records backtest persistence; everything else is a no-op.
type mockStore struct {
	saved []domain.BacktestResult
}

func (m *mockStore) SaveBot(context.Context, domain.Bot) error            { return nil }
func (m *mockStore) GetBot(context.Context, string) (domain.Bot, error)   { return domain.Bot{}, nil }
func (m *mockStore) UpdateBotStatus(context.Context, string, domain.BotStatus) error { return nil }
func (m *mockStore) UpdateBotAggregates(context.Context, string, float64, domain.BotMetrics) error {
	return nil
}
func (m *mockStore) ListBots(context.Context) ([]domain.Bot, error)          { return nil, nil }
func (m *mockStore) CreateExecution(context.Context, domain.Execution) error { return nil }
func (m *mockStore) UpdateExecution(context.Context, domain.Execution) error { return nil }
func (m *mockStore) LastExecutionNumber(context.Context, string) (int, error) {
	return 0, nil
}
func (m *mockStore) InsertTrade(context.Context, domain.Trade) error { return nil }
func (m *mockStore) UpdateTrade(context.Context, domain.Trade) error { return nil }
func (m *mockStore) TradesByExecution(context.Context, string) ([]domain.Trade, error) {
	return nil, nil
}
func (m *mockStore) TradesByBot(context.Context, string, time.Time, time.Time) ([]domain.Trade, error) {
	return nil, nil
}
func (m *mockStore) AppendLog(context.Context, ports.LogEntry) error { return nil }
func (m *mockStore) SaveBacktestRun(_ context.Context, r domain.BacktestResult) error {
	m.saved = append(m.saved, r)
	return nil
}
func (m *mockStore) Close() error { return nil }

type mockBarSource struct {
	bars []domain.Bar
	err  error
}

func (m *mockBarSource) FetchBars(context.Context, string, string, time.Time, time.Time) ([]domain.Bar, error) {
	return m.bars, m.err
}

func TestRunnerCompletes(t *testing.T) {
	store := &mockStore{}
	r := NewRunner(store)

	id := r.Submit(context.Background(), gridStrategy(), oscillatingBars(100), Config{InitialCapital: 1000})
	r.Wait()

	job, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, JobCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, id, job.Result.ID)
	assert.Len(t, job.Result.EquityCurve, 100)
	require.NotNil(t, job.FinishedAt)

	require.Len(t, store.saved, 1, "completed runs are persisted")
	assert.Equal(t, id, store.saved[0].ID)
}

func TestRunnerFailsOnMissingData(t *testing.T) {
	store := &mockStore{}
	r := NewRunner(store)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	id := r.SubmitRange(context.Background(), gridStrategy(), &mockBarSource{}, from, from.AddDate(0, 1, 0), Config{})
	r.Wait()

	job, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, JobFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "no historical data")
	assert.Nil(t, job.Result)
	assert.Empty(t, store.saved, "failed runs are never persisted as success")
}

func TestRunnerFailsOnSourceError(t *testing.T) {
	r := NewRunner(nil)

	src := &mockBarSource{err: errors.New("backend down")}
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	id := r.SubmitRange(context.Background(), gridStrategy(), src, from, from.AddDate(0, 1, 0), Config{})
	r.Wait()

	job, _ := r.Get(id)
	assert.Equal(t, JobFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "backend down")
}

func TestRunnerUnknownJob(t *testing.T) {
	r := NewRunner(nil)
	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestRunnerConcurrentJobs(t *testing.T) {
	r := NewRunner(nil)
	bars := oscillatingBars(100)

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = r.Submit(context.Background(), gridStrategy(), bars, Config{InitialCapital: 1000})
	}
	r.Wait()

	var results []*domain.BacktestResult
	for _, id := range ids {
		job, ok := r.Get(id)
		require.True(t, ok)
		require.Equal(t, JobCompleted, job.Status)
		results = append(results, job.Result)
	}
	// Jobs share no mutable state: every result is identical apart from its id.
	for _, res := range results[1:] {
		assert.Equal(t, results[0].FinalCapital, res.FinalCapital)
		assert.Equal(t, results[0].Stats, res.Stats)
	}
}
