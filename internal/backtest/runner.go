package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantforge/tradebot/internal/domain"
	"github.com/quantforge/tradebot/internal/ports"
)

// JobStatus is the lifecycle of an asynchronous backtest request.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is the observable state of one backtest request. Result is only
// set on completion; a failed run stores ErrorMessage and is never
// persisted as success.
type Job struct {
	ID           string
	Status       JobStatus
	Result       *domain.BacktestResult
	ErrorMessage string
	SubmittedAt  time.Time
	FinishedAt   *time.Time
}

// Runner executes backtests asynchronously. Each job runs in its own
// goroutine and shares no mutable state with other jobs; callers poll
// Get for the outcome.
type Runner struct {
	store ports.Store // optional, completed results are saved through it

	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewRunner creates a Runner. store may be nil to skip persistence.
func NewRunner(store ports.Store) *Runner {
	return &Runner{
		store: store,
		jobs:  make(map[string]*Job),
	}
}

// Submit starts a backtest over preloaded bars and returns the job id.
func (r *Runner) Submit(ctx context.Context, strategy domain.Strategy, bars []domain.Bar, cfg Config) string {
	return r.start(ctx, strategy, cfg, func(context.Context) ([]domain.Bar, error) {
		return bars, nil
	})
}

// SubmitRange starts a backtest that first fetches bars from the source
// for the requested range. Missing data fails the job.
func (r *Runner) SubmitRange(ctx context.Context, strategy domain.Strategy, source ports.BarSource, from, to time.Time, cfg Config) string {
	return r.start(ctx, strategy, cfg, func(ctx context.Context) ([]domain.Bar, error) {
		bars, err := source.FetchBars(ctx, strategy.Symbol, strategy.Timeframe, from, to)
		if err != nil {
			return nil, fmt.Errorf("fetch bars: %w", err)
		}
		if len(bars) == 0 {
			return nil, fmt.Errorf("no historical data for %s %s in range", strategy.Symbol, strategy.Timeframe)
		}
		return bars, nil
	})
}

func (r *Runner) start(ctx context.Context, strategy domain.Strategy, cfg Config, load func(context.Context) ([]domain.Bar, error)) string {
	job := &Job{
		ID:          uuid.New().String(),
		Status:      JobRunning,
		SubmittedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		bars, err := load(ctx)
		if err != nil {
			r.finish(job.ID, nil, err)
			return
		}
		result, err := Run(strategy, bars, cfg)
		if err != nil {
			r.finish(job.ID, nil, err)
			return
		}
		result.ID = job.ID
		r.finish(job.ID, &result, nil)

		if r.store != nil {
			if err := r.store.SaveBacktestRun(ctx, result); err != nil {
				slog.Warn("backtest: failed to persist run", "job", job.ID, "err", err)
			}
		}
	}()

	return job.ID
}

func (r *Runner) finish(id string, result *domain.BacktestResult, err error) {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.FinishedAt = &now
	if err != nil {
		job.Status = JobFailed
		job.ErrorMessage = err.Error()
		return
	}
	job.Status = JobCompleted
	job.Result = result
}

// Get returns a snapshot of the job state.
func (r *Runner) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Wait blocks until all submitted jobs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
