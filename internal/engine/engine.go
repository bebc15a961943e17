// Package engine owns the bot lifecycle: the per-bot state machine,
// one worker goroutine per running bot, risk auto-stops, and trade
// recording. All exchange access goes through the gateway; evaluation
// is delegated to the pure evaluator so backtests see the same logic.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantforge/tradebot/internal/domain"
	"github.com/quantforge/tradebot/internal/gateway"
	"github.com/quantforge/tradebot/internal/ports"
)

// ErrInvalidTransition marks an illegal state-machine transition.
// The attempt has no side effects.
var ErrInvalidTransition = errors.New("invalid bot state transition")

// ErrUnknownBot is returned for bot ids the engine has never seen.
var ErrUnknownBot = errors.New("unknown bot")

// Config tunes the engine.
type Config struct {
	TickInterval         time.Duration
	BarWindowSize        int
	MaxConsecutiveErrors int
	// TransientGraceCount is how many transient exchange errors in a row
	// are tolerated before they start counting toward the error stop.
	TransientGraceCount int
}

// DefaultConfig returns sensible production settings.
func DefaultConfig() Config {
	return Config{
		TickInterval:         30 * time.Second,
		BarWindowSize:        100,
		MaxConsecutiveErrors: 5,
		TransientGraceCount:  3,
	}
}

// Engine runs bots. One Engine serves many bots; each running bot gets
// its own worker goroutine so a blocked exchange call for one bot never
// delays ticks for another.
type Engine struct {
	cfg   Config
	gw    *gateway.Gateway
	store ports.Store
	now   func() time.Time // injectable clock for window tests

	mu      sync.Mutex
	bots    map[string]*botRunner
	closing chan struct{} // closed by Shutdown; cancels pending auto-restarts
}

// botRunner is the engine-side state of one bot. Its mutex is the
// single-writer guarantee: every status or trade mutation for the bot
// happens under it.
type botRunner struct {
	mu  sync.Mutex
	bot domain.Bot

	exec   *domain.Execution
	cancel context.CancelFunc
	done   chan struct{}

	open            []*domain.Trade
	lastClose       float64
	lastTradeAt     time.Time
	tradesToday     int
	dayKey          string
	dayStartCapital float64
	transientErrs   int

	stopReason  domain.StopReason
	stopDetail  string
	restartable bool // set only on accumulated-error stops
}

// New creates an Engine with the given collaborators.
func New(cfg Config, gw *gateway.Gateway, store ports.Store) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.BarWindowSize <= 0 {
		cfg.BarWindowSize = DefaultConfig().BarWindowSize
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultConfig().MaxConsecutiveErrors
	}
	if cfg.TransientGraceCount <= 0 {
		cfg.TransientGraceCount = DefaultConfig().TransientGraceCount
	}
	return &Engine{
		cfg:     cfg,
		gw:      gw,
		store:   store,
		now:     time.Now,
		bots:    make(map[string]*botRunner),
		closing: make(chan struct{}),
	}
}

// AddBot registers a bot with the engine in its current status.
// Starting it is a separate step.
func (e *Engine) AddBot(bot domain.Bot) {
	if bot.Status == "" {
		bot.Status = domain.StatusStopped
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bots[bot.ID] = &botRunner{bot: bot}
}

// GetBot returns a snapshot of the bot state.
func (e *Engine) GetBot(botID string) (domain.Bot, error) {
	r, err := e.runner(botID)
	if err != nil {
		return domain.Bot{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bot, nil
}

func (e *Engine) runner(botID string) (*botRunner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.bots[botID]
	if !ok {
		return nil, fmt.Errorf("engine: %w: %s", ErrUnknownBot, botID)
	}
	return r, nil
}

// StartBot transitions stopped|error → running: validates the strategy
// against the exchange, opens Execution #last+1 and spawns the worker.
func (e *Engine) StartBot(ctx context.Context, botID string) error {
	r, err := e.runner(botID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bot.Status != domain.StatusStopped && r.bot.Status != domain.StatusError {
		return fmt.Errorf("engine.StartBot: %s: %w (%s → running)", botID, ErrInvalidTransition, r.bot.Status)
	}
	if !r.bot.Enabled {
		return &domain.ValidationError{Field: "enabled", Reason: "bot is disabled"}
	}
	if r.exec != nil {
		return fmt.Errorf("engine.StartBot: %s: execution already open", botID)
	}

	if err := e.gw.ValidateCapabilities(ctx, r.bot.Exchange, r.bot.Strategy); err != nil {
		return fmt.Errorf("engine.StartBot: %s: %w", botID, err)
	}

	last, err := e.store.LastExecutionNumber(ctx, botID)
	if err != nil {
		return fmt.Errorf("engine.StartBot: %s: last execution: %w", botID, err)
	}

	exec := &domain.Execution{
		ID:              uuid.New().String(),
		BotID:           botID,
		Number:          last + 1,
		Status:          domain.ExecRunning,
		StartingCapital: r.bot.CurrentCapital,
		StartedAt:       e.now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, *exec); err != nil {
		return fmt.Errorf("engine.StartBot: %s: create execution: %w", botID, err)
	}

	r.exec = exec
	r.bot.Status = domain.StatusRunning
	r.bot.Metrics.ConsecutiveErrors = 0
	r.transientErrs = 0
	r.stopReason = ""
	r.stopDetail = ""
	r.restartable = false

	workerCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	e.persistStatus(ctx, r)
	e.log(ctx, r, "info", fmt.Sprintf("started execution #%d", exec.Number))
	slog.Info("bot started", "bot", botID, "execution", exec.Number)

	go e.runWorker(workerCtx, r)
	return nil
}

// StopBot transitions running|paused → stopped with the given reason.
// It cancels the worker, waits for the in-flight tick to observe the
// cancellation, and closes the execution.
func (e *Engine) StopBot(ctx context.Context, botID string, reason domain.StopReason, detail string) error {
	r, err := e.runner(botID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.bot.Status != domain.StatusRunning && r.bot.Status != domain.StatusPaused {
		status := r.bot.Status
		r.mu.Unlock()
		return fmt.Errorf("engine.StopBot: %s: %w (%s → stopped)", botID, ErrInvalidTransition, status)
	}
	if r.stopReason == "" {
		r.stopReason = reason
		r.stopDetail = detail
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("engine.StopBot: %s: %w", botID, ctx.Err())
		}
	}
	return nil
}

// PauseBot transitions running → paused. The worker keeps its schedule
// but ticks become no-ops until resume.
func (e *Engine) PauseBot(_ context.Context, botID string) error {
	return e.transition(botID, domain.StatusRunning, domain.StatusPaused, "pause")
}

// ResumeBot transitions paused → running.
func (e *Engine) ResumeBot(_ context.Context, botID string) error {
	return e.transition(botID, domain.StatusPaused, domain.StatusRunning, "resume")
}

func (e *Engine) transition(botID string, from, to domain.BotStatus, op string) error {
	r, err := e.runner(botID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bot.Status != from {
		return fmt.Errorf("engine.%s: %s: %w (%s → %s)", op, botID, ErrInvalidTransition, r.bot.Status, to)
	}
	r.bot.Status = to
	e.persistStatus(context.Background(), r)
	slog.Info("bot "+op+"d", "bot", botID)
	return nil
}

// RestartBot is stop-then-start and always produces a new execution.
func (e *Engine) RestartBot(ctx context.Context, botID string) error {
	if err := e.StopBot(ctx, botID, domain.StopRestart, "restart requested"); err != nil {
		return err
	}
	return e.StartBot(ctx, botID)
}

// Shutdown stops every running or paused bot with reason shutdown and
// cancels any pending auto-restart.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	select {
	case <-e.closing:
	default:
		close(e.closing)
	}
	ids := make([]string, 0, len(e.bots))
	for id := range e.bots {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if err := e.StopBot(ctx, id, domain.StopShutdown, "engine shutdown"); err != nil &&
			!errors.Is(err, ErrInvalidTransition) {
			slog.Warn("shutdown: stop failed", "bot", id, "err", err)
		}
	}
}

// finalize closes the open execution after the worker exits. Called
// with r.mu held.
func (e *Engine) finalize(ctx context.Context, r *botRunner) {
	if r.exec == nil {
		return
	}

	reason := r.stopReason
	if reason == "" {
		reason = domain.StopManual
	}

	now := e.now().UTC()
	r.exec.EndedAt = &now
	r.exec.EndingCapital = r.bot.CurrentCapital
	r.exec.StopReason = reason
	r.exec.StopDetail = r.stopDetail

	if reason == domain.StopError {
		r.exec.Status = domain.ExecError
		r.bot.Status = domain.StatusError
	} else {
		r.exec.Status = domain.ExecStopped
		r.bot.Status = domain.StatusStopped
	}

	if err := e.store.UpdateExecution(ctx, *r.exec); err != nil {
		slog.Warn("finalize: update execution failed", "bot", r.bot.ID, "err", err)
	}
	e.persistStatus(ctx, r)
	e.log(ctx, r, "info", fmt.Sprintf("execution #%d ended: %s (%s)", r.exec.Number, reason, r.stopDetail))
	slog.Info("bot stopped", "bot", r.bot.ID, "reason", reason, "detail", r.stopDetail)

	r.exec = nil
	r.cancel = nil
}

func (e *Engine) persistStatus(ctx context.Context, r *botRunner) {
	if err := e.store.UpdateBotStatus(ctx, r.bot.ID, r.bot.Status); err != nil {
		slog.Warn("persist status failed", "bot", r.bot.ID, "err", err)
	}
}

func (e *Engine) log(ctx context.Context, r *botRunner, level, msg string) {
	entry := ports.LogEntry{
		BotID:   r.bot.ID,
		Level:   level,
		Message: msg,
		At:      e.now().UTC(),
	}
	if r.exec != nil {
		entry.ExecutionID = r.exec.ID
	}
	if err := e.store.AppendLog(ctx, entry); err != nil {
		slog.Warn("append log failed", "bot", r.bot.ID, "err", err)
	}
}
