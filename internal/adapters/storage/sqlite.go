// Package storage persists bots, executions, trades and logs in SQLite.
//
// Layout:
//   - `bots`: one row per bot. Strategy, window and metrics are JSON
//     columns; they are opaque to every query the engine runs.
//   - `executions`: one row per run session, updated in place on stop.
//   - `trades`: one row per position, inserted on open, updated on close.
//   - `logs`: append-only execution log.
//   - `backtest_runs`: one row per completed backtest, result as JSON.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantforge/tradebot/internal/domain"
	"github.com/quantforge/tradebot/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS bots (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL DEFAULT '',
    name              TEXT NOT NULL DEFAULT '',
    type              TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'stopped',
    exchange          TEXT NOT NULL DEFAULT '',
    symbol            TEXT NOT NULL DEFAULT '',
    allocated_capital REAL NOT NULL DEFAULT 0,
    current_capital   REAL NOT NULL DEFAULT 0,
    enabled           INTEGER NOT NULL DEFAULT 0,
    auto_restart      INTEGER NOT NULL DEFAULT 0,
    auto_stop_dd      INTEGER NOT NULL DEFAULT 0,
    auto_stop_loss    INTEGER NOT NULL DEFAULT 0,
    risk              TEXT NOT NULL DEFAULT '{}',
    exec_window       TEXT NOT NULL DEFAULT '{}',
    strategy          TEXT NOT NULL DEFAULT '{}',
    metrics           TEXT NOT NULL DEFAULT '{}',
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
    id               TEXT PRIMARY KEY,
    bot_id           TEXT NOT NULL,
    number           INTEGER NOT NULL,
    status           TEXT NOT NULL,
    starting_capital REAL NOT NULL DEFAULT 0,
    ending_capital   REAL NOT NULL DEFAULT 0,
    trade_count      INTEGER NOT NULL DEFAULT 0,
    error_count      INTEGER NOT NULL DEFAULT 0,
    stop_reason      TEXT NOT NULL DEFAULT '',
    stop_detail      TEXT NOT NULL DEFAULT '',
    started_at       DATETIME NOT NULL,
    ended_at         DATETIME
);

CREATE TABLE IF NOT EXISTS trades (
    id                TEXT PRIMARY KEY,
    bot_id            TEXT NOT NULL,
    execution_id      TEXT NOT NULL,
    symbol            TEXT NOT NULL,
    side              TEXT NOT NULL,
    status            TEXT NOT NULL,
    quantity          REAL NOT NULL DEFAULT 0,
    entry_price       REAL NOT NULL DEFAULT 0,
    exit_price        REAL NOT NULL DEFAULT 0,
    stop_loss         REAL NOT NULL DEFAULT 0,
    take_profit       REAL NOT NULL DEFAULT 0,
    trailing_stop_pct REAL NOT NULL DEFAULT 0,
    high_water_mark   REAL NOT NULL DEFAULT 0,
    pnl               REAL NOT NULL DEFAULT 0,
    fees              REAL NOT NULL DEFAULT 0,
    close_reason      TEXT NOT NULL DEFAULT '',
    notes             TEXT NOT NULL DEFAULT '',
    opened_at         DATETIME NOT NULL,
    closed_at         DATETIME
);

CREATE TABLE IF NOT EXISTS logs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    bot_id       TEXT NOT NULL,
    execution_id TEXT NOT NULL DEFAULT '',
    level        TEXT NOT NULL,
    message      TEXT NOT NULL,
    at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_runs (
    id              TEXT PRIMARY KEY,
    strategy_id     TEXT NOT NULL DEFAULT '',
    initial_capital REAL NOT NULL DEFAULT 0,
    final_capital   REAL NOT NULL DEFAULT 0,
    result          TEXT NOT NULL,
    created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exec_bot     ON executions(bot_id, number DESC);
CREATE INDEX IF NOT EXISTS idx_trades_exec  ON trades(execution_id);
CREATE INDEX IF NOT EXISTS idx_trades_bot   ON trades(bot_id, opened_at);
CREATE INDEX IF NOT EXISTS idx_logs_bot     ON logs(bot_id, at);
`

// SQLiteStore implements ports.Store using SQLite (pure Go, no CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at the given path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveBot upserts the full bot row.
func (s *SQLiteStore) SaveBot(ctx context.Context, bot domain.Bot) error {
	risk, window, strategy, metrics, err := marshalBotBlobs(bot)
	if err != nil {
		return fmt.Errorf("storage.SaveBot: %s: %w", bot.ID, err)
	}

	now := time.Now().UTC()
	created := bot.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bots
			(id, user_id, name, type, status, exchange, symbol,
			 allocated_capital, current_capital,
			 enabled, auto_restart, auto_stop_dd, auto_stop_loss,
			 risk, exec_window, strategy, metrics, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id           = excluded.user_id,
			name              = excluded.name,
			type              = excluded.type,
			status            = excluded.status,
			exchange          = excluded.exchange,
			symbol            = excluded.symbol,
			allocated_capital = excluded.allocated_capital,
			current_capital   = excluded.current_capital,
			enabled           = excluded.enabled,
			auto_restart      = excluded.auto_restart,
			auto_stop_dd      = excluded.auto_stop_dd,
			auto_stop_loss    = excluded.auto_stop_loss,
			risk              = excluded.risk,
			exec_window       = excluded.exec_window,
			strategy          = excluded.strategy,
			metrics           = excluded.metrics,
			updated_at        = excluded.updated_at
	`,
		bot.ID, bot.UserID, bot.Name, string(bot.Type), string(bot.Status),
		bot.Exchange, bot.Symbol,
		bot.AllocatedCapital, bot.CurrentCapital,
		boolInt(bot.Enabled), boolInt(bot.AutoRestart),
		boolInt(bot.AutoStopOnDrawdown), boolInt(bot.AutoStopOnLoss),
		risk, window, strategy, metrics, created, now,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveBot: %s: %w", bot.ID, err)
	}
	return nil
}

// GetBot loads one bot by id.
func (s *SQLiteStore) GetBot(ctx context.Context, id string) (domain.Bot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, type, status, exchange, symbol,
		       allocated_capital, current_capital,
		       enabled, auto_restart, auto_stop_dd, auto_stop_loss,
		       risk, exec_window, strategy, metrics, created_at, updated_at
		FROM bots WHERE id = ?
	`, id)
	bot, err := scanBot(row)
	if err != nil {
		return domain.Bot{}, fmt.Errorf("storage.GetBot: %s: %w", id, err)
	}
	return bot, nil
}

// UpdateBotStatus changes only the status column.
func (s *SQLiteStore) UpdateBotStatus(ctx context.Context, id string, status domain.BotStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bots SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateBotStatus: %s: %w", id, err)
	}
	return nil
}

// UpdateBotAggregates writes the recomputed capital and metrics. Metrics
// are stored whole so they can be replaced wholesale after a replay.
func (s *SQLiteStore) UpdateBotAggregates(ctx context.Context, id string, capital float64, metrics domain.BotMetrics) error {
	blob, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("storage.UpdateBotAggregates: %s: marshal: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE bots SET current_capital = ?, metrics = ?, updated_at = ? WHERE id = ?`,
		capital, string(blob), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateBotAggregates: %s: %w", id, err)
	}
	return nil
}

// ListBots returns every bot ordered by creation time.
func (s *SQLiteStore) ListBots(ctx context.Context) ([]domain.Bot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, type, status, exchange, symbol,
		       allocated_capital, current_capital,
		       enabled, auto_restart, auto_stop_dd, auto_stop_loss,
		       risk, exec_window, strategy, metrics, created_at, updated_at
		FROM bots ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListBots: query: %w", err)
	}
	defer rows.Close()

	var bots []domain.Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListBots: %w", err)
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

// CreateExecution inserts a new run session row.
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec domain.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
			(id, bot_id, number, status, starting_capital, ending_capital,
			 trade_count, error_count, stop_reason, stop_detail, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID, exec.BotID, exec.Number, string(exec.Status),
		exec.StartingCapital, exec.EndingCapital,
		exec.TradeCount, exec.ErrorCount,
		string(exec.StopReason), exec.StopDetail,
		exec.StartedAt.UTC(), nullTime(exec.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.CreateExecution: %s: %w", exec.ID, err)
	}
	return nil
}

// UpdateExecution rewrites the mutable columns of a run session.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, exec domain.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions SET
			status = ?, ending_capital = ?, trade_count = ?, error_count = ?,
			stop_reason = ?, stop_detail = ?, ended_at = ?
		WHERE id = ?
	`,
		string(exec.Status), exec.EndingCapital, exec.TradeCount, exec.ErrorCount,
		string(exec.StopReason), exec.StopDetail, nullTime(exec.EndedAt),
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateExecution: %s: %w", exec.ID, err)
	}
	return nil
}

// LastExecutionNumber returns the highest execution number recorded for
// the bot, 0 when it never ran.
func (s *SQLiteStore) LastExecutionNumber(ctx context.Context, botID string) (int, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(number) FROM executions WHERE bot_id = ?`, botID,
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("storage.LastExecutionNumber: %s: %w", botID, err)
	}
	return int(last.Int64), nil
}

// InsertTrade records a newly opened position.
func (s *SQLiteStore) InsertTrade(ctx context.Context, trade domain.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
			(id, bot_id, execution_id, symbol, side, status,
			 quantity, entry_price, exit_price,
			 stop_loss, take_profit, trailing_stop_pct, high_water_mark,
			 pnl, fees, close_reason, notes, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tradeArgs(trade)...)
	if err != nil {
		return fmt.Errorf("storage.InsertTrade: %s: %w", trade.ID, err)
	}
	return nil
}

// UpdateTrade rewrites a trade row, normally on close.
func (s *SQLiteStore) UpdateTrade(ctx context.Context, trade domain.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE trades SET
			status = ?, quantity = ?, entry_price = ?, exit_price = ?,
			stop_loss = ?, take_profit = ?, trailing_stop_pct = ?, high_water_mark = ?,
			pnl = ?, fees = ?, close_reason = ?, notes = ?, closed_at = ?
		WHERE id = ?
	`,
		string(trade.Status), trade.Quantity, trade.EntryPrice, trade.ExitPrice,
		trade.StopLoss, trade.TakeProfit, trade.TrailingStopPct, trade.HighWaterMark,
		trade.PnL, trade.Fees, string(trade.CloseReason), trade.Notes,
		nullTime(trade.ClosedAt), trade.ID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateTrade: %s: %w", trade.ID, err)
	}
	return nil
}

// TradesByExecution returns every trade of one run session in open order.
func (s *SQLiteStore) TradesByExecution(ctx context.Context, executionID string) ([]domain.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE execution_id = ? ORDER BY opened_at`,
		executionID)
}

// TradesByBot returns the bot's trades opened within [from, to]. Zero
// bounds widen the range to everything.
func (s *SQLiteStore) TradesByBot(ctx context.Context, botID string, from, to time.Time) ([]domain.Trade, error) {
	if to.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE bot_id = ? AND opened_at BETWEEN ? AND ? ORDER BY opened_at`,
		botID, from.UTC(), to.UTC())
}

// AppendLog appends one execution log line.
func (s *SQLiteStore) AppendLog(ctx context.Context, entry ports.LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (bot_id, execution_id, level, message, at) VALUES (?, ?, ?, ?, ?)`,
		entry.BotID, entry.ExecutionID, entry.Level, entry.Message, entry.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.AppendLog: %s: %w", entry.BotID, err)
	}
	return nil
}

// SaveBacktestRun persists a completed backtest result as one JSON blob.
func (s *SQLiteStore) SaveBacktestRun(ctx context.Context, result domain.BacktestResult) error {
	blob, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("storage.SaveBacktestRun: %s: marshal: %w", result.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, strategy_id, initial_capital, final_capital, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		result.ID, result.StrategyID, result.InitialCapital, result.FinalCapital,
		string(blob), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveBacktestRun: %s: %w", result.ID, err)
	}
	return nil
}

// GetBacktestRun loads one stored backtest result by id.
func (s *SQLiteStore) GetBacktestRun(ctx context.Context, id string) (domain.BacktestResult, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM backtest_runs WHERE id = ?`, id,
	).Scan(&blob)
	if err != nil {
		return domain.BacktestResult{}, fmt.Errorf("storage.GetBacktestRun: %s: %w", id, err)
	}
	var result domain.BacktestResult
	if err := json.Unmarshal([]byte(blob), &result); err != nil {
		return domain.BacktestResult{}, fmt.Errorf("storage.GetBacktestRun: %s: unmarshal: %w", id, err)
	}
	return result, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- internal helpers ---

const tradeColumns = `id, bot_id, execution_id, symbol, side, status,
	quantity, entry_price, exit_price,
	stop_loss, take_profit, trailing_stop_pct, high_water_mark,
	pnl, fees, close_reason, notes, opened_at, closed_at`

func (s *SQLiteStore) queryTrades(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryTrades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, status, closeReason string
		var openedAt time.Time
		var closedAt sql.NullTime

		if err := rows.Scan(
			&t.ID, &t.BotID, &t.ExecutionID, &t.Symbol, &side, &status,
			&t.Quantity, &t.EntryPrice, &t.ExitPrice,
			&t.StopLoss, &t.TakeProfit, &t.TrailingStopPct, &t.HighWaterMark,
			&t.PnL, &t.Fees, &closeReason, &t.Notes, &openedAt, &closedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.queryTrades: scan: %w", err)
		}

		t.Side = domain.Side(side)
		t.Status = domain.TradeStatus(status)
		t.CloseReason = domain.CloseReason(closeReason)
		t.OpenedAt = openedAt.UTC()
		if closedAt.Valid {
			at := closedAt.Time.UTC()
			t.ClosedAt = &at
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func tradeArgs(t domain.Trade) []any {
	return []any{
		t.ID, t.BotID, t.ExecutionID, t.Symbol, string(t.Side), string(t.Status),
		t.Quantity, t.EntryPrice, t.ExitPrice,
		t.StopLoss, t.TakeProfit, t.TrailingStopPct, t.HighWaterMark,
		t.PnL, t.Fees, string(t.CloseReason), t.Notes,
		t.OpenedAt.UTC(), nullTime(t.ClosedAt),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (domain.Bot, error) {
	var bot domain.Bot
	var botType, status, risk, window, strategy, metrics string
	var enabled, autoRestart, autoStopDD, autoStopLoss int
	var createdAt, updatedAt time.Time

	if err := row.Scan(
		&bot.ID, &bot.UserID, &bot.Name, &botType, &status,
		&bot.Exchange, &bot.Symbol,
		&bot.AllocatedCapital, &bot.CurrentCapital,
		&enabled, &autoRestart, &autoStopDD, &autoStopLoss,
		&risk, &window, &strategy, &metrics, &createdAt, &updatedAt,
	); err != nil {
		return domain.Bot{}, err
	}

	bot.Type = domain.BotType(botType)
	bot.Status = domain.BotStatus(status)
	bot.Enabled = enabled == 1
	bot.AutoRestart = autoRestart == 1
	bot.AutoStopOnDrawdown = autoStopDD == 1
	bot.AutoStopOnLoss = autoStopLoss == 1
	bot.CreatedAt = createdAt.UTC()
	bot.UpdatedAt = updatedAt.UTC()

	if err := json.Unmarshal([]byte(risk), &bot.Risk); err != nil {
		return domain.Bot{}, fmt.Errorf("risk blob: %w", err)
	}
	if err := json.Unmarshal([]byte(window), &bot.Window); err != nil {
		return domain.Bot{}, fmt.Errorf("window blob: %w", err)
	}
	if err := json.Unmarshal([]byte(strategy), &bot.Strategy); err != nil {
		return domain.Bot{}, fmt.Errorf("strategy blob: %w", err)
	}
	if err := json.Unmarshal([]byte(metrics), &bot.Metrics); err != nil {
		return domain.Bot{}, fmt.Errorf("metrics blob: %w", err)
	}
	return bot, nil
}

func marshalBotBlobs(bot domain.Bot) (risk, window, strategy, metrics string, err error) {
	blobs := make([]string, 4)
	for i, v := range []any{bot.Risk, bot.Window, bot.Strategy, bot.Metrics} {
		b, merr := json.Marshal(v)
		if merr != nil {
			return "", "", "", "", merr
		}
		blobs[i] = string(b)
	}
	return blobs[0], blobs[1], blobs[2], blobs[3], nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
