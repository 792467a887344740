package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	apperrors "tradebot/internal/errors"
	"tradebot/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Bot sessions
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		strategy TEXT NOT NULL,
		parameters TEXT,
		mode TEXT NOT NULL,
		initial_capital TEXT NOT NULL,
		target_profit TEXT NOT NULL,
		max_duration INTEGER NOT NULL,
		product TEXT NOT NULL,
		risk_level TEXT,
		status TEXT NOT NULL,
		stop_requested INTEGER DEFAULT 0,
		status_message TEXT,
		final_pnl TEXT DEFAULT '0',
		started_at DATETIME NOT NULL,
		stopped_at DATETIME
	);

	-- Executed trades, append-only
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		session_id TEXT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		product TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price TEXT NOT NULL,
		value TEXT NOT NULL,
		fees TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		order_id TEXT,
		timestamp DATETIME NOT NULL
	);

	-- Session log lines
	CREATE TABLE IF NOT EXISTS session_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	-- Ledger account reset markers
	CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		initial_capital TEXT NOT NULL,
		reset_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, mode)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(user_id, mode, timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session_id);
	CREATE INDEX IF NOT EXISTS idx_logs_session ON session_logs(session_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Sessions
// ============================================================================

const sessionColumns = `id, user_id, strategy, parameters, mode, initial_capital, target_profit, max_duration,
	product, risk_level, status, stop_requested, status_message, final_pnl, started_at, stopped_at`

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *models.BotSession) error {
	params, err := json.Marshal(session.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, session.ID, session.UserID, session.StrategyName, string(params), session.Mode,
		session.InitialCapital, session.TargetProfit, session.MaxDuration.Nanoseconds(),
		session.Product, session.RiskLevel, session.Status, session.StopRequested,
		session.StatusMessage, session.FinalPnL, session.StartedAt.UTC(), nullTime(session.StoppedAt))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// UpdateSessionStatus sets the status and status message of a session.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, status_message = ? WHERE id = ?`,
		status, message, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return requireRow(res, sessionID)
}

// RequestStop records a stop request. A running session moves to stopping;
// a terminal session keeps its status.
func (s *SQLiteStore) RequestStop(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET stop_requested = 1,
		    status = CASE WHEN status = ? THEN ? ELSE status END
		WHERE id = ?
	`, models.SessionRunning, models.SessionStopping, sessionID)
	if err != nil {
		return fmt.Errorf("failed to request stop: %w", err)
	}
	return requireRow(res, sessionID)
}

// FinishSession records the terminal status and final P&L of a session.
func (s *SQLiteStore) FinishSession(ctx context.Context, sessionID string, status models.SessionStatus, message string, finalPnL decimal.Decimal, stoppedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, status_message = ?, final_pnl = ?, stopped_at = ?
		WHERE id = ?
	`, status, message, finalPnL, stoppedAt.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	return requireRow(res, sessionID)
}

// GetSession returns one session or ErrSessionNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*models.BotSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewSessionError(sessionID, apperrors.ErrSessionNotFound, "no such session")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ListSessions returns sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]models.BotSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	args := []interface{}{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.BotSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*models.BotSession, error) {
	var (
		session     models.BotSession
		params      sql.NullString
		riskLevel   sql.NullString
		message     sql.NullString
		maxDuration int64
		stoppedAt   sql.NullTime
	)
	if err := row.Scan(&session.ID, &session.UserID, &session.StrategyName, &params, &session.Mode,
		&session.InitialCapital, &session.TargetProfit, &maxDuration, &session.Product, &riskLevel,
		&session.Status, &session.StopRequested, &message, &session.FinalPnL,
		&session.StartedAt, &stoppedAt); err != nil {
		return nil, err
	}

	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &session.Parameters); err != nil {
			return nil, fmt.Errorf("failed to decode parameters: %w", err)
		}
	}
	session.RiskLevel = riskLevel.String
	session.StatusMessage = message.String
	session.MaxDuration = time.Duration(maxDuration)
	if stoppedAt.Valid {
		t := stoppedAt.Time
		session.StoppedAt = &t
	}
	return &session, nil
}

// ============================================================================
// Trades
// ============================================================================

// SaveTrade appends a trade to the log.
func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *models.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, user_id, mode, session_id, symbol, side, product, quantity, price, value, fees, realized_pnl, order_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.Account.UserID, trade.Account.Mode, trade.SessionID, trade.Symbol, trade.Side,
		trade.Product, trade.Quantity, trade.Price, trade.Value, trade.Fees, trade.RealizedPnL,
		trade.OrderID, trade.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// ListTrades returns trades in execution order, or newest first when asked.
func (s *SQLiteStore) ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := `SELECT id, user_id, mode, session_id, symbol, side, product, quantity, price, value, fees, realized_pnl, order_id, timestamp
		FROM trades WHERE 1=1`
	args := []interface{}{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Mode != "" {
		query += " AND mode = ?"
		args = append(args, filter.Mode)
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Side != "" {
		query += " AND side = ?"
		args = append(args, filter.Side)
	}
	if !filter.After.IsZero() {
		query += " AND timestamp > ?"
		args = append(args, filter.After.UTC())
	}

	if filter.NewestFirst {
		query += " ORDER BY timestamp DESC, id DESC"
	} else {
		query += " ORDER BY timestamp ASC, id ASC"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var (
			t         models.Trade
			sessionID sql.NullString
			orderID   sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Account.UserID, &t.Account.Mode, &sessionID, &t.Symbol, &t.Side,
			&t.Product, &t.Quantity, &t.Price, &t.Value, &t.Fees, &t.RealizedPnL, &orderID, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.SessionID = sessionID.String
		t.OrderID = orderID.String
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// ============================================================================
// Session logs
// ============================================================================

// AppendLog adds a log line to a session.
func (s *SQLiteStore) AppendLog(ctx context.Context, sessionID, level, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_logs (session_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, level, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append session log: %w", err)
	}
	return nil
}

// ListLogs returns a session's log lines, oldest first. A positive limit
// keeps the most recent lines.
func (s *SQLiteStore) ListLogs(ctx context.Context, sessionID string, limit int) ([]models.SessionLog, error) {
	query := `SELECT id, session_id, level, message, created_at FROM session_logs WHERE session_id = ? ORDER BY id DESC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query session logs: %w", err)
	}
	defer rows.Close()

	var logs []models.SessionLog
	for rows.Next() {
		var l models.SessionLog
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Level, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

// ============================================================================
// Accounts
// ============================================================================

// GetAccount returns the reset marker for key, or nil if the account was
// never reset.
func (s *SQLiteStore) GetAccount(ctx context.Context, key models.AccountKey) (*AccountRecord, error) {
	rec := AccountRecord{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT initial_capital, reset_at FROM accounts WHERE user_id = ? AND mode = ?`,
		key.UserID, key.Mode).Scan(&rec.InitialCapital, &rec.ResetAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &rec, nil
}

// SaveAccount writes the reset marker for an account.
func (s *SQLiteStore) SaveAccount(ctx context.Context, rec AccountRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, mode, initial_capital, reset_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, mode) DO UPDATE SET initial_capital = excluded.initial_capital, reset_at = excluded.reset_at
	`, rec.Key.UserID, rec.Key.Mode, rec.InitialCapital, rec.ResetAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, sessionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NewSessionError(sessionID, apperrors.ErrSessionNotFound, "no such session")
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
