// Package store provides durable storage for sessions, trades and logs.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/models"
)

// Store defines the persistence boundary of the trading core.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *models.BotSession) error
	UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, message string) error
	RequestStop(ctx context.Context, sessionID string) error
	FinishSession(ctx context.Context, sessionID string, status models.SessionStatus, message string, finalPnL decimal.Decimal, stoppedAt time.Time) error
	GetSession(ctx context.Context, sessionID string) (*models.BotSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]models.BotSession, error)

	// Trades
	SaveTrade(ctx context.Context, trade *models.Trade) error
	ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)

	// Session logs
	AppendLog(ctx context.Context, sessionID, level, message string) error
	ListLogs(ctx context.Context, sessionID string, limit int) ([]models.SessionLog, error)

	// Accounts
	GetAccount(ctx context.Context, key models.AccountKey) (*AccountRecord, error)
	SaveAccount(ctx context.Context, rec AccountRecord) error

	// Lifecycle
	Close() error
}

// SessionFilter represents filters for querying sessions.
type SessionFilter struct {
	UserID string
	Status models.SessionStatus
	Limit  int
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	UserID    string
	Mode      models.TradingMode
	SessionID string
	Symbol    string
	Side      models.OrderSide
	// After excludes trades at or before this instant.
	After       time.Time
	NewestFirst bool
	Limit       int
}

// AccountRecord is the persisted reset marker of a ledger account. Only
// trades after ResetAt belong to the current account state.
type AccountRecord struct {
	Key            models.AccountKey
	InitialCapital decimal.Decimal
	ResetAt        time.Time
}
