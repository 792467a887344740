package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a bot session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionStopping  SessionStatus = "stopping"
	SessionStopped   SessionStatus = "stopped"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// Finished reports whether the session has a final result. A stopping
// session may still have a loop that has yet to notice the request.
func (s SessionStatus) Finished() bool {
	switch s {
	case SessionStopped, SessionCompleted, SessionError:
		return true
	}
	return false
}

// SessionConfig is the input to starting a bot session.
type SessionConfig struct {
	UserID         string
	Mode           TradingMode
	StrategyName   string
	Parameters     map[string]float64
	InitialCapital decimal.Decimal
	TargetProfit   decimal.Decimal
	MaxDuration    time.Duration
	Product        ProductType
	RiskLevel      string
}

// BotSession is the persisted record of a trading session.
type BotSession struct {
	ID             string
	UserID         string
	StrategyName   string
	Parameters     map[string]float64
	Mode           TradingMode
	InitialCapital decimal.Decimal
	TargetProfit   decimal.Decimal
	MaxDuration    time.Duration
	Product        ProductType
	RiskLevel      string
	Status         SessionStatus
	StopRequested  bool
	StatusMessage  string
	FinalPnL       decimal.Decimal
	StartedAt      time.Time
	StoppedAt      *time.Time
}

// Account returns the ledger account the session trades on.
func (s *BotSession) Account() AccountKey {
	return AccountKey{UserID: s.UserID, Mode: s.Mode}
}

// SessionLog is a persisted log line attached to a session.
type SessionLog struct {
	ID        int64
	SessionID string
	Level     string
	Message   string
	CreatedAt time.Time
}

// SessionPerformance reports progress of a session against its targets.
type SessionPerformance struct {
	SessionID            string
	Strategy             string
	Status               SessionStatus
	InitialCapital       decimal.Decimal
	TargetProfit         decimal.Decimal
	MaxDurationHours     float64
	RunningTimeHours     float64
	TimeRemainingHours   float64
	ProfitTargetAchieved bool
	TradeCount           int
	SessionFees          decimal.Decimal
	PositionsCount       int
	CapitalUsagePercent  decimal.Decimal
	PnL                  PnLReport
}
