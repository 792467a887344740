package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AccountKey identifies one ledger account. Each user has at most one
// account per trading mode.
type AccountKey struct {
	UserID string
	Mode   TradingMode
}

func (k AccountKey) String() string {
	return fmt.Sprintf("%s/%s", k.UserID, k.Mode)
}

// Position is an open holding of a symbol. It exists only while Quantity > 0.
type Position struct {
	Symbol         string
	Quantity       int
	AveragePrice   decimal.Decimal
	InvestedAmount decimal.Decimal
}

// AccountSnapshot is a point-in-time copy of an account.
type AccountSnapshot struct {
	Key                AccountKey
	InitialCapital     decimal.Decimal
	AvailableCash      decimal.Decimal
	TotalBrokeragePaid decimal.Decimal
	RealizedPnL        decimal.Decimal
	TradeCount         int
	Positions          []Position
}

// UsedCapital is the cost basis committed to open positions.
func (s AccountSnapshot) UsedCapital() decimal.Decimal {
	used := decimal.Zero
	for _, p := range s.Positions {
		used = used.Add(p.InvestedAmount)
	}
	return used
}

// Position returns the open position for symbol, if any.
func (s AccountSnapshot) Position(symbol string) (Position, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return Position{}, false
}

// HeldQuantities maps symbol to held quantity.
func (s AccountSnapshot) HeldQuantities() map[string]int {
	out := make(map[string]int, len(s.Positions))
	for _, p := range s.Positions {
		out[p.Symbol] = p.Quantity
	}
	return out
}

// PositionPnL is the mark-to-market view of one position.
type PositionPnL struct {
	Position
	CurrentPrice  decimal.Decimal
	CurrentValue  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	PnLPercent    decimal.Decimal
}

// PnLReport values an account at supplied prices.
//
// RealizedPnL is gross of fees. NetPnL = RealizedPnL + UnrealizedPnL - TotalFees.
type PnLReport struct {
	Key            AccountKey
	InitialCapital decimal.Decimal
	AvailableCash  decimal.Decimal
	PositionsValue decimal.Decimal
	PortfolioValue decimal.Decimal
	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	TotalPnL       decimal.Decimal
	TotalFees      decimal.Decimal
	NetPnL         decimal.Decimal
	ReturnPercent  decimal.Decimal
	Positions      []PositionPnL
}

// ExitFailure records a position that could not be closed.
type ExitFailure struct {
	Symbol string
	Reason string
}

// ExitReport summarises an exit-all run.
type ExitReport struct {
	Succeeded int
	Failed    int
	Trades    []Trade
	Failures  []ExitFailure
}

// PortfolioSummary is the user-facing view of an account.
type PortfolioSummary struct {
	Key                 AccountKey
	InitialCapital      decimal.Decimal
	AvailableCash       decimal.Decimal
	InvestedAmount      decimal.Decimal
	PositionsValue      decimal.Decimal
	PortfolioValue      decimal.Decimal
	NetPnL              decimal.Decimal
	ReturnPercent       decimal.Decimal
	CapitalUsagePercent decimal.Decimal
	TotalBrokerage      decimal.Decimal
	TradeCount          int
	Positions           []PositionPnL
}
