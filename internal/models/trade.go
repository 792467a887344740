package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable record of one executed trade.
type Trade struct {
	ID        string
	Account   AccountKey
	SessionID string
	Symbol    string
	Side      OrderSide
	Product   ProductType
	Quantity  int
	Price     decimal.Decimal
	Value     decimal.Decimal
	Fees      decimal.Decimal
	// RealizedPnL is set on sells only and is gross of fees.
	RealizedPnL decimal.Decimal
	OrderID     string
	Timestamp   time.Time
}

// TradeRequest asks the ledger to execute one trade.
type TradeRequest struct {
	Symbol    string
	Side      OrderSide
	Quantity  int
	Price     decimal.Decimal
	Product   ProductType
	SessionID string
	// OrderID is the broker order id for mirrored live trades. The ledger
	// assigns a paper order id when empty.
	OrderID string
}

// Signal is a trade intent produced by a strategy.
type Signal struct {
	Symbol    string
	Side      OrderSide
	Quantity  int
	Price     decimal.Decimal
	Reason    string
	Timestamp time.Time
}

// Value returns quantity × price.
func (s Signal) Value() decimal.Decimal {
	return s.Price.Mul(decimal.NewFromInt(int64(s.Quantity)))
}
