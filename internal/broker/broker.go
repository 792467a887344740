// Package broker provides the brokerage client adapters.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"tradebot/internal/models"
)

// Broker is the capability set the trading core needs from a brokerage.
type Broker interface {
	Name() string

	// GetQuotes returns last prices for the symbols it could price.
	// Symbols it could not price are absent from the result; an error is
	// returned only when nothing could be priced.
	GetQuotes(ctx context.Context, symbols []string) (models.Prices, error)

	PlaceOrder(ctx context.Context, order *OrderRequest) (*OrderResult, error)
	GetBalance(ctx context.Context) (*Balance, error)

	// CheckConnection verifies credentials with a cheap authenticated call.
	CheckConnection(ctx context.Context) error
}

// OrderRequest is a limit order for an equity symbol.
type OrderRequest struct {
	Symbol   string
	Side     models.OrderSide
	Quantity int
	Price    decimal.Decimal
	Product  models.ProductType
	Tag      string
}

// OrderResult represents the result of an order placement.
type OrderResult struct {
	OrderID string
	Status  string
	Message string
}

// Balance is the equity segment balance.
type Balance struct {
	AvailableCash decimal.Decimal
	Net           decimal.Decimal
}
