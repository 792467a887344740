// Package models provides domain models for the trading bot.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE     Exchange = "NSE"
	BSE     Exchange = "BSE"
	Indices Exchange = "INDICES"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ParseOrderSide parses a case-insensitive order side.
func ParseOrderSide(s string) (OrderSide, error) {
	switch OrderSide(strings.ToUpper(strings.TrimSpace(s))) {
	case OrderSideBuy:
		return OrderSideBuy, nil
	case OrderSideSell:
		return OrderSideSell, nil
	}
	return "", fmt.Errorf("unknown order side %q", s)
}

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS ProductType = "MIS" // Intraday
	ProductCNC ProductType = "CNC" // Delivery
)

// Valid reports whether p is a supported product.
func (p ProductType) Valid() bool {
	return p == ProductMIS || p == ProductCNC
}

// TradingMode selects between the virtual account and a real broker account.
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeLive  TradingMode = "live"
)

// Valid reports whether m is a supported mode.
func (m TradingMode) Valid() bool {
	return m == ModePaper || m == ModeLive
}

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketPreOpen MarketStatus = "PRE_OPEN"
	MarketClosed  MarketStatus = "CLOSED"
)

// Quote is a last-traded price for one symbol.
type Quote struct {
	Symbol    string
	LTP       decimal.Decimal
	Timestamp time.Time
}

// Prices maps symbol to last-traded price.
type Prices map[string]decimal.Decimal

// Symbols returns the symbols in p.
func (p Prices) Symbols() []string {
	out := make([]string, 0, len(p))
	for s := range p {
		out = append(out, s)
	}
	return out
}
