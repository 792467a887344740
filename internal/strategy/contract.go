package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"tradebot/internal/ledger"
	"tradebot/internal/models"
)

// Input is what a generator sees each cycle.
type Input struct {
	Prices        models.Prices
	Held          map[string]int
	AvailableCash decimal.Decimal
}

// Generator proposes trade intents.
type Generator interface {
	Name() string
	Generate(ctx context.Context, in Input) []models.Signal
}

// Contract bounds generator output.
type Contract struct {
	MaxSignals int
	// MaxCashFraction caps the cost of each BUY, fees included, as a
	// fraction of available cash.
	MaxCashFraction decimal.Decimal
	Fees            ledger.FeeSchedule
	Product         models.ProductType
}

// Enforce drops or shrinks signals that break the contract:
// at most MaxSignals intents, every BUY within MaxCashFraction of cash, and
// every SELL on a held symbol for no more than the held quantity.
func (c Contract) Enforce(in Input, signals []models.Signal) []models.Signal {
	budget := in.AvailableCash.Mul(c.MaxCashFraction)
	out := make([]models.Signal, 0, len(signals))

	for _, s := range signals {
		if c.MaxSignals > 0 && len(out) >= c.MaxSignals {
			break
		}
		if s.Quantity <= 0 || !s.Price.IsPositive() {
			continue
		}

		switch s.Side {
		case models.OrderSideSell:
			held, ok := in.Held[s.Symbol]
			if !ok || held <= 0 {
				continue
			}
			if s.Quantity > held {
				s.Quantity = held
			}
		case models.OrderSideBuy:
			qty := c.affordableQuantity(s.Price, s.Quantity, budget)
			if qty <= 0 {
				continue
			}
			s.Quantity = qty
		default:
			continue
		}
		out = append(out, s)
	}
	return out
}

// EstimatedCost returns value plus fees for a BUY of qty at price.
func (c Contract) EstimatedCost(price decimal.Decimal, qty int) decimal.Decimal {
	value := price.Mul(decimal.NewFromInt(int64(qty)))
	return value.Add(c.Fees.Total(value, models.OrderSideBuy, c.Product))
}

func (c Contract) affordableQuantity(price decimal.Decimal, want int, budget decimal.Decimal) int {
	qty := want
	if max := budget.Div(price).IntPart(); int64(qty) > max {
		qty = int(max)
	}
	for qty > 0 && c.EstimatedCost(price, qty).GreaterThan(budget) {
		qty--
	}
	return qty
}
