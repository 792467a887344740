package broker

import (
	"context"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"tradebot/internal/id"
	"tradebot/internal/models"
	"tradebot/internal/strategy"
)

var indexBasePrice = decimal.NewFromInt(10000)

// SimulatedConfig configures the paper-mode quote feed.
type SimulatedConfig struct {
	// Variation is the maximum relative move around the base price.
	Variation float64
	Cash      decimal.Decimal
	// IsIndex reports index symbols, which quote around 10000.
	IsIndex func(symbol string) bool
	Seed    int64
}

// SimulatedBroker quotes random prices around a fixed per-symbol base and
// fills every order immediately.
type SimulatedBroker struct {
	cfg SimulatedConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedBroker creates a simulated broker.
func NewSimulatedBroker(cfg SimulatedConfig) *SimulatedBroker {
	if cfg.Variation <= 0 {
		cfg.Variation = 0.05
	}
	if cfg.IsIndex == nil {
		cfg.IsIndex = func(string) bool { return false }
	}
	return &SimulatedBroker{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Name implements Broker.
func (s *SimulatedBroker) Name() string { return "simulated" }

// GetQuotes returns a price for every symbol.
func (s *SimulatedBroker) GetQuotes(ctx context.Context, symbols []string) (models.Prices, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prices := make(models.Prices, len(symbols))
	for _, sym := range symbols {
		base := strategy.BasePrice(sym)
		if s.cfg.IsIndex(sym) {
			base = indexBasePrice
		}
		move := (s.rng.Float64()*2 - 1) * s.cfg.Variation
		prices[sym] = base.Mul(decimal.NewFromFloat(1 + move)).Round(2)
	}
	return prices, nil
}

// PlaceOrder accepts every order.
func (s *SimulatedBroker) PlaceOrder(ctx context.Context, order *OrderRequest) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &OrderResult{
		OrderID: id.WithPrefix("PAPER"),
		Status:  "COMPLETE",
		Message: "Simulated fill",
	}, nil
}

// GetBalance returns the configured cash.
func (s *SimulatedBroker) GetBalance(ctx context.Context) (*Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Balance{AvailableCash: s.cfg.Cash, Net: s.cfg.Cash}, nil
}

// CheckConnection always succeeds.
func (s *SimulatedBroker) CheckConnection(ctx context.Context) error {
	return ctx.Err()
}
