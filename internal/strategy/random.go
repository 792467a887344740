package strategy

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/models"
)

// RandomConfig tunes the reference generator.
type RandomConfig struct {
	Strategy     string
	Quantity     int
	MaxPositions int
	// ScanLimit is how many symbols are considered per cycle.
	ScanLimit   int
	Probability float64
	Seed        int64
}

// RandomGenerator is a placeholder strategy. It picks symbols at random and
// trades those whose price sits outside a band around a fixed base price.
type RandomGenerator struct {
	cfg RandomConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomGenerator builds the reference generator from strategy params.
func NewRandomGenerator(strategyName string, params map[string]float64, seed int64) *RandomGenerator {
	params = Resolve(strategyName, params)
	cfg := RandomConfig{
		Strategy:     strategyName,
		Quantity:     int(params["quantity"]),
		MaxPositions: int(params["max_positions"]),
		ScanLimit:    10,
		Probability:  0.15,
		Seed:         seed,
	}
	return NewRandomGeneratorWithConfig(cfg)
}

// NewRandomGeneratorWithConfig builds a generator from an explicit config.
func NewRandomGeneratorWithConfig(cfg RandomConfig) *RandomGenerator {
	if cfg.Quantity <= 0 {
		cfg.Quantity = 10
	}
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = 5
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 10
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &RandomGenerator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (g *RandomGenerator) Name() string {
	return g.cfg.Strategy
}

var (
	buyBand  = decimal.RequireFromString("0.98")
	sellBand = decimal.RequireFromString("1.02")
	buySlip  = decimal.RequireFromString("1.005")
	sellSlip = decimal.RequireFromString("0.995")
)

// Generate returns at most one intent per scanned symbol.
func (g *RandomGenerator) Generate(ctx context.Context, in Input) []models.Signal {
	symbols := in.Prices.Symbols()
	sort.Strings(symbols)
	if len(symbols) > g.cfg.ScanLimit {
		symbols = symbols[:g.cfg.ScanLimit]
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	open := len(in.Held)
	var signals []models.Signal
	for _, sym := range symbols {
		if ctx.Err() != nil || open >= g.cfg.MaxPositions {
			break
		}
		if g.rng.Float64() >= g.cfg.Probability {
			continue
		}

		last := in.Prices[sym]
		base := BasePrice(sym)
		var s models.Signal
		switch {
		case last.LessThan(base.Mul(buyBand)):
			s = models.Signal{Side: models.OrderSideBuy, Price: last.Mul(buySlip).Round(2)}
		case last.GreaterThan(base.Mul(sellBand)):
			s = models.Signal{Side: models.OrderSideSell, Price: last.Mul(sellSlip).Round(2)}
		default:
			continue
		}
		s.Symbol = sym
		s.Quantity = g.cfg.Quantity
		s.Timestamp = time.Now()
		s.Reason = fmt.Sprintf("%s: last %s vs base %s", g.cfg.Strategy, last.StringFixed(2), base)
		signals = append(signals, s)
		open++
	}
	return signals
}

// BasePrice is the deterministic reference price of a symbol, between 1000
// and 5999.
func BasePrice(symbol string) decimal.Decimal {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return decimal.NewFromInt(int64(1000 + h.Sum32()%5000))
}
