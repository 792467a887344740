package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/ledger"
	"tradebot/internal/models"
)

func testContract() Contract {
	return Contract{
		MaxSignals:      3,
		MaxCashFraction: decimal.RequireFromString("0.1"),
		Fees:            ledger.DefaultFeeSchedule(),
		Product:         models.ProductCNC,
	}
}

func TestEnforce(t *testing.T) {
	c := testContract()
	in := Input{
		Held:          map[string]int{"HELD": 4},
		AvailableCash: decimal.NewFromInt(10000),
	}
	signals := []models.Signal{
		{Symbol: "HELD", Side: models.OrderSideSell, Quantity: 10, Price: decimal.NewFromInt(100)},
		{Symbol: "NOPE", Side: models.OrderSideSell, Quantity: 1, Price: decimal.NewFromInt(100)},
		{Symbol: "BIG", Side: models.OrderSideBuy, Quantity: 50, Price: decimal.NewFromInt(100)},
		{Symbol: "HUGE", Side: models.OrderSideBuy, Quantity: 1, Price: decimal.NewFromInt(5000)},
		{Symbol: "OK1", Side: models.OrderSideBuy, Quantity: 1, Price: decimal.NewFromInt(10)},
		{Symbol: "OK2", Side: models.OrderSideBuy, Quantity: 1, Price: decimal.NewFromInt(10)},
	}

	out := c.Enforce(in, signals)
	require.Len(t, out, 3)

	assert.Equal(t, "HELD", out[0].Symbol)
	assert.Equal(t, 4, out[0].Quantity)

	// 10% of 10,000 is 1,000; 10 shares at 100 plus fees exceeds it.
	assert.Equal(t, "BIG", out[1].Symbol)
	assert.Equal(t, 9, out[1].Quantity)

	assert.Equal(t, "OK1", out[2].Symbol)
}

// Property: enforced output always satisfies the contract.
func TestProperty_EnforcedSignalsHonourContract(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	symbols := []string{"A", "B", "C", "D", "E", "F"}

	properties.Property("bounded count, affordable buys, held sells", prop.ForAll(
		func(raw []int, cashRupees int) bool {
			c := testContract()
			in := Input{
				Held:          map[string]int{"A": 5, "B": 1},
				AvailableCash: decimal.NewFromInt(int64(cashRupees)),
			}
			var signals []models.Signal
			for _, v := range raw {
				side := models.OrderSideBuy
				if v%2 == 0 {
					side = models.OrderSideSell
				}
				signals = append(signals, models.Signal{
					Symbol:   symbols[(v/2)%len(symbols)],
					Side:     side,
					Quantity: (v/12)%30 + 1,
					Price:    decimal.New(int64(100+(v/360)%100000), -2),
				})
			}

			out := c.Enforce(in, signals)
			if len(out) > c.MaxSignals {
				return false
			}
			budget := in.AvailableCash.Mul(c.MaxCashFraction)
			for _, s := range out {
				switch s.Side {
				case models.OrderSideBuy:
					if c.EstimatedCost(s.Price, s.Quantity).GreaterThan(budget) {
						return false
					}
				case models.OrderSideSell:
					held, ok := in.Held[s.Symbol]
					if !ok || s.Quantity > held {
						return false
					}
				}
				if s.Quantity <= 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1<<22)),
		gen.IntRange(0, 500000),
	))

	properties.TestingRun(t)
}

func TestRandomGenerator(t *testing.T) {
	g := NewRandomGeneratorWithConfig(RandomConfig{
		Strategy:     "breakout",
		Quantity:     3,
		MaxPositions: 2,
		Probability:  1,
		Seed:         42,
	})

	cheap := func(sym string) decimal.Decimal { return BasePrice(sym).Mul(decimal.RequireFromString("0.9")) }
	dear := func(sym string) decimal.Decimal { return BasePrice(sym).Mul(decimal.RequireFromString("1.1")) }
	in := Input{
		Prices: models.Prices{
			"AAA": cheap("AAA"),
			"BBB": dear("BBB"),
			"CCC": BasePrice("CCC"),
			"DDD": cheap("DDD"),
		},
		Held:          map[string]int{},
		AvailableCash: decimal.NewFromInt(1000000),
	}

	out := g.Generate(context.Background(), in)
	require.Len(t, out, 2, "stops at max positions")
	assert.Equal(t, "AAA", out[0].Symbol)
	assert.Equal(t, models.OrderSideBuy, out[0].Side)
	assert.True(t, out[0].Price.Equal(cheap("AAA").Mul(decimal.RequireFromString("1.005")).Round(2)))
	assert.Equal(t, 3, out[0].Quantity)
	assert.Equal(t, "BBB", out[1].Symbol)
	assert.Equal(t, models.OrderSideSell, out[1].Side)
	assert.Equal(t, "breakout", g.Name())
}

func TestRandomGeneratorRespectsCancelledContext(t *testing.T) {
	g := NewRandomGenerator("breakout", nil, 7)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := g.Generate(ctx, Input{Prices: models.Prices{"AAA": decimal.NewFromInt(1)}})
	assert.Empty(t, out)
}

func TestBasePriceRange(t *testing.T) {
	for _, s := range []string{"RELIANCE", "TCS", "INFY", "X"} {
		p := BasePrice(s)
		assert.True(t, p.GreaterThanOrEqual(decimal.NewFromInt(1000)))
		assert.True(t, p.LessThan(decimal.NewFromInt(6000)))
		assert.True(t, p.Equal(BasePrice(s)))
	}
}
