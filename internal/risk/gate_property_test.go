package risk

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"tradebot/internal/ledger"
	"tradebot/internal/models"
)

// Property: any BUY the gate approves executes on the ledger, and the
// committed capital afterwards stays under the ceiling.
func TestProperty_ApprovedBuysExecuteWithinCeiling(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("gate approval implies ledger success", prop.ForAll(
		func(qtys []int, pricePaise int) bool {
			cfg := ledger.DefaultConfig()
			cfg.DefaultCapital = decimal.NewFromInt(100000)
			l := ledger.New(cfg)
			g := NewGate(Config{MaxCapitalUsage: decimal.RequireFromString("0.8"), MaxPositions: 50}, l.Fees())
			key := models.AccountKey{UserID: "p", Mode: models.ModePaper}
			price := decimal.New(int64(pricePaise), -2)

			for i, q := range qtys {
				r := models.TradeRequest{
					Symbol:   []string{"A", "B", "C", "D"}[i%4],
					Side:     models.OrderSideBuy,
					Quantity: q,
					Price:    price,
					Product:  models.ProductMIS,
				}
				snap := l.Snapshot(key)
				if !g.Check(snap, r).OK {
					continue
				}
				if _, err := l.Execute(key, r); err != nil {
					t.Logf("approved trade failed: %v", err)
					return false
				}
				after := l.Snapshot(key)
				if after.UsedCapital().GreaterThan(decimal.NewFromInt(80000)) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 500)),
		gen.IntRange(100, 500000),
	))

	properties.TestingRun(t)
}
