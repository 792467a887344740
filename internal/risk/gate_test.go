package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	apperrors "tradebot/internal/errors"
	"tradebot/internal/ledger"
	"tradebot/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func snapshot(cash string, positions ...models.Position) models.AccountSnapshot {
	return models.AccountSnapshot{
		InitialCapital: d("100000"),
		AvailableCash:  d(cash),
		Positions:      positions,
	}
}

func pos(symbol string, qty int, invested string) models.Position {
	return models.Position{Symbol: symbol, Quantity: qty, InvestedAmount: d(invested)}
}

func req(symbol string, side models.OrderSide, qty int, price string) models.TradeRequest {
	return models.TradeRequest{Symbol: symbol, Side: side, Quantity: qty, Price: d(price), Product: models.ProductCNC}
}

func TestCanAfford(t *testing.T) {
	g := NewGate(DefaultConfig(), ledger.DefaultFeeSchedule())

	tests := []struct {
		name    string
		snap    models.AccountSnapshot
		req     models.TradeRequest
		wantErr error
	}{
		{"affordable buy", snapshot("100000"), req("X", models.OrderSideBuy, 10, "100"), nil},
		{"cash short", snapshot("500"), req("X", models.OrderSideBuy, 10, "100"), apperrors.ErrInsufficientFunds},
		{"fees tip it over", snapshot("1000"), req("X", models.OrderSideBuy, 10, "100"), apperrors.ErrInsufficientFunds},
		{"capital ceiling", snapshot("30000", pos("A", 700, "70000")), req("X", models.OrderSideBuy, 100, "100"), apperrors.ErrCapitalLimit},
		{"exactly at ceiling before fees", snapshot("30000", pos("A", 700, "70000")), req("X", models.OrderSideBuy, 100, "99.99"), nil},
		{"sell held", snapshot("0", pos("X", 10, "1000")), req("X", models.OrderSideSell, 10, "100"), nil},
		{"sell not held", snapshot("0"), req("X", models.OrderSideSell, 1, "100"), apperrors.ErrNoPosition},
		{"oversell", snapshot("0", pos("X", 10, "1000")), req("X", models.OrderSideSell, 11, "100"), apperrors.ErrInsufficientQuantity},
		{"zero quantity", snapshot("1000"), req("X", models.OrderSideBuy, 0, "100"), apperrors.ErrInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := g.CanAfford(tt.snap, tt.req)
			if tt.wantErr == nil {
				assert.True(t, r.OK, r.Reason)
				assert.Empty(t, r.ChecksFailed)
				return
			}
			assert.False(t, r.OK)
			assert.ErrorIs(t, r.Err, tt.wantErr)
			assert.NotEmpty(t, r.Reason)
			assert.Len(t, r.ChecksFailed, 1)
		})
	}
}

func TestCapPositionCount(t *testing.T) {
	held := map[string]int{"A": 1, "B": 2}

	assert.True(t, CapPositionCount(held, "C", models.OrderSideBuy, 3))
	assert.False(t, CapPositionCount(held, "C", models.OrderSideBuy, 2))
	assert.True(t, CapPositionCount(held, "A", models.OrderSideBuy, 2))
	assert.True(t, CapPositionCount(held, "A", models.OrderSideSell, 0))
}

func TestCheckAppliesPositionCap(t *testing.T) {
	g := NewGate(Config{MaxCapitalUsage: d("0.8"), MaxPositions: 1}, ledger.DefaultFeeSchedule())
	snap := snapshot("90000", pos("A", 10, "1000"))

	r := g.Check(snap, req("B", models.OrderSideBuy, 1, "10"))
	assert.False(t, r.OK)
	assert.ErrorIs(t, r.Err, apperrors.ErrPositionLimit)
	assert.Equal(t, []string{"position_count"}, r.ChecksFailed)

	r = g.Check(snap, req("A", models.OrderSideSell, 10, "10"))
	assert.True(t, r.OK)
}

func TestFilterUniverse(t *testing.T) {
	got := FilterUniverse([]string{"A", "B", "C", "D"}, map[string]struct{}{"B": {}, "Z": {}})
	assert.Equal(t, []string{"A", "C", "D"}, got)
	assert.Empty(t, FilterUniverse(nil, nil))
}
