package ledger

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tradebot/internal/errors"
	"tradebot/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestLedger(capital string) (*Ledger, models.AccountKey) {
	cfg := DefaultConfig()
	cfg.DefaultCapital = d(capital)
	return New(cfg), models.AccountKey{UserID: "u1", Mode: models.ModePaper}
}

func buy(symbol string, qty int, price string) models.TradeRequest {
	return models.TradeRequest{Symbol: symbol, Side: models.OrderSideBuy, Quantity: qty, Price: d(price), Product: models.ProductCNC}
}

func sell(symbol string, qty int, price string) models.TradeRequest {
	return models.TradeRequest{Symbol: symbol, Side: models.OrderSideSell, Quantity: qty, Price: d(price), Product: models.ProductCNC}
}

func TestFeeSchedule(t *testing.T) {
	f := DefaultFeeSchedule()

	t.Run("delivery buy has no brokerage and pays stamp duty", func(t *testing.T) {
		b := f.Compute(d("1000"), models.OrderSideBuy, models.ProductCNC)
		assert.True(t, b.Brokerage.IsZero())
		assert.True(t, b.STT.IsZero())
		assert.True(t, b.StampDuty.Equal(d("0.03")))
		assert.True(t, b.TransactionCharge.Equal(d("0.03")))
		assert.True(t, b.GST.Equal(d("0.01")))
		assert.True(t, b.Total.Equal(d("0.07")), b.Total.String())
	})

	t.Run("delivery sell pays STT and no stamp duty", func(t *testing.T) {
		b := f.Compute(d("1100"), models.OrderSideSell, models.ProductCNC)
		assert.True(t, b.STT.Equal(d("0.28")), b.STT.String())
		assert.True(t, b.StampDuty.IsZero())
	})

	t.Run("intraday brokerage is capped", func(t *testing.T) {
		small := f.Compute(d("10000"), models.OrderSideBuy, models.ProductMIS)
		assert.True(t, small.Brokerage.Equal(d("3")))

		large := f.Compute(d("1000000"), models.OrderSideBuy, models.ProductMIS)
		assert.True(t, large.Brokerage.Equal(d("20")))
	})

	t.Run("negative rate is rejected", func(t *testing.T) {
		bad := DefaultFeeSchedule()
		bad.STTRate = d("-0.1")
		assert.ErrorIs(t, bad.Validate(), apperrors.ErrInvalidParameters)
		assert.NoError(t, f.Validate())
	})
}

func TestScenario_BuyThenSellForProfit(t *testing.T) {
	l, key := newTestLedger("100000")

	bt, err := l.Execute(key, buy("X", 10, "100"))
	require.NoError(t, err)

	snap := l.Snapshot(key)
	assert.True(t, snap.AvailableCash.Equal(d("99000").Sub(bt.Fees)))
	assert.InDelta(t, 98990, snap.AvailableCash.InexactFloat64(), 20)
	pos, ok := snap.Position("X")
	require.True(t, ok)
	assert.Equal(t, 10, pos.Quantity)
	assert.True(t, pos.AveragePrice.Equal(d("100")))

	st, err := l.Execute(key, sell("X", 10, "110"))
	require.NoError(t, err)

	snap = l.Snapshot(key)
	_, ok = snap.Position("X")
	assert.False(t, ok)
	assert.True(t, snap.RealizedPnL.Equal(d("100")))
	assert.True(t, st.RealizedPnL.Equal(d("100")))
	assert.True(t, snap.AvailableCash.Equal(d("100100").Sub(bt.Fees).Sub(st.Fees)))
	assert.Equal(t, 2, snap.TradeCount)

	r := l.PnL(key, nil)
	assert.True(t, r.NetPnL.Equal(d("100").Sub(bt.Fees).Sub(st.Fees)))
}

func TestScenario_WeightedAverage(t *testing.T) {
	l, key := newTestLedger("100000")

	_, err := l.Execute(key, buy("X", 5, "100"))
	require.NoError(t, err)
	_, err = l.Execute(key, buy("X", 5, "200"))
	require.NoError(t, err)

	pos, ok := l.Snapshot(key).Position("X")
	require.True(t, ok)
	assert.Equal(t, 10, pos.Quantity)
	assert.True(t, pos.AveragePrice.Equal(d("150")))
	assert.True(t, pos.InvestedAmount.Equal(d("1500")))
}

func TestScenario_InsufficientFunds(t *testing.T) {
	l, key := newTestLedger("500")
	before := l.Snapshot(key)

	_, err := l.Execute(key, buy("X", 10, "100"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
	assert.Contains(t, apperrors.Reason(err), "available ₹500.00")

	after := l.Snapshot(key)
	assert.Equal(t, before, after)
	assert.Empty(t, l.Trades(key))
}

func TestSellRejections(t *testing.T) {
	l, key := newTestLedger("100000")

	_, err := l.Execute(key, sell("X", 1, "100"))
	assert.ErrorIs(t, err, apperrors.ErrNoPosition)

	_, err = l.Execute(key, buy("X", 5, "100"))
	require.NoError(t, err)
	before := l.Snapshot(key)

	_, err = l.Execute(key, sell("X", 6, "100"))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientQuantity)
	assert.Equal(t, before, l.Snapshot(key))
}

func TestInvalidParameters(t *testing.T) {
	l, key := newTestLedger("100000")

	cases := []models.TradeRequest{
		buy("X", 0, "100"),
		buy("X", -1, "100"),
		buy("X", 1, "0"),
		buy("", 1, "100"),
		{Symbol: "X", Side: "HOLD", Quantity: 1, Price: d("1"), Product: models.ProductCNC},
		{Symbol: "X", Side: models.OrderSideBuy, Quantity: 1, Price: d("1"), Product: "NRML"},
	}
	for _, req := range cases {
		_, err := l.Execute(key, req)
		assert.ErrorIs(t, err, apperrors.ErrInvalidParameters, "%+v", req)
	}
	assert.Equal(t, 0, l.Snapshot(key).TradeCount)
}

func TestPartialSellKeepsCostBasis(t *testing.T) {
	l, key := newTestLedger("100000")

	_, err := l.Execute(key, buy("X", 3, "100"))
	require.NoError(t, err)
	_, err = l.Execute(key, buy("X", 4, "101"))
	require.NoError(t, err)

	st, err := l.Execute(key, sell("X", 2, "110"))
	require.NoError(t, err)

	pos, ok := l.Snapshot(key).Position("X")
	require.True(t, ok)
	assert.Equal(t, 5, pos.Quantity)
	// 704 invested, 2/7 of it released.
	assert.True(t, st.RealizedPnL.Equal(d("220").Sub(d("201.142857"))), st.RealizedPnL.String())
	assert.True(t, pos.InvestedAmount.Equal(d("704").Sub(d("201.142857"))))

	_, err = l.Execute(key, sell("X", 5, "110"))
	require.NoError(t, err)
	snap := l.Snapshot(key)
	assert.True(t, snap.RealizedPnL.Equal(d("770").Sub(d("704"))))
}

func TestPnLReport(t *testing.T) {
	l, key := newTestLedger("100000")

	bt, err := l.Execute(key, buy("X", 10, "100"))
	require.NoError(t, err)

	r := l.PnL(key, models.Prices{"X": d("120")})
	assert.True(t, r.UnrealizedPnL.Equal(d("200")))
	assert.True(t, r.PositionsValue.Equal(d("1200")))
	assert.True(t, r.TotalPnL.Equal(d("200")))
	assert.True(t, r.NetPnL.Equal(d("200").Sub(bt.Fees)))
	assert.True(t, r.PortfolioValue.Equal(r.AvailableCash.Add(d("1200"))))
	require.Len(t, r.Positions, 1)
	assert.True(t, r.Positions[0].PnLPercent.Equal(d("20")))

	// Missing price values the position at cost.
	r = l.PnL(key, models.Prices{})
	assert.True(t, r.UnrealizedPnL.IsZero())
}

func TestSummary(t *testing.T) {
	l, key := newTestLedger("100000")
	_, err := l.Execute(key, buy("X", 100, "200"))
	require.NoError(t, err)

	s := l.Summary(key, models.Prices{"X": d("200")})
	assert.True(t, s.InvestedAmount.Equal(d("20000")))
	assert.True(t, s.CapitalUsagePercent.Equal(d("20")))
	assert.Equal(t, 1, s.TradeCount)
	assert.Len(t, s.Positions, 1)
}

func TestExitAllPartialFailure(t *testing.T) {
	l, key := newTestLedger("100000")
	for _, sym := range []string{"A", "B", "C"} {
		_, err := l.Execute(key, buy(sym, 2, "100"))
		require.NoError(t, err)
	}

	report := l.ExitAll(key, models.Prices{"A": d("100"), "C": d("90")}, models.ProductCNC, "s1")
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "B", report.Failures[0].Symbol)

	for _, tr := range report.Trades {
		assert.Equal(t, "s1", tr.SessionID)
		assert.Equal(t, models.OrderSideSell, tr.Side)
	}
	assert.True(t, report.Trades[0].Price.Equal(d("99.5")))

	positions := l.Positions(key)
	require.Len(t, positions, 1)
	assert.Equal(t, "B", positions[0].Symbol)
}

func TestResetKeepsLogAndRestoresCapital(t *testing.T) {
	l, key := newTestLedger("100000")
	_, err := l.Execute(key, buy("X", 10, "100"))
	require.NoError(t, err)

	snap := l.Reset(key, d("50000"))
	assert.True(t, snap.AvailableCash.Equal(d("50000")))
	assert.True(t, snap.InitialCapital.Equal(d("50000")))
	assert.Empty(t, snap.Positions)
	assert.Empty(t, l.Trades(key))

	_, err = l.Execute(key, buy("Y", 1, "10"))
	require.NoError(t, err)
	assert.Len(t, l.Trades(key), 1)
}

func TestAccountsAreIsolated(t *testing.T) {
	l, key := newTestLedger("1000")
	other := models.AccountKey{UserID: "u1", Mode: models.ModeLive}

	_, err := l.Execute(key, buy("X", 5, "100"))
	require.NoError(t, err)

	assert.Empty(t, l.Positions(other))
	assert.True(t, l.Snapshot(other).AvailableCash.Equal(d("1000")))
}

func TestConcurrentTradesSerialize(t *testing.T) {
	l, key := newTestLedger("100000")

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = l.Execute(key, buy("X", 1, "10"))
				_, _ = l.Execute(key, sell("X", 1, "11"))
			}
		}()
	}
	wg.Wait()

	l.ExitAll(key, models.Prices{"X": d("10")}, models.ProductCNC, "")
	snap := l.Snapshot(key)
	assert.Empty(t, snap.Positions)
	assert.Equal(t, len(l.Trades(key)), snap.TradeCount)
	assert.True(t, snap.AvailableCash.Equal(snap.InitialCapital.Add(snap.RealizedPnL).Sub(snap.TotalBrokeragePaid)))
}
