package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tradebot/internal/errors"
	"tradebot/internal/models"
	"tradebot/internal/resilience"
	"tradebot/internal/strategy"
	"tradebot/pkg/utils"
)

func TestSimulatedQuotesStayInBand(t *testing.T) {
	s := NewSimulatedBroker(SimulatedConfig{
		Cash:    decimal.NewFromInt(50000),
		IsIndex: func(sym string) bool { return sym == "NIFTY" },
		Seed:    7,
	})

	for i := 0; i < 50; i++ {
		prices, err := s.GetQuotes(context.Background(), []string{"TCS", "NIFTY"})
		require.NoError(t, err)
		require.Len(t, prices, 2)

		base := strategy.BasePrice("TCS")
		lo, hi := base.Mul(decimal.RequireFromString("0.95")), base.Mul(decimal.RequireFromString("1.05"))
		assert.True(t, prices["TCS"].GreaterThanOrEqual(lo.Round(2)) && prices["TCS"].LessThanOrEqual(hi.Round(2)), prices["TCS"].String())
		assert.True(t, prices["NIFTY"].GreaterThanOrEqual(decimal.NewFromInt(9500)) && prices["NIFTY"].LessThanOrEqual(decimal.NewFromInt(10500)))
	}

	bal, err := s.GetBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, bal.AvailableCash.Equal(decimal.NewFromInt(50000)))

	res, err := s.PlaceOrder(context.Background(), &OrderRequest{Symbol: "TCS", Side: models.OrderSideBuy, Quantity: 1})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.OrderID, "PAPER_"))
}

func TestSimulatedHonoursCancellation(t *testing.T) {
	s := NewSimulatedBroker(SimulatedConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.GetQuotes(ctx, []string{"TCS"})
	assert.ErrorIs(t, err, context.Canceled)
}

func kiteServer(t *testing.T, handler http.HandlerFunc) *KiteBroker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	k, err := NewKiteBroker(KiteConfig{
		APIKey:      "key",
		AccessToken: "token",
		BaseURI:     srv.URL,
		BatchSize:   2,
	})
	require.NoError(t, err)
	return k
}

func TestKiteRequiresCredentials(t *testing.T) {
	_, err := NewKiteBroker(KiteConfig{APIKey: "key"})
	assert.ErrorIs(t, err, apperrors.ErrBrokerCredentials)
	assert.Equal(t, apperrors.KindBrokerCredentials, apperrors.Kind(err))
}

func TestKiteQuotesToleratePartialData(t *testing.T) {
	k := kiteServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		instruments := r.URL.Query()["i"]
		var parts []string
		for _, inst := range instruments {
			if inst == "NSE:BAD" {
				continue
			}
			parts = append(parts, fmt.Sprintf(`"%s":{"instrument_token":1,"last_price":101.5}`, inst))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":{%s}}`, strings.Join(parts, ","))
	})

	prices, err := k.GetQuotes(context.Background(), []string{"TCS", "INFY", "BAD"})
	require.NoError(t, err)
	assert.Len(t, prices, 2)
	assert.True(t, prices["TCS"].Equal(decimal.RequireFromString("101.5")))
	_, ok := prices["BAD"]
	assert.False(t, ok)
}

func TestKiteTokenErrorIsCredentials(t *testing.T) {
	k := kiteServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"status":"error","message":"Incorrect api_key or access_token.","error_type":"TokenException"}`)
	})

	err := k.CheckConnection(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBrokerCredentials)

	_, err = k.GetQuotes(context.Background(), []string{"TCS"})
	assert.Equal(t, apperrors.KindBrokerCredentials, apperrors.Kind(err))
}

func TestKiteBalance(t *testing.T) {
	k := kiteServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/margins", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"success","data":{"equity":{"enabled":true,"net":120000.5,"available":{"cash":99000.25}}}}`)
	})

	bal, err := k.GetBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, bal.AvailableCash.Equal(decimal.RequireFromString("99000.25")))
	assert.True(t, bal.Net.Equal(decimal.RequireFromString("120000.5")))
}

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunk([]string{"a", "b", "c"}, 2))
	assert.Nil(t, chunk(nil, 2))
}

// flakyBroker fails the first n calls of each operation.
type flakyBroker struct {
	mu     sync.Mutex
	fails  int
	calls  int
	orders int
	err    error
}

func (f *flakyBroker) Name() string { return "flaky" }

func (f *flakyBroker) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return f.err
	}
	return nil
}

func (f *flakyBroker) GetQuotes(ctx context.Context, symbols []string) (models.Prices, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return models.Prices{"TCS": decimal.NewFromInt(100)}, nil
}

func (f *flakyBroker) PlaceOrder(ctx context.Context, order *OrderRequest) (*OrderResult, error) {
	f.mu.Lock()
	f.orders++
	f.mu.Unlock()
	if err := f.next(); err != nil {
		return nil, err
	}
	return &OrderResult{OrderID: "1"}, nil
}

func (f *flakyBroker) GetBalance(ctx context.Context) (*Balance, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return &Balance{}, nil
}

func (f *flakyBroker) CheckConnection(ctx context.Context) error {
	return f.next()
}

func testResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout: time.Second,
		Retry: utils.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2,
		},
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: 10,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
		},
	}
}

func TestResilientRetriesQuotes(t *testing.T) {
	inner := &flakyBroker{fails: 2, err: errors.New("connection reset")}
	r := NewResilientBroker(inner, testResilientConfig())

	prices, err := r.GetQuotes(context.Background(), []string{"TCS"})
	require.NoError(t, err)
	assert.Len(t, prices, 1)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientNeverRetriesOrders(t *testing.T) {
	inner := &flakyBroker{fails: 1, err: errors.New("gateway timeout")}
	r := NewResilientBroker(inner, testResilientConfig())

	_, err := r.PlaceOrder(context.Background(), &OrderRequest{Symbol: "TCS", Side: models.OrderSideBuy, Quantity: 1})
	require.Error(t, err)
	assert.Equal(t, 1, inner.orders)
	assert.ErrorIs(t, err, apperrors.ErrBrokerConnection)
	assert.True(t, apperrors.IsCycleAbort(err))
}

func TestResilientStopsRetryingOnCredentials(t *testing.T) {
	inner := &flakyBroker{fails: 5, err: apperrors.NewBrokerError("profile", apperrors.ErrBrokerCredentials)}
	r := NewResilientBroker(inner, testResilientConfig())

	err := r.CheckConnection(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrBrokerCredentials)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, resilience.CircuitClosed, r.Breaker().State())
}

func TestResilientOpensBreaker(t *testing.T) {
	cfg := testResilientConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Breaker.FailureThreshold = 2
	inner := &flakyBroker{fails: 100, err: errors.New("503")}
	r := NewResilientBroker(inner, cfg)

	for i := 0; i < 2; i++ {
		_, err := r.GetBalance(context.Background())
		require.Error(t, err)
	}
	_, err := r.GetBalance(context.Background())
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, apperrors.KindBrokerConnection, apperrors.Kind(err))
	assert.Equal(t, 2, inner.calls)
}

func TestResilientRateLimitsCalls(t *testing.T) {
	cfg := testResilientConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.RateLimit = 1
	inner := &flakyBroker{}
	r := NewResilientBroker(inner, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Burst allows two calls, the third waits past the deadline.
	for i := 0; i < 2; i++ {
		_, err := r.GetQuotes(ctx, []string{"TCS"})
		require.NoError(t, err)
	}
	_, err := r.GetQuotes(ctx, []string{"TCS"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, inner.calls)
}
