package broker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "tradebot/internal/errors"
	"tradebot/internal/models"
	"tradebot/internal/resilience"
	"tradebot/internal/telemetry"
	"tradebot/pkg/utils"
)

// ResilientConfig configures the protective wrapper.
type ResilientConfig struct {
	Timeout time.Duration
	Retry   utils.RetryConfig
	Breaker resilience.CircuitBreakerConfig
	// RateLimit caps requests per second across all calls; 0 disables it.
	RateLimit float64
}

// DefaultResilientConfig returns defaults suited to Kite's rate limits.
func DefaultResilientConfig() ResilientConfig {
	retry := utils.DefaultRetryConfig()
	retry.InitialDelay = 200 * time.Millisecond
	retry.MaxDelay = 2 * time.Second
	return ResilientConfig{
		Timeout:   10 * time.Second,
		Retry:     retry,
		Breaker:   resilience.DefaultCircuitBreakerConfig(),
		RateLimit: 3,
	}
}

// ResilientBroker wraps a Broker with a rate limiter, a circuit breaker,
// bounded retries and a tracing span per call. Orders are never retried.
type ResilientBroker struct {
	inner   Broker
	cfg     ResilientConfig
	breaker *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
}

// NewResilientBroker wraps inner.
func NewResilientBroker(inner Broker, cfg ResilientConfig) *ResilientBroker {
	if cfg.Breaker.IsFailure == nil {
		cfg.Breaker.IsFailure = func(err error) bool {
			return !errors.Is(err, apperrors.ErrBrokerCredentials)
		}
	}
	cfg.Retry.Retryable = retryable
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	r := &ResilientBroker{
		inner:   inner,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker(inner.Name(), cfg.Breaker),
	}
	if cfg.RateLimit > 0 {
		r.limiter = resilience.NewRateLimiter(cfg.RateLimit, int(cfg.RateLimit)+1)
	}
	return r
}

func retryable(err error) bool {
	return !errors.Is(err, apperrors.ErrBrokerCredentials) &&
		!errors.Is(err, resilience.ErrCircuitOpen) &&
		!errors.Is(err, context.Canceled)
}

// Name implements Broker.
func (r *ResilientBroker) Name() string { return r.inner.Name() }

// Breaker exposes the circuit breaker for status reporting.
func (r *ResilientBroker) Breaker() *resilience.CircuitBreaker { return r.breaker }

// GetQuotes implements Broker.
func (r *ResilientBroker) GetQuotes(ctx context.Context, symbols []string) (models.Prices, error) {
	return call(r, ctx, "quote", true, func(ctx context.Context) (models.Prices, error) {
		return r.inner.GetQuotes(ctx, symbols)
	}, attribute.Int("symbols", len(symbols)))
}

// PlaceOrder implements Broker.
func (r *ResilientBroker) PlaceOrder(ctx context.Context, order *OrderRequest) (*OrderResult, error) {
	return call(r, ctx, "order", false, func(ctx context.Context) (*OrderResult, error) {
		return r.inner.PlaceOrder(ctx, order)
	}, attribute.String("symbol", order.Symbol), attribute.String("side", string(order.Side)),
		attribute.Int("quantity", order.Quantity))
}

// GetBalance implements Broker.
func (r *ResilientBroker) GetBalance(ctx context.Context) (*Balance, error) {
	return call(r, ctx, "balance", true, r.inner.GetBalance)
}

// CheckConnection implements Broker.
func (r *ResilientBroker) CheckConnection(ctx context.Context) error {
	_, err := call(r, ctx, "profile", true, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.inner.CheckConnection(ctx)
	})
	return err
}

func call[T any](r *ResilientBroker, ctx context.Context, op string, retry bool, fn func(context.Context) (T, error), attrs ...attribute.KeyValue) (T, error) {
	attrs = append(attrs, attribute.String("broker", r.inner.Name()))
	ctx, span := telemetry.StartSpan(ctx, "broker."+op, attrs...)

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	once := func() (T, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				var zero T
				return zero, err
			}
		}
		return resilience.ExecuteWithResult(r.breaker, ctx, func() (T, error) {
			return fn(ctx)
		})
	}

	var (
		v   T
		err error
	)
	if retry {
		v, err = utils.RetryWithResult(ctx, r.cfg.Retry, once)
	} else {
		v, err = once()
	}

	if err != nil {
		var berr *apperrors.BrokerError
		if !errors.As(err, &berr) {
			err = apperrors.NewBrokerError(op, err)
		}
	}
	telemetry.End(span, err)
	return v, err
}
