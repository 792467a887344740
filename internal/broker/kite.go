package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "tradebot/internal/errors"
	"tradebot/internal/models"
)

// Kite accepts up to 500 instruments per quote call.
const maxQuoteBatch = 500

// KiteConfig holds configuration for the Kite Connect adapter.
type KiteConfig struct {
	APIKey      string
	AccessToken string
	// BaseURI overrides the API root, mainly for tests.
	BaseURI    string
	HTTPClient *http.Client
	// BatchSize is the number of instruments per quote request.
	BatchSize int
	// Concurrency bounds parallel quote requests.
	Concurrency int
	// Instrument maps a symbol to its exchange-qualified instrument.
	// Defaults to "NSE:<symbol>".
	Instrument func(symbol string) string
}

// KiteBroker implements Broker for Zerodha Kite Connect.
type KiteBroker struct {
	client *kiteconnect.Client
	cfg    KiteConfig
}

// NewKiteBroker creates a Kite adapter. Missing credentials are reported
// as ErrBrokerCredentials.
func NewKiteBroker(cfg KiteConfig) (*KiteBroker, error) {
	if cfg.APIKey == "" || cfg.AccessToken == "" {
		return nil, apperrors.NewBrokerError("connect", fmt.Errorf("%w: api key and access token are required", apperrors.ErrBrokerCredentials))
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > maxQuoteBatch {
		cfg.BatchSize = 200
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Instrument == nil {
		cfg.Instrument = func(symbol string) string { return string(models.NSE) + ":" + symbol }
	}

	client := kiteconnect.New(cfg.APIKey)
	client.SetAccessToken(cfg.AccessToken)
	if cfg.BaseURI != "" {
		client.SetBaseURI(cfg.BaseURI)
	}
	if cfg.HTTPClient != nil {
		client.SetHTTPClient(cfg.HTTPClient)
	}

	return &KiteBroker{client: client, cfg: cfg}, nil
}

// Name implements Broker.
func (k *KiteBroker) Name() string { return "kite" }

// GetQuotes fetches last prices in batches. A failed batch only drops its
// symbols.
func (k *KiteBroker) GetQuotes(ctx context.Context, symbols []string) (models.Prices, error) {
	if len(symbols) == 0 {
		return models.Prices{}, nil
	}

	batches := chunk(symbols, k.cfg.BatchSize)
	var failed atomic.Int32

	p := pool.NewWithResults[models.Prices]().
		WithMaxGoroutines(k.cfg.Concurrency).
		WithContext(ctx)
	for _, batch := range batches {
		batch := batch
		p.Go(func(ctx context.Context) (models.Prices, error) {
			prices, err := k.quoteBatch(ctx, batch)
			if err != nil {
				failed.Add(1)
				return nil, err
			}
			return prices, nil
		})
	}
	results, err := p.Wait()

	if int(failed.Load()) == len(batches) {
		return nil, classify("quote", err)
	}

	out := make(models.Prices, len(symbols))
	for _, r := range results {
		for sym, price := range r {
			out[sym] = price
		}
	}
	return out, nil
}

func (k *KiteBroker) quoteBatch(ctx context.Context, symbols []string) (models.Prices, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	instruments := make([]string, len(symbols))
	bySymbol := make(map[string]string, len(symbols))
	for i, sym := range symbols {
		instruments[i] = k.cfg.Instrument(sym)
		bySymbol[instruments[i]] = sym
	}

	quotes, err := k.client.GetQuote(instruments...)
	if err != nil {
		return nil, err
	}

	prices := make(models.Prices, len(quotes))
	for inst, q := range quotes {
		sym, ok := bySymbol[inst]
		if !ok || q.LastPrice <= 0 {
			continue
		}
		prices[sym] = decimal.NewFromFloat(q.LastPrice)
	}
	return prices, nil
}

// PlaceOrder places a regular limit order.
func (k *KiteBroker) PlaceOrder(ctx context.Context, order *OrderRequest) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := kiteconnect.OrderParams{
		Exchange:        exchangeOf(k.cfg.Instrument(order.Symbol)),
		Tradingsymbol:   order.Symbol,
		TransactionType: string(order.Side),
		OrderType:       "LIMIT",
		Product:         string(order.Product),
		Quantity:        order.Quantity,
		Price:           order.Price.InexactFloat64(),
		Validity:        "DAY",
		Tag:             order.Tag,
	}

	resp, err := k.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return nil, classify("order", err)
	}

	return &OrderResult{
		OrderID: resp.OrderID,
		Status:  "PLACED",
		Message: "Order placed successfully",
	}, nil
}

// GetBalance returns the equity segment cash and net balance.
func (k *KiteBroker) GetBalance(ctx context.Context) (*Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	margins, err := k.client.GetUserMargins()
	if err != nil {
		return nil, classify("balance", err)
	}

	return &Balance{
		AvailableCash: decimal.NewFromFloat(margins.Equity.Available.Cash),
		Net:           decimal.NewFromFloat(margins.Equity.Net),
	}, nil
}

// CheckConnection fetches the user profile.
func (k *KiteBroker) CheckConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := k.client.GetUserProfile(); err != nil {
		return classify("profile", err)
	}
	return nil
}

// classify maps a Kite error onto the broker error kinds. Token and
// permission errors mean the credentials are no good.
func classify(op string, err error) error {
	if err == nil {
		err = errors.New("no response")
	}
	var kerr kiteconnect.Error
	if errors.As(err, &kerr) {
		switch kerr.ErrorType {
		case kiteconnect.TokenError, kiteconnect.PermissionError, kiteconnect.TwoFAError:
			return apperrors.NewBrokerError(op, fmt.Errorf("%w: %s", apperrors.ErrBrokerCredentials, kerr.Message))
		}
	}
	return apperrors.NewBrokerError(op, err)
}

func exchangeOf(instrument string) string {
	if i := strings.IndexByte(instrument, ':'); i > 0 {
		return instrument[:i]
	}
	return string(models.NSE)
}

func chunk(symbols []string, size int) [][]string {
	var out [][]string
	for len(symbols) > size {
		out = append(out, symbols[:size])
		symbols = symbols[size:]
	}
	if len(symbols) > 0 {
		out = append(out, symbols)
	}
	return out
}
