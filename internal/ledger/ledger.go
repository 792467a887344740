// Package ledger is the authoritative bookkeeping for virtual trading
// accounts: cash, open positions, fees, realized P&L and the trade log.
//
// Every account is guarded by its own mutex. Trades on one account are
// strictly serialized; trades on different accounts never contend.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "tradebot/internal/errors"
	"tradebot/internal/id"
	"tradebot/internal/models"
	"tradebot/pkg/utils"
)

// Config configures a Ledger.
type Config struct {
	// DefaultCapital seeds accounts created on first access.
	DefaultCapital decimal.Decimal
	Fees           FeeSchedule
	// ExitDiscount is the fraction below the quoted price at which
	// ExitAll sells, to model a guaranteed fill.
	ExitDiscount decimal.Decimal
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		DefaultCapital: decimal.NewFromInt(1000000),
		Fees:           DefaultFeeSchedule(),
		ExitDiscount:   decimal.RequireFromString("0.005"),
	}
}

// Ledger holds every account keyed by (user, mode).
type Ledger struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	accounts map[models.AccountKey]*account
}

type account struct {
	mu sync.Mutex

	key            models.AccountKey
	initialCapital decimal.Decimal
	cash           decimal.Decimal
	fees           decimal.Decimal
	realized       decimal.Decimal
	tradeCount     int
	positions      map[string]*position

	// trades is append-only; resetAt marks the first trade after the last reset.
	trades  []models.Trade
	resetAt int
}

type position struct {
	quantity int
	invested decimal.Decimal
}

func (p *position) averagePrice() decimal.Decimal {
	return p.invested.Div(decimal.NewFromInt(int64(p.quantity)))
}

// New creates a Ledger.
func New(cfg Config) *Ledger {
	if cfg.DefaultCapital.IsZero() {
		cfg.DefaultCapital = DefaultConfig().DefaultCapital
	}
	return &Ledger{
		cfg:      cfg,
		now:      time.Now,
		accounts: make(map[models.AccountKey]*account),
	}
}

// Fees returns the fee schedule shared with the risk gate.
func (l *Ledger) Fees() FeeSchedule {
	return l.cfg.Fees
}

// account returns the account for key, creating it lazily.
func (l *Ledger) account(key models.AccountKey) *account {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[key]
	if !ok {
		a = newAccount(key, l.cfg.DefaultCapital)
		l.accounts[key] = a
	}
	return a
}

func newAccount(key models.AccountKey, capital decimal.Decimal) *account {
	return &account{
		key:            key,
		initialCapital: capital,
		cash:           capital,
		fees:           decimal.Zero,
		realized:       decimal.Zero,
		positions:      make(map[string]*position),
	}
}

// ============================================================================
// Trade execution
// ============================================================================

// Execute applies one trade atomically. On any error the account is left
// exactly as it was.
func (l *Ledger) Execute(key models.AccountKey, req models.TradeRequest) (models.Trade, error) {
	if err := validateRequest(req); err != nil {
		return models.Trade{}, err
	}

	a := l.account(key)
	a.mu.Lock()
	defer a.mu.Unlock()

	value := req.Price.Mul(decimal.NewFromInt(int64(req.Quantity)))
	fees := l.cfg.Fees.Total(value, req.Side, req.Product)
	return a.apply(req, value, fees, l.now())
}

func validateRequest(req models.TradeRequest) error {
	action := string(req.Side)
	switch {
	case req.Symbol == "":
		return apperrors.NewTradeError(apperrors.ErrInvalidParameters, req.Symbol, action, "symbol is required")
	case req.Side != models.OrderSideBuy && req.Side != models.OrderSideSell:
		return apperrors.NewTradeError(apperrors.ErrInvalidParameters, req.Symbol, action,
			fmt.Sprintf("unknown action %q", req.Side))
	case req.Quantity <= 0:
		return apperrors.NewTradeError(apperrors.ErrInvalidParameters, req.Symbol, action,
			fmt.Sprintf("quantity must be positive, got %d", req.Quantity))
	case !req.Price.IsPositive():
		return apperrors.NewTradeError(apperrors.ErrInvalidParameters, req.Symbol, action,
			fmt.Sprintf("price must be positive, got %s", req.Price))
	case !req.Product.Valid():
		return apperrors.NewTradeError(apperrors.ErrInvalidParameters, req.Symbol, action,
			fmt.Sprintf("unknown product %q", req.Product))
	}
	return nil
}

// apply mutates a under its lock. All checks happen before the first write.
func (a *account) apply(req models.TradeRequest, value, fees decimal.Decimal, at time.Time) (models.Trade, error) {
	trade := models.Trade{
		ID:        id.New(),
		Account:   a.key,
		SessionID: req.SessionID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Product:   req.Product,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Value:     value,
		Fees:      fees,
		OrderID:   req.OrderID,
		Timestamp: at,
	}
	if trade.OrderID == "" {
		trade.OrderID = id.WithPrefix("PAPER")
	}

	switch req.Side {
	case models.OrderSideBuy:
		cost := value.Add(fees)
		if cost.GreaterThan(a.cash) {
			return models.Trade{}, apperrors.NewTradeError(apperrors.ErrInsufficientFunds, req.Symbol, string(req.Side),
				fmt.Sprintf("need %s including fees, available %s", utils.FormatINR(cost), utils.FormatINR(a.cash)))
		}

		a.cash = a.cash.Sub(cost)
		pos, ok := a.positions[req.Symbol]
		if !ok {
			pos = &position{invested: decimal.Zero}
			a.positions[req.Symbol] = pos
		}
		pos.quantity += req.Quantity
		pos.invested = pos.invested.Add(value)

	case models.OrderSideSell:
		pos, ok := a.positions[req.Symbol]
		if !ok {
			return models.Trade{}, apperrors.NewTradeError(apperrors.ErrNoPosition, req.Symbol, string(req.Side),
				fmt.Sprintf("no open position in %s", req.Symbol))
		}
		if req.Quantity > pos.quantity {
			return models.Trade{}, apperrors.NewTradeError(apperrors.ErrInsufficientQuantity, req.Symbol, string(req.Side),
				fmt.Sprintf("cannot sell %d %s, holding %d", req.Quantity, req.Symbol, pos.quantity))
		}

		costBasis := pos.invested
		if req.Quantity < pos.quantity {
			costBasis = pos.invested.Mul(decimal.NewFromInt(int64(req.Quantity))).
				Div(decimal.NewFromInt(int64(pos.quantity))).Round(6)
		}
		trade.RealizedPnL = value.Sub(costBasis)

		a.cash = a.cash.Add(value).Sub(fees)
		a.realized = a.realized.Add(trade.RealizedPnL)
		pos.quantity -= req.Quantity
		pos.invested = pos.invested.Sub(costBasis)
		if pos.quantity == 0 {
			delete(a.positions, req.Symbol)
		}
	}

	a.fees = a.fees.Add(fees)
	a.tradeCount++
	a.trades = append(a.trades, trade)
	return trade, nil
}

// ============================================================================
// Reads
// ============================================================================

// Snapshot returns a copy of the account state.
func (l *Ledger) Snapshot(key models.AccountKey) models.AccountSnapshot {
	a := l.account(key)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

func (a *account) snapshot() models.AccountSnapshot {
	return models.AccountSnapshot{
		Key:                a.key,
		InitialCapital:     a.initialCapital,
		AvailableCash:      a.cash,
		TotalBrokeragePaid: a.fees,
		RealizedPnL:        a.realized,
		TradeCount:         a.tradeCount,
		Positions:          a.positionList(),
	}
}

func (a *account) positionList() []models.Position {
	out := make([]models.Position, 0, len(a.positions))
	for sym, p := range a.positions {
		out = append(out, models.Position{
			Symbol:         sym,
			Quantity:       p.quantity,
			AveragePrice:   p.averagePrice(),
			InvestedAmount: p.invested,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Positions returns the open positions sorted by symbol.
func (l *Ledger) Positions(key models.AccountKey) []models.Position {
	return l.Snapshot(key).Positions
}

// Trades returns the trades executed since the last reset, oldest first.
func (l *Ledger) Trades(key models.AccountKey) []models.Trade {
	a := l.account(key)
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.Trade, len(a.trades)-a.resetAt)
	copy(out, a.trades[a.resetAt:])
	return out
}

// PnL values the account at the supplied prices. Positions without a price
// are valued at cost.
func (l *Ledger) PnL(key models.AccountKey, prices models.Prices) models.PnLReport {
	snap := l.Snapshot(key)
	return Report(snap, prices)
}

// Report values a snapshot at the supplied prices.
func Report(snap models.AccountSnapshot, prices models.Prices) models.PnLReport {
	r := models.PnLReport{
		Key:            snap.Key,
		InitialCapital: snap.InitialCapital,
		AvailableCash:  snap.AvailableCash,
		PositionsValue: decimal.Zero,
		RealizedPnL:    snap.RealizedPnL,
		UnrealizedPnL:  decimal.Zero,
		TotalFees:      snap.TotalBrokeragePaid,
		ReturnPercent:  decimal.Zero,
	}

	for _, p := range snap.Positions {
		price, ok := prices[p.Symbol]
		if !ok || !price.IsPositive() {
			price = p.AveragePrice
		}
		current := price.Mul(decimal.NewFromInt(int64(p.Quantity)))
		unrealized := current.Sub(p.InvestedAmount)

		pct := decimal.Zero
		if p.InvestedAmount.IsPositive() {
			pct = unrealized.Div(p.InvestedAmount).Mul(decimal.NewFromInt(100)).Round(2)
		}
		r.Positions = append(r.Positions, models.PositionPnL{
			Position:      p,
			CurrentPrice:  price,
			CurrentValue:  current,
			UnrealizedPnL: unrealized,
			PnLPercent:    pct,
		})
		r.PositionsValue = r.PositionsValue.Add(current)
		r.UnrealizedPnL = r.UnrealizedPnL.Add(unrealized)
	}

	r.PortfolioValue = r.AvailableCash.Add(r.PositionsValue)
	r.TotalPnL = r.RealizedPnL.Add(r.UnrealizedPnL)
	r.NetPnL = r.TotalPnL.Sub(r.TotalFees)
	if r.InitialCapital.IsPositive() {
		r.ReturnPercent = r.NetPnL.Div(r.InitialCapital).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return r
}

// Summary returns the user-facing portfolio view at the supplied prices.
func (l *Ledger) Summary(key models.AccountKey, prices models.Prices) models.PortfolioSummary {
	snap := l.Snapshot(key)
	r := Report(snap, prices)

	invested := snap.UsedCapital()
	usage := decimal.Zero
	if snap.InitialCapital.IsPositive() {
		usage = invested.Div(snap.InitialCapital).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return models.PortfolioSummary{
		Key:                 key,
		InitialCapital:      snap.InitialCapital,
		AvailableCash:       snap.AvailableCash,
		InvestedAmount:      invested,
		PositionsValue:      r.PositionsValue,
		PortfolioValue:      r.PortfolioValue,
		NetPnL:              r.NetPnL,
		ReturnPercent:       r.ReturnPercent,
		CapitalUsagePercent: usage,
		TotalBrokerage:      snap.TotalBrokeragePaid,
		TradeCount:          snap.TradeCount,
		Positions:           r.Positions,
	}
}

// ============================================================================
// Bulk operations
// ============================================================================

// ExitAll sells every open position in full at slightly below the supplied
// price. A failure on one symbol does not stop the others.
func (l *Ledger) ExitAll(key models.AccountKey, prices models.Prices, product models.ProductType, sessionID string) models.ExitReport {
	var report models.ExitReport
	if !product.Valid() {
		product = models.ProductCNC
	}

	for _, p := range l.Positions(key) {
		price, ok := prices[p.Symbol]
		if !ok || !price.IsPositive() {
			report.Failed++
			report.Failures = append(report.Failures, models.ExitFailure{Symbol: p.Symbol, Reason: "no current price"})
			continue
		}

		trade, err := l.Execute(key, models.TradeRequest{
			Symbol:    p.Symbol,
			Side:      models.OrderSideSell,
			Quantity:  p.Quantity,
			Price:     l.ExitPrice(price),
			Product:   product,
			SessionID: sessionID,
		})
		if err != nil {
			report.Failed++
			report.Failures = append(report.Failures, models.ExitFailure{Symbol: p.Symbol, Reason: apperrors.Reason(err)})
			continue
		}
		report.Succeeded++
		report.Trades = append(report.Trades, trade)
	}
	return report
}

// ExitPrice is the price at which an exit sells against a quote of last.
func (l *Ledger) ExitPrice(last decimal.Decimal) decimal.Decimal {
	return last.Mul(decimal.NewFromInt(1).Sub(l.cfg.ExitDiscount)).Round(2)
}

// Reset restores the account to its starting capital. A positive capital
// replaces the initial capital. The trade log is kept.
func (l *Ledger) Reset(key models.AccountKey, capital decimal.Decimal) models.AccountSnapshot {
	a := l.account(key)
	a.mu.Lock()
	defer a.mu.Unlock()

	if capital.IsPositive() {
		a.initialCapital = capital
	}
	a.cash = a.initialCapital
	a.fees = decimal.Zero
	a.realized = decimal.Zero
	a.tradeCount = 0
	a.positions = make(map[string]*position)
	a.resetAt = len(a.trades)
	return a.snapshot()
}

// Replay rebuilds an account from a persisted trade log. Recorded fees are
// applied as-is. The account is reset to capital first.
func (l *Ledger) Replay(key models.AccountKey, capital decimal.Decimal, trades []models.Trade) error {
	a := l.account(key)
	a.mu.Lock()
	defer a.mu.Unlock()

	fresh := newAccount(key, capital)
	if !capital.IsPositive() {
		fresh = newAccount(key, a.initialCapital)
	}
	for i, t := range trades {
		req := models.TradeRequest{
			Symbol:    t.Symbol,
			Side:      t.Side,
			Quantity:  t.Quantity,
			Price:     t.Price,
			Product:   t.Product,
			SessionID: t.SessionID,
			OrderID:   t.OrderID,
		}
		if err := validateRequest(req); err != nil {
			return fmt.Errorf("failed to replay trade %d (%s): %w", i, t.ID, err)
		}
		value := t.Price.Mul(decimal.NewFromInt(int64(t.Quantity)))
		if _, err := fresh.apply(req, value, t.Fees, t.Timestamp); err != nil {
			return fmt.Errorf("failed to replay trade %d (%s): %w", i, t.ID, err)
		}
		if t.ID != "" {
			fresh.trades[len(fresh.trades)-1].ID = t.ID
		}
	}

	a.initialCapital = fresh.initialCapital
	a.cash = fresh.cash
	a.fees = fresh.fees
	a.realized = fresh.realized
	a.tradeCount = fresh.tradeCount
	a.positions = fresh.positions
	a.resetAt = len(a.trades)
	a.trades = append(a.trades, fresh.trades...)
	return nil
}
