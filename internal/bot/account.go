package bot

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	apperrors "tradebot/internal/errors"
	"tradebot/internal/models"
	"tradebot/internal/store"
	"tradebot/internal/strategy"
	"tradebot/pkg/utils"
)

// Live start check reasons.
const (
	ReasonMarketClosed        = "market_closed"
	ReasonCredentialsMissing  = "credentials_missing"
	ReasonConnectionFailed    = "connection_failed"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonBalanceCheckFailed  = "balance_check_failed"
)

// LiveCheck is the outcome of CanStartLive.
type LiveCheck struct {
	OK      bool
	Reason  string
	Message string
	Err     error
	Balance decimal.Decimal
}

// CanStartLive reports whether a live session needing capital may start
// now: the market must be open and the broker reachable with enough cash.
func (c *Controller) CanStartLive(ctx context.Context, capital decimal.Decimal) LiveCheck {
	now := c.deps.Calendar.Now()
	if !c.deps.Calendar.IsOpen() {
		msg := c.deps.Calendar.Message(now)
		return LiveCheck{Reason: ReasonMarketClosed, Message: msg,
			Err: apperrors.NewSessionError("", apperrors.ErrMarketClosed, msg)}
	}

	b := c.deps.LiveBroker
	if b == nil {
		msg := "live trading needs broker credentials"
		return LiveCheck{Reason: ReasonCredentialsMissing, Message: msg,
			Err: apperrors.NewBrokerError("connect", apperrors.ErrBrokerCredentials)}
	}
	if err := b.CheckConnection(ctx); err != nil {
		reason := ReasonConnectionFailed
		if apperrors.Kind(err) == apperrors.KindBrokerCredentials {
			reason = ReasonCredentialsMissing
		}
		return LiveCheck{Reason: reason, Message: apperrors.Reason(err), Err: err}
	}

	bal, err := b.GetBalance(ctx)
	if err != nil {
		return LiveCheck{Reason: ReasonBalanceCheckFailed, Message: apperrors.Reason(err), Err: err}
	}
	if bal.AvailableCash.LessThan(capital) {
		msg := fmt.Sprintf("broker cash %s is below the requested capital %s",
			utils.FormatINR(bal.AvailableCash), utils.FormatINR(capital))
		return LiveCheck{Reason: ReasonInsufficientBalance, Message: msg, Balance: bal.AvailableCash,
			Err: apperrors.NewTradeError(apperrors.ErrInsufficientBalance, "", "START", msg)}
	}
	return LiveCheck{OK: true, Message: c.deps.Calendar.Message(now), Balance: bal.AvailableCash}
}

func strategyInput(prices models.Prices, snap models.AccountSnapshot) strategy.Input {
	return strategy.Input{
		Prices:        prices,
		Held:          snap.HeldQuantities(),
		AvailableCash: snap.AvailableCash,
	}
}

// ============================================================================
// Reports
// ============================================================================

// session returns a session owned by userID, from memory if active.
func (c *Controller) session(ctx context.Context, userID, sessionID string) (*models.BotSession, *handle, error) {
	c.mu.Lock()
	h, ok := c.sessions[sessionID]
	c.mu.Unlock()

	var session *models.BotSession
	if ok {
		session = h.session
	} else {
		s, err := c.deps.Store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, nil, err
		}
		session = s
	}
	if session.UserID != userID {
		return nil, nil, apperrors.NewSessionError(sessionID, apperrors.ErrUnauthorized, "session belongs to another user")
	}
	return session, h, nil
}

// Performance reports a session's progress against its targets.
func (c *Controller) Performance(ctx context.Context, userID, sessionID string) (*models.SessionPerformance, error) {
	session, h, err := c.session(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	key := session.Account()
	if err := c.restore(ctx, key); err != nil {
		return nil, err
	}

	status := session.Status
	var prices models.Prices
	if h != nil {
		prices = h.lastPrices()
		h.mu.Lock()
		status = h.status
		h.mu.Unlock()
	} else {
		prices = c.quotesFor(ctx, key)
	}

	trades, err := c.deps.Store.ListTrades(ctx, store.TradeFilter{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	fees := decimal.Zero
	for _, t := range trades {
		fees = fees.Add(t.Fees)
	}

	end := c.now()
	if session.StoppedAt != nil {
		end = *session.StoppedAt
	}
	running := end.Sub(session.StartedAt)
	remaining := session.MaxDuration - running
	if remaining < 0 || status != models.SessionRunning {
		remaining = 0
	}

	report := c.deps.Ledger.PnL(key, prices)
	summary := c.deps.Ledger.Summary(key, prices)
	return &models.SessionPerformance{
		SessionID:            session.ID,
		Strategy:             session.StrategyName,
		Status:               status,
		InitialCapital:       session.InitialCapital,
		TargetProfit:         session.TargetProfit,
		MaxDurationHours:     session.MaxDuration.Hours(),
		RunningTimeHours:     running.Hours(),
		TimeRemainingHours:   remaining.Hours(),
		ProfitTargetAchieved: session.TargetProfit.IsPositive() && report.NetPnL.GreaterThanOrEqual(session.TargetProfit),
		TradeCount:           len(trades),
		SessionFees:          fees,
		PositionsCount:       len(report.Positions),
		CapitalUsagePercent:  summary.CapitalUsagePercent,
		PnL:                  report,
	}, nil
}

// quotesFor fetches current prices of an account's holdings. Missing prices
// value positions at cost.
func (c *Controller) quotesFor(ctx context.Context, key models.AccountKey) models.Prices {
	positions := c.deps.Ledger.Positions(key)
	if len(positions) == 0 {
		return models.Prices{}
	}
	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	sort.Strings(symbols)

	b := c.deps.PaperBroker
	if key.Mode == models.ModeLive && c.deps.LiveBroker != nil {
		b = c.deps.LiveBroker
	}
	prices, err := b.GetQuotes(ctx, symbols)
	if err != nil {
		c.log.Warn().Err(err).Str("account", key.String()).Msg("Quotes unavailable, valuing positions at cost")
		return models.Prices{}
	}
	return prices
}

// PortfolioSummary values an account at current prices.
func (c *Controller) PortfolioSummary(ctx context.Context, key models.AccountKey) (models.PortfolioSummary, error) {
	if err := c.restore(ctx, key); err != nil {
		return models.PortfolioSummary{}, err
	}
	return c.deps.Ledger.Summary(key, c.quotesFor(ctx, key)), nil
}

// Positions returns an account's open positions.
func (c *Controller) Positions(ctx context.Context, key models.AccountKey) ([]models.Position, error) {
	if err := c.restore(ctx, key); err != nil {
		return nil, err
	}
	return c.deps.Ledger.Positions(key), nil
}

// ResetPortfolio returns an account to its starting capital and persists a
// reset marker. A positive capital replaces the initial capital. Accounts
// with an active session cannot be reset.
func (c *Controller) ResetPortfolio(ctx context.Context, key models.AccountKey, capital decimal.Decimal) (models.AccountSnapshot, error) {
	c.accountMu.Lock()
	defer c.accountMu.Unlock()

	if h := c.activeOn(key); h != nil {
		return models.AccountSnapshot{}, apperrors.NewSessionError(h.session.ID, apperrors.ErrInvalidParameters,
			"stop the running session before resetting its account")
	}

	if err := c.restore(ctx, key); err != nil {
		return models.AccountSnapshot{}, err
	}
	snap := c.deps.Ledger.Reset(key, capital)
	rec := store.AccountRecord{Key: key, InitialCapital: snap.InitialCapital, ResetAt: c.now()}
	if err := c.deps.Store.SaveAccount(ctx, rec); err != nil {
		return snap, fmt.Errorf("failed to save reset marker: %w", err)
	}
	c.log.Info().Str("account", key.String()).Str("capital", snap.InitialCapital.StringFixed(2)).Msg("Portfolio reset")
	return snap, nil
}
