// Package bot runs trading sessions.
//
// A Controller owns the registry of active sessions. Each session has exactly
// one execution loop, started by Start and ended by Stop, by reaching its
// target or duration, or by a fault.
package bot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradebot/internal/broker"
	apperrors "tradebot/internal/errors"
	"tradebot/internal/id"
	"tradebot/internal/ledger"
	"tradebot/internal/logging"
	"tradebot/internal/market"
	"tradebot/internal/models"
	"tradebot/internal/risk"
	"tradebot/internal/store"
	"tradebot/internal/strategy"
	"tradebot/internal/universe"
	"tradebot/pkg/utils"
)

// Publisher receives outbound events. Delivery is best effort.
type Publisher interface {
	Publish(ev models.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(models.Event) {}

// Config holds session defaults and loop timing.
type Config struct {
	DefaultCapital  decimal.Decimal
	DefaultDuration time.Duration
	DefaultProduct  models.ProductType

	CycleInterval time.Duration
	// SleepSlice bounds how long a stop request can go unnoticed while the
	// loop sleeps.
	SleepSlice          time.Duration
	StatusLogEvery      int
	ExitPositionsOnStop bool

	MaxSignalsPerCycle   int
	MaxOrderCashFraction decimal.Decimal

	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout time.Duration

	// SaveRetry governs persisting executed trades.
	SaveRetry utils.RetryConfig
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		DefaultCapital:       decimal.NewFromInt(1000000),
		DefaultDuration:      8 * time.Hour,
		DefaultProduct:       models.ProductCNC,
		CycleInterval:        3 * time.Second,
		SleepSlice:           100 * time.Millisecond,
		StatusLogEvery:       10,
		ExitPositionsOnStop:  true,
		MaxSignalsPerCycle:   10,
		MaxOrderCashFraction: decimal.RequireFromString("0.1"),
		StopTimeout:          30 * time.Second,
		SaveRetry: utils.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      time.Second,
			BackoffFactor: 2,
		},
	}
}

// GeneratorFactory builds the signal generator for a session.
type GeneratorFactory func(session *models.BotSession) strategy.Generator

// Deps are the collaborators of a Controller. Ledger, Gate, Store and
// PaperBroker are required. LiveBroker may be nil when no credentials are
// configured.
type Deps struct {
	Ledger      *ledger.Ledger
	Gate        *risk.Gate
	Store       store.Store
	PaperBroker broker.Broker
	LiveBroker  broker.Broker
	Publisher   Publisher
	Calendar    *market.Calendar
	Universe    *universe.Universe
	Generators  GeneratorFactory
	Logger      zerolog.Logger
}

// Controller starts, stops and tracks bot sessions.
type Controller struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*handle

	// accountMu serializes account setup in Start and ResetPortfolio.
	accountMu sync.Mutex

	restoreMu sync.Mutex
	restored  map[models.AccountKey]bool
}

// handle is the in-memory side of a running session.
type handle struct {
	session   *models.BotSession
	broker    broker.Broker
	generator strategy.Generator
	contract  strategy.Contract
	log       zerolog.Logger

	stopped  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	prices   models.Prices
	status   models.SessionStatus
	message  string
	finalPnL decimal.Decimal
}

func (h *handle) requestStop() {
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		close(h.stopCh)
	})
}

func (h *handle) stopRequested() bool {
	return h.stopped.Load()
}

func (h *handle) lastPrices() models.Prices {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(models.Prices, len(h.prices))
	for k, v := range h.prices {
		out[k] = v
	}
	return out
}

func (h *handle) mergePrices(p models.Prices) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, v := range p {
		h.prices[k] = v
	}
}

// NewController creates a Controller.
func NewController(cfg Config, deps Deps) (*Controller, error) {
	if deps.Ledger == nil || deps.Gate == nil || deps.Store == nil || deps.PaperBroker == nil {
		return nil, fmt.Errorf("bot: ledger, gate, store and paper broker are required")
	}
	def := DefaultConfig()
	if cfg.DefaultCapital.IsZero() {
		cfg.DefaultCapital = def.DefaultCapital
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = def.DefaultDuration
	}
	if !cfg.DefaultProduct.Valid() {
		cfg.DefaultProduct = def.DefaultProduct
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = def.CycleInterval
	}
	if cfg.SleepSlice <= 0 {
		cfg.SleepSlice = def.SleepSlice
	}
	if cfg.StatusLogEvery <= 0 {
		cfg.StatusLogEvery = def.StatusLogEvery
	}
	if cfg.MaxSignalsPerCycle <= 0 {
		cfg.MaxSignalsPerCycle = def.MaxSignalsPerCycle
	}
	if !cfg.MaxOrderCashFraction.IsPositive() {
		cfg.MaxOrderCashFraction = def.MaxOrderCashFraction
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.SaveRetry.MaxAttempts <= 0 {
		cfg.SaveRetry = def.SaveRetry
	}

	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if deps.Calendar == nil {
		deps.Calendar, _ = market.NewCalendar(nil)
	}
	if deps.Universe == nil {
		deps.Universe = universe.Default()
	}
	if deps.Generators == nil {
		deps.Generators = func(s *models.BotSession) strategy.Generator {
			return strategy.NewRandomGenerator(s.StrategyName, s.Parameters, 0)
		}
	}

	return &Controller{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger.With().Str("component", "bot").Logger(),
		now:      time.Now,
		sessions: make(map[string]*handle),
		restored: make(map[models.AccountKey]bool),
	}, nil
}

// ============================================================================
// Start
// ============================================================================

// Start validates sc, persists a running session and spawns its loop.
func (c *Controller) Start(ctx context.Context, sc models.SessionConfig) (*models.BotSession, error) {
	sc, err := c.normalize(sc)
	if err != nil {
		return nil, err
	}
	key := models.AccountKey{UserID: sc.UserID, Mode: sc.Mode}

	b := c.deps.PaperBroker
	if sc.Mode == models.ModeLive {
		check := c.CanStartLive(ctx, sc.InitialCapital)
		if !check.OK {
			return nil, check.Err
		}
		b = c.deps.LiveBroker
	}

	c.accountMu.Lock()
	defer c.accountMu.Unlock()

	if err := c.restore(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to restore account %s: %w", key, err)
	}
	if err := c.ensureCapital(ctx, key, sc.InitialCapital); err != nil {
		return nil, err
	}

	session := &models.BotSession{
		ID:             id.New(),
		UserID:         sc.UserID,
		StrategyName:   sc.StrategyName,
		Parameters:     strategy.Resolve(sc.StrategyName, sc.Parameters),
		Mode:           sc.Mode,
		InitialCapital: sc.InitialCapital,
		TargetProfit:   sc.TargetProfit,
		MaxDuration:    sc.MaxDuration,
		Product:        sc.Product,
		RiskLevel:      sc.RiskLevel,
		Status:         models.SessionRunning,
		StatusMessage:  "session started",
		StartedAt:      c.now(),
	}
	if err := c.deps.Store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	h := &handle{
		session:   session,
		broker:    b,
		generator: c.deps.Generators(session),
		contract: strategy.Contract{
			MaxSignals:      c.cfg.MaxSignalsPerCycle,
			MaxCashFraction: c.cfg.MaxOrderCashFraction,
			Fees:            c.deps.Ledger.Fees(),
			Product:         session.Product,
		},
		log:    logging.WithSession(c.log, session),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		prices: models.Prices{},
		status: models.SessionRunning,
	}

	c.mu.Lock()
	c.sessions[session.ID] = h
	c.mu.Unlock()

	logging.LogSessionStatus(h.log, models.SessionRunning, "session started")
	c.appendLog(h, "info", fmt.Sprintf("session started: %s, target %s, max %s",
		session.StrategyName, utils.FormatINR(session.TargetProfit), session.MaxDuration))
	c.publishStatus(h, models.SessionRunning, "session started")

	go c.run(h)

	out := *session
	return &out, nil
}

func (c *Controller) normalize(sc models.SessionConfig) (models.SessionConfig, error) {
	if sc.UserID == "" {
		return sc, apperrors.NewValidationError("user_id", sc.UserID, "must not be empty")
	}
	if sc.Mode == "" {
		sc.Mode = models.ModePaper
	}
	if !sc.Mode.Valid() {
		return sc, apperrors.NewValidationError("mode", sc.Mode, "must be paper or live")
	}
	if sc.Product == "" {
		sc.Product = c.cfg.DefaultProduct
	}
	if !sc.Product.Valid() {
		return sc, apperrors.NewValidationError("product", sc.Product, "must be MIS or CNC")
	}
	if err := strategy.Validate(sc.StrategyName, sc.Parameters); err != nil {
		return sc, err
	}
	if sc.InitialCapital.IsZero() {
		sc.InitialCapital = c.cfg.DefaultCapital
	}
	if !sc.InitialCapital.IsPositive() {
		return sc, apperrors.NewValidationError("initial_capital", sc.InitialCapital.String(), "must be positive")
	}
	if sc.TargetProfit.IsNegative() {
		return sc, apperrors.NewValidationError("target_profit", sc.TargetProfit.String(), "must not be negative")
	}
	if sc.MaxDuration <= 0 {
		sc.MaxDuration = c.cfg.DefaultDuration
	}
	return sc, nil
}

// ensureCapital adopts the requested capital on an untouched account and
// otherwise requires cash to trade with. An account shared with a running
// session keeps its capital. Callers hold accountMu.
func (c *Controller) ensureCapital(ctx context.Context, key models.AccountKey, capital decimal.Decimal) error {
	snap := c.deps.Ledger.Snapshot(key)
	untouched := snap.TradeCount == 0 && len(snap.Positions) == 0
	if untouched && !snap.InitialCapital.Equal(capital) && c.activeOn(key) == nil {
		c.deps.Ledger.Reset(key, capital)
		rec := store.AccountRecord{Key: key, InitialCapital: capital, ResetAt: c.now()}
		if err := c.deps.Store.SaveAccount(ctx, rec); err != nil {
			return fmt.Errorf("failed to save account: %w", err)
		}
		return nil
	}
	if !snap.AvailableCash.IsPositive() {
		return apperrors.NewTradeError(apperrors.ErrInsufficientFunds, "", "START",
			fmt.Sprintf("account %s has no available cash", key))
	}
	return nil
}

// activeOn returns a running session trading on key, or nil.
func (c *Controller) activeOn(key models.AccountKey) *handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.sessions {
		if h.session.Account() == key {
			return h
		}
	}
	return nil
}

// restore rebuilds an account from the persisted trade log once per process.
func (c *Controller) restore(ctx context.Context, key models.AccountKey) error {
	c.restoreMu.Lock()
	defer c.restoreMu.Unlock()
	if c.restored[key] {
		return nil
	}

	rec, err := c.deps.Store.GetAccount(ctx, key)
	if err != nil {
		return err
	}
	filter := store.TradeFilter{UserID: key.UserID, Mode: key.Mode}
	capital := c.cfg.DefaultCapital
	if rec != nil {
		filter.After = rec.ResetAt
		capital = rec.InitialCapital
	}
	trades, err := c.deps.Store.ListTrades(ctx, filter)
	if err != nil {
		return err
	}
	if rec != nil || len(trades) > 0 {
		if err := c.deps.Ledger.Replay(key, capital, trades); err != nil {
			return err
		}
		c.log.Info().Str("account", key.String()).Int("trades", len(trades)).Msg("Account restored")
	}
	c.restored[key] = true
	return nil
}

// ============================================================================
// Stop
// ============================================================================

// Stop ends a session and returns its final net P&L. It is idempotent: on a
// session that has already ended it returns the recorded result.
func (c *Controller) Stop(ctx context.Context, userID, sessionID string) (decimal.Decimal, error) {
	c.mu.Lock()
	h, ok := c.sessions[sessionID]
	c.mu.Unlock()

	if !ok {
		return c.stopDetached(ctx, userID, sessionID)
	}
	if h.session.UserID != userID {
		return decimal.Zero, apperrors.NewSessionError(sessionID, apperrors.ErrUnauthorized, "session belongs to another user")
	}

	h.requestStop()
	if err := c.deps.Store.RequestStop(ctx, sessionID); err != nil {
		h.log.Warn().Err(err).Msg("Failed to persist stop request")
	}

	wait, cancel := context.WithTimeout(ctx, c.cfg.StopTimeout)
	defer cancel()
	select {
	case <-h.done:
	case <-wait.Done():
		return decimal.Zero, apperrors.NewSessionError(sessionID, apperrors.ErrStopTimeout,
			"stop requested; the session is still running and will stop at its next check")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finalPnL, nil
}

// stopDetached handles sessions with no loop in this process. The
// persisted stop flag reaches a loop running in another process, which
// finalizes the session itself.
func (c *Controller) stopDetached(ctx context.Context, userID, sessionID string) (decimal.Decimal, error) {
	session, err := c.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return decimal.Zero, err
	}
	if session.UserID != userID {
		return decimal.Zero, apperrors.NewSessionError(sessionID, apperrors.ErrUnauthorized, "session belongs to another user")
	}
	if session.Status.Finished() {
		return session.FinalPnL, nil
	}
	if session.Status == models.SessionRunning {
		if err := c.deps.Store.RequestStop(ctx, sessionID); err != nil {
			return decimal.Zero, err
		}
	}
	if err := c.restore(ctx, session.Account()); err != nil {
		return decimal.Zero, err
	}
	return c.deps.Ledger.PnL(session.Account(), nil).NetPnL, nil
}

// Shutdown stops every active session.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	handles := make([]*handle, 0, len(c.sessions))
	for _, h := range c.sessions {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	for _, h := range handles {
		if _, err := c.Stop(ctx, h.session.UserID, h.session.ID); err != nil {
			c.log.Error().Err(err).Str("session_id", h.session.ID).Msg("Failed to stop session")
		}
	}
}

// Done returns a channel closed when the session's loop has exited, or nil
// if the session is not active in this process.
func (c *Controller) Done(sessionID string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.sessions[sessionID]; ok {
		return h.done
	}
	return nil
}

// Wait blocks until the session's loop exits or ctx is done, and returns
// the persisted session.
func (c *Controller) Wait(ctx context.Context, sessionID string) (*models.BotSession, error) {
	if done := c.Done(sessionID); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.deps.Store.GetSession(ctx, sessionID)
}

// Active returns the ids of sessions running in this process.
func (c *Controller) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sessions))
	for sid := range c.sessions {
		out = append(out, sid)
	}
	return out
}

func (c *Controller) unregister(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

// ============================================================================
// Events and session logs
// ============================================================================

func (c *Controller) publish(h *handle, t models.EventType, data interface{}) {
	c.deps.Publisher.Publish(models.Event{
		Type:      t,
		SessionID: h.session.ID,
		Account:   h.session.Account().String(),
		Data:      data,
		Timestamp: c.now(),
	})
}

func (c *Controller) publishStatus(h *handle, status models.SessionStatus, message string) {
	c.publish(h, models.EventBotStatusUpdate, models.StatusUpdateData{Status: status, Message: message})
}

func (c *Controller) publishTrade(h *handle, t models.Trade) {
	c.publish(h, models.EventTradeExecuted, models.TradeExecutedData{
		Symbol:    t.Symbol,
		Action:    t.Side,
		Quantity:  t.Quantity,
		Price:     t.Price.StringFixed(2),
		Brokerage: t.Fees.StringFixed(2),
		OrderID:   t.OrderID,
	})
}

func (c *Controller) publishPortfolio(h *handle, r models.PnLReport) {
	c.publish(h, models.EventPortfolioUpdate, models.PortfolioUpdateData{
		AvailableCash:  r.AvailableCash.StringFixed(2),
		PortfolioValue: r.PortfolioValue.StringFixed(2),
		NetPnL:         r.NetPnL.StringFixed(2),
		OpenPositions:  len(r.Positions),
	})
}

// appendLog persists a session log line. Failures are logged only.
func (c *Controller) appendLog(h *handle, level, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.deps.Store.AppendLog(ctx, h.session.ID, level, message); err != nil {
		h.log.Warn().Err(err).Msg("Failed to append session log")
	}
}
