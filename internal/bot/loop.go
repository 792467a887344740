package bot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"

	"tradebot/internal/broker"
	apperrors "tradebot/internal/errors"
	"tradebot/internal/logging"
	"tradebot/internal/models"
	"tradebot/internal/telemetry"
	"tradebot/pkg/utils"
)

// run drives one session from start to a terminal status.
func (c *Controller) run(h *handle) {
	defer close(h.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		status  models.SessionStatus
		message string
		pc      panics.Catcher
	)
	pc.Try(func() {
		status, message = c.loop(ctx, h)
	})
	if r := pc.Recovered(); r != nil {
		status = models.SessionError
		message = fmt.Sprintf("panic: %v", r.Value)
		h.log.Error().Str("stack", string(r.Stack)).Msg("Execution loop panicked")
	}

	c.finish(h, status, message)
}

// loop runs cycles until the session must end and says why.
func (c *Controller) loop(ctx context.Context, h *handle) (models.SessionStatus, string) {
	s := h.session
	key := s.Account()

	for iteration := 1; ; iteration++ {
		if h.stopRequested() {
			return models.SessionStopped, "stop requested"
		}
		if c.persistedStop(ctx, h) {
			h.requestStop()
			return models.SessionStopped, "stop requested"
		}
		if c.now().Sub(s.StartedAt) >= s.MaxDuration {
			return models.SessionCompleted, "max duration reached"
		}
		if s.TargetProfit.IsPositive() {
			net := c.deps.Ledger.PnL(key, h.lastPrices()).NetPnL
			if net.GreaterThanOrEqual(s.TargetProfit) {
				return models.SessionCompleted, fmt.Sprintf("profit target reached (net %s)", utils.FormatINR(net))
			}
		}

		if err := c.cycle(ctx, h, iteration); err != nil {
			if !apperrors.IsCycleAbort(err) {
				h.log.Error().Err(err).Int("iteration", iteration).Msg("Cycle failed")
				return models.SessionError, logging.Redact(err.Error())
			}
			h.log.Warn().Err(err).Int("iteration", iteration).Msg("Cycle aborted")
			c.appendLog(h, "warning", "cycle skipped: "+apperrors.Reason(err))
		}

		if iteration%c.cfg.StatusLogEvery == 0 {
			r := c.deps.Ledger.PnL(key, h.lastPrices())
			logging.LogCycleStatus(h.log, iteration, r.NetPnL, r.AvailableCash, len(r.Positions))
		}

		c.sleep(ctx, h)
	}
}

// persistedStop reads the secondary, persisted stop signal.
func (c *Controller) persistedStop(ctx context.Context, h *handle) bool {
	session, err := c.deps.Store.GetSession(ctx, h.session.ID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read session status")
		return false
	}
	return session.StopRequested || session.Status != models.SessionRunning
}

// sleep waits one cycle interval in slices, returning early on stop.
func (c *Controller) sleep(ctx context.Context, h *handle) {
	deadline := c.now().Add(c.cfg.CycleInterval)
	timer := time.NewTimer(c.cfg.SleepSlice)
	defer timer.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if h.stopRequested() {
			return
		}
		remaining := deadline.Sub(c.now())
		if remaining <= 0 {
			return
		}
		if remaining > c.cfg.SleepSlice {
			remaining = c.cfg.SleepSlice
		}
		timer.Reset(remaining)
	}
}

// cycle fetches prices, generates signals and executes them one at a time.
func (c *Controller) cycle(ctx context.Context, h *handle, iteration int) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "bot.cycle",
		attribute.String("session.id", h.session.ID),
		attribute.Int("iteration", iteration))
	defer func() { telemetry.End(span, err) }()

	key := h.session.Account()
	snap := c.deps.Ledger.Snapshot(key)

	prices, err := h.broker.GetQuotes(ctx, c.watchlist(h, snap))
	if err != nil {
		return err
	}
	h.mergePrices(prices)

	in := strategyInput(prices, snap)
	signals := h.contract.Enforce(in, h.generator.Generate(ctx, in))
	span.SetAttributes(attribute.Int("signals", len(signals)))

	for _, sig := range signals {
		if h.stopRequested() {
			return nil
		}
		if err := c.execute(ctx, h, sig); err != nil {
			if apperrors.IsRecoverable(err) {
				c.reject(h, sig, err)
				continue
			}
			return err
		}
	}
	return nil
}

// watchlist is the session's candidate universe plus every held symbol.
func (c *Controller) watchlist(h *handle, snap models.AccountSnapshot) []string {
	symbols := c.deps.Universe.Candidates(h.session.Product)
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		seen[s] = struct{}{}
	}
	for _, p := range snap.Positions {
		if _, ok := seen[p.Symbol]; !ok {
			symbols = append(symbols, p.Symbol)
		}
	}
	return symbols
}

// execute runs one signal through the gate, the broker (live mode) and the
// ledger, then persists and announces the trade.
func (c *Controller) execute(ctx context.Context, h *handle, sig models.Signal) (err error) {
	s := h.session
	key := s.Account()

	ctx, span := telemetry.StartSpan(ctx, "bot.execute",
		attribute.String("symbol", sig.Symbol),
		attribute.String("side", string(sig.Side)),
		attribute.Int("quantity", sig.Quantity))
	defer func() { telemetry.End(span, err) }()

	req := models.TradeRequest{
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Quantity:  sig.Quantity,
		Price:     sig.Price,
		Product:   s.Product,
		SessionID: s.ID,
	}

	if res := c.deps.Gate.Check(c.deps.Ledger.Snapshot(key), req); !res.OK {
		return res.Err
	}

	if s.Mode == models.ModeLive {
		order, err := h.broker.PlaceOrder(ctx, &broker.OrderRequest{
			Symbol:   req.Symbol,
			Side:     req.Side,
			Quantity: req.Quantity,
			Price:    req.Price,
			Product:  req.Product,
			Tag:      tag(s.ID),
		})
		if err != nil {
			return err
		}
		req.OrderID = order.OrderID
	}

	trade, err := c.deps.Ledger.Execute(key, req)
	if err != nil {
		return err
	}
	c.record(ctx, h, trade)
	return nil
}

// record persists an executed trade and publishes it. The ledger already
// holds the trade, so a save that keeps failing is logged and the session
// carries on rather than dropping it.
func (c *Controller) record(ctx context.Context, h *handle, trade models.Trade) {
	attempt := 0
	err := utils.Retry(ctx, c.cfg.SaveRetry, func() error {
		attempt++
		err := c.deps.Store.SaveTrade(ctx, &trade)
		if err != nil {
			h.log.Warn().Err(err).Str("trade_id", trade.ID).Int("attempt", attempt).Msg("Failed to persist trade")
		}
		return err
	})
	if err != nil {
		h.log.Error().Err(err).
			Str("trade_id", trade.ID).
			Str("symbol", trade.Symbol).
			Str("side", string(trade.Side)).
			Int("quantity", trade.Quantity).
			Str("price", trade.Price.StringFixed(2)).
			Msg("Trade not persisted; account will differ after restart")
		c.appendLog(h, "error", fmt.Sprintf("trade %s %d %s not persisted: %s",
			trade.Side, trade.Quantity, trade.Symbol, logging.Redact(err.Error())))
	}
	logging.LogTrade(h.log, trade)
	c.publishTrade(h, trade)
	c.publishPortfolio(h, c.deps.Ledger.PnL(h.session.Account(), h.lastPrices()))
}

// reject logs a signal the gate or ledger refused.
func (c *Controller) reject(h *handle, sig models.Signal, err error) {
	reason := apperrors.Reason(err)
	log := logging.WithSymbol(h.log, sig.Symbol)
	log.Warn().
		Str("side", string(sig.Side)).
		Int("quantity", sig.Quantity).
		Str("kind", apperrors.Kind(err)).
		Msg(reason)
	c.appendLog(h, "warning", fmt.Sprintf("%s %d %s rejected: %s", sig.Side, sig.Quantity, sig.Symbol, reason))
}

// finish closes out a session: optional exit-all, final P&L, persisted
// status, events and registry removal.
func (c *Controller) finish(h *handle, status models.SessionStatus, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StopTimeout)
	defer cancel()

	key := h.session.Account()
	if status == models.SessionStopped && c.cfg.ExitPositionsOnStop {
		c.exitPositions(ctx, h)
	}

	final := c.deps.Ledger.PnL(key, h.lastPrices()).NetPnL
	h.mu.Lock()
	h.status = status
	h.message = message
	h.finalPnL = final
	h.mu.Unlock()

	if err := c.deps.Store.FinishSession(ctx, h.session.ID, status, message, final, c.now()); err != nil {
		h.log.Error().Err(err).Msg("Failed to persist final session status")
	}

	if status == models.SessionError {
		h.log.Error().Str("status", string(status)).Str("final_pnl", final.StringFixed(2)).Msg(message)
		c.appendLog(h, "error", message)
	} else {
		logging.LogSessionStatus(h.log, status, message)
		c.appendLog(h, "info", fmt.Sprintf("%s: %s (net %s)", status, message, utils.FormatINR(final)))
	}
	c.publishStatus(h, status, message)
	c.unregister(h.session.ID)
}

// exitPositions sells every open position of the session's account at
// current prices. Failures are logged per symbol.
func (c *Controller) exitPositions(ctx context.Context, h *handle) {
	s := h.session
	key := s.Account()
	positions := c.deps.Ledger.Positions(key)
	if len(positions) == 0 {
		return
	}

	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	sort.Strings(symbols)
	if quotes, err := h.broker.GetQuotes(ctx, symbols); err != nil {
		h.log.Warn().Err(err).Msg("Exit quotes unavailable, using last known prices")
	} else {
		h.mergePrices(quotes)
	}
	prices := h.lastPrices()

	var report models.ExitReport
	if s.Mode == models.ModeLive {
		report = c.exitLive(ctx, h, positions, prices)
	} else {
		report = c.deps.Ledger.ExitAll(key, prices, s.Product, s.ID)
	}

	for _, t := range report.Trades {
		c.record(ctx, h, t)
	}
	for _, f := range report.Failures {
		log := logging.WithSymbol(h.log, f.Symbol)
		log.Warn().Str("reason", f.Reason).Msg("Failed to exit position")
		c.appendLog(h, "warning", fmt.Sprintf("exit %s failed: %s", f.Symbol, f.Reason))
	}
	h.log.Info().Int("closed", report.Succeeded).Int("failed", report.Failed).Msg("Positions exited")
}

// exitLive routes each exit through the broker before mirroring it in the
// ledger.
func (c *Controller) exitLive(ctx context.Context, h *handle, positions []models.Position, prices models.Prices) models.ExitReport {
	var report models.ExitReport
	s := h.session
	for _, p := range positions {
		fail := func(reason string) {
			report.Failed++
			report.Failures = append(report.Failures, models.ExitFailure{Symbol: p.Symbol, Reason: reason})
		}

		price, ok := prices[p.Symbol]
		if !ok || !price.IsPositive() {
			fail("no current price")
			continue
		}
		price = c.deps.Ledger.ExitPrice(price)

		order, err := h.broker.PlaceOrder(ctx, &broker.OrderRequest{
			Symbol:   p.Symbol,
			Side:     models.OrderSideSell,
			Quantity: p.Quantity,
			Price:    price,
			Product:  s.Product,
			Tag:      tag(s.ID),
		})
		if err != nil {
			fail(apperrors.Reason(err))
			continue
		}
		trade, err := c.deps.Ledger.Execute(s.Account(), models.TradeRequest{
			Symbol:    p.Symbol,
			Side:      models.OrderSideSell,
			Quantity:  p.Quantity,
			Price:     price,
			Product:   s.Product,
			SessionID: s.ID,
			OrderID:   order.OrderID,
		})
		if err != nil {
			fail(apperrors.Reason(err))
			continue
		}
		report.Succeeded++
		report.Trades = append(report.Trades, trade)
	}
	return report
}

// tag is the broker order tag for a session. Kite limits tags to 20
// characters.
func tag(sessionID string) string {
	if len(sessionID) > 20 {
		return sessionID[len(sessionID)-20:]
	}
	return sessionID
}
