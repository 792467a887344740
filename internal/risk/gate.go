// Package risk validates prospective trades before they reach the ledger.
//
// The gate is advisory: it reads a snapshot that may already be stale, so the
// ledger re-validates cash and quantity on execution.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "tradebot/internal/errors"
	"tradebot/internal/ledger"
	"tradebot/internal/models"
	"tradebot/pkg/utils"
)

// Config holds gate limits.
type Config struct {
	// MaxCapitalUsage caps committed capital, fees included, as a fraction
	// of initial capital.
	MaxCapitalUsage decimal.Decimal
	MaxPositions    int
}

// DefaultConfig returns the default gate limits.
func DefaultConfig() Config {
	return Config{
		MaxCapitalUsage: decimal.RequireFromString("0.8"),
		MaxPositions:    5,
	}
}

// Gate is a side-effect-free predicate layer between signal generation and
// the ledger.
type Gate struct {
	cfg  Config
	fees ledger.FeeSchedule
}

// NewGate creates a gate that prices fees with the ledger's schedule.
func NewGate(cfg Config, fees ledger.FeeSchedule) *Gate {
	if cfg.MaxCapitalUsage.IsZero() {
		cfg.MaxCapitalUsage = DefaultConfig().MaxCapitalUsage
	}
	return &Gate{cfg: cfg, fees: fees}
}

// Config returns the gate limits.
func (g *Gate) Config() Config {
	return g.cfg
}

// Result contains the outcome of a gate check.
type Result struct {
	OK           bool
	Reason       string
	Err          error
	ChecksPassed []string
	ChecksFailed []string
}

func (r *Result) pass(check string) {
	r.ChecksPassed = append(r.ChecksPassed, check)
}

func (r *Result) fail(check string, err *apperrors.TradeError) {
	r.OK = false
	r.Err = err
	r.Reason = err.Reason
	r.ChecksFailed = append(r.ChecksFailed, check)
}

// CanAfford checks cash and the capital ceiling for a BUY, and the held
// quantity for a SELL.
func (g *Gate) CanAfford(snap models.AccountSnapshot, req models.TradeRequest) Result {
	result := Result{OK: true}
	action := string(req.Side)

	if req.Quantity <= 0 || !req.Price.IsPositive() {
		result.fail("parameters", apperrors.NewTradeError(apperrors.ErrInvalidParameters, req.Symbol, action,
			fmt.Sprintf("quantity %d and price %s must be positive", req.Quantity, req.Price)))
		return result
	}
	result.pass("parameters")

	switch req.Side {
	case models.OrderSideBuy:
		value := req.Price.Mul(decimal.NewFromInt(int64(req.Quantity)))
		cost := value.Add(g.fees.Total(value, req.Side, req.Product))

		if cost.GreaterThan(snap.AvailableCash) {
			result.fail("cash", apperrors.NewTradeError(apperrors.ErrInsufficientFunds, req.Symbol, action,
				fmt.Sprintf("need %s including fees, available %s",
					utils.FormatINR(cost), utils.FormatINR(snap.AvailableCash))))
			return result
		}
		result.pass("cash")

		ceiling := snap.InitialCapital.Mul(g.cfg.MaxCapitalUsage)
		committed := snap.UsedCapital().Add(cost)
		if committed.GreaterThan(ceiling) {
			result.fail("capital_usage", apperrors.NewTradeError(apperrors.ErrCapitalLimit, req.Symbol, action,
				fmt.Sprintf("would commit %s of %s allowed (%s%% of capital)",
					utils.FormatINR(committed), utils.FormatINR(ceiling),
					g.cfg.MaxCapitalUsage.Mul(decimal.NewFromInt(100)).StringFixed(0))))
			return result
		}
		result.pass("capital_usage")

	case models.OrderSideSell:
		pos, ok := snap.Position(req.Symbol)
		if !ok {
			result.fail("position", apperrors.NewTradeError(apperrors.ErrNoPosition, req.Symbol, action,
				fmt.Sprintf("no open position in %s", req.Symbol)))
			return result
		}
		if pos.Quantity < req.Quantity {
			result.fail("position", apperrors.NewTradeError(apperrors.ErrInsufficientQuantity, req.Symbol, action,
				fmt.Sprintf("cannot sell %d %s, holding %d", req.Quantity, req.Symbol, pos.Quantity)))
			return result
		}
		result.pass("position")

	default:
		result.fail("parameters", apperrors.NewTradeError(apperrors.ErrInvalidParameters, req.Symbol, action,
			fmt.Sprintf("unknown action %q", req.Side)))
	}
	return result
}

// CapPositionCount reports whether a signal may pass the open-position
// limit. A BUY that would open a new position is refused once maxPositions
// positions are open. Trades on held symbols always pass.
func CapPositionCount(held map[string]int, symbol string, side models.OrderSide, maxPositions int) bool {
	if _, ok := held[symbol]; ok {
		return true
	}
	if side == models.OrderSideSell {
		return true
	}
	return len(held) < maxPositions
}

// Check runs the position cap and then CanAfford.
func (g *Gate) Check(snap models.AccountSnapshot, req models.TradeRequest) Result {
	if req.Side == models.OrderSideBuy && !CapPositionCount(snap.HeldQuantities(), req.Symbol, req.Side, g.cfg.MaxPositions) {
		result := Result{OK: true}
		result.fail("position_count", apperrors.NewTradeError(apperrors.ErrPositionLimit, req.Symbol, string(req.Side),
			fmt.Sprintf("%d of %d positions already open", len(snap.Positions), g.cfg.MaxPositions)))
		return result
	}

	result := g.CanAfford(snap, req)
	if req.Side == models.OrderSideBuy && result.OK {
		result.ChecksPassed = append([]string{"position_count"}, result.ChecksPassed...)
	}
	return result
}

// FilterUniverse drops excluded symbols, keeping the input order.
func FilterUniverse(candidates []string, excluded map[string]struct{}) []string {
	out := make([]string, 0, len(candidates))
	for _, s := range candidates {
		if _, skip := excluded[s]; skip {
			continue
		}
		out = append(out, s)
	}
	return out
}
