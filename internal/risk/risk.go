// Package risk is the centralized trade-approval gate: position size caps,
// portfolio exposure cap, max open positions, daily loss limit, reserved
// buying power for in-flight LIMIT BUY orders, PDT compliance and the
// duplicate-position guard. It may reduce a requested quantity; it never
// increases one (spec §4.3.6).
package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradecore/internal/model"
)

// Request is what a strategy signal looks like once it reaches the risk
// gate, after purity/staleness/protection checks have already passed.
type Request struct {
	Signal         model.Signal
	Price          decimal.Decimal // reference price used for sizing math
	HasOpenPos     bool            // single-trade-per-symbol already enforced upstream; kept for PDT accounting
	InFlightBuyBP  decimal.Decimal // caller-supplied Σ qty*limit_price for in-flight LIMIT BUYs, excluding this one
}

// Decision is the risk gate's verdict. ApprovedQty may be less than
// Signal.Quantity (capped, never raised) when Approved is true.
type Decision struct {
	Approved    bool
	ApprovedQty decimal.Decimal
	Reason      string
}

// Config holds the fixed, caller-supplied risk limits (from the strict
// config schema's `risk` section).
type Config struct {
	MaxPositionUSD      decimal.Decimal
	MaxPositionPct      decimal.Decimal // of portfolio value
	MaxOpenPositions    int
	DailyLossLimitUSD   decimal.Decimal
	MinBuyingPowerUSD   decimal.Decimal
	PDTMinEquityUSD     decimal.Decimal // below this, day-trade count is enforced
	PDTMaxDayTrades     int             // trades per rolling 5 trading days
}

// Gate is the live risk-approval engine. All state is in-memory; the
// caller (runtime) is responsible for persisting daily figures via
// internal/limits and reloading them at startup.
type Gate struct {
	mu sync.Mutex

	cfg Config
	log zerolog.Logger

	portfolioValue decimal.Decimal
	buyingPower    decimal.Decimal
	openPositions  int
	dailyRealized  decimal.Decimal
	dayTradeCount  int
}

func NewGate(cfg Config, log zerolog.Logger) *Gate {
	return &Gate{cfg: cfg, log: log.With().Str("component", "risk_gate").Logger()}
}

// SetAccountState is called by the runtime before each evaluation with the
// latest broker-reported figures.
func (g *Gate) SetAccountState(portfolioValue, buyingPower decimal.Decimal, openPositions int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.portfolioValue = portfolioValue
	g.buyingPower = buyingPower
	g.openPositions = openPositions
}

// SetDailyState is called at startup (and on rollover) from the persisted
// daily-limits tracker.
func (g *Gate) SetDailyState(realizedPnL decimal.Decimal, dayTradeCount int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyRealized = realizedPnL
	g.dayTradeCount = dayTradeCount
}

// Evaluate is the single entry point every signal passes through after the
// protection stack. It never mutates persisted state; callers record fills
// and losses through internal/limits separately.
func (g *Gate) Evaluate(req Request) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	reject := func(reason string) Decision {
		g.log.Debug().Str("symbol", req.Signal.Symbol).Str("reason", reason).Msg("risk rejected")
		return Decision{Approved: false, Reason: reason}
	}

	if g.cfg.DailyLossLimitUSD.IsPositive() && g.dailyRealized.Neg().GreaterThanOrEqual(g.cfg.DailyLossLimitUSD) {
		return reject("daily_loss_limit")
	}

	if !req.Signal.Side.IsSell() && g.openPositions >= g.cfg.MaxOpenPositions {
		return reject("max_open_positions")
	}

	if g.cfg.PDTMinEquityUSD.IsPositive() && g.portfolioValue.LessThan(g.cfg.PDTMinEquityUSD) {
		if g.dayTradeCount >= g.cfg.PDTMaxDayTrades {
			return reject("pdt_limit")
		}
	}

	qty := req.Signal.Quantity
	if qty.LessThanOrEqual(decimal.Zero) {
		return reject("non_positive_quantity")
	}

	if !req.Signal.Side.IsSell() && req.Price.IsPositive() {
		// absolute USD cap
		if g.cfg.MaxPositionUSD.IsPositive() {
			maxQty := g.cfg.MaxPositionUSD.Div(req.Price)
			if qty.GreaterThan(maxQty) {
				qty = maxQty.Truncate(0)
			}
		}
		// % of portfolio cap
		if g.cfg.MaxPositionPct.IsPositive() && g.portfolioValue.IsPositive() {
			maxNotional := g.portfolioValue.Mul(g.cfg.MaxPositionPct)
			maxQty := maxNotional.Div(req.Price)
			if qty.GreaterThan(maxQty) {
				qty = maxQty.Truncate(0)
			}
		}

		notional := qty.Mul(req.Price)
		availableBP := g.buyingPower.Sub(req.InFlightBuyBP).Sub(g.cfg.MinBuyingPowerUSD)
		if notional.GreaterThan(availableBP) {
			if availableBP.LessThanOrEqual(decimal.Zero) {
				return reject("insufficient_buying_power")
			}
			qty = availableBP.Div(req.Price).Truncate(0)
		}

		if qty.LessThanOrEqual(decimal.Zero) {
			return reject("quantity_rounds_to_zero")
		}
	}

	g.log.Info().
		Str("symbol", req.Signal.Symbol).
		Str("requested_qty", req.Signal.Quantity.String()).
		Str("approved_qty", qty.String()).
		Msg("risk approved")

	return Decision{Approved: true, ApprovedQty: qty}
}

// RecordDayTrade increments the rolling day-trade counter; the runtime
// calls this only when a round-trip completes within the same session
// (PDT rule accounting lives upstream in internal/limits for persistence).
func (g *Gate) RecordDayTrade(at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dayTradeCount++
}
