// Package protection implements the pluggable pre-trade veto stack: time
// window, volatility halt, stoploss guard, drawdown and cooldown-period
// protections. Protections are evaluated in the caller-configured order;
// the first to report IsProtected wins and the rest are never evaluated
// for that signal (spec §4.3.5, §9 tie-break decision).
package protection

import (
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/model"
)

// Context carries everything a protection needs to evaluate a signal.
type Context struct {
	Signal   model.Signal
	Now      time.Time
	ETNow    time.Time // Now converted to America/New_York
	Equity   decimal.Decimal
	LastLoss *LossEvent
}

type LossEvent struct {
	Symbol string
	At     time.Time
	PnL    decimal.Decimal
}

// Verdict is the immutable result of evaluating one protection.
type Verdict struct {
	IsProtected bool
	Reason      string
}

// Protection is the capability every pluggable veto implements. Not all
// protections need market-data updates; UpdateMarketData is a no-op for
// those that don't.
type Protection interface {
	Name() string
	Check(ctx Context) Verdict
	UpdateMarketData(symbol string, price decimal.Decimal)
}

// Manager evaluates protections in the exact configured slice order.
type Manager struct {
	protections []Protection
}

func NewManager(protections ...Protection) *Manager {
	return &Manager{protections: protections}
}

// Evaluate returns the first blocking verdict, or an unprotected verdict if
// none blocks.
func (m *Manager) Evaluate(ctx Context) (name string, verdict Verdict) {
	for _, p := range m.protections {
		v := p.Check(ctx)
		if v.IsProtected {
			return p.Name(), v
		}
	}
	return "", Verdict{IsProtected: false}
}

func (m *Manager) UpdateMarketData(symbol string, price decimal.Decimal) {
	for _, p := range m.protections {
		p.UpdateMarketData(symbol, price)
	}
}

// lossRecorder is implemented by protections that track realized losses
// (StoplossGuard, CooldownPeriod); protections that don't care about PnL
// simply don't implement it.
type lossRecorder interface {
	RecordLoss(symbol string, at time.Time)
}

// RecordLoss fans a realized loss out to every protection that tracks one.
func (m *Manager) RecordLoss(symbol string, at time.Time) {
	for _, p := range m.protections {
		if lr, ok := p.(lossRecorder); ok {
			lr.RecordLoss(symbol, at)
		}
	}
}

// ---------------------------------------------------------------------
// TimeWindow
// ---------------------------------------------------------------------

type TimeWindow struct {
	Start, End time.Duration // offsets from ET midnight, e.g. 9h30m, 16h0m
}

func (t *TimeWindow) Name() string { return "time_window" }

func (t *TimeWindow) Check(ctx Context) Verdict {
	midnight := time.Date(ctx.ETNow.Year(), ctx.ETNow.Month(), ctx.ETNow.Day(), 0, 0, 0, 0, ctx.ETNow.Location())
	offset := ctx.ETNow.Sub(midnight)
	if offset < t.Start || offset > t.End {
		return Verdict{IsProtected: true, Reason: "outside_trade_window"}
	}
	return Verdict{}
}

func (t *TimeWindow) UpdateMarketData(string, decimal.Decimal) {}

// ---------------------------------------------------------------------
// Volatility halt
// ---------------------------------------------------------------------

type VolatilityHalt struct {
	Window    int
	Threshold decimal.Decimal

	returns map[string][]decimal.Decimal
	last    map[string]decimal.Decimal
}

func NewVolatilityHalt(window int, threshold decimal.Decimal) *VolatilityHalt {
	return &VolatilityHalt{Window: window, Threshold: threshold, returns: make(map[string][]decimal.Decimal), last: make(map[string]decimal.Decimal)}
}

func (v *VolatilityHalt) Name() string { return "volatility_halt" }

func (v *VolatilityHalt) UpdateMarketData(symbol string, price decimal.Decimal) {
	prev, ok := v.last[symbol]
	v.last[symbol] = price
	if !ok || prev.IsZero() {
		return
	}
	ret := price.Sub(prev).Div(prev)
	hist := append(v.returns[symbol], ret)
	if len(hist) > v.Window {
		hist = hist[len(hist)-v.Window:]
	}
	v.returns[symbol] = hist
}

func (v *VolatilityHalt) Check(ctx Context) Verdict {
	hist := v.returns[ctx.Signal.Symbol]
	if len(hist) < 2 {
		return Verdict{}
	}
	std := stddev(hist)
	if std.GreaterThan(v.Threshold) {
		return Verdict{IsProtected: true, Reason: "volatility_halt"}
	}
	return Verdict{}
}

func stddev(xs []decimal.Decimal) decimal.Decimal {
	n := decimal.NewFromInt(int64(len(xs)))
	sum := decimal.Zero
	for _, x := range xs {
		sum = sum.Add(x)
	}
	mean := sum.Div(n)
	variance := decimal.Zero
	for _, x := range xs {
		d := x.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(n)
	f, _ := variance.Float64()
	return decimal.NewFromFloat(sqrt(f))
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	guess := x
	for i := 0; i < 30; i++ {
		guess = 0.5 * (guess + x/guess)
	}
	return guess
}

// ---------------------------------------------------------------------
// Stoploss guard — blocks after N consecutive losses within a window
// ---------------------------------------------------------------------

type StoplossGuard struct {
	MaxConsecutiveLosses int
	Window               time.Duration

	losses map[string][]time.Time
}

func NewStoplossGuard(maxConsecutive int, window time.Duration) *StoplossGuard {
	return &StoplossGuard{MaxConsecutiveLosses: maxConsecutive, Window: window, losses: make(map[string][]time.Time)}
}

func (s *StoplossGuard) Name() string { return "stoploss_guard" }

func (s *StoplossGuard) UpdateMarketData(string, decimal.Decimal) {}

// RecordLoss must be called by the caller whenever a position closes at a
// loss; the guard has no other way to observe PnL.
func (s *StoplossGuard) RecordLoss(symbol string, at time.Time) {
	s.losses[symbol] = append(s.losses[symbol], at)
}

func (s *StoplossGuard) Check(ctx Context) Verdict {
	hist := s.losses[ctx.Signal.Symbol]
	cutoff := ctx.Now.Add(-s.Window)
	count := 0
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Before(cutoff) {
			break
		}
		count++
	}
	if count >= s.MaxConsecutiveLosses {
		return Verdict{IsProtected: true, Reason: "consecutive_losses"}
	}
	return Verdict{}
}

// ---------------------------------------------------------------------
// Drawdown
// ---------------------------------------------------------------------

type Drawdown struct {
	MaxDrawdownPct decimal.Decimal
	PeakEquity     decimal.Decimal
}

func (d *Drawdown) Name() string { return "drawdown" }

func (d *Drawdown) UpdateMarketData(string, decimal.Decimal) {}

// CheckEquity is called by the caller with the current account equity; the
// protection itself holds only the comparison logic.
func (d *Drawdown) CheckEquity(equity decimal.Decimal) Verdict {
	if equity.GreaterThan(d.PeakEquity) {
		d.PeakEquity = equity
	}
	if d.PeakEquity.IsZero() {
		return Verdict{}
	}
	dd := d.PeakEquity.Sub(equity).Div(d.PeakEquity)
	if dd.GreaterThan(d.MaxDrawdownPct) {
		return Verdict{IsProtected: true, Reason: "drawdown_exceeded"}
	}
	return Verdict{}
}

func (d *Drawdown) Check(ctx Context) Verdict { return d.CheckEquity(ctx.Equity) }

// ---------------------------------------------------------------------
// Cooldown period — blocks for a fixed duration after ANY realized loss
// ---------------------------------------------------------------------

type CooldownPeriod struct {
	Duration time.Duration
	lastLoss map[string]time.Time
}

func NewCooldownPeriod(d time.Duration) *CooldownPeriod {
	return &CooldownPeriod{Duration: d, lastLoss: make(map[string]time.Time)}
}

func (c *CooldownPeriod) Name() string { return "cooldown_period" }

func (c *CooldownPeriod) UpdateMarketData(string, decimal.Decimal) {}

func (c *CooldownPeriod) RecordLoss(symbol string, at time.Time) {
	c.lastLoss[symbol] = at
}

func (c *CooldownPeriod) Check(ctx Context) Verdict {
	last, ok := c.lastLoss[ctx.Signal.Symbol]
	if !ok {
		return Verdict{}
	}
	if ctx.Now.Sub(last) < c.Duration {
		return Verdict{IsProtected: true, Reason: "post_loss_cooldown"}
	}
	return Verdict{}
}
