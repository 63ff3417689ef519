// Package runtime is the cooperative cycle scheduler that drives the whole
// pipeline: market-hours gate, per-symbol bar fetch, strategy dispatch, the
// pre-trade gate stack, execution, and periodic drift checks (spec §4.1).
// It is the only package that wires every other internal package together.
package runtime

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradecore/internal/bar"
	"tradecore/internal/breaker"
	"tradecore/internal/broker"
	"tradecore/internal/clock"
	"tradecore/internal/config"
	"tradecore/internal/execution"
	"tradecore/internal/journal"
	"tradecore/internal/limits"
	"tradecore/internal/logger"
	"tradecore/internal/metrics"
	"tradecore/internal/model"
	"tradecore/internal/orderstate"
	"tradecore/internal/ordertracker"
	"tradecore/internal/posstore"
	"tradecore/internal/protection"
	"tradecore/internal/recovery"
	"tradecore/internal/risk"
	"tradecore/internal/statusserver"
	"tradecore/internal/strategy"
	"tradecore/internal/txlog"
	"tradecore/internal/universe"
)

type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// BarSource is the market-data boundary: the runtime only ever asks for
// the latest complete-or-not bar for a symbol, never how it got there
// (spec §1, market-data provider adapters are an external collaborator).
type BarSource interface {
	LatestBar(symbol string) (*bar.Bar, error)
}

// Deps bundles every collaborator the container wires in a fixed order
// (spec §9, "Cyclic references / graph ownership").
type Deps struct {
	Mode          Mode
	Config        *config.Frozen
	Clock         clock.Clock
	Broker        broker.Broker
	Bars          BarSource
	Journal       *journal.Writer
	TxLog         *txlog.Log
	Positions     *posstore.Store
	Limits        *limits.Tracker
	Tracker       *ordertracker.Tracker
	Engine        *execution.Engine
	Protections   *protection.Manager
	Risk          *risk.Gate
	Strategies    *strategy.LifecycleManager
	Recovery      *recovery.Coordinator
	Breaker       *breaker.Breaker
	Universe      *universe.Reader
	FailClosedSingleTrade bool
	CooldownSeconds       int
	Symbols               []string
	PollInterval          time.Duration

	// Adaptive sleep tiers (spec §4.1); zero values fall back to defaults
	// in New.
	PreOpenIntervalSeconds int
	ClosedIntervalSeconds  int
	PreOpenWindowSeconds   int
}

// Runtime owns the event bus, transaction log, position store, limits
// tracker, order tracker, execution engine and circuit breaker
// exclusively; the broker is shared read-mostly (spec §3 ownership).
type Runtime struct {
	mode     Mode
	cfg      *config.Frozen
	runID    string
	clk      clock.Clock
	marketClock *clock.MarketClock
	brk      broker.Broker
	bars     BarSource
	jrnl     *journal.Writer
	txLog    *txlog.Log
	posStore *posstore.Store
	limitsT  *limits.Tracker
	tracker  *ordertracker.Tracker
	engine   *execution.Engine
	protections *protection.Manager
	riskGate *risk.Gate
	strategies *strategy.LifecycleManager
	rec      *recovery.Coordinator
	cb       *breaker.Breaker
	universe *universe.Reader
	symbols  []string
	pollInterval time.Duration

	failClosedSingleTrade bool
	cooldown              time.Duration

	preOpenInterval time.Duration
	closedInterval  time.Duration
	preOpenWindow   time.Duration

	mu           sync.Mutex
	lastSubmitAt map[string]time.Time // "strategy|symbol|side" -> time

	running          bool
	lastCycleAt      time.Time
	lastCycleResult  string
	lastMarketOpen   bool
	lastNextOpen     time.Time
	lastEquity       decimal.Decimal
}

func New(d Deps) *Runtime {
	runID := uuid.NewString()
	mc := clock.NewMarketClock(d.Clock, d.Broker, clock.FailClosed)
	if d.Config != nil && d.Config.Data().FailOpenMarketHours {
		mc = clock.NewMarketClock(d.Clock, d.Broker, clock.FailOpen)
	}
	poll := d.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	preOpenInterval := time.Duration(d.PreOpenIntervalSeconds) * time.Second
	if preOpenInterval <= 0 {
		preOpenInterval = 15 * time.Second
	}
	closedInterval := time.Duration(d.ClosedIntervalSeconds) * time.Second
	if closedInterval <= 0 {
		closedInterval = 5 * time.Minute
	}
	preOpenWindow := time.Duration(d.PreOpenWindowSeconds) * time.Second
	if preOpenWindow <= 0 {
		preOpenWindow = 15 * time.Minute
	}
	return &Runtime{
		mode: d.Mode, cfg: d.Config, runID: runID, clk: d.Clock, marketClock: mc,
		brk: d.Broker, bars: d.Bars, jrnl: d.Journal, txLog: d.TxLog,
		posStore: d.Positions, limitsT: d.Limits, tracker: d.Tracker, engine: d.Engine,
		protections: d.Protections, riskGate: d.Risk, strategies: d.Strategies,
		rec: d.Recovery, cb: d.Breaker, universe: d.Universe, symbols: d.Symbols,
		pollInterval: poll,
		failClosedSingleTrade: d.FailClosedSingleTrade,
		cooldown:              time.Duration(d.CooldownSeconds) * time.Second,
		preOpenInterval:       preOpenInterval,
		closedInterval:        closedInterval,
		preOpenWindow:         preOpenWindow,
		lastSubmitAt:          make(map[string]time.Time),
	}
}

func (r *Runtime) journalEvent(event string, fields map[string]interface{}) {
	if r.jrnl == nil {
		return
	}
	ev := journal.Event{"event": event, "run_id": r.runID}
	for k, v := range fields {
		ev[k] = v
	}
	if err := r.jrnl.Write(ev); err != nil {
		metrics.JournalWriteErrorsTotal.Inc()
		logger.Errorf("runtime: journal write failed: %v", err)
	}
}

// Run executes the startup sequence then drives cycles until stopped.
// Returns the process exit code (0 clean, 1 safety halt).
func (r *Runtime) Run(runOnce bool, interval time.Duration) int {
	r.journalEvent("boot", map[string]interface{}{"mode": string(r.mode), "paper": r.mode == ModePaper})

	result := r.rec.Recover()
	metrics.RecoveryPositionsRebuilt.Set(float64(result.PositionsRebuilt))
	metrics.RecoveryOrdersCancelled.Set(float64(result.OrdersCancelled))
	if result.Status == recovery.StatusFailed {
		logger.Errorf("runtime: recovery failed, halting")
		return 1
	}

	r.journalEvent("startup_config_summary", map[string]interface{}{
		"mode": string(r.mode), "paper": r.mode == ModePaper, "symbols": r.symbols,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	r.running = true
	go func() {
		<-sigCh
		logger.Infof("runtime: shutdown signal received, stopping at end of cycle")
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	for {
		start := r.clk.Now()
		cycleErr := r.runCycle()
		metrics.CycleLatencySeconds.Observe(r.clk.Now().Sub(start).Seconds())

		if cycleErr != nil {
			r.cb.RecordFailure()
			metrics.BreakerConsecutiveFailures.Set(float64(r.cb.Count()))
			metrics.CyclesTotal.WithLabelValues("error").Inc()
			r.journalEvent("runtime_error", map[string]interface{}{"error": cycleErr.Error()})
			r.recordCycleSummary(start, "error")
			if r.cb.IsTripped() {
				metrics.BreakerTripsTotal.Inc()
				logger.Errorf("runtime: circuit breaker tripped after %d consecutive failures", r.cb.Count())
				return 1
			}
		} else {
			r.cb.RecordSuccess()
			metrics.BreakerConsecutiveFailures.Set(0)
			r.recordCycleSummary(start, "ok")
		}

		if runOnce {
			return 0
		}
		r.mu.Lock()
		keepGoing := r.running
		r.mu.Unlock()
		if !keepGoing {
			return 0
		}
		time.Sleep(r.adaptiveSleep(interval))
	}
}

// adaptiveSleep implements the three-tier policy: base_interval while the
// market is open, pre_open_interval within the pre-open window of a known
// next open (inclusive boundary), closed_interval otherwise. Always floored
// at 1 second regardless of inputs (spec §4.1, §8).
func (r *Runtime) adaptiveSleep(interval time.Duration) time.Duration {
	if interval <= 0 {
		interval = 60 * time.Second
	}

	r.mu.Lock()
	marketOpen := r.lastMarketOpen
	nextOpen := r.lastNextOpen
	r.mu.Unlock()

	var out time.Duration
	switch {
	case marketOpen:
		out = interval
	case !nextOpen.IsZero() && nextOpen.Sub(r.clk.Now()) <= r.preOpenWindow:
		out = r.preOpenInterval
	default:
		out = r.closedInterval
	}
	if out < time.Second {
		out = time.Second
	}
	return out
}

func (r *Runtime) runCycle() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in cycle: %v", rec)
		}
	}()

	status, statusErr := r.marketClock.Status()
	if statusErr != nil {
		return statusErr
	}
	metrics.MarketOpen.Set(boolToFloat(status.IsOpen))
	r.mu.Lock()
	r.lastMarketOpen = status.IsOpen
	r.lastNextOpen = status.NextOpen
	r.mu.Unlock()
	if !status.IsOpen {
		r.journalEvent("MARKET_CLOSED_BLOCK", map[string]interface{}{
			"next_open_utc": status.NextOpen.UTC().Format(time.RFC3339),
			"next_open_ny":  status.NextOpen.In(clock.NewYork()).Format(time.RFC3339),
		})
		metrics.CyclesTotal.WithLabelValues("market_closed").Inc()
		return nil
	}

	account, err := r.brk.GetAccount()
	if err != nil {
		return fmt.Errorf("runtime: get account: %w", err)
	}
	openPositions, err := r.posStore.All()
	if err != nil {
		return fmt.Errorf("runtime: load positions: %w", err)
	}
	r.riskGate.SetAccountState(account.PortfolioValue, account.BuyingPower, len(openPositions))
	r.mu.Lock()
	r.lastEquity = account.PortfolioValue
	r.mu.Unlock()

	realized, err := r.limitsT.RealizedPnL(r.clk.Now())
	if err == nil {
		r.riskGate.SetDailyState(realized, 0)
	}

	for _, symbol := range r.tradableSymbols() {
		r.processSymbol(symbol)
	}

	r.driftCheck()

	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	return nil
}

// tradableSymbols narrows the strategy-configured symbol list down to the
// scanner's active universe (spec §6 "Scanner interop"). The universe file
// is an external collaborator the runtime only reads: a missing or empty
// active-universe snapshot means no scanner is running, so every configured
// symbol stays tradable rather than silently going quiet.
func (r *Runtime) tradableSymbols() []string {
	if r.universe == nil {
		return r.symbols
	}
	active, err := r.universe.ReadActive()
	if err != nil {
		logger.Warnf("runtime: read active universe: %v", err)
		return r.symbols
	}
	allowed := active.TradableSymbols(r.clk.Now())
	if len(allowed) == 0 {
		return r.symbols
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, sym := range allowed {
		allowedSet[sym] = struct{}{}
	}
	out := make([]string, 0, len(r.symbols))
	for _, sym := range r.symbols {
		if _, ok := allowedSet[sym]; ok {
			out = append(out, sym)
		}
	}
	return out
}

func (r *Runtime) recordCycleSummary(at time.Time, result string) {
	r.mu.Lock()
	r.lastCycleAt = at
	r.lastCycleResult = result
	r.mu.Unlock()
}

// LastCycleSummary satisfies statusserver.Reporter.
func (r *Runtime) LastCycleSummary() statusserver.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := statusserver.Summary{LastCycleResult: r.lastCycleResult, MarketOpen: r.lastMarketOpen}
	if !r.lastCycleAt.IsZero() {
		s.LastCycleAt = r.lastCycleAt.Format(time.RFC3339)
	}
	return s
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (r *Runtime) processSymbol(symbol string) {
	b, err := r.bars.LatestBar(symbol)
	if err != nil {
		logger.Warnf("runtime: bar fetch failed for %s: %v", symbol, err)
		return
	}

	dataCfg := r.cfg.Data()
	verdict := bar.CheckStaleness(b, symbol, r.clk.Now(), time.Minute, time.Duration(dataCfg.MaxStalenessSec)*time.Second, dataCfg.RequireComplete)
	r.journalEvent(verdict.Event["event"].(string), verdict.Event)
	if !verdict.OK {
		return
	}

	r.protections.UpdateMarketData(symbol, b.Close)

	routed := r.strategies.OnBar(*b)
	for _, rs := range routed {
		r.handleSignal(rs)
	}
}

func (r *Runtime) handleSignal(rs strategy.RoutedSignal) {
	sig := rs.Signal
	sig.TradeID = uuid.NewString()
	metrics.SignalsReceivedTotal.WithLabelValues(rs.StrategyName).Inc()
	r.journalEvent("signal_received", map[string]interface{}{"trade_id": sig.TradeID, "signal": signalToMap(sig)})

	if sig.Side.IsBuy() {
		hasPos, hasOrder, blocked := r.singleTradeBlocked(sig.Symbol)
		if blocked {
			r.journalEvent("single_trade_block", map[string]interface{}{
				"trade_id": sig.TradeID, "strategy": rs.StrategyName, "symbol": sig.Symbol,
				"side": string(sig.Side), "qty": sig.Quantity.String(),
				"has_position": hasPos, "has_open_order": hasOrder, "reason": "single_trade_per_symbol",
			})
			return
		}
	}

	if r.cooldownBlocked(rs.StrategyName, sig) {
		return
	}

	r.mu.Lock()
	equity := r.lastEquity
	r.mu.Unlock()
	verdictName, verdict := r.protections.Evaluate(protection.Context{Signal: sig, Now: r.clk.Now(), ETNow: r.clk.Now().In(clock.NewYork()), Equity: equity})
	if verdict.IsProtected {
		metrics.ProtectionBlocksTotal.WithLabelValues(verdictName).Inc()
		r.journalEvent("protection_block", map[string]interface{}{
			"trade_id": sig.TradeID, "symbol": sig.Symbol, "side": string(sig.Side),
			"qty": sig.Quantity.String(), "reason": verdict.Reason,
		})
		return
	}

	refPrice := referencePrice(sig)
	inFlightBuyBP := r.tracker.InFlightLimitBuyNotional()
	decision := r.riskGate.Evaluate(risk.Request{Signal: sig, Price: refPrice, InFlightBuyBP: inFlightBuyBP})
	r.journalEvent("risk_decision", map[string]interface{}{
		"trade_id": sig.TradeID, "approved": decision.Approved, "reason": decision.Reason,
		"details": map[string]interface{}{"approved_qty": decision.ApprovedQty.String()},
	})
	if !decision.Approved {
		metrics.RiskRejectionsTotal.WithLabelValues(decision.Reason).Inc()
		return
	}
	sig.Quantity = decision.ApprovedQty

	r.submitAndSettle(rs.StrategyName, sig)
}

// referencePrice prefers the signal's own limit price (the best estimate a
// LIMIT signal carries); MARKET/STOP signals fall back to the stop-loss
// hint, and ultimately to zero, which the risk gate treats as "skip sizing
// math and rely on caps only" for that call.
func referencePrice(sig model.Signal) decimal.Decimal {
	if sig.LimitPrice != nil {
		return *sig.LimitPrice
	}
	if sig.StopLoss != nil {
		return *sig.StopLoss
	}
	return decimal.Zero
}

func signalToMap(sig model.Signal) map[string]interface{} {
	m := map[string]interface{}{
		"symbol": sig.Symbol, "side": string(sig.Side), "quantity": sig.Quantity.String(),
		"order_type": string(sig.OrderType), "strategy": sig.Strategy, "reason": sig.Reason,
	}
	if sig.LimitPrice != nil {
		m["limit_price"] = sig.LimitPrice.String()
	}
	if sig.TTLSeconds > 0 {
		m["ttl_seconds"] = sig.TTLSeconds
	}
	return m
}

func (r *Runtime) singleTradeBlocked(symbol string) (hasPos, hasOpenOrder, blocked bool) {
	pos, err := r.posStore.HasOpenPosition(symbol)
	if err != nil {
		return false, false, r.failClosedSingleTrade
	}
	hasPos = pos
	hasOpenOrder = r.tracker.HasOpenOrder(symbol)
	return hasPos, hasOpenOrder, hasPos || hasOpenOrder
}

// cooldownBlocked enforces the per (strategy, symbol, side) cooldown; only
// a successful submission (submitAndSettle) ever updates the timestamp.
func (r *Runtime) cooldownBlocked(strategyName string, sig model.Signal) bool {
	if r.cooldown <= 0 {
		return false
	}
	key := strategyName + "|" + sig.Symbol + "|" + string(sig.Side)
	r.mu.Lock()
	last, ok := r.lastSubmitAt[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	elapsed := r.clk.Now().Sub(last)
	if elapsed < r.cooldown {
		r.journalEvent("signal_cooldown_block", map[string]interface{}{
			"trade_id": sig.TradeID, "strategy": strategyName, "symbol": sig.Symbol, "side": string(sig.Side),
			"qty": sig.Quantity.String(), "cooldown_seconds": r.cooldown.Seconds(), "elapsed_seconds": elapsed.Seconds(),
			"reason": "signal_cooldown",
		})
		return true
	}
	return false
}

func (r *Runtime) markSubmitted(strategyName string, sig model.Signal) {
	key := strategyName + "|" + sig.Symbol + "|" + string(sig.Side)
	r.mu.Lock()
	r.lastSubmitAt[key] = r.clk.Now()
	r.mu.Unlock()
}

// submitAndSettle runs submit -> wait -> fill -> persist position -> place
// protective stop (spec §2 step [5]).
func (r *Runtime) submitAndSettle(strategyName string, sig model.Signal) {
	internalID := uuid.NewString()
	var brokerID string
	var err error

	switch sig.OrderType {
	case model.OrderTypeLimit:
		if sig.LimitPrice == nil {
			logger.Errorf("runtime: LIMIT signal for %s missing limit_price", sig.Symbol)
			return
		}
		if sig.TTLSeconds > 0 {
			final, ttlErr := r.engine.ExecuteLimitWithTTL(internalID, sig.Symbol, sig.Side, sig.Quantity, *sig.LimitPrice, strategyName, sig.TTLSeconds, r.pollInterval)
			if ttlErr != nil {
				logger.Errorf("runtime: limit-with-ttl failed for %s: %v", sig.Symbol, ttlErr)
				return
			}
			metrics.OrdersSubmittedTotal.WithLabelValues("LIMIT", string(sig.Side)).Inc()
			if final != orderstate.Filled {
				metrics.OrderTTLCancelsTotal.Inc()
				return
			}
			r.markSubmitted(strategyName, sig)
			r.settleFill(strategyName, sig, internalID)
			return
		}
		brokerID, err = r.engine.SubmitLimitOrder(internalID, sig.Symbol, sig.Side, sig.Quantity, *sig.LimitPrice, strategyName, sig.TTLSeconds)
	case model.OrderTypeStop:
		if sig.StopLoss == nil {
			logger.Errorf("runtime: STOP signal for %s missing stop price", sig.Symbol)
			return
		}
		brokerID, err = r.engine.SubmitStopOrder(internalID, sig.Symbol, sig.Side, sig.Quantity, *sig.StopLoss, strategyName, sig.Reason)
	default:
		brokerID, err = r.engine.SubmitMarketOrder(internalID, sig.Symbol, sig.Side, sig.Quantity, strategyName)
	}

	if err != nil {
		if _, dup := err.(*execution.DuplicateOrderError); dup {
			metrics.DuplicateSubmissionsTotal.Inc()
		}
		logger.Errorf("runtime: submit failed for %s: %v", sig.Symbol, err)
		return
	}
	metrics.OrdersSubmittedTotal.WithLabelValues(string(sig.OrderType), string(sig.Side)).Inc()
	r.markSubmitted(strategyName, sig)

	final, waitErr := r.engine.WaitForOrder(internalID, brokerID, 60*time.Second, r.pollInterval)
	if waitErr != nil {
		logger.Errorf("runtime: wait for order failed for %s: %v", sig.Symbol, waitErr)
		return
	}
	if final == orderstate.Filled || final == orderstate.PartiallyFilled {
		r.settleFill(strategyName, sig, internalID)
	}
}

// settleFill persists the new position from the engine's observed fill and
// places a protective stop if the signal carried a stop-loss.
func (r *Runtime) settleFill(strategyName string, sig model.Signal, internalID string) {
	qty, price := r.engine.GetFillDetails(internalID)
	if qty == nil {
		return
	}
	metrics.OrdersFilledTotal.WithLabelValues(string(sig.Side)).Inc()

	existing, _ := r.posStore.Get(sig.Symbol)
	var pos model.Position
	if existing != nil {
		pos = *existing
	} else {
		pos = model.Position{Symbol: sig.Symbol, Strategy: strategyName}
	}

	if sig.Side.IsBuy() {
		pos = pos.ApplyFill(*qty, *price)
	} else {
		pos.Quantity = pos.Quantity.Sub(*qty)
	}
	pos.Strategy = strategyName

	if pos.Quantity.IsZero() {
		if err := r.posStore.Delete(sig.Symbol); err != nil {
			logger.Errorf("runtime: position delete failed for %s: %v", sig.Symbol, err)
		}
		if sig.Side.IsSell() {
			r.realizeClose(sig, *qty, pos.EntryPrice, *price)
		}
		return
	}

	if sig.Side.IsBuy() && sig.StopLoss != nil {
		pos.StopLoss = sig.StopLoss
	}
	if sig.Side.IsBuy() && sig.TakeProfit != nil {
		pos.TakeProfit = sig.TakeProfit
	}
	if err := r.posStore.Upsert(pos); err != nil {
		logger.Errorf("runtime: position upsert failed for %s: %v", sig.Symbol, err)
		return
	}

	if sig.Side.IsBuy() && sig.StopLoss != nil {
		r.placeProtectiveStop(strategyName, sig, pos)
	}
}

func (r *Runtime) realizeClose(sig model.Signal, qty, entryPrice, exitPrice decimal.Decimal) {
	pnl := exitPrice.Sub(entryPrice).Mul(qty)
	if err := r.limitsT.RecordRealizedPnL(r.clk.Now(), pnl); err != nil {
		logger.Warnf("runtime: failed to record realized pnl for %s: %v", sig.Symbol, err)
	}
	if pnl.IsNegative() {
		r.protections.RecordLoss(sig.Symbol, r.clk.Now())
	}
	r.engine.Stops.Cancel(sig.Symbol)
}

func (r *Runtime) placeProtectiveStop(strategyName string, sig model.Signal, pos model.Position) {
	if r.engine.Stops.HasStop(sig.Symbol) {
		return
	}
	stopInternalID := uuid.NewString()
	brokerID, err := r.engine.SubmitStopOrder(stopInternalID, sig.Symbol, model.SideSell, pos.Quantity, *sig.StopLoss, strategyName, "protective_stop")
	if err != nil {
		logger.Errorf("runtime: protective stop submit failed for %s: %v", sig.Symbol, err)
		return
	}
	r.engine.Stops.Place(sig.Symbol, brokerID, stopInternalID)
	r.journalEvent("protective_stop_submitted", map[string]interface{}{
		"trade_id": sig.TradeID, "symbol": sig.Symbol, "stop_broker_order_id": brokerID,
		"stop_price": sig.StopLoss.String(), "qty": pos.Quantity.String(),
	})
}

func (r *Runtime) driftCheck() {
	orders, err := r.brk.GetOpenOrders()
	if err != nil {
		logger.Warnf("runtime: drift check: failed to list broker open orders: %v", err)
		return
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.BrokerOrderID)
	}
	report := r.tracker.DetectDrift(ids)
	if len(report.Orphans) > 0 || len(report.Shadows) > 0 {
		r.journalEvent("order_drift_detected", map[string]interface{}{
			"orphans": report.Orphans, "shadows": report.Shadows,
		})
	}
}
