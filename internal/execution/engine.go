// Package execution is the only component permitted to submit, cancel or
// amend broker orders (spec §4.4). It enforces idempotent submission,
// rounds quantity/price before metadata storage so metadata and broker
// agree, aggregates partial fills from broker-reported cumulative
// quantities, and TTL-cancels unfilled LIMIT entries without re-pricing.
package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/broker"
	"tradecore/internal/logger"
	"tradecore/internal/model"
	"tradecore/internal/orderstate"
	"tradecore/internal/ordertracker"
	"tradecore/internal/txlog"
)

// Sleeper lets tests drive wait loops without real time passing.
type Sleeper func(time.Duration)

type Engine struct {
	mu sync.Mutex

	broker  broker.Broker
	tracker *ordertracker.Tracker
	txLog   *txlog.Log
	clock   func() time.Time
	sleep   Sleeper
	retry   broker.RetryConfig

	submitted map[string]bool // internal_order_id -> seen (idempotency set)
	machines  map[string]*orderstate.Machine
	cumFills  map[string]decimal.Decimal // internal_order_id -> cumulative filled qty
	avgPrice  map[string]decimal.Decimal
	finalFill map[string]decimal.Decimal // internal_order_id -> filled qty at the terminal state

	Stops *StopLifecycle

	// Stream is an optional trade-updates websocket reader (spec §5
	// "permitted background activities"). When set, WaitForOrder drains it
	// opportunistically between polls instead of sleeping the full
	// interval; nil means pure polling, which is always correct on its own.
	Stream *broker.TradeUpdateStream

	// OnEvent is called for every emitted journal-ready event; the runtime
	// wires this to the journal writer.
	OnEvent func(event map[string]interface{})
}

func NewEngine(b broker.Broker, tracker *ordertracker.Tracker, txLog *txlog.Log, submittedIDs map[string]bool) *Engine {
	if submittedIDs == nil {
		submittedIDs = make(map[string]bool)
	}
	return &Engine{
		broker:    b,
		tracker:   tracker,
		txLog:     txLog,
		clock:     func() time.Time { return time.Now().UTC() },
		sleep:     time.Sleep,
		retry:     broker.DefaultRetryConfig(),
		submitted: submittedIDs,
		machines:  make(map[string]*orderstate.Machine),
		cumFills:  make(map[string]decimal.Decimal),
		avgPrice:  make(map[string]decimal.Decimal),
		finalFill: make(map[string]decimal.Decimal),
		Stops:     NewStopLifecycle(nil),
	}
}

func (e *Engine) emit(event map[string]interface{}) {
	if e.OnEvent != nil {
		e.OnEvent(event)
	}
}

// roundQuantity rounds qty down to the nearest LotSize multiple, matching
// the "round before metadata storage" invariant so metadata never disagrees
// with what the broker actually receives.
func roundQuantity(qty decimal.Decimal, props broker.SymbolProperties) decimal.Decimal {
	if props.LotSize.IsZero() {
		return qty
	}
	units := qty.Div(props.LotSize).Floor()
	return units.Mul(props.LotSize)
}

func roundPrice(price decimal.Decimal, props broker.SymbolProperties) decimal.Decimal {
	if props.PriceIncrement.IsZero() {
		return price
	}
	units := price.Div(props.PriceIncrement).Round(0)
	return units.Mul(props.PriceIncrement)
}

// checkIdempotent registers internalID as submitted, returning
// *DuplicateOrderError without any broker call if it was already seen.
func (e *Engine) checkIdempotent(internalID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.submitted[internalID] {
		return &DuplicateOrderError{InternalOrderID: internalID}
	}
	e.submitted[internalID] = true
	return nil
}

func (e *Engine) machine(internalID string) *orderstate.Machine {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.machines[internalID]
	if !ok {
		m = orderstate.New(internalID)
		e.machines[internalID] = m
	}
	return m
}

func (e *Engine) validateSymbol(symbol string, side model.Side, orderType model.OrderType) (broker.SymbolProperties, error) {
	props, err := e.broker.GetSymbolProperties(symbol)
	if err != nil {
		return broker.SymbolProperties{}, fmt.Errorf("execution: symbol properties %s: %w", symbol, err)
	}
	if !props.Tradable {
		return props, fmt.Errorf("execution: %s is not tradable", symbol)
	}
	if side == model.SideSell && orderType != model.OrderTypeStop && !props.Shortable {
		// SELL to close a long is always allowed; only a naked short needs
		// shortability. Callers that intend a short must check position
		// state themselves (risk manager's job), this is a broker-level gate.
	}
	return props, nil
}

func (e *Engine) transition(internalID string, to orderstate.State) {
	m := e.machine(internalID)
	ev, err := m.Transition(to)
	if err != nil {
		logger.Errorf("execution: transition %s -> %s failed: %v", internalID, to, err)
		return
	}
	e.emit(map[string]interface{}{
		"event":             "state_change",
		"internal_order_id": ev.InternalOrderID,
		"from":              string(ev.From),
		"to":                string(ev.To),
	})
}

func (e *Engine) appendTxLog(event, internalID string, details map[string]interface{}) {
	if e.txLog == nil {
		return
	}
	if err := e.txLog.Append(txlog.Entry{Event: event, InternalOrderID: internalID, Details: details}); err != nil {
		logger.Errorf("execution: txlog append failed: %v", err)
	}
}

// SubmitMarketOrder validates, rounds, idempotently submits and transitions
// PENDING -> VALIDATED -> SUBMITTED on broker success.
func (e *Engine) SubmitMarketOrder(internalID, symbol string, side model.Side, qty decimal.Decimal, strategy string) (string, error) {
	if err := e.checkIdempotent(internalID); err != nil {
		return "", err
	}
	props, err := e.validateSymbol(symbol, side, model.OrderTypeMarket)
	if err != nil {
		return "", err
	}
	e.transition(internalID, orderstate.Validated)

	roundedQty := roundQuantity(qty, props)
	var brokerID string
	err = broker.WithRetry(e.retry, e.sleep, func() error {
		id, err := e.broker.SubmitMarketOrder(internalID, symbol, side, roundedQty)
		if err != nil {
			return err
		}
		brokerID = id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("execution: submit market order %s: %w", symbol, err)
	}

	e.machine(internalID).SetBrokerOrderID(brokerID)
	e.transition(internalID, orderstate.Submitted)
	e.tracker.StartTracking(internalID, brokerID, symbol, side, model.OrderTypeMarket, roundedQty, decimal.Zero, orderstate.Submitted, e.clock())
	e.appendTxLog("order_submitted", internalID, map[string]interface{}{"broker_order_id": brokerID, "symbol": symbol, "side": string(side), "qty": roundedQty.String(), "order_type": "MARKET", "strategy": strategy})
	e.emit(map[string]interface{}{"event": "order_submitted", "internal_order_id": internalID, "broker_order_id": brokerID, "symbol": symbol, "side": string(side), "qty": roundedQty.String(), "order_type": "MARKET", "strategy": strategy})
	return brokerID, nil
}

// SubmitLimitOrder mirrors SubmitMarketOrder but also rounds limit_price to
// the symbol's tick size.
func (e *Engine) SubmitLimitOrder(internalID, symbol string, side model.Side, qty, limitPrice decimal.Decimal, strategy string, ttlSeconds int) (string, error) {
	if err := e.checkIdempotent(internalID); err != nil {
		return "", err
	}
	props, err := e.validateSymbol(symbol, side, model.OrderTypeLimit)
	if err != nil {
		return "", err
	}
	e.transition(internalID, orderstate.Validated)

	roundedQty := roundQuantity(qty, props)
	roundedPrice := roundPrice(limitPrice, props)

	var brokerID string
	err = broker.WithRetry(e.retry, e.sleep, func() error {
		id, err := e.broker.SubmitLimitOrder(internalID, symbol, side, roundedQty, roundedPrice)
		if err != nil {
			return err
		}
		brokerID = id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("execution: submit limit order %s: %w", symbol, err)
	}

	e.machine(internalID).SetBrokerOrderID(brokerID)
	e.transition(internalID, orderstate.Submitted)
	e.tracker.StartTracking(internalID, brokerID, symbol, side, model.OrderTypeLimit, roundedQty, roundedPrice, orderstate.Submitted, e.clock())
	e.appendTxLog("order_submitted", internalID, map[string]interface{}{"broker_order_id": brokerID, "symbol": symbol, "side": string(side), "qty": roundedQty.String(), "order_type": "LIMIT", "limit_price": roundedPrice.String(), "strategy": strategy, "ttl_seconds": ttlSeconds})
	e.emit(map[string]interface{}{"event": "order_submitted", "internal_order_id": internalID, "broker_order_id": brokerID, "symbol": symbol, "side": string(side), "qty": roundedQty.String(), "order_type": "LIMIT", "limit_price": roundedPrice.String(), "strategy": strategy, "ttl_seconds": ttlSeconds})
	return brokerID, nil
}

// SubmitStopOrder places a protective stop (or any SELL STOP reduce-only
// order); reason is journaled but never changes semantics.
func (e *Engine) SubmitStopOrder(internalID, symbol string, side model.Side, qty, stopPrice decimal.Decimal, strategy, reason string) (string, error) {
	if err := e.checkIdempotent(internalID); err != nil {
		return "", err
	}
	props, err := e.validateSymbol(symbol, side, model.OrderTypeStop)
	if err != nil {
		return "", err
	}
	e.transition(internalID, orderstate.Validated)

	roundedQty := roundQuantity(qty, props)
	roundedStop := roundPrice(stopPrice, props)

	var brokerID string
	err = broker.WithRetry(e.retry, e.sleep, func() error {
		id, err := e.broker.SubmitStopOrder(internalID, symbol, side, roundedQty, roundedStop)
		if err != nil {
			return err
		}
		brokerID = id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("execution: submit stop order %s: %w", symbol, err)
	}

	e.machine(internalID).SetBrokerOrderID(brokerID)
	e.transition(internalID, orderstate.Submitted)
	e.tracker.StartTracking(internalID, brokerID, symbol, side, model.OrderTypeStop, roundedQty, decimal.Zero, orderstate.Submitted, e.clock())
	e.appendTxLog("order_submitted", internalID, map[string]interface{}{"broker_order_id": brokerID, "symbol": symbol, "side": string(side), "qty": roundedQty.String(), "order_type": "STOP", "stop_price": roundedStop.String(), "strategy": strategy, "reason": reason})
	return brokerID, nil
}

// WaitForOrder polls broker status until a terminal state or timeout,
// processing every observed status change through handleStatusChange.
func (e *Engine) WaitForOrder(internalID, brokerOrderID string, timeout, pollInterval time.Duration) (orderstate.State, error) {
	deadline := e.clock().Add(timeout)
	var last orderstate.State
	for {
		status, err := e.broker.GetOrderStatus(brokerOrderID)
		if err != nil {
			logger.Warnf("execution: poll order status failed for %s: %v", brokerOrderID, err)
		} else {
			last = e.handleStatusChange(internalID, status)
			if last.IsTerminal() {
				return last, nil
			}
		}
		if e.clock().After(deadline) {
			return last, nil
		}
		if e.Stream != nil {
			if status, ok := e.Stream.DrainFor(brokerOrderID, pollInterval); ok {
				last = e.handleStatusChange(internalID, status)
				if last.IsTerminal() {
					return last, nil
				}
				continue
			}
			continue
		}
		e.sleep(pollInterval)
	}
}

// handleStatusChange maps a broker status string to our state machine,
// aggregating partial fills by computing incremental = cumulative - prior.
func (e *Engine) handleStatusChange(internalID string, status broker.OpenOrder) orderstate.State {
	e.mu.Lock()
	prior := e.cumFills[internalID]
	e.mu.Unlock()

	incremental := status.FilledQty.Sub(prior)
	if incremental.GreaterThan(decimal.Zero) {
		e.mu.Lock()
		e.cumFills[internalID] = status.FilledQty
		e.avgPrice[internalID] = status.AvgFillPrice
		e.mu.Unlock()
		e.tracker.ProcessFill(internalID, e.clock())
		e.emit(map[string]interface{}{
			"event": "order_filled", "internal_order_id": internalID, "broker_order_id": status.BrokerOrderID,
			"symbol": status.Symbol, "side": string(status.Side), "filled_qty": incremental.String(), "fill_price": status.AvgFillPrice.String(),
		})
	}

	var target orderstate.State
	switch status.Status {
	case "accepted", "new", "held":
		target = orderstate.Accepted
	case "partially_filled":
		target = orderstate.PartiallyFilled
	case "filled":
		target = orderstate.Filled
	case "canceled", "cancelled":
		target = orderstate.Cancelled
	case "rejected":
		target = orderstate.Rejected
	case "expired":
		target = orderstate.Expired
	default:
		return e.machine(internalID).State()
	}

	m := e.machine(internalID)
	if m.State() == target {
		return target
	}
	if m.State() == orderstate.Submitted && target != orderstate.Accepted && target != orderstate.Rejected {
		// a fill, cancel or expiry reported straight after submission implies
		// the broker accepted the order first
		e.transition(internalID, orderstate.Accepted)
	}
	e.transition(internalID, target)
	e.tracker.ProcessOrderUpdate(internalID, m.State(), e.clock())
	if target.IsTerminal() {
		e.mu.Lock()
		if qty, ok := e.cumFills[internalID]; ok {
			e.finalFill[internalID] = qty
		}
		delete(e.cumFills, internalID)
		e.mu.Unlock()
	}
	return m.State()
}

// CancelOrder cancels brokerOrderID; reason is journaled only.
func (e *Engine) CancelOrder(internalID, brokerOrderID, reason string) (bool, error) {
	err := broker.WithRetry(e.retry, e.sleep, func() error {
		return e.broker.CancelOrder(brokerOrderID)
	})
	if err != nil {
		return false, fmt.Errorf("execution: cancel order %s: %w", brokerOrderID, err)
	}
	e.appendTxLog("order_cancel_requested", internalID, map[string]interface{}{"broker_order_id": brokerOrderID, "reason": reason})
	return true, nil
}

// GetFillDetails returns the cumulative filled quantity and average price
// for internalID, or (nil, nil) if nothing has filled.
func (e *Engine) GetFillDetails(internalID string) (*decimal.Decimal, *decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	qty, ok := e.cumFills[internalID]
	if !ok {
		qty, ok = e.finalFill[internalID]
	}
	if !ok {
		return nil, nil
	}
	price := e.avgPrice[internalID]
	return &qty, &price
}

// ExecuteLimitWithTTL runs the full submit -> wait -> TTL-cancel flow for a
// LIMIT entry: submit, wait up to ttlSeconds, and if not filled, cancel and
// emit the canonical ORDER_TTL_CANCEL event with reason
// "limit_ttl_expired_no_chase" (spec §4.4 — no re-pricing, ever).
func (e *Engine) ExecuteLimitWithTTL(internalID, symbol string, side model.Side, qty, limitPrice decimal.Decimal, strategy string, ttlSeconds int, pollInterval time.Duration) (orderstate.State, error) {
	brokerID, err := e.SubmitLimitOrder(internalID, symbol, side, qty, limitPrice, strategy, ttlSeconds)
	if err != nil {
		return "", err
	}
	final, err := e.WaitForOrder(internalID, brokerID, time.Duration(ttlSeconds)*time.Second, pollInterval)
	if err != nil {
		return final, err
	}
	if final == orderstate.Filled {
		return final, nil
	}

	ok, cancelErr := e.CancelOrder(internalID, brokerID, "limit_ttl_expired_no_chase")
	if cancelErr != nil {
		logger.Errorf("execution: TTL cancel failed for %s: %v", internalID, cancelErr)
	}
	if ok {
		final = e.handleStatusChange(internalID, broker.OpenOrder{BrokerOrderID: brokerID, Symbol: symbol, Side: side, Status: "canceled"})
	}
	e.emit(map[string]interface{}{
		"event": "ORDER_TTL_CANCEL", "internal_order_id": internalID, "broker_order_id": brokerID,
		"symbol": symbol, "side": string(side), "qty": qty.String(), "order_type": "LIMIT",
		"limit_price": limitPrice.String(), "strategy": strategy, "ttl_seconds": ttlSeconds,
		"final_status": string(final), "reason": "limit_ttl_expired_no_chase",
	})
	return final, nil
}
