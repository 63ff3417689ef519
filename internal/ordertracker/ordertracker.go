// Package ordertracker maintains the in-flight and completed order maps and
// the broker-id -> internal-id index, and detects orphan/shadow drift
// against a broker open-orders snapshot (spec §4.5).
package ordertracker

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/model"
	"tradecore/internal/orderstate"
)

type TrackedOrder struct {
	InternalOrderID string
	BrokerOrderID   string
	Symbol          string
	Side            model.Side
	OrderType       model.OrderType
	Qty             decimal.Decimal
	LimitPrice      decimal.Decimal
	State           orderstate.State
	SubmittedAt     time.Time
	FirstFillAt     time.Time
	LastUpdateAt    time.Time
}

type Tracker struct {
	mu          sync.Mutex
	inFlight    map[string]*TrackedOrder // internal_order_id -> order
	completed   map[string]*TrackedOrder
	brokerIndex map[string]string // broker_order_id -> internal_order_id
}

func New() *Tracker {
	return &Tracker{
		inFlight:    make(map[string]*TrackedOrder),
		completed:   make(map[string]*TrackedOrder),
		brokerIndex: make(map[string]string),
	}
}

// StartTracking registers a newly submitted order as in-flight. side,
// orderType, qty and limitPrice are carried so the tracker itself can answer
// reserved-buying-power queries (InFlightLimitBuyNotional) without the
// caller having to keep a parallel index; limitPrice is the zero decimal for
// MARKET/STOP orders.
func (t *Tracker) StartTracking(internalID, brokerID, symbol string, side model.Side, orderType model.OrderType, qty, limitPrice decimal.Decimal, state orderstate.State, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o := &TrackedOrder{
		InternalOrderID: internalID, BrokerOrderID: brokerID, Symbol: symbol,
		Side: side, OrderType: orderType, Qty: qty, LimitPrice: limitPrice,
		State: state, LastUpdateAt: now,
	}
	if state == orderstate.Submitted {
		o.SubmittedAt = now
	}
	t.inFlight[internalID] = o
	if brokerID != "" {
		t.brokerIndex[brokerID] = internalID
	}
}

// ProcessOrderUpdate records a new observed state for internalID.
func (t *Tracker) ProcessOrderUpdate(internalID string, state orderstate.State, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.inFlight[internalID]
	if !ok {
		return
	}
	if o.State != orderstate.Submitted && state == orderstate.Submitted {
		o.SubmittedAt = now
	}
	o.State = state
	o.LastUpdateAt = now
	if state.IsTerminal() {
		t.stopTrackingLocked(internalID)
	}
}

// ProcessFill records the first-fill time on the first observed fill.
func (t *Tracker) ProcessFill(internalID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.inFlight[internalID]
	if !ok {
		return
	}
	if o.FirstFillAt.IsZero() {
		o.FirstFillAt = now
	}
	o.LastUpdateAt = now
}

// StopTracking moves the order from in-flight to completed and drops the
// broker index entry.
func (t *Tracker) StopTracking(internalID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTrackingLocked(internalID)
}

func (t *Tracker) stopTrackingLocked(internalID string) {
	o, ok := t.inFlight[internalID]
	if !ok {
		return
	}
	delete(t.inFlight, internalID)
	if o.BrokerOrderID != "" {
		delete(t.brokerIndex, o.BrokerOrderID)
	}
	t.completed[internalID] = o
}

// Get returns a snapshot of the tracked order (in-flight or completed).
func (t *Tracker) Get(internalID string) (TrackedOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o, ok := t.inFlight[internalID]; ok {
		return *o, true
	}
	if o, ok := t.completed[internalID]; ok {
		return *o, true
	}
	return TrackedOrder{}, false
}

// InFlightBrokerIDs returns a snapshot of broker order IDs we believe are
// still open, mapped to their internal order IDs.
func (t *Tracker) InFlightBrokerIDs() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.brokerIndex))
	for k, v := range t.brokerIndex {
		out[k] = v
	}
	return out
}

// HasOpenOrder reports whether any in-flight order exists for symbol.
func (t *Tracker) HasOpenOrder(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range t.inFlight {
		if o.Symbol == symbol {
			return true
		}
	}
	return false
}

// InFlightLimitBuyNotional returns Σ qty*limit_price over every in-flight
// LIMIT BUY order, the reserved-buying-power figure the risk gate subtracts
// before approving a new BUY (spec §8 universal invariant).
func (t *Tracker) InFlightLimitBuyNotional() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := decimal.Zero
	for _, o := range t.inFlight {
		if o.OrderType == model.OrderTypeLimit && o.Side == model.SideBuy {
			total = total.Add(o.Qty.Mul(o.LimitPrice))
		}
	}
	return total
}

// DriftReport is the orphan/shadow reconciliation result.
type DriftReport struct {
	Orphans []string // broker_order_id we have no internal record for
	Shadows []string // broker_order_id we believe is in-flight, broker does not list
}

// DetectDrift compares our in-flight broker IDs against a broker open-order
// snapshot.
func (t *Tracker) DetectDrift(brokerOpenOrderIDs []string) DriftReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	brokerSet := make(map[string]bool, len(brokerOpenOrderIDs))
	for _, id := range brokerOpenOrderIDs {
		brokerSet[id] = true
	}

	var report DriftReport
	for id := range brokerSet {
		if _, ok := t.brokerIndex[id]; !ok {
			report.Orphans = append(report.Orphans, id)
		}
	}
	for id := range t.brokerIndex {
		if !brokerSet[id] {
			report.Shadows = append(report.Shadows, id)
		}
	}
	return report
}
