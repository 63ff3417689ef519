package broker

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"tradecore/internal/clock"
	"tradecore/internal/model"
)

// Fake is an in-memory Broker double for tests: no network calls, fully
// scriptable order outcomes.
type Fake struct {
	mu sync.Mutex

	Status    clock.MarketStatus
	StatusErr error

	Account    Account
	Positions  []BrokerPosition
	OpenOrders map[string]*OpenOrder // broker_order_id -> order
	Props      map[string]SymbolProperties

	nextID int

	SubmitErr error
	CancelErr error
}

func NewFake() *Fake {
	return &Fake{
		OpenOrders: make(map[string]*OpenOrder),
		Props:      make(map[string]SymbolProperties),
		Status:     clock.MarketStatus{IsOpen: true},
	}
}

func (f *Fake) GetMarketStatus() (clock.MarketStatus, error) { return f.Status, f.StatusErr }

func (f *Fake) GetAccount() (Account, error) { return f.Account, nil }

func (f *Fake) GetPositions() ([]BrokerPosition, error) { return f.Positions, nil }

func (f *Fake) GetOpenOrders() ([]OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OpenOrder, 0, len(f.OpenOrders))
	for _, o := range f.OpenOrders {
		out = append(out, *o)
	}
	return out, nil
}

func (f *Fake) GetSymbolProperties(symbol string) (SymbolProperties, error) {
	if p, ok := f.Props[symbol]; ok {
		return p, nil
	}
	return SymbolProperties{
		Tradable: true, Shortable: true,
		LotSize: decimal.NewFromInt(1), MinQty: decimal.NewFromInt(1),
		MaxQty: decimal.NewFromInt(1_000_000), PriceIncrement: decimal.NewFromFloat(0.01),
	}, nil
}

func (f *Fake) newID() string {
	f.nextID++
	return fmt.Sprintf("FAKE-%d", f.nextID)
}

func (f *Fake) submit(symbol string, side model.Side, ot model.OrderType, qty decimal.Decimal) (string, error) {
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.newID()
	f.OpenOrders[id] = &OpenOrder{BrokerOrderID: id, Symbol: symbol, Side: side, OrderType: ot, Status: "new", Qty: qty}
	return id, nil
}

func (f *Fake) SubmitMarketOrder(_, symbol string, side model.Side, qty decimal.Decimal) (string, error) {
	return f.submit(symbol, side, model.OrderTypeMarket, qty)
}

func (f *Fake) SubmitLimitOrder(_, symbol string, side model.Side, qty, _ decimal.Decimal) (string, error) {
	return f.submit(symbol, side, model.OrderTypeLimit, qty)
}

func (f *Fake) SubmitStopOrder(_, symbol string, side model.Side, qty, _ decimal.Decimal) (string, error) {
	return f.submit(symbol, side, model.OrderTypeStop, qty)
}

func (f *Fake) GetOrderStatus(brokerOrderID string) (OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.OpenOrders[brokerOrderID]
	if !ok {
		return OpenOrder{}, fmt.Errorf("fake broker: unknown order %s", brokerOrderID)
	}
	return *o, nil
}

func (f *Fake) CancelOrder(brokerOrderID string) error {
	if f.CancelErr != nil {
		return f.CancelErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.OpenOrders[brokerOrderID]; ok {
		o.Status = "canceled"
	}
	return nil
}

// Fill simulates a (possibly partial) fill on an order, for tests to drive
// wait_for_order polling.
func (f *Fake) Fill(brokerOrderID string, cumulativeQty, avgPrice decimal.Decimal, terminal bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.OpenOrders[brokerOrderID]
	if !ok {
		return
	}
	o.FilledQty = cumulativeQty
	o.AvgFillPrice = avgPrice
	if terminal {
		o.Status = "filled"
	} else {
		o.Status = "partially_filled"
	}
}

func (f *Fake) Reject(brokerOrderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.OpenOrders[brokerOrderID]; ok {
		o.Status = "rejected"
	}
}

func (f *Fake) AdvanceStatusToAccepted(brokerOrderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.OpenOrders[brokerOrderID]; ok && o.Status == "new" {
		o.Status = "accepted"
	}
}
