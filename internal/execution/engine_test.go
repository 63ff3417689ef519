package execution

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/broker"
	"tradecore/internal/model"
	"tradecore/internal/orderstate"
	"tradecore/internal/ordertracker"
)

func newTestEngine() (*Engine, *broker.Fake) {
	fake := broker.NewFake()
	e := NewEngine(fake, ordertracker.New(), nil, nil)
	e.sleep = func(time.Duration) {} // never actually sleep in tests
	return e, fake
}

func TestSubmitMarketOrderIsIdempotent(t *testing.T) {
	e, fake := newTestEngine()

	id1, err := e.SubmitMarketOrder("int-1", "AAPL", model.SideBuy, decimal.NewFromInt(10), "momentum")
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	_, err = e.SubmitMarketOrder("int-1", "AAPL", model.SideBuy, decimal.NewFromInt(10), "momentum")
	var dup *DuplicateOrderError
	assert.ErrorAs(t, err, &dup)
	assert.Equal(t, "int-1", dup.InternalOrderID)

	orders, err := fake.GetOpenOrders()
	require.NoError(t, err)
	assert.Len(t, orders, 1, "the duplicate submit must never reach the broker")
}

func TestPartialFillAggregationComputesIncremental(t *testing.T) {
	e, fake := newTestEngine()

	brokerID, err := e.SubmitMarketOrder("int-2", "MSFT", model.SideBuy, decimal.NewFromInt(100), "momentum")
	require.NoError(t, err)

	var events []map[string]interface{}
	e.OnEvent = func(ev map[string]interface{}) { events = append(events, ev) }

	fake.Fill(brokerID, decimal.NewFromInt(40), decimal.NewFromFloat(10.00), false)
	status, _ := fake.GetOrderStatus(brokerID)
	state := e.handleStatusChange("int-2", status)
	assert.Equal(t, orderstate.PartiallyFilled, state)

	qty, price := e.GetFillDetails("int-2")
	require.NotNil(t, qty)
	assert.True(t, qty.Equal(decimal.NewFromInt(40)))
	assert.True(t, price.Equal(decimal.NewFromFloat(10.00)))

	fake.Fill(brokerID, decimal.NewFromInt(100), decimal.NewFromFloat(10.25), true)
	status, _ = fake.GetOrderStatus(brokerID)
	state = e.handleStatusChange("int-2", status)
	assert.Equal(t, orderstate.Filled, state)

	qty, _ = e.GetFillDetails("int-2")
	require.NotNil(t, qty)
	assert.True(t, qty.Equal(decimal.NewFromInt(100)))

	var incrementalFills []string
	for _, ev := range events {
		if ev["event"] == "order_filled" {
			incrementalFills = append(incrementalFills, ev["filled_qty"].(string))
		}
	}
	require.Len(t, incrementalFills, 2, "two distinct incremental fills, not the raw cumulative quantities")
	assert.Equal(t, "40", incrementalFills[0])
	assert.Equal(t, "60", incrementalFills[1], "second increment is cumulative(100) - prior(40)")
}

func TestExecuteLimitWithTTLCancelsUnfilledWithoutRepricing(t *testing.T) {
	e, fake := newTestEngine()

	var events []map[string]interface{}
	e.OnEvent = func(ev map[string]interface{}) { events = append(events, ev) }

	// never advance or fill the order: TTL must expire and cancel it.
	final, err := e.ExecuteLimitWithTTL("int-3", "GOOG", model.SideBuy, decimal.NewFromInt(5), decimal.NewFromFloat(100.00), "momentum", 0, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, orderstate.Cancelled, final)

	var ttlEvent map[string]interface{}
	for _, ev := range events {
		if ev["event"] == "ORDER_TTL_CANCEL" {
			ttlEvent = ev
		}
	}
	require.NotNil(t, ttlEvent, "TTL-cancel must emit ORDER_TTL_CANCEL")
	assert.Equal(t, "limit_ttl_expired_no_chase", ttlEvent["reason"])
	assert.Equal(t, string(orderstate.Cancelled), ttlEvent["final_status"])

	orders, err := fake.GetOpenOrders()
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "canceled", orders[0].Status)
}

func TestExecuteLimitWithTTLLeavesFilledOrderAlone(t *testing.T) {
	e, fake := newTestEngine()

	// Pre-fill via a hook: submit first, then fill before waiting completes.
	// ExecuteLimitWithTTL submits synchronously, so fill the fake broker's
	// only open order right after submission using a short TTL that still
	// allows one poll to observe it.
	origSleep := e.sleep
	first := true
	e.sleep = func(d time.Duration) {
		if first {
			first = false
			for _, o := range mustOpenOrders(t, fake) {
				fake.Fill(o.BrokerOrderID, decimal.NewFromInt(5), decimal.NewFromFloat(99.5), true)
			}
		}
		origSleep(d)
	}

	final, err := e.ExecuteLimitWithTTL("int-4", "TSLA", model.SideBuy, decimal.NewFromInt(5), decimal.NewFromFloat(100.00), "momentum", 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, orderstate.Filled, final)
}

func mustOpenOrders(t *testing.T, fake *broker.Fake) []broker.OpenOrder {
	t.Helper()
	orders, err := fake.GetOpenOrders()
	require.NoError(t, err)
	return orders
}
