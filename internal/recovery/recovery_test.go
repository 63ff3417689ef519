package recovery

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/broker"
	"tradecore/internal/execution"
	"tradecore/internal/model"
	"tradecore/internal/posstore"
)

func newTestStore(t *testing.T) *posstore.Store {
	t.Helper()
	store, err := posstore.Open(filepath.Join(t.TempDir(), "positions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecoverCancelsOpenOrdersAndRebuildsPositions(t *testing.T) {
	fake := broker.NewFake()
	fake.Positions = []broker.BrokerPosition{
		{Symbol: "AAPL", Quantity: decimal.NewFromInt(10), EntryPrice: decimal.NewFromFloat(150)},
	}
	brokerID, err := fake.SubmitMarketOrder("", "MSFT", model.SideBuy, decimal.NewFromInt(5))
	require.NoError(t, err)
	// status defaults to "new", which is cancellable.

	store := newTestStore(t)
	stops := execution.NewStopLifecycle(nil)

	c := NewCoordinator(fake, store, stops, false, zerolog.Nop())
	result := c.Recover()

	assert.Equal(t, StatusRebuilt, result.Status)
	assert.Equal(t, 1, result.OrdersCancelled)
	assert.Equal(t, 1, result.PositionsRebuilt)

	status, statusErr := fake.GetOrderStatus(brokerID)
	require.NoError(t, statusErr)
	assert.Equal(t, "canceled", status.Status)

	pos, err := store.Get("AAPL")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(10)))
}

func TestRecoverPreservesExistingMetadataOnReconcile(t *testing.T) {
	fake := broker.NewFake()
	fake.Positions = []broker.BrokerPosition{
		{Symbol: "AAPL", Quantity: decimal.NewFromInt(10), EntryPrice: decimal.NewFromFloat(150)},
	}

	store := newTestStore(t)
	stopLoss := decimal.NewFromFloat(140)
	require.NoError(t, store.Upsert(model.Position{
		Symbol: "AAPL", Quantity: decimal.NewFromInt(10), EntryPrice: decimal.NewFromFloat(149),
		Strategy: "momentum", OrderID: "ord-1", StopLoss: &stopLoss,
	}))

	c := NewCoordinator(fake, store, execution.NewStopLifecycle(nil), false, zerolog.Nop())
	result := c.Recover()

	assert.Equal(t, 1, result.PositionsRecovered)
	pos, err := store.Get("AAPL")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, "momentum", pos.Strategy, "existing strategy/order metadata must survive a broker-truth reconcile")
	assert.Equal(t, "ord-1", pos.OrderID)
	require.NotNil(t, pos.StopLoss)
	assert.True(t, pos.StopLoss.Equal(stopLoss))
}

func TestRecoverEscalatesCancelFailureToFailedInLiveMode(t *testing.T) {
	fake := broker.NewFake()
	fake.CancelErr = &cancelError{}
	_, err := fake.SubmitMarketOrder("", "TSLA", model.SideBuy, decimal.NewFromInt(1))
	require.NoError(t, err)

	store := newTestStore(t)
	c := NewCoordinator(fake, store, execution.NewStopLifecycle(nil), true, zerolog.Nop())
	result := c.Recover()
	assert.Equal(t, StatusFailed, result.Status, "a cancel failure in live mode must halt startup")
}

func TestRecoverTreatsCancelFailureAsPartialOutsideLiveMode(t *testing.T) {
	fake := broker.NewFake()
	fake.CancelErr = &cancelError{}
	_, err := fake.SubmitMarketOrder("", "TSLA", model.SideBuy, decimal.NewFromInt(1))
	require.NoError(t, err)

	store := newTestStore(t)
	c := NewCoordinator(fake, store, execution.NewStopLifecycle(nil), false, zerolog.Nop())
	result := c.Recover()
	assert.Equal(t, StatusPartial, result.Status)
}

type cancelError struct{}

func (e *cancelError) Error() string { return "cancel failed" }
