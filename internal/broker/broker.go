// Package broker defines the contract the runtime uses against the opaque,
// failure-prone remote broker, plus an Alpaca-shaped HTTP implementation and
// an in-memory fake for tests. Only the execution engine and the recovery
// coordinator may call the mutating methods (spec §3 ownership).
package broker

import (
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/clock"
	"tradecore/internal/model"
)

// Account is a safe-parsed snapshot of portfolio value and buying power.
// Any field the broker response failed to parse degrades to zero rather
// than aborting the cycle (spec §4.1 step 2).
type Account struct {
	PortfolioValue decimal.Decimal
	BuyingPower    decimal.Decimal
	Cash           decimal.Decimal
}

// OpenOrder is the broker's view of a resting order, used by recovery and
// by drift detection.
type OpenOrder struct {
	BrokerOrderID string
	Symbol        string
	Side          model.Side
	OrderType     model.OrderType
	Status        string // broker-native status string, e.g. "new", "accepted", "held"
	Qty           decimal.Decimal
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
}

// BrokerPosition is the broker's view of an open position.
type BrokerPosition struct {
	Symbol     string
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
}

// SymbolProperties is the tradability/lot-size/rounding contract the
// execution engine consults before every submit (spec §4.4).
type SymbolProperties struct {
	Tradable       bool
	Shortable      bool
	LotSize        decimal.Decimal
	MinQty         decimal.Decimal
	MaxQty         decimal.Decimal
	PriceIncrement decimal.Decimal
}

// Broker is the full contract. Query methods are read-mostly and shared;
// Submit/Cancel are mutating and restricted to execution+recovery.
type Broker interface {
	clock.MarketHoursSource

	GetAccount() (Account, error)
	GetPositions() ([]BrokerPosition, error)
	GetOpenOrders() ([]OpenOrder, error)
	GetSymbolProperties(symbol string) (SymbolProperties, error)

	SubmitMarketOrder(clientOrderID, symbol string, side model.Side, qty decimal.Decimal) (brokerOrderID string, err error)
	SubmitLimitOrder(clientOrderID, symbol string, side model.Side, qty, limitPrice decimal.Decimal) (brokerOrderID string, err error)
	SubmitStopOrder(clientOrderID, symbol string, side model.Side, qty, stopPrice decimal.Decimal) (brokerOrderID string, err error)
	GetOrderStatus(brokerOrderID string) (OpenOrder, error)
	CancelOrder(brokerOrderID string) error
}

// TransientError wraps a broker failure that is safe to retry (network,
// timeout, connection reset). Permanent failures (rejection, auth, unknown
// symbol) are returned as plain errors and must never be retried.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "broker: transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	_, ok := err.(*TransientError)
	return ok
}

// RetryConfig bounds broker-call retries with an absolute wall-clock
// timeout, per spec §4.4: retries are exponential-backoff but capped by a
// hard deadline regardless of how many attempts that allows.
type RetryConfig struct {
	MaxRetries         int
	InitialBackoff     time.Duration
	RetryTimeoutTotal  time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 5, InitialBackoff: 200 * time.Millisecond, RetryTimeoutTotal: 30 * time.Second}
}

// WithRetry runs fn, retrying on transient errors with exponential backoff,
// bounded by cfg.RetryTimeoutTotal regardless of MaxRetries.
func WithRetry(cfg RetryConfig, sleep func(time.Duration), fn func() error) error {
	deadline := time.Now().Add(cfg.RetryTimeoutTotal)
	backoff := cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if time.Now().Add(backoff).After(deadline) {
			return lastErr
		}
		sleep(backoff)
		backoff *= 2
	}
	return lastErr
}
