// Package model defines the core value types shared across the runtime:
// bars, signals, orders, fills and positions. All prices and quantities are
// exact decimals; binary floating point never appears here.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) IsBuy() bool  { return s == SideBuy }
func (s Side) IsSell() bool { return s == SideSell }

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// Signal is a strategy's trade intent. Strategies emit signals only; the
// runtime assigns TradeID after receiving one.
type Signal struct {
	TradeID    string
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	OrderType  OrderType
	LimitPrice *decimal.Decimal
	TTLSeconds int
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	Reason     string
	Strategy   string
}

// Order identifies a single broker order by its internal/broker/client
// triple. InternalOrderID is unique forever and is the idempotency key.
type Order struct {
	InternalOrderID string
	BrokerOrderID   string
	ClientOrderID   string
	Symbol          string
	Side            Side
	Quantity        decimal.Decimal
	OrderType       OrderType
	LimitPrice      *decimal.Decimal
	StopPrice       *decimal.Decimal
	Strategy        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Fill is one incremental execution report for an order.
type Fill struct {
	OrderID        string
	Timestamp      time.Time
	IncrementalQty decimal.Decimal
	Price          decimal.Decimal
	Commission     decimal.Decimal
}

// Position is the single open position for a symbol, if any.
type Position struct {
	Symbol     string
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	EntryTime  time.Time
	Strategy   string
	OrderID    string
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

// IsOpen reports whether the position carries non-zero quantity.
func (p Position) IsOpen() bool {
	return !p.Quantity.IsZero()
}

// ApplyFill folds an incremental BUY fill into the position, updating
// quantity and the weighted-average entry price:
//
//	new_avg = (qty*avg + incr_qty*price) / (qty+incr_qty)
func (p Position) ApplyFill(incrQty, price decimal.Decimal) Position {
	totalQty := p.Quantity.Add(incrQty)
	if totalQty.IsZero() {
		return Position{Symbol: p.Symbol}
	}
	weighted := p.Quantity.Mul(p.EntryPrice).Add(incrQty.Mul(price))
	avg := weighted.Div(totalQty)
	p.Quantity = totalQty
	p.EntryPrice = avg
	return p
}
