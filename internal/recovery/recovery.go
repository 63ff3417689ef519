// Package recovery implements the startup reconciliation coordinator: it
// cancels stale broker orders, rebuilds the position store from broker
// truth, and reloads the protective-stop map (spec §4.8). The broker is
// always the source of truth; local state is reconstructed from it, never
// trusted to contradict it.
package recovery

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tradecore/internal/broker"
	"tradecore/internal/execution"
	"tradecore/internal/model"
	"tradecore/internal/posstore"
)

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusPartial Status = "PARTIAL"
	StatusRebuilt Status = "REBUILT"
	StatusFailed  Status = "FAILED"
)

// Result is the coordinator's report; Status == StatusFailed is the only
// outcome that must halt the runtime (exit code 1).
type Result struct {
	Status               Status
	PositionsRecovered   int
	PositionsRebuilt     int
	OrdersCancelled      int
	RecoveryTimeSeconds  float64
}

// cancellableStatuses is the set of broker-native open-order statuses
// eligible for cancellation during recovery.
var cancellableStatuses = map[string]bool{
	"new": true, "accepted": true, "pending_new": true,
	"partially_filled": true, "held": true,
}

type Coordinator struct {
	broker  broker.Broker
	posses  *posstore.Store
	stops   *execution.StopLifecycle
	log     zerolog.Logger
	liveMode bool
	now     func() time.Time
}

func NewCoordinator(b broker.Broker, posses *posstore.Store, stops *execution.StopLifecycle, liveMode bool, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		broker: b, posses: posses, stops: stops, liveMode: liveMode,
		log: log.With().Str("component", "recovery").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Recover runs the full startup reconciliation sequence.
func (c *Coordinator) Recover() Result {
	start := c.now()

	cancelled, cancelFailed := c.cancelOpenOrders()
	recovered, rebuilt, rebuildErr := c.rebuildPositions()
	stopEvents := c.reloadProtectiveStops()

	elapsed := c.now().Sub(start).Seconds()

	status := StatusSuccess
	switch {
	case rebuildErr != nil:
		status = StatusFailed
	case c.liveMode && cancelFailed > 0:
		status = StatusFailed
	case cancelFailed > 0:
		status = StatusPartial
	case rebuilt > 0:
		status = StatusRebuilt
	}

	c.log.Info().
		Str("status", string(status)).
		Int("positions_recovered", recovered).
		Int("positions_rebuilt", rebuilt).
		Int("orders_cancelled", cancelled).
		Int("stops_reloaded", stopEvents).
		Float64("recovery_time_seconds", elapsed).
		Msg("recovery complete")

	return Result{
		Status:              status,
		PositionsRecovered:  recovered,
		PositionsRebuilt:    rebuilt,
		OrdersCancelled:     cancelled,
		RecoveryTimeSeconds: elapsed,
	}
}

func (c *Coordinator) cancelOpenOrders() (cancelled, failed int) {
	orders, err := c.broker.GetOpenOrders()
	if err != nil {
		c.log.Error().Err(err).Msg("recovery: failed to list open orders")
		return 0, 1
	}
	for _, o := range orders {
		if !cancellableStatuses[o.Status] {
			continue
		}
		if err := c.broker.CancelOrder(o.BrokerOrderID); err != nil {
			failed++
			c.log.Warn().Err(err).Str("broker_order_id", o.BrokerOrderID).Msg("recovery: cancel failed")
			if c.liveMode {
				continue
			}
			continue
		}
		cancelled++
	}
	return cancelled, failed
}

func (c *Coordinator) rebuildPositions() (recovered, rebuilt int, err error) {
	positions, err := c.broker.GetPositions()
	if err != nil {
		c.log.Error().Err(err).Msg("recovery: failed to list broker positions")
		return 0, 0, err
	}
	for _, bp := range positions {
		existing, getErr := c.posses.Get(bp.Symbol)
		pos := model.Position{
			Symbol:     strings.ToUpper(bp.Symbol),
			Quantity:   bp.Quantity,
			EntryPrice: bp.EntryPrice,
			EntryTime:  c.now(),
		}
		if existing != nil {
			pos.Strategy = existing.Strategy
			pos.OrderID = existing.OrderID
			pos.StopLoss = existing.StopLoss
			pos.TakeProfit = existing.TakeProfit
			pos.EntryTime = existing.EntryTime
		}
		if upsertErr := c.posses.Upsert(pos); upsertErr != nil {
			c.log.Error().Err(upsertErr).Str("symbol", bp.Symbol).Msg("recovery: upsert failed")
			continue
		}
		if existing != nil && getErr == nil {
			recovered++
		} else {
			rebuilt++
		}
	}
	return recovered, rebuilt, nil
}

// reloadProtectiveStops walks broker open orders for sell/stop entries and
// rebuilds the symbol -> stop_order_id map. Orders missing a symbol or ID
// are skipped.
func (c *Coordinator) reloadProtectiveStops() int {
	orders, err := c.broker.GetOpenOrders()
	if err != nil {
		c.log.Error().Err(err).Msg("recovery: failed to list open orders for stop reload")
		return 0
	}
	var events []execution.StopEvent
	count := 0
	for _, o := range orders {
		if o.Side != model.SideSell || o.OrderType != model.OrderTypeStop {
			continue
		}
		if o.Symbol == "" || o.BrokerOrderID == "" {
			continue
		}
		symbol := strings.ToUpper(o.Symbol)
		events = append(events, execution.StopEvent{Event: "protective_stop_placed", Symbol: symbol, StopOrderID: o.BrokerOrderID, Timestamp: c.now()})
		count++
	}
	c.stops.RestoreFromEvents(events)
	return count
}
