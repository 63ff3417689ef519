package broker

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// tradeUpdateMessage mirrors the broker's trade-updates stream payload
// shape closely enough to extract the fields the engine needs; unknown
// fields are ignored.
type tradeUpdateMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Event string `json:"event"`
		Order struct {
			ID            string `json:"id"`
			Symbol        string `json:"symbol"`
			Status        string `json:"status"`
			FilledQty     string `json:"filled_qty"`
			FilledAvgPx   string `json:"filled_avg_price"`
		} `json:"order"`
	} `json:"data"`
}

// OrderUpdate is a single trade-update event enqueued for the execution
// engine to drain; the engine never blocks waiting on it, it only drains
// whatever has arrived since the last poll (spec §5 "permitted background
// activities" — the stream only enqueues, it never mutates state itself).
type OrderUpdate struct {
	BrokerOrderID string
	Status        OpenOrder
}

// TradeUpdateStream is a thin, read-only websocket consumer of the broker's
// trade/account-update stream. It never issues orders and never mutates
// runtime state; it only feeds OrderUpdate values to a channel that
// execution.Engine.WaitForOrder may opportunistically drain between polls.
type TradeUpdateStream struct {
	conn    *websocket.Conn
	updates chan OrderUpdate

	mu     sync.Mutex
	closed bool
}

// DialTradeUpdates opens the stream and authenticates. Connection failure
// here is never fatal to the runtime: callers should fall back to pure
// polling (via broker.GetOrderStatus) when this returns an error.
func DialTradeUpdates(url, apiKey, apiSecret string) (*TradeUpdateStream, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: dial trade-updates stream: %w", err)
	}

	auth := map[string]interface{}{
		"action": "auth",
		"key":    apiKey,
		"secret": apiSecret,
	}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: authenticate trade-updates stream: %w", err)
	}

	sub := map[string]interface{}{
		"action": "listen",
		"data":   map[string][]string{"streams": {"trade_updates"}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: subscribe trade-updates stream: %w", err)
	}

	s := &TradeUpdateStream{conn: conn, updates: make(chan OrderUpdate, 256)}
	go s.readLoop()
	return s, nil
}

func (s *TradeUpdateStream) readLoop() {
	defer close(s.updates)
	for {
		var msg tradeUpdateMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Data.Order.ID == "" {
			continue
		}
		filledQty, _ := decimal.NewFromString(msg.Data.Order.FilledQty)
		filledAvg, _ := decimal.NewFromString(msg.Data.Order.FilledAvgPx)
		update := OrderUpdate{
			BrokerOrderID: msg.Data.Order.ID,
			Status: OpenOrder{
				BrokerOrderID: msg.Data.Order.ID,
				Symbol:        msg.Data.Order.Symbol,
				Status:        msg.Data.Order.Status,
				FilledQty:     filledQty,
				AvgFillPrice:  filledAvg,
			},
		}
		select {
		case s.updates <- update:
		default:
			// engine is behind; drop rather than block the reader, the
			// next poll will still observe the broker's current status.
		}
	}
}

// Updates returns the channel of observed order updates. Closed when the
// underlying connection drops.
func (s *TradeUpdateStream) Updates() <-chan OrderUpdate {
	return s.updates
}

// DrainFor returns the most recent update for brokerOrderID received within
// the given wait, or false if none arrived in time.
func (s *TradeUpdateStream) DrainFor(brokerOrderID string, wait time.Duration) (OpenOrder, bool) {
	deadline := time.After(wait)
	for {
		select {
		case u, ok := <-s.updates:
			if !ok {
				return OpenOrder{}, false
			}
			if u.BrokerOrderID == brokerOrderID {
				return u.Status, true
			}
		case <-deadline:
			return OpenOrder{}, false
		}
	}
}

func (s *TradeUpdateStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
