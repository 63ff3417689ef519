// StopLifecycle is the authoritative place/cancel/restore tracker for
// protective stop orders, adapted from the original source's
// core/risk/protections/stop_lifecycle.py (a supplemented feature: the
// distilled spec names the map but not its idempotent lifecycle semantics).
package execution

import (
	"sync"
	"time"
)

type StopEvent struct {
	Event         string // "protective_stop_placed" | "protective_stop_cancelled" | "protective_stop_already_exists" | "protective_stop_not_found"
	Symbol        string
	StopOrderID   string
	EntryOrderID  string
	Timestamp     time.Time
}

// StopLifecycle maps symbol -> live broker stop-order ID. It is the
// authoritative source of truth for which stops are active (spec §3).
type StopLifecycle struct {
	mu      sync.Mutex
	stops   map[string]string // symbol -> stop_order_id
	history []StopEvent
	now     func() time.Time
}

func NewStopLifecycle(now func() time.Time) *StopLifecycle {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &StopLifecycle{stops: make(map[string]string), now: now}
}

func (s *StopLifecycle) HasStop(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stops[symbol]
	return ok
}

func (s *StopLifecycle) GetStopID(symbol string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.stops[symbol]
	return id, ok
}

// ActiveStops returns a snapshot of symbol -> stop_order_id.
func (s *StopLifecycle) ActiveStops() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.stops))
	for k, v := range s.stops {
		out[k] = v
	}
	return out
}

// Place records a newly placed protective stop. Idempotent: placing again
// for a symbol that already has a live stop is a no-op that returns an
// "already_exists" event instead of overwriting the mapping.
func (s *StopLifecycle) Place(symbol, stopOrderID, entryOrderID string) StopEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.stops[symbol]; ok {
		ev := StopEvent{Event: "protective_stop_already_exists", Symbol: symbol, StopOrderID: existing, EntryOrderID: entryOrderID, Timestamp: s.now()}
		s.history = append(s.history, ev)
		return ev
	}
	s.stops[symbol] = stopOrderID
	ev := StopEvent{Event: "protective_stop_placed", Symbol: symbol, StopOrderID: stopOrderID, EntryOrderID: entryOrderID, Timestamp: s.now()}
	s.history = append(s.history, ev)
	return ev
}

// Cancel removes the mapping for symbol. Idempotent: cancelling a symbol
// with no active stop is a no-op.
func (s *StopLifecycle) Cancel(symbol string) StopEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.stops[symbol]
	if !ok {
		return StopEvent{Event: "protective_stop_not_found", Symbol: symbol, Timestamp: s.now()}
	}
	delete(s.stops, symbol)
	ev := StopEvent{Event: "protective_stop_cancelled", Symbol: symbol, StopOrderID: id, Timestamp: s.now()}
	s.history = append(s.history, ev)
	return ev
}

// RestoreFromEvents replays a prior history (e.g. from the transaction log)
// and rebuilds exactly the set of stops active at end-of-log.
func (s *StopLifecycle) RestoreFromEvents(events []StopEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops = make(map[string]string)
	for _, ev := range events {
		switch ev.Event {
		case "protective_stop_placed":
			s.stops[ev.Symbol] = ev.StopOrderID
		case "protective_stop_cancelled":
			delete(s.stops, ev.Symbol)
		}
	}
}

func (s *StopLifecycle) History() []StopEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StopEvent, len(s.history))
	copy(out, s.history)
	return out
}
