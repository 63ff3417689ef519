// Package clock provides an injectable UTC clock plus a TTL-cached view of
// the broker's market-hours calendar. The cache is invalidated whenever now
// crosses the previously observed open or close boundary, so stale entries
// never survive a session transition.
package clock

import (
	"sync"
	"time"

	"tradecore/internal/logger"
)

// Clock is the minimal time source the runtime depends on, so tests can
// inject a fixed or stepped clock.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// NewYork is the exchange timezone used for ET-local reporting and for the
// trading-day rollover boundary (see internal/limits).
func NewYork() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

// MarketStatus is the broker's view of the current session.
type MarketStatus struct {
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// MarketHoursSource fetches the authoritative market calendar from the
// broker. Implemented by internal/broker.
type MarketHoursSource interface {
	GetMarketStatus() (MarketStatus, error)
}

// FailMode controls clock-error handling: fail-closed treats an error as a
// closed market (the safe default); fail-open treats it as open.
type FailMode int

const (
	FailClosed FailMode = iota
	FailOpen
)

// MarketClock caches MarketStatus until a boundary crossing, per spec §4.1:
// "Cache entry invalidated when now ≥ prior next_open or ≥ prior next_close".
type MarketClock struct {
	mu       sync.Mutex
	clock    Clock
	source   MarketHoursSource
	failMode FailMode
	cached   *MarketStatus
}

func NewMarketClock(clk Clock, source MarketHoursSource, failMode FailMode) *MarketClock {
	return &MarketClock{clock: clk, source: source, failMode: failMode}
}

// Status returns the cached market status, refreshing it if absent or if a
// boundary has been crossed since the last fetch.
func (m *MarketClock) Status() (MarketStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if m.cached != nil && now.Before(m.cached.NextOpen) && now.Before(m.cached.NextClose) {
		return *m.cached, nil
	}

	status, err := m.source.GetMarketStatus()
	if err != nil {
		logger.Warnf("market clock fetch failed, applying fail mode: %v", err)
		if m.failMode == FailOpen {
			return MarketStatus{IsOpen: true}, nil
		}
		return MarketStatus{IsOpen: false}, nil
	}
	m.cached = &status
	return status, nil
}

// Invalidate forces the next Status() call to refetch.
func (m *MarketClock) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
}
