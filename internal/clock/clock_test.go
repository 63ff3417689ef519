package clock

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

type stubSource struct {
	status MarketStatus
	err    error
	calls  int
}

func (s *stubSource) GetMarketStatus() (MarketStatus, error) {
	s.calls++
	return s.status, s.err
}

func TestStatusFetchesOnFirstCall(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	src := &stubSource{status: MarketStatus{IsOpen: true, NextOpen: now.Add(24 * time.Hour), NextClose: now.Add(6 * time.Hour)}}
	mc := NewMarketClock(fixedClock{now}, src, FailClosed)

	status, err := mc.Status()
	require.NoError(t, err)
	assert.True(t, status.IsOpen)
	assert.Equal(t, 1, src.calls)
}

func TestStatusCachesUntilBoundaryCrossed(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	nextClose := now.Add(time.Hour)
	src := &stubSource{status: MarketStatus{IsOpen: true, NextOpen: now.Add(24 * time.Hour), NextClose: nextClose}}
	clk := &mutableClock{now: now}
	mc := NewMarketClock(clk, src, FailClosed)

	_, err := mc.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	// still before the cached boundary: must not refetch.
	clk.now = now.Add(30 * time.Minute)
	_, err = mc.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "cache must serve without refetching before a boundary crossing")

	// past the cached next_close boundary: must refetch.
	clk.now = nextClose.Add(time.Minute)
	_, err = mc.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "crossing next_close must invalidate the cache")
}

func TestStatusFailsClosedOnSourceError(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	src := &stubSource{err: errors.New("broker unreachable")}
	mc := NewMarketClock(fixedClock{now}, src, FailClosed)

	status, err := mc.Status()
	require.NoError(t, err)
	assert.False(t, status.IsOpen, "fail-closed must report the market as closed on a source error")
}

func TestStatusFailsOpenWhenConfigured(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	src := &stubSource{err: errors.New("broker unreachable")}
	mc := NewMarketClock(fixedClock{now}, src, FailOpen)

	status, err := mc.Status()
	require.NoError(t, err)
	assert.True(t, status.IsOpen)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	src := &stubSource{status: MarketStatus{IsOpen: true, NextOpen: now.Add(24 * time.Hour), NextClose: now.Add(6 * time.Hour)}}
	mc := NewMarketClock(fixedClock{now}, src, FailClosed)

	_, err := mc.Status()
	require.NoError(t, err)
	mc.Invalidate()
	_, err = mc.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

type mutableClock struct{ now time.Time }

func (m *mutableClock) Now() time.Time { return m.now }
