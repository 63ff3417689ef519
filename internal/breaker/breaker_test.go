package breaker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTripsAtThresholdNotEarlier(t *testing.T) {
	b := New(3)
	assert.False(t, b.IsTripped())

	b.RecordFailure()
	assert.Equal(t, 1, b.Count())
	assert.False(t, b.IsTripped())

	b.RecordFailure()
	assert.False(t, b.IsTripped())

	b.RecordFailure()
	assert.Equal(t, 3, b.Count())
	assert.True(t, b.IsTripped())
}

func TestSuccessResetsBeforeTrip(t *testing.T) {
	b := New(3)
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsTripped())

	b.RecordSuccess()
	assert.Equal(t, 0, b.Count())
	assert.False(t, b.IsTripped())

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsTripped())
}

func TestStaysTrippedUntilExplicitReset(t *testing.T) {
	b := New(1)
	b.RecordFailure()
	require := assert.New(t)
	require.True(b.IsTripped())

	b.RecordFailure()
	require.True(b.IsTripped())

	b.RecordSuccess()
	require.False(b.IsTripped())
}

func TestConcurrentAccessIsSafe(t *testing.T) {
	b := New(1000)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure()
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, b.Count())
}
