// Package breaker implements the consecutive-failure circuit breaker: the
// single global fail-safe for persistent unknown failures (spec §4.9, §7).
package breaker

import "sync"

type Breaker struct {
	mu        sync.Mutex
	threshold int
	count     int
}

func New(threshold int) *Breaker {
	return &Breaker{threshold: threshold}
}

// RecordFailure increments the consecutive-failure count.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
}

// RecordSuccess resets the count to zero.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count = 0
}

// IsTripped reports whether count has reached the threshold. Trips at
// count == threshold, never earlier.
func (b *Breaker) IsTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count >= b.threshold
}

func (b *Breaker) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
