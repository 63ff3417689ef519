// Package bar defines the canonical OHLCV contract and the staleness guard
// that every symbol's latest bar must pass before a strategy sees it.
package bar

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is an immutable OHLCV record. Once constructed it is never mutated;
// a new window slide produces a new Bar.
type Bar struct {
	Symbol    string
	Timestamp time.Time // UTC, tz-aware
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Provider  string
}

var (
	ErrNonPositivePrice = errors.New("bar: prices must be strictly positive")
	ErrNegativeVolume   = errors.New("bar: volume must be non-negative")
	ErrPriceOutOfRange  = errors.New("bar: low must be <= open,close <= high")
)

// Validate enforces the invariants from spec §3: low ≤ {open,close} ≤ high,
// prices strictly positive, volume non-negative.
func (b Bar) Validate() error {
	zero := decimal.Zero
	for _, p := range []decimal.Decimal{b.Open, b.High, b.Low, b.Close} {
		if p.LessThanOrEqual(zero) {
			return ErrNonPositivePrice
		}
	}
	if b.Volume.LessThan(zero) {
		return ErrNegativeVolume
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) || b.Open.GreaterThan(b.High) || b.Close.GreaterThan(b.High) {
		return ErrPriceOutOfRange
	}
	return nil
}

// graceWindow absorbs clock skew/broker latency when judging completeness.
const graceWindow = 2 * time.Second

// IsComplete reports whether ref is past the bar's full timeframe window,
// i.e. ref > timestamp + timeframe + grace.
func (b Bar) IsComplete(timeframe time.Duration, ref time.Time) bool {
	return ref.After(b.Timestamp.Add(timeframe).Add(graceWindow))
}

// Age returns how old the bar is relative to ref.
func (b Bar) Age(ref time.Time) time.Duration {
	return ref.Sub(b.Timestamp)
}

type RejectReason string

const (
	ReasonNone                RejectReason = ""
	ReasonStale               RejectReason = "stale"
	ReasonIncomplete          RejectReason = "incomplete"
	ReasonNoData              RejectReason = "no_data"
	ReasonCompletionCheckErr  RejectReason = "completion_check_error"
)

// StalenessVerdict is an immutable value object: ok/reason plus a
// journal-ready event payload.
type StalenessVerdict struct {
	OK     bool
	Symbol string
	Reason RejectReason
	Event  map[string]interface{}
}

// CheckStaleness implements the decision tree of spec §4.6.
//
//	bar == nil                          -> REJECTED(no_data)
//	IsComplete panics/errors            -> REJECTED(completion_check_error)  [fail-closed]
//	requireComplete && !IsComplete(...) -> REJECTED(incomplete)
//	Age(ref) > maxStaleness              -> REJECTED(stale)
//	else                                 -> PASSED
func CheckStaleness(b *Bar, symbol string, ref time.Time, timeframe, maxStaleness time.Duration, requireComplete bool) (verdict StalenessVerdict) {
	if b == nil {
		return rejectVerdict(symbol, ReasonNoData, nil)
	}

	complete, err := safeIsComplete(*b, timeframe, ref)
	if err != nil {
		return rejectVerdict(symbol, ReasonCompletionCheckErr, map[string]interface{}{"error": err.Error()})
	}
	if requireComplete && !complete {
		return rejectVerdict(symbol, ReasonIncomplete, map[string]interface{}{"age_s": b.Age(ref).Seconds()})
	}

	age := b.Age(ref)
	if age > maxStaleness {
		return rejectVerdict(symbol, ReasonStale, map[string]interface{}{"age_s": age.Seconds(), "max_staleness_s": maxStaleness.Seconds()})
	}

	return StalenessVerdict{
		OK:     true,
		Symbol: symbol,
		Reason: ReasonNone,
		Event: map[string]interface{}{
			"event":  "staleness_check_passed",
			"symbol": symbol,
			"age_s":  age.Seconds(),
		},
	}
}

func safeIsComplete(b Bar, timeframe time.Duration, ref time.Time) (complete bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("completion check panicked: %v", r)
		}
	}()
	return b.IsComplete(timeframe, ref), nil
}

func rejectVerdict(symbol string, reason RejectReason, extra map[string]interface{}) StalenessVerdict {
	event := map[string]interface{}{
		"event":  "staleness_check_rejected",
		"symbol": symbol,
		"reason": string(reason),
	}
	for k, v := range extra {
		event[k] = v
	}
	return StalenessVerdict{OK: false, Symbol: symbol, Reason: reason, Event: event}
}
