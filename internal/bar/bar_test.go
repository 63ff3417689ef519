package bar

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validBar(symbol string, ts time.Time) Bar {
	return Bar{
		Symbol: symbol, Timestamp: ts,
		Open: decimal.NewFromFloat(100), High: decimal.NewFromFloat(101),
		Low: decimal.NewFromFloat(99), Close: decimal.NewFromFloat(100.5),
		Volume: decimal.NewFromInt(1000), Provider: "test",
	}
}

func TestValidateRejectsNonPositivePrice(t *testing.T) {
	b := validBar("AAPL", time.Now())
	b.Low = decimal.Zero
	assert.ErrorIs(t, b.Validate(), ErrNonPositivePrice)
}

func TestValidateRejectsNegativeVolume(t *testing.T) {
	b := validBar("AAPL", time.Now())
	b.Volume = decimal.NewFromInt(-1)
	assert.ErrorIs(t, b.Validate(), ErrNegativeVolume)
}

func TestValidateRejectsPriceOutOfRange(t *testing.T) {
	b := validBar("AAPL", time.Now())
	b.High = decimal.NewFromFloat(50) // below open/close
	assert.ErrorIs(t, b.Validate(), ErrPriceOutOfRange)
}

func TestValidateAcceptsWellFormedBar(t *testing.T) {
	b := validBar("AAPL", time.Now())
	assert.NoError(t, b.Validate())
}

func TestCheckStalenessRejectsNilBar(t *testing.T) {
	v := CheckStaleness(nil, "AAPL", time.Now(), time.Minute, 5*time.Minute, true)
	assert.False(t, v.OK)
	assert.Equal(t, ReasonNoData, v.Reason)
}

func TestCheckStalenessRejectsIncompleteBarWhenRequired(t *testing.T) {
	ref := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	b := validBar("AAPL", ref) // bar just opened, timeframe not elapsed yet
	v := CheckStaleness(&b, "AAPL", ref, time.Minute, 5*time.Minute, true)
	assert.False(t, v.OK)
	assert.Equal(t, ReasonIncomplete, v.Reason)
}

func TestCheckStalenessAllowsIncompleteBarWhenNotRequired(t *testing.T) {
	ref := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	b := validBar("AAPL", ref)
	v := CheckStaleness(&b, "AAPL", ref, time.Minute, 5*time.Minute, false)
	assert.True(t, v.OK)
}

func TestCheckStalenessRejectsBarOlderThanMaxStaleness(t *testing.T) {
	ref := time.Date(2026, 1, 15, 10, 10, 0, 0, time.UTC)
	b := validBar("AAPL", ref.Add(-10*time.Minute))
	v := CheckStaleness(&b, "AAPL", ref, time.Minute, 5*time.Minute, true)
	assert.False(t, v.OK)
	assert.Equal(t, ReasonStale, v.Reason)
}

func TestCheckStalenessPassesFreshCompleteBar(t *testing.T) {
	ref := time.Date(2026, 1, 15, 10, 1, 5, 0, time.UTC)
	b := validBar("AAPL", ref.Add(-65*time.Second)) // one full minute bar, complete and fresh
	v := CheckStaleness(&b, "AAPL", ref, time.Minute, 5*time.Minute, true)
	assert.True(t, v.OK)
	assert.Equal(t, ReasonNone, v.Reason)
}

func TestIsCompleteRespectsGraceWindow(t *testing.T) {
	ts := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	b := validBar("AAPL", ts)
	justAfterTimeframe := ts.Add(time.Minute).Add(time.Second) // within grace window
	assert.False(t, b.IsComplete(time.Minute, justAfterTimeframe))

	wellAfterGrace := ts.Add(time.Minute).Add(3 * time.Second)
	assert.True(t, b.IsComplete(time.Minute, wellAfterGrace))
}
