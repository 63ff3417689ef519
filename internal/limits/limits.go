// Package limits tracks the daily realized PnL and loss-limit breach flag.
// The trading day is keyed by US/Eastern calendar date (see DESIGN.md open
// question decisions), matching the market clock's own timezone rather than
// UTC date, and the counters persist across restarts.
package limits

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"tradecore/internal/clock"
)

type Tracker struct {
	db          *sql.DB
	lossLimit   decimal.Decimal
	currentDay  string
	realizedPnL decimal.Decimal
	ordersToday int
	breached    bool
}

func Open(path string, dailyLossLimit decimal.Decimal) (*Tracker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("limits: open %s: %w", path, err)
	}
	t := &Tracker{db: db, lossLimit: dailyLossLimit}
	if err := t.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tracker) initTables() error {
	_, err := t.db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_limits (
			trading_day   TEXT PRIMARY KEY,
			realized_pnl  TEXT NOT NULL,
			orders_today  INTEGER NOT NULL,
			breached      INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("limits: create table: %w", err)
	}
	return nil
}

func (t *Tracker) Close() error { return t.db.Close() }

// tradingDay returns the ET calendar date for now, e.g. "2026-07-30".
func tradingDay(now time.Time) string {
	return now.In(clock.NewYork()).Format("2006-01-02")
}

// rollover loads (or creates) today's row if the trading day has changed
// since the tracker was last touched.
func (t *Tracker) rollover(now time.Time) error {
	day := tradingDay(now)
	if day == t.currentDay {
		return nil
	}
	row := t.db.QueryRow(`SELECT realized_pnl, orders_today, breached FROM daily_limits WHERE trading_day = ?`, day)
	var pnlStr string
	var orders, breached int
	err := row.Scan(&pnlStr, &orders, &breached)
	switch {
	case err == sql.ErrNoRows:
		t.realizedPnL = decimal.Zero
		t.ordersToday = 0
		t.breached = false
	case err != nil:
		return fmt.Errorf("limits: rollover scan: %w", err)
	default:
		pnl, _ := decimal.NewFromString(pnlStr)
		t.realizedPnL = pnl
		t.ordersToday = orders
		t.breached = breached != 0
	}
	t.currentDay = day
	return t.persist()
}

func (t *Tracker) persist() error {
	breached := 0
	if t.breached {
		breached = 1
	}
	_, err := t.db.Exec(`
		INSERT INTO daily_limits (trading_day, realized_pnl, orders_today, breached)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(trading_day) DO UPDATE SET
			realized_pnl=excluded.realized_pnl, orders_today=excluded.orders_today, breached=excluded.breached
	`, t.currentDay, t.realizedPnL.String(), t.ordersToday, breached)
	if err != nil {
		return fmt.Errorf("limits: persist: %w", err)
	}
	return nil
}

// RecordRealizedPnL adds delta (may be negative) to today's realized PnL
// and flips the breach flag if the configured daily loss limit is crossed.
func (t *Tracker) RecordRealizedPnL(now time.Time, delta decimal.Decimal) error {
	if err := t.rollover(now); err != nil {
		return err
	}
	t.realizedPnL = t.realizedPnL.Add(delta)
	if t.lossLimit.GreaterThan(decimal.Zero) && t.realizedPnL.Neg().GreaterThanOrEqual(t.lossLimit) {
		t.breached = true
	}
	return t.persist()
}

// RecordOrderSubmitted bumps the per-day order counter.
func (t *Tracker) RecordOrderSubmitted(now time.Time) error {
	if err := t.rollover(now); err != nil {
		return err
	}
	t.ordersToday++
	return t.persist()
}

func (t *Tracker) RealizedPnL(now time.Time) (decimal.Decimal, error) {
	if err := t.rollover(now); err != nil {
		return decimal.Zero, err
	}
	return t.realizedPnL, nil
}

func (t *Tracker) OrdersToday(now time.Time) (int, error) {
	if err := t.rollover(now); err != nil {
		return 0, err
	}
	return t.ordersToday, nil
}

// LossLimitBreached reports whether today's realized loss has crossed the
// configured daily loss limit.
func (t *Tracker) LossLimitBreached(now time.Time) (bool, error) {
	if err := t.rollover(now); err != nil {
		return false, err
	}
	return t.breached, nil
}
