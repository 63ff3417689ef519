// Package posstore is the durable symbol->position map. At most one open
// position per symbol is ever stored, and a flattening SELL fill deletes
// the row rather than leaving a zero-quantity record behind.
package posstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"tradecore/internal/model"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("posstore: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			symbol      TEXT PRIMARY KEY,
			quantity    TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			entry_time  DATETIME NOT NULL,
			strategy    TEXT NOT NULL,
			order_id    TEXT NOT NULL,
			stop_loss   TEXT,
			take_profit TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("posstore: create table: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Upsert writes pos, replacing any existing row for the symbol.
func (s *Store) Upsert(pos model.Position) error {
	var stopLoss, takeProfit sql.NullString
	if pos.StopLoss != nil {
		stopLoss = sql.NullString{String: pos.StopLoss.String(), Valid: true}
	}
	if pos.TakeProfit != nil {
		takeProfit = sql.NullString{String: pos.TakeProfit.String(), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO positions (symbol, quantity, entry_price, entry_time, strategy, order_id, stop_loss, take_profit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			quantity=excluded.quantity, entry_price=excluded.entry_price, entry_time=excluded.entry_time,
			strategy=excluded.strategy, order_id=excluded.order_id, stop_loss=excluded.stop_loss, take_profit=excluded.take_profit
	`, pos.Symbol, pos.Quantity.String(), pos.EntryPrice.String(), pos.EntryTime, pos.Strategy, pos.OrderID, stopLoss, takeProfit)
	if err != nil {
		return fmt.Errorf("posstore: upsert %s: %w", pos.Symbol, err)
	}
	return nil
}

// Delete removes the position row for symbol (called when a SELL fill
// flattens the position to zero).
func (s *Store) Delete(symbol string) error {
	_, err := s.db.Exec(`DELETE FROM positions WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("posstore: delete %s: %w", symbol, err)
	}
	return nil
}

// Get returns the position for symbol, or (nil, nil) if none exists.
func (s *Store) Get(symbol string) (*model.Position, error) {
	row := s.db.QueryRow(`SELECT symbol, quantity, entry_price, entry_time, strategy, order_id, stop_loss, take_profit FROM positions WHERE symbol = ?`, symbol)
	return scanPosition(row)
}

func scanPosition(row *sql.Row) (*model.Position, error) {
	var (
		symbol, qtyStr, priceStr, strategy, orderID string
		entryTime                                   time.Time
		stopLoss, takeProfit                        sql.NullString
	)
	if err := row.Scan(&symbol, &qtyStr, &priceStr, &entryTime, &strategy, &orderID, &stopLoss, &takeProfit); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("posstore: scan: %w", err)
	}
	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return nil, fmt.Errorf("posstore: parse quantity: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("posstore: parse entry_price: %w", err)
	}
	pos := &model.Position{
		Symbol: symbol, Quantity: qty, EntryPrice: price,
		EntryTime: entryTime, Strategy: strategy, OrderID: orderID,
	}
	if stopLoss.Valid {
		d, err := decimal.NewFromString(stopLoss.String)
		if err == nil {
			pos.StopLoss = &d
		}
	}
	if takeProfit.Valid {
		d, err := decimal.NewFromString(takeProfit.String)
		if err == nil {
			pos.TakeProfit = &d
		}
	}
	return pos, nil
}

// All returns every currently open position, keyed by symbol.
func (s *Store) All() (map[string]model.Position, error) {
	rows, err := s.db.Query(`SELECT symbol, quantity, entry_price, entry_time, strategy, order_id, stop_loss, take_profit FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("posstore: query all: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Position)
	for rows.Next() {
		var (
			symbol, qtyStr, priceStr, strategy, orderID string
			entryTime                                   time.Time
			stopLoss, takeProfit                        sql.NullString
		)
		if err := rows.Scan(&symbol, &qtyStr, &priceStr, &entryTime, &strategy, &orderID, &stopLoss, &takeProfit); err != nil {
			return nil, fmt.Errorf("posstore: scan row: %w", err)
		}
		qty, _ := decimal.NewFromString(qtyStr)
		price, _ := decimal.NewFromString(priceStr)
		pos := model.Position{Symbol: symbol, Quantity: qty, EntryPrice: price, EntryTime: entryTime, Strategy: strategy, OrderID: orderID}
		out[symbol] = pos
	}
	return out, rows.Err()
}

// HasOpenPosition reports whether symbol has a non-zero position, used by
// the single-trade guard.
func (s *Store) HasOpenPosition(symbol string) (bool, error) {
	pos, err := s.Get(symbol)
	if err != nil {
		return false, err
	}
	return pos != nil && pos.IsOpen(), nil
}
