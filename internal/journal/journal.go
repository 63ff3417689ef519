// Package journal implements the append-only JSONL event stream that is
// both the audit record and the test oracle for the runtime: every event
// carries {event, ts_utc, run_id} plus event-specific fields, partitioned
// per UTC day under JOURNAL_DIR/daily and JOURNAL_DIR/trades.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tradecore/internal/logger"
)

// Event is a single journal record. Fields beyond the canonical three vary
// by event type; see the canonical schemas in spec.md §6.
type Event map[string]interface{}

// lifecycleEvents are additionally written to the trades/ partition.
var lifecycleEvents = map[string]bool{
	"signal_received":                   true,
	"risk_decision":                     true,
	"order_submitted":                   true,
	"order_filled":                      true,
	"ORDER_TTL_CANCEL":                  true,
	"protective_stop_submitted":         true,
	"protective_stop_cancel_requested":  true,
	"protection_block":                  true,
	"single_trade_block":                true,
	"signal_cooldown_block":             true,
}

// Writer appends events to daily-partitioned JSONL files. All mutations go
// through a single mutex; writes are flushed on every append.
type Writer struct {
	mu     sync.Mutex
	dir    string
	runID  string
	clock  func() time.Time
	daily  *os.File
	trades *os.File
	day    string
}

func NewWriter(dir, runID string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Join(dir, "daily"), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create daily dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "trades"), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create trades dir: %w", err)
	}
	w := &Writer{dir: dir, runID: runID, clock: func() time.Time { return time.Now().UTC() }}
	if err := w.rotate(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) rotate() error {
	day := w.clock().Format("2006-01-02")
	if day == w.day && w.daily != nil {
		return nil
	}
	if w.daily != nil {
		w.daily.Close()
	}
	if w.trades != nil {
		w.trades.Close()
	}
	daily, err := os.OpenFile(filepath.Join(w.dir, "daily", day+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open daily file: %w", err)
	}
	trades, err := os.OpenFile(filepath.Join(w.dir, "trades", day+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		daily.Close()
		return fmt.Errorf("journal: open trades file: %w", err)
	}
	w.daily, w.trades, w.day = daily, trades, day
	return nil
}

// Write appends event to the daily partition and, for lifecycle events,
// also to the trades partition. run_id and ts_utc are stamped if absent.
func (w *Writer) Write(event Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotate(); err != nil {
		return err
	}
	if _, ok := event["run_id"]; !ok {
		event["run_id"] = w.runID
	}
	if _, ok := event["ts_utc"]; !ok {
		event["ts_utc"] = w.clock().Format(time.RFC3339Nano)
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("journal: marshal event: %w", err)
	}
	line = append(line, '\n')

	if _, err := w.daily.Write(line); err != nil {
		logger.Errorf("journal: daily write failed: %v", err)
		return fmt.Errorf("journal: daily write: %w", err)
	}
	if err := w.daily.Sync(); err != nil {
		logger.Warnf("journal: daily fsync failed: %v", err)
	}

	name, _ := event["event"].(string)
	if lifecycleEvents[name] {
		if _, err := w.trades.Write(line); err != nil {
			logger.Errorf("journal: trades write failed: %v", err)
			return fmt.Errorf("journal: trades write: %w", err)
		}
		if err := w.trades.Sync(); err != nil {
			logger.Warnf("journal: trades fsync failed: %v", err)
		}
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	if w.daily != nil {
		if err := w.daily.Close(); err != nil {
			firstErr = err
		}
	}
	if w.trades != nil {
		if err := w.trades.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
