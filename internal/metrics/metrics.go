// Package metrics exposes the process's prometheus registry, adapted from
// the teacher's trader-centric metrics package and relabeled around the
// equities runtime's own cycle/gate/journal concerns.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for tradecore metrics.
var Registry = prometheus.NewRegistry()

var (
	// ============================================
	// Cycle / runtime loop metrics
	// ============================================

	CycleLatencySeconds = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tradecore",
			Subsystem: "runtime",
			Name:      "cycle_latency_seconds",
			Help:      "Wall-clock duration of one scheduler cycle",
			Buckets:   prometheus.DefBuckets,
		},
	)

	CyclesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "runtime",
			Name:      "cycles_total",
			Help:      "Total cycles run, by outcome",
		},
		[]string{"outcome"}, // "ok", "market_closed", "error"
	)

	MarketOpen = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradecore",
			Subsystem: "runtime",
			Name:      "market_open",
			Help:      "1 if the market is currently open per the cached clock, else 0",
		},
	)

	// ============================================
	// Circuit breaker
	// ============================================

	BreakerTripsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "breaker",
			Name:      "trips_total",
			Help:      "Total number of circuit breaker trips",
		},
	)

	BreakerConsecutiveFailures = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradecore",
			Subsystem: "breaker",
			Name:      "consecutive_failures",
			Help:      "Current consecutive-failure count",
		},
	)

	// ============================================
	// Order submission / execution
	// ============================================

	OrdersSubmittedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "execution",
			Name:      "orders_submitted_total",
			Help:      "Total orders submitted, by order type and side",
		},
		[]string{"order_type", "side"},
	)

	OrdersFilledTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "execution",
			Name:      "orders_filled_total",
			Help:      "Total orders reaching a filled terminal state",
		},
		[]string{"side"},
	)

	OrderTTLCancelsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "execution",
			Name:      "ttl_cancels_total",
			Help:      "Total LIMIT orders cancelled on TTL expiry (no-chase)",
		},
	)

	DuplicateSubmissionsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "execution",
			Name:      "duplicate_submissions_total",
			Help:      "Total submissions rejected as duplicate internal_order_id",
		},
	)

	// ============================================
	// Pre-trade gate stack
	// ============================================

	ProtectionBlocksTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "gate",
			Name:      "protection_blocks_total",
			Help:      "Total signals blocked by a protection, by protection name",
		},
		[]string{"protection"},
	)

	RiskRejectionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "gate",
			Name:      "risk_rejections_total",
			Help:      "Total signals rejected by the risk gate, by reason",
		},
		[]string{"reason"},
	)

	SignalsReceivedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "gate",
			Name:      "signals_received_total",
			Help:      "Total signals received from strategies, by strategy",
		},
		[]string{"strategy"},
	)

	// ============================================
	// Journal / persistence health
	// ============================================

	JournalWriteErrorsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "journal",
			Name:      "write_errors_total",
			Help:      "Total journal append failures",
		},
	)

	TxLogWriteErrorsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "txlog",
			Name:      "write_errors_total",
			Help:      "Total transaction log append failures",
		},
	)

	// ============================================
	// Recovery
	// ============================================

	RecoveryPositionsRebuilt = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradecore",
			Subsystem: "recovery",
			Name:      "positions_rebuilt",
			Help:      "Positions rebuilt from broker truth at last recovery run",
		},
	)

	RecoveryOrdersCancelled = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradecore",
			Subsystem: "recovery",
			Name:      "orders_cancelled",
			Help:      "Open broker orders cancelled at last recovery run",
		},
	)
)
