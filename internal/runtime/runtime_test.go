package runtime

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/bar"
	"tradecore/internal/breaker"
	"tradecore/internal/broker"
	"tradecore/internal/clock"
	"tradecore/internal/config"
	"tradecore/internal/execution"
	"tradecore/internal/journal"
	"tradecore/internal/limits"
	"tradecore/internal/model"
	"tradecore/internal/orderstate"
	"tradecore/internal/ordertracker"
	"tradecore/internal/posstore"
	"tradecore/internal/protection"
	"tradecore/internal/recovery"
	"tradecore/internal/risk"
	"tradecore/internal/strategy"
	"tradecore/internal/txlog"
	"tradecore/internal/universe"
)

const testConfigYAML = `
risk:
  max_position_usd: 5000
  max_position_pct: 0.1
  max_open_positions: 5
  daily_loss_limit_usd: 500
  min_buying_power_usd: 1000
  pdt_min_equity_usd: 25000
  pdt_max_day_trades: 3
broker:
  name: alpaca
  base_url: https://paper-api.alpaca.markets
  rate_limit_per_min: 200
  retry_timeout_sec: 30
data:
  max_staleness_sec: 300
  require_complete: false
  fail_open_market_hours: false
session:
  timezone: America/New_York
  open_offset: "0m"
  close_offset: "0m"
logging:
  level: info
  dir: data/journal
strategies:
  - name: momentum
    type: momentum
    symbols: ["AAPL"]
    timeframe: 5m
    warmup_bars: 0
    params: {}
`

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

// onceBar hands back the same bar, relabeled to the requested symbol, on
// every call; each test runs at most one cycle, so processSymbol fires the
// strategy once per symbol.
type onceBar struct{ b bar.Bar }

func (o *onceBar) LatestBar(symbol string) (*bar.Bar, error) {
	b := o.b
	b.Symbol = symbol
	return &b, nil
}

// signalStrategy is a minimal pure Strategy implementation for exercising
// the runtime's routing and order-submission path end to end.
type signalStrategy struct {
	symbols []string
	side    model.Side
}

func (s *signalStrategy) Name() string      { return "momentum" }
func (s *signalStrategy) Symbols() []string { return s.symbols }
func (s *signalStrategy) WarmupBars() int   { return 0 }
func (s *signalStrategy) OnInit() error     { return nil }
func (s *signalStrategy) OnStop()           {}
func (s *signalStrategy) OnBar(b bar.Bar) ([]model.Signal, error) {
	refPrice := decimal.NewFromFloat(100)
	return []model.Signal{{
		Symbol: b.Symbol, Side: s.side, Quantity: decimal.NewFromInt(1),
		OrderType: model.OrderTypeMarket, Strategy: "momentum", LimitPrice: &refPrice,
	}}, nil
}
func (s *signalStrategy) OnOrderFilled(string, string, decimal.Decimal, decimal.Decimal) []model.Signal {
	return nil
}
func (s *signalStrategy) OnOrderRejected(string, string, string) []model.Signal { return nil }

func newTestRuntime(t *testing.T, fake *broker.Fake, bars BarSource, strat strategy.Strategy, now time.Time) (*Runtime, string) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfigYAML), 0o644))
	frozen, result, err := config.Load(cfgPath)
	require.NoError(t, err)
	require.True(t, result.OK, "%v", result.Errors)

	journalDir := t.TempDir()
	jrnl, err := journal.NewWriter(journalDir, "test-run")
	require.NoError(t, err)
	t.Cleanup(func() { _ = jrnl.Close() })

	txLog, err := txlog.Open(filepath.Join(t.TempDir(), "txlog.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = txLog.Close() })

	posStore, err := posstore.Open(filepath.Join(t.TempDir(), "positions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = posStore.Close() })

	limitsT, err := limits.Open(filepath.Join(t.TempDir(), "limits.db"), decimal.NewFromInt(500))
	require.NoError(t, err)
	t.Cleanup(func() { _ = limitsT.Close() })

	tracker := ordertracker.New()
	engine := execution.NewEngine(fake, tracker, txLog, map[string]bool{})

	riskGate := risk.NewGate(risk.Config{
		MaxPositionUSD: decimal.NewFromInt(5000), MaxPositionPct: decimal.NewFromFloat(0.1),
		MaxOpenPositions: 5, DailyLossLimitUSD: decimal.NewFromInt(500),
		MinBuyingPowerUSD: decimal.NewFromInt(1000),
		PDTMinEquityUSD:   decimal.NewFromInt(25000), PDTMaxDayTrades: 3,
	}, zerolog.Nop())

	manager := strategy.NewLifecycleManager(zerolog.Nop())
	require.NoError(t, manager.Add(strat))
	require.NoError(t, manager.Start(strat.Name()))

	rec := recovery.NewCoordinator(fake, posStore, engine.Stops, false, zerolog.Nop())

	rt := New(Deps{
		Mode: ModePaper, Config: frozen, Clock: fixedClock{now}, Broker: fake, Bars: bars,
		Journal: jrnl, TxLog: txLog, Positions: posStore, Limits: limitsT, Tracker: tracker,
		Engine: engine, Protections: protection.NewManager(), Risk: riskGate, Strategies: manager,
		Recovery: rec, Breaker: breaker.New(5), Symbols: []string{"AAPL"}, PollInterval: 2 * time.Millisecond,
	})
	return rt, journalDir
}

func freshBar(ts time.Time) bar.Bar {
	return bar.Bar{
		Symbol: "AAPL", Timestamp: ts, Provider: "test",
		Open: decimal.NewFromFloat(100), High: decimal.NewFromFloat(101),
		Low: decimal.NewFromFloat(99), Close: decimal.NewFromFloat(100.5),
		Volume: decimal.NewFromInt(1000),
	}
}

func TestRunCycleSkipsSymbolProcessingWhenMarketClosed(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	fake := broker.NewFake()
	fake.Status = clock.MarketStatus{IsOpen: false, NextOpen: now.Add(time.Hour), NextClose: now.Add(8 * time.Hour)}

	rt, _ := newTestRuntime(t, fake, &onceBar{b: freshBar(now)}, &signalStrategy{symbols: []string{"AAPL"}, side: model.SideBuy}, now)

	err := rt.runCycle()
	require.NoError(t, err)
	assert.Empty(t, fake.OpenOrders, "no orders should be submitted while the market is closed")

	summary := rt.LastCycleSummary()
	assert.False(t, summary.MarketOpen)
}

func TestRunCycleRoutesFreshBarThroughToOrderSubmission(t *testing.T) {
	now := time.Date(2026, 1, 15, 15, 0, 0, 0, time.UTC)
	fake := broker.NewFake()
	fake.Status = clock.MarketStatus{IsOpen: true, NextOpen: now.Add(24 * time.Hour), NextClose: now.Add(time.Hour)}
	fake.Account = broker.Account{
		PortfolioValue: decimal.NewFromInt(100000), BuyingPower: decimal.NewFromInt(50000), Cash: decimal.NewFromInt(50000),
	}

	rt, _ := newTestRuntime(t, fake, &onceBar{b: freshBar(now.Add(-time.Minute))}, &signalStrategy{symbols: []string{"AAPL"}, side: model.SideBuy}, now)

	go func() {
		for {
			orders, _ := fake.GetOpenOrders()
			for _, o := range orders {
				if o.Status == "new" {
					fake.Fill(o.BrokerOrderID, o.Qty, decimal.NewFromFloat(100), true)
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	err := rt.runCycle()
	require.NoError(t, err)
	assert.NotEmpty(t, fake.OpenOrders, "a buy signal should result in a submitted order")

	pos, err := rt.posStore.Get("AAPL")
	require.NoError(t, err)
	require.NotNil(t, pos, "a filled buy should leave an open position behind")
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(1)))
}

func TestRunCycleJournalsMarketClosedEvent(t *testing.T) {
	now := time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)
	fake := broker.NewFake()
	fake.Status = clock.MarketStatus{IsOpen: false, NextOpen: now.Add(6 * time.Hour), NextClose: now.Add(14 * time.Hour)}

	rt, journalDir := newTestRuntime(t, fake, &onceBar{b: freshBar(now)}, &signalStrategy{symbols: []string{"AAPL"}, side: model.SideSell}, now)
	require.NoError(t, rt.runCycle())

	summary := rt.LastCycleSummary()
	assert.False(t, summary.MarketOpen)

	entries, err := os.ReadDir(filepath.Join(journalDir, "daily"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "exactly one daily partition file should exist for today")
	body, err := os.ReadFile(filepath.Join(journalDir, "daily", entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(body), "MARKET_CLOSED_BLOCK")
}

func TestTradableSymbolsFallsBackToConfiguredListWhenUniverseIsNil(t *testing.T) {
	rt := &Runtime{symbols: []string{"AAPL", "MSFT"}}
	assert.Equal(t, []string{"AAPL", "MSFT"}, rt.tradableSymbols())
}

func TestTradableSymbolsFallsBackWhenActiveUniverseFileIsMissing(t *testing.T) {
	rt := &Runtime{symbols: []string{"AAPL", "MSFT"}, universe: universe.NewReader(t.TempDir()), clk: fixedClock{time.Now()}}
	assert.Equal(t, []string{"AAPL", "MSFT"}, rt.tradableSymbols())
}

func TestTradableSymbolsNarrowsToActiveUniverse(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "universe_active.json"), []byte(`{"core":["AAPL"],"accepted":[],"expires_by_symbol":{}}`), 0o644))

	rt := &Runtime{symbols: []string{"AAPL", "MSFT"}, universe: universe.NewReader(dir), clk: fixedClock{time.Now()}}
	assert.Equal(t, []string{"AAPL"}, rt.tradableSymbols())
}

func TestAdaptiveSleepUsesBaseIntervalWhenMarketOpen(t *testing.T) {
	rt := &Runtime{clk: fixedClock{time.Now()}, preOpenInterval: 15 * time.Second, closedInterval: 5 * time.Minute, preOpenWindow: 15 * time.Minute}
	rt.lastMarketOpen = true
	assert.Equal(t, 30*time.Second, rt.adaptiveSleep(30*time.Second))
}

func TestAdaptiveSleepUsesPreOpenIntervalWithinWindowInclusive(t *testing.T) {
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	rt := &Runtime{clk: fixedClock{now}, preOpenInterval: 15 * time.Second, closedInterval: 5 * time.Minute, preOpenWindow: 15 * time.Minute}
	rt.lastMarketOpen = false
	rt.lastNextOpen = now.Add(15 * time.Minute) // exactly at the boundary, inclusive
	assert.Equal(t, 15*time.Second, rt.adaptiveSleep(30*time.Second))
}

func TestAdaptiveSleepUsesClosedIntervalOutsidePreOpenWindow(t *testing.T) {
	now := time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)
	rt := &Runtime{clk: fixedClock{now}, preOpenInterval: 15 * time.Second, closedInterval: 5 * time.Minute, preOpenWindow: 15 * time.Minute}
	rt.lastMarketOpen = false
	rt.lastNextOpen = now.Add(6 * time.Hour)
	assert.Equal(t, 5*time.Minute, rt.adaptiveSleep(30*time.Second))
}

func TestAdaptiveSleepFloorsAtOneSecond(t *testing.T) {
	rt := &Runtime{clk: fixedClock{time.Now()}, preOpenInterval: 0, closedInterval: 0, preOpenWindow: 15 * time.Minute}
	rt.lastMarketOpen = false
	assert.Equal(t, time.Second, rt.adaptiveSleep(30*time.Second))
}

func TestRealizeClosePassesComputedPnLAndRecordsLossOnNegative(t *testing.T) {
	now := time.Date(2026, 1, 15, 15, 0, 0, 0, time.UTC)
	fake := broker.NewFake()
	fake.Status = clock.MarketStatus{IsOpen: true, NextOpen: now.Add(24 * time.Hour), NextClose: now.Add(time.Hour)}

	rt, _ := newTestRuntime(t, fake, &onceBar{b: freshBar(now)}, &signalStrategy{symbols: []string{"AAPL"}, side: model.SideSell}, now)

	sig := model.Signal{Symbol: "AAPL", Side: model.SideSell, TradeID: "t1"}
	rt.realizeClose(sig, decimal.NewFromInt(10), decimal.NewFromInt(100), decimal.NewFromInt(90))

	pnl, err := rt.limitsT.RealizedPnL(now)
	require.NoError(t, err)
	assert.True(t, pnl.Equal(decimal.NewFromInt(-100)), "realized pnl should be (90-100)*10 = -100, got %s", pnl.String())
}

func TestRealizeCloseRecordsPositivePnLWithoutTreatingItAsALoss(t *testing.T) {
	now := time.Date(2026, 1, 15, 15, 0, 0, 0, time.UTC)
	fake := broker.NewFake()
	fake.Status = clock.MarketStatus{IsOpen: true, NextOpen: now.Add(24 * time.Hour), NextClose: now.Add(time.Hour)}

	rt, _ := newTestRuntime(t, fake, &onceBar{b: freshBar(now)}, &signalStrategy{symbols: []string{"AAPL"}, side: model.SideSell}, now)

	sig := model.Signal{Symbol: "AAPL", Side: model.SideSell, TradeID: "t1"}
	rt.realizeClose(sig, decimal.NewFromInt(10), decimal.NewFromInt(90), decimal.NewFromInt(100))

	pnl, err := rt.limitsT.RealizedPnL(now)
	require.NoError(t, err)
	assert.True(t, pnl.Equal(decimal.NewFromInt(100)), "realized pnl should be (100-90)*10 = 100, got %s", pnl.String())
}

func TestHandleSignalReservesInFlightLimitBuyNotionalFromAvailableBuyingPower(t *testing.T) {
	now := time.Date(2026, 1, 15, 15, 0, 0, 0, time.UTC)
	fake := broker.NewFake()
	fake.Status = clock.MarketStatus{IsOpen: true, NextOpen: now.Add(24 * time.Hour), NextClose: now.Add(time.Hour)}
	fake.Account = broker.Account{
		PortfolioValue: decimal.NewFromInt(100000), BuyingPower: decimal.NewFromInt(5000), Cash: decimal.NewFromInt(5000),
	}

	strat := &signalStrategy{symbols: []string{"AAPL"}, side: model.SideBuy}
	rt, journalDir := newTestRuntime(t, fake, &onceBar{b: freshBar(now.Add(-time.Minute))}, strat, now)

	// Reserve almost all the buying power with an in-flight LIMIT BUY the
	// risk gate has never seen fill or cancel.
	rt.tracker.StartTracking("in-flight-1", "brk-in-flight", "MSFT", model.SideBuy, model.OrderTypeLimit, decimal.NewFromInt(100), decimal.NewFromInt(45), orderstate.Submitted, now)

	rt.riskGate.SetAccountState(decimal.NewFromInt(100000), decimal.NewFromInt(5000), 0)

	sig := model.Signal{Symbol: "AAPL", Side: model.SideBuy, Quantity: decimal.NewFromInt(1), OrderType: model.OrderTypeMarket, Strategy: "momentum", TradeID: "t1"}
	refPrice := decimal.NewFromFloat(100)
	sig.LimitPrice = &refPrice
	rt.handleSignal(strategy.RoutedSignal{StrategyName: "momentum", Signal: sig})

	// available BP = 5000 - 4500 (in-flight) - 1000 (min buying power from
	// test config) = -500, so the signal must be rejected outright.
	entries, err := os.ReadDir(filepath.Join(journalDir, "daily"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	body, err := os.ReadFile(filepath.Join(journalDir, "daily", entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(body), "insufficient_buying_power")
}
