package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/config"
	"tradecore/internal/runtime"
)

func TestCollectSymbolsDedupesAcrossStrategies(t *testing.T) {
	strategies := []config.StrategyEntry{
		{Name: "momentum", Symbols: []string{"AAPL", "MSFT"}},
		{Name: "meanrev", Symbols: []string{"MSFT", "GOOG"}},
	}
	symbols := collectSymbols(strategies)
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOG"}, symbols)
}

func TestCollectSymbolsEmptyWhenNoStrategies(t *testing.T) {
	assert.Empty(t, collectSymbols(nil))
}

func TestFirstNonEmptyReturnsFirstSetValue(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}

func TestEnvOrFallsBackToDefaultWhenUnset(t *testing.T) {
	t.Setenv("TRADECORE_TEST_VAR", "")
	assert.Equal(t, "fallback", envOr("TRADECORE_TEST_VAR_UNSET_XYZ", "fallback"))

	t.Setenv("TRADECORE_TEST_VAR", "set-value")
	assert.Equal(t, "set-value", envOr("TRADECORE_TEST_VAR", "fallback"))
}

func TestEnvOrIntParsesOrFallsBack(t *testing.T) {
	t.Setenv("TRADECORE_TEST_INT", "42")
	assert.Equal(t, 42, envOrInt("TRADECORE_TEST_INT", 7))

	t.Setenv("TRADECORE_TEST_INT_BAD", "not-a-number")
	assert.Equal(t, 7, envOrInt("TRADECORE_TEST_INT_BAD", 7))

	assert.Equal(t, 7, envOrInt("TRADECORE_TEST_INT_MISSING_XYZ", 7))
}

func TestBoolStr(t *testing.T) {
	assert.Equal(t, "yes", boolStr(true))
	assert.Equal(t, "no", boolStr(false))
}

const wireTestConfigYAML = `
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
  max_staleness_sec: 60
  require_complete: true
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
    symbols: ["AAPL", "MSFT"]
    timeframe: 5m
    warmup_bars: 20
    params:
      threshold: 1.5
`

func TestWireConstructsRuntimeWithoutBrokerCredentials(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(wireTestConfigYAML), 0o644))

	cfg, result, err := config.Load(cfgPath)
	require.NoError(t, err)
	require.True(t, result.OK, "%v", result.Errors)

	t.Setenv("BROKER_API_KEY", "")
	t.Setenv("ALPACA_API_KEY", "")
	t.Setenv("BROKER_STREAM_URL", "")
	t.Setenv("UNIVERSE_DIR", filepath.Join(dir, "universe"))

	stateDir := filepath.Join(dir, "state")
	require.NoError(t, os.MkdirAll(stateDir, 0o755))

	deps, rt, err := wire(runtime.ModePaper, cfg, stateDir, filepath.Join(dir, "journal"), 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, deps.Symbols)
	assert.Equal(t, runtime.ModePaper, deps.Mode)
}
