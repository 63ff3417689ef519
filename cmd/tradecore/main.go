// Command tradecore runs the equities trading runtime in either paper or
// live mode. Usage:
//
//	tradecore paper --config config/paper.yaml [--interval 60] [--once] [--env-check]
//	tradecore live  --config config/live.yaml  --i-know-what-im-doing [--interval 60] [--once]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradecore/internal/bar"
	"tradecore/internal/breaker"
	"tradecore/internal/broker"
	"tradecore/internal/clock"
	"tradecore/internal/config"
	"tradecore/internal/execution"
	"tradecore/internal/journal"
	"tradecore/internal/limits"
	"tradecore/internal/logger"
	"tradecore/internal/metrics"
	"tradecore/internal/ordertracker"
	"tradecore/internal/posstore"
	"tradecore/internal/protection"
	"tradecore/internal/recovery"
	"tradecore/internal/risk"
	"tradecore/internal/runtime"
	"tradecore/internal/statusserver"
	"tradecore/internal/strategy"
	"tradecore/internal/txlog"
	"tradecore/internal/universe"
)

const (
	exitOK         = 0
	exitSafetyHalt = 1
	exitArgError   = 2
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: tradecore <paper|live> [flags]")
		os.Exit(exitArgError)
	}

	mode := os.Args[1]
	args := os.Args[2:]

	switch mode {
	case "paper":
		os.Exit(runPaperOrLive(runtime.ModePaper, args))
	case "live":
		os.Exit(runPaperOrLive(runtime.ModeLive, args))
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q, expected paper or live\n", mode)
		os.Exit(exitArgError)
	}
}

func runPaperOrLive(mode runtime.Mode, args []string) int {
	fs := flag.NewFlagSet(string(mode), flag.ExitOnError)
	configPath := fs.String("config", "", "path to the YAML config file (required)")
	interval := fs.Int("interval", 60, "seconds between cycles; ignored with --once")
	once := fs.Bool("once", false, "run a single cycle and exit")
	envCheck := fs.Bool("env-check", false, "print which broker env vars are set and exit (paper only)")
	iKnowWhatImDoing := fs.Bool("i-know-what-im-doing", false, "required to start live mode")
	statusAddr := fs.String("status-addr", "", "address for the optional read-only status server, e.g. :8090")
	_ = fs.Parse(args)

	_ = godotenv.Load()

	if *envCheck {
		if mode != runtime.ModePaper {
			fmt.Fprintln(os.Stderr, "--env-check is only supported in paper mode")
			return exitArgError
		}
		printEnvCheck()
		return exitOK
	}

	if mode == runtime.ModeLive && !*iKnowWhatImDoing {
		fmt.Fprintln(os.Stderr, "live mode requires --i-know-what-im-doing")
		return exitArgError
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "--config is required")
		return exitArgError
	}
	info, err := os.Stat(*configPath)
	if err != nil || info.IsDir() {
		fmt.Fprintf(os.Stderr, "--config must be a file: %s\n", *configPath)
		return exitArgError
	}

	cfg, result, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		return exitArgError
	}
	if !result.OK {
		fmt.Fprintln(os.Stderr, "config validation failed:")
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "  %s: %s (%s)\n", e.Path, e.Message, e.ErrorType)
		}
		return exitArgError
	}

	logger.Configure(os.Stderr, mode == runtime.ModePaper)
	logger.SetLevel(cfg.Logging().Level)
	logger.Infof("tradecore starting: mode=%s config=%s interval=%ds once=%v", mode, *configPath, *interval, *once)

	stateDir := envOr("STATE_DIR", "data/state")
	journalDir := envOr("JOURNAL_DIR", cfg.Logging().Dir)
	if journalDir == "" {
		journalDir = "data/journal"
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create state dir: %v\n", err)
		return exitArgError
	}

	deps, rt, err := wire(mode, cfg, stateDir, journalDir, time.Duration(*interval)*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup wiring failed: %v\n", err)
		return exitArgError
	}

	if *statusAddr != "" {
		srv := statusserver.New(deps.Breaker, metrics.Registry, rt)
		go func() {
			if err := srv.Run(*statusAddr); err != nil {
				logger.Warnf("status server stopped: %v", err)
			}
		}()
	}

	return rt.Run(*once, time.Duration(*interval)*time.Second)
}

// wire constructs every collaborator in the fixed dependency order the
// container uses (spec §9, "Cyclic references / graph ownership"): clock,
// broker, persistence, order tracking, execution, gates, strategies,
// recovery, then the runtime itself.
func wire(mode runtime.Mode, cfg *config.Frozen, stateDir, journalDir string, pollInterval time.Duration) (runtime.Deps, *runtime.Runtime, error) {
	clk := clock.RealClock{}

	apiKey := firstNonEmpty(os.Getenv("BROKER_API_KEY"), os.Getenv("ALPACA_API_KEY"))
	apiSecret := firstNonEmpty(os.Getenv("BROKER_API_SECRET"), os.Getenv("ALPACA_API_SECRET"))

	var b broker.Broker
	if mode == runtime.ModePaper && apiKey == "" {
		b = broker.NewFake()
	} else {
		b = broker.NewAlpacaBroker(apiKey, apiSecret, mode == runtime.ModePaper)
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Str("mode", string(mode)).Logger()

	txLog, err := txlog.Open(stateDir + "/transactions.jsonl")
	if err != nil {
		return runtime.Deps{}, nil, fmt.Errorf("open txlog: %w", err)
	}
	submittedIDs, err := txlog.LoadSubmittedIDs(stateDir + "/transactions.jsonl")
	if err != nil {
		return runtime.Deps{}, nil, fmt.Errorf("load submitted ids: %w", err)
	}

	posStore, err := posstore.Open(stateDir + "/positions.db")
	if err != nil {
		return runtime.Deps{}, nil, fmt.Errorf("open position store: %w", err)
	}

	riskCfg := cfg.Risk()
	limitsT, err := limits.Open(stateDir+"/limits.db", decimalFromFloat(riskCfg.DailyLossLimitUSD))
	if err != nil {
		return runtime.Deps{}, nil, fmt.Errorf("open limits tracker: %w", err)
	}

	jrnl, err := journal.NewWriter(journalDir, clock.RealClock{}.Now().Format("20060102T150405Z"))
	if err != nil {
		return runtime.Deps{}, nil, fmt.Errorf("open journal: %w", err)
	}

	tracker := ordertracker.New()
	engine := execution.NewEngine(b, tracker, txLog, submittedIDs)

	if streamURL := os.Getenv("BROKER_STREAM_URL"); streamURL != "" {
		stream, streamErr := broker.DialTradeUpdates(streamURL, apiKey, apiSecret)
		if streamErr != nil {
			logger.Warnf("wire: trade-updates stream unavailable, falling back to polling: %v", streamErr)
		} else {
			engine.Stream = stream
		}
	}

	protMgr := protection.NewManager(
		&protection.TimeWindow{Start: 9*time.Hour + 30*time.Minute, End: 16 * time.Hour},
		protection.NewVolatilityHalt(20, decimalFromFloat(0.05)),
		protection.NewStoplossGuard(3, 24*time.Hour),
		&protection.Drawdown{MaxDrawdownPct: decimalFromFloat(0.15)},
		protection.NewCooldownPeriod(5*time.Minute),
	)

	riskGate := risk.NewGate(risk.Config{
		MaxPositionUSD:      decimalFromFloat(riskCfg.MaxPositionUSD),
		MaxPositionPct:      decimalFromFloat(riskCfg.MaxPositionPct),
		MaxOpenPositions:    riskCfg.MaxOpenPositions,
		DailyLossLimitUSD:   decimalFromFloat(riskCfg.DailyLossLimitUSD),
		MinBuyingPowerUSD:   decimalFromFloat(riskCfg.MinBuyingPowerUSD),
		PDTMinEquityUSD:     decimalFromFloat(riskCfg.PDTMinEquityUSD),
		PDTMaxDayTrades:     riskCfg.PDTMaxDayTrades,
	}, log)

	strategies := strategy.NewLifecycleManager(log)

	rec := recovery.NewCoordinator(b, posStore, engine.Stops, mode == runtime.ModeLive, log)

	maxFailures := envOrInt("MAX_CONSECUTIVE_FAILURES", 3)
	cb := breaker.New(maxFailures)

	universeDir := envOr("UNIVERSE_DIR", "data/universe")
	uni := universe.NewReader(universeDir)

	symbols := collectSymbols(cfg.Strategies())

	cooldownSeconds := envOrInt("SIGNAL_COOLDOWN_SECONDS", 30)
	failOpenSingleTrade := envOr("MQD_SINGLE_TRADE_FAIL_MODE", "") == "fail_open" || mode == runtime.ModePaper

	preOpenIntervalSeconds := envOrInt("PRE_OPEN_INTERVAL_SECONDS", 15)
	closedIntervalSeconds := envOrInt("CLOSED_INTERVAL_SECONDS", 300)
	preOpenWindowSeconds := envOrInt("PRE_OPEN_WINDOW_SECONDS", 900)

	deps := runtime.Deps{
		Mode: mode, Config: cfg, Clock: clk, Broker: b, Bars: nopBarSource{},
		Journal: jrnl, TxLog: txLog, Positions: posStore, Limits: limitsT,
		Tracker: tracker, Engine: engine, Protections: protMgr, Risk: riskGate,
		Strategies: strategies, Recovery: rec, Breaker: cb, Universe: uni,
		FailClosedSingleTrade: !failOpenSingleTrade,
		CooldownSeconds:       cooldownSeconds,
		Symbols:               symbols,
		PollInterval:          pollInterval,
		PreOpenIntervalSeconds: preOpenIntervalSeconds,
		ClosedIntervalSeconds:  closedIntervalSeconds,
		PreOpenWindowSeconds:   preOpenWindowSeconds,
	}
	return deps, runtime.New(deps), nil
}

// nopBarSource is wired until a market-data provider adapter is attached;
// the provider boundary is explicitly out of scope (spec §1).
type nopBarSource struct{}

func (nopBarSource) LatestBar(symbol string) (*bar.Bar, error) {
	return nil, fmt.Errorf("no market-data provider configured for %s", symbol)
}

func collectSymbols(strategies []config.StrategyEntry) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range strategies {
		for _, sym := range s.Symbols {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	return out
}

func printEnvCheck() {
	rows := [][]string{
		{"BROKER_API_KEY", boolStr(os.Getenv("BROKER_API_KEY") != "")},
		{"BROKER_API_SECRET", boolStr(os.Getenv("BROKER_API_SECRET") != "")},
		{"ALPACA_API_KEY", boolStr(os.Getenv("ALPACA_API_KEY") != "")},
		{"ALPACA_API_SECRET", boolStr(os.Getenv("ALPACA_API_SECRET") != "")},
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"Variable", "Set"})
	for _, r := range rows {
		_ = table.Append(r)
	}
	_ = table.Render()
}

func boolStr(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
