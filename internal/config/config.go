// Package config loads, strictly validates and freezes the YAML
// configuration file (spec §6). Unknown keys anywhere in the document are
// rejected; every error is collected and returned together with a dotted
// path, never just the first. Once validated, the config is wrapped in an
// immutable Frozen value with a deterministic hash so later code can detect
// accidental mutation.
package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidationError is one schema violation, always carrying the dotted path
// to the offending key (e.g. "risk.unknown_limit").
type ValidationError struct {
	Path      string
	ErrorType string // "extra_key" | "missing_required" | "out_of_range" | "wrong_type"
	Message   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Path, e.Message, e.ErrorType)
}

// ValidationResult collects every error found in one pass (spec §6: "Strict
// mode ... returns all errors at once with dotted paths").
type ValidationResult struct {
	OK     bool
	Errors []ValidationError
}

type RiskSection struct {
	MaxPositionUSD    float64 `yaml:"max_position_usd"`
	MaxPositionPct    float64 `yaml:"max_position_pct"`
	MaxOpenPositions  int     `yaml:"max_open_positions"`
	DailyLossLimitUSD float64 `yaml:"daily_loss_limit_usd"`
	MinBuyingPowerUSD float64 `yaml:"min_buying_power_usd"`
	PDTMinEquityUSD   float64 `yaml:"pdt_min_equity_usd"`
	PDTMaxDayTrades   int     `yaml:"pdt_max_day_trades"`
}

type BrokerSection struct {
	Name              string `yaml:"name"`
	BaseURL           string `yaml:"base_url"`
	RateLimitPerMin   int    `yaml:"rate_limit_per_min"`
	RetryTimeoutSec   int    `yaml:"retry_timeout_sec"`
}

type DataSection struct {
	MaxStalenessSec   int  `yaml:"max_staleness_sec"`
	RequireComplete   bool `yaml:"require_complete"`
	FailOpenMarketHours bool `yaml:"fail_open_market_hours"`
}

type SessionSection struct {
	Timezone    string `yaml:"timezone"`
	OpenOffset  string `yaml:"open_offset"`
	CloseOffset string `yaml:"close_offset"`
}

type LoggingSection struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

type StrategyEntry struct {
	Name       string                 `yaml:"name"`
	Type       string                 `yaml:"type"`
	Symbols    []string               `yaml:"symbols"`
	Timeframe  string                 `yaml:"timeframe"`
	WarmupBars int                    `yaml:"warmup_bars"`
	Params     map[string]interface{} `yaml:"params"`
}

// Raw is the strictly-decoded, not-yet-validated document.
type Raw struct {
	Risk       RiskSection     `yaml:"risk"`
	Broker     BrokerSection   `yaml:"broker"`
	Data       DataSection     `yaml:"data"`
	Session    SessionSection  `yaml:"session"`
	Logging    LoggingSection  `yaml:"logging"`
	Strategies []StrategyEntry `yaml:"strategies"`
}

// Load reads path with strict unknown-key rejection (yaml.Decoder's
// KnownFields(true)), runs field validation, and returns either a Frozen
// config or a ValidationResult describing every error.
func Load(path string) (*Frozen, ValidationResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ValidationResult{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ValidationResult{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var generic map[string]interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, ValidationResult{OK: false, Errors: []ValidationError{
			{Path: "$", ErrorType: "wrong_type", Message: err.Error()},
		}}, nil
	}

	extraKeyErrs := findExtraKeys(generic)

	var raw Raw
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && len(extraKeyErrs) == 0 {
		extraKeyErrs = append(extraKeyErrs, ValidationError{Path: "$", ErrorType: "wrong_type", Message: err.Error()})
	}

	result := validate(raw)
	result.Errors = append(extraKeyErrs, result.Errors...)
	result.OK = len(result.Errors) == 0
	if !result.OK {
		return nil, result, nil
	}

	frozen, err := freeze(raw)
	if err != nil {
		return nil, ValidationResult{}, err
	}
	return frozen, result, nil
}

// schema is the set of keys legal at each dotted path, used to reject
// unknown keys anywhere in the document (top-level, within sections, and
// within each strategy entry) with an exact dotted path per spec §6/§9 S9.
var topLevelKeys = map[string]bool{"risk": true, "broker": true, "data": true, "session": true, "logging": true, "strategies": true}
var sectionKeys = map[string]map[string]bool{
	"risk":    {"max_position_usd": true, "max_position_pct": true, "max_open_positions": true, "daily_loss_limit_usd": true, "min_buying_power_usd": true, "pdt_min_equity_usd": true, "pdt_max_day_trades": true},
	"broker":  {"name": true, "base_url": true, "rate_limit_per_min": true, "retry_timeout_sec": true},
	"data":    {"max_staleness_sec": true, "require_complete": true, "fail_open_market_hours": true},
	"session": {"timezone": true, "open_offset": true, "close_offset": true},
	"logging": {"level": true, "dir": true},
}
var strategyKeys = map[string]bool{"name": true, "type": true, "symbols": true, "timeframe": true, "warmup_bars": true, "params": true}

func findExtraKeys(generic map[string]interface{}) []ValidationError {
	var errs []ValidationError
	for k := range generic {
		if !topLevelKeys[k] {
			errs = append(errs, ValidationError{Path: k, ErrorType: "extra_key", Message: fmt.Sprintf("unknown top-level key %q", k)})
			continue
		}
		if allowed, ok := sectionKeys[k]; ok {
			if section, ok := generic[k].(map[string]interface{}); ok {
				for sk := range section {
					if !allowed[sk] {
						errs = append(errs, ValidationError{Path: k + "." + sk, ErrorType: "extra_key", Message: fmt.Sprintf("unknown key %q in %s", sk, k)})
					}
				}
			}
		}
	}
	if strategies, ok := generic["strategies"].([]interface{}); ok {
		for i, entry := range strategies {
			m, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			for sk := range m {
				if !strategyKeys[sk] {
					errs = append(errs, ValidationError{Path: fmt.Sprintf("strategies[%d].%s", i, sk), ErrorType: "extra_key", Message: fmt.Sprintf("unknown key %q in strategies[%d]", sk, i)})
				}
			}
		}
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	return errs
}

func validate(raw Raw) ValidationResult {
	var errs []ValidationError

	if raw.Risk.MaxOpenPositions < 0 {
		errs = append(errs, ValidationError{Path: "risk.max_open_positions", ErrorType: "out_of_range", Message: "must be >= 0"})
	}
	if raw.Risk.DailyLossLimitUSD < 0 {
		errs = append(errs, ValidationError{Path: "risk.daily_loss_limit_usd", ErrorType: "out_of_range", Message: "must be >= 0"})
	}
	if raw.Broker.Name == "" {
		errs = append(errs, ValidationError{Path: "broker.name", ErrorType: "missing_required", Message: "broker.name is required"})
	}
	if raw.Data.MaxStalenessSec <= 0 {
		errs = append(errs, ValidationError{Path: "data.max_staleness_sec", ErrorType: "out_of_range", Message: "must be > 0"})
	}
	if raw.Session.Timezone == "" {
		errs = append(errs, ValidationError{Path: "session.timezone", ErrorType: "missing_required", Message: "session.timezone is required"})
	}
	for i, s := range raw.Strategies {
		pathPrefix := fmt.Sprintf("strategies[%d]", i)
		if s.Name == "" {
			errs = append(errs, ValidationError{Path: pathPrefix + ".name", ErrorType: "missing_required", Message: "strategy name is required"})
		}
		if len(s.Symbols) == 0 {
			errs = append(errs, ValidationError{Path: pathPrefix + ".symbols", ErrorType: "missing_required", Message: "at least one symbol is required"})
		}
		if s.WarmupBars < 0 {
			errs = append(errs, ValidationError{Path: pathPrefix + ".warmup_bars", ErrorType: "out_of_range", Message: "must be >= 0"})
		}
	}

	return ValidationResult{OK: len(errs) == 0, Errors: errs}
}

// Frozen is an immutable, hash-verified wrapper around a validated config.
// The section accessors return copies so callers cannot mutate the frozen
// original in place; VerifyIntegrity re-hashes on demand to detect drift (spec §6,
// "Config freezing").
type Frozen struct {
	raw      Raw
	hash     string
	frozenAt time.Time
}

func freeze(raw Raw) (*Frozen, error) {
	held := deepCopy(raw)
	canonical, err := canonicalJSON(held)
	if err != nil {
		return nil, fmt.Errorf("config: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return &Frozen{raw: held, hash: hex.EncodeToString(sum[:]), frozenAt: time.Now().UTC()}, nil
}

// Hash returns the SHA-256 hash computed at freeze time.
func (f *Frozen) Hash() string { return f.hash }

// VerifyIntegrity recomputes the hash over the currently-held value and
// compares it against the one captured at freeze time. A mismatch means
// something mutated the Frozen's internals through reflection/unsafe —
// the accessors always return copies, so this should never fire in
// normal use.
func (f *Frozen) VerifyIntegrity() error {
	canonical, err := canonicalJSON(f.raw)
	if err != nil {
		return fmt.Errorf("config: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	if hex.EncodeToString(sum[:]) != f.hash {
		return fmt.Errorf("config: integrity check failed: frozen config has been mutated")
	}
	return nil
}

func (f *Frozen) Risk() RiskSection          { return f.raw.Risk }
func (f *Frozen) Broker() BrokerSection      { return f.raw.Broker }
func (f *Frozen) Data() DataSection          { return f.raw.Data }
func (f *Frozen) Session() SessionSection    { return f.raw.Session }
func (f *Frozen) Logging() LoggingSection    { return f.raw.Logging }
func (f *Frozen) Strategies() []StrategyEntry {
	return deepCopy(f.raw).Strategies
}

// canonicalJSON marshals v, decodes it back into generic maps and
// re-encodes it with every object key sorted (struct fields included),
// giving a deterministic byte sequence to hash.
func canonicalJSON(v Raw) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

func deepCopy(raw Raw) Raw {
	out := raw
	out.Strategies = make([]StrategyEntry, len(raw.Strategies))
	for i, s := range raw.Strategies {
		params := make(map[string]interface{}, len(s.Params))
		for k, v := range s.Params {
			params[k] = v
		}
		symbols := make([]string, len(s.Symbols))
		copy(symbols, s.Symbols)
		out.Strategies[i] = StrategyEntry{Name: s.Name, Type: s.Type, Symbols: symbols, Timeframe: s.Timeframe, WarmupBars: s.WarmupBars, Params: params}
	}
	return out
}
