// Package strategy defines the strategy contract, the purity enforcement
// that keeps strategies from holding broker references, and the lifecycle
// manager that routes bars and order events to registered strategies.
// Grounded on original_source/strategies/{base,lifecycle}.py: strategies
// return signal intent only, never touch broker/execution types directly.
package strategy

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradecore/internal/bar"
	"tradecore/internal/model"
)

// Strategy is the contract every registered strategy implements. OnBar
// returns zero or more signals; the lifecycle manager treats a nil/empty
// slice as "no intent this bar".
type Strategy interface {
	Name() string
	Symbols() []string
	WarmupBars() int
	OnInit() error
	OnBar(b bar.Bar) ([]model.Signal, error)
	OnOrderFilled(orderID, symbol string, filledQty, fillPrice decimal.Decimal) []model.Signal
	OnOrderRejected(orderID, symbol, reason string) []model.Signal
	OnStop()
}

// PurityError is raised when a strategy's struct holds a forbidden
// broker/execution-engine-shaped field. Purity means: signal intent out,
// no direct broker reference in (original_source/strategies/base.py
// StrategyPurityError).
type PurityError struct {
	Strategy string
	Field    string
	Type     string
}

func (e *PurityError) Error() string {
	return fmt.Sprintf("strategy %q holds forbidden field %q (type %s): strategies must not reference broker/execution types directly",
		e.Strategy, e.Field, e.Type)
}

// forbiddenFieldNames mirrors the original's _BROKER_ATTR_NAMES set.
var forbiddenFieldNames = map[string]bool{
	"broker": true, "Broker": true,
	"brokerconnector": true, "BrokerConnector": true,
	"executionengine": true, "ExecutionEngine": true,
	"execengine": true, "ExecEngine": true,
}

// forbiddenTypeSubstrings flags a field whose concrete/declared type name
// suggests it reaches into execution, even under an innocuous field name.
var forbiddenTypeSubstrings = []string{"broker.", "execution.Engine", "execution.Broker"}

// CheckPurity walks s's underlying struct fields by reflection and returns
// a *PurityError for the first forbidden field found, or nil. Called once
// at strategy registration time so violations surface at startup rather
// than mid-session.
func CheckPurity(s Strategy) error {
	v := reflect.ValueOf(s)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.ToLower(f.Name)
		if forbiddenFieldNames[f.Name] || forbiddenFieldNames[name] {
			if !fieldIsNilOrZero(v.Field(i)) {
				return &PurityError{Strategy: s.Name(), Field: f.Name, Type: f.Type.String()}
			}
		}
		typeName := f.Type.String()
		for _, sub := range forbiddenTypeSubstrings {
			if strings.Contains(typeName, sub) && !fieldIsNilOrZero(v.Field(i)) {
				return &PurityError{Strategy: s.Name(), Field: f.Name, Type: typeName}
			}
		}
	}
	return nil
}

func fieldIsNilOrZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return v.IsZero()
	}
}

// LifecycleManager coordinates strategy execution: start/stop, bar
// routing, order-event routing, enabled-set tracking. Strategies are
// referenced by name only; the manager never reaches back into the
// container that owns it (spec §9 wiring decision).
type LifecycleManager struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	enabled    map[string]bool
	log        zerolog.Logger
}

func NewLifecycleManager(log zerolog.Logger) *LifecycleManager {
	return &LifecycleManager{
		strategies: make(map[string]Strategy),
		enabled:    make(map[string]bool),
		log:        log.With().Str("component", "strategy_lifecycle").Logger(),
	}
}

// Add registers s after running purity enforcement. Returns a *PurityError
// if s fails the check; the strategy is not added in that case.
func (m *LifecycleManager) Add(s Strategy) error {
	if err := CheckPurity(s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.strategies[s.Name()]; exists {
		return fmt.Errorf("strategy: %q already registered", s.Name())
	}
	m.strategies[s.Name()] = s
	m.log.Info().Str("strategy", s.Name()).Strs("symbols", s.Symbols()).Msg("strategy registered")
	return nil
}

func (m *LifecycleManager) Start(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[name]
	if !ok {
		return fmt.Errorf("strategy: %q not found", name)
	}
	if err := s.OnInit(); err != nil {
		return fmt.Errorf("strategy %q on_init: %w", name, err)
	}
	m.enabled[name] = true
	m.log.Info().Str("strategy", name).Msg("strategy started")
	return nil
}

func (m *LifecycleManager) Stop(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[name]
	if !ok {
		return
	}
	s.OnStop()
	delete(m.enabled, name)
	m.log.Info().Str("strategy", name).Msg("strategy stopped")
}

func (m *LifecycleManager) EnabledStrategies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.enabled))
	for name := range m.enabled {
		out = append(out, name)
	}
	return out
}

// RoutedSignal pairs a signal with the strategy name that produced it, so
// the caller can journal and execute with full provenance.
type RoutedSignal struct {
	StrategyName string
	Signal       model.Signal
}

// OnBar routes b to every enabled strategy subscribed to its symbol. A
// strategy panic or error is logged and skipped; it never stops routing
// to the remaining strategies (original's lifecycle.py on_bar try/except).
func (m *LifecycleManager) OnBar(b bar.Bar) []RoutedSignal {
	m.mu.RLock()
	names := make([]string, 0, len(m.enabled))
	for name := range m.enabled {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var out []RoutedSignal
	for _, name := range names {
		m.mu.RLock()
		s, ok := m.strategies[name]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if !containsSymbol(s.Symbols(), b.Symbol) {
			continue
		}
		sigs, err := m.invokeOnBar(s, b)
		if err != nil {
			m.log.Error().Err(err).Str("strategy", name).Str("symbol", b.Symbol).Msg("strategy on_bar error")
			continue
		}
		for _, sig := range sigs {
			sig.Strategy = name
			out = append(out, RoutedSignal{StrategyName: name, Signal: sig})
		}
	}
	return out
}

func (m *LifecycleManager) invokeOnBar(s Strategy, b bar.Bar) (sigs []model.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.OnBar(b)
}

func containsSymbol(symbols []string, symbol string) bool {
	for _, s := range symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// OnOrderFilled and OnOrderRejected route terminal order events back to the
// originating strategy, which may emit follow-on signals (e.g. place a
// protective stop on its own entry fill).
func (m *LifecycleManager) OnOrderFilled(strategyName, orderID, symbol string, filledQty, fillPrice decimal.Decimal) []model.Signal {
	m.mu.RLock()
	s, ok := m.strategies[strategyName]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.OnOrderFilled(orderID, symbol, filledQty, fillPrice)
}

func (m *LifecycleManager) OnOrderRejected(strategyName, orderID, symbol, reason string) []model.Signal {
	m.mu.RLock()
	s, ok := m.strategies[strategyName]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.OnOrderRejected(orderID, symbol, reason)
}
