// Package sma implements a moving average crossover strategy.
package sma

import (
	"fmt"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/indicator"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/strategy"
)

const (
	ID      = "sma_crossover"
	version = "1.1.0"
)

// Params configures the crossover
type Params struct {
	FastPeriod int `mapstructure:"fast_period" json:"fast_period" validate:"gt=0" jsonschema:"minimum=1,default=5"`
	SlowPeriod int `mapstructure:"slow_period" json:"slow_period" validate:"gtfield=FastPeriod" jsonschema:"minimum=2,default=20"`

	// ExitOnDeathCross closes the position when fast crosses below slow.
	ExitOnDeathCross bool `mapstructure:"exit_on_death_cross" json:"exit_on_death_cross" jsonschema:"default=true"`
}

func defaultParams() Params {
	return Params{FastPeriod: 5, SlowPeriod: 20, ExitOnDeathCross: true}
}

// Meta describes the strategy for the catalog
func Meta() strategy.Meta {
	return strategy.Meta{
		ID:             ID,
		Aliases:        []string{"ma_crossover", "golden_cross"},
		Name:           "SMA Crossover",
		Description:    "Buys on a golden cross of two simple moving averages and exits on the death cross",
		Version:        version,
		Timeframe:      "1d",
		DefaultSymbols: []string{"005930"},
		Category:       strategy.CategoryDaily,
		Markets:        core.AllMarkets,
		Profile:        risk.ProfileDefault,
		Params:         func() any { p := defaultParams(); return &p },
		Factory:        func() strategy.Strategy { return New() },
	}
}

// MACrossover implements a moving average crossover strategy
type MACrossover struct {
	strategy.Base
	strategy.Holdings

	params Params
	window *strategy.Window
	last   map[string]crossState
}

type crossState struct {
	fast, slow float64
}

// New creates an uninitialized crossover strategy
func New() *MACrossover {
	return &MACrossover{params: defaultParams()}
}

func (m *MACrossover) Name() string    { return ID }
func (m *MACrossover) Version() string { return version }

func (m *MACrossover) Description() string {
	return fmt.Sprintf("MA Crossover (%d/%d)", m.params.FastPeriod, m.params.SlowPeriod)
}

func (m *MACrossover) Initialize(cfg strategy.Config) error {
	p := defaultParams()
	if err := m.Setup(cfg, risk.ProfileDefault, &p); err != nil {
		return err
	}
	m.params = p
	if m.window == nil {
		m.window = strategy.NewWindow(p.SlowPeriod + 1)
	} else {
		m.window.Resize(p.SlowPeriod + 1)
	}
	m.last = make(map[string]crossState)
	return nil
}

func (m *MACrossover) OnCandle(c core.OHLCV) ([]core.Signal, error) {
	if !m.Initialized() {
		return nil, core.ErrNotInitialized
	}
	if !m.Accepts(c.Symbol) {
		return nil, nil
	}

	bars := m.window.Push(c)
	if len(bars) < m.params.SlowPeriod {
		return nil, nil // Not enough data
	}

	prices := indicator.Closes(bars)
	currFast, _ := indicator.Last(indicator.SMA(prices, m.params.FastPeriod))
	currSlow, _ := indicator.Last(indicator.SMA(prices, m.params.SlowPeriod))

	prev, seen := m.last[c.Symbol]
	m.last[c.Symbol] = crossState{fast: currFast, slow: currSlow}
	if !seen {
		return nil, nil
	}

	var signals []core.Signal
	holding := m.Holding(c.Symbol)

	// Golden Cross: fast crosses above slow
	if !holding && prev.fast <= prev.slow && currFast > currSlow {
		signals = append(signals, core.Signal{
			Symbol:   c.Symbol,
			Kind:     core.SignalEntry,
			Action:   core.ActionBuy,
			Strength: m.calculateStrength(currFast, currSlow),
			Reason:   fmt.Sprintf("Golden Cross: MA%d (%.2f) crossed above MA%d (%.2f)", m.params.FastPeriod, currFast, m.params.SlowPeriod, currSlow),
			Metadata: map[string]any{
				"fast_ma": currFast,
				"slow_ma": currSlow,
				"type":    "golden_cross",
			},
		})
	}

	// Death Cross: fast crosses below slow
	if holding && m.params.ExitOnDeathCross && prev.fast >= prev.slow && currFast < currSlow {
		signals = append(signals, core.Signal{
			Symbol:   c.Symbol,
			Kind:     core.SignalExit,
			Action:   core.ActionSell,
			Strength: m.calculateStrength(currFast, currSlow),
			Reason:   fmt.Sprintf("Death Cross: MA%d (%.2f) crossed below MA%d (%.2f)", m.params.FastPeriod, currFast, m.params.SlowPeriod, currSlow),
			Metadata: map[string]any{
				"fast_ma": currFast,
				"slow_ma": currSlow,
				"type":    "death_cross",
			},
		})
	}

	return m.Emit(ID, c.Time, signals...), nil
}

func (m *MACrossover) Status() strategy.Status {
	st := m.BaseStatus(ID, version)
	st.Details = map[string]any{
		"fast_period":  m.params.FastPeriod,
		"slow_period":  m.params.SlowPeriod,
		"open_symbols": m.HeldSymbols(),
	}
	return st
}

// calculateStrength returns higher strength for larger divergence
func (m *MACrossover) calculateStrength(fast, slow float64) float64 {
	diff := (fast - slow) / slow
	if diff < 0 {
		diff = -diff
	}

	// Scale to 0.5-0.9 range based on divergence
	strength := 0.5 + (diff * 10)
	if strength > 0.9 {
		strength = 0.9
	}
	return strength
}
