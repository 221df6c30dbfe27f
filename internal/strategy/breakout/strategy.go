// Package breakout implements a channel breakout momentum strategy.
package breakout

import (
	"fmt"

	stratctx "github.com/newthinker/tradecore/internal/context"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/indicator"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/strategy"
)

const (
	ID      = "channel_breakout"
	version = "1.0.0"
)

// Params configures the channels
type Params struct {
	EntryPeriod int `mapstructure:"entry_period" json:"entry_period" validate:"gte=2" jsonschema:"minimum=2,default=20"`
	ExitPeriod  int `mapstructure:"exit_period" json:"exit_period" validate:"gte=2" jsonschema:"minimum=2,default=10"`

	// SkipDowntrend suppresses entries for symbols in a downtrend regime.
	SkipDowntrend bool `mapstructure:"skip_downtrend" json:"skip_downtrend" jsonschema:"default=true"`
}

func defaultParams() Params {
	return Params{EntryPeriod: 20, ExitPeriod: 10, SkipDowntrend: true}
}

// Meta describes the strategy for the catalog
func Meta() strategy.Meta {
	return strategy.Meta{
		ID:             ID,
		Aliases:        []string{"breakout", "donchian"},
		Name:           "Channel Breakout",
		Description:    "Buys a close above the prior high channel and exits below the prior low channel",
		Version:        version,
		Timeframe:      "1d",
		DefaultSymbols: []string{"AAPL", "NVDA"},
		Category:       strategy.CategoryDaily,
		Markets:        core.AllMarkets,
		Profile:        risk.ProfileMomentum,
		Params:         func() any { p := defaultParams(); return &p },
		Factory:        func() strategy.Strategy { return New() },
	}
}

// Strategy trades channel breakouts
type Strategy struct {
	strategy.Base
	strategy.Holdings

	params  Params
	window  *strategy.Window
	skipped int64
}

// New creates an uninitialized breakout strategy
func New() *Strategy {
	return &Strategy{params: defaultParams()}
}

func (s *Strategy) Name() string    { return ID }
func (s *Strategy) Version() string { return version }

func (s *Strategy) Description() string {
	return fmt.Sprintf("Breakout %d/%d", s.params.EntryPeriod, s.params.ExitPeriod)
}

func (s *Strategy) Initialize(cfg strategy.Config) error {
	p := defaultParams()
	if err := s.Setup(cfg, risk.ProfileMomentum, &p); err != nil {
		return err
	}
	s.params = p
	size := max(p.EntryPeriod, p.ExitPeriod) + 1
	if s.window == nil {
		s.window = strategy.NewWindow(size)
	} else {
		s.window.Resize(size)
	}
	return nil
}

func (s *Strategy) OnCandle(c core.OHLCV) ([]core.Signal, error) {
	if !s.Initialized() {
		return nil, core.ErrNotInitialized
	}
	if !s.Accepts(c.Symbol) {
		return nil, nil
	}

	bars := s.window.Push(c)
	prior := bars[:len(bars)-1]
	px := c.Close.InexactFloat64()

	if s.Holding(c.Symbol) {
		if len(prior) < s.params.ExitPeriod {
			return nil, nil
		}
		low := indicator.Lowest(indicator.Lows(prior), s.params.ExitPeriod)
		if px >= low {
			return nil, nil
		}
		return s.Emit(ID, c.Time, core.Signal{
			Symbol:   c.Symbol,
			Kind:     core.SignalExit,
			Action:   core.ActionSell,
			Strength: 0.7,
			Reason:   fmt.Sprintf("close %.2f below %d-bar low %.2f", px, s.params.ExitPeriod, low),
		}), nil
	}

	if len(prior) < s.params.EntryPeriod {
		return nil, nil
	}
	high := indicator.Highest(indicator.Highs(prior), s.params.EntryPeriod)
	if px <= high {
		return nil, nil
	}
	if s.params.SkipDowntrend {
		if ctx := s.Context(); ctx != nil {
			if regime, ok := ctx.MarketRegime(c.Symbol); ok && regime == stratctx.RegimeDowntrend {
				s.skipped++
				return nil, nil
			}
		}
	}
	return s.Emit(ID, c.Time, core.Signal{
		Symbol:   c.Symbol,
		Kind:     core.SignalEntry,
		Action:   core.ActionBuy,
		Strength: min(1, 0.5+(px-high)/high*10),
		Reason:   fmt.Sprintf("close %.2f above %d-bar high %.2f", px, s.params.EntryPeriod, high),
		Metadata: map[string]any{"channel_high": high},
	}), nil
}

func (s *Strategy) Status() strategy.Status {
	st := s.BaseStatus(ID, version)
	st.Details = map[string]any{
		"entry_period":    s.params.EntryPeriod,
		"exit_period":     s.params.ExitPeriod,
		"skipped_entries": s.skipped,
		"open_symbols":    s.HeldSymbols(),
	}
	return st
}
