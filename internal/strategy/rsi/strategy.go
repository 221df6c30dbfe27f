// Package rsi implements an RSI mean-reversion strategy with optional
// global-score and route-state filters.
package rsi

import (
	"fmt"
	"maps"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/indicator"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/strategy"
)

const (
	ID      = "rsi_mean_reversion"
	version = "1.0.0"
)

// Params configures the strategy
type Params struct {
	Period     int     `mapstructure:"period" json:"period" validate:"gte=2" jsonschema:"minimum=2,default=14"`
	Oversold   float64 `mapstructure:"oversold" json:"oversold" validate:"gt=0,lt=100" jsonschema:"default=30"`
	Overbought float64 `mapstructure:"overbought" json:"overbought" validate:"gtfield=Oversold,lt=100" jsonschema:"default=70"`

	// MinGlobalScore skips entries for symbols scored below it. Zero disables.
	MinGlobalScore    float64 `mapstructure:"min_global_score" json:"min_global_score" validate:"gte=0,lte=100"`
	EnableRouteFilter bool    `mapstructure:"enable_route_filter" json:"enable_route_filter"`
}

func defaultParams() Params {
	return Params{Period: 14, Oversold: 30, Overbought: 70}
}

// Meta describes the strategy for the catalog
func Meta() strategy.Meta {
	return strategy.Meta{
		ID:                  ID,
		Aliases:             []string{"rsi"},
		Name:                "RSI Mean Reversion",
		Description:         "Buys oversold RSI readings and exits once RSI recovers above the overbought level",
		Version:             version,
		Timeframe:           "1d",
		SecondaryTimeframes: []string{"1h"},
		DefaultSymbols:      []string{"005930", "000660"},
		Category:            strategy.CategoryDaily,
		Markets:             core.AllMarkets,
		Profile:             risk.ProfileMeanReversion,
		Params:              func() any { p := defaultParams(); return &p },
		Factory:             func() strategy.Strategy { return New() },
	}
}

// Strategy buys weakness and sells strength
type Strategy struct {
	strategy.Base
	strategy.Holdings

	params     Params
	window     *strategy.Window
	lastRSI    map[string]float64
	filtered   int64
	lastFilter string
}

// New creates an uninitialized RSI strategy
func New() *Strategy {
	return &Strategy{params: defaultParams()}
}

func (s *Strategy) Name() string    { return ID }
func (s *Strategy) Version() string { return version }

func (s *Strategy) Description() string {
	return fmt.Sprintf("RSI(%d) %.0f/%.0f", s.params.Period, s.params.Oversold, s.params.Overbought)
}

func (s *Strategy) Initialize(cfg strategy.Config) error {
	p := defaultParams()
	if err := s.Setup(cfg, risk.ProfileMeanReversion, &p); err != nil {
		return err
	}
	s.params = p
	// RSI is smoothed over the whole window
	size := p.Period * 4
	if s.window == nil {
		s.window = strategy.NewWindow(size)
	} else {
		s.window.Resize(size)
	}
	s.lastRSI = make(map[string]float64)
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
	rsi, ok := indicator.Last(indicator.RSI(indicator.Closes(bars), s.params.Period))
	if !ok {
		return nil, nil
	}
	s.lastRSI[c.Symbol] = rsi

	if s.Holding(c.Symbol) {
		if rsi >= s.params.Overbought {
			return s.Emit(ID, c.Time, core.Signal{
				Symbol:   c.Symbol,
				Kind:     core.SignalExit,
				Action:   core.ActionSell,
				Strength: strength(rsi - s.params.Overbought),
				Reason:   fmt.Sprintf("RSI %.1f above %.0f", rsi, s.params.Overbought),
				Metadata: map[string]any{"rsi": rsi},
			}), nil
		}
		return nil, nil
	}

	if rsi > s.params.Oversold {
		return nil, nil
	}
	if reason, blocked := s.blocked(c.Symbol); blocked {
		s.filtered++
		s.lastFilter = c.Symbol + ": " + reason
		return nil, nil
	}
	return s.Emit(ID, c.Time, core.Signal{
		Symbol:   c.Symbol,
		Kind:     core.SignalEntry,
		Action:   core.ActionBuy,
		Strength: strength(s.params.Oversold - rsi),
		Reason:   fmt.Sprintf("RSI %.1f below %.0f", rsi, s.params.Oversold),
		Metadata: map[string]any{"rsi": rsi},
	}), nil
}

// blocked applies the context filters. Missing analytics never block.
func (s *Strategy) blocked(symbol string) (string, bool) {
	ctx := s.Context()
	if ctx == nil {
		return "", false
	}
	if s.params.MinGlobalScore > 0 {
		if score, ok := ctx.GlobalScore(symbol); ok && score.Score < s.params.MinGlobalScore {
			return fmt.Sprintf("global score %.1f below %.1f", score.Score, s.params.MinGlobalScore), true
		}
	}
	if s.params.EnableRouteFilter {
		if state, ok := ctx.RouteState(symbol); ok && !state.Tradable() {
			return fmt.Sprintf("route state %s", state), true
		}
	}
	return "", false
}

func (s *Strategy) Status() strategy.Status {
	st := s.BaseStatus(ID, version)
	st.Details = map[string]any{
		"period":           s.params.Period,
		"last_rsi":         maps.Clone(s.lastRSI),
		"filtered_entries": s.filtered,
		"last_filter":      s.lastFilter,
		"open_symbols":     s.HeldSymbols(),
	}
	return st
}

// strength maps the distance past a threshold into 0.5-1.0
func strength(distance float64) float64 {
	v := 0.5 + distance/40
	if v > 1 {
		return 1
	}
	return v
}
