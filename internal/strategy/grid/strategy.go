// Package grid implements a scale-in grid strategy. It buys a first level
// after a pullback from the recent high, adds a level on every further
// drop of one spacing and sells one level back on each rebound.
package grid

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/strategy"
)

const (
	ID      = "grid_trading"
	version = "1.0.0"
)

// Params configures the grid
type Params struct {
	SpacingPct float64 `mapstructure:"spacing_pct" json:"spacing_pct" validate:"gt=0,lt=50" jsonschema:"default=2"`
	Levels     int     `mapstructure:"levels" json:"levels" validate:"gte=1,lte=20" jsonschema:"minimum=1,default=5"`

	// LevelQuantity is the size of one grid level. Zero lets the executor size it.
	LevelQuantity float64 `mapstructure:"level_quantity" json:"level_quantity" validate:"gte=0"`
}

func defaultParams() Params {
	return Params{SpacingPct: 2, Levels: 5}
}

// Meta describes the strategy for the catalog
func Meta() strategy.Meta {
	return strategy.Meta{
		ID:             ID,
		Aliases:        []string{"grid"},
		Name:           "Grid Trading",
		Description:    "Scales into pullbacks in fixed percentage steps and sells one level per rebound",
		Version:        version,
		Timeframe:      "15m",
		DefaultSymbols: []string{"BTC-USDT"},
		Category:       strategy.CategoryIntraday,
		Markets:        []core.MarketType{core.MarketCrypto, core.MarketKR},
		Profile:        risk.ProfileGrid,
		Params:         func() any { p := defaultParams(); return &p },
		Factory:        func() strategy.Strategy { return New() },
	}
}

type ladder struct {
	anchor  float64 // highest close while flat
	lastBuy float64
	levels  int
}

// Strategy is a long-only grid
type Strategy struct {
	strategy.Base
	strategy.Holdings

	params Params
	books  map[string]*ladder
}

// New creates an uninitialized grid strategy
func New() *Strategy {
	return &Strategy{params: defaultParams()}
}

func (s *Strategy) Name() string    { return ID }
func (s *Strategy) Version() string { return version }

func (s *Strategy) Description() string {
	return fmt.Sprintf("Grid %.1f%% x%d", s.params.SpacingPct, s.params.Levels)
}

func (s *Strategy) Initialize(cfg strategy.Config) error {
	p := defaultParams()
	if err := s.Setup(cfg, risk.ProfileGrid, &p); err != nil {
		return err
	}
	s.params = p
	s.books = make(map[string]*ladder)
	return nil
}

func (s *Strategy) OnCandle(c core.OHLCV) ([]core.Signal, error) {
	if !s.Initialized() {
		return nil, core.ErrNotInitialized
	}
	if !s.Accepts(c.Symbol) {
		return nil, nil
	}

	px := c.Close.InexactFloat64()
	step := s.params.SpacingPct / 100
	b, ok := s.books[c.Symbol]
	if !ok {
		b = &ladder{anchor: px}
		s.books[c.Symbol] = b
	}

	held := s.Holding(c.Symbol)
	if !held && b.levels > 0 {
		// closed outside the grid, e.g. by a stop
		*b = ladder{anchor: px}
	}

	switch {
	case !held:
		if px > b.anchor {
			b.anchor = px
			return nil, nil
		}
		if px > b.anchor*(1-step) {
			return nil, nil
		}
		b.levels, b.lastBuy = 1, px
		return s.Emit(ID, c.Time, s.buy(c, core.SignalEntry, b)), nil

	case px <= b.lastBuy*(1-step) && b.levels < s.params.Levels:
		b.levels++
		b.lastBuy = px
		return s.Emit(ID, c.Time, s.buy(c, core.SignalAdjust, b)), nil

	case px >= b.lastBuy*(1+step):
		qty := s.levelQuantity(c.Symbol, b.levels)
		b.levels--
		b.lastBuy = px / (1 + step)
		if b.levels <= 0 {
			*b = ladder{anchor: px}
			qty = decimal.Zero
		}
		return s.Emit(ID, c.Time, core.Signal{
			Symbol:   c.Symbol,
			Kind:     core.SignalExit,
			Action:   core.ActionSell,
			Quantity: qty,
			Strength: 0.6,
			Reason:   fmt.Sprintf("grid rebound to %.2f", px),
			Metadata: map[string]any{"levels": b.levels},
		}), nil
	}
	return nil, nil
}

func (s *Strategy) buy(c core.OHLCV, kind core.SignalKind, b *ladder) core.Signal {
	return core.Signal{
		Symbol:   c.Symbol,
		Kind:     kind,
		Action:   core.ActionBuy,
		Quantity: decimal.NewFromFloat(s.params.LevelQuantity),
		Strength: 0.5 + 0.5*float64(b.levels)/float64(s.params.Levels),
		Reason:   fmt.Sprintf("grid level %d/%d at %s", b.levels, s.params.Levels, c.Close),
		Metadata: map[string]any{"level": b.levels},
	}
}

// levelQuantity is one level's share of the open position. Zero closes it.
func (s *Strategy) levelQuantity(symbol string, levels int) decimal.Decimal {
	if levels <= 1 {
		return decimal.Zero
	}
	if s.params.LevelQuantity > 0 {
		return decimal.NewFromFloat(s.params.LevelQuantity)
	}
	return s.Quantity(symbol).Div(decimal.NewFromInt(int64(levels))).Floor()
}

func (s *Strategy) Status() strategy.Status {
	st := s.BaseStatus(ID, version)
	levels := make(map[string]int, len(s.books))
	for sym, b := range s.books {
		levels[sym] = b.levels
	}
	st.Details = map[string]any{
		"spacing_pct":  s.params.SpacingPct,
		"max_levels":   s.params.Levels,
		"levels":       levels,
		"open_symbols": s.HeldSymbols(),
	}
	return st
}
