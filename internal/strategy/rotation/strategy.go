// Package rotation implements a monthly rotation into the symbols with the
// best global score.
package rotation

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/strategy"
)

const (
	ID      = "score_rotation"
	version = "1.0.0"
)

// Params configures the rotation
type Params struct {
	TopN     int     `mapstructure:"top_n" json:"top_n" validate:"gte=1" jsonschema:"minimum=1,default=3"`
	MinScore float64 `mapstructure:"min_score" json:"min_score" validate:"gte=0,lte=100" jsonschema:"default=60"`
}

func defaultParams() Params {
	return Params{TopN: 3, MinScore: 60}
}

// Meta describes the strategy for the catalog
func Meta() strategy.Meta {
	return strategy.Meta{
		ID:             ID,
		Aliases:        []string{"rotation", "rebalance"},
		Name:           "Score Rotation",
		Description:    "Holds the top ranked symbols by global score and rebalances once a month",
		Version:        version,
		Timeframe:      "1d",
		DefaultSymbols: []string{"005930", "000660", "035420", "051910", "006400"},
		Category:       strategy.CategoryMonthly,
		Markets:        []core.MarketType{core.MarketKR, core.MarketUS},
		Profile:        risk.ProfileRebalancing,
		Params:         func() any { p := defaultParams(); return &p },
		Factory:        func() strategy.Strategy { return New() },
	}
}

// Strategy rotates monthly
type Strategy struct {
	strategy.Base
	strategy.Holdings

	params     Params
	lastPeriod map[string]int
	selected   []string
}

// New creates an uninitialized rotation strategy
func New() *Strategy {
	return &Strategy{params: defaultParams()}
}

func (s *Strategy) Name() string    { return ID }
func (s *Strategy) Version() string { return version }

func (s *Strategy) Description() string {
	return fmt.Sprintf("Top %d by global score (min %.0f), monthly", s.params.TopN, s.params.MinScore)
}

// Initialize requires a bound context since ranking reads global scores
func (s *Strategy) Initialize(cfg strategy.Config) error {
	if s.Context() == nil {
		return core.Errorf(core.ErrContextMismatch, "%s needs a strategy context", ID)
	}
	p := defaultParams()
	if err := s.Setup(cfg, risk.ProfileRebalancing, &p); err != nil {
		return err
	}
	s.params = p
	s.lastPeriod = make(map[string]int)
	s.selected = nil
	return nil
}

func (s *Strategy) OnCandle(c core.OHLCV) ([]core.Signal, error) {
	if !s.Initialized() {
		return nil, core.ErrNotInitialized
	}
	if !s.Accepts(c.Symbol) {
		return nil, nil
	}

	period := c.Time.Year()*12 + int(c.Time.Month())
	if last, ok := s.lastPeriod[c.Symbol]; ok && last == period {
		return nil, nil
	}
	s.lastPeriod[c.Symbol] = period

	s.selected = s.rank()
	rank := slices.Index(s.selected, c.Symbol)
	held := s.Holding(c.Symbol)

	switch {
	case rank >= 0 && !held:
		return s.Emit(ID, c.Time, core.Signal{
			Symbol:   c.Symbol,
			Kind:     core.SignalEntry,
			Action:   core.ActionBuy,
			Strength: 1 - float64(rank)/float64(2*s.params.TopN),
			Reason:   fmt.Sprintf("ranked #%d by global score", rank+1),
			Metadata: map[string]any{"rank": rank + 1},
		}), nil
	case rank < 0 && held:
		return s.Emit(ID, c.Time, core.Signal{
			Symbol:   c.Symbol,
			Kind:     core.SignalExit,
			Action:   core.ActionSell,
			Strength: 0.7,
			Reason:   "dropped out of the top ranks",
		}), nil
	}
	return nil, nil
}

// rank returns the top symbols of the universe, best first. The universe is
// the configured symbols, or every scored symbol when none are configured.
func (s *Strategy) rank() []string {
	scores := s.Context().GlobalScores()
	universe := slices.Clone(s.Symbols())
	if len(universe) == 0 {
		for sym := range scores {
			universe = append(universe, sym)
		}
	}

	type scored struct {
		symbol string
		score  float64
	}
	var cands []scored
	for _, sym := range universe {
		if gs, ok := scores[sym]; ok && gs.Score >= s.params.MinScore {
			cands = append(cands, scored{sym, gs.Score})
		}
	}
	slices.SortFunc(cands, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.symbol, b.symbol)
	})

	out := make([]string, 0, s.params.TopN)
	for _, c := range cands[:min(len(cands), s.params.TopN)] {
		out = append(out, c.symbol)
	}
	return out
}

func (s *Strategy) Status() strategy.Status {
	st := s.BaseStatus(ID, version)
	st.Details = map[string]any{
		"top_n":        s.params.TopN,
		"min_score":    s.params.MinScore,
		"selected":     slices.Clone(s.selected),
		"open_symbols": s.HeldSymbols(),
	}
	return st
}
