package rsi

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stratctx "github.com/newthinker/tradecore/internal/context"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/strategy"
)

var _ strategy.Strategy = (*Strategy)(nil)

func run(t *testing.T, s *Strategy, prices []float64) []core.Signal {
	t.Helper()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var all []core.Signal
	for i, p := range prices {
		px := decimal.NewFromFloat(p)
		sigs, err := s.OnCandle(core.OHLCV{Symbol: "005930", Open: px, High: px, Low: px, Close: px, Time: base.AddDate(0, 0, i)})
		require.NoError(t, err)
		all = append(all, sigs...)
	}
	return all
}

func setup(t *testing.T, sc *stratctx.Context, cfg strategy.Config) *Strategy {
	t.Helper()
	s := New()
	s.SetContext(sc)
	require.NoError(t, s.Initialize(cfg))
	return s
}

var falling = []float64{100, 98, 96, 94, 92}

func TestRSI_EntryOnOversold(t *testing.T) {
	s := setup(t, stratctx.New(), strategy.Config{"period": 3})
	sigs := run(t, s, falling)
	require.NotEmpty(t, sigs)
	assert.Equal(t, core.SignalEntry, sigs[0].Kind)
	assert.Equal(t, core.ActionBuy, sigs[0].Action)
	assert.Equal(t, risk.PresetFor(risk.ProfileMeanReversion), s.ExitConfig())
}

func TestRSI_ExitWhenOverbought(t *testing.T) {
	s := setup(t, stratctx.New(), strategy.Config{"period": 3})
	s.OnPositionUpdate(core.Position{Symbol: "005930", Side: core.SideLong, Quantity: decimal.NewFromInt(5), EntryPrice: decimal.NewFromInt(90)})

	sigs := run(t, s, []float64{90, 92, 94, 96, 98})
	require.NotEmpty(t, sigs)
	for _, sig := range sigs {
		assert.Equal(t, core.SignalExit, sig.Kind)
	}
}

func TestRSI_ContextFilters(t *testing.T) {
	sc := stratctx.New()
	sc.UpdateGlobalScores(map[string]stratctx.GlobalScore{"005930": {Ticker: "005930", Score: 40}})

	s := setup(t, sc, strategy.Config{"period": 3, "min_global_score": 50})
	assert.Empty(t, run(t, s, falling), "low global score blocks entries")
	assert.Positive(t, s.Status().Details["filtered_entries"])

	sc.UpdateGlobalScores(map[string]stratctx.GlobalScore{"005930": {Ticker: "005930", Score: 75}})
	sc.UpdateRouteStates(map[string]stratctx.RouteState{"005930": stratctx.RouteWait})
	s = setup(t, sc, strategy.Config{"period": 3, "min_global_score": 50, "enable_route_filter": true})
	assert.Empty(t, run(t, s, falling), "non-tradable route state blocks entries")

	sc.UpdateRouteStates(map[string]stratctx.RouteState{"005930": stratctx.RouteArmed})
	s = setup(t, sc, strategy.Config{"period": 3, "min_global_score": 50, "enable_route_filter": true})
	assert.NotEmpty(t, run(t, s, falling))
}

func TestRSI_InvalidThresholds(t *testing.T) {
	s := New()
	s.SetContext(stratctx.New())
	assert.Error(t, s.Initialize(strategy.Config{"oversold": 70, "overbought": 30}))
}
