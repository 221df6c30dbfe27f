package breakout

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

func feed(t *testing.T, s *Strategy, closes []float64) []core.Signal {
	t.Helper()
	base := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	var out []core.Signal
	for i, p := range closes {
		c := decimal.NewFromFloat(p)
		sigs, err := s.OnCandle(core.OHLCV{
			Symbol: "NVDA",
			Open:   c,
			High:   c.Add(decimal.NewFromInt(1)),
			Low:    c.Sub(decimal.NewFromInt(1)),
			Close:  c,
			Time:   base.AddDate(0, 0, i),
		})
		require.NoError(t, err)
		out = append(out, sigs...)
	}
	return out
}

func newStrategy(t *testing.T, sc *stratctx.Context) *Strategy {
	t.Helper()
	s := New()
	s.SetContext(sc)
	require.NoError(t, s.Initialize(strategy.Config{"entry_period": 3, "exit_period": 2}))
	return s
}

func TestBreakout_EntryAboveChannel(t *testing.T) {
	s := newStrategy(t, stratctx.New())
	// prior highs 101, 101, 101; 103 clears the channel
	sigs := feed(t, s, []float64{100, 100, 100, 103})
	require.Len(t, sigs, 1)
	assert.Equal(t, core.SignalEntry, sigs[0].Kind)
	assert.Equal(t, risk.PresetFor(risk.ProfileMomentum), s.ExitConfig())
}

func TestBreakout_NoEntryInsideChannel(t *testing.T) {
	s := newStrategy(t, stratctx.New())
	assert.Empty(t, feed(t, s, []float64{100, 100, 100, 100.5, 101}))
}

func TestBreakout_ExitBelowChannel(t *testing.T) {
	s := newStrategy(t, stratctx.New())
	s.OnPositionUpdate(core.Position{Symbol: "NVDA", Side: core.SideLong, Quantity: decimal.NewFromInt(3), EntryPrice: decimal.NewFromInt(100)})
	// prior lows 99, 99; 97 breaks below
	sigs := feed(t, s, []float64{100, 100, 97})
	require.Len(t, sigs, 1)
	assert.Equal(t, core.SignalExit, sigs[0].Kind)
}

func TestBreakout_SkipsDowntrend(t *testing.T) {
	sc := stratctx.New()
	sc.UpdateMarketRegimes(map[string]stratctx.MarketRegime{"NVDA": stratctx.RegimeDowntrend})
	s := newStrategy(t, sc)
	assert.Empty(t, feed(t, s, []float64{100, 100, 100, 103}))
	assert.Equal(t, int64(1), s.Status().Details["skipped_entries"])
}
