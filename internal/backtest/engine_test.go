package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stratctx "github.com/newthinker/tradecore/internal/context"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/strategy"
	"github.com/newthinker/tradecore/internal/strategy/rotation"
	"github.com/newthinker/tradecore/internal/strategy/sma"
)

// scripted emits a fixed plan of signals keyed by candle index
type scripted struct {
	strategy.Base
	strategy.Holdings

	plan    map[int][]core.Signal
	failAt  int
	delay   time.Duration
	i       int
	updates []core.Position
}

func newScripted(plan map[int][]core.Signal) *scripted {
	return &scripted{plan: plan, failAt: -1}
}

func (s *scripted) Name() string        { return "scripted" }
func (s *scripted) Version() string     { return "0.1.0" }
func (s *scripted) Description() string { return "replays a fixed signal plan" }

func (s *scripted) Initialize(cfg strategy.Config) error {
	return s.Setup(cfg, risk.ProfileDefault, nil)
}

func (s *scripted) OnCandle(c core.OHLCV) ([]core.Signal, error) {
	idx := s.i
	s.i++
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if idx == s.failAt {
		return nil, errors.New("indicator blew up")
	}
	var out []core.Signal
	for _, sig := range s.plan[idx] {
		if sig.Symbol == "" {
			sig.Symbol = c.Symbol
		}
		out = append(out, sig)
	}
	return s.Emit(s.Name(), c.Time, out...), nil
}

func (s *scripted) OnPositionUpdate(p core.Position) {
	s.updates = append(s.updates, p)
	s.Holdings.OnPositionUpdate(p)
}

func (s *scripted) Status() strategy.Status {
	return s.BaseStatus(s.Name(), s.Version())
}

var noExitRules = strategy.Config{strategy.KeyExit: map[string]any{
	"stop_loss_enabled":     false,
	"take_profit_enabled":   false,
	"trailing_stop_enabled": false,
}}

var keepOnOpposite = strategy.Config{strategy.KeyExit: map[string]any{
	"stop_loss_enabled":       false,
	"take_profit_enabled":     false,
	"exit_on_opposite_signal": false,
}}

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func candle(symbol string, i int, open, high, low, close float64) core.OHLCV {
	return core.OHLCV{
		Symbol: symbol,
		Open:   decimal.NewFromFloat(open),
		High:   decimal.NewFromFloat(high),
		Low:    decimal.NewFromFloat(low),
		Close:  decimal.NewFromFloat(close),
		Volume: decimal.NewFromInt(1000),
		Time:   day0.AddDate(0, 0, i),
	}
}

func series(symbol string, closes ...float64) []core.OHLCV {
	out := make([]core.OHLCV, len(closes))
	for i, c := range closes {
		out[i] = candle(symbol, i, c, c, c, c)
	}
	return out
}

func flat(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func entry(action core.Action, qty int64) core.Signal {
	return core.Signal{Kind: core.SignalEntry, Action: action, Quantity: decimal.NewFromInt(qty)}
}

func exit(qty int64) core.Signal {
	return core.Signal{Kind: core.SignalExit, Action: core.ActionSell, Quantity: decimal.NewFromInt(qty)}
}

func newEngine(t *testing.T, mutate ...func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func prepared(t *testing.T, s strategy.Strategy, cfg strategy.Config) strategy.Strategy {
	t.Helper()
	_, err := Prepare(s, nil, cfg)
	require.NoError(t, err)
	return s
}

func TestEngine_FlatSeriesNoSignals(t *testing.T) {
	e := newEngine(t)
	s := prepared(t, newScripted(nil), nil)

	report, err := e.Run(context.Background(), s, series("005930", flat(100, 10_000_000)...))
	require.NoError(t, err)

	require.Len(t, report.EquityCurve, 100)
	capital := decimal.NewFromInt(10_000_000)
	for i, p := range report.EquityCurve {
		assert.True(t, p.Equity.Equal(capital), "point %d: %s", i, p.Equity)
		assert.True(t, p.DrawdownPct.IsZero())
	}
	m := report.Metrics
	assert.Equal(t, 0, m.TotalTrades)
	assert.True(t, m.MaxDrawdownPct.IsZero())
	assert.True(t, m.WinRatePct.IsZero())
	assert.True(t, m.TotalReturnPct.IsZero())
	assert.True(t, m.SharpeRatio.IsZero())
	assert.True(t, m.ProfitFactor.IsZero())
}

func TestEngine_RoundTripPnL(t *testing.T) {
	e := newEngine(t)
	s := newScripted(map[int][]core.Signal{
		0:  {entry(core.ActionBuy, 10)},
		10: {exit(0)},
	})
	prepared(t, s, noExitRules)

	closes := append(flat(10, 100), 110)
	report, err := e.Run(context.Background(), s, series("TEST", closes...))
	require.NoError(t, err)
	require.Len(t, report.Trades, 1)

	tr := report.Trades[0]
	// entry 100 x 1.0005 = 100.05, exit 110 x 0.9995 = 109.945
	// commissions 100.05x10x0.00015 + 109.945x10x0.00015 = 0.3149925
	assert.Equal(t, "100.05", tr.EntryPrice.String())
	assert.Equal(t, "109.945", tr.ExitPrice.String())
	assert.Equal(t, "0.3149925", tr.Commission.String())
	assert.Equal(t, "98.6350075", tr.PnL.String())
	assert.Equal(t, core.SideLong, tr.Side)
	assert.Equal(t, day0, tr.EntryTime)
	assert.Equal(t, day0.AddDate(0, 0, 10), tr.ExitTime)

	assert.Equal(t, "10000098.6350075", report.FinalEquity().String())
	assert.Equal(t, 1, report.Metrics.WinningTrades)
	assert.Equal(t, "100", report.Metrics.WinRatePct.String())
	assert.True(t, report.Metrics.ProfitFactor.Equal(profitFactorCap))
	assert.Empty(t, report.OpenPositions)

	require.Len(t, s.updates, 2)
	assert.True(t, s.updates[0].IsOpen())
	assert.False(t, s.updates[1].IsOpen())
	assert.NotNil(t, s.updates[1].ClosedAt)
}

func TestEngine_EquityCurveConsistency(t *testing.T) {
	e := newEngine(t)
	s := newScripted(map[int][]core.Signal{
		1: {entry(core.ActionBuy, 100)},
		6: {exit(0)},
	})
	prepared(t, s, noExitRules)

	candles := series("TEST", 100, 101, 99, 95, 97, 103, 104, 102)
	report, err := e.Run(context.Background(), s, candles)
	require.NoError(t, err)

	require.Len(t, report.EquityCurve, len(candles))
	peak := decimal.NewFromFloat(DefaultConfig().InitialCapital)
	var maxDD decimal.Decimal
	for i, p := range report.EquityCurve {
		assert.False(t, p.DrawdownPct.IsNegative(), "point %d", i)
		assert.Equal(t, candles[i].Time, p.Time)
		peak = decimal.Max(peak, p.Equity)
		want := peak.Sub(p.Equity).Div(peak).Mul(hundred)
		assert.True(t, want.Equal(p.DrawdownPct), "point %d: want %s got %s", i, want, p.DrawdownPct)
		maxDD = decimal.Max(maxDD, p.DrawdownPct)
	}
	assert.True(t, maxDD.Equal(report.Metrics.MaxDrawdownPct))
	assert.True(t, maxDD.IsPositive())
}

func TestEngine_StopLossExitsBeforeStrategy(t *testing.T) {
	e := newEngine(t)
	s := newScripted(map[int][]core.Signal{0: {entry(core.ActionBuy, 10)}})
	prepared(t, s, nil) // default preset: stop-loss 2%

	candles := []core.OHLCV{
		candle("TEST", 0, 100, 100, 100, 100),
		candle("TEST", 1, 99, 99.5, 97, 98),
		candle("TEST", 2, 98, 98, 98, 98),
	}
	report, err := e.Run(context.Background(), s, candles)
	require.NoError(t, err)

	require.Len(t, report.Trades, 1)
	tr := report.Trades[0]
	assert.Equal(t, string(risk.ExitAtStop), tr.ExitReason)
	// stop level 100.05 x 0.98 = 98.049, filled with sell slippage
	assert.Equal(t, "97.9999755", tr.ExitPrice.String())
	assert.Equal(t, map[string]int{"stop_loss": 1}, report.ForcedExits)
	assert.True(t, tr.PnL.IsNegative())
	assert.False(t, s.Holding("TEST"), "strategy was told the position closed")
}

func TestEngine_RiskDisabledNeverForcesExit(t *testing.T) {
	e := newEngine(t)
	s := newScripted(map[int][]core.Signal{0: {entry(core.ActionBuy, 10)}})
	prepared(t, s, noExitRules)

	report, err := e.Run(context.Background(), s, series("TEST", 100, 50, 20))
	require.NoError(t, err)
	assert.Empty(t, report.Trades)
	require.Len(t, report.OpenPositions, 1)
	assert.Equal(t, "10", report.OpenPositions[0].Quantity.String())
}

func TestEngine_Sizing(t *testing.T) {
	e := newEngine(t)
	s := newScripted(map[int][]core.Signal{
		0: {entry(core.ActionBuy, 0)},
		1: {exit(5000)},
		2: {exit(0)},
	})
	prepared(t, s, noExitRules)

	report, err := e.Run(context.Background(), s, series("TEST", 100, 100, 100))
	require.NoError(t, err)

	// 10% of 10,000,000 at 100.05 floors to 9995 units
	require.Len(t, s.updates, 3)
	assert.Equal(t, "9995", s.updates[0].Quantity.String())
	assert.Equal(t, "4995", s.updates[1].Quantity.String())

	require.Len(t, report.Trades, 1, "partial exits fold into one trade")
	assert.Equal(t, "9995", report.Trades[0].Quantity.String())
}

func TestEngine_FractionalSizing(t *testing.T) {
	e := newEngine(t, func(c *Config) {
		c.FractionalQuantity = true
		c.SlippageRate = 0
	})
	s := newScripted(map[int][]core.Signal{0: {entry(core.ActionBuy, 0)}})
	prepared(t, s, noExitRules)

	_, err := e.Run(context.Background(), s, series("BTC", 30000))
	require.NoError(t, err)
	require.Len(t, s.updates, 1)
	assert.Equal(t, "33.33333333", s.updates[0].Quantity.String())
}

func TestEngine_SignalRules(t *testing.T) {
	tests := []struct {
		name     string
		plan     map[int][]core.Signal
		cfg      strategy.Config
		allow    bool
		trades   int
		rejected int
		reason   string
	}{
		{
			name:     "short disabled",
			plan:     map[int][]core.Signal{0: {entry(core.ActionSell, 10)}},
			cfg:      noExitRules,
			rejected: 1,
		},
		{
			name:   "short allowed",
			plan:   map[int][]core.Signal{0: {entry(core.ActionSell, 10)}, 2: {{Kind: core.SignalExit, Action: core.ActionBuy}}},
			cfg:    noExitRules,
			allow:  true,
			trades: 1,
			reason: "signal",
		},
		{
			name:     "duplicate entry",
			plan:     map[int][]core.Signal{0: {entry(core.ActionBuy, 10)}, 1: {entry(core.ActionBuy, 10)}},
			cfg:      noExitRules,
			rejected: 1,
		},
		{
			name:   "opposite entry closes",
			plan:   map[int][]core.Signal{0: {entry(core.ActionBuy, 10)}, 2: {entry(core.ActionSell, 10)}},
			cfg:    noExitRules,
			trades: 1,
			reason: "opposite_signal",
		},
		{
			name:     "opposite entry rejected",
			plan:     map[int][]core.Signal{0: {entry(core.ActionBuy, 10)}, 2: {entry(core.ActionSell, 10)}},
			cfg:      keepOnOpposite,
			rejected: 1,
		},
		{
			name:     "exit while flat",
			plan:     map[int][]core.Signal{1: {exit(0)}},
			cfg:      noExitRules,
			rejected: 1,
		},
		{
			name:     "unaffordable",
			plan:     map[int][]core.Signal{0: {entry(core.ActionBuy, 1_000_000)}},
			cfg:      noExitRules,
			rejected: 1,
		},
		{
			name:   "adjust scales in",
			plan:   map[int][]core.Signal{0: {entry(core.ActionBuy, 10)}, 1: {{Kind: core.SignalAdjust, Action: core.ActionBuy, Quantity: decimal.NewFromInt(5)}}, 2: {exit(0)}},
			cfg:    noExitRules,
			trades: 1,
			reason: "signal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, func(c *Config) { c.AllowShort = tt.allow })
			s := prepared(t, newScripted(tt.plan), tt.cfg)

			report, err := e.Run(context.Background(), s, series("TEST", 100, 100, 100, 100))
			require.NoError(t, err)
			assert.Equal(t, tt.trades, len(report.Trades))
			assert.Equal(t, tt.rejected, report.SignalsRejected)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, report.Trades[0].ExitReason)
			}
		})
	}
}

func TestEngine_ShortPnLSign(t *testing.T) {
	e := newEngine(t, func(c *Config) {
		c.AllowShort = true
		c.SlippageRate = 0
		c.CommissionRate = 0
	})
	s := newScripted(map[int][]core.Signal{
		0: {entry(core.ActionSell, 10)},
		2: {{Kind: core.SignalExit, Action: core.ActionBuy}},
	})
	prepared(t, s, noExitRules)

	report, err := e.Run(context.Background(), s, series("TEST", 100, 95, 90))
	require.NoError(t, err)
	require.Len(t, report.Trades, 1)
	assert.Equal(t, core.SideShort, report.Trades[0].Side)
	assert.Equal(t, "100", report.Trades[0].PnL.String())
	assert.Equal(t, "10000100", report.FinalEquity().String())
	// marked at 95 while short: equity up 50
	assert.Equal(t, "10000050", report.EquityCurve[1].Equity.String())
}

func TestEngine_Preconditions(t *testing.T) {
	e := newEngine(t)
	candles := series("TEST", 100, 101)

	t.Run("empty candles", func(t *testing.T) {
		s := prepared(t, newScripted(nil), nil)
		_, err := e.Run(context.Background(), s, nil)
		assert.True(t, errors.Is(err, core.ErrEmptyInput))
	})

	t.Run("duplicate timestamps", func(t *testing.T) {
		s := prepared(t, newScripted(nil), nil)
		_, err := e.Run(context.Background(), s, []core.OHLCV{candles[0], candles[0]})
		assert.True(t, errors.Is(err, core.ErrInvalidInput))
	})

	t.Run("not initialized", func(t *testing.T) {
		s := newScripted(nil)
		s.SetContext(stratctx.New())
		_, err := e.Run(context.Background(), s, candles)
		assert.True(t, errors.Is(err, core.ErrNotInitialized))
	})

	t.Run("context attached after initialize", func(t *testing.T) {
		s := newScripted(nil)
		require.NoError(t, s.Initialize(nil))
		s.SetContext(stratctx.New())
		_, err := e.Run(context.Background(), s, candles)
		assert.True(t, errors.Is(err, core.ErrContextMismatch))
	})

	t.Run("different context", func(t *testing.T) {
		s := prepared(t, newScripted(nil), nil)
		_, err := e.RunWithContext(context.Background(), s, candles, stratctx.New())
		assert.True(t, errors.Is(err, core.ErrContextMismatch))
	})

	t.Run("initialization failure", func(t *testing.T) {
		_, err := Prepare(sma.New(), nil, strategy.Config{"fast_period": 10, "slow_period": 2})
		assert.True(t, errors.Is(err, core.ErrInitializationFailed))
	})
}

func TestEngine_StrategyErrorAborts(t *testing.T) {
	e := newEngine(t)
	s := newScripted(map[int][]core.Signal{0: {entry(core.ActionBuy, 10)}})
	s.failAt = 3
	prepared(t, s, noExitRules)

	report, err := e.Run(context.Background(), s, series("TEST", flat(10, 100)...))
	assert.Nil(t, report)
	assert.True(t, errors.Is(err, core.ErrSimulationFailed))
	assert.Contains(t, err.Error(), "candle 3")
}

func TestEngine_CancelledRunFails(t *testing.T) {
	e := newEngine(t)
	s := prepared(t, newScripted(nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := e.Run(ctx, s, series("TEST", 100, 100))
	assert.Nil(t, report)
	assert.True(t, errors.Is(err, core.ErrSimulationFailed))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEngine_Deterministic(t *testing.T) {
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/6)
	}
	candles := series("005930", closes...)

	run := func() []byte {
		e := newEngine(t)
		s := prepared(t, sma.New(), strategy.Config{"fast_period": 3, "slow_period": 8})
		report, err := e.Run(context.Background(), s, candles)
		require.NoError(t, err)
		require.NotZero(t, report.Metrics.TotalTrades)
		out, err := json.Marshal(report)
		require.NoError(t, err)
		return out
	}
	assert.Equal(t, string(run()), string(run()))
}

func TestEngine_RunWithContext(t *testing.T) {
	sc := stratctx.New()
	sc.UpdateGlobalScores(map[string]stratctx.GlobalScore{
		"A": {Ticker: "A", Score: 90},
		"B": {Ticker: "B", Score: 40},
	})
	s := rotation.New()
	_, err := Prepare(s, sc, strategy.Config{"top_n": 1, "min_score": 50, "symbols": []string{"A", "B"}})
	require.NoError(t, err)

	var candles []core.OHLCV
	for i := range 40 {
		candles = append(candles, candle("A", i, 100, 100, 100, 100), candle("B", i, 50, 50, 50, 50))
	}
	before := sc.Version()

	report, err := newEngine(t).RunWithContext(context.Background(), s, candles, sc)
	require.NoError(t, err)
	assert.Len(t, report.EquityCurve, len(candles))
	assert.Equal(t, []string{"A", "B"}, report.Symbols)
	require.Len(t, report.OpenPositions, 1)
	assert.Equal(t, "A", report.OpenPositions[0].Symbol)
	assert.Equal(t, before, sc.Version(), "replay never writes the context")
}
