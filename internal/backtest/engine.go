// Package backtest replays candles through a strategy, simulates fills with
// commission and slippage, enforces exit rules and reports performance.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	stratctx "github.com/newthinker/tradecore/internal/context"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/strategy"
)

// ProgressFunc is called after each processed candle
type ProgressFunc func(done, total int)

// Engine runs simulations. It holds no per-run state, so one Engine may
// run many simulations concurrently.
type Engine struct {
	cfg       Config
	evaluator *risk.Evaluator
	logger    *zap.Logger
	progress  ProgressFunc
}

// NewEngine validates cfg and creates an engine
func NewEngine(cfg Config, logger ...*zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	}
	return &Engine{cfg: cfg, evaluator: risk.NewEvaluator(), logger: l}, nil
}

// Config returns the simulation parameters
func (e *Engine) Config() Config {
	return e.cfg
}

// WithProgress returns a copy of the engine reporting progress to fn
func (e *Engine) WithProgress(fn ProgressFunc) *Engine {
	cp := *e
	cp.progress = fn
	return &cp
}

// Prepare attaches sc (a fresh context when nil) to s and initializes it
// with params. The context always goes in before Initialize.
func Prepare(s strategy.Strategy, sc *stratctx.Context, params strategy.Config) (*stratctx.Context, error) {
	if sc == nil {
		sc = stratctx.New()
	}
	s.SetContext(sc)
	if err := s.Initialize(params); err != nil {
		return nil, core.WrapError(core.ErrInitializationFailed, err)
	}
	return sc, nil
}

// Run replays candles through a strategy that was prepared with its own
// context.
func (e *Engine) Run(ctx context.Context, s strategy.Strategy, candles []core.OHLCV) (*Report, error) {
	return e.run(ctx, s, candles, nil)
}

// RunWithContext replays candles through a strategy bound to sc, so it can
// read cross-sectional analytics during the replay. The strategy must have
// been initialized after sc was attached.
func (e *Engine) RunWithContext(ctx context.Context, s strategy.Strategy, candles []core.OHLCV, sc *stratctx.Context) (*Report, error) {
	if sc == nil {
		return nil, core.Errorf(core.ErrContextMismatch, "nil strategy context")
	}
	return e.run(ctx, s, candles, sc)
}

// simulation is the mutable state of one run
type simulation struct {
	e         *Engine
	strat     strategy.Strategy
	listener  strategy.PositionListener
	exit      risk.ExitConfig
	pf        *Portfolio
	lastClose map[string]decimal.Decimal
	generated int
	rejected  int
	forced    map[string]int
}

func (e *Engine) run(ctx context.Context, s strategy.Strategy, candles []core.OHLCV, sc *stratctx.Context) (*Report, error) {
	if s == nil {
		return nil, core.Errorf(core.ErrInvalidInput, "nil strategy")
	}
	if err := core.ValidateSeries(candles); err != nil {
		return nil, err
	}
	st := s.Status()
	if !st.Initialized {
		return nil, core.Errorf(core.ErrNotInitialized, "strategy %s must be initialized before a run", s.Name())
	}
	if !st.ContextBound {
		return nil, core.Errorf(core.ErrContextMismatch, "strategy %s was initialized without its current context", s.Name())
	}
	if sc != nil && s.Context() != sc {
		return nil, core.Errorf(core.ErrContextMismatch, "strategy %s is bound to a different context", s.Name())
	}

	sim := &simulation{
		e:         e,
		strat:     s,
		exit:      s.ExitConfig(),
		pf:        newPortfolio(e.cfg.decimals()),
		lastClose: make(map[string]decimal.Decimal),
		forced:    make(map[string]int),
	}
	sim.listener, _ = s.(strategy.PositionListener)

	started := time.Now()
	curve, err := sim.replay(ctx, candles)
	if err != nil {
		e.logger.Warn("backtest failed",
			zap.String("strategy", s.Name()),
			zap.Int("candles", len(candles)),
			zap.Error(err))
		return nil, err
	}
	trades := sim.pf.Trades()
	report := &Report{
		Strategy:         s.Name(),
		StrategyVersion:  s.Version(),
		Symbols:          symbolsOf(candles),
		Start:            candles[0].Time,
		End:              candles[len(candles)-1].Time,
		Candles:          len(candles),
		Config:           e.cfg,
		ExitConfig:       sim.exit,
		EquityCurve:      curve,
		Trades:           append([]Trade(nil), trades...),
		OpenPositions:    sim.pf.OpenPositions(),
		Metrics:          calculateMetrics(e.cfg, curve, trades),
		SignalsGenerated: sim.generated,
		SignalsRejected:  sim.rejected,
	}
	if len(sim.forced) > 0 {
		report.ForcedExits = sim.forced
	}

	e.logger.Debug("backtest completed",
		zap.String("strategy", s.Name()),
		zap.Int("candles", len(candles)),
		zap.Int("trades", report.Metrics.TotalTrades),
		zap.String("total_return_pct", report.Metrics.TotalReturnPct.StringFixed(2)),
		zap.Duration("elapsed", time.Since(started)))
	return report, nil
}

func (sim *simulation) replay(ctx context.Context, candles []core.OHLCV) ([]EquityPoint, error) {
	curve := make([]EquityPoint, 0, len(candles))
	peak := sim.pf.p.capital

	for i, c := range candles {
		if err := ctx.Err(); err != nil {
			return nil, core.WrapError(core.ErrSimulationFailed, err)
		}

		sim.lastClose[c.Symbol] = c.Close
		sim.pf.Mark(c.Symbol, c.Close)

		if err := sim.checkExit(c); err != nil {
			return nil, candleError(i, c, err)
		}

		signals, err := sim.strat.OnCandle(c)
		if err != nil {
			return nil, candleError(i, c, err)
		}
		for _, sig := range signals {
			sim.generated++
			if err := sim.apply(sig, c); err != nil {
				if errors.Is(err, core.ErrFillRejected) {
					sim.rejected++
					sim.e.logger.Debug("signal rejected",
						zap.String("symbol", sig.Symbol),
						zap.String("kind", string(sig.Kind)),
						zap.Time("at", c.Time),
						zap.Error(err))
					continue
				}
				return nil, candleError(i, c, err)
			}
		}

		equity := sim.pf.Equity()
		if equity.GreaterThan(peak) {
			peak = equity
		}
		dd := decimal.Zero
		if peak.IsPositive() && equity.LessThan(peak) {
			dd = peak.Sub(equity).Div(peak).Mul(hundred)
		}
		curve = append(curve, EquityPoint{Time: c.Time, Equity: equity, DrawdownPct: dd})

		if sim.e.progress != nil {
			sim.e.progress(i+1, len(candles))
		}
	}
	return curve, nil
}

func candleError(i int, c core.OHLCV, err error) error {
	return core.WrapError(core.ErrSimulationFailed,
		fmt.Errorf("candle %d (%s %s): %w", i, c.Symbol, c.Time.Format(time.RFC3339), err))
}

// checkExit runs the exit rules for the candle's symbol before the strategy
// sees the candle.
func (sim *simulation) checkExit(c core.OHLCV) error {
	pos := sim.pf.live(c.Symbol)
	if pos == nil {
		return nil
	}
	d := sim.e.evaluator.Evaluate(pos, c, sim.exit)
	if !d.ShouldExit() {
		return nil
	}
	sim.forced[string(d.Action)]++
	return sim.reduce(c.Symbol, decimal.Zero, d.Price, c.Time, string(d.Action))
}

// apply simulates the fill of one signal
func (sim *simulation) apply(sig core.Signal, c core.OHLCV) error {
	price := sig.Price
	if !price.IsPositive() {
		price = sim.lastClose[sig.Symbol]
	}
	if !price.IsPositive() {
		return core.Errorf(core.ErrFillRejected, "%s: no price seen yet", sig.Symbol)
	}

	pos, held := sim.pf.Position(sig.Symbol)
	side := core.SideFor(sig.Action)

	switch {
	case sig.Kind == core.SignalExit:
		if !held {
			return core.Errorf(core.ErrFillRejected, "%s: exit without a position", sig.Symbol)
		}
		return sim.reduce(sig.Symbol, sig.Quantity, price, c.Time, reasonOr(sig.Reason, "signal"))

	case sig.Kind == core.SignalAdjust && held:
		if side != pos.Side {
			return sim.reduce(sig.Symbol, sig.Quantity, price, c.Time, reasonOr(sig.Reason, "adjust"))
		}
		return sim.open(sig, side, price, c.Time)

	case held && side == pos.Side:
		return core.Errorf(core.ErrFillRejected, "%s: %s position already open", sig.Symbol, pos.Side)

	case held:
		if !sim.exit.ExitOnOppositeSignal {
			return core.Errorf(core.ErrFillRejected, "%s: opposite entry while %s", sig.Symbol, pos.Side)
		}
		return sim.reduce(sig.Symbol, decimal.Zero, price, c.Time, "opposite_signal")
	}

	return sim.open(sig, side, price, c.Time)
}

func (sim *simulation) open(sig core.Signal, side core.Side, price decimal.Decimal, at time.Time) error {
	if side == core.SideShort && !sim.e.cfg.AllowShort {
		if _, held := sim.pf.Position(sig.Symbol); !held {
			return core.Errorf(core.ErrFillRejected, "%s: short selling disabled", sig.Symbol)
		}
	}
	qty := sig.Quantity
	if !qty.IsPositive() {
		qty = sim.size(sig.Action, price)
	}
	pos, err := sim.pf.Open(sig.Symbol, side, qty, price, at)
	if err != nil {
		return err
	}
	sim.notify(pos)
	return nil
}

func (sim *simulation) reduce(symbol string, qty, price decimal.Decimal, at time.Time, reason string) error {
	pos, _, err := sim.pf.Reduce(symbol, qty, price, at, reason)
	if err != nil {
		return err
	}
	sim.notify(pos)
	return nil
}

func (sim *simulation) notify(pos core.Position) {
	if sim.listener != nil {
		sim.listener.OnPositionUpdate(pos)
	}
}

// size commits PositionSizePct of equity, capped by what cash can pay for
// including commission.
func (sim *simulation) size(action core.Action, price decimal.Decimal) decimal.Decimal {
	p := sim.pf.p
	fill := sim.pf.FillPrice(action, price)
	if !fill.IsPositive() {
		return decimal.Zero
	}
	budget := sim.pf.Equity().Mul(p.sizePct).Div(hundred)
	qty := budget.Div(fill)
	perUnit := fill.Mul(decimal.NewFromInt(1).Add(p.commission))
	if afford := sim.pf.Cash().Div(perUnit); afford.LessThan(qty) {
		qty = afford
	}
	if sim.e.cfg.FractionalQuantity {
		return qty.Truncate(8)
	}
	return qty.Floor()
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}

func symbolsOf(candles []core.OHLCV) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range candles {
		if !seen[c.Symbol] {
			seen[c.Symbol] = true
			out = append(out, c.Symbol)
		}
	}
	return out
}
