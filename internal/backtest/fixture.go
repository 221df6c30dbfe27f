package backtest

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	stratctx "github.com/newthinker/tradecore/internal/context"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/strategy"
)

const defaultTolerance = 1.0

// FixtureFile is a regression file: a list of strategies with the results
// a replay of their candles is expected to produce.
type FixtureFile struct {
	Description string    `yaml:"description" json:"description"`
	Strategies  []Fixture `yaml:"strategies" json:"strategies"`

	// Path is where the file was loaded from
	Path string `yaml:"-" json:"-"`
}

// Fixture is one regression case
type Fixture struct {
	StrategyID string          `yaml:"strategy_id" json:"strategy_id"`
	Name       string          `yaml:"name" json:"name"`
	Symbols    []string        `yaml:"symbols" json:"symbols"`
	Market     core.MarketType `yaml:"market" json:"market"`
	Candles    string          `yaml:"candles" json:"candles"`
	Context    string          `yaml:"context,omitempty" json:"context,omitempty"`
	Config     map[string]any  `yaml:"config" json:"config"`
	Expected   Expected        `yaml:"expected" json:"expected"`

	dir string
}

// CandlesPath resolves the candle file relative to the fixture file
func (f Fixture) CandlesPath() string {
	return f.resolve(f.Candles)
}

// ContextPath resolves the context snapshot file, empty when none is set
func (f Fixture) ContextPath() string {
	if f.Context == "" {
		return ""
	}
	return f.resolve(f.Context)
}

func (f Fixture) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.dir, p)
}

// Expected is the baseline of a fixture. Unset fields are not checked.
type Expected struct {
	Initialization string   `yaml:"initialization" json:"initialization"` // success or failure
	TradesExecuted *int     `yaml:"trades_executed,omitempty" json:"trades_executed,omitempty"`
	TotalReturnPct *float64 `yaml:"total_return_pct,omitempty" json:"total_return_pct,omitempty"`
	MaxDrawdownPct *float64 `yaml:"max_drawdown_pct,omitempty" json:"max_drawdown_pct,omitempty"`
	WinRatePct     *float64 `yaml:"win_rate_pct,omitempty" json:"win_rate_pct,omitempty"`
	MinTrades      *int     `yaml:"min_trades,omitempty" json:"min_trades,omitempty"`
	MinReturnPct   *float64 `yaml:"min_return_pct,omitempty" json:"min_return_pct,omitempty"`
	Tolerance      float64  `yaml:"tolerance,omitempty" json:"tolerance,omitempty"`
}

// FixtureResult is the outcome of one regression case
type FixtureResult struct {
	StrategyID  string   `json:"strategy_id"`
	Name        string   `json:"name"`
	Passed      bool     `json:"passed"`
	Errors      []string `json:"errors,omitempty"`
	Diagnostics []string `json:"diagnostics,omitempty"`
	Report      *Report  `json:"report,omitempty"`
}

// LoadFixtures reads a YAML or JSON fixture file
func LoadFixtures(path string) (*FixtureFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.WrapError(core.ErrNotFound, err)
	}
	var ff FixtureFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, core.WrapError(core.ErrInvalidInput, fmt.Errorf("%s: %w", path, err))
	}
	ff.Path = path
	dir := filepath.Dir(path)
	for i := range ff.Strategies {
		fx := &ff.Strategies[i]
		fx.dir = dir
		if fx.Expected.Tolerance <= 0 {
			fx.Expected.Tolerance = defaultTolerance
		}
		if fx.Expected.Initialization == "" {
			fx.Expected.Initialization = "success"
		}
		if fx.StrategyID == "" {
			return nil, core.Errorf(core.ErrInvalidInput, "%s: strategy %d has no strategy_id", path, i)
		}
	}
	return &ff, nil
}

// DiscoverFixtures lists the fixture files in dir, sorted
func DiscoverFixtures(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, core.WrapError(core.ErrNotFound, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// RunFixture prepares the fixture's strategy from the registry, replays the
// candles and compares the report with the baseline. sc may be nil.
func (e *Engine) RunFixture(ctx context.Context, reg *strategy.Registry, fx Fixture, candles []core.OHLCV, sc *stratctx.Context) FixtureResult {
	res := FixtureResult{StrategyID: fx.StrategyID, Name: fx.Name}
	expectFailure := fx.Expected.Initialization == "failure"

	inst, err := reg.CreateInstance(fx.StrategyID)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	params := strategy.Config(fx.Config).Clone()
	if len(fx.Symbols) > 0 {
		params[strategy.KeySymbols] = fx.Symbols
	}

	sc, err = Prepare(inst, sc, params)
	if err != nil {
		if expectFailure {
			res.Passed = true
			return res
		}
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	if expectFailure {
		res.Errors = append(res.Errors, "initialization succeeded but failure was expected")
		return res
	}

	report, err := e.RunWithContext(ctx, inst, candles, sc)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	res.Report = report
	res.Errors = validateAgainst(report, fx.Expected)
	if report.Metrics.TotalTrades == 0 {
		res.Diagnostics = diagnoseNoTrades(candles, fx.Config, report)
	}
	res.Passed = len(res.Errors) == 0
	return res
}

func validateAgainst(r *Report, exp Expected) []string {
	var errs []string
	m := r.Metrics
	trades := m.TotalTrades
	tol := exp.Tolerance

	if trades == 0 && (exp.TradesExecuted == nil || *exp.TradesExecuted != 0) {
		errs = append(errs, "no trades executed; the strategy produced no fills")
	}
	if exp.TradesExecuted != nil && trades != *exp.TradesExecuted {
		errs = append(errs, fmt.Sprintf("trades: expected %d, got %d", *exp.TradesExecuted, trades))
	}

	check := func(name string, want *float64, got float64) {
		if want != nil && math.Abs(got-*want) > tol {
			errs = append(errs, fmt.Sprintf("%s: expected %.2f, got %.2f (tolerance %.2f)", name, *want, got, tol))
		}
	}
	ret := m.TotalReturnPct.InexactFloat64()
	check("total_return_pct", exp.TotalReturnPct, ret)
	check("max_drawdown_pct", exp.MaxDrawdownPct, m.MaxDrawdownPct.InexactFloat64())
	check("win_rate_pct", exp.WinRatePct, m.WinRatePct.InexactFloat64())

	if exp.MinTrades != nil && trades < *exp.MinTrades {
		errs = append(errs, fmt.Sprintf("trades: expected at least %d, got %d", *exp.MinTrades, trades))
	}
	if exp.MinReturnPct != nil && ret < *exp.MinReturnPct {
		errs = append(errs, fmt.Sprintf("total_return_pct: expected at least %.2f, got %.2f", *exp.MinReturnPct, ret))
	}
	return errs
}

// diagnoseNoTrades lists likely reasons a replay produced no trades
func diagnoseNoTrades(candles []core.OHLCV, cfg map[string]any, r *Report) []string {
	var out []string
	if len(candles) < 50 {
		out = append(out, fmt.Sprintf("only %d candles; at least 50 recommended", len(candles)))
	}
	if r.SignalsGenerated > 0 {
		out = append(out, fmt.Sprintf("%d signals generated, %d rejected by the simulator", r.SignalsGenerated, r.SignalsRejected))
	}
	if v, ok := number(cfg["overbought"]); ok && v < 60 {
		out = append(out, fmt.Sprintf("overbought threshold is low: %.0f", v))
	}
	if v, ok := number(cfg["oversold"]); ok && v > 40 {
		out = append(out, fmt.Sprintf("oversold threshold is high: %.0f", v))
	}
	if v, ok := number(cfg["min_score"]); ok && v > 80 {
		out = append(out, fmt.Sprintf("global score filter is strict: min_score=%.0f", v))
	}
	if on, _ := cfg["enable_route_filter"].(bool); on {
		out = append(out, "route state filter enabled; replays often lack route states")
	}
	if len(candles) > 1 {
		first := candles[0].Close.InexactFloat64()
		last := candles[len(candles)-1].Close.InexactFloat64()
		if first > 0 {
			if change := (last - first) / first * 100; math.Abs(change) < 5 {
				out = append(out, fmt.Sprintf("price moved only %.1f%% over the period", change))
			}
		}
	}
	return out
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
