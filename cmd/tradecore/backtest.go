package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/collector/csvfile"
	stratctx "github.com/newthinker/tradecore/internal/context"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/strategy"
	"github.com/newthinker/tradecore/internal/strategy/catalog"
)

var (
	backtestSymbols []string
	backtestFrom    string
	backtestTo      string
	backtestCSV     string
	backtestContext string
	backtestSet     map[string]string
	backtestJSON    bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest [strategy]",
	Short: "Run a backtest of a strategy",
	Long: `Replay a catalog strategy over historical candles and print its
performance report. Candles come from --csv or from the data directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runBacktest,
}

func init() {
	backtestCmd.Flags().StringSliceVar(&backtestSymbols, "symbols", nil, "symbols to backtest (default: strategy default symbols)")
	backtestCmd.Flags().StringVar(&backtestFrom, "from", "", "start date YYYY-MM-DD")
	backtestCmd.Flags().StringVar(&backtestTo, "to", "", "end date YYYY-MM-DD")
	backtestCmd.Flags().StringVar(&backtestCSV, "csv", "", "candle CSV file (overrides the data directory)")
	backtestCmd.Flags().StringVar(&backtestContext, "context", "", "strategy context snapshot file")
	backtestCmd.Flags().StringToStringVar(&backtestSet, "set", nil, "strategy param override key=value")
	backtestCmd.Flags().BoolVar(&backtestJSON, "json", false, "print the full report as JSON")

	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Sync()

	from, to, err := parseRange(backtestFrom, backtestTo)
	if err != nil {
		return err
	}

	reg := catalog.Registry()
	meta, ok := reg.Find(args[0])
	if !ok {
		return core.Errorf(core.ErrStrategyNotFound, "unknown strategy type %q (see `tradecore strategies`)", args[0])
	}
	params, err := reg.DefaultConfig(meta.ID)
	if err != nil {
		return err
	}
	overrides := strategy.Config{}
	for k, v := range backtestSet {
		overrides[k] = v
	}
	params = params.Merge(overrides)
	if len(backtestSymbols) > 0 {
		params[strategy.KeySymbols] = backtestSymbols
	}

	candles, err := loadCandles(cmd, cfg.Data.Dir, params.Symbols(), from, to)
	if err != nil {
		return err
	}

	var sc *stratctx.Context
	if backtestContext != "" {
		if sc, err = stratctx.LoadFile(backtestContext); err != nil {
			return err
		}
	}

	inst := meta.Factory()
	if sc, err = backtest.Prepare(inst, sc, params); err != nil {
		return err
	}

	engine, err := backtest.NewEngine(cfg.Backtest, log)
	if err != nil {
		return err
	}
	bar := progressbar.NewOptions(len(candles),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription(meta.ID),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	engine.WithProgress(func(done, total int) { bar.Set(done) })

	report, err := engine.RunWithContext(cmd.Context(), inst, candles, sc)
	bar.Finish()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if backtestJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(out, report)
	return nil
}

func parseRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if fromRaw != "" {
		if from, err = time.Parse(time.DateOnly, fromRaw); err != nil {
			return from, to, fmt.Errorf("invalid from date (expected YYYY-MM-DD): %w", err)
		}
	}
	if toRaw != "" {
		if to, err = time.Parse(time.DateOnly, toRaw); err != nil {
			return from, to, fmt.Errorf("invalid to date (expected YYYY-MM-DD): %w", err)
		}
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, fmt.Errorf("end date must be after start date")
	}
	return from, to, nil
}

func loadCandles(cmd *cobra.Command, dir string, symbols []string, from, to time.Time) ([]core.OHLCV, error) {
	if backtestCSV != "" {
		all, err := csvfile.Load(backtestCSV)
		if err != nil {
			return nil, err
		}
		var out []core.OHLCV
		for _, c := range all {
			if (!from.IsZero() && c.Time.Before(from)) || (!to.IsZero() && c.Time.After(to)) {
				continue
			}
			out = append(out, c)
		}
		return out, nil
	}

	if len(symbols) == 0 {
		return nil, core.Errorf(core.ErrInvalidInput, "no symbols: pass --symbols or --csv")
	}
	src := csvfile.NewSource(dir)
	var out []core.OHLCV
	for _, sym := range symbols {
		candles, err := src.FetchHistory(cmd.Context(), sym, from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, candles...)
	}
	slices.SortStableFunc(out, func(a, b core.OHLCV) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return strings.Compare(a.Symbol, b.Symbol)
	})
	return out, nil
}

func printReport(out io.Writer, r *backtest.Report) {
	m := r.Metrics
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "=== tradecore backtest ===")
	fmt.Fprintf(w, "Strategy:\t%s %s\n", r.Strategy, r.StrategyVersion)
	fmt.Fprintf(w, "Symbols:\t%v\n", r.Symbols)
	fmt.Fprintf(w, "Period:\t%s to %s (%d candles)\n", r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly), r.Candles)
	fmt.Fprintf(w, "Signals:\t%d generated, %d rejected\n", r.SignalsGenerated, r.SignalsRejected)
	fmt.Fprintf(w, "Final equity:\t%s\n", r.FinalEquity().StringFixed(2))
	fmt.Fprintf(w, "Net profit:\t%s\n", m.NetProfit.StringFixed(2))
	fmt.Fprintf(w, "Total return:\t%s%%\n", m.TotalReturnPct.StringFixed(2))
	fmt.Fprintf(w, "Annualized return:\t%s%%\n", m.AnnualizedReturnPct.StringFixed(2))
	fmt.Fprintf(w, "Max drawdown:\t%s%%\n", m.MaxDrawdownPct.StringFixed(2))
	fmt.Fprintf(w, "Sharpe ratio:\t%s\n", m.SharpeRatio.StringFixed(2))
	fmt.Fprintf(w, "Trades:\t%d (%d won, %d lost)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	fmt.Fprintf(w, "Win rate:\t%s%%\n", m.WinRatePct.StringFixed(2))
	fmt.Fprintf(w, "Profit factor:\t%s\n", m.ProfitFactor.StringFixed(2))
	fmt.Fprintf(w, "Commission:\t%s\n", m.TotalCommission.StringFixed(2))
	for reason, n := range r.ForcedExits {
		fmt.Fprintf(w, "Forced exit %s:\t%d\n", reason, n)
	}
	if len(r.OpenPositions) > 0 {
		fmt.Fprintf(w, "Open positions:\t%d\n", len(r.OpenPositions))
	}
	w.Flush()
}
