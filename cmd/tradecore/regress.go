package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/collector/csvfile"
	stratctx "github.com/newthinker/tradecore/internal/context"
	"github.com/newthinker/tradecore/internal/strategy"
	"github.com/newthinker/tradecore/internal/strategy/catalog"
)

var regressVerbose bool

var regressCmd = &cobra.Command{
	Use:   "regress [fixture file or dir]...",
	Short: "Replay regression fixtures and compare with their baselines",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRegress,
}

func init() {
	regressCmd.Flags().BoolVarP(&regressVerbose, "verbose", "v", false, "print diagnostics for passing fixtures too")
	rootCmd.AddCommand(regressCmd)
}

func runRegress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Sync()

	var files []*backtest.FixtureFile
	total := 0
	for _, arg := range args {
		paths := []string{arg}
		if info, err := os.Stat(arg); err == nil && info.IsDir() {
			if paths, err = backtest.DiscoverFixtures(arg); err != nil {
				return err
			}
		}
		for _, p := range paths {
			ff, err := backtest.LoadFixtures(p)
			if err != nil {
				return err
			}
			files = append(files, ff)
			total += len(ff.Strategies)
		}
	}

	engine, err := backtest.NewEngine(cfg.Backtest, log)
	if err != nil {
		return err
	}
	reg := catalog.Registry()
	out := cmd.OutOrStdout()
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("regression"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	var results []backtest.FixtureResult
	for _, ff := range files {
		for _, fx := range ff.Strategies {
			res := runFixture(cmd, engine, fx, reg)
			results = append(results, res)
			bar.Add(1)
		}
	}
	bar.Finish()

	failed := 0
	for _, res := range results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(out, "%s  %s (%s)\n", status, res.StrategyID, res.Name)
		for _, e := range res.Errors {
			fmt.Fprintf(out, "      %s\n", e)
		}
		if !res.Passed || regressVerbose {
			for _, d := range res.Diagnostics {
				fmt.Fprintf(out, "      note: %s\n", d)
			}
		}
	}
	fmt.Fprintf(out, "\n%d fixtures, %d passed, %d failed\n", len(results), len(results)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d regression fixtures failed", failed)
	}
	return nil
}

func runFixture(cmd *cobra.Command, engine *backtest.Engine, fx backtest.Fixture, reg *strategy.Registry) backtest.FixtureResult {
	fail := func(err error) backtest.FixtureResult {
		return backtest.FixtureResult{StrategyID: fx.StrategyID, Name: fx.Name, Errors: []string{err.Error()}}
	}
	candles, err := csvfile.Load(fx.CandlesPath())
	if err != nil {
		return fail(err)
	}
	var sc *stratctx.Context
	if p := fx.ContextPath(); p != "" {
		if sc, err = stratctx.LoadFile(p); err != nil {
			return fail(err)
		}
	}
	return engine.RunFixture(cmd.Context(), reg, fx, candles, sc)
}
