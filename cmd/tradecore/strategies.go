package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/strategy/catalog"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the strategy catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVERSION\tCATEGORY\tTIMEFRAME\tALIASES")
		for _, m := range catalog.Registry().All() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				m.ID, m.Name, m.Version, m.Category, m.Timeframe, strings.Join(m.Aliases, ","))
		}
		return w.Flush()
	},
}

var strategySchemaCmd = &cobra.Command{
	Use:   "schema [strategy]",
	Short: "Print a strategy's default params and JSON schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := catalog.Registry()
		meta, ok := reg.Find(args[0])
		if !ok {
			return core.Errorf(core.ErrStrategyNotFound, "unknown strategy type %q", args[0])
		}
		defaults, err := reg.DefaultConfig(meta.ID)
		if err != nil {
			return err
		}
		schema, err := reg.Schema(meta.ID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"meta":     meta,
			"defaults": defaults,
			"schema":   schema,
		})
	},
}

func init() {
	strategiesCmd.AddCommand(strategySchemaCmd)
	rootCmd.AddCommand(strategiesCmd)
}
