package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/compare"
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare rollups under two framework config versions",
	Long: `Runs the aggregation engine in memory under two framework config
versions and reports per-scope agreement. Version 0 is the built-in default
(mean at every level). Nothing is written.

Examples:
  compare --country PH --legacy 0 --current 3
  compare --country PH --legacy 2 --current 3 --format csv > delta.csv`,
	RunE: runCompare,
}

func init() {
	f := compareCmd.Flags()
	f.Int("legacy", 0, "baseline framework config version (0 = default)")
	f.Int("current", 0, "candidate framework config version (default: active)")
	f.String("country", "", "country ID")
	f.String("format", "table", "output format: table, csv or json")
	f.Bool("no-color", false, "disable colored deltas")
	_ = compareCmd.MarkFlagRequired("country")
	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	f := cmd.Flags()
	legacy, _ := f.GetInt("legacy")
	current, _ := f.GetInt("current")
	country, _ := f.GetString("country")
	format, _ := f.GetString("format")
	noColor, _ := f.GetBool("no-color")

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	if !f.Changed("current") {
		active, err := env.Scoring.ActiveFramework(ctx)
		if err != nil {
			return err
		}
		current = active.Version
	}

	res, err := env.Scoring.CompareConfigurations(ctx, legacy, current, country)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	switch format {
	case "table":
		return compare.WriteTable(w, *res, useColor(noColor))
	case "csv":
		return compare.WriteCSV(w, *res)
	case "json":
		return printJSON(w, res)
	default:
		return eris.Errorf("compare: unknown format %q", format)
	}
}
