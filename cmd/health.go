package main

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/health"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report dataset health metrics",
	Long: `Reports alignment, coverage, completeness and uniqueness for one dataset
(--dataset) or every dataset of a country (--country). Status is ready at
95% alignment, in_progress at 85%, needs_review below.`,
	RunE: runHealth,
}

func init() {
	f := healthCmd.Flags()
	f.String("dataset", "", "dataset ID")
	f.String("country", "", "country ID")
	f.String("format", "table", "output format: table or json")
	f.Bool("no-color", false, "disable colored status")
	healthCmd.MarkFlagsOneRequired("dataset", "country")
	healthCmd.MarkFlagsMutuallyExclusive("dataset", "country")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	f := cmd.Flags()
	datasetID, _ := f.GetString("dataset")
	country, _ := f.GetString("country")
	format, _ := f.GetString("format")
	noColor, _ := f.GetBool("no-color")

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	var reports []health.Report
	if datasetID != "" {
		r, err := env.Health.Check(ctx, datasetID)
		if err != nil {
			return err
		}
		reports = []health.Report{*r}
	} else {
		if reports, err = env.Health.CheckCountry(ctx, country); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	switch format {
	case "json":
		return printJSON(w, reports)
	case "table":
	default:
		return eris.Errorf("health: unknown format %q", format)
	}

	colored := useColor(noColor)
	rows := make([][]string, len(reports))
	for i, r := range reports {
		rows[i] = []string{
			r.DatasetID,
			fmt.Sprintf("%d/%d", r.Matched, r.Total),
			pct(r.AlignmentRate),
			pct(r.Coverage),
			pct(r.Completeness),
			pct(r.Uniqueness),
			strconv.Itoa(len(r.Orphaned)),
			strconv.Itoa(r.ValidationErrors),
			statusText(r.Status, colored),
		}
	}
	return printTable(w, []string{"Dataset", "Matched", "Alignment", "Coverage", "Completeness", "Uniqueness", "Orphaned", "Invalid", "Status"}, rows)
}

func pct(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 1, 64) + "%"
}

func statusText(s health.Status, colored bool) string {
	if !colored {
		return string(s)
	}
	switch s {
	case health.StatusReady:
		return okText(string(s))
	case health.StatusInProgress:
		return warnText(string(s))
	default:
		return badText(string(s))
	}
}
