package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <dataset-id> <file>",
	Short: "Stage raw rows from a CSV or XLSX file",
	Long: `Stages raw rows for a dataset under an explicit column mapping. Rows are
kept permanently; run "reconcile apply" afterwards to produce clean values.

Examples:
  ingest poverty poverty.csv --pcode-col ADM3_PCODE --name-col Municipality --value-col "Poverty %"
  ingest walls census.xlsx --sheet Data --pcode-col PSGC --value-col "Wall material" --weight-col Households`,
	Args: cobra.ExactArgs(2),
	RunE: runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.String("pcode-col", "", "column holding the raw admin code")
	f.String("name-col", "", "column holding the raw area name (optional)")
	f.String("value-col", "", "column holding the raw value")
	f.String("weight-col", "", "column holding the occurrence weight (optional)")
	f.String("format", "", "csv, tsv or xlsx (default from extension)")
	f.String("sheet", "", "xlsx sheet name (default first sheet)")
	f.Int("chunk", ingest.DefaultChunkSize, "rows per insert")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f := cmd.Flags()
	var opts ingest.Options
	opts.Mapping.Pcode, _ = f.GetString("pcode-col")
	opts.Mapping.Name, _ = f.GetString("name-col")
	opts.Mapping.Value, _ = f.GetString("value-col")
	opts.Mapping.Weight, _ = f.GetString("weight-col")
	opts.Format, _ = f.GetString("format")
	opts.Sheet, _ = f.GetString("sheet")
	opts.ChunkSize, _ = f.GetInt("chunk")

	// Reject a missing mapping before touching the store.
	if err := opts.Mapping.Validate(); err != nil {
		return err
	}

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := ingest.NewLoader(env.Store).LoadFile(ctx, args[0], args[1], opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Staged %d rows for %s (%d blank rows skipped)\n", res.Inserted, res.DatasetID, res.Skipped)
	return nil
}
