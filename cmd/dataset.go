package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Register datasets and their scoring configs",
}

var datasetCreateCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Register or update a dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatasetCreate,
}

var datasetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List datasets",
	RunE:  runDatasetList,
}

var datasetConfigCmd = &cobra.Command{
	Use:   "config <id> <scoring.yaml>",
	Short: "Set a dataset's scoring config from a YAML file",
	Long: `Sets the scoring config. Numeric example:

  kind: numeric
  numeric:
    method: threshold
    ranges:
      - {max: 10, score: 1}
      - {min: 10, max: 50, score: 3}
      - {min: 50, score: 5}

Categorical example:

  kind: categorical
  categorical:
    method: 20_percent_rule
    category_scores: {Light: 5, Concrete: 1}`,
	Args: cobra.ExactArgs(2),
	RunE: runDatasetConfig,
}

func init() {
	f := datasetCreateCmd.Flags()
	f.String("name", "", "display name")
	f.String("type", string(model.DatasetNumeric), "numeric or categorical")
	f.String("level", string(model.ADM3), "admin level of the values")
	f.String("category", "", "P1, P2, P3, Hazard or Underlying Vulnerability")
	f.String("country", "", "country ID")
	f.Bool("baseline", false, "mark as a baseline dataset")
	f.Bool("derived", false, "mark as derived (computed, not imported)")
	_ = datasetCreateCmd.MarkFlagRequired("category")
	_ = datasetCreateCmd.MarkFlagRequired("country")

	datasetListCmd.Flags().String("country", "", "country filter")

	datasetCmd.AddCommand(datasetCreateCmd, datasetListCmd, datasetConfigCmd)
	rootCmd.AddCommand(datasetCmd)
}

func runDatasetCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f := cmd.Flags()
	name, _ := f.GetString("name")
	typ, _ := f.GetString("type")
	levelFlag, _ := f.GetString("level")
	catFlag, _ := f.GetString("category")
	country, _ := f.GetString("country")
	baseline, _ := f.GetBool("baseline")
	derived, _ := f.GetBool("derived")

	ds := model.Dataset{
		ID:         args[0],
		Name:       name,
		Type:       model.DatasetType(typ),
		CountryID:  country,
		IsBaseline: baseline,
		IsDerived:  derived,
	}
	if ds.Name == "" {
		ds.Name = ds.ID
	}
	if ds.Type != model.DatasetNumeric && ds.Type != model.DatasetCategorical {
		return eris.Errorf("dataset: --type must be numeric or categorical (got %q)", typ)
	}
	level, ok := model.ParseAdminLevel(levelFlag)
	if !ok {
		return eris.Errorf("dataset: unknown level %q", levelFlag)
	}
	ds.AdminLevel = level
	cat, ok := model.ParseCategory(catFlag)
	if !ok {
		return eris.Errorf("dataset: unknown category %q", catFlag)
	}
	ds.Category = cat

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Store.SaveDataset(ctx, ds); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved dataset %s (%s, %s, %s)\n", ds.ID, ds.Type, ds.AdminLevel, ds.Category)
	return nil
}

func runDatasetList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	country, _ := cmd.Flags().GetString("country")

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	datasets, err := env.Store.ListDatasets(ctx, country)
	if err != nil {
		return err
	}
	rows := make([][]string, len(datasets))
	for i, d := range datasets {
		rows[i] = []string{d.ID, d.Name, string(d.Type), string(d.AdminLevel), string(d.Category), d.CountryID,
			strconv.FormatBool(d.IsBaseline), strconv.FormatBool(d.IsDerived)}
	}
	return printTable(cmd.OutOrStdout(), []string{"ID", "Name", "Type", "Level", "Category", "Country", "Baseline", "Derived"}, rows)
}

func runDatasetConfig(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	data, err := os.ReadFile(args[1])
	if err != nil {
		return eris.Wrap(err, "dataset: read scoring config")
	}
	var sc model.ScoringConfig
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return eris.Wrap(err, "dataset: parse scoring config")
	}

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Store.SaveScoringConfig(ctx, args[0], sc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s scoring config for %s\n", sc.Kind, args[0])
	return nil
}
