package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/scoring"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/store"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute and inspect severity scores",
}

var scoreDatasetCmd = &cobra.Command{
	Use:   "dataset <dataset-id>",
	Short: "Score one dataset's clean values",
	Long: `Scores one dataset with its stored scoring config. --pcodes limits the
areas written; normalization still uses the full national range unless
scoring.use_scope_range is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runScoreDataset,
}

var scoreAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Score every configured dataset of a country",
	RunE:  runScoreAll,
}

var scoreFrameworkCmd = &cobra.Command{
	Use:   "framework",
	Short: "Roll dataset scores up to category, framework and overall scores",
	RunE:  runScoreFramework,
}

var scoreShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List stored scores",
	RunE:  runScoreShow,
}

func init() {
	scoreDatasetCmd.Flags().StringSlice("pcodes", nil, "limit written areas to these pcodes")
	scoreAllCmd.Flags().String("country", "", "country ID")
	scoreFrameworkCmd.Flags().String("country", "", "country ID")
	scoreFrameworkCmd.Flags().Bool("datasets", false, "score every dataset first")
	_ = scoreAllCmd.MarkFlagRequired("country")
	_ = scoreFrameworkCmd.MarkFlagRequired("country")

	f := scoreShowCmd.Flags()
	f.StringSlice("scope", []string{model.ScopeOverall}, "scopes: dataset IDs, categories, framework or overall")
	f.String("prefix", "", "only areas whose pcode starts with this prefix")
	f.String("format", "table", "output format: table or json")

	scoreCmd.AddCommand(scoreDatasetCmd, scoreAllCmd, scoreFrameworkCmd, scoreShowCmd)
	rootCmd.AddCommand(scoreCmd)
}

func runScoreDataset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	pcodes, _ := cmd.Flags().GetStringSlice("pcodes")

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := env.Scoring.ComputeDatasetScore(ctx, args[0], pcodes)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Scored %d areas for %s\n", res.Scored, res.DatasetID)
	if len(res.NoScore) > 0 {
		fmt.Fprintf(w, "No score: %s\n", strings.Join(res.NoScore, ", "))
	}
	return nil
}

func runScoreAll(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	country, _ := cmd.Flags().GetString("country")

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	results, err := env.Scoring.ScoreAllDatasets(ctx, country)
	if err != nil {
		return err
	}
	return printDatasetResults(cmd, results)
}

func runScoreFramework(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	country, _ := cmd.Flags().GetString("country")
	datasets, _ := cmd.Flags().GetBool("datasets")

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	if datasets {
		results, err := env.Scoring.ScoreAllDatasets(ctx, country)
		if err != nil {
			return err
		}
		if err := printDatasetResults(cmd, results); err != nil {
			return err
		}
	}

	res, err := env.Scoring.ComputeFramework(ctx, country)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Framework config v%d: %d areas\n", res.ConfigVersion, res.Areas)
	levels := make([]string, 0, len(res.Written))
	for l := range res.Written {
		levels = append(levels, l)
	}
	sort.Strings(levels)
	rows := make([][]string, len(levels))
	for i, l := range levels {
		rows[i] = []string{l, strconv.Itoa(res.Written[l])}
	}
	return printTable(w, []string{"Level", "Scores Written"}, rows)
}

func runScoreShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	f := cmd.Flags()
	scopes, _ := f.GetStringSlice("scope")
	prefix, _ := f.GetString("prefix")
	format, _ := f.GetString("format")

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	scores, err := env.Store.ListScores(ctx, store.ScoreFilter{Scopes: scopes, PcodePrefix: prefix})
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if format == "json" {
		return printJSON(w, scores)
	}
	rows := make([][]string, len(scores))
	for i, s := range scores {
		rows[i] = []string{s.AdminPcode, s.Scope, strconv.FormatFloat(s.Value, 'f', 2, 64)}
	}
	return printTable(w, []string{"Pcode", "Scope", "Score"}, rows)
}

func printDatasetResults(cmd *cobra.Command, results []scoring.DatasetResult) error {
	rows := make([][]string, len(results))
	for i, r := range results {
		status := strconv.Itoa(r.Scored)
		if r.Skipped {
			status = "skipped (no scoring config)"
		}
		rows[i] = []string{r.DatasetID, status, strconv.Itoa(len(r.NoScore))}
	}
	return printTable(cmd.OutOrStdout(), []string{"Dataset", "Scored", "No Score"}, rows)
}
