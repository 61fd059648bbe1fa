package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/scoring"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/weights"
)

var frameworkCmd = &cobra.Command{
	Use:   "framework",
	Short: "Manage the versioned aggregation config",
}

var frameworkShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active framework config",
	RunE:  runFrameworkShow,
}

var frameworkSetCmd = &cobra.Command{
	Use:   "set <framework.yaml>",
	Short: "Activate a framework config from a YAML file",
	Long: `Loads a framework config file, balances every weight set to whole
percents summing to 100 and activates it as a new version.

Example:
  name: slsc-2025
  categories:
    P1: {method: mean}
    Hazard: {method: custom_weighted, weights: {typhoon: 0.7, floods: 0.3}}
  framework: {method: 20_percent}
  overall: {method: custom_weighted, weights: {framework: 0.6, hazard: 0.2, uv: 0.2}}`,
	Args: cobra.ExactArgs(1),
	RunE: runFrameworkSet,
}

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Inspect and rebalance sibling weight sets",
}

var weightsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the weight sets of the active config in percent",
	RunE:  runWeightsShow,
}

var weightsSetCmd = &cobra.Command{
	Use:   "set <key> <percent>",
	Short: "Set one weight and rebalance its siblings",
	Long: `Sets one sibling weight to a percent, redistributes the remainder over
its siblings proportionally and activates the result as a new version.

Examples:
  framework weights set --level pillar P1 50
  framework weights set --level dataset --parent Hazard typhoon 70
  framework weights set --level overall framework 60 --dry-run`,
	Args: cobra.ExactArgs(2),
	RunE: runWeightsSet,
}

func init() {
	frameworkShowCmd.Flags().String("format", "yaml", "output format: yaml or json")

	f := weightsSetCmd.Flags()
	f.String("level", string(model.WeightLevelPillar), "dataset, pillar or overall")
	f.String("parent", "", "category owning a dataset-level set")
	f.Bool("dry-run", false, "print the rebalanced set without activating it")

	weightsCmd.AddCommand(weightsShowCmd, weightsSetCmd)
	frameworkCmd.AddCommand(frameworkShowCmd, frameworkSetCmd, weightsCmd)
	rootCmd.AddCommand(frameworkCmd)
}

func runFrameworkShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	format, _ := cmd.Flags().GetString("format")

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	fc, err := env.Scoring.ActiveFramework(ctx)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if format == "json" {
		return printJSON(w, fc)
	}
	data, err := scoring.MarshalFrameworkYAML(fc)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "# version %d\n%s", fc.Version, data)
	return nil
}

func runFrameworkSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fc, err := scoring.LoadFrameworkFile(args[0])
	if err != nil {
		return err
	}

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	out, err := env.Scoring.ActivateFramework(ctx, fc)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Activated framework config %q as version %d\n", out.Name, out.Version)
	return nil
}

func runWeightsShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	fc, err := env.Scoring.ActiveFramework(ctx)
	if err != nil {
		return err
	}
	var rows [][]string
	for _, a := range fc.WeightAssignments() {
		rows = append(rows, weightRows(a.Level, a.Parent, weights.Percents(a.Weights))...)
	}
	return printTable(cmd.OutOrStdout(), []string{"Level", "Parent", "Key", "Percent"}, rows)
}

func runWeightsSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f := cmd.Flags()
	levelFlag, _ := f.GetString("level")
	parent, _ := f.GetString("parent")
	dryRun, _ := f.GetBool("dry-run")

	percent, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return eris.Errorf("weights: percent %q is not a number", args[1])
	}
	level := model.WeightLevel(levelFlag)
	switch level {
	case model.WeightLevelPillar:
		parent = model.ScopeFramework
	case model.WeightLevelOverall:
		parent = model.ScopeOverall
	case model.WeightLevelDataset:
		c, ok := model.ParseCategory(parent)
		if !ok {
			return eris.Errorf("weights: --parent must name a category (got %q)", parent)
		}
		parent = string(c)
	default:
		return eris.Errorf("weights: unknown level %q", levelFlag)
	}
	key := weightKey(level, args[0])

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	w := cmd.OutOrStdout()
	if dryRun {
		fc, err := env.Scoring.ActiveFramework(ctx)
		if err != nil {
			return err
		}
		current := map[string]float64{}
		for _, a := range fc.WeightAssignments() {
			if a.Level == level && a.Parent == parent {
				current = weights.Percents(a.Weights)
			}
		}
		next, err := weights.Rebalance(current, key, percent)
		if err != nil {
			return err
		}
		return printTable(w, []string{"Level", "Parent", "Key", "Percent"}, weightRows(level, parent, next))
	}

	out, err := env.Scoring.SetWeight(ctx, level, parent, key, percent)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Activated framework config version %d\n", out.Version)
	for _, a := range out.WeightAssignments() {
		if a.Level == level && a.Parent == parent {
			return printTable(w, []string{"Level", "Parent", "Key", "Percent"}, weightRows(level, parent, weights.Percents(a.Weights)))
		}
	}
	return nil
}

// weightKey canonicalizes category names used as weight keys.
func weightKey(level model.WeightLevel, key string) string {
	if level == model.WeightLevelDataset {
		return key
	}
	if c, ok := model.ParseCategory(key); ok {
		return string(c)
	}
	return key
}

func weightRows(level model.WeightLevel, parent string, percents map[string]float64) [][]string {
	keys := make([]string, 0, len(percents))
	for k := range percents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, len(keys))
	for i, k := range keys {
		rows[i] = []string{string(level), parent, k, strconv.FormatFloat(percents[k], 'f', -1, 64)}
	}
	return rows
}
