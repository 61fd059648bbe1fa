package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/boundary"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

var boundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Import and list canonical administrative boundaries",
}

var boundariesImportCmd = &cobra.Command{
	Use:   "import <shapefile>...",
	Short: "Import HDX boundary shapefiles",
	Long: `Imports one or more HDX COD-AB shapefiles. Each file holds one admin level
with ADMn_PCODE, ADMn_EN (or ADMn_NAME) and ADM(n-1)_PCODE columns. The level
is read from --level or, when omitted, from an "admN" token in the file name.

Examples:
  boundaries import --country PH phl_admbnda_adm2.shp phl_admbnda_adm3.shp`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBoundariesImport,
}

var boundariesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List boundaries for a country",
	RunE:  runBoundariesList,
}

func init() {
	f := boundariesImportCmd.Flags()
	f.String("country", "", "country ID the boundaries belong to")
	f.String("level", "", "admin level for every file (ADM0..ADM5)")
	_ = boundariesImportCmd.MarkFlagRequired("country")

	lf := boundariesListCmd.Flags()
	lf.String("country", "", "country ID")
	lf.String("level", "", "admin level filter")
	lf.String("format", "table", "output format: table or json")
	_ = boundariesListCmd.MarkFlagRequired("country")

	boundariesCmd.AddCommand(boundariesImportCmd, boundariesListCmd)
	rootCmd.AddCommand(boundariesCmd)
}

func runBoundariesImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	country, _ := cmd.Flags().GetString("country")
	levelFlag, _ := cmd.Flags().GetString("level")
	log := zap.L().With(zap.String("command", "boundaries.import"))

	// Import top-down.
	type file struct {
		path  string
		level model.AdminLevel
	}
	files := make([]file, 0, len(args))
	for _, path := range args {
		raw := levelFlag
		if raw == "" {
			raw = levelFromFilename(path)
		}
		level, ok := model.ParseAdminLevel(raw)
		if !ok {
			return eris.Errorf("boundaries: cannot tell the admin level of %s, pass --level", path)
		}
		files = append(files, file{path: path, level: level})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].level.Depth() < files[j].level.Depth() })

	var all []model.AdminBoundary
	for _, f := range files {
		bs, err := boundary.LoadShapefile(f.path, f.level, country)
		if err != nil {
			return err
		}
		log.Info("shapefile read", zap.String("file", filepath.Base(f.path)), zap.String("level", string(f.level)), zap.Int("boundaries", len(bs)))
		all = append(all, bs...)
	}
	if err := boundary.ValidateHierarchy(all); err != nil {
		return err
	}

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	n, err := env.Store.UpsertBoundaries(ctx, all)
	if err != nil {
		return eris.Wrap(err, "boundaries: upsert")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d boundaries for %s\n", n, country)
	return nil
}

// levelFromFilename finds an "admN" token such as phl_admbnda_adm3_psa.shp.
func levelFromFilename(path string) string {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	for _, tok := range strings.FieldsFunc(base, func(r rune) bool { return r == '_' || r == '-' || r == '.' }) {
		if len(tok) == 4 && strings.HasPrefix(tok, "adm") {
			return tok
		}
	}
	return ""
}

func runBoundariesList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	country, _ := cmd.Flags().GetString("country")
	levelFlag, _ := cmd.Flags().GetString("level")
	format, _ := cmd.Flags().GetString("format")

	var level model.AdminLevel
	if levelFlag != "" {
		l, ok := model.ParseAdminLevel(levelFlag)
		if !ok {
			return eris.Errorf("boundaries: unknown level %q", levelFlag)
		}
		level = l
	}

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	bs, err := env.Store.FetchBoundaries(ctx, country, level)
	if err != nil {
		return err
	}
	if format == "json" {
		return printJSON(cmd.OutOrStdout(), bs)
	}
	rows := make([][]string, len(bs))
	for i, b := range bs {
		rows[i] = []string{b.Pcode, b.Name, string(b.AdminLevel), b.ParentPcode}
	}
	if err := printTable(cmd.OutOrStdout(), []string{"Pcode", "Name", "Level", "Parent"}, rows); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d boundaries\n", len(bs))
	return nil
}
