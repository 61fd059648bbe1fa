// Package scoring connects the store to the normalizer, the aggregation
// engine and the comparator.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/aggregate"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/compare"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/normalize"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/observability"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/store"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/weights"
)

// DefaultConcurrency bounds ScoreAllDatasets fan-out.
const DefaultConcurrency = 4

// Config tunes scoring runs.
type Config struct {
	Concurrency int `mapstructure:"concurrency"`
	// UseScopeRange normalizes scoped runs against in-scope values only.
	UseScopeRange bool `mapstructure:"use_scope_range"`
}

// DatasetResult reports one dataset scoring run.
type DatasetResult struct {
	DatasetID string   `json:"dataset_id"`
	Scored    int      `json:"scored"`
	NoScore   []string `json:"no_score,omitempty"`
	// Skipped is set when the dataset has no scoring config yet.
	Skipped bool `json:"skipped,omitempty"`
}

// FrameworkResult reports one framework rollup run.
type FrameworkResult struct {
	ConfigVersion int            `json:"config_version"`
	Areas         int            `json:"areas"`
	Written       map[string]int `json:"written"` // by level: category, framework, overall
}

// Service orchestrates scoring against a Store.
type Service struct {
	store   store.Store
	cfg     Config
	metrics *observability.Metrics
	log     *zap.Logger
}

// NewService creates a Service. A nil metrics uses unregistered collectors.
func NewService(st store.Store, cfg Config, metrics *observability.Metrics) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Service{
		store:   st,
		cfg:     cfg,
		metrics: metrics,
		log:     zap.L().With(zap.String("component", "scoring")),
	}
}

// ComputeDatasetScore scores one dataset's clean values under its scoring
// config and replaces its stored scores, so areas that no longer score lose
// their old value. scope restricts the run to pcode prefixes.
func (s *Service) ComputeDatasetScore(ctx context.Context, datasetID string, scope []string) (*DatasetResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.ScoringDuration.WithLabelValues("dataset").Observe(time.Since(start).Seconds())
	}()

	ds, err := s.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: load dataset")
	}
	cfg, err := s.store.GetScoringConfig(ctx, datasetID)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: load scoring config")
	}
	if cfg.Kind != ds.Type {
		return nil, model.NewValidationError(fmt.Sprintf("dataset %s is %s but its scoring config is %s", ds.ID, ds.Type, cfg.Kind))
	}
	values, err := s.store.ListCleanValues(ctx, datasetID)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: load clean values")
	}

	res, err := normalize.Dataset(values, *cfg, normalize.Options{Scope: scope, UseScopeRange: s.cfg.UseScopeRange})
	if err != nil {
		return nil, err
	}
	sel := store.ScoreReplace{Scopes: []string{datasetID}, PcodePrefixes: scope}
	if _, err := s.store.ReplaceScores(ctx, sel, res.Scores); err != nil {
		return nil, eris.Wrap(err, "scoring: write dataset scores")
	}
	s.metrics.ScoresWritten.WithLabelValues("dataset").Add(float64(len(res.Scores)))

	s.log.Info("dataset scored",
		zap.String("dataset_id", datasetID),
		zap.Int("scored", len(res.Scores)),
		zap.Int("no_score", len(res.NoScore)),
	)
	return &DatasetResult{DatasetID: datasetID, Scored: len(res.Scores), NoScore: res.NoScore}, nil
}

// ScoreAllDatasets scores every dataset of a country concurrently. Datasets
// without a scoring config are reported as skipped. The first failure
// cancels the remaining runs.
func (s *Service) ScoreAllDatasets(ctx context.Context, countryID string) ([]DatasetResult, error) {
	datasets, err := s.store.ListDatasets(ctx, countryID)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: list datasets")
	}

	results := make([]DatasetResult, len(datasets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, d := range datasets {
		g.Go(func() error {
			if _, err := s.store.GetScoringConfig(gctx, d.ID); errors.Is(err, store.ErrNotFound) {
				results[i] = DatasetResult{DatasetID: d.ID, Skipped: true}
				return nil
			}
			r, err := s.ComputeDatasetScore(gctx, d.ID, nil)
			if err != nil {
				return eris.Wrapf(err, "scoring: dataset %s", d.ID)
			}
			results[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ComputeFramework rolls the stored dataset scores up under the active
// framework config and replaces the country's category, framework and
// overall scores.
func (s *Service) ComputeFramework(ctx context.Context, countryID string) (*FrameworkResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.ScoringDuration.WithLabelValues("framework").Observe(time.Since(start).Seconds())
	}()

	cfg, err := s.ActiveFramework(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.rollup(ctx, cfg, countryID)
	if err != nil {
		return nil, err
	}
	sel := store.ScoreReplace{Scopes: derivedScopes(), CountryID: countryID}
	if _, err := s.store.ReplaceScores(ctx, sel, out); err != nil {
		return nil, eris.Wrap(err, "scoring: write framework scores")
	}

	res := &FrameworkResult{ConfigVersion: cfg.Version, Written: make(map[string]int)}
	areas := make(map[string]struct{})
	for _, sc := range out {
		areas[sc.AdminPcode] = struct{}{}
		res.Written[levelOf(sc.Scope)]++
	}
	res.Areas = len(areas)
	for level, n := range res.Written {
		s.metrics.ScoresWritten.WithLabelValues(level).Add(float64(n))
	}

	s.log.Info("framework computed",
		zap.Int("config_version", cfg.Version),
		zap.Int("areas", res.Areas),
		zap.Int("overall", res.Written["overall"]),
	)
	return res, nil
}

// CompareConfigurations runs the engine in memory under two framework
// config versions and compares the results. Version 0 is the built-in
// default. Nothing is written.
func (s *Service) CompareConfigurations(ctx context.Context, legacyVersion, currentVersion int, countryID string) (*compare.Result, error) {
	legacyCfg, err := s.frameworkVersion(ctx, legacyVersion)
	if err != nil {
		return nil, err
	}
	currentCfg, err := s.frameworkVersion(ctx, currentVersion)
	if err != nil {
		return nil, err
	}

	legacy, err := s.rollup(ctx, legacyCfg, countryID)
	if err != nil {
		return nil, err
	}
	current, err := s.rollup(ctx, currentCfg, countryID)
	if err != nil {
		return nil, err
	}
	res := compare.Compare(legacy, current)
	return &res, nil
}

// ActiveFramework returns the active framework config, or the default when
// none has been set.
func (s *Service) ActiveFramework(ctx context.Context) (model.FrameworkConfig, error) {
	cfg, err := s.store.GetActiveFrameworkConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return model.DefaultFrameworkConfig(), nil
	}
	if err != nil {
		return model.FrameworkConfig{}, eris.Wrap(err, "scoring: load active framework config")
	}
	return *cfg, nil
}

// ActivateFramework balances every weight set of cfg to integer percents
// summing to 100 and stores it as the new active version.
func (s *Service) ActivateFramework(ctx context.Context, cfg model.FrameworkConfig) (*model.FrameworkConfig, error) {
	balanced, err := BalanceWeights(cfg)
	if err != nil {
		return nil, err
	}
	out, err := s.store.ActivateFrameworkConfig(ctx, balanced)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: activate framework config")
	}
	s.log.Info("framework config activated", zap.Int("version", out.Version), zap.String("name", out.Name))
	return out, nil
}

// SetWeight changes one sibling weight (in percent) of the active config,
// rebalances its siblings and activates the result as a new version.
func (s *Service) SetWeight(ctx context.Context, level model.WeightLevel, parent, key string, percent float64) (*model.FrameworkConfig, error) {
	cfg, err := s.ActiveFramework(ctx)
	if err != nil {
		return nil, err
	}
	current := map[string]float64{}
	for _, a := range cfg.WeightAssignments() {
		if a.Level == level && a.Parent == parent {
			current = weights.Percents(a.Weights)
		}
	}
	committed, err := weights.Rebalance(current, key, percent)
	if err != nil {
		return nil, err
	}
	fractions, err := weights.Fractions(committed)
	if err != nil {
		return nil, err
	}
	next, err := cfg.WithWeights(model.WeightAssignment{Level: level, Parent: parent, Weights: fractions})
	if err != nil {
		return nil, err
	}
	return s.ActivateFramework(ctx, next)
}

// BalanceWeights commits every non-empty weight set of cfg so it sums to 1.
func BalanceWeights(cfg model.FrameworkConfig) (model.FrameworkConfig, error) {
	out := cfg
	for _, a := range cfg.WeightAssignments() {
		balanced, err := weights.CommitFractions(a.Weights)
		if err != nil {
			return cfg, eris.Wrapf(err, "scoring: %s weights under %s", a.Level, a.Parent)
		}
		a.Weights = balanced
		if out, err = out.WithWeights(a); err != nil {
			return cfg, err
		}
	}
	return out, nil
}

func (s *Service) frameworkVersion(ctx context.Context, version int) (model.FrameworkConfig, error) {
	if version == 0 {
		return model.DefaultFrameworkConfig(), nil
	}
	cfg, err := s.store.GetFrameworkConfigVersion(ctx, version)
	if err != nil {
		return model.FrameworkConfig{}, eris.Wrapf(err, "scoring: framework config version %d", version)
	}
	return *cfg, nil
}

// rollup runs the engine over the country's stored dataset scores.
func (s *Service) rollup(ctx context.Context, cfg model.FrameworkConfig, countryID string) ([]model.Score, error) {
	engine, err := aggregate.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	datasets, err := s.store.ListDatasets(ctx, countryID)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: list datasets")
	}
	if len(datasets) == 0 {
		return nil, nil
	}
	ids := make([]string, len(datasets))
	for i, d := range datasets {
		ids[i] = d.ID
	}
	scores, err := s.store.ListScores(ctx, store.ScoreFilter{Scopes: ids})
	if err != nil {
		return nil, eris.Wrap(err, "scoring: load dataset scores")
	}
	return engine.Run(datasets, scores)
}

func derivedScopes() []string {
	scopes := make([]string, 0, len(model.Categories)+2)
	for _, c := range model.Categories {
		scopes = append(scopes, string(c))
	}
	return append(scopes, model.ScopeFramework, model.ScopeOverall)
}

func levelOf(scope string) string {
	switch scope {
	case model.ScopeFramework, model.ScopeOverall:
		return scope
	}
	if model.Category(scope).Valid() {
		return "category"
	}
	return "dataset"
}
