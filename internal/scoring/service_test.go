package scoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func normalization() model.ScoringConfig {
	return model.ScoringConfig{
		Kind:    model.DatasetNumeric,
		Numeric: &model.NumericConfig{Method: model.NumericNormalization, ScaleMax: 5},
	}
}

// newTestService seeds three PH datasets: poverty (P2) and typhoon (Hazard)
// are configured, floods has values but no scoring config.
func newTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	model.SetClock(clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { model.SetClock(nil) })

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "scoring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	seed := func(id string, cat model.Category, values map[string]float64) {
		require.NoError(t, st.SaveDataset(ctx, model.Dataset{
			ID: id, Name: id, Type: model.DatasetNumeric, AdminLevel: model.ADM2, Category: cat, CountryID: "PH",
		}))
		var cv []model.CleanValue
		for pcode, v := range values {
			cv = append(cv, model.CleanValue{DatasetID: id, AdminPcode: pcode, Value: v})
		}
		_, err := st.CommitBatch(ctx, store.Batch{DatasetID: id, Reset: true, Values: cv})
		require.NoError(t, err)
	}
	seed("poverty", model.CategoryP2, map[string]float64{"PH0701": 10, "PH0702": 20, "PH0703": 30})
	seed("typhoon", model.CategoryHazard, map[string]float64{"PH0701": 100, "PH0702": 0})
	seed("floods", model.CategoryHazard, map[string]float64{"PH0701": 1})
	require.NoError(t, st.SaveScoringConfig(ctx, "poverty", normalization()))
	require.NoError(t, st.SaveScoringConfig(ctx, "typhoon", normalization()))

	return NewService(st, Config{Concurrency: 2}, nil), st
}

func scoreMap(t *testing.T, st store.Store, scopes ...string) map[string]float64 {
	t.Helper()
	scores, err := st.ListScores(context.Background(), store.ScoreFilter{Scopes: scopes})
	require.NoError(t, err)
	out := make(map[string]float64, len(scores))
	for _, s := range scores {
		out[s.AdminPcode+"/"+s.Scope] = s.Value
	}
	return out
}

func TestComputeDatasetScore(t *testing.T) {
	svc, st := newTestService(t)

	res, err := svc.ComputeDatasetScore(context.Background(), "poverty", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scored)
	assert.Empty(t, res.NoScore)
	assert.Equal(t, map[string]float64{
		"PH0701/poverty": 1,
		"PH0702/poverty": 3,
		"PH0703/poverty": 5,
	}, scoreMap(t, st, "poverty"))
}

func TestComputeDatasetScore_ScopeKeepsNationalRange(t *testing.T) {
	svc, st := newTestService(t)

	res, err := svc.ComputeDatasetScore(context.Background(), "poverty", []string{"PH0702"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scored)
	assert.Equal(t, map[string]float64{"PH0702/poverty": 3}, scoreMap(t, st, "poverty"))
}

func below15() model.ScoringConfig {
	limit := 15.0
	return model.ScoringConfig{Kind: model.DatasetNumeric, Numeric: &model.NumericConfig{
		Method:   model.NumericThreshold,
		ScaleMax: 5,
		Ranges:   []model.Range{{Max: &limit, Score: 1}},
	}}
}

func TestComputeDatasetScore_RescoreDropsStaleAreas(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.ComputeDatasetScore(ctx, "poverty", nil)
	require.NoError(t, err)
	require.Equal(t, 5.0, scoreMap(t, st, "poverty")["PH0703/poverty"])

	require.NoError(t, st.SaveScoringConfig(ctx, "poverty", below15()))
	res, err := svc.ComputeDatasetScore(ctx, "poverty", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scored)
	assert.ElementsMatch(t, []string{"PH0702", "PH0703"}, res.NoScore)
	assert.Equal(t, map[string]float64{"PH0701/poverty": 1}, scoreMap(t, st, "poverty"))
}

func TestComputeDatasetScore_ScopedRescoreKeepsOtherAreas(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.ComputeDatasetScore(ctx, "poverty", nil)
	require.NoError(t, err)

	require.NoError(t, st.SaveScoringConfig(ctx, "poverty", below15()))
	_, err = svc.ComputeDatasetScore(ctx, "poverty", []string{"PH0703"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		"PH0701/poverty": 1,
		"PH0702/poverty": 3,
	}, scoreMap(t, st, "poverty"))
}

func TestComputeDatasetScore_Errors(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.ComputeDatasetScore(ctx, "missing", nil)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, err = svc.ComputeDatasetScore(ctx, "floods", nil)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, st.SaveScoringConfig(ctx, "floods", model.ScoringConfig{
		Kind: model.DatasetCategorical,
		Categorical: &model.CategoricalConfig{
			CategoryScores: map[string]float64{"Light": 5},
			Method:         model.CategoricalWeightedMean,
		},
	}))
	_, err = svc.ComputeDatasetScore(ctx, "floods", nil)
	assert.True(t, model.IsValidation(err))
}

func TestScoreAllDatasets_SkipsUnconfigured(t *testing.T) {
	svc, st := newTestService(t)

	results, err := svc.ScoreAllDatasets(context.Background(), "PH")
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := make(map[string]DatasetResult, len(results))
	for _, r := range results {
		byID[r.DatasetID] = r
	}
	assert.True(t, byID["floods"].Skipped)
	assert.Equal(t, 3, byID["poverty"].Scored)
	assert.Equal(t, 2, byID["typhoon"].Scored)
	assert.Equal(t, map[string]float64{
		"PH0701/typhoon": 5,
		"PH0702/typhoon": 1,
	}, scoreMap(t, st, "typhoon"))
}

func TestComputeFramework_DefaultConfig(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	_, err := svc.ScoreAllDatasets(ctx, "PH")
	require.NoError(t, err)

	res, err := svc.ComputeFramework(ctx, "PH")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ConfigVersion)
	assert.Equal(t, 3, res.Areas)
	assert.Equal(t, map[string]int{"category": 5, "framework": 3, "overall": 3}, res.Written)

	assert.Equal(t, map[string]float64{
		"PH0701/overall": 3,
		"PH0702/overall": 2,
		"PH0703/overall": 5,
	}, scoreMap(t, st, model.ScopeOverall))
}

func TestComputeFramework_RescoreDropsStaleAreas(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	_, err := svc.ScoreAllDatasets(ctx, "PH")
	require.NoError(t, err)
	_, err = svc.ComputeFramework(ctx, "PH")
	require.NoError(t, err)
	require.Contains(t, scoreMap(t, st, model.ScopeOverall), "PH0703/overall")

	// Scores of another country stay put.
	_, err = st.UpsertScores(ctx, []model.Score{{AdminPcode: "VN01", Scope: model.ScopeOverall, Value: 4}})
	require.NoError(t, err)

	require.NoError(t, st.SaveScoringConfig(ctx, "poverty", below15()))
	_, err = svc.ComputeDatasetScore(ctx, "poverty", nil)
	require.NoError(t, err)
	res, err := svc.ComputeFramework(ctx, "PH")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Areas)

	all := scoreMap(t, st, string(model.CategoryP2), model.ScopeFramework, model.ScopeOverall)
	for key := range all {
		assert.NotContains(t, key, "PH0703", "stale derived score %s", key)
	}
	assert.Equal(t, 1.0, all["PH0701/P2"])
	assert.Equal(t, 4.0, all["VN01/overall"])
}

func TestComputeFramework_ActiveWeights(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	_, err := svc.ScoreAllDatasets(ctx, "PH")
	require.NoError(t, err)

	cfg := model.DefaultFrameworkConfig()
	cfg.Name = "hazard heavy"
	cfg.Overall = model.RollupConfig{Method: model.MethodWeightedMean, Weights: map[string]float64{
		model.ScopeFramework: 0.25, string(model.CategoryHazard): 0.75,
	}}
	active, err := svc.ActivateFramework(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, active.Version)

	res, err := svc.ComputeFramework(ctx, "PH")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ConfigVersion)

	overall := scoreMap(t, st, model.ScopeOverall)
	assert.InDelta(t, 4.0, overall["PH0701/overall"], 1e-9)
	assert.InDelta(t, 1.5, overall["PH0702/overall"], 1e-9)
	assert.InDelta(t, 5.0, overall["PH0703/overall"], 1e-9)
}

func TestCompareConfigurations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.ScoreAllDatasets(ctx, "PH")
	require.NoError(t, err)

	cfg := model.DefaultFrameworkConfig()
	cfg.Overall = model.RollupConfig{Method: model.MethodWorstCase}
	_, err = svc.ActivateFramework(ctx, cfg)
	require.NoError(t, err)

	res, err := svc.CompareConfigurations(ctx, 0, 1, "PH")
	require.NoError(t, err)
	assert.Equal(t, 11, res.All.Pairs)
	assert.Zero(t, res.All.LegacyOnly)
	assert.Zero(t, res.All.CurrentOnly)

	var overall bool
	for _, s := range res.Scopes {
		if s.Scope == model.ScopeOverall {
			overall = true
			assert.Equal(t, 3, s.Pairs)
			assert.Equal(t, 1, s.ExactMatches)
		}
	}
	assert.True(t, overall)

	_, err = svc.CompareConfigurations(ctx, 0, 7, "PH")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestBalanceWeights(t *testing.T) {
	cfg := model.DefaultFrameworkConfig()
	cfg.Overall = model.RollupConfig{Method: model.MethodCustomWeighted, Weights: map[string]float64{
		model.ScopeFramework: 1, string(model.CategoryHazard): 1, string(model.CategoryUnderlyingVulnerability): 1,
	}}

	out, err := BalanceWeights(cfg)
	require.NoError(t, err)
	assert.InDelta(t, 0.34, out.Overall.Weights[string(model.CategoryHazard)], 1e-9)
	assert.InDelta(t, 0.33, out.Overall.Weights[model.ScopeFramework], 1e-9)
	assert.InDelta(t, 0.33, out.Overall.Weights[string(model.CategoryUnderlyingVulnerability)], 1e-9)
	// Input untouched.
	assert.Equal(t, 1.0, cfg.Overall.Weights[model.ScopeFramework])

	cfg.Framework = model.RollupConfig{Method: model.MethodCustomWeighted, Weights: map[string]float64{"P1": 0}}
	_, err = BalanceWeights(cfg)
	assert.True(t, model.IsValidation(err))
}

func TestSetWeight_RebalancesSiblings(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	cfg := model.DefaultFrameworkConfig()
	cfg.Overall = model.RollupConfig{Method: model.MethodWeightedMean, Weights: map[string]float64{
		model.ScopeFramework: 0.5, string(model.CategoryHazard): 0.5,
	}}
	_, err := svc.ActivateFramework(ctx, cfg)
	require.NoError(t, err)

	next, err := svc.SetWeight(ctx, model.WeightLevelOverall, model.ScopeOverall, model.ScopeFramework, 80)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version)
	assert.InDelta(t, 0.62, next.Overall.Weights[model.ScopeFramework], 1e-9)
	assert.InDelta(t, 0.38, next.Overall.Weights[string(model.CategoryHazard)], 1e-9)

	active, err := st.GetActiveFrameworkConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)

	_, err = svc.SetWeight(ctx, "bogus", "", "x", 10)
	assert.True(t, model.IsValidation(err))
}
