package aggregate

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRollup_Methods(t *testing.T) {
	tests := []struct {
		name     string
		cfg      model.RollupConfig
		children map[string]float64
		want     float64
	}{
		{"mean", model.RollupConfig{Method: model.MethodMean}, map[string]float64{"a": 2, "b": 4}, 3},
		{"weighted_mean", model.RollupConfig{Method: model.MethodWeightedMean, Weights: map[string]float64{"a": 0.25, "b": 0.75}}, map[string]float64{"a": 2, "b": 4}, 3.5},
		{"weighted_mean renormalizes over present", model.RollupConfig{Method: model.MethodWeightedMean, Weights: map[string]float64{"a": 0.25, "b": 0.75}}, map[string]float64{"a": 2}, 2},
		{"custom_weighted", model.RollupConfig{Method: model.MethodCustomWeighted, Weights: map[string]float64{"a": 1, "b": 3}}, map[string]float64{"a": 2, "b": 4}, 3.5},
		{"worst_case", model.RollupConfig{Method: model.MethodWorstCase}, map[string]float64{"a": 2, "b": 4}, 4},
		{"median odd", model.RollupConfig{Method: model.MethodMedian}, map[string]float64{"a": 1, "b": 3, "c": 5}, 3},
		{"median even", model.RollupConfig{Method: model.MethodMedian}, map[string]float64{"a": 2, "b": 4}, 3},
		{"20_percent picks prevalent bucket", model.RollupConfig{Method: model.MethodTwentyPercent}, map[string]float64{"a": 2, "b": 4, "c": 4, "d": 4}, 4},
		{"20_percent tie goes to higher score", model.RollupConfig{Method: model.MethodTwentyPercent}, map[string]float64{"a": 2, "b": 4}, 4},
		{"custom_percent_rule weighted shares", model.RollupConfig{Method: model.MethodCustomPercentRule, Threshold: 0.5, Weights: map[string]float64{"a": 3, "b": 1}}, map[string]float64{"a": 2.2, "b": 4}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := Rollup(tt.cfg, tt.children)
			require.NoError(t, err)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRollup_Gaps(t *testing.T) {
	tests := []struct {
		name     string
		cfg      model.RollupConfig
		children map[string]float64
	}{
		{"no children", model.RollupConfig{Method: model.MethodMean}, nil},
		{"required child missing", model.RollupConfig{Method: model.MethodMean, Required: []string{"framework"}}, map[string]float64{"Hazard": 3}},
		{"below min children", model.RollupConfig{Method: model.MethodMean, MinChildren: 3}, map[string]float64{"a": 1, "b": 2}},
		{"no weighted child present", model.RollupConfig{Method: model.MethodCustomWeighted, Weights: map[string]float64{"a": 1}}, map[string]float64{"b": 2}},
		{"no bucket reaches threshold", model.RollupConfig{Method: model.MethodCustomPercentRule, Threshold: 0.8}, map[string]float64{"a": 2, "b": 4, "c": 4, "d": 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := Rollup(tt.cfg, tt.children)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRollup_InvalidConfig(t *testing.T) {
	_, _, err := Rollup(model.RollupConfig{Method: "geometric"}, map[string]float64{"a": 1})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))

	_, _, err = Rollup(model.RollupConfig{Method: model.MethodWeightedMean, Weights: map[string]float64{"a": 0.5}}, map[string]float64{"a": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must sum to 1")
}

func TestControlling(t *testing.T) {
	shares := []Share{
		{Label: "A", Share: 0.25, Score: 2, Scored: true},
		{Label: "B", Share: 0.75, Score: 4, Scored: true},
	}
	got, ok := Controlling(shares, 0.2)
	require.True(t, ok)
	assert.Equal(t, "B", got.Label)

	// unscored labels take part in shares but cannot control
	shares = []Share{
		{Label: "unknown", Share: 0.6},
		{Label: "A", Share: 0.4, Score: 2, Scored: true},
	}
	got, ok = Controlling(shares, 0.2)
	require.True(t, ok)
	assert.Equal(t, "A", got.Label)

	_, ok = Controlling([]Share{{Label: "A", Share: 0.1, Score: 5, Scored: true}}, 0.2)
	assert.False(t, ok)
}

func TestRanked_TieBreaks(t *testing.T) {
	ranked := Ranked([]Share{
		{Label: "b", Share: 0.5, Score: 3},
		{Label: "a", Share: 0.5, Score: 3},
		{Label: "c", Share: 0.5, Score: 4},
	})
	labels := make([]string, len(ranked))
	for i, s := range ranked {
		labels[i] = s.Label
	}
	assert.Equal(t, []string{"c", "a", "b"}, labels)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 2, 3}))
	assert.True(t, Median(nil) != Median(nil), "empty median is NaN")
}

func engineFixture() ([]model.Dataset, []model.Score) {
	datasets := []model.Dataset{
		{ID: "d1", Category: model.CategoryP1},
		{ID: "d2", Category: model.CategoryP1},
		{ID: "d3", Category: model.CategoryP2},
		{ID: "h1", Category: model.CategoryHazard},
		{ID: "u1", Category: model.CategoryUnderlyingVulnerability},
	}
	scores := []model.Score{
		{AdminPcode: "PH0702", Scope: "d1", Value: 2},
		{AdminPcode: "PH0702", Scope: "d2", Value: 4},
		{AdminPcode: "PH0702", Scope: "d3", Value: 3},
		{AdminPcode: "PH0702", Scope: "h1", Value: 5},
		{AdminPcode: "PH0702", Scope: "u1", Value: 1},
		{AdminPcode: "PH0703", Scope: "h1", Value: 4},
		{AdminPcode: "PH0703", Scope: "orphan", Value: 1},
	}
	return datasets, scores
}

func TestEngine_Run(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	model.SetClock(clockwork.NewFakeClockAt(at))
	defer model.SetClock(nil)

	e, err := NewEngine(model.DefaultFrameworkConfig())
	require.NoError(t, err)

	datasets, scores := engineFixture()
	got, err := e.Run(datasets, scores)
	require.NoError(t, err)

	want := []model.Score{
		{AdminPcode: "PH0702", Scope: "P1", Value: 3, ComputedAt: at},
		{AdminPcode: "PH0702", Scope: "P2", Value: 3, ComputedAt: at},
		{AdminPcode: "PH0702", Scope: "Hazard", Value: 5, ComputedAt: at},
		{AdminPcode: "PH0702", Scope: "Underlying Vulnerability", Value: 1, ComputedAt: at},
		{AdminPcode: "PH0702", Scope: model.ScopeFramework, Value: 3, ComputedAt: at},
		{AdminPcode: "PH0702", Scope: model.ScopeOverall, Value: 3, ComputedAt: at},
		{AdminPcode: "PH0703", Scope: "Hazard", Value: 4, ComputedAt: at},
		{AdminPcode: "PH0703", Scope: model.ScopeOverall, Value: 4, ComputedAt: at},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Run() mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_RequiredFrameworkLeavesGap(t *testing.T) {
	cfg := model.DefaultFrameworkConfig()
	cfg.Overall = model.RollupConfig{Method: model.MethodMean, Required: []string{model.ScopeFramework}}
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	datasets, scores := engineFixture()
	got, err := e.Run(datasets, scores)
	require.NoError(t, err)

	for _, s := range got {
		if s.AdminPcode == "PH0703" {
			assert.NotEqual(t, model.ScopeOverall, s.Scope, "PH0703 has no framework score")
		}
	}
}

func TestEngine_Idempotent(t *testing.T) {
	model.SetClock(clockwork.NewFakeClock())
	defer model.SetClock(nil)

	cfg := model.DefaultFrameworkConfig()
	cfg.Overall = model.RollupConfig{Method: model.MethodWeightedMean, Weights: map[string]float64{
		model.ScopeFramework: 0.5, "Hazard": 0.3, "Underlying Vulnerability": 0.2,
	}}
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	datasets, scores := engineFixture()
	first, err := e.Run(datasets, scores)
	require.NoError(t, err)
	second, err := e.Run(datasets, scores)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := model.DefaultFrameworkConfig()
	cfg.Framework = model.RollupConfig{Method: model.MethodCustomWeighted}
	_, err := NewEngine(cfg)
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}
