package weights

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

func TestAdjust_UnderTotalIsFree(t *testing.T) {
	in := map[string]float64{"a": 30, "b": 30}
	out := Adjust(in, "a", 50)

	assert.Equal(t, map[string]float64{"a": 50, "b": 30}, out)
	assert.Equal(t, 30.0, in["a"], "input must not be mutated")
}

func TestAdjust_OverTotalRescales(t *testing.T) {
	out := Adjust(map[string]float64{"a": 50, "b": 50}, "a", 100)

	assert.InDelta(t, 66.6667, out["a"], 1e-3)
	assert.InDelta(t, 33.3333, out["b"], 1e-3)
	assert.InDelta(t, 100, sum(out), 1e-9)
}

func TestAdjust_Clamps(t *testing.T) {
	out := Adjust(map[string]float64{"a": 10, "b": 20}, "a", -5)
	assert.Equal(t, 0.0, out["a"])

	out = Adjust(map[string]float64{"a": 10}, "a", 250)
	assert.Equal(t, 100.0, out["a"])

	out = Adjust(map[string]float64{"a": 10}, "b", math.NaN())
	assert.Equal(t, 0.0, out["b"])
}

func TestCommit_ResidualToLargest(t *testing.T) {
	out, err := Commit(map[string]float64{"a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 67, "b": 33}, out)

	out, err = Commit(map[string]float64{"a": 1, "b": 1, "c": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 34, "b": 33, "c": 33}, out)
}

func TestCommit_AllZero(t *testing.T) {
	_, err := Commit(map[string]float64{"a": 0, "b": 0})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestCommit_Negative(t *testing.T) {
	_, err := Commit(map[string]float64{"a": -1, "b": 5})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestCommit_Empty(t *testing.T) {
	out, err := Commit(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCommit_ManyHalfwaySiblings(t *testing.T) {
	w := make(map[string]float64, 200)
	for i := 0; i < 200; i++ {
		w[fmt.Sprintf("d%03d", i)] = 1
	}
	out, err := Commit(w)
	require.NoError(t, err)

	assert.Equal(t, 100.0, sum(out))
	for k, v := range out {
		assert.GreaterOrEqual(t, v, 0.0, k)
		assert.Equal(t, math.Round(v), v, k)
	}
}

func TestCommit_AlwaysTotals100(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(12)
		w := make(map[string]float64, n)
		for j := 0; j < n; j++ {
			w[fmt.Sprintf("k%d", j)] = rng.Float64() * 100
		}
		w["k0"] += 0.01

		out, err := Commit(w)
		require.NoError(t, err)
		assert.Equal(t, 100.0, sum(out), "set %v", w)
		for k, v := range out {
			assert.Equal(t, math.Round(v), v, k)
			assert.GreaterOrEqual(t, v, 0.0, k)
		}
	}
}

func TestRebalance(t *testing.T) {
	out, err := Rebalance(map[string]float64{"P1": 34, "P2": 33, "P3": 33}, "P1", 60)
	require.NoError(t, err)

	assert.Equal(t, 100.0, sum(out))
	assert.Greater(t, out["P1"], out["P2"])
	assert.Equal(t, out["P2"], out["P3"])
}

func TestFractionsAndPercents(t *testing.T) {
	f, err := Fractions(map[string]float64{"a": 25, "b": 75})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, f["a"], 1e-12)
	assert.InDelta(t, 0.75, f["b"], 1e-12)
	require.NoError(t, ValidateFractions(f))

	assert.InDeltaMapValues(t, map[string]float64{"a": 25, "b": 75}, Percents(f), 1e-9)

	_, err = Fractions(map[string]float64{"a": 0})
	assert.True(t, model.IsValidation(err))
}

func TestValidateFractions(t *testing.T) {
	assert.NoError(t, ValidateFractions(nil))
	assert.NoError(t, ValidateFractions(map[string]float64{"a": 0.3333333, "b": 0.6666667}))

	err := ValidateFractions(map[string]float64{"a": 0.5, "b": 0.4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must sum to 1")

	err = ValidateFractions(map[string]float64{"a": 1.5, "b": -0.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `weight for "b" must be >= 0`)
}

func TestCommitFractions(t *testing.T) {
	out, err := CommitFractions(map[string]float64{"framework": 0.5, "Hazard": 0.3, "Underlying Vulnerability": 0.1})
	require.NoError(t, err)
	require.NoError(t, ValidateFractions(out))
	assert.InDelta(t, 0.56, out["framework"], 1e-9)
}
