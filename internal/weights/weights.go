// Package weights keeps sibling weight sets summing to 100 percent.
//
// Every function is pure: inputs are never mutated and the returned map is a
// fresh copy. The same functions serve the dataset-within-category,
// pillar-within-framework and overall levels independently.
package weights

import (
	"fmt"
	"math"
	"sort"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

// Total is the sum every committed percent set reaches.
const Total = 100.0

// Adjust sets key to v (clamped to [0,100]). Totals under 100 are left alone
// so intermediate states can be explored; a total above 100 rescales every
// sibling proportionally back to exactly 100.
func Adjust(w map[string]float64, key string, v float64) map[string]float64 {
	out := clone(w)
	out[key] = clamp(v)

	total := sum(out)
	if total <= Total {
		return out
	}
	factor := Total / total
	for k, x := range out {
		out[k] = x * factor
	}
	return out
}

// Commit renormalizes w to integer percentages summing to exactly 100. The
// rounding residual goes to the largest sibling (ties broken by key).
func Commit(w map[string]float64) (map[string]float64, error) {
	if len(w) == 0 {
		return map[string]float64{}, nil
	}
	for k, x := range w {
		if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, model.NewValidationError(fmt.Sprintf("weight for %q must be a finite value >= 0", k))
		}
	}
	total := sum(w)
	if total == 0 {
		return nil, model.NewValidationError("weight set is all zero")
	}

	keys := sortedKeys(w)
	scaled := make(map[string]float64, len(w))
	out := make(map[string]float64, len(w))
	var rounded float64
	for _, k := range keys {
		scaled[k] = w[k] * Total / total
		out[k] = math.Round(scaled[k])
		rounded += out[k]
	}

	largest := keys[0]
	for _, k := range keys[1:] {
		if scaled[k] > scaled[largest] {
			largest = k
		}
	}
	out[largest] += Total - rounded
	if out[largest] >= 0 {
		return out, nil
	}

	// Many half-way siblings can round the total far above 100; hand out the
	// units by largest remainder instead.
	return largestRemainder(keys, scaled), nil
}

// Rebalance applies Adjust and then Commit.
func Rebalance(w map[string]float64, key string, v float64) (map[string]float64, error) {
	return Commit(Adjust(w, key, v))
}

// Fractions converts a percent set to fractions summing to 1.
func Fractions(percents map[string]float64) (map[string]float64, error) {
	total := sum(percents)
	if len(percents) > 0 && total == 0 {
		return nil, model.NewValidationError("weight set is all zero")
	}
	out := make(map[string]float64, len(percents))
	for k, x := range percents {
		out[k] = x / total
	}
	return out, nil
}

// Percents converts fractions to percentages.
func Percents(fractions map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(fractions))
	for k, x := range fractions {
		out[k] = x * Total
	}
	return out
}

// ValidateFractions checks a non-empty fraction set sums to 1 within
// model.WeightTolerance and holds no negative members.
func ValidateFractions(w map[string]float64) error {
	if len(w) == 0 {
		return nil
	}
	var problems []string
	for _, k := range sortedKeys(w) {
		if w[k] < 0 {
			problems = append(problems, fmt.Sprintf("weight for %q must be >= 0", k))
		}
	}
	if s := sum(w); math.Abs(s-1) > model.WeightTolerance {
		problems = append(problems, fmt.Sprintf("weights sum to %.6f, must sum to 1", s))
	}
	if len(problems) > 0 {
		return model.NewValidationError(problems...)
	}
	return nil
}

// CommitFractions balances a fraction set: percent commit, then back to
// fractions. Used when persisting framework weights.
func CommitFractions(fractions map[string]float64) (map[string]float64, error) {
	committed, err := Commit(Percents(fractions))
	if err != nil {
		return nil, err
	}
	return Fractions(committed)
}

func largestRemainder(keys []string, scaled map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(keys))
	var floored float64
	for _, k := range keys {
		out[k] = math.Floor(scaled[k])
		floored += out[k]
	}
	order := append([]string(nil), keys...)
	sort.SliceStable(order, func(i, j int) bool {
		ri := scaled[order[i]] - out[order[i]]
		rj := scaled[order[j]] - out[order[j]]
		return ri > rj
	})
	for i := 0; floored < Total; i++ {
		out[order[i%len(order)]]++
		floored++
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > Total:
		return Total
	}
	return v
}

func clone(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w)+1)
	for k, v := range w {
		out[k] = v
	}
	return out
}

func sum(w map[string]float64) float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}

func sortedKeys(w map[string]float64) []string {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
