// Package compare computes descriptive statistics between two score sets,
// typically a legacy configuration against a candidate one.
package compare

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

const (
	// SignificantDelta is the absolute change above which a pair counts as significant.
	SignificantDelta = 0.5
	// exactEpsilon treats float noise as an exact match.
	exactEpsilon = 1e-9
)

// ScopeAll labels the pooled statistics over every scope.
const ScopeAll = "all"

// Stats describes the pairwise agreement for one scope. Areas present in
// only one set are counted but excluded from the pairwise figures.
type Stats struct {
	Scope              string   `json:"scope"`
	Pairs              int      `json:"pairs"`
	AvgDelta           float64  `json:"avg_delta"`
	MAE                float64  `json:"mae"`
	RMSE               float64  `json:"rmse"`
	Correlation        *float64 `json:"correlation"`
	SignificantChanges int      `json:"significant_changes"`
	ExactMatches       int      `json:"exact_matches"`
	MatchRate          float64  `json:"match_rate"`
	LegacyOnly         int      `json:"legacy_only"`
	CurrentOnly        int      `json:"current_only"`
}

// Result holds per-scope statistics and the pooled figures.
type Result struct {
	Scopes []Stats `json:"scopes"`
	All    Stats   `json:"all"`
}

type pair struct{ legacy, current float64 }

// Compare joins the two sets on (area, scope) and summarizes the deltas
// (current minus legacy). Inputs are never modified.
func Compare(legacy, current []model.Score) Result {
	l := index(legacy)
	c := index(current)

	scopes := make(map[string]struct{})
	for s := range l {
		scopes[s] = struct{}{}
	}
	for s := range c {
		scopes[s] = struct{}{}
	}

	var res Result
	var all []pair
	var allLegacyOnly, allCurrentOnly int
	for _, scope := range orderScopes(scopes) {
		pairs, lo, co := join(l[scope], c[scope])
		st := summarize(scope, pairs)
		st.LegacyOnly, st.CurrentOnly = lo, co
		res.Scopes = append(res.Scopes, st)

		all = append(all, pairs...)
		allLegacyOnly += lo
		allCurrentOnly += co
	}
	res.All = summarize(ScopeAll, all)
	res.All.LegacyOnly, res.All.CurrentOnly = allLegacyOnly, allCurrentOnly
	return res
}

func index(scores []model.Score) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for _, s := range scores {
		m := out[s.Scope]
		if m == nil {
			m = make(map[string]float64)
			out[s.Scope] = m
		}
		m[s.AdminPcode] = s.Value
	}
	return out
}

func join(legacy, current map[string]float64) ([]pair, int, int) {
	areas := make([]string, 0, len(legacy))
	for a := range legacy {
		areas = append(areas, a)
	}
	sort.Strings(areas)

	var pairs []pair
	var legacyOnly int
	for _, a := range areas {
		cv, ok := current[a]
		if !ok {
			legacyOnly++
			continue
		}
		pairs = append(pairs, pair{legacy: legacy[a], current: cv})
	}
	currentOnly := len(current) - len(pairs)
	return pairs, legacyOnly, currentOnly
}

func summarize(scope string, pairs []pair) Stats {
	st := Stats{Scope: scope, Pairs: len(pairs)}
	if len(pairs) == 0 {
		return st
	}

	xs := make([]float64, len(pairs))
	ys := make([]float64, len(pairs))
	var sum, abs, sq float64
	for i, p := range pairs {
		xs[i], ys[i] = p.legacy, p.current
		d := p.current - p.legacy
		sum += d
		abs += math.Abs(d)
		sq += d * d
		if math.Abs(d) > SignificantDelta {
			st.SignificantChanges++
		}
		if math.Abs(d) <= exactEpsilon {
			st.ExactMatches++
		}
	}
	n := float64(len(pairs))
	st.AvgDelta = sum / n
	st.MAE = abs / n
	st.RMSE = math.Sqrt(sq / n)
	st.MatchRate = float64(st.ExactMatches) / n
	st.Correlation = correlation(xs, ys, st.ExactMatches == len(pairs))
	return st
}

// correlation returns Pearson r, 1 for identical sets, and nil when either
// side has no variance.
func correlation(xs, ys []float64, identical bool) *float64 {
	if identical {
		r := 1.0
		return &r
	}
	if len(xs) < 2 || stat.Variance(xs, nil) == 0 || stat.Variance(ys, nil) == 0 {
		return nil
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		return nil
	}
	return &r
}

// orderScopes lists categories in taxonomy order, then framework and
// overall, then dataset scopes alphabetically.
func orderScopes(scopes map[string]struct{}) []string {
	rank := make(map[string]int, len(model.Categories)+2)
	for i, c := range model.Categories {
		rank[string(c)] = i
	}
	rank[model.ScopeFramework] = len(model.Categories)
	rank[model.ScopeOverall] = len(model.Categories) + 1

	out := make([]string, 0, len(scopes))
	for s := range scopes {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return out[i] < out[j]
	})
	return out
}
