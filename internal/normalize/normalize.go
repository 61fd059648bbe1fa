// Package normalize turns one dataset's clean values into per-area scores on
// a 1..scaleMax severity scale.
package normalize

import (
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/aggregate"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

// Options restricts scoring to a set of areas.
type Options struct {
	// Scope holds pcode prefixes. Empty means every area.
	Scope []string
	// UseScopeRange computes the normalization min/max from in-scope
	// values only instead of the national range.
	UseScopeRange bool
}

// Result holds the scored areas and the in-scope areas that got no score.
type Result struct {
	Scores  []model.Score `json:"scores"`
	NoScore []string      `json:"no_score"`
}

// Dataset scores values under cfg. The config is validated first; an invalid
// config returns a ValidationError and nothing is scored.
func Dataset(values []model.CleanValue, cfg model.ScoringConfig, opts Options) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, eris.Wrap(err, "normalize: scoring config")
	}

	var res Result
	switch cfg.Kind {
	case model.DatasetNumeric:
		res = numeric(values, *cfg.Numeric, opts)
	case model.DatasetCategorical:
		res = categorical(values, *cfg.Categorical, opts)
	}

	now := model.Clock().Now().UTC()
	for i := range res.Scores {
		res.Scores[i].ComputedAt = now
	}
	sort.Slice(res.Scores, func(i, j int) bool { return res.Scores[i].AdminPcode < res.Scores[j].AdminPcode })
	sort.Strings(res.NoScore)
	return res, nil
}

func inScope(pcode string, scope []string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, p := range scope {
		if strings.HasPrefix(pcode, p) {
			return true
		}
	}
	return false
}

func numeric(values []model.CleanValue, cfg model.NumericConfig, opts Options) Result {
	lo, hi := math.Inf(1), math.Inf(-1)
	byArea := make(map[string]model.CleanValue, len(values))
	for _, v := range values {
		finite := !math.IsNaN(v.Value) && !math.IsInf(v.Value, 0)
		scoped := inScope(v.AdminPcode, opts.Scope)
		if finite && (scoped || !opts.UseScopeRange) {
			lo = math.Min(lo, v.Value)
			hi = math.Max(hi, v.Value)
		}
		if scoped {
			byArea[v.AdminPcode] = v
		}
	}

	var res Result
	for _, pcode := range sortedKeys(byArea) {
		v := byArea[pcode]
		score, ok := numericScore(v.Value, lo, hi, cfg)
		if !ok {
			res.NoScore = append(res.NoScore, pcode)
			continue
		}
		res.Scores = append(res.Scores, model.Score{AdminPcode: pcode, Scope: v.DatasetID, Value: score})
	}
	return res
}

func numericScore(v, lo, hi float64, cfg model.NumericConfig) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	scaleMax := float64(cfg.ScaleMax)

	if cfg.Method == model.NumericThreshold {
		for _, r := range cfg.Ranges {
			if r.Contains(v) {
				return r.Score, true
			}
		}
		return 0, false
	}

	var offset float64
	if hi > lo {
		offset = (v - lo) / (hi - lo)
	}
	score := clamp(1+offset*(scaleMax-1), 1, scaleMax)
	if cfg.Inverse {
		score = scaleMax + 1 - score
	}
	return score, true
}

func categorical(values []model.CleanValue, cfg model.CategoricalConfig, opts Options) Result {
	scores := make(map[string]float64, len(cfg.CategoryScores))
	weights := make(map[string]float64, len(cfg.Weights))
	for label, s := range cfg.CategoryScores {
		scores[labelKey(label)] = s
	}
	for label, w := range cfg.Weights {
		weights[labelKey(label)] = w
	}

	type dist struct {
		datasetID string
		labels    map[string]float64
	}
	byArea := make(map[string]*dist)
	for _, v := range values {
		if !inScope(v.AdminPcode, opts.Scope) {
			continue
		}
		d := byArea[v.AdminPcode]
		if d == nil {
			d = &dist{datasetID: v.DatasetID, labels: make(map[string]float64)}
			byArea[v.AdminPcode] = d
		}
		if v.Value > 0 {
			d.labels[labelKey(v.Category)] += v.Value
		}
	}

	var res Result
	for _, pcode := range sortedKeys(byArea) {
		d := byArea[pcode]
		var total float64
		for _, w := range d.labels {
			total += w
		}
		shares := make([]aggregate.Share, 0, len(d.labels))
		for label, w := range d.labels {
			s, scored := scores[label]
			shares = append(shares, aggregate.Share{Label: label, Share: w / total, Score: s, Scored: scored})
		}

		score, ok := categoricalScore(shares, weights, cfg)
		if !ok {
			res.NoScore = append(res.NoScore, pcode)
			continue
		}
		res.Scores = append(res.Scores, model.Score{AdminPcode: pcode, Scope: d.datasetID, Value: score})
	}
	return res
}

func categoricalScore(shares []aggregate.Share, weights map[string]float64, cfg model.CategoricalConfig) (float64, bool) {
	switch cfg.Method {
	case model.CategoricalMostPrevalent:
		// The plurality label decides even when it carries no score.
		ranked := aggregate.Ranked(shares)
		if len(ranked) == 0 || !ranked[0].Scored {
			return 0, false
		}
		return ranked[0].Score, true
	case model.CategoricalTwentyPercentRule, model.CategoricalCustomPercentRule:
		s, ok := aggregate.Controlling(shares, cfg.EffectiveThreshold())
		return s.Score, ok
	}

	var xs, ws []float64
	for _, s := range aggregate.Ranked(shares) {
		if !s.Scored {
			continue
		}
		w := s.Share
		if cw, ok := weights[s.Label]; ok {
			w *= cw
		}
		if w <= 0 {
			continue
		}
		xs = append(xs, s.Score)
		ws = append(ws, w)
	}
	if len(xs) == 0 {
		return 0, false
	}
	if cfg.Method == model.CategoricalMedianScore {
		return aggregate.Median(xs), true
	}
	return stat.Mean(xs, ws), true
}

// labelKey folds case and surrounding space so "Damaged " matches "damaged".
func labelKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
