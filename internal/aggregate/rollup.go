// Package aggregate rolls child scores up the dataset, category, framework
// and overall hierarchy.
package aggregate

import (
	"fmt"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

// Rollup combines the present children of one area into a parent score.
// A false ok is an aggregation gap: the area gets no score at this scope.
// Children missing from the map are absent, never zero.
func Rollup(cfg model.RollupConfig, children map[string]float64) (float64, bool, error) {
	if err := cfg.Validate(); err != nil {
		return 0, false, eris.Wrap(err, "aggregate: rollup config")
	}

	for _, req := range cfg.Required {
		if _, ok := children[req]; !ok {
			return 0, false, nil
		}
	}
	if len(children) == 0 || len(children) < cfg.MinChildren {
		return 0, false, nil
	}

	keys := make([]string, 0, len(children))
	for k, v := range children {
		if math.IsNaN(v) {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return 0, false, nil
	}
	sort.Strings(keys)
	values := make([]float64, len(keys))
	for i, k := range keys {
		values[i] = children[k]
	}

	switch cfg.Method {
	case model.MethodMean:
		return stat.Mean(values, nil), true, nil
	case model.MethodWeightedMean, model.MethodCustomWeighted:
		return weightedMean(cfg.Weights, keys, values)
	case model.MethodWorstCase:
		return floats.Max(values), true, nil
	case model.MethodMedian:
		return Median(values), true, nil
	case model.MethodTwentyPercent, model.MethodCustomPercentRule:
		return percentRule(cfg, keys, values)
	}
	return 0, false, eris.Errorf("aggregate: unsupported method %q", cfg.Method)
}

// weightedMean renormalizes the configured weights over the present children.
func weightedMean(table map[string]float64, keys []string, values []float64) (float64, bool, error) {
	var xs, ws []float64
	for i, k := range keys {
		if w := table[k]; w > 0 {
			xs = append(xs, values[i])
			ws = append(ws, w)
		}
	}
	if len(xs) == 0 {
		return 0, false, nil
	}
	return stat.Mean(xs, ws), true, nil
}

// percentRule buckets children by rounded score and lets the most prevalent
// bucket reaching the threshold decide. Shares are by weight when a weight
// table is configured, otherwise by count.
func percentRule(cfg model.RollupConfig, keys []string, values []float64) (float64, bool, error) {
	buckets := make(map[float64]float64)
	var total float64
	for i, k := range keys {
		w := 1.0
		if len(cfg.Weights) > 0 {
			w = cfg.Weights[k]
		}
		if w <= 0 {
			continue
		}
		buckets[math.Round(values[i])] += w
		total += w
	}
	if total == 0 {
		return 0, false, nil
	}

	shares := make([]Share, 0, len(buckets))
	for score, w := range buckets {
		shares = append(shares, Share{
			Label:  fmt.Sprintf("%g", score),
			Share:  w / total,
			Score:  score,
			Scored: true,
		})
	}
	s, ok := Controlling(shares, cfg.EffectiveThreshold())
	if !ok {
		return 0, false, nil
	}
	return s.Score, true, nil
}
