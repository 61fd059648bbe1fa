package model

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Score scopes above the dataset level.
const (
	ScopeFramework = "framework"
	ScopeOverall   = "overall"
)

// Method is an aggregation policy for combining child scores.
type Method string

const (
	MethodMean              Method = "mean"
	MethodWeightedMean      Method = "weighted_mean"
	MethodWorstCase         Method = "worst_case"
	MethodMedian            Method = "median"
	MethodCustomWeighted    Method = "custom_weighted"
	MethodTwentyPercent     Method = "20_percent"
	MethodCustomPercentRule Method = "custom_percent_rule"
)

// WeightTolerance bounds how far a fraction weight set may drift from 1.
const WeightTolerance = 1e-6

// RollupConfig configures one aggregation step.
type RollupConfig struct {
	Method      Method             `json:"method" yaml:"method"`
	Weights     map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	Threshold   float64            `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Required    []string           `json:"required,omitempty" yaml:"required,omitempty"`
	MinChildren int                `json:"min_children,omitempty" yaml:"min_children,omitempty"`
}

// EffectiveThreshold returns the share threshold for the percent-rule methods.
func (r RollupConfig) EffectiveThreshold() float64 {
	if r.Method == MethodCustomPercentRule && r.Threshold > 0 {
		return r.Threshold
	}
	return DefaultPercentThreshold
}

// Validate rejects unknown methods and unusable weight tables.
func (r RollupConfig) Validate() error {
	var errs []string
	var sum float64
	for k, w := range r.Weights {
		if w < 0 || math.IsNaN(w) {
			errs = append(errs, fmt.Sprintf("weight for %q must be >= 0", k))
		}
		sum += w
	}
	switch r.Method {
	case MethodMean, MethodWorstCase, MethodMedian, MethodTwentyPercent:
	case MethodWeightedMean:
		if sum == 0 {
			errs = append(errs, "weighted_mean requires a non-zero weight set")
		} else if math.Abs(sum-1) > WeightTolerance {
			errs = append(errs, fmt.Sprintf("weighted_mean weights must sum to 1, got %.6f", sum))
		}
	case MethodCustomWeighted:
		if sum == 0 {
			errs = append(errs, "custom_weighted requires a non-zero weight table")
		}
	case MethodCustomPercentRule:
		if r.Threshold <= 0 || r.Threshold > 1 {
			errs = append(errs, fmt.Sprintf("custom_percent_rule threshold must be in (0,1], got %.2f", r.Threshold))
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown method %q", r.Method))
	}
	if r.MinChildren < 0 {
		errs = append(errs, "min_children must be >= 0")
	}
	if len(errs) > 0 {
		return NewValidationError(errs...)
	}
	return nil
}

// WeightLevel names a hierarchy level that owns a sibling weight set.
type WeightLevel string

const (
	WeightLevelDataset WeightLevel = "dataset" // datasets within a category
	WeightLevelPillar  WeightLevel = "pillar"  // P1/P2/P3 within the framework
	WeightLevelOverall WeightLevel = "overall" // framework/Hazard/UV within overall
)

// WeightAssignment is one sibling weight set expressed as fractions.
type WeightAssignment struct {
	Level   WeightLevel        `json:"level"`
	Parent  string             `json:"parent"`
	Weights map[string]float64 `json:"weights"`
}

// FrameworkConfig is a versioned aggregation configuration. Exactly one
// version is active at a time.
type FrameworkConfig struct {
	ID         string                    `json:"id" yaml:"-"`
	Version    int                       `json:"version" yaml:"-"`
	Active     bool                      `json:"active" yaml:"-"`
	Name       string                    `json:"name" yaml:"name"`
	Categories map[Category]RollupConfig `json:"categories" yaml:"categories"`
	Framework  RollupConfig              `json:"framework" yaml:"framework"`
	Overall    RollupConfig              `json:"overall" yaml:"overall"`
	CreatedAt  time.Time                 `json:"created_at" yaml:"-"`
}

// DefaultFrameworkConfig averages at every level.
func DefaultFrameworkConfig() FrameworkConfig {
	cats := make(map[Category]RollupConfig, len(Categories))
	for _, c := range Categories {
		cats[c] = RollupConfig{Method: MethodMean}
	}
	return FrameworkConfig{
		Name:       "default",
		Categories: cats,
		Framework:  RollupConfig{Method: MethodMean},
		Overall:    RollupConfig{Method: MethodMean},
	}
}

// CategoryRollup returns the rollup for c, falling back to a plain mean.
func (f FrameworkConfig) CategoryRollup(c Category) RollupConfig {
	if rc, ok := f.Categories[c]; ok && rc.Method != "" {
		return rc
	}
	return RollupConfig{Method: MethodMean}
}

// Validate checks every rollup step.
func (f FrameworkConfig) Validate() error {
	var errs []string
	for c, rc := range f.Categories {
		if !c.Valid() {
			errs = append(errs, fmt.Sprintf("unknown category %q", c))
			continue
		}
		if err := rc.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("category %s: %s", c, err))
		}
	}
	if err := f.Framework.Validate(); err != nil {
		errs = append(errs, "framework: "+err.Error())
	}
	if err := f.Overall.Validate(); err != nil {
		errs = append(errs, "overall: "+err.Error())
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return NewValidationError(errs...)
	}
	return nil
}

// WeightAssignments lists every non-empty sibling weight set.
func (f FrameworkConfig) WeightAssignments() []WeightAssignment {
	var out []WeightAssignment
	for _, c := range Categories {
		if rc, ok := f.Categories[c]; ok && len(rc.Weights) > 0 {
			out = append(out, WeightAssignment{Level: WeightLevelDataset, Parent: string(c), Weights: copyWeights(rc.Weights)})
		}
	}
	if len(f.Framework.Weights) > 0 {
		out = append(out, WeightAssignment{Level: WeightLevelPillar, Parent: ScopeFramework, Weights: copyWeights(f.Framework.Weights)})
	}
	if len(f.Overall.Weights) > 0 {
		out = append(out, WeightAssignment{Level: WeightLevelOverall, Parent: ScopeOverall, Weights: copyWeights(f.Overall.Weights)})
	}
	return out
}

// WithWeights returns a copy of f with one sibling set replaced.
func (f FrameworkConfig) WithWeights(a WeightAssignment) (FrameworkConfig, error) {
	out := f
	out.Categories = make(map[Category]RollupConfig, len(f.Categories))
	for k, v := range f.Categories {
		out.Categories[k] = v
	}
	switch a.Level {
	case WeightLevelDataset:
		c := Category(a.Parent)
		if !c.Valid() {
			return f, NewValidationError(fmt.Sprintf("unknown category %q", a.Parent))
		}
		rc := out.CategoryRollup(c)
		rc.Weights = copyWeights(a.Weights)
		out.Categories[c] = rc
	case WeightLevelPillar:
		out.Framework.Weights = copyWeights(a.Weights)
	case WeightLevelOverall:
		out.Overall.Weights = copyWeights(a.Weights)
	default:
		return f, NewValidationError(fmt.Sprintf("unknown weight level %q", a.Level))
	}
	return out, nil
}

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
