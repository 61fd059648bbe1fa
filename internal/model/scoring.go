package model

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DefaultScaleMax is the top of the severity scale.
const DefaultScaleMax = 5

// DefaultPercentThreshold is the share a category must reach under the 20% rule.
const DefaultPercentThreshold = 0.20

// NumericMethod selects how numeric values become scores.
type NumericMethod string

const (
	NumericNormalization NumericMethod = "normalization"
	NumericThreshold     NumericMethod = "threshold"
)

// CategoricalMethod selects how a per-area label distribution becomes a score.
type CategoricalMethod string

const (
	CategoricalMostPrevalent     CategoricalMethod = "most_prevalent"
	CategoricalMedianScore       CategoricalMethod = "median_score"
	CategoricalWeightedMean      CategoricalMethod = "weighted_mean"
	CategoricalTwentyPercentRule CategoricalMethod = "20_percent_rule"
	CategoricalCustomPercentRule CategoricalMethod = "custom_percent_rule"
)

// Range maps the half-open interval [Min, Max) to Score. A nil bound is open.
type Range struct {
	Min   *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max   *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Score float64  `json:"score" yaml:"score"`
}

// Contains reports whether v falls inside the range.
func (r Range) Contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v >= *r.Max {
		return false
	}
	return true
}

func (r Range) lower() float64 {
	if r.Min == nil {
		return math.Inf(-1)
	}
	return *r.Min
}

func (r Range) upper() float64 {
	if r.Max == nil {
		return math.Inf(1)
	}
	return *r.Max
}

// NumericConfig scores numeric datasets.
type NumericConfig struct {
	Method   NumericMethod `json:"method" yaml:"method"`
	ScaleMax int           `json:"scale_max" yaml:"scale_max"`
	Inverse  bool          `json:"inverse" yaml:"inverse"`
	Ranges   []Range       `json:"ranges,omitempty" yaml:"ranges,omitempty"`
}

// CategoricalConfig scores categorical datasets.
type CategoricalConfig struct {
	CategoryScores map[string]float64 `json:"category_scores" yaml:"category_scores"`
	Method         CategoricalMethod  `json:"method" yaml:"method"`
	Threshold      float64            `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Weights        map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// EffectiveThreshold returns the share threshold the configured method uses.
func (c CategoricalConfig) EffectiveThreshold() float64 {
	if c.Method == CategoricalCustomPercentRule && c.Threshold > 0 {
		return c.Threshold
	}
	return DefaultPercentThreshold
}

// ScoringConfig is a tagged union: exactly one of Numeric or Categorical is
// set, matching Kind.
type ScoringConfig struct {
	Kind        DatasetType        `json:"kind" yaml:"kind"`
	Numeric     *NumericConfig     `json:"numeric,omitempty" yaml:"numeric,omitempty"`
	Categorical *CategoricalConfig `json:"categorical,omitempty" yaml:"categorical,omitempty"`
}

// Validate checks the config is well formed. Defaults (scale max) are applied
// in place so callers can rely on them afterwards.
func (c *ScoringConfig) Validate() error {
	if c == nil {
		return NewValidationError("scoring config is empty")
	}
	var errs []string
	switch c.Kind {
	case DatasetNumeric:
		if c.Categorical != nil {
			errs = append(errs, "numeric config must not carry a categorical section")
		}
		if c.Numeric == nil {
			errs = append(errs, "numeric section is required")
			break
		}
		errs = append(errs, c.Numeric.validate()...)
	case DatasetCategorical:
		if c.Numeric != nil {
			errs = append(errs, "categorical config must not carry a numeric section")
		}
		if c.Categorical == nil {
			errs = append(errs, "categorical section is required")
			break
		}
		errs = append(errs, c.Categorical.validate()...)
	default:
		errs = append(errs, fmt.Sprintf("unknown kind %q", c.Kind))
	}
	if len(errs) > 0 {
		return NewValidationError(errs...)
	}
	return nil
}

func (n *NumericConfig) validate() []string {
	var errs []string
	if n.ScaleMax == 0 {
		n.ScaleMax = DefaultScaleMax
	}
	if n.ScaleMax < 2 || n.ScaleMax > DefaultScaleMax {
		errs = append(errs, fmt.Sprintf("scale_max must be between 2 and %d, got %d", DefaultScaleMax, n.ScaleMax))
	}
	switch n.Method {
	case NumericNormalization:
	case NumericThreshold:
		if len(n.Ranges) == 0 {
			errs = append(errs, "threshold method requires at least one range")
		}
		for i, r := range n.Ranges {
			if r.Score < 1 || r.Score > float64(n.ScaleMax) {
				errs = append(errs, fmt.Sprintf("range %d: score %.2f outside 1..%d", i, r.Score, n.ScaleMax))
			}
			if r.lower() >= r.upper() {
				errs = append(errs, fmt.Sprintf("range %d: min must be below max", i))
			}
			if i > 0 && r.lower() < n.Ranges[i-1].upper() {
				errs = append(errs, fmt.Sprintf("range %d overlaps or precedes range %d", i, i-1))
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown numeric method %q", n.Method))
	}
	return errs
}

func (c *CategoricalConfig) validate() []string {
	var errs []string
	if len(c.CategoryScores) == 0 {
		errs = append(errs, "category_scores must not be empty")
	}
	labels := make([]string, 0, len(c.CategoryScores))
	for label := range c.CategoryScores {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		if s := c.CategoryScores[label]; s < 1 || s > DefaultScaleMax {
			errs = append(errs, fmt.Sprintf("category %q: score %.2f outside 1..%d", label, s, DefaultScaleMax))
		}
		if strings.TrimSpace(label) == "" {
			errs = append(errs, "category labels must not be blank")
		}
	}
	for label, w := range c.Weights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("weight for %q must be >= 0", label))
		}
	}
	switch c.Method {
	case CategoricalMostPrevalent, CategoricalMedianScore, CategoricalWeightedMean, CategoricalTwentyPercentRule:
	case CategoricalCustomPercentRule:
		if c.Threshold <= 0 || c.Threshold > 1 {
			errs = append(errs, fmt.Sprintf("custom_percent_rule threshold must be in (0,1], got %.2f", c.Threshold))
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown categorical method %q", c.Method))
	}
	return errs
}
