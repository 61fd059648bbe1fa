// Package health reports how well a dataset's committed values line up with
// the canonical boundaries at its admin level.
package health

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/store"
)

// Status is the cleaning status derived from a Report.
type Status string

const (
	StatusReady       Status = "ready"
	StatusInProgress  Status = "in_progress"
	StatusNeedsReview Status = "needs_review"
)

// Status thresholds.
const (
	ReadyThreshold      = 0.95
	InProgressThreshold = 0.85
)

// Report holds the health metrics for one dataset.
type Report struct {
	DatasetID        string    `json:"dataset_id"`
	Matched          int       `json:"matched"`
	Total            int       `json:"total"`
	AlignmentRate    float64   `json:"alignment_rate"`
	Coverage         float64   `json:"coverage"`
	Completeness     float64   `json:"completeness"`
	Uniqueness       float64   `json:"uniqueness"`
	Orphaned         []string  `json:"orphaned,omitempty"`
	Duplicates       int       `json:"duplicates"`
	ValidationErrors int       `json:"validation_errors"`
	Derived          bool      `json:"derived,omitempty"`
	Status           Status    `json:"status"`
	CheckedAt        time.Time `json:"checked_at"`
}

// Compute builds a Report from a dataset's clean values, its match records
// and the set of boundary pcodes at its admin level. Derived datasets are
// always ready.
//
// Duplicates counts areas that more than one valid matched raw row resolved
// to. Only numeric datasets report them: a numeric area keeps the last such
// value, while categorical rows for one area are summed into its
// distribution.
func Compute(ds model.Dataset, values []model.CleanValue, records []model.MatchRecord, boundaries []string) Report {
	r := Report{DatasetID: ds.ID, Uniqueness: 1, CheckedAt: model.Clock().Now().UTC()}
	if ds.IsDerived {
		r.Derived = true
		r.AlignmentRate, r.Coverage, r.Completeness = 1, 1, 1
		r.Status = StatusReady
		return r
	}

	known := make(map[string]struct{}, len(boundaries))
	for _, p := range boundaries {
		known[p] = struct{}{}
	}
	r.Total = len(known)
	if r.Total == 0 || len(values) == 0 {
		r.Status = StatusFor(r)
		return r
	}

	pcodes := make(map[string]struct{})
	var empty int
	for _, v := range values {
		pcodes[v.AdminPcode] = struct{}{}
		if math.IsNaN(v.Value) || v.Value == 0 {
			empty++
		}
	}

	var rows int
	if ds.Type == model.DatasetNumeric {
		perArea := make(map[string]int)
		for _, rec := range records {
			if rec.MatchStatus != model.MatchStatusMatched || rec.InvalidValue {
				continue
			}
			perArea[rec.CanonicalPcode()]++
			rows++
		}
		for _, n := range perArea {
			if n > 1 {
				r.Duplicates++
			}
		}
	}
	for p := range pcodes {
		if _, ok := known[p]; ok {
			r.Matched++
		} else {
			r.Orphaned = append(r.Orphaned, p)
		}
	}
	sort.Strings(r.Orphaned)

	r.AlignmentRate = float64(r.Matched) / float64(r.Total)
	r.Coverage = r.AlignmentRate
	if ds.Type == model.DatasetCategorical {
		r.Completeness = math.Min(1, float64(len(pcodes))/float64(r.Total))
	} else {
		r.Completeness = float64(len(values)-empty) / float64(len(values))
	}
	if rows > 0 {
		r.Uniqueness = 1 - float64(r.Duplicates)/float64(rows)
	}
	r.ValidationErrors = len(r.Orphaned) + r.Duplicates
	r.Status = StatusFor(r)
	return r
}

// StatusFor classifies a report against the ready and in-progress thresholds.
func StatusFor(r Report) Status {
	if r.Derived {
		return StatusReady
	}
	switch {
	case r.AlignmentRate >= ReadyThreshold && r.Completeness >= ReadyThreshold && r.ValidationErrors == 0:
		return StatusReady
	case r.AlignmentRate >= InProgressThreshold && r.Completeness >= InProgressThreshold:
		return StatusInProgress
	}
	return StatusNeedsReview
}

// Checker computes reports from the store.
type Checker struct {
	store store.Store
}

// NewChecker creates a Checker.
func NewChecker(st store.Store) *Checker {
	return &Checker{store: st}
}

// Check computes the report for one dataset.
func (c *Checker) Check(ctx context.Context, datasetID string) (*Report, error) {
	ds, err := c.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, eris.Wrap(err, "health: load dataset")
	}
	return c.check(ctx, *ds, nil)
}

// CheckCountry computes reports for every dataset of a country. Boundaries
// are fetched once per admin level.
func (c *Checker) CheckCountry(ctx context.Context, countryID string) ([]Report, error) {
	datasets, err := c.store.ListDatasets(ctx, countryID)
	if err != nil {
		return nil, eris.Wrap(err, "health: list datasets")
	}
	cache := make(map[string][]string)
	out := make([]Report, 0, len(datasets))
	for _, ds := range datasets {
		r, err := c.check(ctx, ds, cache)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

func (c *Checker) check(ctx context.Context, ds model.Dataset, cache map[string][]string) (*Report, error) {
	if ds.IsDerived {
		r := Compute(ds, nil, nil, nil)
		return &r, nil
	}

	key := ds.CountryID + "/" + string(ds.AdminLevel)
	pcodes, ok := cache[key]
	if !ok {
		boundaries, err := c.store.FetchBoundaries(ctx, ds.CountryID, ds.AdminLevel)
		if err != nil {
			return nil, eris.Wrapf(err, "health: boundaries for %s", ds.ID)
		}
		pcodes = make([]string, len(boundaries))
		for i, b := range boundaries {
			pcodes[i] = b.Pcode
		}
		if cache != nil {
			cache[key] = pcodes
		}
	}

	values, err := c.store.ListCleanValues(ctx, ds.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "health: clean values for %s", ds.ID)
	}
	var records []model.MatchRecord
	if ds.Type == model.DatasetNumeric {
		records, err = c.store.ListMatchRecords(ctx, ds.ID, model.MatchStatusMatched)
		if err != nil {
			return nil, eris.Wrapf(err, "health: match records for %s", ds.ID)
		}
	}
	r := Compute(ds, values, records, pcodes)
	return &r, nil
}
