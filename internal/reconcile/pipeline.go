// Package reconcile matches a dataset's raw rows to canonical boundaries and
// commits the matched values in checkpointed batches.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/boundary"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/observability"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/resilience"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/store"
)

// DefaultBatchSize is the number of raw rows per batch.
const DefaultBatchSize = 2000

// Config tunes batching, pacing and retries.
type Config struct {
	BatchSize int `mapstructure:"batch_size"`
	// BatchesPerSecond paces batches. Zero disables pacing.
	BatchesPerSecond float64                `mapstructure:"batches_per_second"`
	Retry            resilience.RetryConfig `mapstructure:"retry"`
}

// ComputationError reports a storage failure part way through a run. Offset
// is the raw-row offset up to which batches are committed; resuming from it
// loses nothing.
type ComputationError struct {
	DatasetID string
	Offset    int
	Err       error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("reconcile: dataset %s failed at offset %d: %v", e.DatasetID, e.Offset, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// Summary counts outcomes by match status.
type Summary struct {
	Total         int                       `json:"total"`
	Counts        map[model.MatchStatus]int `json:"counts"`
	InvalidValues int                       `json:"invalid_values"`
}

func newSummary() Summary {
	return Summary{Counts: make(map[model.MatchStatus]int, len(model.MatchStatuses))}
}

func (s *Summary) add(r model.MatchRecord) {
	s.Total++
	s.Counts[r.MatchStatus]++
	if r.InvalidValue {
		s.InvalidValues++
	}
}

func (s *Summary) merge(o Summary) {
	s.Total += o.Total
	s.InvalidValues += o.InvalidValues
	for k, v := range o.Counts {
		s.Counts[k] += v
	}
}

// MatchRate is the matched share of all rows, or 0 for an empty run.
func (s Summary) MatchRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Counts[model.MatchStatusMatched]) / float64(s.Total)
}

// Result describes one preview or apply run.
type Result struct {
	DatasetID string              `json:"dataset_id"`
	Records   []model.MatchRecord `json:"records,omitempty"`
	Summary   Summary             `json:"summary"`
	// Committed is the number of clean values the dataset holds after the
	// last committed batch. Raw rows resolving to the same area count once.
	Committed int64 `json:"committed"`
	// Offset is the next raw-row offset to process.
	Offset int `json:"offset"`
}

// Pipeline reconciles datasets against the boundaries held in the store.
type Pipeline struct {
	store   store.Store
	scheme  boundary.Scheme
	cfg     Config
	limiter *rate.Limiter
	metrics *observability.Metrics
}

// NewPipeline validates scheme and applies config defaults.
func NewPipeline(st store.Store, scheme boundary.Scheme, cfg Config, metrics *observability.Metrics) (*Pipeline, error) {
	if err := scheme.Validate(); err != nil {
		return nil, eris.Wrap(err, "reconcile: scheme")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("reconcile", "batch")
	}
	limit := rate.Inf
	if cfg.BatchesPerSecond > 0 {
		limit = rate.Limit(cfg.BatchesPerSecond)
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Pipeline{
		store:   st,
		scheme:  scheme,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		metrics: metrics,
	}, nil
}

// Preview matches every raw row without writing anything.
func (p *Pipeline) Preview(ctx context.Context, datasetID string) (*Result, error) {
	ds, m, err := p.prepare(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	res := &Result{DatasetID: datasetID, Summary: newSummary()}
	for {
		rows, err := p.fetch(ctx, datasetID, res.Offset)
		if err != nil {
			return res, &ComputationError{DatasetID: datasetID, Offset: res.Offset, Err: err}
		}
		if len(rows) == 0 {
			break
		}
		recs, _ := matchBatch(ds, m, rows)
		for _, r := range recs {
			res.Summary.add(r)
		}
		res.Records = append(res.Records, recs...)
		res.Offset += len(rows)
	}
	return res, nil
}

// Apply replaces the dataset's match records and clean values with a fresh
// reconciliation. Each batch commits atomically; on failure the returned
// *ComputationError carries the offset to resume from.
func (p *Pipeline) Apply(ctx context.Context, datasetID string) (*Result, error) {
	return p.apply(ctx, datasetID, nil)
}

// apply runs from job.Offset when job is set, checkpointing into it with
// every batch.
func (p *Pipeline) apply(ctx context.Context, datasetID string, job *model.Job) (*Result, error) {
	log := zap.L().With(zap.String("component", "reconcile"), zap.String("dataset_id", datasetID))

	ds, m, err := p.prepare(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	res := &Result{DatasetID: datasetID, Summary: newSummary()}
	if job != nil {
		res.Offset = job.Offset
		res.Committed = job.Committed
		res.Summary.InvalidValues = job.InvalidValues
		for k, v := range job.Counts {
			res.Summary.Counts[k] += v
			res.Summary.Total += v
		}
	}
	log.Info("applying reconciliation", zap.Int("offset", res.Offset), zap.Int("batch_size", p.cfg.BatchSize))

	for {
		start := time.Now()
		if err := p.limiter.Wait(ctx); err != nil {
			return res, p.fail(datasetID, res.Offset, err)
		}

		rows, err := p.fetch(ctx, datasetID, res.Offset)
		if err != nil {
			return res, p.fail(datasetID, res.Offset, err)
		}
		// The first batch of a fresh run always commits, even when empty,
		// so stale rows from an earlier apply are cleared.
		if len(rows) == 0 && res.Offset > 0 {
			break
		}

		recs, values := matchBatch(ds, m, rows)
		batchSummary := newSummary()
		for _, r := range recs {
			batchSummary.add(r)
		}

		b := store.Batch{
			DatasetID:  datasetID,
			Reset:      res.Offset == 0,
			Records:    recs,
			Values:     values,
			Accumulate: ds.Type == model.DatasetCategorical,
		}
		if job != nil {
			cp := *job
			cp.Status = model.JobRunning
			cp.Offset = res.Offset + len(rows)
			cp.Counts = mergedCounts(res.Summary.Counts, batchSummary.Counts)
			cp.InvalidValues = res.Summary.InvalidValues + batchSummary.InvalidValues
			b.Job = &cp
		}

		committed, err := resilience.DoVal(ctx, p.cfg.Retry, func(ctx context.Context) (int64, error) {
			return p.store.CommitBatch(ctx, b)
		})
		if err != nil {
			return res, p.fail(datasetID, res.Offset, err)
		}

		res.Summary.merge(batchSummary)
		res.Offset += len(rows)
		res.Committed = committed
		if job != nil {
			b.Job.Committed = committed
			*job = *b.Job
		}

		for status, n := range batchSummary.Counts {
			p.metrics.ReconcileRows.WithLabelValues(string(status)).Add(float64(n))
		}
		p.metrics.ReconcileInvalidValues.Add(float64(batchSummary.InvalidValues))
		p.metrics.ReconcileBatchDuration.Observe(time.Since(start).Seconds())
		log.Debug("batch committed", zap.Int("offset", res.Offset), zap.Int("rows", len(rows)))

		if len(rows) < p.cfg.BatchSize {
			break
		}
	}

	log.Info("reconciliation applied",
		zap.Int("rows", res.Summary.Total),
		zap.Int("matched", res.Summary.Counts[model.MatchStatusMatched]),
		zap.Int64("committed", res.Committed),
	)
	return res, nil
}

func (p *Pipeline) fail(datasetID string, offset int, err error) error {
	p.metrics.ReconcileFailures.Inc()
	zap.L().Error("reconciliation stopped",
		zap.String("component", "reconcile"),
		zap.String("dataset_id", datasetID),
		zap.Int("offset", offset),
		zap.String("error_type", resilience.Classify(err)),
		zap.Error(err),
	)
	return &ComputationError{DatasetID: datasetID, Offset: offset, Err: err}
}

func (p *Pipeline) fetch(ctx context.Context, datasetID string, offset int) ([]model.RawValue, error) {
	return resilience.DoVal(ctx, p.cfg.Retry, func(ctx context.Context) ([]model.RawValue, error) {
		return p.store.FetchRawValues(ctx, datasetID, offset, p.cfg.BatchSize)
	})
}

// prepare loads the dataset and builds a matcher over its country's ADM2
// and ADM3 boundaries.
func (p *Pipeline) prepare(ctx context.Context, datasetID string) (*model.Dataset, *boundary.Matcher, error) {
	ds, err := p.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "reconcile: load dataset")
	}

	var all []model.AdminBoundary
	for _, level := range []model.AdminLevel{model.ADM2, model.ADM3} {
		bs, err := p.store.FetchBoundaries(ctx, ds.CountryID, level)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "reconcile: fetch %s boundaries", level)
		}
		all = append(all, bs...)
	}
	if len(all) == 0 {
		return nil, nil, model.NewValidationError(fmt.Sprintf("no ADM2/ADM3 boundaries loaded for country %q", ds.CountryID))
	}

	idx, err := boundary.NewIndex(all)
	if err != nil {
		return nil, nil, eris.Wrap(err, "reconcile: boundary index")
	}
	m, err := boundary.NewMatcher(idx, p.scheme)
	if err != nil {
		return nil, nil, err
	}
	return ds, m, nil
}

// matchBatch classifies rows and derives the clean values of matched rows.
// Matched numeric rows whose value does not parse are flagged and skipped.
func matchBatch(ds *model.Dataset, m *boundary.Matcher, rows []model.RawValue) ([]model.MatchRecord, []model.CleanValue) {
	recs := make([]model.MatchRecord, 0, len(rows))
	var values []model.CleanValue
	for _, rv := range rows {
		rec := m.Match(rv)
		if rec.MatchStatus == model.MatchStatusMatched {
			cv, ok := cleanValue(ds, rv, rec.CanonicalPcode())
			if ok {
				values = append(values, cv)
			} else {
				rec.InvalidValue = true
			}
		}
		recs = append(recs, rec)
	}
	return recs, values
}

func cleanValue(ds *model.Dataset, rv model.RawValue, pcode string) (model.CleanValue, bool) {
	cv := model.CleanValue{DatasetID: ds.ID, AdminPcode: pcode}
	raw := strings.TrimSpace(rv.RawValue)
	if ds.Type == model.DatasetCategorical {
		if raw == "" {
			return cv, false
		}
		cv.Category = raw
		cv.Value = rv.Weight
		if cv.Value == 0 {
			cv.Value = 1
		}
		return cv, true
	}
	v, ok := ParseNumber(raw)
	if !ok {
		return cv, false
	}
	cv.Value = v
	return cv, true
}

// ParseNumber accepts plain and thousands-separated numbers and a trailing
// percent sign. NaN and infinities are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func mergedCounts(a, b map[model.MatchStatus]int) map[model.MatchStatus]int {
	out := make(map[model.MatchStatus]int, len(a)+len(b))
	for k, v := range a {
		out[k] += v
	}
	for k, v := range b {
		out[k] += v
	}
	return out
}
