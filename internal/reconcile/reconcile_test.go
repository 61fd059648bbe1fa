package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/boundary"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// flakyStore fails the failOn-th CommitBatch call with a permanent error.
type flakyStore struct {
	store.Store
	mu     sync.Mutex
	failOn int
	calls  int
}

func (f *flakyStore) CommitBatch(ctx context.Context, b store.Batch) (int64, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failOn > 0 && f.calls == f.failOn
	f.mu.Unlock()
	if fail {
		return 0, errors.New("disk full")
	}
	return f.Store.CommitBatch(ctx, b)
}

func (f *flakyStore) heal() {
	f.mu.Lock()
	f.failOn = 0
	f.mu.Unlock()
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "reconcile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	_, err = st.UpsertBoundaries(ctx, []model.AdminBoundary{
		{Pcode: "PH0702", Name: "Bohol", AdminLevel: model.ADM2, ParentPcode: "PH07", CountryID: "PH"},
		{Pcode: "PH07022001", Name: "Alburquerque", AdminLevel: model.ADM3, ParentPcode: "PH0702", CountryID: "PH"},
		{Pcode: "PH07022002", Name: "Alicia", AdminLevel: model.ADM3, ParentPcode: "PH0702", CountryID: "PH"},
		{Pcode: "PH07022024", Name: "Dimiao", AdminLevel: model.ADM3, ParentPcode: "PH0702", CountryID: "PH"},
	})
	require.NoError(t, err)
	return st
}

func seed(t *testing.T, st store.Store, ds model.Dataset, rows []model.RawValue) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.SaveDataset(ctx, ds))
	for i := range rows {
		rows[i].DatasetID = ds.ID
	}
	_, err := st.InsertRawValues(ctx, rows)
	require.NoError(t, err)
}

func numericDataset() model.Dataset {
	return model.Dataset{ID: "poverty", Name: "Poverty incidence", Type: model.DatasetNumeric,
		AdminLevel: model.ADM3, Category: model.CategoryP2, CountryID: "PH"}
}

func numericRows() []model.RawValue {
	return []model.RawValue{
		{RawPcode: "PH07/02/2001", RawValue: "10"},
		{RawPcode: "PH07/02/2002", RawValue: "20"},
		{RawPcode: "PH07/09/2001", RawValue: "5"},
		{RawPcode: "PH07/02/2099", RawName: "Dimiao", RawValue: "1,500"},
		{RawPcode: "PH07/02/2024", RawValue: "n/a"},
	}
}

func newPipeline(t *testing.T, st store.Store, batchSize int) *Pipeline {
	t.Helper()
	p, err := NewPipeline(st, boundary.PhilippinesScheme(), Config{BatchSize: batchSize}, nil)
	require.NoError(t, err)
	return p
}

func cleanMap(t *testing.T, st store.Store, datasetID string) map[string]float64 {
	t.Helper()
	values, err := st.ListCleanValues(context.Background(), datasetID)
	require.NoError(t, err)
	out := make(map[string]float64, len(values))
	for _, v := range values {
		key := v.AdminPcode
		if v.Category != "" {
			key += "/" + v.Category
		}
		out[key] = v.Value
	}
	return out
}

func TestPipeline_Preview_WritesNothing(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, numericDataset(), numericRows())
	p := newPipeline(t, st, 2)

	res, err := p.Preview(context.Background(), "poverty")
	require.NoError(t, err)
	assert.Len(t, res.Records, 5)
	assert.Equal(t, 5, res.Summary.Total)
	assert.Equal(t, 4, res.Summary.Counts[model.MatchStatusMatched])
	assert.Equal(t, 1, res.Summary.Counts[model.MatchStatusNoADM2])
	assert.Equal(t, 1, res.Summary.InvalidValues)
	assert.InDelta(t, 0.8, res.Summary.MatchRate(), 1e-9)
	assert.True(t, res.Records[3].MatchedByName)

	assert.Empty(t, cleanMap(t, st, "poverty"))
	recs, err := st.ListMatchRecords(context.Background(), "poverty", "")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPipeline_Apply_Numeric(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, numericDataset(), numericRows())
	p := newPipeline(t, st, 2)
	ctx := context.Background()

	res, err := p.Apply(ctx, "poverty")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Offset)
	assert.Equal(t, int64(3), res.Committed)
	assert.Equal(t, map[string]float64{
		"PH07022001": 10,
		"PH07022002": 20,
		"PH07022024": 1500,
	}, cleanMap(t, st, "poverty"))

	invalid, err := st.ListMatchRecords(ctx, "poverty", model.MatchStatusMatched)
	require.NoError(t, err)
	var flagged int
	for _, r := range invalid {
		if r.InvalidValue {
			flagged++
			assert.Equal(t, "PH07/02/2024", r.RawPcode)
		}
	}
	assert.Equal(t, 1, flagged)

	// Re-applying produces the same state.
	_, err = p.Apply(ctx, "poverty")
	require.NoError(t, err)
	assert.Len(t, cleanMap(t, st, "poverty"), 3)
	all, err := st.ListMatchRecords(ctx, "poverty", "")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestPipeline_Apply_CategoricalAccumulatesAcrossBatches(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, model.Dataset{ID: "housing", Name: "Wall materials", Type: model.DatasetCategorical,
		AdminLevel: model.ADM3, Category: model.CategoryP1, CountryID: "PH"},
		[]model.RawValue{
			{RawPcode: "PH07022001", RawValue: "Light", Weight: 1},
			{RawPcode: "PH07022001", RawValue: "Light", Weight: 2},
			{RawPcode: "PH07022001", RawValue: "Concrete"},
			{RawPcode: "PH07022002", RawValue: " Light "},
			{RawPcode: "PH07022002", RawValue: ""},
		})
	p := newPipeline(t, st, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := p.Apply(ctx, "housing")
		require.NoError(t, err)
		assert.Equal(t, int64(3), res.Committed)
		assert.Equal(t, 1, res.Summary.InvalidValues)
	}
	assert.Equal(t, map[string]float64{
		"PH07022001/Concrete": 1,
		"PH07022001/Light":    3,
		"PH07022002/Light":    1,
	}, cleanMap(t, st, "housing"))
}

func TestPipeline_Apply_CommittedCountsStoredAreas(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, numericDataset(), []model.RawValue{
		{RawPcode: "PH07/02/2001", RawValue: "10"},
		{RawPcode: "PH07022001", RawValue: "11"},
		{RawPcode: "PH07/02/2099", RawName: "Alburquerque", RawValue: "12"},
	})
	p := newPipeline(t, st, 2)

	res, err := p.Apply(context.Background(), "poverty")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Summary.Counts[model.MatchStatusMatched])
	assert.Equal(t, int64(1), res.Committed)
	assert.Len(t, cleanMap(t, st, "poverty"), 1)
}

func TestPipeline_Apply_FailureKeepsCommittedBatches(t *testing.T) {
	base := newTestStore(t)
	seed(t, base, numericDataset(), numericRows())
	st := &flakyStore{Store: base, failOn: 2}
	p := newPipeline(t, st, 2)

	res, err := p.Apply(context.Background(), "poverty")
	require.Error(t, err)

	var ce *ComputationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "poverty", ce.DatasetID)
	assert.Equal(t, 2, ce.Offset)
	assert.Equal(t, 2, res.Offset)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, map[string]float64{"PH07022001": 10, "PH07022002": 20}, cleanMap(t, base, "poverty"))
}

func TestPipeline_UnknownDataset(t *testing.T) {
	st := newTestStore(t)
	p := newPipeline(t, st, 2)

	_, err := p.Apply(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestPipeline_NoBoundaries(t *testing.T) {
	st := newTestStore(t)
	ds := numericDataset()
	ds.CountryID = "NP"
	seed(t, st, ds, numericRows())
	p := newPipeline(t, st, 2)

	_, err := p.Preview(context.Background(), "poverty")
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestRunner_FailThenResume(t *testing.T) {
	base := newTestStore(t)
	seed(t, base, numericDataset(), numericRows())
	st := &flakyStore{Store: base, failOn: 2}
	r := NewRunner(newPipeline(t, st, 2), st)
	t.Cleanup(r.Close)
	ctx := context.Background()

	job, err := r.Submit(ctx, "poverty")
	require.NoError(t, err)
	assert.Equal(t, 5, job.Total)
	r.Wait()

	failed, err := r.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, failed.Status)
	assert.Equal(t, 2, failed.Offset)
	assert.Equal(t, int64(2), failed.Committed)
	assert.Contains(t, failed.Error, "disk full")

	st.heal()
	_, err = r.Resume(ctx, job.ID)
	require.NoError(t, err)
	r.Wait()

	done, err := r.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobComplete, done.Status)
	assert.Equal(t, 5, done.Offset)
	assert.Equal(t, int64(3), done.Committed)
	assert.Equal(t, 4, done.Counts[model.MatchStatusMatched])
	assert.Equal(t, 1, done.Counts[model.MatchStatusNoADM2])
	assert.Empty(t, done.Error)

	assert.Equal(t, map[string]float64{
		"PH07022001": 10,
		"PH07022002": 20,
		"PH07022024": 1500,
	}, cleanMap(t, base, "poverty"))

	_, err = r.Resume(ctx, job.ID)
	assert.True(t, model.IsValidation(err))
}

func TestRunner_ResumeKeepsInvalidCount(t *testing.T) {
	base := newTestStore(t)
	seed(t, base, numericDataset(), []model.RawValue{
		{RawPcode: "PH07/02/2024", RawValue: "n/a"},
		{RawPcode: "PH07/02/2001", RawValue: "10"},
		{RawPcode: "PH07/02/2002", RawValue: "-"},
		{RawPcode: "PH07/02/2002", RawValue: "20"},
	})
	st := &flakyStore{Store: base, failOn: 2}
	r := NewRunner(newPipeline(t, st, 2), st)
	t.Cleanup(r.Close)
	ctx := context.Background()

	job, err := r.Submit(ctx, "poverty")
	require.NoError(t, err)
	r.Wait()

	failed, err := r.Status(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobFailed, failed.Status)
	assert.Equal(t, 1, failed.InvalidValues)

	st.heal()
	_, err = r.Resume(ctx, job.ID)
	require.NoError(t, err)
	r.Wait()

	done, err := r.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobComplete, done.Status)
	assert.Equal(t, 2, done.InvalidValues)
	assert.Equal(t, int64(2), done.Committed)
}

func TestRunner_OneActiveJobPerDataset(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, numericDataset(), numericRows())
	r := NewRunner(newPipeline(t, st, 2), st)
	t.Cleanup(r.Close)
	ctx := context.Background()

	// A job left running by another process.
	_, err := st.CreateJob(ctx, model.Job{Kind: model.JobKindReconcile, DatasetID: "poverty", Status: model.JobRunning})
	require.NoError(t, err)

	_, err = r.Submit(ctx, "poverty")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrJobConflict))
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12.5", 12.5, true},
		{" 1,234 ", 1234, true},
		{"45%", 45, true},
		{"-3", -3, true},
		{"", 0, false},
		{"n/a", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}
