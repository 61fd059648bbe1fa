package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/store"
)

// Runner executes reconciliation as background jobs whose checkpoint is
// persisted with every batch. A dataset has at most one queued or running
// job; a second submit fails with store.ErrJobConflict.
type Runner struct {
	pipeline *Pipeline
	store    store.Store

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner. Close stops in-flight jobs.
func NewRunner(p *Pipeline, st store.Store) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{pipeline: p, store: st, ctx: ctx, cancel: cancel}
}

// Submit queues a fresh reconciliation of datasetID and starts it.
func (r *Runner) Submit(ctx context.Context, datasetID string) (*model.Job, error) {
	if _, err := r.store.GetDataset(ctx, datasetID); err != nil {
		return nil, eris.Wrap(err, "reconcile: submit")
	}
	total, err := r.store.CountRawValues(ctx, datasetID)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: submit")
	}

	job, err := r.store.CreateJob(ctx, model.Job{
		Kind:      model.JobKindReconcile,
		DatasetID: datasetID,
		Status:    model.JobQueued,
		Total:     total,
		Counts:    map[model.MatchStatus]int{},
	})
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: submit")
	}
	r.start(*job)
	return job, nil
}

// Status returns the job's persisted state.
func (r *Runner) Status(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := r.store.GetJob(ctx, jobID)
	return job, eris.Wrap(err, "reconcile: status")
}

// Resume restarts a failed job from its last committed offset.
func (r *Runner) Resume(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: resume")
	}
	switch job.Status {
	case model.JobQueued, model.JobRunning:
		return nil, eris.Wrapf(store.ErrJobConflict, "job %s is %s", job.ID, job.Status)
	case model.JobComplete:
		return nil, model.NewValidationError(fmt.Sprintf("job %s is already complete", job.ID))
	}

	job.Status = model.JobQueued
	job.Error = ""
	if err := r.store.UpdateJob(ctx, *job); err != nil {
		return nil, eris.Wrap(err, "reconcile: resume")
	}
	r.start(*job)
	return job, nil
}

// Wait blocks until every started job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close cancels in-flight jobs and waits for them to record their state.
// Cancelled jobs end failed and can be resumed.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) start(job model.Job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(r.ctx, job)
	}()
}

func (r *Runner) execute(ctx context.Context, job model.Job) {
	log := zap.L().With(
		zap.String("component", "reconcile.runner"),
		zap.String("job_id", job.ID),
		zap.String("dataset_id", job.DatasetID),
	)
	m := r.pipeline.metrics
	m.JobsRunning.Inc()
	defer m.JobsRunning.Dec()

	job.Status = model.JobRunning
	if err := r.store.UpdateJob(ctx, job); err != nil {
		log.Error("failed to mark job running", zap.Error(err))
		r.finish(log, job, err)
		return
	}

	start := time.Now()
	res, err := r.pipeline.apply(ctx, job.DatasetID, &job)
	if err != nil {
		var ce *ComputationError
		if errors.As(err, &ce) {
			job.Offset = ce.Offset
		}
		r.finish(log, job, err)
		return
	}

	job.Status = model.JobComplete
	job.Offset = res.Offset
	job.Committed = res.Committed
	job.Counts = res.Summary.Counts
	job.InvalidValues = res.Summary.InvalidValues
	r.finish(log, job, nil)
	log.Info("job complete",
		zap.Int("offset", job.Offset),
		zap.Int64("committed", job.Committed),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// finish records the terminal state. It uses a fresh context so a cancelled
// run still persists its failure.
func (r *Runner) finish(log *zap.Logger, job model.Job, runErr error) {
	if runErr != nil {
		job.Status = model.JobFailed
		job.Error = runErr.Error()
		log.Warn("job failed", zap.Int("offset", job.Offset), zap.Error(runErr))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.UpdateJob(ctx, job); err != nil {
		log.Error("failed to record job state", zap.String("status", string(job.Status)), zap.Error(err))
	}
}
