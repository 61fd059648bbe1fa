package model

import "time"

// JobStatus is the lifecycle state of a server-side job.
type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
)

// Terminal reports whether the job will not progress without a resume.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// JobKindReconcile is the only job kind today.
const JobKindReconcile = "reconcile"

// Job is a resumable reconciliation run with a persisted checkpoint.
type Job struct {
	ID        string              `json:"id"`
	Kind      string              `json:"kind"`
	DatasetID string              `json:"dataset_id"`
	Status    JobStatus           `json:"status"`
	Offset    int                 `json:"offset"`
	Total     int                 `json:"total"`
	Committed int64               `json:"committed"`
	Counts    map[MatchStatus]int `json:"counts"`
	// InvalidValues counts matched rows whose value did not parse.
	InvalidValues int       `json:"invalid_values"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
