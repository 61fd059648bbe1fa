package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrJobConflict is returned when a dataset already has a non-terminal job.
	ErrJobConflict = eris.New("store: dataset already has an active job")
)

// Batch is one reconciliation batch committed atomically with its checkpoint.
type Batch struct {
	DatasetID string
	// Reset clears prior match records and clean values for the dataset
	// before writing. Set on the first batch of an apply.
	Reset   bool
	Records []model.MatchRecord
	Values  []model.CleanValue
	// Accumulate sums Value into existing (area, category) rows instead of
	// replacing them. Used for categorical occurrence weights.
	Accumulate bool
	// Job, when set, is persisted as the checkpoint in the same transaction.
	Job *model.Job
}

// ScoreFilter narrows ListScores. Zero values match everything.
type ScoreFilter struct {
	Scopes      []string `json:"scopes,omitempty"`
	PcodePrefix string   `json:"pcode_prefix,omitempty"`
}

// ScoreReplace selects the stored scores ReplaceScores clears before writing.
type ScoreReplace struct {
	// Scopes is required; an empty list clears nothing.
	Scopes []string
	// PcodePrefixes limits the cleared areas. Empty clears every area.
	PcodePrefixes []string
	// CountryID limits the cleared areas to the country's boundaries and
	// the areas its datasets hold values for.
	CountryID string
}

// Store defines the persistence interface for the severity engine.
type Store interface {
	// Boundaries
	UpsertBoundaries(ctx context.Context, boundaries []model.AdminBoundary) (int64, error)
	FetchBoundaries(ctx context.Context, countryID string, level model.AdminLevel) ([]model.AdminBoundary, error)

	// Datasets
	SaveDataset(ctx context.Context, d model.Dataset) error
	GetDataset(ctx context.Context, id string) (*model.Dataset, error)
	ListDatasets(ctx context.Context, countryID string) ([]model.Dataset, error)
	SaveScoringConfig(ctx context.Context, datasetID string, cfg model.ScoringConfig) error
	GetScoringConfig(ctx context.Context, datasetID string) (*model.ScoringConfig, error)

	// Raw values
	InsertRawValues(ctx context.Context, values []model.RawValue) (int64, error)
	FetchRawValues(ctx context.Context, datasetID string, offset, limit int) ([]model.RawValue, error)
	CountRawValues(ctx context.Context, datasetID string) (int, error)

	// Reconciliation
	// CommitBatch writes b atomically and returns how many clean values the
	// dataset holds afterwards. b.Job, when set, is checkpointed with that
	// count as Committed.
	CommitBatch(ctx context.Context, b Batch) (int64, error)
	ListMatchRecords(ctx context.Context, datasetID string, status model.MatchStatus) ([]model.MatchRecord, error)
	ListCleanValues(ctx context.Context, datasetID string) ([]model.CleanValue, error)

	// Scores
	UpsertScores(ctx context.Context, scores []model.Score) (int64, error)
	// ReplaceScores deletes the scores r selects and writes scores in one
	// transaction, so areas that no longer score lose their old value.
	ReplaceScores(ctx context.Context, r ScoreReplace, scores []model.Score) (int64, error)
	ListScores(ctx context.Context, f ScoreFilter) ([]model.Score, error)

	// Framework configs
	ActivateFrameworkConfig(ctx context.Context, cfg model.FrameworkConfig) (*model.FrameworkConfig, error)
	GetActiveFrameworkConfig(ctx context.Context) (*model.FrameworkConfig, error)
	GetFrameworkConfigVersion(ctx context.Context, version int) (*model.FrameworkConfig, error)

	// Jobs
	CreateJob(ctx context.Context, job model.Job) (*model.Job, error)
	UpdateJob(ctx context.Context, job model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// mergeCleanValues collapses duplicate keys within one batch: numeric rows
// keep the last value, accumulated rows are summed.
func mergeCleanValues(values []model.CleanValue, accumulate bool) []model.CleanValue {
	type key struct{ pcode, category string }
	idx := make(map[key]int, len(values))
	out := make([]model.CleanValue, 0, len(values))
	for _, v := range values {
		k := key{v.AdminPcode, v.Category}
		i, ok := idx[k]
		if !ok {
			idx[k] = len(out)
			out = append(out, v)
			continue
		}
		if accumulate {
			out[i].Value += v.Value
		} else {
			out[i].Value = v.Value
		}
	}
	return out
}

// frameworkDoc is the persisted body of a FrameworkConfig; identity and
// versioning live in columns.
type frameworkDoc struct {
	Name       string                                `json:"name"`
	Categories map[model.Category]model.RollupConfig `json:"categories"`
	Framework  model.RollupConfig                    `json:"framework"`
	Overall    model.RollupConfig                    `json:"overall"`
}

func toFrameworkDoc(cfg model.FrameworkConfig) frameworkDoc {
	return frameworkDoc{Name: cfg.Name, Categories: cfg.Categories, Framework: cfg.Framework, Overall: cfg.Overall}
}

func (d frameworkDoc) apply(cfg *model.FrameworkConfig) {
	cfg.Name = d.Name
	cfg.Categories = d.Categories
	cfg.Framework = d.Framework
	cfg.Overall = d.Overall
}
