package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetDataset_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM severity.datasets WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetDataset(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDataset(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM severity.datasets WHERE id = \$1`).
		WithArgs("poverty").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "type", "admin_level", "category", "country_id", "is_baseline", "is_derived"}).
			AddRow("poverty", "Poverty incidence", "numeric", "ADM3", "P2", "PH", true, false))

	d, err := s.GetDataset(context.Background(), "poverty")
	require.NoError(t, err)
	assert.Equal(t, model.DatasetNumeric, d.Type)
	assert.Equal(t, model.ADM3, d.AdminLevel)
	assert.Equal(t, model.CategoryP2, d.Category)
	assert.True(t, d.IsBaseline)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveScoringConfig_UnknownDataset(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE severity.datasets SET scoring_config`).
		WithArgs(pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SaveScoringConfig(context.Background(), "ghost", model.ScoringConfig{
		Kind:    model.DatasetNumeric,
		Numeric: &model.NumericConfig{Method: model.NumericNormalization},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveScoringConfig_Invalid(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.SaveScoringConfig(context.Background(), "poverty", model.ScoringConfig{Kind: "bogus"})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitBatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM severity.match_records`).WithArgs("hazard").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec(`DELETE FROM severity.clean_values`).WithArgs("hazard").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_severity_match_records"}, matchRecordUpsert.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "severity"."match_records"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("TRUNCATE").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))

	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_severity_clean_values"}, cleanValueUpsert.Columns).
		WillReturnResult(1)
	mock.ExpectExec(regexp.QuoteMeta(`"value" = "clean_values"."value" + EXCLUDED."value"`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("TRUNCATE").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM severity.clean_values WHERE dataset_id = \$1`).WithArgs("hazard").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))

	// Committed comes from the stored count, not the two raw rows.
	mock.ExpectExec(`UPDATE severity.jobs SET status`).
		WithArgs("running", 2, 10, int64(1), pgxmock.AnyArg(), 1, "", pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	committed, err := s.CommitBatch(context.Background(), Batch{
		DatasetID:  "hazard",
		Reset:      true,
		Accumulate: true,
		Records: []model.MatchRecord{
			{RawValueID: 1, MatchedADM3Pcode: "PH0702001", MatchStatus: model.MatchStatusMatched},
			{RawValueID: 2, MatchedADM3Pcode: "PH0702001", MatchStatus: model.MatchStatusMatched},
		},
		Values: []model.CleanValue{
			{AdminPcode: "PH0702001", Category: "High", Value: 1},
			{AdminPcode: "PH0702001", Category: "High", Value: 2},
		},
		Job: &model.Job{ID: "job-1", DatasetID: "hazard", Status: model.JobRunning, Offset: 2, Total: 10, Committed: 2, InvalidValues: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), committed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitBatch_FailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_severity_match_records"}, matchRecordUpsert.Columns).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	_, err := s.CommitBatch(context.Background(), Batch{
		DatasetID: "poverty",
		Records:   []model.MatchRecord{{RawValueID: 7, MatchStatus: model.MatchStatusNoADM2}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write match records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ActivateFrameworkConfig(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	model.SetClock(fake)
	t.Cleanup(func() { model.SetClock(nil) })

	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs(frameworkLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM severity.framework_configs`).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(2))
	mock.ExpectExec(`UPDATE severity.framework_configs SET active = false`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO severity.framework_configs`).
		WithArgs(pgxmock.AnyArg(), 3, pgxmock.AnyArg(), fake.Now()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	cfg, err := s.ActivateFrameworkConfig(context.Background(), model.DefaultFrameworkConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Version)
	assert.True(t, cfg.Active)
	assert.NotEmpty(t, cfg.ID)
	assert.Equal(t, fake.Now(), cfg.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetActiveFrameworkConfig_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM severity.framework_configs WHERE active`).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetActiveFrameworkConfig(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	args := make([]any, 12)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec(`INSERT INTO severity.jobs`).
		WithArgs(args...).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := s.CreateJob(context.Background(), model.Job{
		Kind: model.JobKindReconcile, DatasetID: "poverty", Status: model.JobQueued,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM severity.jobs WHERE id = \$1`).
		WithArgs("job-9").
		WillReturnRows(pgxmock.NewRows([]string{"id", "kind", "dataset_id", "status", "offset", "total", "committed", "counts", "invalid_values", "error", "created_at", "updated_at"}).
			AddRow("job-9", "reconcile", "poverty", "failed", 4000, 9000, int64(3700),
				[]byte(`{"matched":3800,"no_adm2_match":100}`), 12, "connection reset", now, now))

	j, err := s.GetJob(context.Background(), "job-9")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, j.Status)
	assert.Equal(t, 4000, j.Offset)
	assert.Equal(t, 3800, j.Counts[model.MatchStatusMatched])
	assert.Equal(t, 100, j.Counts[model.MatchStatusNoADM2])
	assert.Equal(t, 12, j.InvalidValues)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListScores_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE scope = ANY($1) AND admin_pcode LIKE $2`)).
		WithArgs([]string{"overall"}, "PH07%").
		WillReturnRows(pgxmock.NewRows([]string{"admin_pcode", "scope", "value", "computed_at"}).
			AddRow("PH0702001", "overall", 3.5, now).
			AddRow("PH0702002", "overall", 2.0, now))

	scores, err := s.ListScores(context.Background(), ScoreFilter{Scopes: []string{"overall"}, PcodePrefix: "PH07"})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, 3.5, scores[0].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceScores(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM severity.scores WHERE scope = ANY($1) AND admin_pcode LIKE ANY($2)`)).
		WithArgs([]string{"poverty"}, []string{"PH0702%"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_severity_scores"}, scoreUpsert.Columns).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "severity"."scores"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("TRUNCATE").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCommit()

	n, err := s.ReplaceScores(context.Background(),
		ScoreReplace{Scopes: []string{"poverty"}, PcodePrefixes: []string{"PH0702"}},
		[]model.Score{{AdminPcode: "PH0702001", Scope: "poverty", Value: 1, ComputedAt: now}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceScores_CountryClearOnly(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM severity.scores WHERE scope = ANY\(\$1\) AND admin_pcode IN \(\s+SELECT pcode FROM severity.admin_boundaries WHERE country_id = \$2`).
		WithArgs([]string{"framework", "overall"}, "PH").
		WillReturnResult(pgxmock.NewResult("DELETE", 12))
	mock.ExpectCommit()

	n, err := s.ReplaceScores(context.Background(),
		ScoreReplace{Scopes: []string{"framework", "overall"}, CountryID: "PH"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_AlreadyApplied(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`pg_advisory_lock`).WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS severity.schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM severity.schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_init.sql"))
	mock.ExpectExec(`pg_advisory_unlock`).WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_AppliesPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`pg_advisory_lock`).WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS severity.schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM severity.schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS severity.admin_boundaries`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO severity.schema_migrations`).WithArgs("001_init.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`pg_advisory_unlock`).WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
