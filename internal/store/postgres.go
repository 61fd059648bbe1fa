package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/db"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// frameworkLockID serializes framework config activation.
const frameworkLockID = 4_720_114

var (
	boundaryUpsert = db.UpsertConfig{
		Table:        "severity.admin_boundaries",
		Columns:      []string{"pcode", "name", "admin_level", "parent_pcode", "country_id", "geom"},
		ConflictKeys: []string{"pcode"},
	}
	matchRecordUpsert = db.UpsertConfig{
		Table: "severity.match_records",
		Columns: []string{
			"dataset_id", "raw_value_id", "raw_pcode", "raw_name",
			"derived_region_code", "derived_province_code", "derived_muni_code",
			"matched_adm2_pcode", "matched_adm3_pcode", "match_status", "matched_by_name", "invalid_value",
		},
		ConflictKeys: []string{"dataset_id", "raw_value_id"},
	}
	cleanValueUpsert = db.UpsertConfig{
		Table:        "severity.clean_values",
		Columns:      []string{"dataset_id", "admin_pcode", "category", "value"},
		ConflictKeys: []string{"dataset_id", "admin_pcode", "category"},
	}
	scoreUpsert = db.UpsertConfig{
		Table:        "severity.scores",
		Columns:      []string{"admin_pcode", "scope", "value", "computed_at"},
		ConflictKeys: []string{"admin_pcode", "scope"},
	}
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Boundaries ---

func (s *PostgresStore) UpsertBoundaries(ctx context.Context, boundaries []model.AdminBoundary) (int64, error) {
	rows := make([][]any, len(boundaries))
	for i, b := range boundaries {
		rows[i] = []any{b.Pcode, b.Name, string(b.AdminLevel), nullString(b.ParentPcode), b.CountryID, b.Geom}
	}
	n, err := db.BulkUpsert(ctx, s.pool, boundaryUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert boundaries")
}

func (s *PostgresStore) FetchBoundaries(ctx context.Context, countryID string, level model.AdminLevel) ([]model.AdminBoundary, error) {
	q := `SELECT pcode, name, admin_level, COALESCE(parent_pcode, ''), country_id FROM severity.admin_boundaries WHERE country_id = $1`
	args := []any{countryID}
	if level != "" {
		q += ` AND admin_level = $2`
		args = append(args, string(level))
	}
	q += ` ORDER BY pcode`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch boundaries")
	}
	defer rows.Close()

	var out []model.AdminBoundary
	for rows.Next() {
		var b model.AdminBoundary
		var lvl string
		if err := rows.Scan(&b.Pcode, &b.Name, &lvl, &b.ParentPcode, &b.CountryID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan boundary")
		}
		b.AdminLevel = model.AdminLevel(lvl)
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate boundaries")
}

// --- Datasets ---

func (s *PostgresStore) SaveDataset(ctx context.Context, d model.Dataset) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO severity.datasets (id, name, type, admin_level, category, country_id, is_baseline, is_derived)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type, admin_level = EXCLUDED.admin_level,
			category = EXCLUDED.category, country_id = EXCLUDED.country_id,
			is_baseline = EXCLUDED.is_baseline, is_derived = EXCLUDED.is_derived`,
		d.ID, d.Name, string(d.Type), string(d.AdminLevel), string(d.Category), d.CountryID, d.IsBaseline, d.IsDerived,
	)
	return eris.Wrapf(err, "postgres: save dataset %s", d.ID)
}

const datasetColumns = `id, name, type, admin_level, category, country_id, is_baseline, is_derived`

func (s *PostgresStore) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+datasetColumns+` FROM severity.datasets WHERE id = $1`, id)
	d, err := scanDataset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "dataset %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get dataset %s", id)
	}
	return d, nil
}

func (s *PostgresStore) ListDatasets(ctx context.Context, countryID string) ([]model.Dataset, error) {
	q := `SELECT ` + datasetColumns + ` FROM severity.datasets`
	var args []any
	if countryID != "" {
		q += ` WHERE country_id = $1`
		args = append(args, countryID)
	}
	q += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list datasets")
	}
	defer rows.Close()

	var out []model.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan dataset")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate datasets")
}

func (s *PostgresStore) SaveScoringConfig(ctx context.Context, datasetID string, cfg model.ScoringConfig) error {
	if err := cfg.Validate(); err != nil {
		return eris.Wrap(err, "postgres: scoring config")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal scoring config")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE severity.datasets SET scoring_config = $1 WHERE id = $2`, data, datasetID)
	if err != nil {
		return eris.Wrapf(err, "postgres: save scoring config %s", datasetID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dataset %s", datasetID)
	}
	return nil
}

func (s *PostgresStore) GetScoringConfig(ctx context.Context, datasetID string) (*model.ScoringConfig, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT scoring_config FROM severity.datasets WHERE id = $1`, datasetID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "dataset %s", datasetID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get scoring config %s", datasetID)
	}
	if len(data) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "scoring config for %s", datasetID)
	}
	var cfg model.ScoringConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal scoring config")
	}
	return &cfg, nil
}

// --- Raw values ---

func (s *PostgresStore) InsertRawValues(ctx context.Context, values []model.RawValue) (int64, error) {
	rows := make([][]any, len(values))
	for i, v := range values {
		w := v.Weight
		if w == 0 {
			w = 1
		}
		rows[i] = []any{v.DatasetID, v.RawPcode, v.RawName, v.RawValue, w}
	}
	return db.CopyRows(ctx, s.pool, "severity.raw_values",
		[]string{"dataset_id", "raw_pcode", "raw_name", "raw_value", "weight"}, rows)
}

func (s *PostgresStore) FetchRawValues(ctx context.Context, datasetID string, offset, limit int) ([]model.RawValue, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, dataset_id, raw_pcode, raw_name, raw_value, weight FROM severity.raw_values
		WHERE dataset_id = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		datasetID, limit, offset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: fetch raw values %s", datasetID)
	}
	defer rows.Close()

	var out []model.RawValue
	for rows.Next() {
		var v model.RawValue
		if err := rows.Scan(&v.ID, &v.DatasetID, &v.RawPcode, &v.RawName, &v.RawValue, &v.Weight); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw value")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate raw values")
}

func (s *PostgresStore) CountRawValues(ctx context.Context, datasetID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM severity.raw_values WHERE dataset_id = $1`, datasetID).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count raw values %s", datasetID)
}

// --- Reconciliation ---

// CommitBatch writes match records, clean values and the job checkpoint in
// one transaction. A failure leaves earlier batches untouched.
func (s *PostgresStore) CommitBatch(ctx context.Context, b Batch) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: commit batch: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if b.Reset {
		for _, table := range []string{"severity.match_records", "severity.clean_values"} {
			if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE dataset_id = $1", table), b.DatasetID); err != nil {
				return 0, eris.Wrapf(err, "postgres: reset %s", table)
			}
		}
	}

	recRows := make([][]any, len(b.Records))
	for i, r := range b.Records {
		recRows[i] = []any{
			b.DatasetID, r.RawValueID, r.RawPcode, r.RawName,
			r.DerivedRegionCode, r.DerivedProvinceCode, r.DerivedMuniCode,
			r.MatchedADM2Pcode, r.MatchedADM3Pcode, string(r.MatchStatus), r.MatchedByName, r.InvalidValue,
		}
	}
	if _, err := db.UpsertTx(ctx, tx, matchRecordUpsert, recRows); err != nil {
		return 0, eris.Wrap(err, "postgres: write match records")
	}

	values := mergeCleanValues(b.Values, b.Accumulate)
	valRows := make([][]any, len(values))
	for i, v := range values {
		valRows[i] = []any{b.DatasetID, v.AdminPcode, v.Category, v.Value}
	}
	cfg := cleanValueUpsert
	if b.Accumulate {
		cfg.UpdateExprs = map[string]string{"value": `"clean_values"."value" + EXCLUDED."value"`}
	}
	if _, err := db.UpsertTx(ctx, tx, cfg, valRows); err != nil {
		return 0, eris.Wrap(err, "postgres: write clean values")
	}

	var committed int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM severity.clean_values WHERE dataset_id = $1`, b.DatasetID).Scan(&committed); err != nil {
		return 0, eris.Wrapf(err, "postgres: count clean values %s", b.DatasetID)
	}

	if b.Job != nil {
		job := *b.Job
		job.Committed = committed
		if err := updateJob(ctx, tx, job); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit batch")
	}
	return committed, nil
}

func (s *PostgresStore) ListMatchRecords(ctx context.Context, datasetID string, status model.MatchStatus) ([]model.MatchRecord, error) {
	q := `SELECT dataset_id, raw_value_id, raw_pcode, raw_name, derived_region_code, derived_province_code,
		derived_muni_code, matched_adm2_pcode, matched_adm3_pcode, match_status, matched_by_name, invalid_value
		FROM severity.match_records WHERE dataset_id = $1`
	args := []any{datasetID}
	if status != "" {
		q += ` AND match_status = $2`
		args = append(args, string(status))
	}
	q += ` ORDER BY raw_value_id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list match records %s", datasetID)
	}
	defer rows.Close()

	var out []model.MatchRecord
	for rows.Next() {
		var r model.MatchRecord
		var st string
		if err := rows.Scan(&r.DatasetID, &r.RawValueID, &r.RawPcode, &r.RawName,
			&r.DerivedRegionCode, &r.DerivedProvinceCode, &r.DerivedMuniCode,
			&r.MatchedADM2Pcode, &r.MatchedADM3Pcode, &st, &r.MatchedByName, &r.InvalidValue); err != nil {
			return nil, eris.Wrap(err, "postgres: scan match record")
		}
		r.MatchStatus = model.MatchStatus(st)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate match records")
}

func (s *PostgresStore) ListCleanValues(ctx context.Context, datasetID string) ([]model.CleanValue, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT dataset_id, admin_pcode, category, value FROM severity.clean_values
		WHERE dataset_id = $1 ORDER BY admin_pcode, category`,
		datasetID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list clean values %s", datasetID)
	}
	defer rows.Close()

	var out []model.CleanValue
	for rows.Next() {
		var v model.CleanValue
		if err := rows.Scan(&v.DatasetID, &v.AdminPcode, &v.Category, &v.Value); err != nil {
			return nil, eris.Wrap(err, "postgres: scan clean value")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate clean values")
}

// --- Scores ---

func (s *PostgresStore) UpsertScores(ctx context.Context, scores []model.Score) (int64, error) {
	rows := make([][]any, len(scores))
	for i, sc := range scores {
		rows[i] = []any{sc.AdminPcode, sc.Scope, sc.Value, sc.ComputedAt}
	}
	n, err := db.BulkUpsert(ctx, s.pool, scoreUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert scores")
}

// ReplaceScores clears the selected scores and bulk-writes scores in one
// transaction.
func (s *PostgresStore) ReplaceScores(ctx context.Context, r ScoreReplace, scores []model.Score) (int64, error) {
	if len(r.Scopes) == 0 {
		return 0, eris.New("postgres: replace scores: no scopes")
	}
	args := []any{r.Scopes}
	where := []string{"scope = ANY($1)"}
	if len(r.PcodePrefixes) > 0 {
		patterns := make([]string, len(r.PcodePrefixes))
		for i, p := range r.PcodePrefixes {
			patterns[i] = p + "%"
		}
		args = append(args, patterns)
		where = append(where, fmt.Sprintf("admin_pcode LIKE ANY($%d)", len(args)))
	}
	if r.CountryID != "" {
		args = append(args, r.CountryID)
		where = append(where, fmt.Sprintf(`admin_pcode IN (
			SELECT pcode FROM severity.admin_boundaries WHERE country_id = $%[1]d
			UNION SELECT cv.admin_pcode FROM severity.clean_values cv JOIN severity.datasets d ON d.id = cv.dataset_id WHERE d.country_id = $%[1]d)`, len(args)))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: replace scores: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "DELETE FROM severity.scores WHERE "+strings.Join(where, " AND "), args...); err != nil {
		return 0, eris.Wrap(err, "postgres: clear scores")
	}
	rows := make([][]any, len(scores))
	for i, sc := range scores {
		rows[i] = []any{sc.AdminPcode, sc.Scope, sc.Value, sc.ComputedAt}
	}
	n, err := db.UpsertTx(ctx, tx, scoreUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: write scores")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: replace scores: commit")
	}
	return n, nil
}

func (s *PostgresStore) ListScores(ctx context.Context, f ScoreFilter) ([]model.Score, error) {
	var where []string
	var args []any
	if len(f.Scopes) > 0 {
		args = append(args, f.Scopes)
		where = append(where, fmt.Sprintf("scope = ANY($%d)", len(args)))
	}
	if f.PcodePrefix != "" {
		args = append(args, f.PcodePrefix+"%")
		where = append(where, fmt.Sprintf("admin_pcode LIKE $%d", len(args)))
	}
	q := `SELECT admin_pcode, scope, value, computed_at FROM severity.scores`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += ` ORDER BY admin_pcode, scope`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scores")
	}
	defer rows.Close()

	var out []model.Score
	for rows.Next() {
		var sc model.Score
		if err := rows.Scan(&sc.AdminPcode, &sc.Scope, &sc.Value, &sc.ComputedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan score")
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate scores")
}

// --- Framework configs ---

// ActivateFrameworkConfig stores cfg as the next version and makes it the
// only active one, all in one transaction.
func (s *PostgresStore) ActivateFrameworkConfig(ctx context.Context, cfg model.FrameworkConfig) (*model.FrameworkConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "postgres: framework config")
	}
	doc, err := json.Marshal(toFrameworkDoc(cfg))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal framework config")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: activate framework: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", frameworkLockID); err != nil {
		return nil, eris.Wrap(err, "postgres: framework advisory lock")
	}
	var version int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM severity.framework_configs`).Scan(&version); err != nil {
		return nil, eris.Wrap(err, "postgres: next framework version")
	}
	if _, err := tx.Exec(ctx, `UPDATE severity.framework_configs SET active = false WHERE active`); err != nil {
		return nil, eris.Wrap(err, "postgres: deactivate framework configs")
	}

	out := cfg
	out.ID = uuid.New().String()
	out.Version = version + 1
	out.Active = true
	out.CreatedAt = model.Clock().Now().UTC()
	if _, err := tx.Exec(ctx,
		`INSERT INTO severity.framework_configs (id, version, active, config, created_at) VALUES ($1, $2, true, $3, $4)`,
		out.ID, out.Version, doc, out.CreatedAt,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert framework config")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: activate framework: commit")
	}
	return &out, nil
}

const frameworkColumns = `id, version, active, config, created_at`

func (s *PostgresStore) GetActiveFrameworkConfig(ctx context.Context) (*model.FrameworkConfig, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+frameworkColumns+` FROM severity.framework_configs WHERE active`)
	cfg, err := scanFramework(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "active framework config")
	}
	return cfg, eris.Wrap(err, "postgres: get active framework config")
}

func (s *PostgresStore) GetFrameworkConfigVersion(ctx context.Context, version int) (*model.FrameworkConfig, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+frameworkColumns+` FROM severity.framework_configs WHERE version = $1`, version)
	cfg, err := scanFramework(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "framework config version %d", version)
	}
	return cfg, eris.Wrapf(err, "postgres: get framework config version %d", version)
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job model.Job) (*model.Job, error) {
	out := job
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	now := model.Clock().Now().UTC()
	out.CreatedAt, out.UpdatedAt = now, now
	counts, err := json.Marshal(countsOrEmpty(out.Counts))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal job counts")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO severity.jobs (id, kind, dataset_id, status, "offset", total, committed, counts, invalid_values, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		out.ID, out.Kind, out.DatasetID, string(out.Status), out.Offset, out.Total, out.Committed, counts, out.InvalidValues, out.Error, now, now,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, eris.Wrapf(ErrJobConflict, "dataset %s", out.DatasetID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}
	return &out, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job model.Job) error {
	return updateJob(ctx, s.pool, job)
}

func updateJob(ctx context.Context, ex db.Execer, job model.Job) error {
	counts, err := json.Marshal(countsOrEmpty(job.Counts))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job counts")
	}
	tag, err := ex.Exec(ctx,
		`UPDATE severity.jobs SET status = $1, "offset" = $2, total = $3, committed = $4, counts = $5, invalid_values = $6, error = $7, updated_at = $8
		WHERE id = $9`,
		string(job.Status), job.Offset, job.Total, job.Committed, counts, job.InvalidValues, job.Error, model.Clock().Now().UTC(), job.ID,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return eris.Wrapf(ErrJobConflict, "dataset %s", job.DatasetID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, kind, dataset_id, status, "offset", total, committed, counts, invalid_values, error, created_at, updated_at
		FROM severity.jobs WHERE id = $1`, id)
	var j model.Job
	var status string
	var counts []byte
	err := row.Scan(&j.ID, &j.Kind, &j.DatasetID, &status, &j.Offset, &j.Total, &j.Committed, &counts, &j.InvalidValues, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	j.Status = model.JobStatus(status)
	if err := json.Unmarshal(counts, &j.Counts); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal job counts")
	}
	return &j, nil
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanDataset(row scannable) (*model.Dataset, error) {
	var d model.Dataset
	var typ, lvl, cat string
	if err := row.Scan(&d.ID, &d.Name, &typ, &lvl, &cat, &d.CountryID, &d.IsBaseline, &d.IsDerived); err != nil {
		return nil, err
	}
	d.Type = model.DatasetType(typ)
	d.AdminLevel = model.AdminLevel(lvl)
	d.Category = model.Category(cat)
	return &d, nil
}

func scanFramework(row scannable) (*model.FrameworkConfig, error) {
	var cfg model.FrameworkConfig
	var data []byte
	if err := row.Scan(&cfg.ID, &cfg.Version, &cfg.Active, &data, &cfg.CreatedAt); err != nil {
		return nil, err
	}
	var doc frameworkDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "unmarshal framework config")
	}
	doc.apply(&cfg)
	return &cfg, nil
}

func countsOrEmpty(c map[model.MatchStatus]int) map[model.MatchStatus]int {
	if c == nil {
		return map[model.MatchStatus]int{}
	}
	return c
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
