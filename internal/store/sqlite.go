package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local and
// offline runs of the toolset.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Boundaries ---

func (s *SQLiteStore) UpsertBoundaries(ctx context.Context, boundaries []model.AdminBoundary) (int64, error) {
	if len(boundaries) == 0 {
		return 0, nil
	}
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO admin_boundaries (pcode, name, admin_level, parent_pcode, country_id, geom)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (pcode) DO UPDATE SET name = excluded.name, admin_level = excluded.admin_level,
				parent_pcode = excluded.parent_pcode, country_id = excluded.country_id, geom = excluded.geom`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare boundary upsert")
		}
		defer stmt.Close() //nolint:errcheck

		for _, b := range boundaries {
			if _, err := stmt.ExecContext(ctx, b.Pcode, b.Name, string(b.AdminLevel), nullString(b.ParentPcode), b.CountryID, b.Geom); err != nil {
				return eris.Wrapf(err, "sqlite: upsert boundary %s", b.Pcode)
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *SQLiteStore) FetchBoundaries(ctx context.Context, countryID string, level model.AdminLevel) ([]model.AdminBoundary, error) {
	q := `SELECT pcode, name, admin_level, COALESCE(parent_pcode, ''), country_id FROM admin_boundaries WHERE country_id = ?`
	args := []any{countryID}
	if level != "" {
		q += ` AND admin_level = ?`
		args = append(args, string(level))
	}
	q += ` ORDER BY pcode`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch boundaries")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AdminBoundary
	for rows.Next() {
		var b model.AdminBoundary
		var lvl string
		if err := rows.Scan(&b.Pcode, &b.Name, &lvl, &b.ParentPcode, &b.CountryID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan boundary")
		}
		b.AdminLevel = model.AdminLevel(lvl)
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate boundaries")
}

// --- Datasets ---

func (s *SQLiteStore) SaveDataset(ctx context.Context, d model.Dataset) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (id, name, type, admin_level, category, country_id, is_baseline, is_derived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, type = excluded.type, admin_level = excluded.admin_level,
			category = excluded.category, country_id = excluded.country_id,
			is_baseline = excluded.is_baseline, is_derived = excluded.is_derived`,
		d.ID, d.Name, string(d.Type), string(d.AdminLevel), string(d.Category), d.CountryID, d.IsBaseline, d.IsDerived,
	)
	return eris.Wrapf(err, "sqlite: save dataset %s", d.ID)
}

func (s *SQLiteStore) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = ?`, id)
	d, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "dataset %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get dataset %s", id)
	}
	return d, nil
}

func (s *SQLiteStore) ListDatasets(ctx context.Context, countryID string) ([]model.Dataset, error) {
	q := `SELECT ` + datasetColumns + ` FROM datasets`
	var args []any
	if countryID != "" {
		q += ` WHERE country_id = ?`
		args = append(args, countryID)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list datasets")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dataset")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate datasets")
}

func (s *SQLiteStore) SaveScoringConfig(ctx context.Context, datasetID string, cfg model.ScoringConfig) error {
	if err := cfg.Validate(); err != nil {
		return eris.Wrap(err, "sqlite: scoring config")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal scoring config")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE datasets SET scoring_config = ? WHERE id = ?`, string(data), datasetID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save scoring config %s", datasetID)
	}
	return checkRowsAffected(res, "dataset", datasetID)
}

func (s *SQLiteStore) GetScoringConfig(ctx context.Context, datasetID string) (*model.ScoringConfig, error) {
	var data sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT scoring_config FROM datasets WHERE id = ?`, datasetID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "dataset %s", datasetID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get scoring config %s", datasetID)
	}
	if !data.Valid || data.String == "" {
		return nil, eris.Wrapf(ErrNotFound, "scoring config for %s", datasetID)
	}
	var cfg model.ScoringConfig
	if err := json.Unmarshal([]byte(data.String), &cfg); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal scoring config")
	}
	return &cfg, nil
}

// --- Raw values ---

func (s *SQLiteStore) InsertRawValues(ctx context.Context, values []model.RawValue) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO raw_values (dataset_id, raw_pcode, raw_name, raw_value, weight) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare raw value insert")
		}
		defer stmt.Close() //nolint:errcheck

		for _, v := range values {
			w := v.Weight
			if w == 0 {
				w = 1
			}
			if _, err := stmt.ExecContext(ctx, v.DatasetID, v.RawPcode, v.RawName, v.RawValue, w); err != nil {
				return eris.Wrapf(err, "sqlite: insert raw value for %s", v.DatasetID)
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *SQLiteStore) FetchRawValues(ctx context.Context, datasetID string, offset, limit int) ([]model.RawValue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dataset_id, raw_pcode, raw_name, raw_value, weight FROM raw_values
		WHERE dataset_id = ? ORDER BY id LIMIT ? OFFSET ?`,
		datasetID, limit, offset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: fetch raw values %s", datasetID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RawValue
	for rows.Next() {
		var v model.RawValue
		if err := rows.Scan(&v.ID, &v.DatasetID, &v.RawPcode, &v.RawName, &v.RawValue, &v.Weight); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw value")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate raw values")
}

func (s *SQLiteStore) CountRawValues(ctx context.Context, datasetID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_values WHERE dataset_id = ?`, datasetID).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count raw values %s", datasetID)
}

// --- Reconciliation ---

func (s *SQLiteStore) CommitBatch(ctx context.Context, b Batch) (int64, error) {
	var committed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if b.Reset {
			for _, q := range []string{
				`DELETE FROM match_records WHERE dataset_id = ?`,
				`DELETE FROM clean_values WHERE dataset_id = ?`,
			} {
				if _, err := tx.ExecContext(ctx, q, b.DatasetID); err != nil {
					return eris.Wrapf(err, "sqlite: reset dataset %s", b.DatasetID)
				}
			}
		}

		recStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO match_records (dataset_id, raw_value_id, raw_pcode, raw_name, derived_region_code,
				derived_province_code, derived_muni_code, matched_adm2_pcode, matched_adm3_pcode,
				match_status, matched_by_name, invalid_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (dataset_id, raw_value_id) DO UPDATE SET raw_pcode = excluded.raw_pcode,
				raw_name = excluded.raw_name, derived_region_code = excluded.derived_region_code,
				derived_province_code = excluded.derived_province_code, derived_muni_code = excluded.derived_muni_code,
				matched_adm2_pcode = excluded.matched_adm2_pcode, matched_adm3_pcode = excluded.matched_adm3_pcode,
				match_status = excluded.match_status, matched_by_name = excluded.matched_by_name,
				invalid_value = excluded.invalid_value`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare match record upsert")
		}
		defer recStmt.Close() //nolint:errcheck

		for _, r := range b.Records {
			if _, err := recStmt.ExecContext(ctx,
				b.DatasetID, r.RawValueID, r.RawPcode, r.RawName,
				r.DerivedRegionCode, r.DerivedProvinceCode, r.DerivedMuniCode,
				r.MatchedADM2Pcode, r.MatchedADM3Pcode, string(r.MatchStatus), r.MatchedByName, r.InvalidValue,
			); err != nil {
				return eris.Wrapf(err, "sqlite: write match record %d", r.RawValueID)
			}
		}

		update := `value = excluded.value`
		if b.Accumulate {
			update = `value = clean_values.value + excluded.value`
		}
		valStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO clean_values (dataset_id, admin_pcode, category, value) VALUES (?, ?, ?, ?)
			ON CONFLICT (dataset_id, admin_pcode, category) DO UPDATE SET `+update)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare clean value upsert")
		}
		defer valStmt.Close() //nolint:errcheck

		for _, v := range mergeCleanValues(b.Values, b.Accumulate) {
			if _, err := valStmt.ExecContext(ctx, b.DatasetID, v.AdminPcode, v.Category, v.Value); err != nil {
				return eris.Wrapf(err, "sqlite: write clean value %s", v.AdminPcode)
			}
		}

		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM clean_values WHERE dataset_id = ?`, b.DatasetID).Scan(&committed); err != nil {
			return eris.Wrapf(err, "sqlite: count clean values %s", b.DatasetID)
		}

		if b.Job != nil {
			job := *b.Job
			job.Committed = committed
			return sqliteUpdateJob(ctx, tx, job)
		}
		return nil
	})
	return committed, err
}

func (s *SQLiteStore) ListMatchRecords(ctx context.Context, datasetID string, status model.MatchStatus) ([]model.MatchRecord, error) {
	q := `SELECT dataset_id, raw_value_id, raw_pcode, raw_name, derived_region_code, derived_province_code,
		derived_muni_code, matched_adm2_pcode, matched_adm3_pcode, match_status, matched_by_name, invalid_value
		FROM match_records WHERE dataset_id = ?`
	args := []any{datasetID}
	if status != "" {
		q += ` AND match_status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY raw_value_id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list match records %s", datasetID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MatchRecord
	for rows.Next() {
		var r model.MatchRecord
		var st string
		if err := rows.Scan(&r.DatasetID, &r.RawValueID, &r.RawPcode, &r.RawName,
			&r.DerivedRegionCode, &r.DerivedProvinceCode, &r.DerivedMuniCode,
			&r.MatchedADM2Pcode, &r.MatchedADM3Pcode, &st, &r.MatchedByName, &r.InvalidValue); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match record")
		}
		r.MatchStatus = model.MatchStatus(st)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate match records")
}

func (s *SQLiteStore) ListCleanValues(ctx context.Context, datasetID string) ([]model.CleanValue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dataset_id, admin_pcode, category, value FROM clean_values
		WHERE dataset_id = ? ORDER BY admin_pcode, category`,
		datasetID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list clean values %s", datasetID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CleanValue
	for rows.Next() {
		var v model.CleanValue
		if err := rows.Scan(&v.DatasetID, &v.AdminPcode, &v.Category, &v.Value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan clean value")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate clean values")
}

// --- Scores ---

func (s *SQLiteStore) UpsertScores(ctx context.Context, scores []model.Score) (int64, error) {
	if len(scores) == 0 {
		return 0, nil
	}
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = sqliteWriteScores(ctx, tx, scores)
		return err
	})
	return n, err
}

func (s *SQLiteStore) ReplaceScores(ctx context.Context, r ScoreReplace, scores []model.Score) (int64, error) {
	if len(r.Scopes) == 0 {
		return 0, eris.New("sqlite: replace scores: no scopes")
	}
	where := []string{"scope IN (" + placeholders(len(r.Scopes)) + ")"}
	var args []any
	for _, sc := range r.Scopes {
		args = append(args, sc)
	}
	if len(r.PcodePrefixes) > 0 {
		likes := make([]string, len(r.PcodePrefixes))
		for i, p := range r.PcodePrefixes {
			likes[i] = "admin_pcode LIKE ?"
			args = append(args, p+"%")
		}
		where = append(where, "("+strings.Join(likes, " OR ")+")")
	}
	if r.CountryID != "" {
		where = append(where, `admin_pcode IN (
			SELECT pcode FROM admin_boundaries WHERE country_id = ?
			UNION SELECT cv.admin_pcode FROM clean_values cv JOIN datasets d ON d.id = cv.dataset_id WHERE d.country_id = ?)`)
		args = append(args, r.CountryID, r.CountryID)
	}

	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM scores WHERE "+strings.Join(where, " AND "), args...); err != nil {
			return eris.Wrap(err, "sqlite: clear scores")
		}
		var err error
		n, err = sqliteWriteScores(ctx, tx, scores)
		return err
	})
	return n, err
}

func sqliteWriteScores(ctx context.Context, tx *sql.Tx, scores []model.Score) (int64, error) {
	if len(scores) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scores (admin_pcode, scope, value, computed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (admin_pcode, scope) DO UPDATE SET value = excluded.value, computed_at = excluded.computed_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare score upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, sc := range scores {
		if _, err := stmt.ExecContext(ctx, sc.AdminPcode, sc.Scope, sc.Value, sc.ComputedAt.UTC()); err != nil {
			return n, eris.Wrapf(err, "sqlite: upsert score %s/%s", sc.AdminPcode, sc.Scope)
		}
		n++
	}
	return n, nil
}

func (s *SQLiteStore) ListScores(ctx context.Context, f ScoreFilter) ([]model.Score, error) {
	var where []string
	var args []any
	if len(f.Scopes) > 0 {
		for _, sc := range f.Scopes {
			args = append(args, sc)
		}
		where = append(where, "scope IN ("+placeholders(len(f.Scopes))+")")
	}
	if f.PcodePrefix != "" {
		where = append(where, "admin_pcode LIKE ?")
		args = append(args, f.PcodePrefix+"%")
	}
	q := `SELECT admin_pcode, scope, value, computed_at FROM scores`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += ` ORDER BY admin_pcode, scope`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scores")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Score
	for rows.Next() {
		var sc model.Score
		if err := rows.Scan(&sc.AdminPcode, &sc.Scope, &sc.Value, &sc.ComputedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score")
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate scores")
}

// --- Framework configs ---

func (s *SQLiteStore) ActivateFrameworkConfig(ctx context.Context, cfg model.FrameworkConfig) (*model.FrameworkConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "sqlite: framework config")
	}
	doc, err := json.Marshal(toFrameworkDoc(cfg))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal framework config")
	}

	out := cfg
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var version int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM framework_configs`).Scan(&version); err != nil {
			return eris.Wrap(err, "sqlite: next framework version")
		}
		if _, err := tx.ExecContext(ctx, `UPDATE framework_configs SET active = 0 WHERE active = 1`); err != nil {
			return eris.Wrap(err, "sqlite: deactivate framework configs")
		}
		out.ID = uuid.New().String()
		out.Version = version + 1
		out.Active = true
		out.CreatedAt = model.Clock().Now().UTC()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO framework_configs (id, version, active, config, created_at) VALUES (?, ?, 1, ?, ?)`,
			out.ID, out.Version, string(doc), out.CreatedAt,
		)
		return eris.Wrap(err, "sqlite: insert framework config")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SQLiteStore) GetActiveFrameworkConfig(ctx context.Context) (*model.FrameworkConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+frameworkColumns+` FROM framework_configs WHERE active = 1`)
	cfg, err := scanSQLiteFramework(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "active framework config")
	}
	return cfg, eris.Wrap(err, "sqlite: get active framework config")
}

func (s *SQLiteStore) GetFrameworkConfigVersion(ctx context.Context, version int) (*model.FrameworkConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+frameworkColumns+` FROM framework_configs WHERE version = ?`, version)
	cfg, err := scanSQLiteFramework(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "framework config version %d", version)
	}
	return cfg, eris.Wrapf(err, "sqlite: get framework config version %d", version)
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job model.Job) (*model.Job, error) {
	out := job
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	now := model.Clock().Now().UTC()
	out.CreatedAt, out.UpdatedAt = now, now
	counts, err := json.Marshal(countsOrEmpty(out.Counts))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal job counts")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, dataset_id, status, "offset", total, committed, counts, invalid_values, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.Kind, out.DatasetID, string(out.Status), out.Offset, out.Total, out.Committed, string(counts), out.InvalidValues, out.Error, now, now,
	)
	if isUniqueViolation(err) {
		return nil, eris.Wrapf(ErrJobConflict, "dataset %s", out.DatasetID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}
	return &out, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job model.Job) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return sqliteUpdateJob(ctx, tx, job)
	})
}

func sqliteUpdateJob(ctx context.Context, tx *sql.Tx, job model.Job) error {
	counts, err := json.Marshal(countsOrEmpty(job.Counts))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job counts")
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, "offset" = ?, total = ?, committed = ?, counts = ?, invalid_values = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		string(job.Status), job.Offset, job.Total, job.Committed, string(counts), job.InvalidValues, job.Error, model.Clock().Now().UTC(), job.ID,
	)
	if isUniqueViolation(err) {
		return eris.Wrapf(ErrJobConflict, "dataset %s", job.DatasetID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	return checkRowsAffected(res, "job", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, dataset_id, status, "offset", total, committed, counts, invalid_values, error, created_at, updated_at
		FROM jobs WHERE id = ?`, id)
	var j model.Job
	var status, counts string
	err := row.Scan(&j.ID, &j.Kind, &j.DatasetID, &status, &j.Offset, &j.Total, &j.Committed, &counts, &j.InvalidValues, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	j.Status = model.JobStatus(status)
	if err := json.Unmarshal([]byte(counts), &j.Counts); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal job counts")
	}
	return &j, nil
}

// helpers

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func scanSQLiteFramework(row scannable) (*model.FrameworkConfig, error) {
	var cfg model.FrameworkConfig
	var data string
	if err := row.Scan(&cfg.ID, &cfg.Version, &cfg.Active, &data, &cfg.CreatedAt); err != nil {
		return nil, err
	}
	var doc frameworkDoc
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, eris.Wrap(err, "unmarshal framework config")
	}
	doc.apply(&cfg)
	return &cfg, nil
}
