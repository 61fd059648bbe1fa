package db

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "severity.scores",
		Columns:      []string{"admin_pcode", "scope", "value"},
		ConflictKeys: []string{"admin_pcode", "scope"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "severity.scores",
		ConflictKeys: []string{"admin_pcode"},
	}, [][]any{{"PH0702", 1.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "severity.scores",
		Columns: []string{"admin_pcode", "value"},
	}, [][]any{{"PH0702", 1.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_severity_scores"}, []string{"admin_pcode", "scope", "value"}).
		WillReturnResult(2)
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT ("admin_pcode", "scope") DO UPDATE SET "value" = EXCLUDED."value"`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("TRUNCATE").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCommit()

	rows := [][]any{{"PH0702", "Hazard", 3.0}, {"PH0703", "Hazard", 4.0}}
	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "severity.scores",
		Columns:      []string{"admin_pcode", "scope", "value"},
		ConflictKeys: []string{"admin_pcode", "scope"},
	}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyErrorRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_severity_scores"}, []string{"admin_pcode", "value"}).
		WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "severity.scores",
		Columns:      []string{"admin_pcode", "value"},
		ConflictKeys: []string{"admin_pcode"},
	}, [][]any{{"PH0702", 1.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for severity.scores")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetClauses(t *testing.T) {
	cfg := UpsertConfig{
		Columns:      []string{"dataset_id", "admin_pcode", "category", "value"},
		ConflictKeys: []string{"dataset_id", "admin_pcode", "category"},
		UpdateExprs:  map[string]string{"value": `"clean_values"."value" + EXCLUDED."value"`},
	}
	assert.Equal(t, []string{`"value" = "clean_values"."value" + EXCLUDED."value"`}, cfg.setClauses())

	cfg.UpdateExprs = nil
	cfg.UpdateCols = []string{"category", "value"}
	assert.Equal(t, []string{
		`"category" = EXCLUDED."category"`,
		`"value" = EXCLUDED."value"`,
	}, cfg.setClauses())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"severity.clean_values", `"severity"."clean_values"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"pcode", "name", "admin_level"})
	assert.Equal(t, `"pcode", "name", "admin_level"`, result)
}
