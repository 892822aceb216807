package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "users",
		Columns:      []string{"id", "name"},
		ConflictKeys: []string{"id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "users",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "users",
		Columns: []string{"id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBuildUpsertSQL_Overwrite(t *testing.T) {
	sql, err := BuildUpsertSQL(UpsertConfig{
		Table:        "users",
		Columns:      []string{"phone_number", "full_name"},
		ConflictKeys: []string{"phone_number"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "users" AS t ("phone_number", "full_name") SELECT "phone_number", "full_name" FROM "_tmp_upsert_users" ON CONFLICT ("phone_number") DO UPDATE SET "full_name" = EXCLUDED."full_name"`,
		sql)
}

func TestBuildUpsertSQL_Coalesce(t *testing.T) {
	sql, err := BuildUpsertSQL(UpsertConfig{
		Table:        "users",
		Columns:      []string{"id", "phone_number", "full_name", "cibil_score", "updated_on"},
		ConflictKeys: []string{"phone_number"},
		UpdateCols:   []string{"full_name", "cibil_score", "updated_on"},
		Mode:         MergeCoalesce,
		AlwaysUpdate: []string{"updated_on"},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, `"full_name" = COALESCE(t."full_name", EXCLUDED."full_name")`)
	assert.Contains(t, sql, `"cibil_score" = COALESCE(t."cibil_score", EXCLUDED."cibil_score")`)
	assert.Contains(t, sql, `"updated_on" = EXCLUDED."updated_on"`)
	assert.NotContains(t, sql, `"id" =`)
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := UpsertConfig{
		Table:        "users",
		Columns:      []string{"phone_number", "full_name"},
		ConflictKeys: []string{"phone_number"},
		Mode:         MergeCoalesce,
	}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_users"}, cfg.Columns).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := BulkUpsert(context.Background(), mock, cfg, [][]any{
		{"9999999999", "Jane Doe"},
		{"8888888888", nil},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBulkUpsert_InsertFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := UpsertConfig{
		Table:        "users",
		Columns:      []string{"phone_number"},
		ConflictKeys: []string{"phone_number"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_users"}, cfg.Columns).WillReturnResult(1)
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, cfg, [][]any{{"9999999999"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSERT ON CONFLICT")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id", "email"}
	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"users"}, cols).WillReturnResult(1)
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := CopyInsert(context.Background(), mock, "users", cols, [][]any{{"u1", "a@b.com"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"users", `"users"`},
		{"crm.users", `"crm"."users"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
