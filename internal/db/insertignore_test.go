package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkInsertIgnore_EmptyRows(t *testing.T) {
	n, err := BulkInsertIgnore(nil, nil, InsertIgnoreConfig{
		Table:        "crawler_samples",
		Columns:      []string{"id", "content_hash"},
		ConflictKeys: []string{"job_id", "content_hash"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkInsertIgnore_NoColumns(t *testing.T) {
	_, err := BulkInsertIgnore(nil, nil, InsertIgnoreConfig{
		Table:        "crawler_samples",
		ConflictKeys: []string{"content_hash"},
	}, [][]any{{"a", "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkInsertIgnore_NoConflictKeys(t *testing.T) {
	_, err := BulkInsertIgnore(nil, nil, InsertIgnoreConfig{
		Table:   "crawler_samples",
		Columns: []string{"id", "content_hash"},
	}, [][]any{{"a", "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkInsertIgnore_CopyAndInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_insert_crawler_samples"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_insert_crawler_samples"}, []string{"id", "content_hash"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "crawler_samples" \("id", "content_hash"\) SELECT "id", "content_hash" FROM "_tmp_insert_crawler_samples" ON CONFLICT \("job_id", "content_hash"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := BulkInsertIgnore(context.Background(), mock, InsertIgnoreConfig{
		Table:        "crawler_samples",
		Columns:      []string{"id", "content_hash"},
		ConflictKeys: []string{"job_id", "content_hash"},
	}, [][]any{{"s1", "h1"}, {"s2", "h2"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteAndJoin(t *testing.T) {
	got := quoteAndJoin([]string{"job_id", "content_hash", "content"})
	assert.Equal(t, `"job_id", "content_hash", "content"`, got)
}
