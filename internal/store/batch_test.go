package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBatchInsertsPendingRow(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO batch_processing")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	s := New(sqlDB)
	err = s.CreateBatch(context.Background(), "batch-1", 3, map[string]any{"generate_soap": true})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBatchReturnsNilWhenMissing(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT batch_id, total_count, completed_count, failed_count")).
		WillReturnRows(sqlmock.NewRows([]string{
			"batch_id", "total_count", "completed_count", "failed_count",
			"created_at", "started_at", "completed_at", "options", "status",
		}))

	s := New(sqlDB)
	b, err := s.GetBatch(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, b)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTaskOutcomeMarksBatchCompletedOnLastTask(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE batch_processing SET completed_count = completed_count + 1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT total_count, completed_count, failed_count")).
		WillReturnRows(sqlmock.NewRows([]string{"total_count", "completed_count", "failed_count"}).
			AddRow(2, 2, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE batch_processing SET status = 'completed'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := New(sqlDB)
	completed, err := s.RecordTaskOutcome(context.Background(), "batch-1", true)
	require.NoError(t, err)
	assert.True(t, completed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTaskOutcomeLeavesBatchOpenBeforeLastTask(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE batch_processing SET failed_count = failed_count + 1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT total_count, completed_count, failed_count")).
		WillReturnRows(sqlmock.NewRows([]string{"total_count", "completed_count", "failed_count"}).
			AddRow(3, 0, 1))
	mock.ExpectCommit()

	s := New(sqlDB)
	completed, err := s.RecordTaskOutcome(context.Background(), "batch-1", false)
	require.NoError(t, err)
	assert.False(t, completed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkBatchCompletedIsIdempotent(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE batch_processing SET status = 'completed'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Second call: the completed_at IS NULL guard matches no row, and the
	// call still succeeds.
	mock.ExpectExec(regexp.QuoteMeta("WHERE batch_id = ? AND completed_at IS NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := New(sqlDB)
	err = s.MarkBatchCompleted(context.Background(), "batch-1")
	require.NoError(t, err)
	err = s.MarkBatchCompleted(context.Background(), "batch-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
