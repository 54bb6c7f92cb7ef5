package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dictation-core/processor/internal/resilience"
)

func TestCreateRecordingInsertsPendingRow(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO recordings")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	s := New(sqlDB)
	id, err := s.CreateRecording(context.Background(), &Recording{
		RecordingID: 1,
		PatientName: "Alice",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRecordingConstraintFailureIsNonRetryable(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO recordings")).
		WillReturnError(errors.New("UNIQUE constraint failed: recordings.recording_id"))

	s := New(sqlDB)
	_, err = s.CreateRecording(context.Background(), &Recording{RecordingID: 1, PatientName: "Alice"})

	require.Error(t, err)
	assert.Equal(t, resilience.KindDatabase, resilience.KindOf(err))
	assert.False(t, resilience.IsRetryable(err), "a constraint violation must not be retried by the queue")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailRequiresNonEmptyErrorMessage(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE recordings")).
		WithArgs(string(StatusFailed), "unknown error", 1, sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := New(sqlDB)
	err = s.Fail(context.Background(), 1, "", 1)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
