package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dictation-core/processor/internal/resilience"
	"github.com/dictation-core/processor/internal/store"
)

type stubRunner struct {
	run func(ctx context.Context, task *Task) (Result, error)
}

func (r *stubRunner) Run(ctx context.Context, task *Task) (Result, error) {
	return r.run(ctx, task)
}

func newTestQueue(t *testing.T, cfg Config, runner TaskRunner, callbacks Callbacks) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { sqlDB.Close() })

	for i := 0; i < 20; i++ {
		mock.ExpectExec("INSERT INTO recordings").WillReturnResult(sqlmock.NewResult(int64(i+1), 1))
	}
	for i := 0; i < 20; i++ {
		mock.ExpectExec("UPDATE recordings").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	for i := 0; i < 20; i++ {
		mock.ExpectExec("INSERT INTO batch_processing").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	for i := 0; i < 20; i++ {
		mock.ExpectExec("UPDATE batch_processing").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	for i := 0; i < 20; i++ {
		mock.ExpectQuery("SELECT total_count").WillReturnRows(
			sqlmock.NewRows([]string{"total_count", "completed_count", "failed_count"}).AddRow(0, 0, 0))
	}
	for i := 0; i < 20; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}

	st := store.New(sqlDB)
	q := New(cfg, st, runner, callbacks)
	q.Start(context.Background())
	t.Cleanup(func() { q.Shutdown(true) })
	return q, mock
}

func TestAddRecordingDeduplicatesLiveTask(t *testing.T) {
	blocked := make(chan struct{})
	runner := &stubRunner{run: func(ctx context.Context, task *Task) (Result, error) {
		<-blocked
		return Result{}, nil
	}}
	q, _ := newTestQueue(t, DefaultConfig(1), runner, Callbacks{})
	defer close(blocked)

	first, err := q.AddRecording(context.Background(), SubmissionOptions{RecordingID: 7, PatientName: "Alice"})
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := q.AddRecording(context.Background(), SubmissionOptions{RecordingID: 7, PatientName: "Alice"})
	require.NoError(t, err)
	assert.Empty(t, second)

	status := q.GetStatus()
	assert.Equal(t, int64(1), status.Stats.TotalDeduplicated)
}

// TestAddRecordingReleasesDedupReservationOnStoreFailure guards the
// reserve-before-write ordering in AddRecording: the recording_id is
// reserved in q.dedup before CreateRecording runs, so a failed insert must
// release that reservation, or the recording_id would be deduplicated
// forever despite never having a live task.
func TestAddRecordingReleasesDedupReservationOnStoreFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectExec("INSERT INTO recordings").WillReturnError(errors.New("constraint violation"))
	mock.ExpectExec("INSERT INTO recordings").WillReturnResult(sqlmock.NewResult(1, 1))

	st := store.New(sqlDB)
	blocked := make(chan struct{})
	runner := &stubRunner{run: func(ctx context.Context, task *Task) (Result, error) {
		<-blocked
		return Result{}, nil
	}}
	q := New(DefaultConfig(1), st, runner, Callbacks{})
	q.Start(context.Background())
	defer func() { close(blocked); q.Shutdown(true) }()

	taskID, err := q.AddRecording(context.Background(), SubmissionOptions{RecordingID: 42, PatientName: "Carol"})
	require.Error(t, err)
	assert.Empty(t, taskID)

	retried, err := q.AddRecording(context.Background(), SubmissionOptions{RecordingID: 42, PatientName: "Carol"})
	require.NoError(t, err)
	assert.NotEmpty(t, retried, "recording_id must not stay deduplicated after the first insert failed")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryThenSucceed(t *testing.T) {
	attempts := 0
	runner := &stubRunner{run: func(ctx context.Context, task *Task) (Result, error) {
		attempts++
		if attempts < 3 {
			return Result{}, resilience.NewError(resilience.KindServiceUnavail, errors.New("unavailable"))
		}
		return Result{Transcript: "ok"}, nil
	}}

	done := make(chan struct{})
	callbacks := Callbacks{OnCompletion: func(taskID string, task *Task, result Result) { close(done) }}

	q, _ := newTestQueue(t, DefaultConfig(1), runner, callbacks)

	_, err := q.AddRecording(context.Background(), SubmissionOptions{RecordingID: 1, PatientName: "Bob"})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never completed")
	}

	assert.Equal(t, 3, attempts)
}

func TestBatchCancellationFiresCompletedWithZeroCounts(t *testing.T) {
	runner := &stubRunner{run: func(ctx context.Context, task *Task) (Result, error) {
		time.Sleep(time.Hour) // never actually runs; batch is cancelled before dispatch
		return Result{}, nil
	}}

	var batchCompleted bool
	var completedPlusFailed int
	done := make(chan struct{})
	callbacks := Callbacks{OnBatch: func(event BatchEvent, batchID string, current, total int) {
		if event == BatchCompleted {
			batchCompleted = true
			// current is completed+failed; cancelled tasks are not counted.
			completedPlusFailed = current
			close(done)
		}
	}}

	cfg := DefaultConfig(1)
	cfg.Workers = 0 // no worker goroutines: nothing dequeues before the batch is cancelled
	q, _ := newTestQueue(t, cfg, runner, callbacks)

	submissions := make([]SubmissionOptions, 5)
	for i := range submissions {
		submissions[i] = SubmissionOptions{RecordingID: int64(i + 1), PatientName: "Batch"}
	}
	batchID, err := q.AddBatchRecordings(context.Background(), submissions, nil)
	require.NoError(t, err)

	cancelled := q.CancelBatch(batchID)
	assert.Equal(t, 5, cancelled)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("batch completion callback never fired")
	}

	assert.True(t, batchCompleted)
	assert.Equal(t, 0, completedPlusFailed)
}
