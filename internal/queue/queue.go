package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dictation-core/processor/internal/resilience"
	"github.com/dictation-core/processor/internal/store"
)

// TaskRunner executes a single task's per-worker orchestration. It is
// satisfied by internal/executor.Executor; defining the interface here
// rather than importing executor avoids an import cycle (executor already
// depends on queue.Task).
type TaskRunner interface {
	Run(ctx context.Context, task *Task) (Result, error)
}

type batchState struct {
	total     int
	completed int
	failed    int
	cancelled int
	taskIDs   []string
	options   BatchOptions
}

// Queue is the processing queue. It exclusively owns active/completed/
// failed task bookkeeping and the recording_id -> task_id dedup map; all
// Recording-row writes go through Store.
type Queue struct {
	cfg       Config
	store     *store.Store
	runner    TaskRunner
	callbacks Callbacks

	mu        sync.Mutex
	heap      *priorityHeap
	active    map[string]*Task
	completed []*Task
	failed    []*Task
	dedup     map[int64]string
	batches   map[string]*batchState
	stats     Stats
	seqCounter uint64

	dispatchCh chan *Task
	notify     chan struct{}
	stopCh     chan struct{}
	stopping   atomic.Bool
	wg         sync.WaitGroup

	// reprocessGroup coalesces concurrent reprocess_failed_recording calls
	// for the same recording_id into a single store lookup and submission.
	reprocessGroup singleflight.Group
}

// New builds a Queue. Callers must call Start to begin dispatching.
func New(cfg Config, st *store.Store, runner TaskRunner, callbacks Callbacks) *Queue {
	return &Queue{
		cfg:        cfg,
		store:      st,
		runner:     runner,
		callbacks:  callbacks,
		heap:       newPriorityHeap(),
		active:     make(map[string]*Task),
		dedup:      make(map[int64]string),
		batches:    make(map[string]*batchState),
		dispatchCh: make(chan *Task),
		notify:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the dispatcher goroutine and the fixed worker pool.
func (q *Queue) Start(ctx context.Context) {
	log.Info().Int("workers", q.cfg.Workers).Msg("starting processing queue")

	q.wg.Add(1)
	go q.dispatcher(ctx)

	q.wg.Add(q.cfg.Workers)
	for i := 0; i < q.cfg.Workers; i++ {
		go q.worker(ctx, i)
	}
}

// Shutdown signals the dispatcher and workers to stop. When wait is true
// it blocks until all in-flight tasks drain; otherwise it requests
// cooperative cancellation of every processing task and returns once the
// goroutines have exited.
func (q *Queue) Shutdown(wait bool) {
	if !wait {
		q.mu.Lock()
		for _, t := range q.active {
			t.Cancel()
		}
		q.mu.Unlock()
	}
	q.stopping.Store(true)
	close(q.stopCh)
	q.wg.Wait()
}

func (q *Queue) nextSeq() uint64 {
	return atomic.AddUint64(&q.seqCounter, 1)
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// AddRecording is add_recording: dedups, assigns a task id, inserts a
// pending Recording row, registers the dedup mapping, updates batch
// accounting, and pushes onto the priority queue. Returns "" when the
// recording_id is already live. The submission's other fields are not
// validated.
func (q *Queue) AddRecording(ctx context.Context, sub SubmissionOptions) (string, error) {
	priority := DefaultPriority
	if sub.Priority != nil {
		priority = *sub.Priority
	}

	q.mu.Lock()
	if _, isDup := q.dedup[sub.RecordingID]; isDup {
		q.stats.TotalDeduplicated++
		q.mu.Unlock()
		return "", nil
	}
	// Reserve the recording_id under the same lock as the dedup check so
	// two concurrent submissions for the same recording can't both pass
	// it before either registers.
	q.dedup[sub.RecordingID] = ""
	q.mu.Unlock()

	taskID := uuid.New().String()
	now := time.Now()

	if _, err := q.store.CreateRecording(ctx, &store.Recording{
		RecordingID: sub.RecordingID,
		PatientName: sub.PatientName,
		Transcript:  nullStringOf(sub.Transcript),
		BatchID:     nullStringOf(sub.BatchID),
	}); err != nil {
		q.mu.Lock()
		delete(q.dedup, sub.RecordingID)
		q.mu.Unlock()
		return "", fmt.Errorf("persisting recording: %w", err)
	}

	task := &Task{
		TaskID:      taskID,
		RecordingID: sub.RecordingID,
		AudioData:   sub.AudioData,
		Transcript:  sub.Transcript,
		PatientName: sub.PatientName,
		Context:     sub.Context,
		Options:     sub.Options,
		Priority:    priority,
		BatchID:     sub.BatchID,
		QueuedAt:    now,
		Status:      TaskQueued,
	}

	q.mu.Lock()
	task.seq = q.nextSeq()
	q.active[taskID] = task
	q.dedup[sub.RecordingID] = taskID
	q.stats.TotalQueued++
	if sub.BatchID != "" {
		if b, ok := q.batches[sub.BatchID]; ok {
			b.taskIDs = append(b.taskIDs, taskID)
		}
	}
	q.heap.pushItem(heapItem{priority: task.Priority, seq: task.seq, taskID: taskID})
	queueSize := q.heap.Len()
	q.mu.Unlock()

	q.fireStatusChange(taskID, TaskQueued, queueSize)
	q.wake()

	return taskID, nil
}

// AddBatchRecordings is add_batch_recordings.
func (q *Queue) AddBatchRecordings(ctx context.Context, submissions []SubmissionOptions, options BatchOptions) (string, error) {
	if len(submissions) > q.cfg.MaxBatchSize {
		return "", resilience.NewError(resilience.KindInput, fmt.Errorf("batch size %d exceeds MAX_BATCH_SIZE %d", len(submissions), q.cfg.MaxBatchSize))
	}

	batchID := uuid.New().String()
	if err := q.store.CreateBatch(ctx, batchID, len(submissions), options); err != nil {
		return "", fmt.Errorf("persisting batch: %w", err)
	}

	q.mu.Lock()
	q.batches[batchID] = &batchState{total: len(submissions), options: options}
	q.mu.Unlock()

	q.fireBatch(BatchStarted, batchID, 0, len(submissions))

	for _, sub := range submissions {
		sub.BatchID = batchID
		if _, err := q.AddRecording(ctx, sub); err != nil {
			return batchID, err
		}
	}

	return batchID, nil
}

// CancelTask is cancel_task.
func (q *Queue) CancelTask(taskID string) bool {
	q.mu.Lock()
	task, ok := q.active[taskID]
	if !ok {
		q.mu.Unlock()
		return false
	}

	switch task.Status {
	case TaskQueued:
		task.Status = TaskCancelled
		delete(q.dedup, task.RecordingID)
		delete(q.active, taskID)
		q.stats.TotalCancelled++
		q.pruneAndAppend(&q.completed, task)
		q.mu.Unlock()
		_ = q.store.Cancel(context.Background(), task.RecordingID)
		q.recordBatchCancellation(task)
		return true
	case TaskProcessing:
		task.Cancel()
		q.mu.Unlock()
		return true
	default:
		q.mu.Unlock()
		return false
	}
}

// CancelBatch is cancel_batch: cancels every cancellable task in
// the batch and returns the count cancelled.
func (q *Queue) CancelBatch(batchID string) int {
	q.mu.Lock()
	b, ok := q.batches[batchID]
	if !ok {
		q.mu.Unlock()
		return 0
	}
	taskIDs := append([]string(nil), b.taskIDs...)
	q.mu.Unlock()

	cancelled := 0
	for _, id := range taskIDs {
		if q.CancelTask(id) {
			cancelled++
		}
	}
	return cancelled
}

// ReprocessFailedRecording is reprocess_failed_recording. Calls for
// the same recording_id arriving concurrently (e.g. a doubly-clicked retry
// button) are coalesced through reprocessGroup so only one of them performs
// the store lookup, reset, and resubmission; the rest observe its result.
func (q *Queue) ReprocessFailedRecording(ctx context.Context, recordingID int64) (string, error) {
	key := fmt.Sprintf("%d", recordingID)
	v, err, _ := q.reprocessGroup.Do(key, func() (any, error) {
		return q.reprocessFailedRecording(ctx, recordingID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (q *Queue) reprocessFailedRecording(ctx context.Context, recordingID int64) (string, error) {
	rec, err := q.store.GetRecordingByRecordingID(ctx, recordingID)
	if err != nil {
		return "", err
	}
	if rec == nil || rec.ProcessingStatus != store.StatusFailed {
		return "", nil
	}

	if err := q.store.ResetForReprocess(ctx, recordingID); err != nil {
		return "", err
	}

	sub := SubmissionOptions{
		RecordingID: recordingID,
		PatientName: rec.PatientName,
		Priority:    IntPriority(3),
		Options: ProcessOptions{
			GenerateSOAP:     !rec.SOAPNote.Valid || rec.SOAPNote.String == "",
			GenerateReferral: !rec.Referral.Valid || rec.Referral.String == "",
			GenerateLetter:   !rec.Letter.Valid || rec.Letter.String == "",
		},
	}
	if rec.Transcript.Valid {
		sub.Transcript = rec.Transcript.String
	}
	if rec.AudioPath.Valid && rec.AudioPath.String != "" {
		data, err := os.ReadFile(rec.AudioPath.String)
		if err != nil {
			log.Warn().Err(err).Int64("recording_id", recordingID).Msg("could not reload audio from audio_path")
		} else {
			sub.AudioData = data
		}
	}

	q.mu.Lock()
	delete(q.dedup, recordingID) // removal on failed already dropped this, but reprocessing must never see a stale mapping
	q.mu.Unlock()

	return q.AddRecording(ctx, sub)
}

// GetStatus is get_status().
func (q *Queue) GetStatus() StatusSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return StatusSnapshot{
		QueueSize: q.heap.Len(),
		Active:    len(q.active),
		Completed: len(q.completed),
		Failed:    len(q.failed),
		Stats:     q.stats,
		Workers:   q.cfg.Workers,
	}
}

// GetTaskStatus returns a read-only snapshot of a task by id, or nil.
func (q *Queue) GetTaskStatus(taskID string) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.active[taskID]; ok {
		clone := *t
		return &clone
	}
	for _, t := range q.completed {
		if t.TaskID == taskID {
			clone := *t
			return &clone
		}
	}
	for _, t := range q.failed {
		if t.TaskID == taskID {
			clone := *t
			return &clone
		}
	}
	return nil
}

// GetBatchStatus returns a batch's total, completed and failed counts by
// id; ok is false when the batch is unknown.
func (q *Queue) GetBatchStatus(batchID string) (total, completedCount, failedCount int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, found := q.batches[batchID]
	if !found {
		return 0, 0, 0, false
	}
	return b.total, b.completed, b.failed, true
}

// pruneAndAppend appends task to the given terminal slice, dropping the
// oldest entries beyond MaxCompletedTasks. Must be called with q.mu held.
func (q *Queue) pruneAndAppend(slice *[]*Task, task *Task) {
	*slice = append(*slice, task)
	if len(*slice) > q.cfg.MaxCompletedTasks {
		*slice = (*slice)[len(*slice)-q.cfg.MaxCompletedTasks:]
	}
}

func (q *Queue) fireStatusChange(taskID string, status TaskStatus, queueSize int) {
	if q.callbacks.OnStatusChange == nil {
		return
	}
	defer recoverCallback("on_status_change")
	q.callbacks.OnStatusChange(taskID, status, queueSize)
}

func (q *Queue) fireCompletion(taskID string, task *Task, result Result) {
	if q.callbacks.OnCompletion == nil {
		return
	}
	defer recoverCallback("on_completion")
	q.callbacks.OnCompletion(taskID, task, result)
}

func (q *Queue) fireError(taskID string, task *Task, message string) {
	if q.callbacks.OnError == nil {
		return
	}
	defer recoverCallback("on_error")
	q.callbacks.OnError(taskID, task, message)
}

func (q *Queue) fireBatch(event BatchEvent, batchID string, current, total int) {
	if q.callbacks.OnBatch == nil {
		return
	}
	defer recoverCallback("on_batch")
	q.callbacks.OnBatch(event, batchID, current, total)
}

// recoverCallback catches a panicking callback and logs it without
// failing the task.
func recoverCallback(name string) {
	if r := recover(); r != nil {
		log.Error().Interface("panic", r).Str("callback", name).Msg("recovered from panicking callback")
	}
}

func nullStringOf(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
