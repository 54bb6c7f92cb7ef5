// Package queue implements the processing queue: a bounded worker pool,
// container/heap priority queue, deduplication, retry with exponential
// backoff, batch progress tracking, and callbacks.
package queue

import (
	"sync/atomic"
	"time"
)

// TaskStatus is a Task's lifecycle state.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// ProcessOptions controls which downstream artifacts the task executor
// generates.
type ProcessOptions struct {
	GenerateSOAP     bool
	GenerateReferral bool
	GenerateLetter   bool
}

// Result carries the per-task output exposed by get_task_status.
type Result struct {
	Transcript string
	SOAPNote   string
	Referral   string
	Letter     string
	Provider   string
}

// Task is the in-memory handle for an in-flight recording.
type Task struct {
	TaskID      string
	RecordingID int64
	AudioData   []byte
	Transcript  string
	PatientName string
	Context     string
	Options     ProcessOptions
	Priority    int
	BatchID     string

	QueuedAt  time.Time
	StartedAt time.Time

	Status     TaskStatus
	RetryCount int
	LastError  string
	Result     Result

	cancelled atomic.Bool
	seq       uint64
}

// Cancelled reports whether cooperative cancellation has been requested;
// the task executor checks this between each processing step.
func (t *Task) Cancelled() bool { return t.cancelled.Load() }

// Cancel requests cooperative cancellation of a running task.
func (t *Task) Cancel() { t.cancelled.Store(true) }

// SubmissionOptions are add_recording's input payload fields not already
// covered by Task.
type SubmissionOptions struct {
	RecordingID int64
	AudioData   []byte
	Transcript  string
	PatientName string
	Context     string
	Options     ProcessOptions
	Priority    *int // nil defaults to 5; valid range is 0..10, lower runs sooner
	BatchID     string
}

// DefaultPriority is used when SubmissionOptions.Priority is nil.
const DefaultPriority = 5

// IntPriority returns a *int for use as SubmissionOptions.Priority,
// letting callers write queue.IntPriority(0) for the valid highest
// priority without it being mistaken for "unset".
func IntPriority(p int) *int { return &p }

// BatchOptions is the options payload stored alongside a batch row.
type BatchOptions map[string]any

// Stats mirrors get_status()'s counters.
type Stats struct {
	TotalQueued       int64
	TotalProcessed    int64
	TotalFailed       int64
	TotalDeduplicated int64
	TotalCancelled    int64
	TotalRetried      int64
}

// StatusSnapshot is get_status()'s return value.
type StatusSnapshot struct {
	QueueSize int
	Active    int
	Completed int
	Failed    int
	Stats     Stats
	Workers   int
}

// BatchEvent names one of the batch callback events.
type BatchEvent string

const (
	BatchStarted   BatchEvent = "started"
	BatchProgress  BatchEvent = "progress"
	BatchCompleted BatchEvent = "completed"
)

// Callbacks are the optional notification sinks. Each is invoked
// synchronously on the goroutine that triggers the event (a worker, a
// retry goroutine, or the caller of AddRecording/CancelTask); the queue
// recovers from and logs any panic inside a callback so a faulty
// subscriber cannot crash a worker.
type Callbacks struct {
	OnStatusChange func(taskID string, status TaskStatus, queueSize int)
	OnCompletion   func(taskID string, task *Task, result Result)
	OnError        func(taskID string, task *Task, message string)
	OnBatch        func(event BatchEvent, batchID string, current, total int)
}

// Config holds the queue's tunables.
type Config struct {
	Workers           int
	MaxBatchSize      int
	MaxRetryAttempts  int
	AutoRetryFailed   bool
	MaxCompletedTasks int
}

// DefaultConfig returns sane defaults. Workers defaults to min(cpu-1, 6),
// resolved by the caller since runtime.NumCPU() belongs in cmd/processor,
// not here.
func DefaultConfig(workers int) Config {
	if workers < 1 {
		workers = 1
	}
	return Config{
		Workers:           workers,
		MaxBatchSize:      100,
		MaxRetryAttempts:  3,
		AutoRetryFailed:   true,
		MaxCompletedTasks: 1000,
	}
}
