package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dictation-core/processor/internal/resilience"
)

// dispatcher is the single coordinator goroutine: it waits on the
// priority queue with a 1-second timeout and submits the next task to the
// worker pool.
func (q *Queue) dispatcher(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-q.notify:
		case <-time.After(time.Second):
		}

		for {
			task := q.popNext()
			if task == nil {
				break
			}
			select {
			case q.dispatchCh <- task:
			case <-q.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// popNext pops the highest-priority live task, skipping entries for tasks
// that were cancelled while still queued (lazy deletion from the heap).
func (q *Queue) popNext() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		item, ok := q.heap.popItem()
		if !ok {
			return nil
		}
		task, exists := q.active[item.taskID]
		if !exists || task.Status != TaskQueued {
			continue
		}
		return task
	}
}

// worker is one of the fixed pool of W goroutines executing tasks
// concurrently.
func (q *Queue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case task := <-q.dispatchCh:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Str("task_id", task.TaskID).Msg("recovered from panicking task")
						q.handleFailure(ctx, task, fmt.Errorf("task panicked: %v", r))
					}
				}()
				q.execute(ctx, task)
			}()
		}
	}
}

// execute runs one task through the TaskRunner, handling success,
// retryable failure (re-enqueued with priority-1 after an exponential
// backoff sleep in a dedicated goroutine), and terminal failure.
func (q *Queue) execute(ctx context.Context, task *Task) {
	q.mu.Lock()
	task.Status = TaskProcessing
	task.StartedAt = time.Now()
	queueSize := q.heap.Len()
	q.mu.Unlock()

	if task.BatchID != "" {
		_ = q.store.MarkBatchStarted(ctx, task.BatchID)
	}

	q.fireStatusChange(task.TaskID, TaskProcessing, queueSize)

	result, err := q.runner.Run(ctx, task)
	if err != nil {
		q.handleFailure(ctx, task, err)
		return
	}

	task.Result = result
	q.handleSuccess(ctx, task)
}

func (q *Queue) handleSuccess(ctx context.Context, task *Task) {
	q.mu.Lock()
	task.Status = TaskCompleted
	delete(q.dedup, task.RecordingID)
	delete(q.active, task.TaskID)
	q.stats.TotalProcessed++
	q.pruneAndAppend(&q.completed, task)
	queueSize := q.heap.Len()
	q.mu.Unlock()

	q.fireStatusChange(task.TaskID, TaskCompleted, queueSize)
	q.fireCompletion(task.TaskID, task, task.Result)
	q.completeBatchAccounting(task, true)
}

func (q *Queue) handleFailure(ctx context.Context, task *Task, err error) {
	task.LastError = err.Error()

	retryable := resilience.IsRetryable(err)
	q.mu.Lock()
	canRetry := retryable && q.cfg.AutoRetryFailed && task.RetryCount < q.cfg.MaxRetryAttempts
	q.mu.Unlock()

	if canRetry {
		task.RetryCount++
		q.mu.Lock()
		q.stats.TotalRetried++
		q.mu.Unlock()

		delay := backoffDelay(task.RetryCount)
		q.wg.Add(1)
		go q.scheduleRetry(task, delay)
		return
	}

	q.mu.Lock()
	task.Status = TaskFailed
	delete(q.dedup, task.RecordingID)
	delete(q.active, task.TaskID)
	q.stats.TotalFailed++
	q.pruneAndAppend(&q.failed, task)
	queueSize := q.heap.Len()
	q.mu.Unlock()

	if dbErr := q.store.Fail(ctx, task.RecordingID, task.LastError, task.RetryCount); dbErr != nil {
		log.Error().Err(dbErr).Str("task_id", task.TaskID).Msg("failed to persist terminal failure")
	}

	q.fireStatusChange(task.TaskID, TaskFailed, queueSize)
	q.fireError(task.TaskID, task, task.LastError)
	q.completeBatchAccounting(task, false)
}

// backoffDelay computes the retry delay: min(30s, 0.5*2^retry_count).
func backoffDelay(retryCount int) time.Duration {
	seconds := 0.5 * float64(uint64(1)<<uint(retryCount))
	if seconds > 30 {
		seconds = 30
	}
	return time.Duration(seconds * float64(time.Second))
}

// scheduleRetry sleeps delay in its own goroutine (one per retry, so
// retries never block a worker), then re-enqueues the task with
// priority-1 so it jumps ahead of peers.
func (q *Queue) scheduleRetry(task *Task, delay time.Duration) {
	defer q.wg.Done()

	select {
	case <-time.After(delay):
	case <-q.stopCh:
		return
	}

	q.mu.Lock()
	if q.stopping.Load() {
		q.mu.Unlock()
		return
	}
	task.Status = TaskQueued
	task.Priority--
	task.seq = q.nextSeq()
	q.heap.pushItem(heapItem{priority: task.Priority, seq: task.seq, taskID: task.TaskID})
	queueSize := q.heap.Len()
	q.mu.Unlock()

	q.fireStatusChange(task.TaskID, TaskQueued, queueSize)
	q.wake()
}

// completeBatchAccounting updates batch counters and, once
// completed+failed+cancelled reaches total, fires the batch-completion
// callback.
func (q *Queue) completeBatchAccounting(task *Task, succeeded bool) {
	if task.BatchID == "" {
		return
	}

	completedInDB, err := q.store.RecordTaskOutcome(context.Background(), task.BatchID, succeeded)
	if err != nil {
		log.Error().Err(err).Str("batch_id", task.BatchID).Msg("failed to record batch outcome")
	}

	q.mu.Lock()
	b, ok := q.batches[task.BatchID]
	if !ok {
		q.mu.Unlock()
		return
	}
	if succeeded {
		b.completed++
	} else {
		b.failed++
	}
	current := b.completed + b.failed
	total := b.total
	isComplete := current+b.cancelled >= total
	q.mu.Unlock()

	q.fireBatch(BatchProgress, task.BatchID, current, total)
	if isComplete && !completedInDB {
		if err := q.store.MarkBatchCompleted(context.Background(), task.BatchID); err != nil {
			log.Error().Err(err).Str("batch_id", task.BatchID).Msg("failed to mark batch completed")
		}
	}
	if isComplete || completedInDB {
		q.fireBatch(BatchCompleted, task.BatchID, current, total)
	}
}

// recordBatchCancellation accounts a cancelled task against its batch.
// Cancelled tasks count toward batch completion (total is reached once
// every task is terminal) but are never reported as completed or failed
// in the on_batch callback or the DB counters.
func (q *Queue) recordBatchCancellation(task *Task) {
	if task.BatchID == "" {
		return
	}

	q.mu.Lock()
	b, ok := q.batches[task.BatchID]
	if !ok {
		q.mu.Unlock()
		return
	}
	b.cancelled++
	current := b.completed + b.failed
	isComplete := b.completed+b.failed+b.cancelled >= b.total
	total := b.total
	q.mu.Unlock()

	if isComplete {
		if err := q.store.MarkBatchCompleted(context.Background(), task.BatchID); err != nil {
			log.Error().Err(err).Str("batch_id", task.BatchID).Msg("failed to mark batch completed after cancellation")
		}
		q.fireBatch(BatchCompleted, task.BatchID, current, total)
	}
}
