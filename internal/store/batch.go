package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateBatch inserts a batch_processing row.
func (s *Store) CreateBatch(ctx context.Context, batchID string, total int, options map[string]any) error {
	var optCol sql.NullString
	if len(options) > 0 {
		raw, err := json.Marshal(options)
		if err != nil {
			return fmt.Errorf("marshalling batch options: %w", err)
		}
		optCol = sql.NullString{String: string(raw), Valid: true}
	}

	now := time.Now().UTC()
	return s.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.execWithMetrics(ctx, `
			INSERT INTO batch_processing (batch_id, total_count, completed_count, failed_count, created_at, options, status)
			VALUES (?, ?, 0, 0, ?, ?, 'pending')
		`, batchID, total, now, optCol)
		return err
	})
}

// GetBatch loads a batch_processing row by id.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	row := s.queryRowWithMetrics(ctx, `
		SELECT batch_id, total_count, completed_count, failed_count, created_at, started_at, completed_at, options, status
		FROM batch_processing WHERE batch_id = ?
	`, batchID)

	var b Batch
	err := row.Scan(&b.BatchID, &b.TotalCount, &b.CompletedCount, &b.FailedCount,
		&b.CreatedAt, &b.StartedAt, &b.CompletedAt, &b.Options, &b.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning batch: %w", err)
	}
	return &b, nil
}

// MarkBatchStarted stamps started_at and flips status to "running" the
// first time any task in the batch begins processing.
func (s *Store) MarkBatchStarted(ctx context.Context, batchID string) error {
	return s.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.execWithMetrics(ctx, `
			UPDATE batch_processing SET started_at = ?, status = 'running'
			WHERE batch_id = ? AND started_at IS NULL
		`, time.Now().UTC(), batchID)
		return err
	})
}

// MarkBatchCompleted stamps completed_at and marks a batch completed
// without touching its completed/failed counters — used when a batch
// finishes entirely through cancellation, leaving both
// counters at 0.
func (s *Store) MarkBatchCompleted(ctx context.Context, batchID string) error {
	return s.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.execWithMetrics(ctx, `
			UPDATE batch_processing SET status = 'completed', completed_at = ?
			WHERE batch_id = ? AND completed_at IS NULL
		`, time.Now().UTC(), batchID)
		return err
	})
}

// RecordTaskOutcome increments the batch's completed or failed counter and,
// when completed+failed reaches total, stamps completed_at and marks the
// batch completed.
func (s *Store) RecordTaskOutcome(ctx context.Context, batchID string, succeeded bool) (completed bool, err error) {
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		column := "failed_count"
		if succeeded {
			column = "completed_count"
		}
		query := fmt.Sprintf(`UPDATE batch_processing SET %s = %s + 1 WHERE batch_id = ?`, column, column)
		if _, txErr := tx.ExecContext(ctx, query, batchID); txErr != nil {
			return fmt.Errorf("incrementing %s: %w", column, txErr)
		}

		var total, done, failed int
		if scanErr := tx.QueryRowContext(ctx, `
			SELECT total_count, completed_count, failed_count FROM batch_processing WHERE batch_id = ?
		`, batchID).Scan(&total, &done, &failed); scanErr != nil {
			return fmt.Errorf("reading batch counters: %w", scanErr)
		}

		if done+failed >= total {
			completed = true
			if _, txErr := tx.ExecContext(ctx, `
				UPDATE batch_processing SET status = 'completed', completed_at = ?
				WHERE batch_id = ? AND completed_at IS NULL
			`, time.Now().UTC(), batchID); txErr != nil {
				return fmt.Errorf("marking batch completed: %w", txErr)
			}
		}
		return nil
	})
	return completed, err
}
