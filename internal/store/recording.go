package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateRecording inserts a new recording row in status pending, returning
// the assigned surrogate id.
func (s *Store) CreateRecording(ctx context.Context, r *Recording) (int64, error) {
	metaCol, err := marshalMetadata(r.Metadata)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var id int64
	err = s.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		result, err := s.execWithMetrics(ctx, `
			INSERT INTO recordings (
				recording_id, filename, patient_name, audio_path, transcript,
				metadata, processing_status, retry_count, batch_id, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		`, r.RecordingID, r.Filename, r.PatientName, r.AudioPath, r.Transcript,
			metaCol, string(StatusPending), r.BatchID, now, now)
		if err != nil {
			return fmt.Errorf("inserting recording: %w", err)
		}
		id, err = result.LastInsertId()
		return err
	})
	return id, err
}

// GetRecordingByRecordingID loads a recording by its caller-supplied
// recording_id (distinct from the surrogate primary key), the lookup the
// Queue uses for dedup and for reprocess_failed_recording.
func (s *Store) GetRecordingByRecordingID(ctx context.Context, recordingID int64) (*Recording, error) {
	row := s.queryRowWithMetrics(ctx, `
		SELECT id, recording_id, filename, patient_name, audio_path, transcript,
		       soap_note, referral, letter, metadata, processing_status, error_message,
		       retry_count, batch_id, processing_started_at, processing_completed_at,
		       created_at, updated_at
		FROM recordings WHERE recording_id = ?
	`, recordingID)
	return scanRecording(row)
}

func scanRecording(row *sql.Row) (*Recording, error) {
	var r Recording
	var metaCol sql.NullString
	var status string
	err := row.Scan(
		&r.ID, &r.RecordingID, &r.Filename, &r.PatientName, &r.AudioPath, &r.Transcript,
		&r.SOAPNote, &r.Referral, &r.Letter, &metaCol, &status, &r.ErrorMessage,
		&r.RetryCount, &r.BatchID, &r.ProcessingStartedAt, &r.ProcessingCompletedAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning recording: %w", err)
	}
	r.ProcessingStatus = ProcessingStatus(status)
	r.Metadata, err = unmarshalMetadata(metaCol)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SetProcessing marks a recording as processing and stamps
// processing_started_at.
func (s *Store) SetProcessing(ctx context.Context, recordingID int64) error {
	return s.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.execWithMetrics(ctx, `
			UPDATE recordings SET processing_status = ?, processing_started_at = ?, updated_at = ?
			WHERE recording_id = ?
		`, string(StatusProcessing), time.Now().UTC(), time.Now().UTC(), recordingID)
		return err
	})
}

// SaveAudioPath records where the recording's audio was persisted to disk.
func (s *Store) SaveAudioPath(ctx context.Context, recordingID int64, path string) error {
	return s.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.execWithMetrics(ctx, `
			UPDATE recordings SET audio_path = ?, updated_at = ? WHERE recording_id = ?
		`, path, time.Now().UTC(), recordingID)
		return err
	})
}

// SaveTranscript persists the transcript produced by the STT failover
// manager.
func (s *Store) SaveTranscript(ctx context.Context, recordingID int64, transcript string) error {
	return s.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.execWithMetrics(ctx, `
			UPDATE recordings SET transcript = ?, updated_at = ? WHERE recording_id = ?
		`, transcript, time.Now().UTC(), recordingID)
		return err
	})
}

// SaveArtifact persists one of soap_note/referral/letter.
func (s *Store) SaveArtifact(ctx context.Context, recordingID int64, column, value string) error {
	if column != "soap_note" && column != "referral" && column != "letter" {
		return fmt.Errorf("invalid artifact column %q", column)
	}
	query := fmt.Sprintf(`UPDATE recordings SET %s = ?, updated_at = ? WHERE recording_id = ?`, column)
	return s.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.execWithMetrics(ctx, query, value, time.Now().UTC(), recordingID)
		return err
	})
}

// Complete marks a recording completed.
func (s *Store) Complete(ctx context.Context, recordingID int64) error {
	now := time.Now().UTC()
	return s.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.execWithMetrics(ctx, `
			UPDATE recordings SET processing_status = ?, processing_completed_at = ?, updated_at = ?
			WHERE recording_id = ?
		`, string(StatusCompleted), now, now, recordingID)
		return err
	})
}

// Fail marks a recording failed with a non-empty error message, enforcing
// the invariant that status=failed implies error_message is set.
func (s *Store) Fail(ctx context.Context, recordingID int64, errMsg string, retryCount int) error {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	now := time.Now().UTC()
	return s.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.execWithMetrics(ctx, `
			UPDATE recordings
			SET processing_status = ?, error_message = ?, retry_count = ?, updated_at = ?
			WHERE recording_id = ?
		`, string(StatusFailed), errMsg, retryCount, now, recordingID)
		return err
	})
}

// Cancel marks a recording cancelled.
func (s *Store) Cancel(ctx context.Context, recordingID int64) error {
	return s.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.execWithMetrics(ctx, `
			UPDATE recordings SET processing_status = ?, updated_at = ? WHERE recording_id = ?
		`, string(StatusCancelled), time.Now().UTC(), recordingID)
		return err
	})
}

// ResetForReprocess clears error/retry/timestamps ahead of
// reprocess_failed_recording re-submission.
func (s *Store) ResetForReprocess(ctx context.Context, recordingID int64) error {
	return s.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.execWithMetrics(ctx, `
			UPDATE recordings
			SET processing_status = ?, error_message = NULL, retry_count = 0,
			    processing_started_at = NULL, processing_completed_at = NULL, updated_at = ?
			WHERE recording_id = ?
		`, string(StatusPending), time.Now().UTC(), recordingID)
		return err
	})
}
