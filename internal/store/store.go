// Package store is the database facade: Recording CRUD, Batch CRUD,
// and the transaction discipline the Queue relies on for durable state,
// with retry-on-transient-SQLite-error and sentry-span-wrapped reads
// and writes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/dictation-core/processor/internal/resilience"
)

// ProcessingStatus is a Recording's lifecycle state.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
	StatusCancelled  ProcessingStatus = "cancelled"
)

// Recording is the persisted unit of work.
type Recording struct {
	ID                     int64
	RecordingID            int64
	Filename               string
	PatientName            string
	AudioPath              sql.NullString
	Transcript             sql.NullString
	SOAPNote               sql.NullString
	Referral               sql.NullString
	Letter                 sql.NullString
	Metadata               map[string]any
	ProcessingStatus       ProcessingStatus
	ErrorMessage           sql.NullString
	RetryCount             int
	BatchID                sql.NullString
	ProcessingStartedAt    sql.NullTime
	ProcessingCompletedAt  sql.NullTime
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Batch is a batch_processing row.
type Batch struct {
	BatchID        string
	TotalCount     int
	CompletedCount int
	FailedCount    int
	CreatedAt      time.Time
	StartedAt      sql.NullTime
	CompletedAt    sql.NullTime
	Options        sql.NullString
	Status         string
}

// Store wraps a *sql.DB. Single-statement writes run through
// ExecuteWithRetry and a sentry span with slow-query logging; reads get a
// sentry span but are not retried.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened, pragma'd SQLite handle (typically
// dbpool.Pool.DB()).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// isTransientSQLiteError reports whether err is the kind of lock/busy
// error that clears up on its own.
func isTransientSQLiteError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "connection reset by peer")
}

// ExecuteWithRetry retries operation up to 3 additional times on a
// transient SQLite error with exponential backoff, otherwise surfaces the
// error immediately. Every error it returns, except ctx.Err() when the
// context ends during a backoff wait, is classified
// resilience.KindDatabase: a constraint violation or an exhausted lock
// retry is a durable failure the queue must not re-attempt on its own
// schedule.
func (s *Store) ExecuteWithRetry(ctx context.Context, operation func(context.Context) error) error {
	const retries = 3
	backoffBase := 100 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffBase * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := operation(ctx); err != nil {
			lastErr = err
			if isTransientSQLiteError(err) {
				continue
			}
			return resilience.NewError(resilience.KindDatabase, err)
		}
		return nil
	}
	return resilience.NewError(resilience.KindDatabase,
		fmt.Errorf("database operation failed after %d attempts: %w", retries+1, lastErr))
}

// execWithMetrics wraps ExecContext with a sentry span and slow-query
// logging.
func (s *Store) execWithMetrics(ctx context.Context, query string, args ...any) (sql.Result, error) {
	span := sentry.StartSpan(ctx, "store.exec")
	defer span.Finish()
	span.SetTag("db.query", query)

	start := time.Now()
	result, err := s.db.ExecContext(ctx, query, args...)
	duration := time.Since(start)
	span.SetData("duration_ms", duration.Milliseconds())

	if duration > time.Second {
		log.Warn().Str("query", query).Dur("duration", duration).Msg("slow database operation detected")
	}
	if err != nil {
		span.SetTag("error", "true")
		span.SetData("error.message", err.Error())
	}
	return result, err
}

func (s *Store) queryRowWithMetrics(ctx context.Context, query string, args ...any) *sql.Row {
	span := sentry.StartSpan(ctx, "store.query_row")
	defer span.Finish()
	span.SetTag("db.query", query)
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *Store) queryWithMetrics(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	span := sentry.StartSpan(ctx, "store.query")
	defer span.Finish()
	span.SetTag("db.query", query)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	duration := time.Since(start)
	span.SetData("duration_ms", duration.Milliseconds())

	if duration > time.Second {
		log.Warn().Str("query", query).Dur("duration", duration).Msg("slow database query detected")
	}
	if err != nil {
		span.SetTag("error", "true")
		span.SetData("error.message", err.Error())
	}
	return rows, err
}

// WithTx runs fn inside a transaction: commit on clean exit, rollback on
// any error. Every error it returns is classified resilience.KindDatabase,
// matching ExecuteWithRetry.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return resilience.NewError(resilience.KindDatabase, fmt.Errorf("beginning transaction: %w", err))
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("rollback failed after transaction error")
		}
		return resilience.NewError(resilience.KindDatabase, err)
	}
	if err := tx.Commit(); err != nil {
		return resilience.NewError(resilience.KindDatabase, fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

func marshalMetadata(meta map[string]any) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling metadata: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalMetadata(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw.String), &meta); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}
	return meta, nil
}
