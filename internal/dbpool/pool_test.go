package dbpool

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, size int) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	available := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		available <- struct{}{}
	}
	return &Pool{db: sqlDB, size: size, available: available}, mock
}

func TestAcquireBlocksUntilSlotAvailable(t *testing.T) {
	p, mock := newTestPool(t, 1)

	mock.ExpectExec("SELECT 1").WillReturnResult(sqlmock.NewResult(0, 0))

	release, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, p.InUse())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	require.Equal(t, 0, p.InUse())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireSucceedsOnceSlotReleased(t *testing.T) {
	p, mock := newTestPool(t, 1)
	mock.ExpectExec("SELECT 1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT 1").WillReturnResult(sqlmock.NewResult(0, 0))

	release1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	release1()

	release2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	release2()

	require.Equal(t, 0, p.InUse())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSizeReportsConfiguredCapacity(t *testing.T) {
	p, _ := newTestPool(t, 3)
	require.Equal(t, 3, p.Size())
}
