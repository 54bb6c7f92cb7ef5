package dbpool

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestMigrateIsIdempotent(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	migrations := []Migration{
		{Version: 1, Name: "create_recordings", Up: "CREATE TABLE recordings (id INTEGER)"},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT MAX\\(version\\) FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE recordings").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	m := NewMigrator(sqlDB, migrations)
	require.NoError(t, m.Migrate())

	// Second run: ledger already reports version 1 applied, nothing re-runs.
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT MAX\\(version\\) FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(1))

	require.NoError(t, m.Migrate())
	require.NoError(t, mock.ExpectationsWereMet())
}
