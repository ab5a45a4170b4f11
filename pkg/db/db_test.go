// SPDX-License-Identifier: Apache-2.0

package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/partmig/partmig/pkg/db"
)

// These tests exercise RDB's happy paths and transaction semantics against
// an in-memory sqlite database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	return conn
}

func TestRDBExecAndQueryContext(t *testing.T) {
	rdb := &db.RDB{DB: openTestDB(t), Role: "source"}
	ctx := context.Background()

	_, err := rdb.ExecContext(ctx, "INSERT INTO widgets (id, name) VALUES (1, 'a')")
	require.NoError(t, err)

	rows, err := rdb.QueryContext(ctx, "SELECT COUNT(*) FROM widgets")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.ScanFirstValue(rows, &count))
	assert.Equal(t, 1, count)
}

func TestRDBWithRetryableTransactionCommits(t *testing.T) {
	rdb := &db.RDB{DB: openTestDB(t), Role: "target"}
	ctx := context.Background()

	err := rdb.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO widgets (id, name) VALUES (2, 'b')")
		return err
	})
	require.NoError(t, err)

	rows, err := rdb.QueryContext(ctx, "SELECT COUNT(*) FROM widgets")
	require.NoError(t, err)
	var count int
	require.NoError(t, db.ScanFirstValue(rows, &count))
	assert.Equal(t, 1, count)
}

func TestRDBWithRetryableTransactionRollsBackOnError(t *testing.T) {
	rdb := &db.RDB{DB: openTestDB(t)}
	ctx := context.Background()
	boom := errors.New("boom")

	err := rdb.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, "INSERT INTO widgets (id, name) VALUES (3, 'c')")
		require.NoError(t, execErr)
		return boom
	})
	require.ErrorIs(t, err, boom)

	rows, err := rdb.QueryContext(ctx, "SELECT COUNT(*) FROM widgets")
	require.NoError(t, err)
	var count int
	require.NoError(t, db.ScanFirstValue(rows, &count))
	assert.Equal(t, 0, count, "failed transaction must not leave a row behind")
}

// TestRDBExecContextRetriesOnLockNotAvailable exercises the lock_timeout
// retry loop directly, without a live Postgres server, by faking a
// "55P03" pq.Error on the first attempt and success on the second.
func TestRDBExecContextRetriesOnLockNotAvailable(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	mock.ExpectExec("UPDATE widgets").
		WillReturnError(&pq.Error{Code: "55P03", Message: "lock timeout"})
	mock.ExpectExec("UPDATE widgets").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rdb := &db.RDB{DB: conn, Role: "source"}
	_, err = rdb.ExecContext(context.Background(), "UPDATE widgets SET name = 'x'")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRDBExecContextPropagatesOtherErrors confirms only lock_timeout
// errors are retried; any other pq error surfaces immediately.
func TestRDBExecContextPropagatesOtherErrors(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	mock.ExpectExec("UPDATE widgets").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})

	rdb := &db.RDB{DB: conn, Role: "source"}
	_, err = rdb.ExecContext(context.Background(), "UPDATE widgets SET name = 'x'")
	require.Error(t, err)
	var pqErr *pq.Error
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, pq.ErrorCode("23505"), pqErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRDBErrorsCarryRole confirms the role tag is prefixed onto wrapper
// errors without breaking errors.As matching on the underlying pq error.
func TestRDBErrorsCarryRole(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	mock.ExpectExec("UPDATE widgets").
		WillReturnError(&pq.Error{Code: "42501", Message: "permission denied"})

	rdb := &db.RDB{DB: conn, Role: "target"}
	_, err = rdb.ExecContext(context.Background(), "UPDATE widgets SET name = 'x'")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target: ")
	var pqErr *pq.Error
	require.ErrorAs(t, err, &pqErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanFirstValueNoRows(t *testing.T) {
	rdb := &db.RDB{DB: openTestDB(t)}
	ctx := context.Background()

	rows, err := rdb.QueryContext(ctx, "SELECT id FROM widgets WHERE id = 999")
	require.NoError(t, err)

	var id int
	require.NoError(t, db.ScanFirstValue(rows, &id))
	assert.Equal(t, 0, id)
}
