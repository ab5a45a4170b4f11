// SPDX-License-Identifier: Apache-2.0

package tablecreator

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partmig/partmig/pkg/db"
	"github.com/partmig/partmig/pkg/discovery"
	"github.com/partmig/partmig/pkg/errkind"
	"github.com/partmig/partmig/pkg/events"
)

func newMockCreator(t *testing.T) (*Creator, sqlmock.Sqlmock) {
	t.Helper()
	targetConn, targetMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { targetConn.Close() })

	sourceConn, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sourceConn.Close() })

	c := New(&db.RDB{DB: sourceConn, Role: "source"}, &db.RDB{DB: targetConn, Role: "target"}, events.NewNoop())
	return c, targetMock
}

func TestEnsurePartitionReadyTruncatesExistingRowsInAutoMode(t *testing.T) {
	c, mock := newMockCreator(t)

	mock.ExpectQuery("information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(50)))
	mock.ExpectExec("TRUNCATE \"point_history_240104\" RESTART IDENTITY").
		WillReturnResult(sqlmock.NewResult(0, 0))

	part := discovery.Descriptor{TableName: "point_history_240104", Code: "PH", ParentName: "point_history"}
	createdNew, preexisting, err := c.EnsurePartitionReady(context.Background(), part, TruncateAuto, nil)
	require.NoError(t, err)
	assert.False(t, createdNew)
	assert.EqualValues(t, 50, preexisting)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsurePartitionReadyNoopWhenTargetEmpty(t *testing.T) {
	c, mock := newMockCreator(t)

	mock.ExpectQuery("information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	part := discovery.Descriptor{TableName: "trend_history_240102", Code: "TH", ParentName: "trend_history"}
	createdNew, preexisting, err := c.EnsurePartitionReady(context.Background(), part, TruncateAuto, nil)
	require.NoError(t, err)
	assert.False(t, createdNew)
	assert.Zero(t, preexisting)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsurePartitionReadyAskDeclinedCancels(t *testing.T) {
	c, mock := newMockCreator(t)

	mock.ExpectQuery("information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	decline := func(partition string, existingRows int64) bool {
		assert.Equal(t, "point_history_240104", partition)
		assert.EqualValues(t, 7, existingRows)
		return false
	}

	part := discovery.Descriptor{TableName: "point_history_240104", Code: "PH", ParentName: "point_history"}
	_, _, err := c.EnsurePartitionReady(context.Background(), part, TruncateAsk, decline)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkind.Sentinel(errkind.Cancelled)), "a declined truncate surfaces as a cancellation")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsurePartitionReadyAskConfirmedTruncates(t *testing.T) {
	c, mock := newMockCreator(t)

	mock.ExpectQuery("information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))
	mock.ExpectExec("TRUNCATE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	confirm := func(string, int64) bool { return true }

	part := discovery.Descriptor{TableName: "point_history_240104", Code: "PH", ParentName: "point_history"}
	_, _, err := c.EnsurePartitionReady(context.Background(), part, TruncateAsk, confirm)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
