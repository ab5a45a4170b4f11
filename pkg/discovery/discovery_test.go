// SPDX-License-Identifier: Apache-2.0

package discovery_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partmig/partmig/pkg/db"
	"github.com/partmig/partmig/pkg/discovery"
	"github.com/partmig/partmig/pkg/events"
)

// recordingEmitter captures WARNING log messages for assertion; every
// other Emitter method is a no-op.
type recordingEmitter struct {
	events.Noop
	warnings []string
}

func (e *recordingEmitter) Log(level events.Level, message string) {
	if level == events.Warning {
		e.warnings = append(e.warnings, message)
	}
}

func TestParsePartitionSuffix(t *testing.T) {
	from, to, ok := discovery.ParsePartitionSuffix("point_history_240115")
	require.True(t, ok)
	assert.Less(t, from, to)

	// the range covers exactly one UTC day
	assert.Equal(t, int64(24*60*60*1000-1), to-from)
}

func TestParsePartitionSuffixNoMatch(t *testing.T) {
	_, _, ok := discovery.ParsePartitionSuffix("point_history")
	assert.False(t, ok)
}

func TestParsePartitionSuffixInvalidDate(t *testing.T) {
	_, _, ok := discovery.ParsePartitionSuffix("point_history_249999")
	assert.False(t, ok)
}

func newMockConn(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, mock
}

func catalogRows(from, to interface{}) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"table_name", "table_data", "from_date", "to_date", "use_flag"}).
		AddRow("point_history_240115", "PH", from, to, true)
}

func TestDiscoverUsesCatalogRangeWhenPresent(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery("SELECT table_name, table_data, from_date, to_date, use_flag").
		WillReturnRows(catalogRows(int64(1000), int64(2000)))
	mock.ExpectQuery("information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))

	plan, err := discovery.Discover(context.Background(), &db.RDB{DB: conn}, time.Now(), time.Now(), []string{"PH"}, events.NewNoop())
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.True(t, plan[0].HasRange)
	assert.Equal(t, int64(1000), plan[0].FromMs)
	assert.Equal(t, int64(2000), plan[0].ToMs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDiscoverFallsBackToNameDerivedRangeWhenCatalogRangeIsNull(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery("SELECT table_name, table_data, from_date, to_date, use_flag").
		WillReturnRows(catalogRows(nil, nil))
	mock.ExpectQuery("information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))

	emitter := &recordingEmitter{}
	plan, err := discovery.Discover(context.Background(), &db.RDB{DB: conn}, time.Now(), time.Now(), []string{"PH"}, emitter)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.True(t, plan[0].HasRange, "falls back to the name-derived range instead of erroring on NULL")
	assert.Less(t, plan[0].FromMs, plan[0].ToMs)
	assert.NotEmpty(t, emitter.warnings, "a WARNING is logged when the catalog range is missing")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDiscoverHasRangeFalseWhenNeitherCatalogNorSuffixYieldsARange(t *testing.T) {
	conn, mock := newMockConn(t)
	rows := sqlmock.NewRows([]string{"table_name", "table_data", "from_date", "to_date", "use_flag"}).
		AddRow("point_history_current", "PH", nil, nil, true)
	mock.ExpectQuery("SELECT table_name, table_data, from_date, to_date, use_flag").WillReturnRows(rows)
	mock.ExpectQuery("information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	emitter := &recordingEmitter{}
	plan, err := discovery.Discover(context.Background(), &db.RDB{DB: conn}, time.Now(), time.Now(), []string{"PH"}, emitter)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.False(t, plan[0].HasRange)
	assert.NotEmpty(t, emitter.warnings)
	require.NoError(t, mock.ExpectationsWereMet())
}
