// SPDX-License-Identifier: Apache-2.0

package copyengine

import (
	"context"
	"io"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partmig/partmig/pkg/db"
)

func TestChunkPipeRoundTrip(t *testing.T) {
	p := newChunkPipe()
	reader := &chunkReader{pipe: p}

	go func() {
		defer p.closeWrite()
		_, _ = p.Write([]byte("1,2024-01-01,10\n"))
		_, _ = p.Write([]byte("2,2024-01-02,20\n"))
	}()

	out, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "1,2024-01-01,10\n2,2024-01-02,20\n", string(out))
}

func TestChunkPipeAbortUnblocksReader(t *testing.T) {
	p := newChunkPipe()
	reader := &chunkReader{pipe: p}
	p.abort()

	_, err := reader.Read(make([]byte, 16))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestChunkPipeAbortUnblocksWriter(t *testing.T) {
	p := newChunkPipe()
	p.abort()

	_, err := p.Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestRowTrackerCountsRowsBytesAndLastKey(t *testing.T) {
	tr := &rowTracker{}
	tr.observe([]byte("1,2024-01-01,10\n2,2024-01-0"))
	tr.observe([]byte("2,20\n3,2024-01-03,30"))
	tr.finish()

	assert.EqualValues(t, 3, tr.rows)
	assert.Equal(t, "3", tr.lastKey)
	assert.Equal(t, "2024-01-03", tr.lastDate)
	assert.Greater(t, tr.bytesTotal, int64(0))
}

func TestRowTrackerIgnoresTrailingEmptyLine(t *testing.T) {
	tr := &rowTracker{}
	tr.observe([]byte("1,2024-01-01,10\n"))
	tr.finish()

	assert.EqualValues(t, 1, tr.rows)
}

func TestResumePredicateEmptyWhenNoCheckpoint(t *testing.T) {
	assert.Equal(t, "", ResumePredicate("point_id", "issued_date", "", "", false))
}

func TestResumePredicateNumericKey(t *testing.T) {
	where := ResumePredicate("point_id", "issued_date", "1000", "20240115", false)
	assert.Equal(t, " WHERE point_id > 1000 OR (point_id = 1000 AND issued_date > 20240115)", where)
}

func TestResumePredicateTimestampDate(t *testing.T) {
	where := ResumePredicate("sensor_id", "issued_date", "42", "2024-01-15 10:00:00", true)
	assert.Contains(t, where, "issued_date > '2024-01-15 10:00:00'::timestamp")
}

func TestResumePredicateEscapesQuotes(t *testing.T) {
	where := ResumePredicate("sensor_id", "issued_date", "o'brien", "20240115", false)
	assert.Contains(t, where, "'o''brien'")
}

func TestControllerPauseStop(t *testing.T) {
	c := NewController()
	assert.False(t, c.IsPaused())
	assert.False(t, c.IsStopped())

	c.Pause()
	assert.True(t, c.IsPaused())
	c.Resume()
	assert.False(t, c.IsPaused())

	c.Stop()
	assert.True(t, c.IsStopped())
}

func TestCopyToColumnsProjectsConnectionStatusForPH(t *testing.T) {
	p := Params{Code: "PH", Columns: []string{"point_id", "issued_date", "point_value", "connection_status"}}
	cols := copyToColumns(p)
	assert.Contains(t, cols, "COALESCE(connection_status::text, 'true') AS connection_status")
	assert.Contains(t, cols, "point_id")
}

func TestCopyToColumnsPassesThroughForOtherTypes(t *testing.T) {
	p := Params{Code: "TH", Columns: []string{"sensor_id", "issued_date", "trend_value", "trend_type"}}
	assert.Equal(t, "sensor_id, issued_date, trend_value, trend_type", copyToColumns(p))
}

func TestRampUpAndBackOffBounds(t *testing.T) {
	assert.Equal(t, MinLegacyBatchSize, backOff(MinLegacyBatchSize+50))
	assert.Equal(t, MaxLegacyBatchSize, rampUp(MaxLegacyBatchSize))
	assert.Greater(t, rampUp(1000), 1000)
}

func TestLegacyBatchSizeStaysUnderBindParameterLimit(t *testing.T) {
	// 4 columns per row: the widest registry entry. A full page must not
	// exceed the protocol's 65535 bind parameters.
	assert.LessOrEqual(t, MaxLegacyBatchSize*4, 65535)
}

func TestPagePredicateEmptyOnFirstPage(t *testing.T) {
	where, args := pagePredicate("point_id", "issued_date", "", "")
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestPagePredicateUsesCompositeCursor(t *testing.T) {
	where, args := pagePredicate("point_id", "issued_date", "1000", "20240103")
	assert.Equal(t, " WHERE point_id > $1 OR (point_id = $2 AND issued_date > $3)", where)
	assert.Equal(t, []any{"1000", "1000", "20240103"}, args)
}

func TestPagePredicateKeyOnlyWhenCheckpointHasNoDate(t *testing.T) {
	where, args := pagePredicate("point_id", "issued_date", "1000", "")
	assert.Equal(t, " WHERE point_id > $1", where)
	assert.Equal(t, []any{"1000"}, args)
}

// TestFetchPageOrdersByKeyAndDate pins the legacy page query to a
// two-column sort and cursor: key values repeat within a partition, so a
// page boundary inside a same-key run must resume on the date column,
// not skip to the next key.
func TestFetchPageOrdersByKeyAndDate(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	mock.ExpectQuery(`ORDER BY point_id, issued_date LIMIT 3`).
		WillReturnRows(sqlmock.NewRows([]string{"point_id", "issued_date", "point_value", "connection_status"}).
			AddRow(int64(7), int64(100), "1.5", "true").
			AddRow(int64(7), int64(200), "1.6", "true").
			AddRow(int64(7), int64(300), "1.7", "true"))

	page, err := fetchPage(context.Background(), &db.RDB{DB: conn},
		`"point_history_240101"`, `"point_id", "issued_date", "point_value", "connection_status"`,
		"point_id", "issued_date", "", "", 3, 1)
	require.NoError(t, err)
	require.Len(t, page.rows, 3)
	assert.Equal(t, "7", page.lastKey)
	assert.Equal(t, "300", page.lastDate, "the cursor advances on the date column within a same-key run")
	assert.Greater(t, page.bytes, int64(0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStringifyValue(t *testing.T) {
	assert.Equal(t, "", stringifyValue(nil))
	assert.Equal(t, "abc", stringifyValue([]byte("abc")))
	assert.Equal(t, "42", stringifyValue(int64(42)))
}
