// SPDX-License-Identifier: Apache-2.0

package copyengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/partmig/partmig/pkg/db"
	"github.com/partmig/partmig/pkg/errkind"
)

// Legacy INSERT batch-size bounds: the fallback path ramps up on success
// and backs off on memory pressure rather than running at a single fixed
// size for the whole partition. The cap keeps a 4-column page under the
// protocol's 65535 bind-parameter limit with room to spare.
const (
	DefaultLegacyBatchSize = 1000
	MinLegacyBatchSize     = 100
	MaxLegacyBatchSize     = 10000
)

// LegacyParams configures the INSERT-based fallback transfer for a
// partition whose source or target cannot run COPY, e.g. under a
// restricted role. Column order is pinned to the caller's registry
// entry, never re-derived from the target's information_schema.
type LegacyParams struct {
	SourceDB   db.DB
	TargetDB   db.DB
	Table      string
	Columns    []string
	KeyColumn  string
	DateColumn string

	BatchSize int
	LastKey   string
	LastDate  string
}

// legacyPage is one SELECT page plus the cursor and byte bookkeeping
// derived from it.
type legacyPage struct {
	rows     [][]any
	lastKey  string
	lastDate string
	bytes    int64
}

// LegacyCopyPartition pages through a partition in (key, date) order
// using plain SELECT + multi-row INSERT, the same
// WithRetryableTransaction and cursor idiom the adaptive batchers in
// this core's ancestry use, adjusting batch size between pages instead
// of holding it fixed. The cursor is the same two-column keyset the COPY
// path uses: key columns repeat within a partition, so paging on the key
// alone would drop same-key rows past a page boundary.
func LegacyCopyPartition(ctx context.Context, p LegacyParams, ctrl *Controller, onChunk ChunkCallback) error {
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultLegacyBatchSize
	}
	if batchSize > MaxLegacyBatchSize {
		batchSize = MaxLegacyBatchSize
	}

	dateIdx := -1
	for i, col := range p.Columns {
		if col == p.DateColumn {
			dateIdx = i
			break
		}
	}
	if dateIdx < 0 {
		return errkind.New(errkind.Transfer, fmt.Sprintf("date column %q not in column list for %q", p.DateColumn, p.Table))
	}

	lastKey, lastDate := p.LastKey, p.LastDate
	quotedTable := pq.QuoteIdentifier(p.Table)
	quotedCols := quoteColumns(p.Columns)

	for {
		if err := waitWhilePaused(ctx, ctrl); err != nil {
			return err
		}

		page, err := fetchPage(ctx, p.SourceDB, quotedTable, quotedCols, p.KeyColumn, p.DateColumn, lastKey, lastDate, batchSize, dateIdx)
		if err != nil {
			return errkind.Wrap(errkind.Transfer, "legacy SELECT page failed", err)
		}
		if len(page.rows) == 0 {
			return nil
		}

		if err := insertPage(ctx, p.TargetDB, quotedTable, quotedCols, page.rows); err != nil {
			if isOutOfMemory(err) {
				batchSize = backOff(batchSize)
				continue
			}
			return errkind.Wrap(errkind.Transfer, "legacy INSERT page failed", err)
		}

		result := ChunkResult{
			RowsCopied:  int64(len(page.rows)),
			BytesCopied: page.bytes,
			LastKey:     page.lastKey,
			LastDate:    page.lastDate,
		}
		if err := onChunk(ctx, result); err != nil {
			return err
		}

		lastKey, lastDate = page.lastKey, page.lastDate
		batchSize = rampUp(batchSize)
	}
}

// pagePredicate builds the parameterized keyset WHERE clause for a legacy
// page, mirroring ResumePredicate's two-column cursor. A checkpoint
// written before the date column was tracked may carry a key without a
// date; the key-only comparison is the best available resume point then.
func pagePredicate(keyCol, dateCol, lastKey, lastDate string) (string, []any) {
	if lastKey == "" {
		return "", nil
	}
	if lastDate == "" {
		return fmt.Sprintf(" WHERE %s > $1", keyCol), []any{lastKey}
	}
	where := fmt.Sprintf(" WHERE %[1]s > $1 OR (%[1]s = $2 AND %[2]s > $3)", keyCol, dateCol)
	return where, []any{lastKey, lastKey, lastDate}
}

func fetchPage(ctx context.Context, source db.DB, quotedTable, quotedCols, keyCol, dateCol, lastKey, lastDate string, limit, dateIdx int) (legacyPage, error) {
	where, args := pagePredicate(keyCol, dateCol, lastKey, lastDate)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s, %s LIMIT %d", quotedCols, quotedTable, where, keyCol, dateCol, limit)

	rows, err := source.QueryContext(ctx, query, args...)
	if err != nil {
		return legacyPage{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return legacyPage{}, err
	}

	var page legacyPage
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return legacyPage{}, err
		}
		page.rows = append(page.rows, vals)
		page.lastKey = stringifyValue(vals[0])
		page.lastDate = stringifyValue(vals[dateIdx])
		page.bytes += rowBytes(vals)
	}
	return page, rows.Err()
}

// stringifyValue renders a scanned column value as the cursor/checkpoint
// text the COPY path would have produced for the same cell.
func stringifyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case time.Time:
		return t.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(t)
	}
}

// rowBytes approximates a row's transfer size as the rendered text of its
// cells plus separators, the nearest equivalent of the COPY path's
// measured CSV bytes.
func rowBytes(vals []any) int64 {
	var n int64
	for _, v := range vals {
		n += int64(len(stringifyValue(v))) + 1
	}
	return n
}

func insertPage(ctx context.Context, target db.DB, quotedTable, quotedCols string, rows [][]any) error {
	return target.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		placeholders := make([]string, len(rows))
		args := make([]any, 0, len(rows)*len(rows[0]))
		argN := 1
		for i, row := range rows {
			ph := make([]string, len(row))
			for j, v := range row {
				ph[j] = fmt.Sprintf("$%d", argN)
				args = append(args, v)
				argN++
			}
			placeholders[i] = "(" + strings.Join(ph, ", ") + ")"
		}

		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", quotedTable, quotedCols, strings.Join(placeholders, ", "))
		_, err := tx.ExecContext(ctx, stmt, args...)
		return err
	})
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

func isOutOfMemory(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "53200" // out_of_memory
	}
	return strings.Contains(err.Error(), "out of memory")
}

func rampUp(current int) int {
	next := current + current/10
	if next > MaxLegacyBatchSize {
		return MaxLegacyBatchSize
	}
	if next <= current {
		return current + 1
	}
	return next
}

func backOff(current int) int {
	next := current / 2
	if next < MinLegacyBatchSize {
		return MinLegacyBatchSize
	}
	return next
}
