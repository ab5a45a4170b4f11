// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LogEntry is one persisted log line, tied to the history it was emitted
// under (HistoryID may be empty for lines logged outside any job).
// Messages are masked by the caller before they get here; this repo
// never sees raw credentials.
type LogEntry struct {
	ID        string
	HistoryID string
	Level     string
	Message   string
	LoggedAt  time.Time
}

type LogRepo struct {
	db *sql.DB
}

func (r *LogRepo) Create(ctx context.Context, e LogEntry) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO logs (id, history_id, level, message, logged_at) VALUES (?, ?, ?, ?, ?)`,
			e.ID, nullIfEmpty(e.HistoryID), e.Level, e.Message, ts(e.LoggedAt),
		)
		return err
	})
}

// GetByHistory returns a history's log lines in the order they were
// written.
func (r *LogRepo) GetByHistory(ctx context.Context, historyID string) ([]LogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, history_id, level, message, logged_at FROM logs WHERE history_id = ? ORDER BY logged_at ASC`,
		historyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]LogEntry, 0)
	for rows.Next() {
		var (
			e        LogEntry
			hid      sql.NullString
			loggedAt string
		)
		if err := rows.Scan(&e.ID, &hid, &e.Level, &e.Message, &loggedAt); err != nil {
			return nil, fmt.Errorf("store: scan log entry: %w", err)
		}
		e.HistoryID = hid.String
		e.LoggedAt, err = parseTS(loggedAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse logged_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *LogRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&count)
	return count, err
}
