// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// HistoryRepo is the typed CRUD surface over migration_history:
// Create, GetByID, GetAll/GetAllDesc, GetIncompleteByProfile,
// UpdateByID, DeleteByID, Exists, Count. Every mutation runs in its own
// transactional scope that commits on success and rolls back on error;
// entities are detached (plain structs) before being returned.
type HistoryRepo struct {
	db *sql.DB
}

func (r *HistoryRepo) Create(ctx context.Context, h History) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO migration_history
				(id, profile_id, start_date, end_date, started_at, completed_at, status, total_rows, processed_rows,
				 source_connection_status, target_connection_status, connection_check_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.ID, h.ProfileID, h.StartDate, h.EndDate, ts(h.StartedAt), nullableTS(h.CompletedAt), h.Status,
			h.TotalRows, h.ProcessedRows, h.SourceConnectionStatus, h.TargetConnectionStatus, nullableTS(h.ConnectionCheckTime),
		)
		if isUniqueErr(err) {
			return ErrDuplicate
		}
		return err
	})
}

func (r *HistoryRepo) GetByID(ctx context.Context, id string) (History, error) {
	row := r.db.QueryRowContext(ctx, historySelect+` WHERE id = ?`, id)
	return scanHistory(row)
}

// GetAll returns every History row ascending by started_at.
func (r *HistoryRepo) GetAll(ctx context.Context) ([]History, error) {
	return r.list(ctx, historySelect+` ORDER BY started_at ASC`)
}

// GetAllDesc returns every History row descending by started_at, for a
// "most recent first" status/CLI listing.
func (r *HistoryRepo) GetAllDesc(ctx context.Context) ([]History, error) {
	return r.list(ctx, historySelect+` ORDER BY started_at DESC`)
}

// GetIncompleteByProfile returns the most recent non-completed job for a
// profile, for resume-on-restart.
func (r *HistoryRepo) GetIncompleteByProfile(ctx context.Context, profileID string) (History, error) {
	row := r.db.QueryRowContext(ctx,
		historySelect+` WHERE profile_id = ? AND status != ? ORDER BY started_at DESC LIMIT 1`,
		profileID, StatusCompleted,
	)
	return scanHistory(row)
}

func (r *HistoryRepo) UpdateByID(ctx context.Context, id string, mutate func(*History) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, historySelect+` WHERE id = ?`, id)
		h, err := scanHistory(row)
		if err != nil {
			return err
		}

		if err := mutate(&h); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE migration_history SET
				profile_id = ?, start_date = ?, end_date = ?, started_at = ?, completed_at = ?, status = ?,
				total_rows = ?, processed_rows = ?,
				source_connection_status = ?, target_connection_status = ?, connection_check_time = ?
			WHERE id = ?`,
			h.ProfileID, h.StartDate, h.EndDate, ts(h.StartedAt), nullableTS(h.CompletedAt), h.Status,
			h.TotalRows, h.ProcessedRows, h.SourceConnectionStatus, h.TargetConnectionStatus, nullableTS(h.ConnectionCheckTime),
			id,
		)
		if err != nil {
			return err
		}
		return mustAffectOne(res)
	})
}

func (r *HistoryRepo) DeleteByID(ctx context.Context, id string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM migration_history WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return mustAffectOne(res)
	})
}

func (r *HistoryRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM migration_history WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *HistoryRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM migration_history`).Scan(&count)
	return count, err
}

func (r *HistoryRepo) list(ctx context.Context, query string) ([]History, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]History, 0)
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

const historySelect = `
	SELECT id, profile_id, start_date, end_date, started_at, completed_at, status, total_rows, processed_rows,
	       source_connection_status, target_connection_status, connection_check_time
	FROM migration_history`

func scanHistory(scanner interface{ Scan(dest ...any) error }) (History, error) {
	var (
		h                   History
		startedAt           string
		completedAt         sql.NullString
		sourceStatus        sql.NullString
		targetStatus        sql.NullString
		connectionCheckTime sql.NullString
	)
	err := scanner.Scan(
		&h.ID, &h.ProfileID, &h.StartDate, &h.EndDate, &startedAt, &completedAt, &h.Status, &h.TotalRows, &h.ProcessedRows,
		&sourceStatus, &targetStatus, &connectionCheckTime,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return History{}, ErrNotFound
	}
	if err != nil {
		return History{}, fmt.Errorf("store: scan history: %w", err)
	}

	h.StartedAt, err = parseTS(startedAt)
	if err != nil {
		return History{}, fmt.Errorf("store: parse started_at: %w", err)
	}
	h.CompletedAt, err = nullableParseTS(completedAt)
	if err != nil {
		return History{}, fmt.Errorf("store: parse completed_at: %w", err)
	}
	h.SourceConnectionStatus = sourceStatus.String
	h.TargetConnectionStatus = targetStatus.String
	h.ConnectionCheckTime, err = nullableParseTS(connectionCheckTime)
	if err != nil {
		return History{}, fmt.Errorf("store: parse connection_check_time: %w", err)
	}
	return h, nil
}

// withTx runs fn in a transaction, committing on success and rolling back
// on any error.
func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return tx.Commit()
}

func mustAffectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
