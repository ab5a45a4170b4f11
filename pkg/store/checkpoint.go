// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CheckpointRepo is the typed CRUD surface over checkpoints: Create,
// GetByID, GetByHistory, GetPendingByHistory, UpdateByID, DeleteByID,
// Exists, Count. The (history_id, partition_name) unique constraint
// enforces at most one checkpoint per partition at the database layer,
// not just in application code.
type CheckpointRepo struct {
	db *sql.DB
}

func (r *CheckpointRepo) Create(ctx context.Context, c Checkpoint) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints
				(id, history_id, partition_name, status, rows_processed, last_key, last_date,
				 error_message, copy_method, bytes_transferred)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.HistoryID, c.PartitionName, c.Status, c.RowsProcessed, nullIfEmpty(c.LastKey), nullIfEmpty(c.LastDate),
			nullIfEmpty(c.ErrorMessage), copyMethodOrDefault(c.CopyMethod), c.BytesTransferred,
		)
		if isUniqueErr(err) {
			return ErrDuplicate
		}
		return err
	})
}

func (r *CheckpointRepo) GetByID(ctx context.Context, id string) (Checkpoint, error) {
	row := r.db.QueryRowContext(ctx, checkpointSelect+` WHERE id = ?`, id)
	return scanCheckpoint(row)
}

// GetByHistory returns every checkpoint for a history, ordered by
// partition_name, for the orchestrator's per-partition lookup map.
func (r *CheckpointRepo) GetByHistory(ctx context.Context, historyID string) ([]Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx, checkpointSelect+` WHERE history_id = ? ORDER BY partition_name ASC`, historyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Checkpoint, 0)
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetPendingByHistory returns checkpoints not yet completed for a history
// (status in pending/running/failed), the partitions a resumed job still
// needs to process.
func (r *CheckpointRepo) GetPendingByHistory(ctx context.Context, historyID string) ([]Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx,
		checkpointSelect+` WHERE history_id = ? AND status != ? ORDER BY partition_name ASC`,
		historyID, CheckpointCompleted,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Checkpoint, 0)
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateByID loads the current row, applies mutate, and writes it back in
// one transaction. Callers enforce the monotonicity invariant
// (rows_processed and (last_key, last_date) never decrease) themselves;
// this repo persists whatever mutate produces.
func (r *CheckpointRepo) UpdateByID(ctx context.Context, id string, mutate func(*Checkpoint) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, checkpointSelect+` WHERE id = ?`, id)
		c, err := scanCheckpoint(row)
		if err != nil {
			return err
		}

		if err := mutate(&c); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE checkpoints SET
				status = ?, rows_processed = ?, last_key = ?, last_date = ?, error_message = ?,
				copy_method = ?, bytes_transferred = ?
			WHERE id = ?`,
			c.Status, c.RowsProcessed, nullIfEmpty(c.LastKey), nullIfEmpty(c.LastDate), nullIfEmpty(c.ErrorMessage),
			copyMethodOrDefault(c.CopyMethod), c.BytesTransferred, id,
		)
		if err != nil {
			return err
		}
		return mustAffectOne(res)
	})
}

func (r *CheckpointRepo) DeleteByID(ctx context.Context, id string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return mustAffectOne(res)
	})
}

func (r *CheckpointRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM checkpoints WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *CheckpointRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM checkpoints`).Scan(&count)
	return count, err
}

// GetByHistoryAndPartition enforces the at-most-once-per-partition lookup
// the orchestrator needs before deciding whether to create a new
// checkpoint or resume an existing one.
func (r *CheckpointRepo) GetByHistoryAndPartition(ctx context.Context, historyID, partitionName string) (Checkpoint, error) {
	row := r.db.QueryRowContext(ctx, checkpointSelect+` WHERE history_id = ? AND partition_name = ?`, historyID, partitionName)
	return scanCheckpoint(row)
}

const checkpointSelect = `
	SELECT id, history_id, partition_name, status, rows_processed, last_key, last_date,
	       error_message, copy_method, bytes_transferred
	FROM checkpoints`

func scanCheckpoint(scanner interface{ Scan(dest ...any) error }) (Checkpoint, error) {
	var (
		c            Checkpoint
		lastKey      sql.NullString
		lastDate     sql.NullString
		errorMessage sql.NullString
	)
	err := scanner.Scan(
		&c.ID, &c.HistoryID, &c.PartitionName, &c.Status, &c.RowsProcessed, &lastKey, &lastDate,
		&errorMessage, &c.CopyMethod, &c.BytesTransferred,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("store: scan checkpoint: %w", err)
	}
	c.LastKey = lastKey.String
	c.LastDate = lastDate.String
	c.ErrorMessage = errorMessage.String
	return c, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func copyMethodOrDefault(m string) string {
	if m == "" {
		return CopyMethodCopy
	}
	return m
}
