// SPDX-License-Identifier: Apache-2.0

// Package store is the local, embedded, single-file checkpoint/history
// store: a database/sql handle over modernc.org/sqlite opened with WAL
// journaling and a single writer connection, an additive
// schema_migrations-gated migration list, typed repositories, and
// RFC3339Nano TEXT timestamps.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a GetByID/UpdateByID/DeleteByID target
	// does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint is violated, e.g.
	// a second Checkpoint for the same (history_id, partition_name).
	ErrDuplicate = errors.New("store: duplicate")
)

// Store wraps the embedded database handle. The repositories are exposed
// as fields, one per entity.
type Store struct {
	db *sql.DB

	History    *HistoryRepo
	Checkpoint *CheckpointRepo
	Log        *LogRepo
}

// Open creates the store file's parent directory if needed, opens it with
// WAL journaling and a 5s busy timeout, pins a single writer connection
// (embedded single-file stores do not benefit from concurrent writers and
// sqlite serializes them anyway), and runs the additive migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	s.History = &HistoryRepo{db: db}
	s.Checkpoint = &CheckpointRepo{db: db}
	s.Log = &LogRepo{db: db}
	return s, nil
}

// OpenInMemory opens a process-private in-memory store, for tests.
func OpenInMemory(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store: open in-memory sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	s.History = &HistoryRepo{db: db}
	s.Checkpoint = &CheckpointRepo{db: db}
	s.Log = &LogRepo{db: db}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB { return s.db }

// Status values for a migration history record.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Checkpoint status values. CheckpointPending precedes the
// first attempt at a partition; checkpoints are created lazily on first
// attempt so this value is mostly used by callers constructing a row
// in-memory before Create.
const (
	CheckpointPending   = "pending"
	CheckpointRunning   = "running"
	CheckpointCompleted = "completed"
	CheckpointFailed    = "failed"
)

// CopyMethod values for Checkpoint.CopyMethod.
const (
	CopyMethodCopy   = "COPY"
	CopyMethodInsert = "INSERT"
)

// History is the persistent record of one migration job.
type History struct {
	ID            string
	ProfileID     string
	StartDate     string
	EndDate       string
	StartedAt     time.Time
	CompletedAt   *time.Time
	Status        string
	TotalRows     int64
	ProcessedRows int64

	SourceConnectionStatus string
	TargetConnectionStatus string
	ConnectionCheckTime    *time.Time
}

// Checkpoint is the persistent per-partition progress record.
type Checkpoint struct {
	ID               string
	HistoryID        string
	PartitionName    string
	Status           string
	RowsProcessed    int64
	LastKey          string
	LastDate         string
	BytesTransferred int64
	CopyMethod       string
	// ErrorMessage is free text; historically also used as a JSON
	// envelope for resume keys when the dedicated columns weren't yet
	// written. ResumeKey() is the only supported reader of that fallback;
	// writers always use LastKey/LastDate directly, never this field.
	ErrorMessage string
}

// legacyResumeEnvelope is the JSON shape historically stashed in
// ErrorMessage by older writers; read-only here.
type legacyResumeEnvelope struct {
	LastKey  string `json:"last_key"`
	LastDate string `json:"last_date"`
}

// ResumeKey returns the (last_key, last_date) a migration should resume
// from, preferring the dedicated columns and falling back to parsing
// ErrorMessage as a legacy JSON envelope.
func (c Checkpoint) ResumeKey() (lastKey, lastDate string, ok bool) {
	if c.LastKey != "" {
		return c.LastKey, c.LastDate, true
	}
	trimmed := strings.TrimSpace(c.ErrorMessage)
	if trimmed == "" || trimmed[0] != '{' {
		return "", "", false
	}
	var env legacyResumeEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return "", "", false
	}
	if env.LastKey == "" {
		return "", "", false
	}
	return env.LastKey, env.LastDate, true
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullableParseTS(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	v, err := parseTS(s.String)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func isUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
