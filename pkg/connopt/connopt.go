// SPDX-License-Identifier: Apache-2.0

// Package connopt opens tuned Postgres connections for either role in a
// migration job, applies per-version session parameters, and probes COPY
// privileges: DSN assembly and a version-detection query run once at
// connect time, generalized to both the source and target side.
package connopt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/partmig/partmig/internal/connstr"
	"github.com/partmig/partmig/pkg/db"
	"github.com/partmig/partmig/pkg/pgversion"
)

// errProbeDone signals the end of a COPY-privilege probe transaction; it
// is always returned from the WithRetryableTransaction closure so the
// probe never commits, only ever rolls back.
var errProbeDone = errors.New("connopt: probe transaction complete")

// Role identifies which side of the migration a connection serves.
type Role string

const (
	Source Role = "source"
	Target Role = "target"
)

const quickProbeTimeout = 5 * time.Second

// Opened bundles the retry-wrapped connection with the version profile
// that was resolved for it.
type Opened struct {
	DB      *db.RDB
	Version pgversion.Info
	Family  pgversion.Family
}

// Open connects, detects the server version, resolves the effective
// family against cfg.CompatMode, and applies the family's session
// parameters. The target connection has autocommit left on at the
// sql.DB level; each COPY chunk scopes its own transaction explicitly
// (see pkg/copyengine).
func Open(ctx context.Context, cfg connstr.Config, role Role) (*Opened, error) {
	dsn := connstr.Build(cfg)
	dsn, err := connstr.AppendStatementTimeoutZero(dsn)
	if err != nil {
		return nil, fmt.Errorf("connopt: %w", err)
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connopt: open %s connection: %w", role, err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connopt: ping %s connection: %w", role, err)
	}

	var fullVersion string
	if err := sqlDB.QueryRowContext(ctx, "SELECT version()").Scan(&fullVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connopt: detect %s version: %w", role, err)
	}

	detected := pgversion.Parse(fullVersion)
	family := pgversion.Resolve(pgversion.CompatMode(cfg.CompatMode), detected)

	rdb := &db.RDB{DB: sqlDB, Role: string(role)}
	applySessionParams(ctx, rdb, family)

	return &Opened{
		DB:      rdb,
		Version: detected,
		Family:  family,
	}, nil
}

// applySessionParams applies the family's SET statements one at a time,
// through the retry-wrapped connection so a lock_timeout on SET itself
// (rare, but possible under contention) is retried like any other
// statement. A failure on an unsupported key (e.g. checkpoint_segments
// on a modern server) is swallowed, not fatal: each SET is its own
// statement so one failure can't roll back the others.
func applySessionParams(ctx context.Context, conn db.DB, family pgversion.Family) {
	for key, value := range pgversion.SessionParams(family) {
		//nolint:gosec // key/value come from a fixed internal table, not user input
		_, _ = conn.ExecContext(ctx, fmt.Sprintf("SET %s = '%s'", key, value))
	}
}

// ProbeCopyPrivilege answers whether conn is allowed to run COPY (TO
// STDOUT if forWrite is false, FROM STDIN if true). conn is routed
// through the retry-wrapped db.DB so the probe's DDL/COPY traffic gets
// the same lock_timeout retry as everything else.
func ProbeCopyPrivilege(ctx context.Context, conn db.DB, forWrite bool, family pgversion.Family) (bool, string) {
	tmpl := pgversion.TemplatesFor(family)
	perm := tmpl.CheckPermission
	if forWrite {
		// the 16 template names the read-side role; the write side of the
		// probe cares about pg_write_server_files membership instead.
		perm = strings.ReplaceAll(perm, "pg_read_server_files", "pg_write_server_files")
	}

	var privileged bool
	if rows, err := conn.QueryContext(ctx, "SELECT "+perm+" FROM pg_roles WHERE rolname = current_user"); err == nil {
		_ = db.ScanFirstValue(rows, &privileged)
		rows.Close() //nolint:errcheck
	}
	if privileged {
		return true, "user has superuser or file-access role membership"
	}

	var probeErr error
	txErr := conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "CREATE TEMP TABLE partmig_copy_probe (id int)"); err != nil {
			probeErr = fmt.Errorf("could not create probe table: %w", err)
			return errProbeDone
		}

		// database/sql (and lib/pq) only exposes COPY FROM STDIN; there is
		// no portable way to drive COPY TO STDOUT through it (that gap is
		// exactly why the copy engine's producer side uses pgx instead). A
		// role that can COPY FROM STDIN on a temp table it owns can COPY TO
		// STDOUT from the same table, so this single probe stands in for
		// both directions.
		if _, err := tx.ExecContext(ctx, "COPY partmig_copy_probe FROM STDIN WITH (FORMAT CSV)"); err != nil {
			probeErr = fmt.Errorf("COPY probe failed: %w", err)
			return errProbeDone
		}

		// never commit: this is a read-only probe, always roll back.
		return errProbeDone
	})

	if probeErr != nil {
		return false, probeErr.Error()
	}
	if txErr != nil && !errors.Is(txErr, errProbeDone) {
		return false, fmt.Sprintf("could not open probe transaction: %v", txErr)
	}
	return true, "COPY probe succeeded on a temp table"
}

// ProbeCategory is a stable classification of a quick-probe failure.
type ProbeCategory string

const (
	CategoryOK               ProbeCategory = "ok"
	CategoryHostNotFound     ProbeCategory = "host_not_found"
	CategoryAuthFailed       ProbeCategory = "auth_failed"
	CategoryTimeout          ProbeCategory = "timeout"
	CategoryPermissionDenied ProbeCategory = "permission_denied"
	CategoryDatabaseNotFound ProbeCategory = "database_not_found"
	CategoryOther            ProbeCategory = "other"
)

// QuickProbe attempts a short connection to classify reachability before
// a job starts, capped at a 5s connect timeout.
func QuickProbe(cfg connstr.Config) (ProbeCategory, string) {
	ctx, cancel := context.WithTimeout(context.Background(), quickProbeTimeout)
	defer cancel()

	sqlDB, err := sql.Open("postgres", connstr.Build(cfg))
	if err != nil {
		return CategoryOther, err.Error()
	}
	defer sqlDB.Close()

	err = sqlDB.PingContext(ctx)
	if err == nil {
		return CategoryOK, "connected"
	}

	return classifyProbeError(err)
}

func classifyProbeError(err error) (ProbeCategory, string) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return CategoryHostNotFound, err.Error()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout, err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout, err.Error()
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "28": // invalid_authorization_specification
			return CategoryAuthFailed, err.Error()
		case "3D": // invalid_catalog_name
			return CategoryDatabaseNotFound, err.Error()
		case "42": // insufficient_privilege falls in syntax_or_access_rule_violation
			return CategoryPermissionDenied, err.Error()
		}
	}

	return CategoryOther, err.Error()
}

// TableSize is the result of EstimateTableSize; a missing table is a
// first-class value (Exists=false), not an error.
type TableSize struct {
	Exists          bool
	RowCount        int64
	TotalSizeBytes  int64
	AvgRowSizeBytes int64
}

// EstimateTableSize reports an approximate row count and size for table,
// using the version-appropriate size function (pg_table_size on 9.3,
// pg_total_relation_size on 16) and pg_class.reltuples for the row
// estimate on both. conn is routed through the retry-wrapped db.DB so
// lock_timeout failures on these catalog reads are retried.
func EstimateTableSize(ctx context.Context, conn db.DB, table string, family pgversion.Family) (TableSize, error) {
	var exists bool
	rows, err := conn.QueryContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
	)
	if err != nil {
		return TableSize{}, fmt.Errorf("connopt: checking existence of %q: %w", table, err)
	}
	if err := db.ScanFirstValue(rows, &exists); err != nil {
		rows.Close() //nolint:errcheck
		return TableSize{}, fmt.Errorf("connopt: checking existence of %q: %w", table, err)
	}
	rows.Close() //nolint:errcheck
	if !exists {
		return TableSize{Exists: false}, nil
	}

	tmpl := pgversion.TemplatesFor(family)
	sizeQuery := fmt.Sprintf(tmpl.EstimateSize, pq.QuoteLiteral(table))

	var totalSize int64
	sizeRows, err := conn.QueryContext(ctx, sizeQuery)
	if err != nil {
		return TableSize{}, fmt.Errorf("connopt: estimating size of %q: %w", table, err)
	}
	err = db.ScanFirstValue(sizeRows, &totalSize)
	sizeRows.Close() //nolint:errcheck
	if err != nil {
		return TableSize{}, fmt.Errorf("connopt: estimating size of %q: %w", table, err)
	}

	var rowEstimate float64
	countRows, err := conn.QueryContext(ctx,
		`SELECT reltuples FROM pg_class WHERE relname = $1`, table,
	)
	if err != nil {
		return TableSize{}, fmt.Errorf("connopt: estimating row count of %q: %w", table, err)
	}
	err = db.ScanFirstValue(countRows, &rowEstimate)
	countRows.Close() //nolint:errcheck
	if err != nil {
		return TableSize{}, fmt.Errorf("connopt: estimating row count of %q: %w", table, err)
	}

	rowCount := int64(rowEstimate)
	var avgRowSize int64
	if rowCount > 0 {
		avgRowSize = totalSize / rowCount
	}

	return TableSize{
		Exists:          true,
		RowCount:        rowCount,
		TotalSizeBytes:  totalSize,
		AvgRowSizeBytes: avgRowSize,
	}, nil
}
