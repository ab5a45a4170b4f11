// SPDX-License-Identifier: Apache-2.0

// Package tablecreator ensures the destination is ready for COPY IN into a
// partition: cloning the parent table definition from source, creating
// the child with the right CHECK constraint, and attaching TRIGGER- or
// RULE-based routing, using an idempotent PL/pgSQL-function-plus-trigger
// pattern for the TRIGGER_BASED case.
package tablecreator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/partmig/partmig/pkg/db"
	"github.com/partmig/partmig/pkg/discovery"
	"github.com/partmig/partmig/pkg/errkind"
	"github.com/partmig/partmig/pkg/events"
	"github.com/partmig/partmig/pkg/tabletypes"
)

// TruncateMode controls what happens when a target partition already has
// rows.
type TruncateMode string

const (
	TruncateAuto TruncateMode = "auto"
	TruncateAsk  TruncateMode = "ask"
)

// ConfirmFunc is called in TruncateAsk mode to ask whether an existing,
// non-empty partition should be truncated.
type ConfirmFunc func(partition string, existingRows int64) bool

// Creator ensures destination schema readiness ahead of a copy. source
// and target are routed through db.DB so DDL/catalog traffic gets the
// same lock_timeout retry as the rest of the migration.
type Creator struct {
	source  db.DB
	target  db.DB
	emitter events.Emitter
}

func New(source, target db.DB, emitter events.Emitter) *Creator {
	if emitter == nil {
		emitter = events.NewNoop()
	}
	return &Creator{source: source, target: target, emitter: emitter}
}

// EnsurePartitionReady creates the child if missing, else
// truncates-or-leaves it based on mode.
func (c *Creator) EnsurePartitionReady(ctx context.Context, part discovery.Descriptor, mode TruncateMode, confirm ConfirmFunc) (createdNew bool, preexistingRows int64, err error) {
	exists, err := c.childExists(ctx, part.TableName)
	if err != nil {
		return false, 0, errkind.Wrap(errkind.Schema, "checking child existence", err)
	}

	if !exists {
		if err := c.createPartitionTable(ctx, part); err != nil {
			return false, 0, err
		}
		return true, 0, nil
	}

	rowCount, err := c.countRows(ctx, part.TableName)
	if err != nil {
		return false, 0, errkind.Wrap(errkind.Schema, "counting existing rows", err)
	}
	if rowCount == 0 {
		return false, 0, nil
	}

	switch mode {
	case TruncateAsk:
		if confirm == nil || !confirm(part.TableName, rowCount) {
			return false, rowCount, errkind.New(errkind.Cancelled, fmt.Sprintf("truncate of %q declined", part.TableName))
		}
		fallthrough
	default: // TruncateAuto
		if _, err := c.target.ExecContext(ctx, fmt.Sprintf("TRUNCATE %s RESTART IDENTITY", pq.QuoteIdentifier(part.TableName))); err != nil {
			return false, rowCount, errkind.Wrap(errkind.Schema, "truncating partition", err)
		}
	}

	return false, rowCount, nil
}

// createPartitionTable derives the parent name, ensures the parent exists
// on the target (cloning its column definitions from source), attaches
// routing, and creates the child with its CHECK constraint.
func (c *Creator) createPartitionTable(ctx context.Context, part discovery.Descriptor) error {
	cfg, err := tabletypes.Lookup(part.ParentName)
	if err != nil {
		return errkind.Wrap(errkind.Schema, "looking up table type", err)
	}

	if err := c.ensureParentExists(ctx, cfg); err != nil {
		return err
	}

	if err := c.attachRouting(ctx, cfg, part); err != nil {
		return err
	}

	if err := c.createChild(ctx, cfg, part); err != nil {
		return err
	}

	if cfg.Routing == tabletypes.RuleBased {
		if err := c.attachRule(ctx, cfg, part); err != nil {
			return err
		}
	}

	if cfg.Code == "PH" {
		c.clusterChild(ctx, part.TableName, cfg)
	}

	if err := c.upsertCatalogRow(ctx, part); err != nil {
		return err
	}

	return nil
}

type columnDef struct {
	Name     string
	DataType string
	Nullable bool
	Default  sql.NullString
}

func (c *Creator) fetchParentColumns(ctx context.Context, parent string) ([]columnDef, error) {
	rows, err := c.source.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_name = $1
		ORDER BY ordinal_position`, parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []columnDef
	for rows.Next() {
		var col columnDef
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &nullable, &col.Default); err != nil {
			return nil, err
		}
		col.Nullable = nullable == "YES"
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (c *Creator) ensureParentExists(ctx context.Context, cfg tabletypes.Config) error {
	var exists bool
	rows, err := c.target.QueryContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, cfg.ParentName,
	)
	if err == nil {
		err = db.ScanFirstValue(rows, &exists)
		rows.Close() //nolint:errcheck
	}
	if err != nil {
		return errkind.Wrap(errkind.Schema, "checking parent existence", err)
	}
	if exists {
		return nil
	}

	cols, err := c.fetchParentColumns(ctx, cfg.ParentName)
	if err != nil {
		return errkind.Wrap(errkind.Schema, "reading source parent definition", err)
	}
	if len(cols) == 0 {
		return errkind.New(errkind.Schema, fmt.Sprintf("parent table %q not found on source", cfg.ParentName))
	}

	defs := make([]string, 0, len(cols))
	for _, col := range cols {
		def := fmt.Sprintf("%s %s", pq.QuoteIdentifier(col.Name), col.DataType)
		if !col.Nullable {
			def += " NOT NULL"
		}
		if col.Default.Valid {
			def += " DEFAULT " + col.Default.String
		}
		defs = append(defs, def)
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pq.QuoteIdentifier(cfg.ParentName), strings.Join(defs, ", "))
	if _, err := c.target.ExecContext(ctx, ddl); err != nil {
		return errkind.Wrap(errkind.Schema, "creating parent table", err)
	}
	return nil
}

func (c *Creator) attachRouting(ctx context.Context, cfg tabletypes.Config, part discovery.Descriptor) error {
	parent := pq.QuoteIdentifier(cfg.ParentName)

	if cfg.Routing == tabletypes.TriggerBased {
		if err := c.createIndex(ctx, fmt.Sprintf("CREATE INDEX %s_key_date_idx ON %s (%s, %s)", cfg.ParentName, parent, cfg.KeyColumn(), cfg.DateColumn)); err != nil {
			return err
		}
		if err := c.createIndex(ctx, fmt.Sprintf("CREATE INDEX %s_key_idx ON %s (%s)", cfg.ParentName, parent, cfg.KeyColumn())); err != nil {
			return err
		}

		if _, err := c.target.ExecContext(ctx, triggerFunctionSQL(cfg.ParentName, cfg.DateColumn)); err != nil {
			return errkind.Wrap(errkind.Schema, "creating routing function", err)
		}
		if _, err := c.target.ExecContext(ctx, triggerInstallSQL(cfg.ParentName)); err != nil {
			return errkind.Wrap(errkind.Schema, "installing routing trigger", err)
		}
		return nil
	}

	// RULE_BASED: parent-level indexes appropriate to the table type; the
	// routing rule itself is attached per-child in attachRule.
	switch cfg.Code {
	case "ED":
		if err := c.createIndex(ctx, fmt.Sprintf("CREATE INDEX %s_sensor_date_idx ON %s (sensor_id, %s)", cfg.ParentName, parent, cfg.DateColumn)); err != nil {
			return err
		}
		return c.createIndex(ctx, fmt.Sprintf("CREATE INDEX %s_station_idx ON %s (station_id)", cfg.ParentName, parent))
	default:
		return c.createIndex(ctx, fmt.Sprintf("CREATE INDEX %s_key_date_idx ON %s (%s, %s)", cfg.ParentName, parent, cfg.KeyColumn(), cfg.DateColumn))
	}
}

func (c *Creator) createChild(ctx context.Context, cfg tabletypes.Config, part discovery.Descriptor) error {
	var constraints []string
	if part.HasRange {
		constraints = append(constraints, fmt.Sprintf("CHECK (%s)", checkClause(cfg.DateColumn, part.FromMs, part.ToMs, cfg.DateIsTimestamp)))
	}
	if cfg.Code == "PH" {
		constraints = append(constraints, fmt.Sprintf("PRIMARY KEY (%s, %s)", cfg.KeyColumn(), cfg.DateColumn))
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) INHERITS (%s)",
		pq.QuoteIdentifier(part.TableName), strings.Join(constraints, ", "), pq.QuoteIdentifier(cfg.ParentName))
	if _, err := c.target.ExecContext(ctx, ddl); err != nil {
		return errkind.Wrap(errkind.Schema, fmt.Sprintf("creating child %q", part.TableName), err)
	}
	return nil
}

func (c *Creator) attachRule(ctx context.Context, cfg tabletypes.Config, part discovery.Descriptor) error {
	if !part.HasRange {
		// a RULE needs literal range bounds; without them the child exists
		// but rows routed through the parent will not reach it. TRIGGER
		// routing has no such dependency and is unaffected.
		return nil
	}

	where := checkClause(cfg.DateColumn, part.FromMs, part.ToMs, cfg.DateIsTimestamp)
	where = strings.ReplaceAll(where, cfg.DateColumn, "new."+cfg.DateColumn)

	columns := strings.Join(cfg.Columns, ", ")
	newColumns := make([]string, len(cfg.Columns))
	for i, col := range cfg.Columns {
		newColumns[i] = "new." + col
	}

	sqlText := ruleSQL(part.TableName, cfg.ParentName, where, columns, strings.Join(newColumns, ", "))
	if _, err := c.target.ExecContext(ctx, sqlText); err != nil {
		return errkind.Wrap(errkind.Schema, fmt.Sprintf("creating rule for %q", part.TableName), err)
	}
	return nil
}

func (c *Creator) clusterChild(ctx context.Context, childTable string, cfg tabletypes.Config) {
	pk := childTable + "_pkey"
	_, err := c.target.ExecContext(ctx, fmt.Sprintf("CLUSTER %s USING %s", pq.QuoteIdentifier(childTable), pq.QuoteIdentifier(pk)))
	if err != nil {
		// a missing index or a permission failure is not worth failing the
		// partition over; clustering is an optimization only.
		c.emitter.Log(events.Warning, fmt.Sprintf("could not CLUSTER %s using %s: %v", childTable, pk, err))
	}
}

// upsertCatalogRow maintains partition_table_info on the destination,
// creating the catalog table first if this is the target's first
// partition. Check-then-insert instead of ON CONFLICT keeps this working
// on a 9.3 target.
func (c *Creator) upsertCatalogRow(ctx context.Context, part discovery.Descriptor) error {
	_, err := c.target.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS partition_table_info (
			table_name varchar(100) PRIMARY KEY,
			table_data varchar(10),
			from_date bigint,
			to_date bigint,
			use_flag boolean,
			save_date timestamp,
			cluster_index boolean
		)`)
	if err != nil {
		return errkind.Wrap(errkind.Schema, "creating catalog table", err)
	}

	var exists bool
	rows, err := c.target.QueryContext(ctx, `SELECT EXISTS (SELECT 1 FROM partition_table_info WHERE table_name = $1)`, part.TableName)
	if err == nil {
		err = db.ScanFirstValue(rows, &exists)
		rows.Close() //nolint:errcheck
	}
	if err != nil {
		return errkind.Wrap(errkind.Schema, "checking catalog row", err)
	}
	if exists {
		return nil
	}

	_, err = c.target.ExecContext(ctx, `
		INSERT INTO partition_table_info (table_name, table_data, from_date, to_date, use_flag, save_date, cluster_index)
		VALUES ($1, $2, $3, $4, true, now(), true)`,
		part.TableName, part.Code, part.FromMs, part.ToMs,
	)
	if err != nil {
		return errkind.Wrap(errkind.Schema, "inserting catalog row", err)
	}
	return nil
}

func (c *Creator) childExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	rows, err := c.target.QueryContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
	)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	if err := db.ScanFirstValue(rows, &exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (c *Creator) countRows(ctx context.Context, table string) (int64, error) {
	var count int64
	rows, err := c.target.QueryContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(table)))
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if err := db.ScanFirstValue(rows, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// createIndex runs a CREATE INDEX statement, ignoring "already exists"/
// "duplicate object" errors, the 9.3-compatible stand-in for CREATE INDEX
// IF NOT EXISTS (unsupported before PG 9.5). Anything else is a real
// schema failure and surfaces.
func (c *Creator) createIndex(ctx context.Context, ddl string) error {
	_, err := c.target.ExecContext(ctx, ddl)
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == "42P07" || pqErr.Code == "42710") {
		return nil // duplicate_table / duplicate_object
	}
	return errkind.Wrap(errkind.Schema, "creating index", err)
}

func msToTimestampString(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}
