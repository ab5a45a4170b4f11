// SPDX-License-Identifier: Apache-2.0

// Package discovery queries the partition_table_info catalog table for
// partitions intersecting a date range and a set of table-type codes,
// with a name-derived fallback for rows missing an explicit date range.
package discovery

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/partmig/partmig/pkg/db"
	"github.com/partmig/partmig/pkg/events"
	"github.com/partmig/partmig/pkg/tabletypes"
)

// Descriptor is one partition child table found by discovery.
type Descriptor struct {
	TableName  string
	Code       string
	ParentName string
	FromMs     int64
	ToMs       int64
	HasRange   bool
	RowCount   int64
	UseFlag    bool
}

// Plan is the ordered sequence of partitions making up one job, sorted by
// (code, from_date).
type Plan []Descriptor

var suffixPattern = regexp.MustCompile(`_(\d{6})$`)

// ParsePartitionSuffix derives an inclusive day range in epoch
// milliseconds from a trailing YYMMDD child-name suffix, used only as a
// fallback when the catalog row's from_date/to_date are absent. ok is
// false when no such suffix exists.
func ParsePartitionSuffix(childName string) (fromMs, toMs int64, ok bool) {
	m := suffixPattern.FindStringSubmatch(childName)
	if m == nil {
		return 0, 0, false
	}

	yy, err1 := strconv.Atoi(m[1][0:2])
	mm, err2 := strconv.Atoi(m[1][2:4])
	dd, err3 := strconv.Atoi(m[1][4:6])
	if err1 != nil || err2 != nil || err3 != nil || mm < 1 || mm > 12 || dd < 1 || dd > 31 {
		return 0, 0, false
	}

	year := 2000 + yy
	day := time.Date(year, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	from := day.UnixMilli()
	to := day.Add(24 * time.Hour).Add(-time.Millisecond).UnixMilli()
	return from, to, true
}

// Discover runs the catalog query against source for the given inclusive
// local-date range and table-type codes, then existence-checks and
// row-counts every candidate child table. Catalog failures fail discovery
// outright; an individual missing child table is filtered out, not fatal.
// A row whose from_date/to_date are NULL falls back to the child table's
// name-derived range (ParsePartitionSuffix) and logs a WARNING through
// emitter; emitter may be events.NewNoop() when no logging is wanted.
// conn is routed through db.DB so catalog traffic gets lock_timeout retry.
func Discover(ctx context.Context, conn db.DB, startDate, endDate time.Time, codes []string, emitter events.Emitter) (Plan, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("discovery: at least one table-type code is required")
	}
	if emitter == nil {
		emitter = events.NewNoop()
	}

	startMs := startDate.UnixMilli()
	endMs := endDate.Add(24 * time.Hour).Add(-time.Millisecond).UnixMilli()

	tableData := make([]string, len(codes))
	for i, code := range codes {
		if _, err := tabletypes.LookupByCode(code); err != nil {
			return nil, fmt.Errorf("discovery: %w", err)
		}
		tableData[i] = code
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT table_name, table_data, from_date, to_date, use_flag
		FROM partition_table_info
		WHERE use_flag = true
		  AND table_data = ANY($1)
		  AND (from_date IS NULL OR from_date <= $2)
		  AND (to_date IS NULL OR to_date >= $3)
		ORDER BY table_data, from_date`,
		pq.Array(tableData), endMs, startMs,
	)
	if err != nil {
		return nil, fmt.Errorf("discovery: catalog query failed: %w", err)
	}
	defer rows.Close()

	var candidates []Descriptor
	for rows.Next() {
		var d Descriptor
		var fromN, toN sql.NullInt64
		if err := rows.Scan(&d.TableName, &d.Code, &fromN, &toN, &d.UseFlag); err != nil {
			return nil, fmt.Errorf("discovery: scanning catalog row: %w", err)
		}

		if fromN.Valid && toN.Valid {
			d.FromMs, d.ToMs, d.HasRange = fromN.Int64, toN.Int64, true
		} else if fromMs, toMs, ok := ParsePartitionSuffix(d.TableName); ok {
			d.FromMs, d.ToMs, d.HasRange = fromMs, toMs, true
			emitter.Log(events.Warning, fmt.Sprintf(
				"partition %q has no catalog date range; falling back to name-derived range", d.TableName))
		} else {
			emitter.Log(events.Warning, fmt.Sprintf(
				"partition %q has no catalog date range and no parseable name suffix; routing without a range", d.TableName))
		}

		cfg, err := tabletypes.LookupByCode(d.Code)
		if err != nil {
			return nil, fmt.Errorf("discovery: %w", err)
		}
		d.ParentName = cfg.ParentName
		candidates = append(candidates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discovery: iterating catalog rows: %w", err)
	}

	plan := make(Plan, 0, len(candidates))
	for _, d := range candidates {
		exists, err := tableExists(ctx, conn, d.TableName)
		if err != nil {
			return nil, fmt.Errorf("discovery: checking existence of %q: %w", d.TableName, err)
		}
		if !exists {
			continue
		}

		count, err := countRows(ctx, conn, d.TableName)
		if err != nil {
			return nil, fmt.Errorf("discovery: counting rows in %q: %w", d.TableName, err)
		}
		d.RowCount = count
		plan = append(plan, d)
	}

	sort.SliceStable(plan, func(i, j int) bool {
		if plan[i].Code != plan[j].Code {
			return plan[i].Code < plan[j].Code
		}
		return plan[i].FromMs < plan[j].FromMs
	})

	return plan, nil
}

func tableExists(ctx context.Context, conn db.DB, table string) (bool, error) {
	var exists bool
	rows, err := conn.QueryContext(ctx,
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

func countRows(ctx context.Context, conn db.DB, table string) (int64, error) {
	var count int64
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(table)))
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if err := db.ScanFirstValue(rows, &count); err != nil {
		return 0, err
	}
	return count, nil
}
