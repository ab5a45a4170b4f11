// SPDX-License-Identifier: Apache-2.0

// Package pgversion classifies a Postgres server's reported version string
// into a Family and exposes the per-family session parameters and SQL
// templates the rest of the core needs. Classification runs a
// version-detection query once at connect time, extended from a
// single-version model to the two-family 9.3/16 split this system
// requires.
package pgversion

import (
	"fmt"
	"regexp"
	"strconv"
)

// Family is the coarse version bucket the rest of the system branches on.
type Family int

const (
	Unknown Family = iota
	PG93
	PG16
)

func (f Family) String() string {
	switch f {
	case PG93:
		return "PG_9_3"
	case PG16:
		return "PG_16"
	default:
		return "UNKNOWN"
	}
}

// EffectiveFamily returns the family to use for behavioral choices. UNKNOWN
// is treated as PG_9_3, the conservative fallback.
func (f Family) EffectiveFamily() Family {
	if f == Unknown {
		return PG93
	}
	return f
}

// Info is the result of parsing a server's version() string.
type Info struct {
	Major       int
	Minor       int
	FullVersion string
	Family      Family
}

var versionPattern = regexp.MustCompile(`(?i)postgresql\s+(\d+)\.(\d+)`)

// Parse extracts major/minor from a full version() string and classifies
// it. It is total: malformed input yields Family=Unknown, Major=0, Minor=0,
// with FullVersion preserved verbatim for diagnostics.
func Parse(full string) Info {
	m := versionPattern.FindStringSubmatch(full)
	if m == nil {
		return Info{FullVersion: full, Family: Unknown}
	}

	major, err1 := strconv.Atoi(m[1])
	minor, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return Info{FullVersion: full, Family: Unknown}
	}

	info := Info{Major: major, Minor: minor, FullVersion: full}
	switch {
	case major == 9 && minor == 3:
		info.Family = PG93
	case major == 16:
		info.Family = PG16
	default:
		info.Family = Unknown
	}
	return info
}

// CompatMode is the per-connection override that forces a specific family
// regardless of detection.
type CompatMode string

const (
	CompatAuto CompatMode = "auto"
	Compat93   CompatMode = "9.3"
	Compat16   CompatMode = "16"
)

// Resolve applies a CompatMode on top of a detected Info, returning the
// Family to actually use. The detected Info is always preserved by the
// caller for diagnostics; only the behavioral choice is overridden here.
func Resolve(mode CompatMode, detected Info) Family {
	switch mode {
	case Compat93:
		return PG93
	case Compat16:
		return PG16
	default:
		return detected.Family.EffectiveFamily()
	}
}

// SessionParams are applied with `SET <k> = <v>`; unsupported keys on the
// live server are expected to fail, and the caller ignores that failure
// and goes on with the next key (see connopt.applySessionParams).
func SessionParams(family Family) map[string]string {
	switch family.EffectiveFamily() {
	case PG16:
		return map[string]string{
			"work_mem":                        "256MB",
			"maintenance_work_mem":            "1GB",
			"synchronous_commit":              "off",
			"max_wal_size":                    "4GB",
			"max_parallel_workers_per_gather": "2",
		}
	default: // PG93 and the UNKNOWN->PG93 fallback
		return map[string]string{
			"work_mem":             "128MB",
			"maintenance_work_mem": "512MB",
			"synchronous_commit":   "off",
			"checkpoint_segments":  "32",
		}
	}
}

// Templates holds the per-family SQL fragments that differ between 9.3 and
// 16. These are plain Sprintf-style format strings, not text/template: the
// bodies are single-line SQL, so heavier templating machinery is
// unwarranted here.
type Templates struct {
	EstimateSize    string // %s = quoted table name
	CheckPermission string // no args; returns a boolean expression
	CopyTo          string // %[1]s columns, %[2]s table, %[3]s where, %[4]s order key, %[5]s order date, %[6]d limit
}

func TemplatesFor(family Family) Templates {
	if family.EffectiveFamily() == PG16 {
		return Templates{
			EstimateSize:    "SELECT pg_total_relation_size(%s::regclass)",
			CheckPermission: "rolsuper OR pg_has_role(current_user, 'pg_read_server_files', 'MEMBER')",
			CopyTo:          copyToTemplate,
		}
	}
	return Templates{
		EstimateSize:    "SELECT pg_table_size(%s::regclass)",
		CheckPermission: "rolsuper",
		CopyTo:          copyToTemplate,
	}
}

const copyToTemplate = "COPY (SELECT %[1]s FROM %[2]s%[3]s ORDER BY %[4]s, %[5]s LIMIT %[6]d) TO STDOUT WITH (FORMAT CSV, HEADER FALSE, NULL 'NULL')"

// BuildCopyTo fills in the CopyTo template.
func BuildCopyTo(t Templates, columns, table, where, keyCol, dateCol string, limit int) string {
	return fmt.Sprintf(t.CopyTo, columns, table, where, keyCol, dateCol, limit)
}
