// SPDX-License-Identifier: Apache-2.0

package pgversion_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/partmig/partmig/pkg/pgversion"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		family pgversion.Family
		major  int
		minor  int
	}{
		{"legacy 9.3", "PostgreSQL 9.3.25 on x86_64-pc-linux-gnu", pgversion.PG93, 9, 3},
		{"modern 16", "PostgreSQL 16.4 (Debian 16.4-1.pgdg120+1) on x86_64-pc-linux-gnu", pgversion.PG16, 16, 4},
		{"other major", "PostgreSQL 14.2 on x86_64-pc-linux-gnu", pgversion.Unknown, 14, 2},
		{"malformed", "not a version string at all", pgversion.Unknown, 0, 0},
		{"empty", "", pgversion.Unknown, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := pgversion.Parse(tt.input)
			assert.Equal(t, tt.family, info.Family)
			assert.Equal(t, tt.major, info.Major)
			assert.Equal(t, tt.minor, info.Minor)
			assert.Equal(t, tt.input, info.FullVersion)
		})
	}
}

func TestResolveCompatMode(t *testing.T) {
	detected := pgversion.Parse("PostgreSQL 16.4 on x86_64")

	assert.Equal(t, pgversion.PG16, pgversion.Resolve(pgversion.CompatAuto, detected))
	assert.Equal(t, pgversion.PG93, pgversion.Resolve(pgversion.Compat93, detected))
	assert.Equal(t, pgversion.PG16, pgversion.Resolve(pgversion.Compat16, detected))
}

func TestResolveUnknownFallsBackTo93(t *testing.T) {
	detected := pgversion.Parse("garbage")
	assert.Equal(t, pgversion.PG93, pgversion.Resolve(pgversion.CompatAuto, detected))
}

func TestSessionParamsPerFamily(t *testing.T) {
	p93 := pgversion.SessionParams(pgversion.PG93)
	assert.Equal(t, "128MB", p93["work_mem"])
	assert.Equal(t, "32", p93["checkpoint_segments"])

	p16 := pgversion.SessionParams(pgversion.PG16)
	assert.Equal(t, "256MB", p16["work_mem"])
	assert.Equal(t, "4GB", p16["max_wal_size"])

	// UNKNOWN behaves like PG_9_3
	unknown := pgversion.SessionParams(pgversion.Unknown)
	assert.Equal(t, p93, unknown)
}

func TestBuildCopyTo(t *testing.T) {
	tmpl := pgversion.TemplatesFor(pgversion.PG16)
	got := pgversion.BuildCopyTo(tmpl, "id, val", "point_history_240101", "", "id", "issued_date", 100000)
	assert.Contains(t, got, "COPY (SELECT id, val FROM point_history_240101 ORDER BY id, issued_date LIMIT 100000)")
	assert.Contains(t, got, "FORMAT CSV, HEADER FALSE, NULL 'NULL'")
}
