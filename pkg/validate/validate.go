// SPDX-License-Identifier: Apache-2.0

// Package validate holds the pure pre-flight checks run before a job
// starts: connection config, profile name, date range, compat mode, and
// source/target version compatibility. Each returns (ok, message) to
// match the rest of the core's probe conventions
// (connopt.ProbeCopyPrivilege, connopt.QuickProbe).
package validate

import (
	"fmt"
	"regexp"
	"time"

	"github.com/partmig/partmig/internal/connstr"
	"github.com/partmig/partmig/pkg/pgversion"
)

var (
	databasePattern = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	// profile names allow Korean letters in addition to the ASCII set
	profilePattern = regexp.MustCompile(`^[A-Za-z0-9 _\-\x{AC00}-\x{D7A3}\x{1100}-\x{11FF}\x{3130}-\x{318F}]+$`)
)

const maxDateRangeDays = 365

// ConnectionConfig checks a connection config's shape before it is ever
// used to open a connection.
func ConnectionConfig(cfg connstr.Config) (bool, string) {
	if cfg.Host == "" {
		return false, "host must not be empty"
	}
	if len(cfg.Host) > 255 {
		return false, "host must be at most 255 characters"
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return false, fmt.Sprintf("port %d is out of range [1,65535]", cfg.Port)
	}
	if !databasePattern.MatchString(cfg.Database) {
		return false, fmt.Sprintf("database %q does not match ^[A-Za-z0-9_.]+$", cfg.Database)
	}
	if !usernamePattern.MatchString(cfg.Username) {
		return false, fmt.Sprintf("username %q does not match ^[A-Za-z0-9_]+$", cfg.Username)
	}
	return true, "ok"
}

// ProfileName checks a connection-profile name: 1-100 chars, letters,
// digits, space, underscore, hyphen, or Korean syllables.
func ProfileName(name string) (bool, string) {
	runeLen := len([]rune(name))
	if runeLen < 1 || runeLen > 100 {
		return false, "profile name must be between 1 and 100 characters"
	}
	if !profilePattern.MatchString(name) {
		return false, "profile name contains unsupported characters"
	}
	return true, "ok"
}

// DateRange checks that both dates are set, start <= end, and the span is
// at most 365 days.
func DateRange(start, end time.Time) (bool, string) {
	if start.IsZero() || end.IsZero() {
		return false, "both start_date and end_date must be set"
	}
	if start.After(end) {
		return false, "start_date must not be after end_date"
	}
	if end.Sub(start) > maxDateRangeDays*24*time.Hour {
		return false, fmt.Sprintf("date range exceeds %d days", maxDateRangeDays)
	}
	return true, "ok"
}

// CompatMode checks mode is one of auto/9.3/16.
func CompatMode(mode string) (bool, string) {
	switch pgversion.CompatMode(mode) {
	case pgversion.CompatAuto, pgversion.Compat93, pgversion.Compat16:
		return true, "ok"
	default:
		return false, fmt.Sprintf("compat mode %q must be one of auto, 9.3, 16", mode)
	}
}

// VersionCompatibility warns (but does not fail) on risky combinations:
// downgrading major versions, JSONB support lost going to 9.3, or either
// side being UNKNOWN.
func VersionCompatibility(source, target pgversion.Info) (bool, string) {
	if source.Family == pgversion.Unknown || target.Family == pgversion.Unknown {
		return true, "warning: version family UNKNOWN for one or both connections; treating as PG_9_3"
	}
	if target.Major < source.Major {
		return true, fmt.Sprintf("warning: target major version %d is older than source major version %d", target.Major, source.Major)
	}
	if source.Family == pgversion.PG16 && target.Family == pgversion.PG93 {
		return true, "warning: source supports JSONB but target is PG_9_3"
	}
	return true, "ok"
}
