// SPDX-License-Identifier: Apache-2.0

package copyengine

import (
	"fmt"
	"strconv"
	"strings"
)

// ResumePredicate builds the keyset WHERE clause a chunk's COPY OUT uses
// to pick up after the previous chunk: key > last_key OR (key = last_key
// AND date > last_date). An empty lastKey means this is the partition's
// first chunk, so no predicate is needed.
func ResumePredicate(keyCol, dateCol, lastKey, lastDate string, dateIsTimestamp bool) string {
	if lastKey == "" {
		return ""
	}
	keyLit := numericOrQuotedLiteral(lastKey)
	dateLit := dateLiteral(lastDate, dateIsTimestamp)
	return fmt.Sprintf(" WHERE %s > %s OR (%s = %s AND %s > %s)", keyCol, keyLit, keyCol, keyLit, dateCol, dateLit)
}

func numericOrQuotedLiteral(v string) string {
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return v
	}
	return quoteLiteral(v)
}

func dateLiteral(v string, isTimestamp bool) string {
	if isTimestamp {
		return quoteLiteral(v) + "::timestamp"
	}
	return numericOrQuotedLiteral(v)
}

func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
