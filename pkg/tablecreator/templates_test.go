// SPDX-License-Identifier: Apache-2.0

package tablecreator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckClauseBigint(t *testing.T) {
	got := checkClause("issued_date", 1000, 2000, false)
	assert.Equal(t, "issued_date >= 1000 AND issued_date <= 2000", got)
}

func TestCheckClauseTimestamp(t *testing.T) {
	got := checkClause("issued_date", 0, 86399999, true)
	assert.Contains(t, got, "::timestamp without time zone")
	assert.Contains(t, got, "1970-01-01 00:00:00")
}

func TestTriggerFunctionSQLNamesTheParent(t *testing.T) {
	got := triggerFunctionSQL("point_history", "issued_date")
	assert.Contains(t, got, "point_history_route_insert")
	assert.Contains(t, got, "issued_date / 1000")
}

func TestTriggerInstallSQLDropsBeforeCreate(t *testing.T) {
	got := triggerInstallSQL("point_history")
	assert.Contains(t, got, "DROP TRIGGER IF EXISTS point_history_insert_trigger")
	assert.Contains(t, got, "CREATE TRIGGER point_history_insert_trigger")
}

func TestRuleSQLDropsBeforeCreate(t *testing.T) {
	got := ruleSQL("energy_display_240105", "energy_display", "new.issued_date >= 1 AND new.issued_date <= 2", "sensor_id, issued_date", "new.sensor_id, new.issued_date")
	assert.Contains(t, got, "DROP RULE IF EXISTS rule_energy_display_240105")
	assert.Contains(t, got, "CREATE RULE rule_energy_display_240105 AS ON INSERT TO energy_display")
	assert.Contains(t, got, "DO INSTEAD INSERT INTO energy_display_240105")
}

func TestMsToTimestampString(t *testing.T) {
	assert.Equal(t, "1970-01-01 00:00:00", msToTimestampString(0))
}
