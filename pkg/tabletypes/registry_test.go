// SPDX-License-Identifier: Apache-2.0

package tabletypes_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partmig/partmig/pkg/tabletypes"
)

func TestLookupKnownParents(t *testing.T) {
	for _, name := range []string{"point_history", "trend_history", "energy_display", "running_time_history"} {
		c, err := tabletypes.Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.ParentName)
		assert.NotEmpty(t, c.Code)
		assert.NotEmpty(t, c.Columns)
		assert.Equal(t, c.Columns[0], c.KeyColumn())
	}
}

func TestLookupUnknownParent(t *testing.T) {
	_, err := tabletypes.Lookup("nonexistent_table")
	assert.Error(t, err)
}

func TestLookupByChildName(t *testing.T) {
	c, err := tabletypes.LookupByChildName("point_history_240115")
	require.NoError(t, err)
	assert.Equal(t, "point_history", c.ParentName)
	assert.Equal(t, tabletypes.TriggerBased, c.Routing)
}

func TestLookupByChildNameNoUnderscore(t *testing.T) {
	_, err := tabletypes.LookupByChildName("nosegments")
	assert.Error(t, err)
}

func TestRoutingPerCode(t *testing.T) {
	ph, err := tabletypes.LookupByCode("PH")
	require.NoError(t, err)
	assert.Equal(t, tabletypes.TriggerBased, ph.Routing)

	for _, code := range []string{"TH", "ED", "RT"} {
		c, err := tabletypes.LookupByCode(code)
		require.NoError(t, err)
		assert.Equal(t, tabletypes.RuleBased, c.Routing, "code %s", code)
	}
}

func TestEachCodeUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range tabletypes.All() {
		assert.False(t, seen[c.Code], "duplicate code %s", c.Code)
		seen[c.Code] = true
	}
	assert.Len(t, seen, 4)
}
