// SPDX-License-Identifier: Apache-2.0

// Package tabletypes holds the static catalog mapping a parent table name
// to its column layout and routing strategy, one entry per supported
// history table family (point_history, trend_history, energy_display,
// running_time_history).
package tabletypes

import (
	"fmt"
	"strings"
)

// Routing is how rows inserted into a parent get redirected to the
// correct dated child partition.
type Routing int

const (
	TriggerBased Routing = iota
	RuleBased
)

func (r Routing) String() string {
	if r == TriggerBased {
		return "TRIGGER_BASED"
	}
	return "RULE_BASED"
}

// Config is one supported parent table's static shape. Column order
// defines the CSV schema used by every COPY in the system; it must never
// be inferred from information_schema at copy time.
type Config struct {
	ParentName      string
	Code            string
	Columns         []string
	DateColumn      string
	DateIsTimestamp bool
	Routing         Routing
}

// KeyColumn is the resume-ordering primary key component: the first
// column in Columns.
func (c Config) KeyColumn() string {
	return c.Columns[0]
}

var registry = map[string]Config{
	"point_history": {
		ParentName: "point_history",
		Code:       "PH",
		Columns:    []string{"point_id", "issued_date", "point_value", "connection_status"},
		DateColumn: "issued_date", DateIsTimestamp: false,
		Routing: TriggerBased,
	},
	"trend_history": {
		ParentName: "trend_history",
		Code:       "TH",
		Columns:    []string{"sensor_id", "issued_date", "trend_value", "trend_type"},
		DateColumn: "issued_date", DateIsTimestamp: false,
		Routing: RuleBased,
	},
	"energy_display": {
		ParentName: "energy_display",
		Code:       "ED",
		Columns:    []string{"sensor_id", "issued_date", "energy_value", "station_id"},
		DateColumn: "issued_date", DateIsTimestamp: true,
		Routing: RuleBased,
	},
	"running_time_history": {
		ParentName: "running_time_history",
		Code:       "RT",
		Columns:    []string{"device_id", "issued_date", "running_seconds", "state"},
		DateColumn: "issued_date", DateIsTimestamp: false,
		Routing: RuleBased,
	},
}

var byCode = func() map[string]Config {
	m := make(map[string]Config, len(registry))
	for _, c := range registry {
		m[c.Code] = c
	}
	return m
}()

// Lookup returns the Config for a parent table name. The registry is
// static and total for supported names; an unknown name is an error.
func Lookup(parentName string) (Config, error) {
	c, ok := registry[parentName]
	if !ok {
		return Config{}, fmt.Errorf("tabletypes: unknown parent table %q", parentName)
	}
	return c, nil
}

// LookupByCode returns the Config for a short code ("PH", "TH", "ED", "RT").
func LookupByCode(code string) (Config, error) {
	c, ok := byCode[strings.ToUpper(code)]
	if !ok {
		return Config{}, fmt.Errorf("tabletypes: unknown table type code %q", code)
	}
	return c, nil
}

// LookupByChildName consults the registry after stripping the child
// table's last underscore-delimited segment (the date suffix), e.g.
// "point_history_240115" -> "point_history".
func LookupByChildName(childName string) (Config, error) {
	idx := strings.LastIndex(childName, "_")
	if idx < 0 {
		return Config{}, fmt.Errorf("tabletypes: %q has no parent-name segment", childName)
	}
	return Lookup(childName[:idx])
}

// All returns every registered Config, sorted is not guaranteed; callers
// that need deterministic order should sort by Code themselves.
func All() []Config {
	out := make([]Config, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	return out
}
