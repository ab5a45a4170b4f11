// SPDX-License-Identifier: Apache-2.0

package tablecreator

import "fmt"

// The TRIGGER/RULE body text lives here as plain format-string data, not
// control flow; the creator is a straight-line function over this data.

const triggerFunctionTemplate = `
CREATE OR REPLACE FUNCTION %[1]s_route_insert() RETURNS trigger AS $$
DECLARE
	yymmdd text;
BEGIN
	yymmdd := to_char(to_timestamp(NEW.%[2]s / 1000), 'YYMMDD');
	EXECUTE format('INSERT INTO %%I VALUES ($1.*)', '%[1]s' || '_' || yymmdd) USING NEW;
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;
`

// EXECUTE PROCEDURE, not EXECUTE FUNCTION: the latter only parses on
// PG 11+, and the target may be running 9.3.
const triggerInstallTemplate = `
DROP TRIGGER IF EXISTS %[1]s_insert_trigger ON %[1]s;
CREATE TRIGGER %[1]s_insert_trigger
	BEFORE INSERT ON %[1]s
	FOR EACH ROW EXECUTE PROCEDURE %[1]s_route_insert();
`

func triggerFunctionSQL(parent, dateColumn string) string {
	return fmt.Sprintf(triggerFunctionTemplate, parent, dateColumn)
}

func triggerInstallSQL(parent string) string {
	return fmt.Sprintf(triggerInstallTemplate, parent)
}

const ruleTemplate = `
DROP RULE IF EXISTS rule_%[1]s ON %[2]s;
CREATE RULE rule_%[1]s AS ON INSERT TO %[2]s
	WHERE (%[3]s)
	DO INSTEAD INSERT INTO %[1]s (%[4]s) VALUES (%[5]s);
`

func ruleSQL(child, parent, whereClause, columns, newColumns string) string {
	return fmt.Sprintf(ruleTemplate, child, parent, whereClause, columns, newColumns)
}

// checkClause renders the CHECK constraint bound expression for a child
// partition. energy_display's bounds are timestamp literals; every other
// table type uses bigint (ms-since-epoch) literals.
func checkClause(dateColumn string, fromMs, toMs int64, asTimestamp bool) string {
	if asTimestamp {
		return fmt.Sprintf(
			"%[1]s >= %[2]s::timestamp without time zone AND %[1]s <= %[3]s::timestamp without time zone",
			dateColumn, timestampLiteral(fromMs), timestampLiteral(toMs),
		)
	}
	return fmt.Sprintf("%[1]s >= %[2]d AND %[1]s <= %[3]d", dateColumn, fromMs, toMs)
}

func timestampLiteral(ms int64) string {
	return fmt.Sprintf("'%s'", msToTimestampString(ms))
}
