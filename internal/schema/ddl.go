package schema

import (
	"fmt"
	"strings"
)

// Dialect selects the SQL flavour used when rendering DDL. The values match
// the database/sql driver names registered by the store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

var columnTypes = map[Dialect]map[ColumnType]string{
	DialectSQLite: {
		TypeID:        "integer primary key autoincrement",
		TypeInt:       "integer",
		TypeText:      "text",
		TypeFloat:     "real",
		TypeBool:      "boolean",
		TypeDate:      "date",
		TypeTimestamp: "timestamp",
	},
	DialectPostgres: {
		TypeID:        "bigint generated by default as identity primary key",
		TypeInt:       "bigint",
		TypeText:      "text",
		TypeFloat:     "double precision",
		TypeBool:      "boolean",
		TypeDate:      "date",
		TypeTimestamp: "timestamptz",
	},
}

// CreateSQL renders an idempotent create table statement for t.
func (t *Table) CreateSQL(d Dialect) (string, error) {
	types, ok := columnTypes[d]
	if !ok {
		return "", fmt.Errorf("unsupported dialect %q", d)
	}
	if err := t.Validate(); err != nil {
		return "", err
	}

	defs := make([]string, 0, len(t.Columns)+len(t.Unique))
	for _, c := range t.Columns {
		typ := c.Type
		if typ == "" {
			typ = TypeText
		}
		def := c.Name + " " + types[typ]
		if c.NotNull && typ != TypeID {
			def += " not null"
		}
		if c.References != "" {
			def += " references " + c.References
		}
		defs = append(defs, def)
	}
	for _, group := range t.Unique {
		defs = append(defs, "unique ("+strings.Join(group, ", ")+")")
	}

	return fmt.Sprintf("create table if not exists %s (\n\t%s\n)", t.Name, strings.Join(defs, ",\n\t")), nil
}

// IndexSQL renders the lookup index every attribute table needs for its
// current-value reads. Entity tables have none.
func (t *Table) IndexSQL() string {
	if t.Kind != KindAttribute {
		return ""
	}
	cols := append(append([]string{}, t.EntityKeys...), NameColumn, SinceColumn)
	return fmt.Sprintf("create index if not exists %s_lookup on %s (%s)", t.Name, t.Name, strings.Join(cols, ", "))
}
