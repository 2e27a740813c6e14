package schema

import (
	"fmt"
	"regexp"
	"slices"
	"time"
)

// Column names of the temporal validity window.
const (
	SinceColumn = "since"
	UntilColumn = "until"
)

// Forever is the until value of a row that has not been superseded.
var Forever = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// Kind distinguishes primary entity tables from attribute tables.
type Kind string

const (
	KindEntity    Kind = "entity"
	KindAttribute Kind = "attribute"
)

// ColumnType is the portable type of a column, rendered per dialect by DDL.
type ColumnType string

const (
	TypeID        ColumnType = "id" // generated integer primary key
	TypeInt       ColumnType = "int"
	TypeText      ColumnType = "text"
	TypeFloat     ColumnType = "float"
	TypeBool      ColumnType = "bool"
	TypeDate      ColumnType = "date"
	TypeTimestamp ColumnType = "timestamp"
)

var validTypes = []ColumnType{TypeID, TypeInt, TypeText, TypeFloat, TypeBool, TypeDate, TypeTimestamp}

// Column is one declared column of a table.
type Column struct {
	Name       string
	Type       ColumnType
	NotNull    bool
	References string // "table(column)" foreign key target, optional
}

// Table describes a relational table: the columns that may be filtered on and
// written, the columns reported back after writes, and the columns callers may
// never write.
type Table struct {
	Name      string
	Kind      Kind
	Columns   []Column
	Returning []string
	ReadOnly  []string

	// EntityKeys lists the entity-identifying columns of an attribute table.
	EntityKeys []string

	// Unique lists additional unique constraints emitted by DDL.
	Unique [][]string
}

var (
	identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	referenceRe  = regexp.MustCompile(`^[a-z_][a-z0-9_]*\([a-z_][a-z0-9_]*\)$`)
)

// IsIdentifier reports whether s can be interpolated into SQL as a table or
// column name.
func IsIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// IsReference reports whether s is a "table(column)" foreign key target.
func IsReference(s string) bool {
	return referenceRe.MatchString(s)
}

// Cols builds text columns from names. Handy for descriptors that are only
// used for query building.
func Cols(names ...string) []Column {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n, Type: TypeText}
	}
	return cols
}

// ColumnNames returns the declared column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the declared column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Allows reports whether name is a declared column.
func (t *Table) Allows(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// IsReadOnly reports whether name is a read-only column.
func (t *Table) IsReadOnly(name string) bool {
	return slices.Contains(t.ReadOnly, name)
}

// Temporal reports whether the table carries a validity window.
func (t *Table) Temporal() bool {
	return t.Allows(SinceColumn) && t.Allows(UntilColumn)
}

// Validate checks the descriptor invariants. It must pass before a
// descriptor reaches the query builder.
func (t *Table) Validate() error {
	if !IsIdentifier(t.Name) {
		return &DescriptorError{Table: t.Name, Message: "invalid table name"}
	}
	if len(t.Columns) == 0 {
		return &DescriptorError{Table: t.Name, Message: "no columns declared"}
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if !IsIdentifier(c.Name) {
			return &DescriptorError{Table: t.Name, Column: c.Name, Message: "invalid column name"}
		}
		if seen[c.Name] {
			return &DescriptorError{Table: t.Name, Column: c.Name, Message: "duplicate column"}
		}
		seen[c.Name] = true
		if c.Type != "" && !slices.Contains(validTypes, c.Type) {
			return &DescriptorError{Table: t.Name, Column: c.Name, Message: fmt.Sprintf("unknown type %q", c.Type)}
		}
		if c.References != "" && !IsReference(c.References) {
			return &DescriptorError{Table: t.Name, Column: c.Name, Message: fmt.Sprintf("invalid reference %q", c.References)}
		}
	}
	for _, name := range t.Returning {
		if !seen[name] {
			return &DescriptorError{Table: t.Name, Column: name, Message: "return column not declared"}
		}
	}
	for _, name := range t.ReadOnly {
		if !seen[name] {
			return &DescriptorError{Table: t.Name, Column: name, Message: "read-only column not declared"}
		}
	}
	for _, name := range t.EntityKeys {
		if !seen[name] {
			return &DescriptorError{Table: t.Name, Column: name, Message: "entity key not declared"}
		}
	}
	for _, group := range t.Unique {
		for _, name := range group {
			if !seen[name] {
				return &DescriptorError{Table: t.Name, Column: name, Message: "unique column not declared"}
			}
		}
	}
	if seen[SinceColumn] != seen[UntilColumn] {
		return &DescriptorError{Table: t.Name, Message: "since and until must be declared together"}
	}
	if t.Kind == KindAttribute && !t.Temporal() {
		return &DescriptorError{Table: t.Name, Message: "attribute table without validity window"}
	}
	return nil
}

// DescriptorError reports an invalid table descriptor.
type DescriptorError struct {
	Table   string
	Column  string
	Message string
}

func (e *DescriptorError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("table %s: column %s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("table %s: %s", e.Table, e.Message)
}
