package querysql

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/parlapi/internal/schema"
)

// Pseudo-filter keys handled by the builder itself rather than mapped to columns.
const (
	LimitKey    = "_limit"
	OffsetKey   = "_offset"
	DatetimeKey = "_datetime"
)

// Now is the _datetime value that resolves to the builder's clock.
const Now = "now"

// Params is a filter or data map: column name to value. A nil value is SQL NULL.
type Params map[string]any

// Builder turns a table descriptor plus caller maps into one parameterized
// Postgres-style statement ($1, $2, ...).
//
// Identifiers are only ever taken from the descriptor. Caller keys are matched
// against declared columns, so a key the table does not declare never reaches
// the SQL text. Values are always parameters, except NULL which is written as
// the literal null (insert/update) or tested with "is null" (where).
type Builder struct {
	// Now resolves the "now" value of _datetime.
	Now func() time.Time
}

// NewBuilder creates a Builder using the wall clock.
func NewBuilder() *Builder {
	return &Builder{Now: time.Now}
}

// statement accumulates SQL text and its parameters together so that a
// placeholder number always matches the position of its value.
type statement struct {
	sql    strings.Builder
	params []any
}

func (s *statement) write(parts ...string) {
	for _, p := range parts {
		s.sql.WriteString(p)
	}
}

// bind appends v to the parameter list and returns its placeholder.
func (s *statement) bind(v any) string {
	s.params = append(s.params, normalizeValue(v))
	return "$" + strconv.Itoa(len(s.params))
}

func (s *statement) result() (string, []any) {
	params := s.params
	if params == nil {
		params = []any{}
	}
	return s.sql.String(), params
}

// Select builds "select <projection> from <table> where true ..." with
// optional limit and offset. An empty projection selects every column.
func (b *Builder) Select(t *schema.Table, projection []string, filter Params) (string, []any, error) {
	proj := "*"
	if len(projection) > 0 {
		for _, col := range projection {
			if !t.Allows(col) {
				return "", nil, fmt.Errorf("select from %s: unknown projection column %q", t.Name, col)
			}
		}
		proj = strings.Join(projection, ", ")
	}

	var s statement
	s.write("select ", proj, " from ", t.Name)
	b.where(&s, t, filter)

	if v, ok := filter[LimitKey]; ok && v != nil {
		s.write(" limit ", s.bind(coerceInt(v)))
	}
	if v, ok := filter[OffsetKey]; ok && v != nil {
		s.write(" offset ", s.bind(coerceInt(v)))
	}

	sql, params := s.result()
	return sql, params, nil
}

// Insert builds "insert into <table> (...) values (...)". Writing a read-only
// column fails before any SQL is produced.
func (b *Builder) Insert(t *schema.Table, data Params) (string, []any, error) {
	if err := checkWritable(t, data); err != nil {
		return "", nil, err
	}

	var cols, vals []string
	var s statement
	for _, col := range t.Columns {
		v, ok := data[col.Name]
		if !ok {
			continue
		}
		cols = append(cols, col.Name)
		if v == nil {
			vals = append(vals, "null")
		} else {
			vals = append(vals, s.bind(columnValue(col, v)))
		}
	}

	if len(cols) == 0 {
		s.write("insert into ", t.Name, " default values")
	} else {
		s.write("insert into ", t.Name, " (", strings.Join(cols, ", "), ") values (", strings.Join(vals, ", "), ")")
	}
	returning(&s, t)

	sql, params := s.result()
	return sql, params, nil
}

// Update builds "update <table> set ... where true ...". The set clause comes
// from data, the where clause from filter.
func (b *Builder) Update(t *schema.Table, filter, data Params) (string, []any, error) {
	if err := checkWritable(t, data); err != nil {
		return "", nil, err
	}

	var s statement
	var sets []string
	for _, col := range t.Columns {
		v, ok := data[col.Name]
		if !ok {
			continue
		}
		if v == nil {
			sets = append(sets, col.Name+" = null")
		} else {
			sets = append(sets, col.Name+" = "+s.bind(columnValue(col, v)))
		}
	}
	if len(sets) == 0 {
		return "", nil, fmt.Errorf("update %s: %w", t.Name, ErrEmptyUpdate)
	}

	s.write("update ", t.Name, " set ", strings.Join(sets, ", "))
	b.where(&s, t, filter)
	returning(&s, t)

	sql, params := s.result()
	return sql, params, nil
}

// Delete builds "delete from <table> where true ...".
func (b *Builder) Delete(t *schema.Table, filter Params) (string, []any, error) {
	var s statement
	s.write("delete from ", t.Name)
	b.where(&s, t, filter)
	returning(&s, t)

	sql, params := s.result()
	return sql, params, nil
}

// where appends the shared where clause: one equality (or is null) per filter
// key that names a declared column, in declaration order, then the validity
// window test for _datetime on temporal tables.
func (b *Builder) where(s *statement, t *schema.Table, filter Params) {
	s.write(" where true")
	for _, col := range t.Columns {
		v, ok := filter[col.Name]
		if !ok {
			continue
		}
		if v == nil {
			s.write(" and ", col.Name, " is null")
		} else {
			s.write(" and ", col.Name, " = ", s.bind(columnValue(col, v)))
		}
	}

	at, ok := filter[DatetimeKey]
	if !ok || at == nil || !t.Temporal() {
		return
	}
	p := s.bind(b.instant(at))
	s.write(" and ", schema.SinceColumn, " <= ", p, " and ", schema.UntilColumn, " > ", p)
}

func returning(s *statement, t *schema.Table) {
	if len(t.Returning) > 0 {
		s.write(" returning ", strings.Join(t.Returning, ", "))
	}
}

// checkWritable rejects data that names a read-only column. The descriptor's
// read-only list is walked in order so the reported column is deterministic.
func checkWritable(t *schema.Table, data Params) error {
	for _, col := range t.ReadOnly {
		if _, ok := data[col]; ok {
			return &DataIntegrityError{Table: t.Name, Column: col}
		}
	}
	return nil
}

// timestampLayouts are tried in order when _datetime arrives as text.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// instant resolves a _datetime value. Text that is neither "now" nor a known
// layout is passed through for the backend to interpret.
func (b *Builder) instant(v any) any {
	switch at := v.(type) {
	case time.Time:
		return at
	case string:
		if strings.EqualFold(at, Now) {
			now := time.Now
			if b.Now != nil {
				now = b.Now
			}
			return now()
		}
		if ts, ok := parseTimestamp(at); ok {
			return ts
		}
	}
	return v
}

// columnValue parses timestamp text bound to a timestamp column, so that a
// value stored from text compares equal to the same instant stored as a
// time.Time.
func columnValue(col schema.Column, v any) any {
	if col.Type != schema.TypeTimestamp {
		return v
	}
	if text, ok := v.(string); ok {
		if ts, ok := parseTimestamp(text); ok {
			return ts
		}
	}
	return v
}

func parseTimestamp(text string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// coerceInt turns numeric text (typical of query strings) into an int64 so
// that limit and offset bind as integers on every backend.
func coerceInt(v any) any {
	if s, ok := v.(string); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n
		}
	}
	return v
}

func normalizeValue(v any) any {
	if ts, ok := v.(time.Time); ok {
		return ts.UTC()
	}
	return v
}
