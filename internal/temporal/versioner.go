// Package temporal maintains attribute histories with compare-close-insert.
//
// A fact is one (entity key, name, lang) value observed from an effective
// instant on. Applying a fact never rewrites a recorded value: the row valid
// at the effective instant is closed (its until set to that instant) and a new
// row is inserted, or nothing happens when the value did not change.
package temporal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/parlapi/internal/querysql"
	"github.com/roach88/parlapi/internal/schema"
	"github.com/roach88/parlapi/internal/store"
	"github.com/roach88/parlapi/internal/table"
)

// Fact is one observed attribute value.
type Fact struct {
	Entity querysql.Params
	Name   string
	Lang   string
	// Value is the new value; nil retires the fact.
	Value any
	// Effective is the instant the value holds from; zero means now.
	Effective time.Time
}

func (f Fact) key() table.FactKey {
	return table.FactKey{Entity: f.Entity, Name: f.Name, Lang: f.Lang}
}

// Outcome reports what Apply did.
type Outcome int

const (
	// Unchanged: the valid row already holds the value.
	Unchanged Outcome = iota
	// Inserted: no row was valid; a new one was inserted.
	Inserted
	// Superseded: the valid row was closed and a new one inserted.
	Superseded
	// Retired: the valid row was closed; nothing was inserted.
	Retired
	// Absent: retiring a fact that had no valid row.
	Absent
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Inserted:
		return "inserted"
	case Superseded:
		return "superseded"
	case Retired:
		return "retired"
	case Absent:
		return "absent"
	default:
		return "outcome(" + strconv.Itoa(int(o)) + ")"
	}
}

// Changed reports whether the outcome wrote anything.
func (o Outcome) Changed() bool {
	return o == Inserted || o == Superseded || o == Retired
}

// Option configures a Versioner.
type Option func(*Versioner)

// WithClock sets the clock used for facts without an effective instant.
func WithClock(now func() time.Time) Option {
	return func(v *Versioner) { v.now = now }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(v *Versioner) { v.log = log }
}

// WithRole runs the versioner's transactions as a database role.
func WithRole(role string) Option {
	return func(v *Versioner) { v.role = role }
}

// Versioner applies facts to one attribute table.
type Versioner struct {
	db    *store.DB
	attrs *table.Attribute
	role  string
	now   func() time.Time
	log   zerolog.Logger
	ex    *store.Executor
}

// New creates a Versioner over attrs.
func New(db *store.DB, attrs *table.Attribute, opts ...Option) *Versioner {
	v := &Versioner{
		db:    db,
		attrs: attrs,
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Table returns the attribute table descriptor.
func (v *Versioner) Table() *schema.Table {
	return v.attrs.Table()
}

// On returns a copy of v whose statements run on ex, joining its transaction
// if one is open.
func (v *Versioner) On(ex *store.Executor) *Versioner {
	bound := *v
	bound.ex = ex
	return &bound
}

// Apply records f. The read, the close and the insert run in one transaction.
func (v *Versioner) Apply(ctx context.Context, f Fact) (Outcome, error) {
	var out Outcome
	fn := func(ex *store.Executor) error {
		var err error
		out, err = v.apply(ctx, v.attrs.On(ex), f)
		return err
	}

	var err error
	switch {
	case v.ex != nil && v.ex.InTransaction():
		err = fn(v.ex)
	case v.ex != nil:
		err = store.WithTransaction(ctx, v.ex, fn)
	default:
		var ex *store.Executor
		ex, err = v.db.Executor(v.role)
		if err != nil {
			return 0, err
		}
		defer ex.Close()
		err = store.WithTransaction(ctx, ex, fn)
	}
	if err != nil {
		return 0, fmt.Errorf("apply %s of %s: %w", f.Name, v.attrs.Table().Name, err)
	}
	return out, nil
}

func (v *Versioner) apply(ctx context.Context, attrs *table.Attribute, f Fact) (Outcome, error) {
	at := f.Effective
	if at.IsZero() {
		at = v.now()
	}
	at = at.UTC()

	history, err := attrs.History(ctx, f.key())
	if err != nil {
		return 0, err
	}
	current, next, err := locate(attrs.Table().Name, f.key(), history, at)
	if err != nil {
		return 0, err
	}

	var out Outcome
	switch {
	case f.Value == nil && current == nil:
		out = Absent
	case f.Value == nil:
		out = Retired
	case current == nil:
		out = Inserted
	case sameValue(current[schema.ValueColumn], f.Value):
		out = Unchanged
	default:
		out = Superseded
	}

	if current != nil && (out == Retired || out == Superseded) {
		if err := closeRow(ctx, attrs, current, at); err != nil {
			return 0, err
		}
	}
	if out == Inserted || out == Superseded {
		until := schema.Forever
		if current != nil {
			// The new value inherits the end of the row it replaces, so a
			// later retirement stays in place.
			if end, ok := current[schema.UntilColumn].(time.Time); ok {
				until = end
			}
		}
		if next != nil {
			// A later row already exists: the new value holds until it starts.
			if since := next[schema.SinceColumn].(time.Time); since.Before(until) {
				until = since
			}
		}
		row := querysql.Params{
			schema.NameColumn:  f.Name,
			schema.ValueColumn: valueText(f.Value),
			schema.LangColumn:  nullable(f.Lang),
			schema.SinceColumn: at,
			schema.UntilColumn: until,
		}
		for _, col := range attrs.Table().EntityKeys {
			row[col] = f.Entity[col]
		}
		if _, err := attrs.Create(ctx, row); err != nil {
			return 0, err
		}
	}

	v.log.Debug().
		Str("table", attrs.Table().Name).
		Str("name", f.Name).
		Str("lang", f.Lang).
		Time("effective", at).
		Stringer("outcome", out).
		Msg("fact applied")
	return out, nil
}

// locate finds the row valid at at and the first row starting after it.
func locate(tableName string, key table.FactKey, history []store.Row, at time.Time) (current, next store.Row, err error) {
	valid := 0
	for _, row := range history {
		since, _ := row[schema.SinceColumn].(time.Time)
		until, _ := row[schema.UntilColumn].(time.Time)
		if !since.After(at) && until.After(at) {
			current = row
			valid++
		}
		if since.After(at) && (next == nil || since.Before(next[schema.SinceColumn].(time.Time))) {
			next = row
		}
	}
	if valid > 1 {
		return nil, nil, &table.OverlapError{Table: tableName, Key: key, At: at, Rows: valid}
	}
	return current, next, nil
}

// closeRow sets the until of row to at. The row is addressed by its natural
// key, so only that row is touched.
func closeRow(ctx context.Context, attrs *table.Attribute, row store.Row, at time.Time) error {
	filter := querysql.Params{
		schema.SinceColumn: row[schema.SinceColumn],
		schema.UntilColumn: row[schema.UntilColumn],
	}
	for _, col := range attrs.Table().Returning {
		if _, ok := filter[col]; !ok {
			filter[col] = row[col]
		}
	}
	_, err := attrs.Update(ctx, filter, querysql.Params{schema.UntilColumn: at})
	return err
}

func sameValue(stored, v any) bool {
	s, ok := stored.(string)
	if !ok {
		return stored == nil && v == nil
	}
	return norm.NFC.String(s) == valueText(v)
}

// valueText renders v the way it is stored in the text value column.
func valueText(v any) string {
	switch x := v.(type) {
	case string:
		return norm.NFC.String(x)
	case []byte:
		return norm.NFC.String(string(x))
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return norm.NFC.String(x.String())
	default:
		return fmt.Sprint(x)
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
