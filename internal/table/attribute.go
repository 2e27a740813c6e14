package table

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/parlapi/internal/querysql"
	"github.com/roach88/parlapi/internal/schema"
	"github.com/roach88/parlapi/internal/store"
)

// Attribute is the CRUD façade over an attribute table plus reads of one
// fact's history. It does not version values itself; see package temporal.
type Attribute struct {
	*Entity
}

// NewAttribute creates the façade for an attribute table descriptor.
func NewAttribute(db *store.DB, t *schema.Table, opts ...Option) (*Attribute, error) {
	if t.Kind != schema.KindAttribute {
		return nil, fmt.Errorf("table %s is not an attribute table", t.Name)
	}
	e, err := NewEntity(db, t, opts...)
	if err != nil {
		return nil, err
	}
	return &Attribute{Entity: e}, nil
}

// On returns a copy of a whose statements run on ex.
func (a *Attribute) On(ex *store.Executor) *Attribute {
	return &Attribute{Entity: a.Entity.On(ex)}
}

// FactKey identifies one fact: the entity it belongs to, the attribute name
// and the language. An empty Lang is a language-independent fact (NULL).
type FactKey struct {
	Entity querysql.Params
	Name   string
	Lang   string
}

// Filter returns the filter selecting every row of the fact. Entity keys
// missing from k.Entity are rejected so a fact can never match rows of other
// entities.
func (a *Attribute) Filter(k FactKey) (querysql.Params, error) {
	filter := querysql.Params{schema.NameColumn: k.Name}
	for _, col := range a.table.EntityKeys {
		v, ok := k.Entity[col]
		if !ok || v == nil {
			return nil, fmt.Errorf("fact %s of %s: missing entity key %s", k.Name, a.table.Name, col)
		}
		filter[col] = v
	}
	if k.Lang == "" {
		filter[schema.LangColumn] = nil
	} else {
		filter[schema.LangColumn] = k.Lang
	}
	return filter, nil
}

// Current returns the row of the fact valid at at, if any. More than one
// valid row means the history has overlapping windows and is reported as an
// OverlapError.
func (a *Attribute) Current(ctx context.Context, k FactKey, at time.Time) (store.Row, bool, error) {
	filter, err := a.Filter(k)
	if err != nil {
		return nil, false, err
	}
	filter[querysql.DatetimeKey] = at

	rows, err := a.Read(ctx, filter)
	if err != nil {
		return nil, false, err
	}
	switch len(rows) {
	case 0:
		return nil, false, nil
	case 1:
		return rows[0], true, nil
	default:
		return nil, false, &OverlapError{Table: a.table.Name, Key: k, At: at, Rows: len(rows)}
	}
}

// History returns every row of the fact ordered by since.
func (a *Attribute) History(ctx context.Context, k FactKey) ([]store.Row, error) {
	filter, err := a.Filter(k)
	if err != nil {
		return nil, err
	}
	rows, err := a.Read(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ti, _ := rows[i][schema.SinceColumn].(time.Time)
		tj, _ := rows[j][schema.SinceColumn].(time.Time)
		return ti.Before(tj)
	})
	return rows, nil
}

// OverlapError reports several rows of one fact valid at the same instant.
type OverlapError struct {
	Table string
	Key   FactKey
	At    time.Time
	Rows  int
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s: %d rows of %q (lang %q) valid at %s",
		e.Table, e.Rows, e.Key.Name, e.Key.Lang, e.At.UTC().Format(time.RFC3339))
}
