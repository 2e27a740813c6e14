package resource

import (
	"context"
	"fmt"

	"github.com/roach88/parlapi/internal/querysql"
	"github.com/roach88/parlapi/internal/schema"
	"github.com/roach88/parlapi/internal/store"
	"github.com/roach88/parlapi/internal/table"
	"github.com/roach88/parlapi/internal/temporal"
)

// Table is a resource forwarding to a table façade. Attribute resources also
// carry a versioner for compare-close-insert updates.
type Table struct {
	name      string
	entity    *table.Entity
	versioner *temporal.Versioner
	ops       map[Op]bool
}

// NewTable exposes e as name. With no ops every operation is offered.
func NewTable(name string, e *table.Entity, ops ...Op) *Table {
	if len(ops) == 0 {
		ops = AllOps
	}
	allowed := make(map[Op]bool, len(ops))
	for _, op := range ops {
		allowed[op] = true
	}
	return &Table{name: name, entity: e, ops: allowed}
}

// NewAttribute exposes an attribute table as name with its versioner.
func NewAttribute(name string, a *table.Attribute, v *temporal.Versioner, ops ...Op) *Table {
	t := NewTable(name, a.Entity, ops...)
	t.versioner = v
	return t
}

// Name returns the resource name.
func (t *Table) Name() string { return t.name }

// Entity returns the underlying façade.
func (t *Table) Entity() *table.Entity { return t.entity }

// Table returns the table descriptor.
func (t *Table) Table() *schema.Table { return t.entity.Table() }

// Ops returns the offered operations in canonical order.
func (t *Table) Ops() []Op {
	ops := make([]Op, 0, len(t.ops))
	for _, op := range AllOps {
		if t.ops[op] {
			ops = append(ops, op)
		}
	}
	return ops
}

func (t *Table) check(op Op) error {
	if !t.ops[op] {
		return fmt.Errorf("%s %s: %w", op, t.name, ErrUnsupported)
	}
	return nil
}

func (t *Table) Read(ctx context.Context, filter querysql.Params) ([]store.Row, error) {
	if err := t.check(OpRead); err != nil {
		return nil, err
	}
	return t.entity.Read(ctx, NormalizeFor(t.Table(), filter))
}

func (t *Table) Create(ctx context.Context, rows ...querysql.Params) (table.Result, error) {
	if err := t.check(OpCreate); err != nil {
		return table.Result{}, err
	}
	normalized := make([]querysql.Params, len(rows))
	for i, row := range rows {
		normalized[i] = NormalizeFor(t.Table(), row)
	}
	return t.entity.Create(ctx, normalized...)
}

func (t *Table) Update(ctx context.Context, filter, data querysql.Params) (table.Result, error) {
	if err := t.check(OpUpdate); err != nil {
		return table.Result{}, err
	}
	return t.entity.Update(ctx, NormalizeFor(t.Table(), filter), NormalizeFor(t.Table(), data))
}

func (t *Table) Delete(ctx context.Context, filter querysql.Params) (table.Result, error) {
	if err := t.check(OpDelete); err != nil {
		return table.Result{}, err
	}
	return t.entity.Delete(ctx, NormalizeFor(t.Table(), filter))
}

// Apply records an attribute fact. It needs the update permission, and fails
// with ErrUnsupported on entity resources.
func (t *Table) Apply(ctx context.Context, f temporal.Fact) (temporal.Outcome, error) {
	if t.versioner == nil {
		return 0, fmt.Errorf("apply %s: %w", t.name, ErrUnsupported)
	}
	if err := t.check(OpUpdate); err != nil {
		return 0, err
	}
	return t.versioner.Apply(ctx, f)
}

// On returns a copy of t running on ex.
func (t *Table) On(ex *store.Executor) Resource {
	bound := *t
	bound.entity = t.entity.On(ex)
	if t.versioner != nil {
		bound.versioner = t.versioner.On(ex)
	}
	return &bound
}
