package table

import (
	"context"
	"fmt"

	"github.com/roach88/parlapi/internal/querysql"
	"github.com/roach88/parlapi/internal/schema"
	"github.com/roach88/parlapi/internal/store"
)

// Result is the outcome of a write. When the table declares return columns,
// Keys holds one entry per affected row in statement order: the value of the
// single return column, or a store.Row of all return columns when there are
// several. Count is the number of affected rows either way.
type Result struct {
	Keys  []any `json:"keys,omitempty"`
	Count int64 `json:"count"`
}

// Option configures an Entity.
type Option func(*Entity)

// WithRole runs the entity's statements as a database role.
func WithRole(role string) Option {
	return func(e *Entity) { e.role = role }
}

// WithBuilder replaces the default query builder (for a fixed clock in tests).
func WithBuilder(b *querysql.Builder) Option {
	return func(e *Entity) { e.builder = b }
}

// Entity is the CRUD façade over one table. Each call runs on its own
// executor, so an Entity may be shared between goroutines; an Entity bound to
// an executor with On may not.
type Entity struct {
	db      *store.DB
	table   *schema.Table
	role    string
	builder *querysql.Builder
	ex      *store.Executor
}

// NewEntity validates t and creates its façade.
func NewEntity(db *store.DB, t *schema.Table, opts ...Option) (*Entity, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	e := &Entity{db: db, table: t, builder: querysql.NewBuilder()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Table returns the descriptor.
func (e *Entity) Table() *schema.Table {
	return e.table
}

// On returns a copy of e whose statements run on ex, joining its transaction
// if one is open.
func (e *Entity) On(ex *store.Executor) *Entity {
	bound := *e
	bound.ex = ex
	return &bound
}

func (e *Entity) run(fn func(*store.Executor) error) error {
	if e.ex != nil {
		return fn(e.ex)
	}
	ex, err := e.db.Executor(e.role)
	if err != nil {
		return err
	}
	defer ex.Close()
	return fn(ex)
}

// Read returns every row matching filter; an empty slice if none.
func (e *Entity) Read(ctx context.Context, filter querysql.Params) ([]store.Row, error) {
	query, params, err := e.builder.Select(e.table, nil, filter)
	if err != nil {
		return nil, err
	}
	var rows []store.Row
	err = e.run(func(ex *store.Executor) error {
		rows, err = ex.Execute(ctx, query, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", e.table.Name, err)
	}
	return rows, nil
}

// Create inserts rows in order inside one transaction. Either every row is
// inserted or, on the first failure, none is.
func (e *Entity) Create(ctx context.Context, rows ...querysql.Params) (Result, error) {
	res := Result{}
	insertAll := func(ex *store.Executor) error {
		for i, data := range rows {
			query, params, err := e.builder.Insert(e.table, data)
			if err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
			if err := e.write(ctx, ex, query, params, &res); err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
		}
		return nil
	}

	err := e.run(func(ex *store.Executor) error {
		if ex.InTransaction() {
			return insertAll(ex)
		}
		return store.WithTransaction(ctx, ex, insertAll)
	})
	if err != nil {
		return Result{}, fmt.Errorf("create %s: %w", e.table.Name, err)
	}
	return res, nil
}

// Update changes the rows matching filter with one statement.
func (e *Entity) Update(ctx context.Context, filter, data querysql.Params) (Result, error) {
	query, params, err := e.builder.Update(e.table, filter, data)
	if err != nil {
		return Result{}, fmt.Errorf("update %s: %w", e.table.Name, err)
	}
	res := Result{}
	err = e.run(func(ex *store.Executor) error {
		return e.write(ctx, ex, query, params, &res)
	})
	if err != nil {
		return Result{}, fmt.Errorf("update %s: %w", e.table.Name, err)
	}
	return res, nil
}

// Delete removes the rows matching filter with one statement.
func (e *Entity) Delete(ctx context.Context, filter querysql.Params) (Result, error) {
	query, params, err := e.builder.Delete(e.table, filter)
	if err != nil {
		return Result{}, fmt.Errorf("delete %s: %w", e.table.Name, err)
	}
	res := Result{}
	err = e.run(func(ex *store.Executor) error {
		return e.write(ctx, ex, query, params, &res)
	})
	if err != nil {
		return Result{}, fmt.Errorf("delete %s: %w", e.table.Name, err)
	}
	return res, nil
}

// write runs one write statement and folds its outcome into res.
func (e *Entity) write(ctx context.Context, ex *store.Executor, query string, params []any, res *Result) error {
	if len(e.table.Returning) == 0 {
		n, err := ex.Exec(ctx, query, params)
		if err != nil {
			return err
		}
		res.Count += n
		return nil
	}

	rows, err := ex.Execute(ctx, query, params)
	if err != nil {
		return err
	}
	for _, row := range rows {
		res.Keys = append(res.Keys, e.key(row))
	}
	res.Count += int64(len(rows))
	return nil
}

func (e *Entity) key(row store.Row) any {
	if len(e.table.Returning) == 1 {
		return row[e.table.Returning[0]]
	}
	key := make(store.Row, len(e.table.Returning))
	for _, col := range e.table.Returning {
		key[col] = row[col]
	}
	return key
}
