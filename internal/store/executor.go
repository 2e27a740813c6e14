package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Executor runs built statements for one caller. It owns at most one open
// transaction and is not safe for concurrent use; create one per request.
//
// Always defer Close: an executor closed inside an open transaction rolls it
// back, so an error or panic part-way through a batch never leaves partial
// writes behind.
type Executor struct {
	db   *DB
	pool *sql.DB
	role string
	tx   *sql.Tx
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (e *Executor) querier() querier {
	if e.tx != nil {
		return e.tx
	}
	return e.pool
}

// Role returns the database role the executor runs as.
func (e *Executor) Role() string {
	return e.role
}

// InTransaction reports whether a transaction is open.
func (e *Executor) InTransaction() bool {
	return e.tx != nil
}

// Execute runs query and returns its rows in backend order. Empty query text
// returns no rows without contacting the backend. The result is never nil.
func (e *Executor) Execute(ctx context.Context, query string, params []any) ([]Row, error) {
	if strings.TrimSpace(query) == "" {
		return []Row{}, nil
	}

	start := time.Now()
	rows, err := e.querier().QueryContext(ctx, query, params...)
	if err != nil {
		return nil, e.fail(query, params, start, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, e.fail(query, params, start, err)
	}
	e.db.metrics.observe(statementKind(query), time.Since(start), nil)
	e.db.log.Debug().Str("sql", query).Int("rows", len(out)).Msg("statement executed")
	return out, nil
}

// Exec runs a statement that returns no rows and reports the number of rows
// it affected.
func (e *Executor) Exec(ctx context.Context, query string, params []any) (int64, error) {
	if strings.TrimSpace(query) == "" {
		return 0, nil
	}

	start := time.Now()
	res, err := e.querier().ExecContext(ctx, query, params...)
	if err != nil {
		return 0, e.fail(query, params, start, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, e.fail(query, params, start, err)
	}
	e.db.metrics.observe(statementKind(query), time.Since(start), nil)
	e.db.log.Debug().Str("sql", query).Int64("affected", n).Msg("statement executed")
	return n, nil
}

func (e *Executor) fail(query string, params []any, start time.Time, err error) error {
	qerr := newQueryError(query, params, err)
	e.db.metrics.observe(statementKind(query), time.Since(start), qerr)
	return qerr
}

// Begin opens a transaction. Transactions cannot be nested.
func (e *Executor) Begin(ctx context.Context) error {
	if e.tx != nil {
		return &ProtocolError{Op: "begin", Message: "transactions cannot be nested"}
	}
	tx, err := e.pool.BeginTx(ctx, nil)
	if err != nil {
		return newQueryError("begin", nil, err)
	}
	e.tx = tx
	return nil
}

// Commit commits the open transaction.
func (e *Executor) Commit() error {
	if e.tx == nil {
		return &ProtocolError{Op: "commit", Message: "no transaction in progress"}
	}
	tx := e.tx
	e.tx = nil
	if err := tx.Commit(); err != nil {
		return newQueryError("commit", nil, err)
	}
	return nil
}

// Rollback aborts the open transaction.
func (e *Executor) Rollback() error {
	if e.tx == nil {
		return &ProtocolError{Op: "rollback", Message: "no transaction in progress"}
	}
	tx := e.tx
	e.tx = nil
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return newQueryError("rollback", nil, err)
	}
	return nil
}

// Close releases the executor, rolling back a transaction left open.
// It is safe to call more than once.
func (e *Executor) Close() error {
	if e.tx == nil {
		return nil
	}
	e.db.log.Warn().Str("role", e.role).Msg("rolling back unfinished transaction")
	if err := e.Rollback(); err != nil {
		e.db.log.Warn().Err(err).Msg("transaction rollback failed")
		return err
	}
	return nil
}

// WithTransaction runs fn inside a transaction on ex and commits if fn
// succeeds. The transaction is rolled back if fn returns an error or panics;
// the panic is propagated after the rollback.
func WithTransaction(ctx context.Context, ex *Executor, fn func(*Executor) error) (err error) {
	if err := ex.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			if ex.InTransaction() {
				_ = ex.Rollback()
			}
			panic(p)
		}
		if err != nil && ex.InTransaction() {
			if rbErr := ex.Rollback(); rbErr != nil {
				ex.db.log.Warn().Err(rbErr).Msg("transaction rollback failed")
			}
		}
	}()

	if err = fn(ex); err != nil {
		return err
	}
	return ex.Commit()
}

// scanRows reads every row into a Row. Byte slices are copied into strings
// since drivers reuse their buffers.
func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// statementKind is the lower-cased leading keyword, used as a metric label.
func statementKind(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "unknown"
	}
	switch kind := strings.ToLower(fields[0]); kind {
	case "select", "insert", "update", "delete", "begin", "commit", "rollback":
		return kind
	default:
		return "other"
	}
}
