package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// QueryError reports a statement the backend rejected. It carries the
// backend's message and the attempted parameters for diagnostics.
type QueryError struct {
	SQL    string
	Params []any

	// Client is true when the caller's data caused the failure (constraint
	// violation, type mismatch) rather than the backend or connection.
	Client bool

	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v (params %v)", e.Err, e.Params)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func newQueryError(query string, params []any, err error) *QueryError {
	return &QueryError{
		SQL:    query,
		Params: params,
		Client: isClientError(err),
		Err:    err,
	}
}

// isClientError classifies backend errors caused by the submitted data.
//
//   - SQLite: constraint, datatype mismatch, out of range, too big
//   - Postgres: SQLSTATE class 22 (data exception) and 23 (integrity
//     constraint violation)
func isClientError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint, sqlite3.ErrMismatch, sqlite3.ErrRange, sqlite3.ErrTooBig:
			return true
		}
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}

// ProtocolError reports misuse of the transaction protocol: nesting, or
// committing / rolling back with no open transaction.
type ProtocolError struct {
	Op      string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// IsQueryError returns true if err is or wraps a QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

// IsProtocolError returns true if err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
