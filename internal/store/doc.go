// Package store executes built statements against the relational backend.
//
// A DB is the process-wide handle created at startup: one connection pool per
// configured role, SQLite (mattn/go-sqlite3) or Postgres (pgx). Callers obtain
// an Executor per request; an executor normalises results into []Row and owns
// at most one transaction.
//
// # Transaction protocol
//
//   - Begin while a transaction is open fails with ProtocolError
//   - Commit or Rollback with no open transaction fails with ProtocolError
//   - Close (always deferred) rolls back a transaction left open
//   - WithTransaction commits on success and rolls back on error or panic
//
// # Errors
//
// Backend failures surface as QueryError carrying the backend message and the
// attempted parameters. QueryError.Client separates failures caused by the
// submitted data (constraint violations, data exceptions) from server faults.
package store
