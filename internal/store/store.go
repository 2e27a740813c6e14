package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/rs/zerolog"

	"github.com/roach88/parlapi/internal/schema"
)

// Config describes the backend connection.
type Config struct {
	// Driver is "sqlite3" (default) or "pgx".
	Driver string

	// DSN is the data source of the default role.
	DSN string

	// Roles maps a role name to its own data source. Executors created for a
	// role run every statement on that role's pool.
	Roles map[string]string

	// Metrics is optional.
	Metrics *Metrics

	// Logger is optional; nil disables store logging.
	Logger *zerolog.Logger
}

// DB owns the connection pools shared by all executors. It is created once at
// startup and passed down; it is safe for concurrent use.
type DB struct {
	dialect schema.Dialect
	pools   map[string]*sql.DB
	metrics *Metrics
	log     zerolog.Logger
}

// DefaultRole names the pool opened from Config.DSN.
const DefaultRole = ""

// Open connects every configured role and verifies the connections.
//
// SQLite pools are configured with:
//   - a single connection (SQLite supports one writer at a time)
//   - WAL mode and NORMAL synchronous
//   - a 5-second busy timeout
//   - foreign key enforcement
func Open(cfg Config) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = string(schema.DialectSQLite)
	}
	if driver != string(schema.DialectSQLite) && driver != string(schema.DialectPostgres) {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "store").Logger()
	}

	d := &DB{
		dialect: schema.Dialect(driver),
		pools:   make(map[string]*sql.DB, len(cfg.Roles)+1),
		metrics: cfg.Metrics,
		log:     log,
	}

	dsns := map[string]string{DefaultRole: cfg.DSN}
	for role, dsn := range cfg.Roles {
		if role == DefaultRole {
			return nil, fmt.Errorf("role name must not be empty")
		}
		dsns[role] = dsn
	}

	roles := make([]string, 0, len(dsns))
	for role := range dsns {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	for _, role := range roles {
		pool, err := openPool(driver, dsns[role])
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("open role %q: %w", role, err)
		}
		d.pools[role] = pool
	}
	return d, nil
}

func openPool(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == string(schema.DialectSQLite) {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}
	return db, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Dialect reports the SQL flavour of the backend.
func (d *DB) Dialect() schema.Dialect {
	return d.dialect
}

// Pool returns the pool of a role for direct queries.
// Use with caution - prefer executors.
func (d *DB) Pool(role string) (*sql.DB, bool) {
	pool, ok := d.pools[role]
	return pool, ok
}

// Executor creates an executor running on the pool of role.
func (d *DB) Executor(role string) (*Executor, error) {
	pool, ok := d.pools[role]
	if !ok {
		return nil, fmt.Errorf("unknown database role %q", role)
	}
	return &Executor{db: d, pool: pool, role: role}, nil
}

// Migrate creates the given tables (and their lookup indexes) if they do not
// exist yet. It is idempotent.
func (d *DB) Migrate(ctx context.Context, tables []*schema.Table) error {
	pool := d.pools[DefaultRole]
	for _, t := range tables {
		ddl, err := t.CreateSQL(d.dialect)
		if err != nil {
			return err
		}
		if _, err := pool.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
		if idx := t.IndexSQL(); idx != "" {
			if _, err := pool.ExecContext(ctx, idx); err != nil {
				return fmt.Errorf("create index on %s: %w", t.Name, err)
			}
		}
		d.log.Debug().Str("table", t.Name).Msg("table ready")
	}
	return nil
}

// Close closes every pool.
func (d *DB) Close() error {
	var firstErr error
	for role, pool := range d.pools {
		if err := pool.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close role %q: %w", role, err)
		}
	}
	return firstErr
}
