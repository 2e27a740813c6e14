package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parlapi/internal/schema"
)

// createTestDB opens a fresh SQLite database with a small "area" table.
func createTestDB(t *testing.T, metrics *Metrics) *DB {
	t.Helper()
	db, err := Open(Config{
		DSN:     filepath.Join(t.TempDir(), "test.db"),
		Metrics: metrics,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	area := &schema.Table{
		Name: "area",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeID},
			{Name: "name", Type: schema.TypeText, NotNull: true},
		},
		Unique: [][]string{{"name"}},
	}
	require.NoError(t, db.Migrate(context.Background(), []*schema.Table{area}))
	return db
}

func newTestExecutor(t *testing.T, db *DB) *Executor {
	t.Helper()
	ex, err := db.Executor(DefaultRole)
	require.NoError(t, err)
	t.Cleanup(func() { ex.Close() })
	return ex
}

func countAreas(t *testing.T, db *DB) int64 {
	t.Helper()
	ex := newTestExecutor(t, db)
	rows, err := ex.Execute(context.Background(), "select count(*) as n from area", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]["n"].(int64)
}

func TestOpen_AppliesPragmas(t *testing.T) {
	db := createTestDB(t, nil)
	pool, ok := db.Pool(DefaultRole)
	require.True(t, ok)

	var mode string
	require.NoError(t, pool.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, pool.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	assert.Equal(t, schema.DialectSQLite, db.Dialect())
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestOpen_Roles(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(Config{
		DSN:   filepath.Join(dir, "main.db"),
		Roles: map[string]string{"readonly": filepath.Join(dir, "main.db")},
	})
	require.NoError(t, err)
	defer db.Close()

	ex, err := db.Executor("readonly")
	require.NoError(t, err)
	assert.Equal(t, "readonly", ex.Role())

	_, err = db.Executor("admin")
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := createTestDB(t, nil)
	attr := schema.AttributeTable("area_attribute", schema.Column{Name: "area_id", References: "area(id)"})

	for i := 0; i < 2; i++ {
		require.NoError(t, db.Migrate(context.Background(), []*schema.Table{attr}))
	}
}

func TestExecute_EmptyQuery(t *testing.T) {
	db := createTestDB(t, nil)
	ex := newTestExecutor(t, db)
	require.NoError(t, db.Close())

	// The pool is closed; an empty statement must not reach it.
	rows, err := ex.Execute(context.Background(), "   ", []any{1})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	n, err := ex.Exec(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExecute_RowsAsMaps(t *testing.T) {
	db := createTestDB(t, nil)
	ex := newTestExecutor(t, db)
	ctx := context.Background()

	rows, err := ex.Execute(ctx, "insert into area (name) values ($1) returning id, name", []any{"Praha"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "Praha", rows[0]["name"])

	rows, err = ex.Execute(ctx, "select * from area where true and name = $1", []any{"Brno"})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestExec_RowsAffected(t *testing.T) {
	db := createTestDB(t, nil)
	ex := newTestExecutor(t, db)
	ctx := context.Background()

	for _, name := range []string{"Praha", "Brno", "Ostrava"} {
		_, err := ex.Exec(ctx, "insert into area (name) values ($1)", []any{name})
		require.NoError(t, err)
	}

	n, err := ex.Exec(ctx, "delete from area where true and name <> $1", []any{"Brno"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestExecute_QueryError(t *testing.T) {
	db := createTestDB(t, nil)
	ex := newTestExecutor(t, db)
	ctx := context.Background()

	_, err := ex.Exec(ctx, "insert into area (name) values ($1)", []any{"Praha"})
	require.NoError(t, err)

	_, err = ex.Execute(ctx, "insert into area (name) values ($1)", []any{"Praha"})
	require.Error(t, err)

	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.True(t, qe.Client, "unique violation is caused by the caller's data")
	assert.Equal(t, []any{"Praha"}, qe.Params)
	assert.Contains(t, err.Error(), "UNIQUE")
	assert.Contains(t, err.Error(), "Praha")

	_, err = ex.Execute(ctx, "selec nonsense", nil)
	require.ErrorAs(t, err, &qe)
	assert.False(t, qe.Client)
	assert.True(t, IsQueryError(err))
}

func TestTransaction_Protocol(t *testing.T) {
	db := createTestDB(t, nil)
	ex := newTestExecutor(t, db)
	ctx := context.Background()

	var pe *ProtocolError

	err := ex.Commit()
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "commit", pe.Op)

	err = ex.Rollback()
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "rollback", pe.Op)

	require.NoError(t, ex.Begin(ctx))
	assert.True(t, ex.InTransaction())

	err = ex.Begin(ctx)
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "begin: transactions cannot be nested", err.Error())
	assert.True(t, ex.InTransaction(), "failed nested begin must not close the outer transaction")

	require.NoError(t, ex.Commit())
	assert.False(t, ex.InTransaction())

	// Exactly one of commit/rollback closes a transaction.
	assert.True(t, IsProtocolError(ex.Rollback()))
}

func TestTransaction_CommitAndRollback(t *testing.T) {
	db := createTestDB(t, nil)
	ctx := context.Background()

	ex := newTestExecutor(t, db)
	require.NoError(t, ex.Begin(ctx))
	_, err := ex.Exec(ctx, "insert into area (name) values ($1)", []any{"Praha"})
	require.NoError(t, err)
	require.NoError(t, ex.Rollback())
	assert.Equal(t, int64(0), countAreas(t, db))

	require.NoError(t, ex.Begin(ctx))
	_, err = ex.Exec(ctx, "insert into area (name) values ($1)", []any{"Brno"})
	require.NoError(t, err)
	require.NoError(t, ex.Commit())
	assert.Equal(t, int64(1), countAreas(t, db))
}

func TestClose_RollsBackOpenTransaction(t *testing.T) {
	db := createTestDB(t, nil)
	ctx := context.Background()

	ex, err := db.Executor(DefaultRole)
	require.NoError(t, err)
	require.NoError(t, ex.Begin(ctx))
	_, err = ex.Exec(ctx, "insert into area (name) values ($1)", []any{"Praha"})
	require.NoError(t, err)

	require.NoError(t, ex.Close())
	assert.False(t, ex.InTransaction())
	require.NoError(t, ex.Close(), "second close is a no-op")

	assert.Equal(t, int64(0), countAreas(t, db))
}

func TestWithTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		db := createTestDB(t, nil)
		ex := newTestExecutor(t, db)
		err := WithTransaction(ctx, ex, func(ex *Executor) error {
			_, err := ex.Exec(ctx, "insert into area (name) values ($1)", []any{"Praha"})
			return err
		})
		require.NoError(t, err)
		assert.False(t, ex.InTransaction())
		assert.Equal(t, int64(1), countAreas(t, db))
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db := createTestDB(t, nil)
		ex := newTestExecutor(t, db)
		boom := errors.New("boom")
		err := WithTransaction(ctx, ex, func(ex *Executor) error {
			if _, err := ex.Exec(ctx, "insert into area (name) values ($1)", []any{"Praha"}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.False(t, ex.InTransaction())
		assert.Equal(t, int64(0), countAreas(t, db))
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		db := createTestDB(t, nil)
		ex := newTestExecutor(t, db)
		assert.PanicsWithValue(t, "scraper crashed", func() {
			_ = WithTransaction(ctx, ex, func(ex *Executor) error {
				if _, err := ex.Exec(ctx, "insert into area (name) values ($1)", []any{"Praha"}); err != nil {
					return err
				}
				panic("scraper crashed")
			})
		})
		assert.False(t, ex.InTransaction())
		assert.Equal(t, int64(0), countAreas(t, db))
	})

	t.Run("nested is rejected", func(t *testing.T) {
		db := createTestDB(t, nil)
		ex := newTestExecutor(t, db)
		err := WithTransaction(ctx, ex, func(ex *Executor) error {
			return WithTransaction(ctx, ex, func(*Executor) error { return nil })
		})
		assert.True(t, IsProtocolError(err))
		assert.False(t, ex.InTransaction())
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	db := createTestDB(t, metrics)
	ex := newTestExecutor(t, db)
	ctx := context.Background()

	_, err := ex.Exec(ctx, "insert into area (name) values ($1)", []any{"Praha"})
	require.NoError(t, err)
	_, err = ex.Exec(ctx, "insert into area (name) values ($1)", []any{"Praha"})
	require.Error(t, err)
	_, err = ex.Execute(ctx, "select * from area where true", nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.statements.WithLabelValues("insert", "ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.statements.WithLabelValues("insert", "client_error")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.statements.WithLabelValues("select", "ok")))
}

func TestStatementKind(t *testing.T) {
	assert.Equal(t, "select", statementKind("  SELECT * from mp"))
	assert.Equal(t, "insert", statementKind("insert into mp default values"))
	assert.Equal(t, "other", statementKind("create table x (id int)"))
	assert.Equal(t, "unknown", statementKind(""))
}
