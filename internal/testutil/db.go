package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/parlapi/internal/schema"
	"github.com/roach88/parlapi/internal/store"
)

// OpenDB opens a SQLite database in a temp directory and creates tables.
// The database is closed when the test ends.
func OpenDB(t testing.TB, tables ...*schema.Table) *store.DB {
	t.Helper()
	db, err := store.Open(store.Config{DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background(), tables))
	return db
}

// MP returns a small member-of-parliament entity table used across tests.
func MP() *schema.Table {
	return &schema.Table{
		Name: "mp",
		Kind: schema.KindEntity,
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeID},
			{Name: "first_name", Type: schema.TypeText},
			{Name: "last_name", Type: schema.TypeText, NotNull: true},
			{Name: "born_on", Type: schema.TypeDate},
		},
		Returning: []string{"id"},
		ReadOnly:  []string{"id"},
	}
}

// MPAttribute returns the attribute table of MP.
func MPAttribute() *schema.Table {
	return schema.AttributeTable("mp_attribute", schema.Column{Name: "mp_id", References: "mp(id)"})
}
