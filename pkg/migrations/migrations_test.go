package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSchema = `
-- a comment
CREATE TABLE IF NOT EXISTS kv (
    key text primary key,
    value text not null
);

CREATE INDEX IF NOT EXISTS kv_value ON kv(value);
`

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(testSchema)
	require.Len(t, stmts, 2)
	require.Equal(t, "CREATE TABLE IF NOT EXISTS kv (", firstLine(stmts[0]))
}

func TestIsRemote(t *testing.T) {
	require.True(t, IsRemote("libsql://portal.turso.io"))
	require.True(t, IsRemote("https://127.0.0.1:8080"))
	require.False(t, IsRemote(":memory:"))
	require.False(t, IsRemote("/var/lib/portalsync/cache.db"))
}

func TestOpenAndMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.db")

	db, err := OpenAndMigrateDB(ctx, testSchema, path)
	require.NoError(t, err)
	_, err = db.Exec("insert into kv(key, value) values ('a', 'b')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenAndMigrateDB(ctx, testSchema, path)
	require.NoError(t, err)
	defer db.Close()

	var value string
	require.NoError(t, db.QueryRow("select value from kv where key = 'a'").Scan(&value))
	require.Equal(t, "b", value)
}
