package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"caseline/internal/db"
	"caseline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	v, err := migrate.Version(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, 0, v)

	require.NoError(t, migrate.Migrate(conn))
	require.NoError(t, migrate.Migrate(conn))

	v, err = migrate.Version(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	for _, table := range []string{"cases", "case_logs", "correlative_counters", "actors", "api_keys", "events"} {
		var name string
		err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}
