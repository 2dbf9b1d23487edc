package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgraph/agentgraph-open/pkg/database"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
)

// recordingQuerier logs every statement and runs it on SQLite with the
// Postgres row-locking suffixes removed.
type recordingQuerier struct {
	inner   querier
	queries []string
}

func (r *recordingQuerier) rewrite(query string) string {
	r.queries = append(r.queries, query)
	query = strings.ReplaceAll(query, " FOR SHARE", "")
	return strings.ReplaceAll(query, " FOR UPDATE", "")
}

func (r *recordingQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.inner.ExecContext(ctx, r.rewrite(query), args...)
}

func (r *recordingQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.inner.QueryContext(ctx, r.rewrite(query), args...)
}

func (r *recordingQuerier) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return r.inner.QueryRowContext(ctx, r.rewrite(query), args...)
}

func openSQLiteStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "agentgraph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestCatalogLookupsLockRowsOnPostgres(t *testing.T) {
	ctx := context.Background()
	s := openSQLiteStore(t)
	scope := models.Scope{TenantID: "t1", ProjectID: "p1"}

	require.NoError(t, s.InTx(ctx, func(tx *Tx) error {
		now := Now()
		for _, id := range []string{"search", "fetch"} {
			if err := tx.InsertCatalogEntry(ctx, &models.CatalogEntry{
				Scope: scope, Kind: models.CatalogTool, ID: id, Name: id, CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	ids := make([]string, 0, 1202)
	for i := 0; i < 1200; i++ {
		ids = append(ids, fmt.Sprintf("ghost-%d", i))
	}
	ids = append(ids, "search", "fetch")

	err := s.db.InTx(ctx, func(sqlTx *sql.Tx) error {
		rec := &recordingQuerier{inner: sqlTx}
		tx := &Tx{q: rec, driver: database.DriverPostgres}

		found, err := tx.ExistingCatalogIDs(ctx, scope, models.CatalogTool, ids)
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"search": true, "fetch": true}, found)
		require.Len(t, rec.queries, 3)
		for _, q := range rec.queries {
			assert.True(t, strings.HasSuffix(q, " FOR SHARE"), q)
		}

		exists, err := tx.LockCatalogEntry(ctx, scope, models.CatalogTool, "search")
		require.NoError(t, err)
		assert.True(t, exists)
		assert.True(t, strings.HasSuffix(rec.queries[3], " FOR UPDATE"))

		exists, err = tx.LockCatalogEntry(ctx, scope, models.CatalogTool, "ghost")
		require.NoError(t, err)
		assert.False(t, exists)
		return nil
	})
	require.NoError(t, err)

	err = s.db.ReadTx(ctx, func(sqlTx *sql.Tx) error {
		rec := &recordingQuerier{inner: sqlTx}
		tx := &Tx{q: rec, driver: database.DriverPostgres, readOnly: true}

		_, err := tx.ExistingCatalogIDs(ctx, scope, models.CatalogTool, []string{"search"})
		require.NoError(t, err)
		require.Len(t, rec.queries, 1)
		assert.NotContains(t, rec.queries[0], "FOR SHARE")
		return nil
	})
	require.NoError(t, err)
}

func TestLockClause(t *testing.T) {
	assert.Empty(t, (&Tx{driver: database.DriverSQLite}).lockClause("SHARE"))
	assert.Empty(t, (&Tx{driver: database.DriverPostgres, readOnly: true}).lockClause("SHARE"))
	assert.Equal(t, " FOR UPDATE", (&Tx{driver: database.DriverPostgres}).lockClause("UPDATE"))
}
