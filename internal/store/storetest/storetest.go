// Package storetest opens migrated throwaway databases for repository tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"beaconattend/internal/store"
)

// SQLite returns a migrated SQLite database in t's temp dir.
func SQLite(t *testing.T) *store.DB {
	t.Helper()

	db, err := store.NewDB(string(store.SQLite), filepath.Join(t.TempDir(), "attendance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fsys, err := db.Migrations()
	require.NoError(t, err)
	provider, err := goose.NewProvider(goose.DialectSQLite3, db.Client, fsys)
	require.NoError(t, err)
	_, err = provider.Up(context.Background())
	require.NoError(t, err)
	return db
}
