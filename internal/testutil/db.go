// Package testutil provides test helpers: trace file fixtures and stores.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tracelake/internal/infrastructure/sqlite"
)

// NewTestDB creates an on-disk database under t.TempDir() with all migrations
// applied. It is closed when the test completes.
func NewTestDB(t testing.TB) *sqlite.DB {
	t.Helper()
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// NewMemoryDB creates a private in-memory database closed with the test.
func NewMemoryDB(t testing.TB) *sqlite.DB {
	t.Helper()
	db, err := sqlite.NewDB(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// NewTestStore returns a store over NewTestDB with the given batch size.
func NewTestStore(t testing.TB, batchSize int) *sqlite.Store {
	t.Helper()
	return NewTestDB(t).Store(batchSize)
}
