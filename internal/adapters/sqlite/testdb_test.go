package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agritrace/fieldsync/internal/adapters/sqlite/localdb"
	"github.com/agritrace/fieldsync/migrations"
)

func newTestDB(t *testing.T) *localdb.DB {
	t.Helper()
	return openTestDB(t, filepath.Join(t.TempDir(), "test.sqlite"))
}

func openTestDB(t *testing.T, dbPath string) *localdb.DB {
	t.Helper()
	db, err := localdb.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sqlDB, err := db.SQLDB()
	if err != nil {
		t.Fatalf("resolve sql db: %v", err)
	}
	if err := migrations.Up(context.Background(), sqlDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
