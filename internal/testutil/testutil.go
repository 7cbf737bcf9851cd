// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/uptrace/bun"

	"github.com/redmonkez12/go-user-service/internal/config"
	"github.com/redmonkez12/go-user-service/internal/database"
)

// OpenSQLite opens a migrated SQLite database in a per-test temp directory.
// The database is closed through t.Cleanup.
func OpenSQLite(t *testing.T) *bun.DB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "users.db"),
	}

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.Migrate(context.Background(), db, cfg.Driver); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}
