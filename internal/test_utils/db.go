package test_utils

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/klokku/lunarcal/internal/config"
	"github.com/klokku/lunarcal/internal/database"
)

// SetupTestDB creates a new SQLite database in a temporary directory and applies all migrations.
// Each database is completely isolated from others.
func SetupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.Open(config.Database{
		Driver: config.DriverSqlite,
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return db
}
