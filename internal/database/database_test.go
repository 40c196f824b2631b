package database

import (
	"path/filepath"
	"testing"

	"github.com/klokku/lunarcal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lunarcal.db")
	db, err := Open(config.Database{Driver: config.DriverSqlite, Path: path})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db))
	// a second run has nothing to apply
	require.NoError(t, Migrate(db))

	var tables []string
	err = db.Select(&tables, "SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('setting', 'todo_item') ORDER BY name")
	require.NoError(t, err)
	assert.Equal(t, []string{"setting", "todo_item"}, tables)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.Database{Driver: "oracle"})
	assert.Error(t, err)
}
