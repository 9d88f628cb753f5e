// Package db tests for database migration management.
package db

import (
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewMigrator_requiresArgs(t *testing.T) {
	_, err := NewMigrator(nil, fstest.MapFS{})
	assert.Error(t, err)

	_, err = NewMigrator(openMemory(t), nil)
	assert.Error(t, err)
}

func TestCurrentVersion(t *testing.T) {
	db := openMemory(t)
	m, err := NewMigrator(db, fstest.MapFS{})
	require.NoError(t, err)

	_, err = m.CurrentVersion()
	assert.Error(t, err, "CurrentVersion() should fail before Initialize()")

	require.NoError(t, m.Initialize())
	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	_, err = db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		1, 123456, "initial", strings.Repeat("a", 64))
	require.NoError(t, err)

	version, err = m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestUp_appliesInOrder(t *testing.T) {
	db := openMemory(t)
	fsys := fstest.MapFS{
		"V2__add_name.up.sql":   {Data: []byte(`ALTER TABLE things ADD COLUMN name TEXT;`)},
		"V1__things.up.sql":     {Data: []byte(`CREATE TABLE things (id INTEGER PRIMARY KEY);`)},
		"V1__things.down.sql":   {Data: []byte(`DROP TABLE things;`)},
		"README.md":             {Data: []byte(`ignored`)},
		"Vx__broken.up.sql":     {Data: []byte(`ignored`)},
		"V3_missing_sep.up.sql": {Data: []byte(`ignored`)},
	}
	m, err := NewMigrator(db, fsys)
	require.NoError(t, err)
	require.NoError(t, m.Initialize())

	require.NoError(t, m.Up())
	_, err = db.Exec(`INSERT INTO things (id, name) VALUES (1, 'x')`)
	require.NoError(t, err)

	applied, err := m.GetAppliedMigrations()
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "things", applied[0].Description)
	assert.Equal(t, "add_name", applied[1].Description)
	assert.Len(t, applied[0].Checksum, 64)

	// second run is a no-op
	require.NoError(t, m.Up())
	require.NoError(t, m.Verify())
}

func TestVerify_detectsEditedMigration(t *testing.T) {
	db := openMemory(t)
	fsys := fstest.MapFS{
		"V1__things.up.sql": {Data: []byte(`CREATE TABLE things (id INTEGER PRIMARY KEY);`)},
	}
	m, err := NewMigrator(db, fsys)
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Up())

	fsys["V1__things.up.sql"] = &fstest.MapFile{Data: []byte(`CREATE TABLE things (id TEXT PRIMARY KEY);`)}
	err = m.Verify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")

	delete(fsys, "V1__things.up.sql")
	err = m.Verify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no source file")
}

func TestDown(t *testing.T) {
	db := openMemory(t)
	fsys := fstest.MapFS{
		"V1__things.up.sql":   {Data: []byte(`CREATE TABLE things (id INTEGER PRIMARY KEY);`)},
		"V1__things.down.sql": {Data: []byte(`DROP TABLE things;`)},
	}
	m, err := NewMigrator(db, fsys)
	require.NoError(t, err)
	require.NoError(t, m.Initialize())

	err = m.Down()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no migrations to rollback")

	require.NoError(t, m.Up())
	require.NoError(t, m.Down())

	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='things'").Scan(&name)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestEmbeddedMigrations(t *testing.T) {
	db := openMemory(t)
	m, err := NewMigrator(db, MigrationsFS())
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Up())

	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	// latest migration can be rolled back and re-applied
	require.NoError(t, m.Down())
	require.NoError(t, m.Up())
}
