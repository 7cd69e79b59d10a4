package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/models"
)

// TestOpen verifies database opening with proper configuration.
func TestOpen(t *testing.T) {
	dir := t.TempDir()

	db, err := OpenDir(dir)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, filepath.Join(dir, FileName), db.Path())
	_, err = os.Stat(db.Path())
	require.NoError(t, err, "database file was not created")

	var walMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&walMode))
	assert.Equal(t, "wal", walMode)

	var fkEnabled int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled))
	assert.Equal(t, 1, fkEnabled)
}

// TestOpen_createsSchema verifies every collection and index exists after open.
func TestOpen_createsSchema(t *testing.T) {
	db, err := Open(MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"sessions", "acquisitions", "files", "settings", "sync_queue", "reference_library"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n))
		assert.Equal(t, 1, n, "table %s", table)
	}
	for _, index := range []string{"idx_sessions_current", "idx_acquisitions_session", "idx_files_acquisition", "idx_files_session", "idx_sync_queue_status"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, index).Scan(&n))
		assert.Equal(t, 1, n, "index %s", index)
	}
}

func TestSchemaVersion_isLatest(t *testing.T) {
	db, err := Open(MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	latest, err := LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	version, dirty, err := SchemaVersion(db.DB)
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)
	assert.NoError(t, CheckMigrations(db.DB))
}

// TestOpen_reopenKeepsData verifies migrations are idempotent across opens.
func TestOpen_reopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := OpenDir(dir)
	require.NoError(t, err)
	repo := NewRepository(db.DB)
	s, err := repo.CreateSession(ctx, models.SessionInput{Event: "festival"})
	require.NoError(t, err)
	require.NoError(t, repo.Close())
	require.NoError(t, db.Close())

	db, err = OpenDir(dir)
	require.NoError(t, err)
	defer db.Close()
	repo = NewRepository(db.DB)
	defer repo.Close()

	got, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "festival", got.Event)
	assert.NoError(t, CheckMigrations(db.DB))
}

// TestOpen_upgradesOlderSchema verifies a database left at an earlier schema
// version is migrated forward on open without losing its rows.
func TestOpen_upgradesOlderSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	ctx := context.Background()

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	raw.SetMaxOpenConns(1)
	m, err := newMigrate(raw)
	require.NoError(t, err)
	require.NoError(t, m.Migrate(1))

	version, dirty, err := SchemaVersion(raw)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	assert.True(t, apperrors.Is(CheckMigrations(raw), apperrors.ErrMigration))

	var n int
	require.NoError(t, raw.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'reference_library'`).Scan(&n))
	assert.Zero(t, n)

	repo := NewRepository(raw)
	s, err := repo.CreateSession(ctx, models.SessionInput{Event: "festival", Substance: "ecstasy"})
	require.NoError(t, err)
	require.NoError(t, repo.Close())
	require.NoError(t, raw.Close())

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err = SchemaVersion(db.DB)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
	assert.NoError(t, CheckMigrations(db.DB))

	repo = NewRepository(db.DB)
	defer repo.Close()
	got, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "festival", got.Event)
	assert.Equal(t, "ecstasy", got.Substance)

	_, err = repo.GetLibrary(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}
