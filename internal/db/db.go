// Package db provides the local store: connection management, schema
// migrations and CRUD for sessions, acquisitions, binaries, settings, the sync
// queue and the cached reference library.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// FileName is the database file created by OpenDir.
const FileName = "katcore.db"

// DB wraps the sql.DB with katcore-specific configuration.
type DB struct {
	*sql.DB
	path string
}

// Open opens (or creates) the SQLite database at path and brings its schema up
// to date. Reopening an existing file never destroys data.
// The database is opened with:
// - a single connection, so statements serialize
// - WAL mode for file-backed databases
// - foreign key constraints enabled
func Open(path string) (*DB, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// modernc.org/sqlite is pure Go, no CGO
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers; an in-memory database also
	// lives only as long as its one connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if path != MemoryPath {
		if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := MigrateUp(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{DB: sqlDB, path: path}, nil
}

// OpenDir opens FileName inside dataDir, creating the directory if needed.
func OpenDir(dataDir string) (*DB, error) {
	return Open(filepath.Join(dataDir, FileName))
}

// Path returns the location the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
