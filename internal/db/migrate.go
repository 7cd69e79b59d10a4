package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/katlab/katcore/internal/db/migrations"
	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/logging"
)

// MigrateUp applies every pending migration. Already-applied steps are skipped.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	// m is not closed: that would close db, which the caller owns.

	before, _, _ := m.Version()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to apply migrations", err)
	}
	after, _, _ := m.Version()
	if after != before {
		logging.Info("Schema migrated", map[string]interface{}{
			"from": before,
			"to":   after,
		})
	}
	return nil
}

// SchemaVersion returns the applied schema version and whether the last
// migration left the database dirty. A fresh database reports version 0.
func SchemaVersion(db *sql.DB) (uint, bool, error) {
	m, err := newMigrate(db)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.Wrap(apperrors.ErrMigration, "failed to read schema version", err)
	}
	return version, dirty, nil
}

// LatestVersion returns the highest migration version compiled into the binary.
func LatestVersion() (uint, error) {
	src, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrMigration, "failed to read migration files", err)
	}
	defer src.Close()
	return latestVersion(src)
}

// CheckMigrations verifies the schema is at the latest version and clean.
func CheckMigrations(db *sql.DB) error {
	version, dirty, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	if version == 0 {
		return apperrors.New(apperrors.ErrMigration, "database has no schema version (needs migration)")
	}
	if dirty {
		return apperrors.Newf(apperrors.ErrMigration, "database is in dirty state at version %d", version)
	}

	latest, err := LatestVersion()
	if err != nil {
		return err
	}
	switch {
	case version < latest:
		return apperrors.Newf(apperrors.ErrMigration, "database is at version %d but latest is %d", version, latest)
	case version > latest:
		return apperrors.Newf(apperrors.ErrMigration, "database version %d is ahead of binary version %d", version, latest)
	}
	return nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to load embedded migrations", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		src.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to initialise migrate driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		src.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to create migrator", err)
	}
	return m, nil
}

func latestVersion(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("no migrations found: %w", err)
	}
	for {
		next, err := src.Next(version)
		if err != nil {
			// any error from Next means there are no more steps
			return version, nil
		}
		version = next
	}
}
