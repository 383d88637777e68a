// Package migrations embeds the schema for both database backends and
// builds golang-migrate instances over them.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Dialect names a schema directory.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// RequiredVersion is the schema version this binary expects.
const RequiredVersion uint = 1

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// New returns a migrator for db. The caller owns db; closing the migrator
// closes it too.
func New(dialect Dialect, db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(files, string(dialect))
	if err != nil {
		return nil, fmt.Errorf("load %s migrations: %w", dialect, err)
	}

	var driver database.Driver
	switch dialect {
	case SQLite:
		driver, err = sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	case Postgres:
		driver, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	default:
		return nil, fmt.Errorf("unknown dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("%s migrate driver: %w", dialect, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// Up applies all pending migrations. ErrNoChange is not an error.
func Up(dialect Dialect, db *sql.DB) error {
	m, err := New(dialect, db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
