// Package upgrade checks that the database schema matches what this binary
// expects before the bot starts answering.
package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/chatpilot/internal/store/migrations"
)

// SchemaStatus represents the result of a schema compatibility check.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

var (
	ErrSchemaOutdated = errors.New("database schema is outdated")
	ErrSchemaDirty    = errors.New("database schema is dirty (failed migration)")
	ErrSchemaAhead    = errors.New("database schema is newer than this binary")
)

// CheckSchema reads schema_migrations and compares it with
// migrations.RequiredVersion. A missing table means a fresh database.
func CheckSchema(ctx context.Context, db *sql.DB) (*SchemaStatus, error) {
	s := &SchemaStatus{RequiredVersion: migrations.RequiredVersion}

	var version int64
	err := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &s.Dirty)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.NeedsMigration = true
		return s, nil
	}
	s.CurrentVersion = uint(version)

	if s.Dirty {
		return s, nil
	}
	switch {
	case s.CurrentVersion == s.RequiredVersion:
		s.Compatible = true
	case s.CurrentVersion < s.RequiredVersion:
		s.NeedsMigration = true
	}
	return s, nil
}

// Err maps the status to one of the sentinel errors, nil when compatible.
func (s *SchemaStatus) Err() error {
	switch {
	case s.Compatible:
		return nil
	case s.Dirty:
		return ErrSchemaDirty
	case s.NeedsMigration:
		return ErrSchemaOutdated
	}
	return ErrSchemaAhead
}

// Verify runs CheckSchema and returns a wrapped sentinel on mismatch.
func Verify(ctx context.Context, db *sql.DB) error {
	s, err := CheckSchema(ctx, db)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("%w: current v%d, required v%d", err, s.CurrentVersion, s.RequiredVersion)
	}
	return nil
}

// FormatError returns a user-friendly error message for the given status.
func FormatError(s *SchemaStatus) string {
	if s.Dirty {
		return fmt.Sprintf(
			"Database schema is in a dirty state (version %d).\n"+
				"This usually means a migration failed partway.\n\n"+
				"  Fix:  chatpilot migrate force %d\n"+
				"  Then: chatpilot migrate up\n",
			s.CurrentVersion, s.CurrentVersion-1,
		)
	}
	if s.CurrentVersion > s.RequiredVersion {
		return fmt.Sprintf(
			"Database schema (v%d) is newer than this binary (requires v%d).\n"+
				"You may be running an older chatpilot build.\n",
			s.CurrentVersion, s.RequiredVersion,
		)
	}
	return fmt.Sprintf(
		"Database schema is outdated: current v%d, required v%d.\n\n"+
			"  Run: chatpilot migrate up\n",
		s.CurrentVersion, s.RequiredVersion,
	)
}
