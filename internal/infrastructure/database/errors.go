package database

import "errors"

var (
	// ErrNoPath is returned by Open when no database path is configured.
	ErrNoPath = errors.New("database: path is required")

	// ErrBadMigrationName is returned for migration files not named
	// VERSION_description.up.sql / .down.sql.
	ErrBadMigrationName = errors.New("database: malformed migration filename")
)
