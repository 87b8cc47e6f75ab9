// Package database provides the SQLite handle behind the gateway's local
// tile catalog (applications, virtual tiles, bindings and event mappings).
//
// Open configures WAL mode, the busy timeout and a single-writer pool.
// Migrate applies the embedded *.up.sql files in version order and records
// them in schema_migrations.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
