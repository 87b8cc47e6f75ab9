package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "nested", "test.db"),
		WALMode:     true,
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesDirectory(t *testing.T) {
	db := openTestDB(t)

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if filepath.Base(db.Path()) != "test.db" {
		t.Errorf("Path() = %q, want file test.db", db.Path())
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(Config{})
	if !errors.Is(err, ErrNoPath) {
		t.Errorf("Open() error = %v, want ErrNoPath", err)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, `CREATE TABLE kv (k TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv (k) VALUES ('a')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("rows after rollback = %d, want 0", n)
	}
}

func TestMigrate_AppliesInOrderOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260102_000000_add_column.up.sql":      {Data: []byte(`ALTER TABLE things ADD COLUMN label TEXT`)},
		"20260101_000000_create_things.up.sql":   {Data: []byte(`CREATE TABLE things (id TEXT PRIMARY KEY)`)},
		"20260101_000000_create_things.down.sql": {Data: []byte(`DROP TABLE things`)},
		"embed.go":                               {Data: []byte("package migrations")},
	}

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// A second run must be a no-op.
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() second run error = %v", err)
	}

	n, err := db.AppliedCount(ctx)
	if err != nil {
		t.Fatalf("AppliedCount() error = %v", err)
	}
	if n != 2 {
		t.Errorf("AppliedCount() = %d, want 2", n)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO things (id, label) VALUES ('x', 'y')`); err != nil {
		t.Errorf("insert after migrations: %v", err)
	}
}

func TestMigrate_FailureStops(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"20260101_000000_broken.up.sql": {Data: []byte(`CREATE TABLEX nope`)},
	}

	if err := db.Migrate(context.Background(), fsys); err == nil {
		t.Fatal("Migrate() error = nil, want error for invalid SQL")
	}
	n, err := db.AppliedCount(context.Background())
	if err != nil {
		t.Fatalf("AppliedCount() error = %v", err)
	}
	if n != 0 {
		t.Errorf("AppliedCount() = %d, want 0", n)
	}
}

func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		file        string
		wantVersion string
		wantName    string
		wantErr     bool
	}{
		{"20260301_120000_create_tiles.up.sql", "20260301_120000", "create_tiles", false},
		{"20260301_120000.up.sql", "", "", true},
		{"bad.up.sql", "", "", true},
	}

	for _, tt := range tests {
		version, name, err := parseMigrationName(tt.file)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMigrationName(%q) error = %v, wantErr %v", tt.file, err, tt.wantErr)
			continue
		}
		if version != tt.wantVersion || name != tt.wantName {
			t.Errorf("parseMigrationName(%q) = (%q, %q), want (%q, %q)",
				tt.file, version, name, tt.wantVersion, tt.wantName)
		}
	}
}
