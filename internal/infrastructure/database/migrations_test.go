package database

import (
	"embed"
	"io/fs"
	"testing"
)

//go:embed testdata/*.sql
var testdataFS embed.FS

func testMigrations(t *testing.T) fs.FS {
	t.Helper()
	sub, err := fs.Sub(testdataFS, "testdata")
	if err != nil {
		t.Fatalf("fs.Sub: %v", err)
	}
	return sub
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(t.Context(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master query: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	migs := testMigrations(t)

	if err := db.Migrate(t.Context(), migs); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "widgets") {
		t.Fatal("widgets table not created")
	}

	pending, err := db.Pending(t.Context(), migs)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Pending() = %d migrations, want 0", len(pending))
	}

	// A second run is a no-op.
	if err := db.Migrate(t.Context(), migs); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	migs := testMigrations(t)

	if err := db.Migrate(t.Context(), migs); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// The newest migration has no down script.
	if err := db.MigrateDown(t.Context(), migs); err == nil {
		t.Fatal("MigrateDown() should fail without down SQL")
	}

	if _, err := db.ExecContext(t.Context(),
		"DELETE FROM schema_migrations WHERE version = '20260102_000000'"); err != nil {
		t.Fatalf("delete record: %v", err)
	}
	if err := db.MigrateDown(t.Context(), migs); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "widgets") {
		t.Error("widgets table should have been dropped")
	}
}

func TestMigrateNilFS(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(t.Context(), nil); err != nil {
		t.Fatalf("Migrate(nil) error = %v", err)
	}
}

func TestLoadMigrationsOrder(t *testing.T) {
	migs, err := LoadMigrations(testMigrations(t))
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migs) != 2 {
		t.Fatalf("got %d migrations, want 2", len(migs))
	}
	if migs[0].Name != "create_widgets" || migs[1].Name != "add_widget_index" {
		t.Errorf("order = %s, %s", migs[0].Name, migs[1].Name)
	}
	if migs[0].DownSQL == "" {
		t.Error("create_widgets should carry its down SQL")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260118_120000_create_users.up.sql", "20260118_120000", "create_users", true, true},
		{"20260118_120000_create_users.down.sql", "20260118_120000", "create_users", false, true},
		{"readme.txt", "", "", false, false},
		{"20260118_120000_create_users.sql", "", "", false, false},
		{"invalid.up.sql", "", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
