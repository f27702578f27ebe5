package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_init_schema_migrations.sql", true, 1, "init_schema_migrations"},
		{"0042_create_trades.sql", true, 42, "create_trades"},
		{"001_invalid.sql", false, 0, ""},        // wrong number format
		{"0001_test", false, 0, ""},              // missing .sql
		{"0001.sql", false, 0, ""},               // missing name
		{"invalid_0001_test.sql", false, 0, ""}, // wrong order
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if ok != tt.valid {
				t.Fatalf("parseMigrationFilename(%q) ok = %v, want %v", tt.filename, ok, tt.valid)
			}
			if version != tt.version || name != tt.name {
				t.Errorf("got (%d, %q), want (%d, %q)", version, name, tt.version, tt.name)
			}
		})
	}
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestReadMigrations(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"0002_create_accounts.sql": "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.accounts` (id STRING);",
		"0001_init.sql":            "SELECT 1;",
		"README.md":                "not a migration",
	})

	ms, err := readMigrations(dir, "proj", "ds")
	if err != nil {
		t.Fatalf("readMigrations: %v", err)
	}
	if len(ms) != 2 {
		t.Fatalf("got %d migrations, want 2", len(ms))
	}
	if ms[0].Version != 1 || ms[1].Version != 2 {
		t.Errorf("versions = %d, %d", ms[0].Version, ms[1].Version)
	}
	if !strings.Contains(ms[1].SQL, "`proj.ds.accounts`") {
		t.Errorf("placeholders not replaced: %s", ms[1].SQL)
	}

	// Checksums cover the file, not the target dataset.
	other, err := readMigrations(dir, "other", "elsewhere")
	if err != nil {
		t.Fatal(err)
	}
	if other[1].Checksum != ms[1].Checksum {
		t.Error("checksum should not depend on project or dataset")
	}
	if ms[0].Checksum == ms[1].Checksum {
		t.Error("different files should have different checksums")
	}
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"0001_a.sql": "SELECT 1;",
		"0001_b.sql": "SELECT 2;",
	})
	if _, err := readMigrations(dir, "p", "d"); err == nil {
		t.Error("duplicate versions should fail")
	}
}

func TestPendingMigrations(t *testing.T) {
	all := []Migration{
		{Version: 1, Filename: "0001_a.sql", Checksum: "aaa"},
		{Version: 2, Filename: "0002_b.sql", Checksum: "bbb"},
		{Version: 3, Filename: "0003_c.sql", Checksum: "ccc"},
	}

	pending, err := pendingMigrations(all, []AppliedMigration{{Version: 1, Checksum: "aaa"}})
	if err != nil {
		t.Fatalf("pendingMigrations: %v", err)
	}
	if len(pending) != 2 || pending[0].Version != 2 || pending[1].Version != 3 {
		t.Errorf("pending = %+v", pending)
	}

	// Rows recorded without a checksum are trusted.
	pending, err = pendingMigrations(all, []AppliedMigration{{Version: 1}, {Version: 2}, {Version: 3}})
	if err != nil || len(pending) != 0 {
		t.Errorf("pending = %+v, err = %v", pending, err)
	}

	_, err = pendingMigrations(all, []AppliedMigration{{Version: 2, Checksum: "edited"}})
	if !errors.Is(err, errChecksumMismatch) {
		t.Errorf("err = %v, want errChecksumMismatch", err)
	}
}

func TestRepositoryMigrationsParse(t *testing.T) {
	dir, err := resolveDir("migrations/bigquery")
	if err != nil {
		t.Skip("migrations directory not reachable from test working directory")
	}
	ms, err := readMigrations(dir, "p", "d")
	if err != nil {
		t.Fatalf("readMigrations: %v", err)
	}
	for i, m := range ms {
		if m.Version != i+1 {
			t.Errorf("migration %s has version %d, want %d (gap or misorder)", m.Filename, m.Version, i+1)
		}
		if strings.Contains(m.SQL, "{{") {
			t.Errorf("%s still has placeholders", m.Filename)
		}
	}
}
