package db

import (
	"slices"
	"testing"
	"testing/fstest"
)

func TestMigrationVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_transactions.sql": {Data: []byte("SELECT 2")},
		"migrations/001_accounts.sql":     {Data: []byte("SELECT 1")},
		"migrations/README.md":            {Data: []byte("notes")},
	}

	got, err := migrationVersions(fsys)
	if err != nil {
		t.Fatalf("migrationVersions() error: %v", err)
	}
	want := []string{"001_accounts", "002_transactions"}
	if !slices.Equal(got, want) {
		t.Errorf("migrationVersions() = %v, want %v", got, want)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	versions, err := migrationVersions(migrationsFS)
	if err != nil {
		t.Fatalf("migrationVersions() error: %v", err)
	}
	if len(versions) == 0 || versions[0] != "001_accounts" {
		t.Errorf("embedded migrations = %v, want 001_accounts first", versions)
	}
}
