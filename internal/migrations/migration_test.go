package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db")+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	runner := NewMigrationRunner(db)

	applied, err := runner.RunMigrations(ctx)
	if err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	if applied != len(getAllMigrations()) {
		t.Errorf("Expected %d migrations applied, got %d", len(getAllMigrations()), applied)
	}

	for _, table := range []string{"projects", "notes", "schema_migrations"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil || count != 1 {
			t.Errorf("Expected table %s to exist (count=%d, err=%v)", table, count, err)
		}
	}

	// Second run is a no-op
	applied, err = runner.RunMigrations(ctx)
	if err != nil {
		t.Fatalf("Second RunMigrations failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("Expected no pending migrations, got %d", applied)
	}
}

func TestGetMigrationStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	runner := NewMigrationRunner(db)

	status, err := runner.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	for _, s := range status {
		if s.Applied {
			t.Errorf("Migration %s should not be applied yet", s.ID)
		}
	}

	if _, err := runner.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}

	status, err = runner.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	for _, s := range status {
		if !s.Applied {
			t.Errorf("Migration %s should be applied", s.ID)
		}
	}
}

func TestRollbackMigration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	runner := NewMigrationRunner(db)

	if _, err := runner.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}

	if err := runner.RollbackMigration(ctx, "001_embedding_failures"); err != nil {
		t.Fatalf("RollbackMigration failed: %v", err)
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	exists, err := columnExists(tx, "notes", "embedding_error")
	_ = tx.Rollback()
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("embedding_error column should be gone after rollback")
	}

	if err := runner.RollbackMigration(ctx, "001_embedding_failures"); err == nil {
		t.Error("Expected error rolling back an unapplied migration")
	}
	if err := runner.RollbackMigration(ctx, "999_missing"); err == nil {
		t.Error("Expected error for unknown migration")
	}
}
