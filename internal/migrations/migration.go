package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/streed/project-notes/internal/logger"
)

// Migration represents a single database migration
type Migration struct {
	ID          string                 // Unique identifier (e.g., "001_embedding_failures")
	Description string                 // Human-readable description
	Up          func(tx *sql.Tx) error // Migration function
	Down        func(tx *sql.Tx) error // Rollback function (optional)
}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Applied     bool   `json:"applied"`
}

// MigrationRunner applies migrations in ID order, each in its own transaction.
type MigrationRunner struct {
	db         *sql.DB
	migrations []Migration
}

func NewMigrationRunner(db *sql.DB) *MigrationRunner {
	migrations := getAllMigrations()
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].ID < migrations[j].ID
	})
	return &MigrationRunner{
		db:         db,
		migrations: migrations,
	}
}

func (mr *MigrationRunner) createMigrationsTable(ctx context.Context) error {
	_, err := mr.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (mr *MigrationRunner) getAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := mr.db.QueryContext(ctx, "SELECT id FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan migration id: %w", err)
		}
		applied[id] = true
	}
	return applied, rows.Err()
}

// RunMigrations applies every pending migration and returns how many ran.
func (mr *MigrationRunner) RunMigrations(ctx context.Context) (int, error) {
	if err := mr.createMigrationsTable(ctx); err != nil {
		return 0, err
	}

	applied, err := mr.getAppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	pendingCount := 0
	for _, migration := range mr.migrations {
		if applied[migration.ID] {
			logger.Debug("Migration %s already applied, skipping", migration.ID)
			continue
		}

		logger.Info("Running migration: %s - %s", migration.ID, migration.Description)
		if err := mr.apply(ctx, migration); err != nil {
			return pendingCount, err
		}
		pendingCount++
	}

	if pendingCount > 0 {
		logger.Info("Successfully applied %d migrations", pendingCount)
	} else {
		logger.Debug("No pending migrations found - database is up to date")
	}
	return pendingCount, nil
}

func (mr *MigrationRunner) apply(ctx context.Context, migration Migration) error {
	tx, err := mr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction for migration %s: %w", migration.ID, err)
	}

	if err := migration.Up(tx); err != nil {
		rollback(tx)
		return fmt.Errorf("migration %s failed: %w", migration.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (id, description, applied_at) VALUES (?, ?, ?)",
		migration.ID, migration.Description, time.Now().UTC(),
	)
	if err != nil {
		rollback(tx)
		return fmt.Errorf("failed to record migration %s: %w", migration.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", migration.ID, err)
	}
	return nil
}

// GetMigrationStatus returns the status of all migrations
func (mr *MigrationRunner) GetMigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	if err := mr.createMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := mr.getAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	status := make([]MigrationStatus, 0, len(mr.migrations))
	for _, migration := range mr.migrations {
		status = append(status, MigrationStatus{
			ID:          migration.ID,
			Description: migration.Description,
			Applied:     applied[migration.ID],
		})
	}
	return status, nil
}

// RollbackMigration rolls back a specific applied migration.
func (mr *MigrationRunner) RollbackMigration(ctx context.Context, migrationID string) error {
	var target *Migration
	for i := range mr.migrations {
		if mr.migrations[i].ID == migrationID {
			target = &mr.migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration %s not found", migrationID)
	}
	if target.Down == nil {
		return fmt.Errorf("migration %s does not support rollback", migrationID)
	}

	applied, err := mr.getAppliedMigrations(ctx)
	if err != nil {
		return err
	}
	if !applied[migrationID] {
		return fmt.Errorf("migration %s is not applied", migrationID)
	}

	logger.Info("Rolling back migration: %s - %s", target.ID, target.Description)

	tx, err := mr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction for rollback %s: %w", migrationID, err)
	}
	if err := target.Down(tx); err != nil {
		rollback(tx)
		return fmt.Errorf("rollback %s failed: %w", migrationID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE id = ?", migrationID); err != nil {
		rollback(tx)
		return fmt.Errorf("failed to remove migration record %s: %w", migrationID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback %s: %w", migrationID, err)
	}

	logger.Info("Migration %s rolled back successfully", migrationID)
	return nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		logger.Error("Failed to rollback transaction: %v", err)
	}
}
