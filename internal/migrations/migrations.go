package migrations

import (
	"database/sql"
	"fmt"
)

// getAllMigrations returns all available migrations in order
func getAllMigrations() []Migration {
	return []Migration{
		{
			ID:          "000_initial_schema",
			Description: "Create projects and notes tables with nullable embeddings",
			Up:          migration000Up,
			Down:        migration000Down,
		},
		{
			ID:          "001_embedding_failures",
			Description: "Record permanently failed embedding jobs on notes",
			Up:          migration001Up,
			Down:        migration001Down,
		},
		// Add new migrations here in chronological order
	}
}

// migration000Up creates the base schema. created_at is written by the
// application as fixed-width UTC text so lexical order is chronological.
func migration000Up(tx *sql.Tx) error {
	statements := []struct {
		what string
		sql  string
	}{
		{"projects table", `
			CREATE TABLE IF NOT EXISTS projects (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)
		`},
		{"notes table", `
			CREATE TABLE IF NOT EXISTS notes (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				content TEXT NOT NULL,
				embedding BLOB,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
			)
		`},
		{"notes project index", `
			CREATE INDEX IF NOT EXISTS idx_notes_project_created ON notes(project_id, created_at, id)
		`},
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.what, err)
		}
	}
	return nil
}

func migration000Down(tx *sql.Tx) error {
	for _, table := range []string{"notes", "projects"} {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return fmt.Errorf("failed to drop %s table: %w", table, err)
		}
	}
	return nil
}

// migration001Up adds embedding_error so dead-lettered jobs stay visible.
func migration001Up(tx *sql.Tx) error {
	exists, err := columnExists(tx, "notes", "embedding_error")
	if err != nil {
		return err
	}
	if !exists {
		if _, err := tx.Exec("ALTER TABLE notes ADD COLUMN embedding_error TEXT"); err != nil {
			return fmt.Errorf("failed to add embedding_error column: %w", err)
		}
	}

	_, err = tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_notes_unembedded ON notes(project_id, created_at)
		WHERE embedding IS NULL
	`)
	if err != nil {
		return fmt.Errorf("failed to create unembedded notes index: %w", err)
	}
	return nil
}

func migration001Down(tx *sql.Tx) error {
	if _, err := tx.Exec("DROP INDEX IF EXISTS idx_notes_unembedded"); err != nil {
		return fmt.Errorf("failed to drop unembedded notes index: %w", err)
	}
	if _, err := tx.Exec("ALTER TABLE notes DROP COLUMN embedding_error"); err != nil {
		return fmt.Errorf("failed to drop embedding_error column: %w", err)
	}
	return nil
}

func columnExists(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to get table info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull, pk bool
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return false, fmt.Errorf("failed to scan column info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
