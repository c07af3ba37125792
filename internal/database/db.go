package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/streed/project-notes/internal/config"
	"github.com/streed/project-notes/internal/logger"
	"github.com/streed/project-notes/internal/migrations"
)

type DB struct {
	conn         *sql.DB
	cfg          *config.Config
	vecAvailable bool
	migrate      bool
}

// Option configures New.
type Option func(*DB)

// WithoutMigrations opens the schema as it is on disk. The migrate command
// uses it so that status reports pending migrations instead of applying
// them first.
func WithoutMigrations() Option {
	return func(db *DB) { db.migrate = false }
}

// New opens the SQLite database, registers sqlite-vec and applies pending
// migrations.
func New(cfg *config.Config, opts ...Option) (*DB, error) {
	// Register sqlite-vec for every connection opened after this point
	sqlite_vec.Auto()

	dbPath := cfg.GetDatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	logger.Debug("Database path: %s", dbPath)

	// Foreign keys drive project -> notes cascade; busy_timeout lets the API
	// and workers share the file.
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", dbPath)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg, migrate: true}
	for _, opt := range opts {
		opt(db)
	}
	if err := db.initialize(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

func (db *DB) initialize(ctx context.Context) error {
	var vecVersion string
	err := db.conn.QueryRowContext(ctx, "SELECT vec_version()").Scan(&vecVersion)
	if err == nil {
		db.vecAvailable = true
		logger.Debug("sqlite-vec version %s loaded", vecVersion)
	} else {
		logger.Warn("sqlite-vec not available, nearest-neighbour queries will scan in process: %v", err)
	}

	if !db.migrate {
		return nil
	}
	if _, err := migrations.NewMigrationRunner(db.conn).RunMigrations(ctx); err != nil {
		return err
	}
	return nil
}

// VecAvailable reports whether sqlite-vec distance functions can be used
// in SQL.
func (db *DB) VecAvailable() bool {
	return db.vecAvailable
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}
