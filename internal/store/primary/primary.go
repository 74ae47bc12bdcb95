package primary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" driver
)

// StoreImpl implements store.HistoryStore on PostgreSQL (pgx) or SQLite.
//
// Queries use $n placeholders in order of appearance, which both drivers accept.
type StoreImpl struct {
	db     *sql.DB
	driver string
}

// NewPrimaryStore opens the history database and makes sure its tables exist.
func NewPrimaryStore(ctx context.Context, driver, dsn string) (*StoreImpl, error) {
	if dsn == "" {
		return nil, errors.New("database DSN cannot be empty")
	}
	if _, ok := schemas[driver]; !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	if driver == "sqlite3" {
		// :memory: databases are per connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &StoreImpl{db: db, driver: driver}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already opened database. The caller runs Migrate.
func NewWithDB(db *sql.DB, driver string) *StoreImpl {
	return &StoreImpl{db: db, driver: driver}
}

var schemas = map[string][]string{
	"pgx": {
		`CREATE TABLE IF NOT EXISTS watches (
			id UUID PRIMARY KEY,
			resource_key TEXT NOT NULL,
			kind TEXT NOT NULL,
			environment_id TEXT NOT NULL,
			collection_id TEXT NOT NULL,
			document_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			last_status TEXT NOT NULL DEFAULT '',
			checks INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS status_checks (
			id BIGSERIAL PRIMARY KEY,
			watch_id UUID,
			resource_key TEXT NOT NULL,
			kind TEXT NOT NULL,
			environment_id TEXT NOT NULL,
			collection_id TEXT NOT NULL,
			document_id TEXT NOT NULL DEFAULT '',
			attempt INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			checked_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS status_checks_resource_key_idx ON status_checks (resource_key, checked_at DESC)`,
	},
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS watches (
			id TEXT PRIMARY KEY,
			resource_key TEXT NOT NULL,
			kind TEXT NOT NULL,
			environment_id TEXT NOT NULL,
			collection_id TEXT NOT NULL,
			document_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			last_status TEXT NOT NULL DEFAULT '',
			checks INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS status_checks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			watch_id TEXT,
			resource_key TEXT NOT NULL,
			kind TEXT NOT NULL,
			environment_id TEXT NOT NULL,
			collection_id TEXT NOT NULL,
			document_id TEXT NOT NULL DEFAULT '',
			attempt INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			checked_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS status_checks_resource_key_idx ON status_checks (resource_key, checked_at DESC)`,
	},
}

// Migrate creates the history tables if they do not exist.
func (s *StoreImpl) Migrate(ctx context.Context) error {
	stmts, ok := schemas[s.driver]
	if !ok {
		return fmt.Errorf("unsupported database driver %q", s.driver)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate history schema: %w", err)
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *StoreImpl) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection pool.
func (s *StoreImpl) Close() error {
	return s.db.Close()
}
