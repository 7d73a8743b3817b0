// Package store provides the on-device SQLite store for synced browser data.
//
// This package persists the registry of known remote clients (devices), the
// open tabs belonging to each client, the outgoing commands queued per
// client, and a generic per-collection record cache used by the history and
// logins engines.
//
// The database runs in embedded mode using SQLite with WAL for concurrent
// reads during writes.
//
// Architecture:
//   - Database file: weave.db inside the profile directory
//   - WAL mode: concurrent readers during writes
//   - Schema: clients, tabs, commands, collection_records, sync_meta tables
//   - Transactions are the sole mutation boundary: every batch operation is
//     all-or-nothing and rolls back on the first failure
//
// Workflow:
//  1. The browser shell writes the local device's own tabs (NULL client guid)
//  2. Collection synchronizers apply fetched remote snapshots per client
//  3. Listings join clients with their tab sets in one consistent snapshot
//  4. Account removal wipes all client/tab state
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrClosed is the cause carried by a DatabaseError when a store method
// is called after Close.
var ErrClosed = errors.New("database is closed")

// DatabaseError wraps an underlying storage failure. Every error surfaced
// by this package that originates in SQLite is a *DatabaseError; callers
// can recover the cause with errors.Unwrap or errors.As.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

func dbErr(op string, err error) error {
	return &DatabaseError{Op: op, Err: err}
}

// Store wraps the SQLite connection with sync-specific functionality.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it will be created; call InitSchema to
// create the tables.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	st, err := store.Open(filepath.Join(profileDir, "weave.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{conn: conn, path: path}

	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := st.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return st, nil
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- Registry of known remote clients (devices)
	CREATE TABLE IF NOT EXISTS clients (
		guid TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		modified INTEGER NOT NULL,
		type TEXT
	);

	-- Open tabs per client. A NULL client_guid marks the local device's
	-- own tabs, which have not been assigned a remote identity.
	CREATE TABLE IF NOT EXISTS tabs (
		client_guid TEXT,
		url TEXT NOT NULL,
		title TEXT NOT NULL,
		history TEXT NOT NULL,  -- JSON array of URLs, most-recent-last
		last_used INTEGER NOT NULL,
		icon TEXT,
		position INTEGER NOT NULL
	);

	-- Outgoing commands queued per target client
	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_guid TEXT NOT NULL,
		command TEXT NOT NULL,
		payload TEXT
	);

	-- Generic per-collection record cache (history, logins)
	CREATE TABLE IF NOT EXISTS collection_records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		payload TEXT NOT NULL,
		modified INTEGER NOT NULL,
		PRIMARY KEY (collection, id)
	);

	-- Sync bookkeeping flags
	CREATE TABLE IF NOT EXISTS sync_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tabs_client ON tabs(client_guid);
	CREATE INDEX IF NOT EXISTS idx_commands_client ON commands(client_guid);
	CREATE INDEX IF NOT EXISTS idx_records_collection
	    ON collection_records(collection, modified);
	`

	conn, err := s.db("init schema")
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return dbErr("init schema", err)
	}

	return nil
}

// db returns the live connection, or a DatabaseError carrying ErrClosed
// after Close. Every store method goes through this guard so a use-after-
// close surfaces as an ordinary storage failure, never a panic.
func (s *Store) db(op string) (*sql.DB, error) {
	if s.conn == nil {
		return nil, dbErr(op, ErrClosed)
	}
	return s.conn, nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error. The returned error is always a *DatabaseError unless
// fn itself returned a non-storage error.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	conn, err := s.db(op)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return dbErr(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dbErr(op, err)
	}
	return nil
}

// Clear wipes both the client registry and all tab sets in one transaction.
func (s *Store) Clear(ctx context.Context) error {
	return s.withTx(ctx, "clear", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM tabs"); err != nil {
			return dbErr("clear tabs", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM clients"); err != nil {
			return dbErr("clear clients", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM commands"); err != nil {
			return dbErr("clear commands", err)
		}
		return nil
	})
}

// OnRemovedAccount clears all client/tab state after the account goes away.
// Safe to call when the store is already empty.
func (s *Store) OnRemovedAccount(ctx context.Context) error {
	return s.Clear(ctx)
}
