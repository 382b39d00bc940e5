// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of SQLite, so no C compiler is needed.
//
// ONE CONNECTION:
// The pool is capped at a single connection. SQLite only ever has one writer,
// so this costs nothing on the write path, and it gives every transaction
// serializable isolation: while the roster engine holds a transaction open
// (read sibling cars → validate → write roster), no other request can commit
// in between. It also keeps ":memory:" databases alive across queries, which
// the tests rely on.
//
// CONSEQUENCE: code running inside WithinTx must use the tx it was handed.
// Touching db.conn from inside a transaction would wait forever for the one
// connection the transaction is holding.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so the same query code
// runs in and out of transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/rideboard.db"  → file-based database (persistent)
//   - ":memory:"           → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets the worker process read while the server process writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Rider rows rely on ON DELETE CASCADE; foreign keys are off by default.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	// The server and worker processes share the file; wait on locks instead
	// of failing with SQLITE_BUSY.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id    TEXT PRIMARY KEY,
			realm TEXT NOT NULL CHECK (realm IN ('csh', 'google')),
			name  TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			location   TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			end_time   DATETIME NOT NULL,
			creator    TEXT NOT NULL REFERENCES users(id)
		);
		CREATE INDEX IF NOT EXISTS idx_events_end_time ON events(end_time);
	`)
	if err != nil {
		return fmt.Errorf("creating events table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS cars (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id       INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			driver         TEXT NOT NULL REFERENCES users(id),
			max_capacity   INTEGER NOT NULL CHECK (max_capacity >= 0),
			departure_time DATETIME NOT NULL,
			return_time    DATETIME NOT NULL,
			comment        TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_cars_event_id ON cars(event_id);
	`)
	if err != nil {
		return fmt.Errorf("creating cars table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS riders (
			car_id INTEGER NOT NULL REFERENCES cars(id) ON DELETE CASCADE,
			rider  TEXT NOT NULL REFERENCES users(id),
			PRIMARY KEY (car_id, rider)
		);
		CREATE INDEX IF NOT EXISTS idx_riders_rider ON riders(rider);
	`)
	if err != nil {
		return fmt.Errorf("creating riders table: %w", err)
	}

	return nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
