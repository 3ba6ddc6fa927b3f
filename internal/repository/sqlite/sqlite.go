// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// modernc.org/sqlite is a pure Go translation of the SQLite C code, so the
// binary builds without a C toolchain and cross-compiles cleanly.
//
// TRANSACTION SCOPE:
// Every repository method runs as its own short statement against the pool.
// There is no application-level locking: two requests that race on the same
// OAuth provider id are settled by the UNIQUE indexes below, and the loser
// sees apperror.ErrConflict (see UserDB.Create).
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps a sql.DB connection pool. Table-specific methods live on the
// views returned by Users and Sponsorships.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/services.db"  → file-based database (persistent)
//   - ":memory:"          → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// An in-memory database lives and dies with its connection. A pool of
	// several connections would hand each one a different empty database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. sponsorships.user_id relies on them.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
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

// Users returns the users table view.
func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn}
}

// Sponsorships returns the sponsorships table view.
func (db *DB) Sponsorships() *SponsorshipDB {
	return &SponsorshipDB{conn: db.conn}
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent,
// so it runs on every start and from the `migrate` command alike.
func (db *DB) migrate() error {
	// Optional identity columns are NULL, not empty strings, when unset so the
	// UNIQUE constraints only bite between real values.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			email             TEXT NOT NULL UNIQUE,
			username          TEXT UNIQUE,
			full_name         TEXT NOT NULL DEFAULT '',
			github_id         TEXT UNIQUE,
			google_id         TEXT UNIQUE,
			linkedin_id       TEXT UNIQUE,
			avatar_url        TEXT NOT NULL DEFAULT '',
			github_username   TEXT NOT NULL DEFAULT '',
			linkedin_username TEXT NOT NULL DEFAULT '',
			password_hash     TEXT NOT NULL DEFAULT '',
			created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS sponsorships (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id           INTEGER NOT NULL REFERENCES users(id),
			plan_type         TEXT NOT NULL,
			amount_cents      INTEGER NOT NULL,
			currency          TEXT NOT NULL DEFAULT 'USD',
			payment_id        TEXT NOT NULL UNIQUE,
			payment_status    TEXT NOT NULL DEFAULT 'pending',
			invoice_url       TEXT NOT NULL DEFAULT '',
			transaction_id    TEXT UNIQUE,
			team_size         INTEGER NOT NULL DEFAULT 1,
			github_sponsor_id TEXT NOT NULL DEFAULT '',
			created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at      DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_sponsorships_user_id ON sponsorships(user_id);
		CREATE INDEX IF NOT EXISTS idx_sponsorships_status ON sponsorships(payment_status);
	`)
	if err != nil {
		return fmt.Errorf("creating sponsorships table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is SQLite rejecting a duplicate value
// for a UNIQUE or PRIMARY KEY column.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
