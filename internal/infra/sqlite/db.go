// Package sqlite is the durable store: a single SQLite file holding every
// committed account, transaction, employee, escrow, payment and admin.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite has a single writer, and ":memory:" is per-connection.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB, path: path}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error { return db.db.Close() }

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Ping checks the connection (health endpoint).
func (db *DB) Ping() error { return db.db.Ping() }

func (db *DB) migrate() error {
	for i, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements, one per entry.
func Migrations() []string {
	return []string{
		// Ledger balances; both columns are guarded non-negative
		`CREATE TABLE IF NOT EXISTS accounts (
			identity        TEXT PRIMARY KEY,
			native_balance  INTEGER NOT NULL DEFAULT 0 CHECK (native_balance >= 0),
			payroll_balance INTEGER NOT NULL DEFAULT 0 CHECK (payroll_balance >= 0)
		)`,

		// Append-only audit trail
		`CREATE TABLE IF NOT EXISTS transactions (
			seq       INTEGER PRIMARY KEY AUTOINCREMENT,
			id        TEXT NOT NULL UNIQUE,
			type      TEXT NOT NULL,
			amount    INTEGER NOT NULL,
			from_id   TEXT NOT NULL DEFAULT '',
			to_id     TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			status    TEXT NOT NULL,
			metadata  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions(from_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_to ON transactions(to_id)`,

		`CREATE TABLE IF NOT EXISTS employees (
			id         TEXT PRIMARY KEY,
			identity   TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL,
			position   TEXT NOT NULL DEFAULT '',
			salary     INTEGER NOT NULL CHECK (salary >= 0),
			wallet_ref TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL,
			join_date  INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS escrows (
			id                 TEXT PRIMARY KEY,
			title              TEXT NOT NULL,
			total_amount       INTEGER NOT NULL CHECK (total_amount > 0),
			funded_amount      INTEGER NOT NULL CHECK (funded_amount >= 0 AND funded_amount <= total_amount),
			employee_count     INTEGER NOT NULL,
			release_date       INTEGER NOT NULL DEFAULT 0,
			status             TEXT NOT NULL,
			approvals          TEXT NOT NULL DEFAULT '[]',
			required_approvals INTEGER NOT NULL,
			creator            TEXT NOT NULL,
			payees             TEXT NOT NULL DEFAULT '[]',
			created_at         INTEGER NOT NULL,
			released_at        INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_escrows_status ON escrows(status, release_date)`,

		// Payment records are written once, inside the distribution commit
		`CREATE TABLE IF NOT EXISTS payments (
			seq              INTEGER PRIMARY KEY AUTOINCREMENT,
			id               TEXT NOT NULL UNIQUE,
			employee_id      TEXT NOT NULL,
			amount           INTEGER NOT NULL CHECK (amount > 0),
			timestamp        INTEGER NOT NULL,
			escrow_id        TEXT NOT NULL REFERENCES escrows(id),
			transaction_hash TEXT NOT NULL,
			status           TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_employee ON payments(employee_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_escrow ON payments(escrow_id)`,

		`CREATE TABLE IF NOT EXISTS admins (
			identity TEXT PRIMARY KEY
		)`,

		// Scalar settings (exchange rate)
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
	}
}
