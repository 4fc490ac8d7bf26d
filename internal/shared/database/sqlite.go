package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// OpenSQLite opens a SQLite database with the given DSN and applies the
// schema. The pool is pinned to one connection: SQLite serialises writers
// anyway, and ":memory:" databases exist per connection.
func OpenSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := MigrateSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// MigrateSQLite creates the schema. It mirrors migrations/0001_init.sql with
// times stored as unix nanoseconds, booleans as 0/1 and JSON and class
// lists as TEXT.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			email_verified INTEGER NOT NULL DEFAULT 0,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'CLIENT'
				CHECK (role IN ('CLIENT', 'INTERNAL_STAFF', 'ATTORNEY', 'ADMIN')),
			last_login_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			expires_at INTEGER NOT NULL,
			ip_address TEXT,
			user_agent TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
			sequence_number INTEGER NOT NULL UNIQUE,
			customer_number TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS attorneys (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS internal_staff (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cases (
			id TEXT PRIMARY KEY,
			case_number TEXT NOT NULL UNIQUE,
			sequence_number INTEGER NOT NULL,
			user_id TEXT NOT NULL REFERENCES users(id),
			title TEXT NOT NULL,
			trademark_type TEXT NOT NULL CHECK (trademark_type IN ('TEXT', 'LOGO')),
			applicant TEXT NOT NULL DEFAULT '',
			classes TEXT NOT NULL DEFAULT '[]',
			trademark_details TEXT,
			class_selections TEXT,
			class_category TEXT,
			product_service TEXT,
			client_intake TEXT,
			consultation_route TEXT
				CHECK (consultation_route IN ('AI_SELF_SERVICE', 'ATTORNEY_CONSULTATION')),
			consultation_started INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'DRAFT',
			notes TEXT,
			assigned_attorney_id TEXT REFERENCES attorneys(id) ON DELETE SET NULL,
			assigned_internal_staff_id TEXT REFERENCES internal_staff(id) ON DELETE SET NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			deleted_at INTEGER,
			UNIQUE (user_id, sequence_number)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
			sender_id TEXT NOT NULL REFERENCES users(id),
			content TEXT NOT NULL,
			subject TEXT,
			is_flagged INTEGER NOT NULL DEFAULT 0,
			attachments TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS message_reads (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			read_at INTEGER NOT NULL,
			UNIQUE (message_id, user_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_cases_user ON cases(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);`,
		`CREATE INDEX IF NOT EXISTS idx_cases_attorney ON cases(assigned_attorney_id);`,
		`CREATE INDEX IF NOT EXISTS idx_cases_internal_staff ON cases(assigned_internal_staff_id);`,
		`CREATE INDEX IF NOT EXISTS idx_cases_updated ON cases(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_case ON messages(case_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_message_reads_user ON message_reads(user_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// IsSQLiteUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure. When columns is non-empty the failure message must
// name that column list, e.g. "cases.user_id, cases.sequence_number".
func IsSQLiteUniqueViolation(err error, columns string) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
	default:
		return false
	}
	return columns == "" || strings.Contains(sqliteErr.Error(), columns)
}

// ToNanos converts a time to the stored representation.
func ToNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

// FromNanos converts a stored time back, in UTC.
func FromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// NullNanos converts an optional time to a driver argument.
func NullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ToNanos(*t)
}

// FromNullNanos converts a scanned optional time.
func FromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := FromNanos(n.Int64)
	return &t
}

// BoolInt converts a bool to SQLite's 0/1.
func BoolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
