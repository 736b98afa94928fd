/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces (catalog.Store, patron.Store, circulation.LoanStore,
settings.Provider, audit.Log).

CONDITIONAL WRITES:
  Every compare-and-swap the engine relies on is a single UPDATE with the
  expected state in the WHERE clause; zero rows affected means the caller
  lost the race. There is no read-modify-write anywhere on a hot path.

KEY TABLES:
  catalog_items:  inventory, status flipped conditionally
  patrons:        members; deletes blocked while loans reference them
  loans:          the circulation record; never deleted
  app_settings:   key/value policy store
  code_sequences: year-scoped counters for catalog/loan/membership codes
  audit_log:      append-only transition trail

INVARIANT INDEX:
  idx_one_active_loan_per_item is a partial unique index on loans(item_id)
  WHERE return_date IS NULL. Even if the engine's claim logic were bypassed,
  the database refuses a second active loan on one item.

TIME:
  Timestamps are stored as RFC3339 UTC text with zero-padded nanoseconds, so
  every value is the same width and SQLite's lexicographic order on the
  stored strings matches chronological order, which the due-date comparisons
  depend on.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements all persistence interfaces over one SQLite database.
// The interfaces share method names, so each is exposed as a view (views.go).
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes sequence increments
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and sidesteps
	// SQLITE_BUSY from concurrent writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS catalog_items (
		id          TEXT PRIMARY KEY,
		code        TEXT NOT NULL UNIQUE,
		type        TEXT NOT NULL DEFAULT 'book',
		title       TEXT NOT NULL,
		author      TEXT NOT NULL DEFAULT '',
		isbn        TEXT NOT NULL DEFAULT '',
		publisher   TEXT NOT NULL DEFAULT '',
		year        INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		genre       TEXT NOT NULL DEFAULT '',
		language    TEXT NOT NULL DEFAULT '',
		location    TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'available',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_status ON catalog_items(status);
	CREATE INDEX IF NOT EXISTS idx_items_title ON catalog_items(title);

	CREATE TABLE IF NOT EXISTS patrons (
		id           TEXT PRIMARY KEY,
		code         TEXT NOT NULL UNIQUE,
		first_name   TEXT NOT NULL DEFAULT '',
		last_name    TEXT NOT NULL DEFAULT '',
		email        TEXT NOT NULL DEFAULT '',
		phone        TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'active',
		borrow_limit INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_patrons_status ON patrons(status);

	CREATE TABLE IF NOT EXISTS loans (
		id            TEXT PRIMARY KEY,
		code          TEXT NOT NULL UNIQUE,
		item_id       TEXT NOT NULL REFERENCES catalog_items(id),
		patron_id     TEXT NOT NULL REFERENCES patrons(id),
		checkout_date TEXT NOT NULL,
		due_date      TEXT NOT NULL,
		return_date   TEXT,
		status        TEXT NOT NULL DEFAULT 'active',
		notes         TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loans_item ON loans(item_id);
	CREATE INDEX IF NOT EXISTS idx_loans_patron ON loans(patron_id);
	CREATE INDEX IF NOT EXISTS idx_loans_checkout ON loans(checkout_date DESC);
	CREATE INDEX IF NOT EXISTS idx_loans_due ON loans(due_date) WHERE return_date IS NULL;

	-- One active loan per item, enforced by the database itself.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_loan_per_item
		ON loans(item_id) WHERE return_date IS NULL;

	CREATE TABLE IF NOT EXISTS app_settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS code_sequences (
		scope       TEXT PRIMARY KEY,
		last_number INTEGER NOT NULL,
		last_year   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id          TEXT PRIMARY KEY,
		at          TEXT NOT NULL,
		action      TEXT NOT NULL,
		loan_id     TEXT NOT NULL,
		loan_code   TEXT NOT NULL DEFAULT '',
		patron_id   TEXT NOT NULL DEFAULT '',
		item_id     TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		old_values  TEXT NOT NULL DEFAULT '{}',
		new_values  TEXT NOT NULL DEFAULT '{}',
		actor       TEXT NOT NULL DEFAULT 'system'
	);
	CREATE INDEX IF NOT EXISTS idx_audit_loan ON audit_log(loan_id);
	CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_log(at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout keeps the fractional part fixed-width. RFC3339Nano trims
// trailing zeros, and "...12:00:00.5Z" sorts before "...12:00:00Z" as text,
// which would break every due-date and range comparison in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := decodeTime(ns.String)
	return &t
}

func like(s string) string {
	return "%" + strings.ToLower(s) + "%"
}

// yearPrefix matches RFC3339 text by calendar year without parsing.
func yearPrefix(year int) string {
	return strconv.Itoa(year) + "-%"
}

func (s *Store) rowExists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
