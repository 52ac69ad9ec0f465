// Package sqlite provides persistence for accounts, ledger postings,
// reconciliations, bank statement lines, and adjustments.
// Multi-step reconciliation effects (cancel, rollback, adjustment
// creation) run inside a single transaction here — never as client-side
// step sequences.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database under dir and applies migrations.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, "opsbooks.db")
	handle, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent handlers.
	handle.SetMaxOpenConns(1)

	db := &DB{db: handle}
	if err := db.migrate(); err != nil {
		handle.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying handle.
func (db *DB) Close() error { return db.db.Close() }

func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
// Amounts are stored as exact decimal TEXT; dates as ISO-8601 TEXT.
func Migrations() []string {
	return []string{
		// Chart of accounts (minimal slice the reconciliation core needs)
		`CREATE TABLE IF NOT EXISTS accounts (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			type              TEXT NOT NULL,
			subtype           TEXT NOT NULL DEFAULT '',
			normal_balance    TEXT NOT NULL DEFAULT 'debit',
			is_cash           INTEGER NOT NULL DEFAULT 0,
			cash_flow_section TEXT NOT NULL DEFAULT ''
		)`,

		// Journal postings. reconciliation_id/cleared_at/cleared_by are the
		// only columns the reconciliation workflow ever mutates.
		`CREATE TABLE IF NOT EXISTS ledger_postings (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_number      INTEGER NOT NULL,
			entry_date        TEXT NOT NULL,
			account_id        TEXT NOT NULL REFERENCES accounts(id),
			debit_amount      TEXT NOT NULL DEFAULT '0',
			credit_amount     TEXT NOT NULL DEFAULT '0',
			description       TEXT NOT NULL DEFAULT '',
			reference_kind    TEXT NOT NULL DEFAULT 'manual',
			reference_id      TEXT,
			reconciliation_id TEXT,
			cleared_at        TEXT,
			cleared_by        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posting_entry ON ledger_postings(entry_number)`,
		`CREATE INDEX IF NOT EXISTS idx_posting_account_date ON ledger_postings(account_id, entry_date)`,
		`CREATE INDEX IF NOT EXISTS idx_posting_recon ON ledger_postings(reconciliation_id)`,

		// Reconciliation attempts
		`CREATE TABLE IF NOT EXISTS reconciliations (
			id                       TEXT PRIMARY KEY,
			account_id               TEXT NOT NULL REFERENCES accounts(id),
			statement_start          TEXT NOT NULL,
			statement_end            TEXT NOT NULL,
			statement_ending_balance TEXT NOT NULL,
			calculated_book_balance  TEXT NOT NULL,
			status                   TEXT NOT NULL DEFAULT 'in_progress',
			notes                    TEXT NOT NULL DEFAULT '',
			created_by               TEXT NOT NULL,
			created_at               TEXT NOT NULL,
			completed_by             TEXT,
			completed_at             TEXT,
			closed_by                TEXT,
			closed_at                TEXT
		)`,
		// One in-progress reconciliation per account, enforced at the store
		// so two racing starts cannot both succeed.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_recon_in_progress
			ON reconciliations(account_id) WHERE status = 'in_progress'`,
		`CREATE INDEX IF NOT EXISTS idx_recon_account ON reconciliations(account_id, created_at)`,

		// Imported bank statement lines, owned by one reconciliation
		`CREATE TABLE IF NOT EXISTS bank_statement_lines (
			id                 TEXT PRIMARY KEY,
			reconciliation_id  TEXT NOT NULL REFERENCES reconciliations(id),
			external_id        TEXT NOT NULL DEFAULT '',
			transaction_date   TEXT NOT NULL,
			description        TEXT NOT NULL DEFAULT '',
			amount             TEXT NOT NULL,
			running_balance    TEXT,
			match_status       TEXT NOT NULL DEFAULT 'unmatched',
			matched_posting_id INTEGER,
			matched_at         TEXT,
			matched_by         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_line_recon ON bank_statement_lines(reconciliation_id, match_status)`,

		// Reconciling adjustments (bank fees, NSF, corrections)
		`CREATE TABLE IF NOT EXISTS reconciliation_adjustments (
			id                TEXT PRIMARY KEY,
			reconciliation_id TEXT NOT NULL REFERENCES reconciliations(id),
			posting_id        INTEGER NOT NULL,
			adjustment_type   TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			amount            TEXT NOT NULL,
			debit_account_id  TEXT NOT NULL,
			credit_account_id TEXT NOT NULL,
			created_by        TEXT NOT NULL,
			created_at        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_adjustment_recon ON reconciliation_adjustments(reconciliation_id)`,
	}
}

// ─── Scan Helpers ───────────────────────────────────────────────────────────

const dateLayout = time.DateOnly

func fmtDate(t time.Time) string { return t.Format(dateLayout) }

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func scanDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func scanDecimalPtr(s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	d := scanDecimal(s.String)
	return &d
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
