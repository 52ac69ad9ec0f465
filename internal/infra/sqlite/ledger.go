package sqlite

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opsbooks/opsbooks/internal/domain"
)

// ─── Posting Operations ─────────────────────────────────────────────────────

// InsertEntry inserts all sides of one journal entry under a fresh shared
// entry number and returns that number. The caller is responsible for the
// entry balancing; ledger posting rules live outside this system.
func (db *DB) InsertEntry(postings []domain.LedgerPosting) (int64, error) {
	if len(postings) == 0 {
		return 0, errors.New("insert entry: no postings")
	}
	tx, err := db.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	entryNo, err := nextEntryNumber(tx)
	if err != nil {
		return 0, err
	}
	for i := range postings {
		postings[i].EntryNumber = entryNo
		if _, err := insertPosting(tx, postings[i]); err != nil {
			return 0, err
		}
	}
	return entryNo, tx.Commit()
}

func nextEntryNumber(tx *sql.Tx) (int64, error) {
	var n int64
	err := tx.QueryRow(`SELECT COALESCE(MAX(entry_number), 0) + 1 FROM ledger_postings`).Scan(&n)
	return n, err
}

func insertPosting(tx *sql.Tx, p domain.LedgerPosting) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO ledger_postings
			(entry_number, entry_date, account_id, debit_amount, credit_amount,
			 description, reference_kind, reference_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.EntryNumber, fmtDate(p.EntryDate), p.AccountID,
		p.DebitAmount.String(), p.CreditAmount.String(),
		p.Description, string(p.ReferenceKind), nullStr(p.ReferenceID))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetPosting retrieves one posting.
func (db *DB) GetPosting(id int64) (*domain.LedgerPosting, error) {
	row := db.db.QueryRow(postingSelect+` WHERE id = ?`, id)
	p, err := scanPosting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPostingNotFound
	}
	return p, err
}

// UnclearedPostings returns the account's postings not cleared under any
// reconciliation, dated on or before through, oldest first.
func (db *DB) UnclearedPostings(accountID string, through time.Time) ([]domain.LedgerPosting, error) {
	rows, err := db.db.Query(postingSelect+`
		WHERE account_id = ? AND reconciliation_id IS NULL AND entry_date <= ?
		ORDER BY entry_date, id
	`, accountID, fmtDate(through))
	if err != nil {
		return nil, err
	}
	return collectPostings(rows)
}

// ClearedPostings returns every posting currently cleared under the given
// reconciliation.
func (db *DB) ClearedPostings(reconID string) ([]domain.LedgerPosting, error) {
	rows, err := db.db.Query(postingSelect+`
		WHERE reconciliation_id = ?
		ORDER BY entry_date, id
	`, reconID)
	if err != nil {
		return nil, err
	}
	return collectPostings(rows)
}

// ClearPosting assigns an unassigned posting to the reconciliation and
// stamps cleared-at/by. Fails with ErrAlreadyCleared when the posting is
// already held by any reconciliation (the WHERE guard makes a double
// clear race lose cleanly).
func (db *DB) ClearPosting(postingID int64, reconID, actor string, at time.Time) error {
	return clearPosting(db.db, postingID, reconID, actor, at)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func clearPosting(e execer, postingID int64, reconID, actor string, at time.Time) error {
	res, err := e.Exec(`
		UPDATE ledger_postings
		SET reconciliation_id = ?, cleared_at = ?, cleared_by = ?
		WHERE id = ? AND reconciliation_id IS NULL
	`, reconID, fmtTime(at), actor, postingID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAlreadyCleared
	}
	return nil
}

// UnclearPosting releases a posting held by the given reconciliation.
// A posting held elsewhere (or not at all) is left untouched.
func (db *DB) UnclearPosting(postingID int64, reconID string) error {
	res, err := db.db.Exec(`
		UPDATE ledger_postings
		SET reconciliation_id = NULL, cleared_at = NULL, cleared_by = NULL
		WHERE id = ? AND reconciliation_id = ?
	`, postingID, reconID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAlreadyCleared
	}
	return nil
}

// ClearedBalance re-derives the sum of net signed amounts of all postings
// currently cleared under the reconciliation. Always a fresh read of
// posting state — never an incrementally maintained counter.
func (db *DB) ClearedBalance(reconID string) (decimal.Decimal, error) {
	rows, err := db.db.Query(`
		SELECT p.debit_amount, p.credit_amount, a.normal_balance
		FROM ledger_postings p
		JOIN accounts a ON a.id = p.account_id
		WHERE p.reconciliation_id = ?
	`, reconID)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var debit, credit, normal string
		if err := rows.Scan(&debit, &credit, &normal); err != nil {
			return decimal.Zero, err
		}
		p := domain.LedgerPosting{DebitAmount: scanDecimal(debit), CreditAmount: scanDecimal(credit)}
		total = total.Add(p.NetAmount(domain.NormalBalance(normal)))
	}
	return total, rows.Err()
}

// ─── Scanning ───────────────────────────────────────────────────────────────

const postingSelect = `
	SELECT id, entry_number, entry_date, account_id, debit_amount, credit_amount,
	       description, reference_kind, reference_id, reconciliation_id,
	       cleared_at, cleared_by
	FROM ledger_postings`

func scanPosting(r rowScanner) (*domain.LedgerPosting, error) {
	var p domain.LedgerPosting
	var entryDate, debit, credit, refKind string
	var refID, reconID, clearedAt, clearedBy sql.NullString
	if err := r.Scan(&p.ID, &p.EntryNumber, &entryDate, &p.AccountID, &debit, &credit,
		&p.Description, &refKind, &refID, &reconID, &clearedAt, &clearedBy); err != nil {
		return nil, err
	}
	p.EntryDate = parseDate(entryDate)
	p.DebitAmount = scanDecimal(debit)
	p.CreditAmount = scanDecimal(credit)
	p.ReferenceKind = domain.ReferenceKind(refKind)
	p.ReferenceID = refID.String
	p.ReconciliationID = reconID.String
	p.ClearedAt = parseTimePtr(clearedAt)
	p.ClearedBy = clearedBy.String
	return &p, nil
}

func collectPostings(rows *sql.Rows) ([]domain.LedgerPosting, error) {
	defer rows.Close()
	var out []domain.LedgerPosting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func inPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func inArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
