package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opsbooks/opsbooks/internal/domain"
)

// ─── Reconciliation Operations ──────────────────────────────────────────────

// InsertReconciliation persists a new in-progress reconciliation. The
// partial unique index turns a racing second start on the same account
// into ErrInProgressExists.
func (db *DB) InsertReconciliation(r domain.Reconciliation) error {
	_, err := db.db.Exec(`
		INSERT INTO reconciliations
			(id, account_id, statement_start, statement_end, statement_ending_balance,
			 calculated_book_balance, status, notes, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.AccountID, fmtDate(r.StatementStart), fmtDate(r.StatementEnd),
		r.StatementEndingBalance.String(), r.CalculatedBookBalance.String(),
		string(r.Status), r.Notes, r.CreatedBy, fmtTime(r.CreatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return domain.ErrInProgressExists
	}
	return err
}

// GetReconciliation retrieves one reconciliation with its cleared balance
// and difference re-derived from current posting state.
func (db *DB) GetReconciliation(id string) (*domain.Reconciliation, error) {
	row := db.db.QueryRow(reconSelect+` WHERE id = ?`, id)
	r, err := scanRecon(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReconNotFound
	}
	if err != nil {
		return nil, err
	}
	return db.withDerivedBalances(r)
}

// InProgressReconciliation returns the account's in-progress
// reconciliation, or nil when there is none.
func (db *DB) InProgressReconciliation(accountID string) (*domain.Reconciliation, error) {
	row := db.db.QueryRow(reconSelect+` WHERE account_id = ? AND status = 'in_progress'`, accountID)
	r, err := scanRecon(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return db.withDerivedBalances(r)
}

// ListReconciliations returns the account's reconciliations, newest first.
func (db *DB) ListReconciliations(accountID string) ([]domain.Reconciliation, error) {
	rows, err := db.db.Query(reconSelect+`
		WHERE account_id = ? ORDER BY created_at DESC, id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reconciliation
	for rows.Next() {
		r, err := scanRecon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		r, err := db.withDerivedBalances(&out[i])
		if err != nil {
			return nil, err
		}
		out[i] = *r
	}
	return out, nil
}

// CompleteReconciliation stamps a reconciliation completed. The status
// guard in the WHERE clause keeps a concurrent double-complete from
// stamping twice.
func (db *DB) CompleteReconciliation(id, actor string, at time.Time) error {
	res, err := db.db.Exec(`
		UPDATE reconciliations
		SET status = 'completed', completed_by = ?, completed_at = ?
		WHERE id = ? AND status = 'in_progress'
	`, actor, fmtTime(at), id)
	if err != nil {
		return err
	}
	return requireRow(res, domain.ErrNotInProgress)
}

// CancelReconciliation atomically unclears every posting held by the
// reconciliation, deletes its bank statement lines, and marks it
// cancelled. All-or-nothing: any failure leaves the session in_progress
// with no postings dangling. Ledger postings themselves are never deleted.
func (db *DB) CancelReconciliation(id, actor string, at time.Time) error {
	return db.closeReconciliation(id, actor, at, domain.ReconInProgress, domain.ReconCancelled)
}

// RollbackReconciliation reverses a completed reconciliation with the
// same single-transaction guarantee as cancel. Cleared postings return
// to uncleared (they remain ledger history); bank lines are deleted;
// adjustment records are retained.
func (db *DB) RollbackReconciliation(id, actor string, at time.Time) error {
	return db.closeReconciliation(id, actor, at, domain.ReconCompleted, domain.ReconRolledBack)
}

func (db *DB) closeReconciliation(id, actor string, at time.Time, from, to domain.ReconStatus) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE reconciliations SET status = ?, closed_by = ?, closed_at = ?
		WHERE id = ? AND status = ?
	`, string(to), actor, fmtTime(at), id, string(from))
	if err != nil {
		return err
	}
	statusErr := domain.ErrNotInProgress
	if from == domain.ReconCompleted {
		statusErr = domain.ErrNotCompleted
	}
	if err := requireRow(res, statusErr); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE ledger_postings
		SET reconciliation_id = NULL, cleared_at = NULL, cleared_by = NULL
		WHERE reconciliation_id = ?
	`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM bank_statement_lines WHERE reconciliation_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) withDerivedBalances(r *domain.Reconciliation) (*domain.Reconciliation, error) {
	cleared, err := db.ClearedBalance(r.ID)
	if err != nil {
		return nil, err
	}
	r.ClearedBalance = cleared
	r.Difference = r.StatementEndingBalance.Sub(cleared)
	return r, nil
}

// ─── Bank Statement Line Operations ─────────────────────────────────────────

// InsertBankLines inserts a chunk of imported lines in one transaction so
// a mid-chunk failure never leaves a half-written row.
func (db *DB) InsertBankLines(lines []domain.BankStatementLine) error {
	if len(lines) == 0 {
		return nil
	}
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, l := range lines {
		var running any
		if l.RunningBalance != nil {
			running = l.RunningBalance.String()
		}
		if _, err := tx.Exec(`
			INSERT INTO bank_statement_lines
				(id, reconciliation_id, external_id, transaction_date, description,
				 amount, running_balance, match_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, 'unmatched')
		`, l.ID, l.ReconciliationID, l.ExternalID, fmtDate(l.TransactionDate),
			l.Description, l.Amount.String(), running); err != nil {
			return fmt.Errorf("insert bank line %s: %w", l.ID, err)
		}
	}
	return tx.Commit()
}

// GetBankLine retrieves one bank statement line.
func (db *DB) GetBankLine(id string) (*domain.BankStatementLine, error) {
	row := db.db.QueryRow(lineSelect+` WHERE id = ?`, id)
	l, err := scanLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLineNotFound
	}
	return l, err
}

// ListBankLines returns the reconciliation's lines, statement order.
func (db *DB) ListBankLines(reconID string) ([]domain.BankStatementLine, error) {
	rows, err := db.db.Query(lineSelect+`
		WHERE reconciliation_id = ? ORDER BY transaction_date, id
	`, reconID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BankStatementLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// MatchBankLine pairs a bank line with a posting and clears that posting
// under the owning reconciliation, in one transaction. The unmatched
// guard makes a concurrent double-match fail loudly rather than silently
// double-matching.
func (db *DB) MatchBankLine(lineID string, postingID int64, status domain.MatchStatus, actor string, at time.Time) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var reconID string
	err = tx.QueryRow(`
		SELECT reconciliation_id FROM bank_statement_lines
		WHERE id = ? AND match_status = 'unmatched'
	`, lineID).Scan(&reconID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrAlreadyMatched
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE bank_statement_lines
		SET match_status = ?, matched_posting_id = ?, matched_at = ?, matched_by = ?
		WHERE id = ?
	`, string(status), postingID, fmtTime(at), actor, lineID); err != nil {
		return err
	}
	if err := clearPosting(tx, postingID, reconID, actor, at); err != nil {
		return err
	}
	return tx.Commit()
}

// UnmatchBankLine reverses a match: the posting returns to uncleared and
// the line's match fields reset, in one transaction.
func (db *DB) UnmatchBankLine(lineID string) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var reconID string
	var postingID sql.NullInt64
	err = tx.QueryRow(`
		SELECT reconciliation_id, matched_posting_id FROM bank_statement_lines WHERE id = ?
	`, lineID).Scan(&reconID, &postingID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrLineNotFound
	}
	if err != nil {
		return err
	}
	if !postingID.Valid {
		return domain.ErrNotMatched
	}

	if _, err := tx.Exec(`
		UPDATE ledger_postings
		SET reconciliation_id = NULL, cleared_at = NULL, cleared_by = NULL
		WHERE id = ? AND reconciliation_id = ?
	`, postingID.Int64, reconID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE bank_statement_lines
		SET match_status = 'unmatched', matched_posting_id = NULL, matched_at = NULL, matched_by = NULL
		WHERE id = ?
	`, lineID); err != nil {
		return err
	}
	return tx.Commit()
}

// ─── Adjustment Operations ──────────────────────────────────────────────────

// CreateAdjustment inserts the balanced posting pair under a fresh entry
// number, clears the cash-side posting under the reconciliation, and
// persists the adjustment record — all in one transaction. cashAccountID
// is the reconciliation's own account; the posting landing on it is the
// cleared side.
func (db *DB) CreateAdjustment(adj domain.ReconciliationAdjustment, entryDate time.Time, cashAccountID string) (*domain.ReconciliationAdjustment, error) {
	tx, err := db.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entryNo, err := nextEntryNumber(tx)
	if err != nil {
		return nil, err
	}
	pair := []domain.LedgerPosting{
		{
			EntryNumber:   entryNo,
			EntryDate:     entryDate,
			AccountID:     adj.DebitAccountID,
			DebitAmount:   adj.Amount,
			Description:   adj.Description,
			ReferenceKind: domain.RefAdjustment,
			ReferenceID:   adj.ReconciliationID,
		},
		{
			EntryNumber:   entryNo,
			EntryDate:     entryDate,
			AccountID:     adj.CreditAccountID,
			CreditAmount:  adj.Amount,
			Description:   adj.Description,
			ReferenceKind: domain.RefAdjustment,
			ReferenceID:   adj.ReconciliationID,
		},
	}

	var cashPostingID int64
	for _, p := range pair {
		id, err := insertPosting(tx, p)
		if err != nil {
			return nil, err
		}
		if p.AccountID == cashAccountID {
			cashPostingID = id
		}
	}
	if cashPostingID == 0 {
		return nil, domain.ErrAdjustmentOffBook
	}

	if err := clearPosting(tx, cashPostingID, adj.ReconciliationID, adj.CreatedBy, adj.CreatedAt); err != nil {
		return nil, err
	}

	adj.PostingID = cashPostingID
	if _, err := tx.Exec(`
		INSERT INTO reconciliation_adjustments
			(id, reconciliation_id, posting_id, adjustment_type, description,
			 amount, debit_account_id, credit_account_id, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, adj.ID, adj.ReconciliationID, adj.PostingID, string(adj.Type), adj.Description,
		adj.Amount.String(), adj.DebitAccountID, adj.CreditAccountID,
		adj.CreatedBy, fmtTime(adj.CreatedAt)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &adj, nil
}

// ListAdjustments returns the reconciliation's adjustments, oldest first.
func (db *DB) ListAdjustments(reconID string) ([]domain.ReconciliationAdjustment, error) {
	rows, err := db.db.Query(`
		SELECT id, reconciliation_id, posting_id, adjustment_type, description,
		       amount, debit_account_id, credit_account_id, created_by, created_at
		FROM reconciliation_adjustments
		WHERE reconciliation_id = ? ORDER BY created_at, id
	`, reconID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReconciliationAdjustment
	for rows.Next() {
		var a domain.ReconciliationAdjustment
		var typ, amount, createdAt string
		if err := rows.Scan(&a.ID, &a.ReconciliationID, &a.PostingID, &typ, &a.Description,
			&amount, &a.DebitAccountID, &a.CreditAccountID, &a.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		a.Type = domain.AdjustmentType(typ)
		a.Amount = scanDecimal(amount)
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			a.CreatedAt = t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ─── Scanning ───────────────────────────────────────────────────────────────

const reconSelect = `
	SELECT id, account_id, statement_start, statement_end, statement_ending_balance,
	       calculated_book_balance, status, notes, created_by, created_at,
	       completed_by, completed_at, closed_by, closed_at
	FROM reconciliations`

func scanRecon(r rowScanner) (*domain.Reconciliation, error) {
	var rec domain.Reconciliation
	var start, end, ending, book, status, createdAt string
	var completedBy, completedAt, closedBy, closedAt sql.NullString
	if err := r.Scan(&rec.ID, &rec.AccountID, &start, &end, &ending, &book,
		&status, &rec.Notes, &rec.CreatedBy, &createdAt,
		&completedBy, &completedAt, &closedBy, &closedAt); err != nil {
		return nil, err
	}
	rec.StatementStart = parseDate(start)
	rec.StatementEnd = parseDate(end)
	rec.StatementEndingBalance = scanDecimal(ending)
	rec.CalculatedBookBalance = scanDecimal(book)
	rec.Status = domain.ReconStatus(status)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	rec.CompletedBy = completedBy.String
	rec.CompletedAt = parseTimePtr(completedAt)
	rec.ClosedBy = closedBy.String
	rec.ClosedAt = parseTimePtr(closedAt)
	return &rec, nil
}

const lineSelect = `
	SELECT id, reconciliation_id, external_id, transaction_date, description,
	       amount, running_balance, match_status, matched_posting_id,
	       matched_at, matched_by
	FROM bank_statement_lines`

func scanLine(r rowScanner) (*domain.BankStatementLine, error) {
	var l domain.BankStatementLine
	var date, amount, status string
	var running, matchedAt, matchedBy sql.NullString
	var postingID sql.NullInt64
	if err := r.Scan(&l.ID, &l.ReconciliationID, &l.ExternalID, &date, &l.Description,
		&amount, &running, &status, &postingID, &matchedAt, &matchedBy); err != nil {
		return nil, err
	}
	l.TransactionDate = parseDate(date)
	l.Amount = scanDecimal(amount)
	l.RunningBalance = scanDecimalPtr(running)
	l.MatchStatus = domain.MatchStatus(status)
	if postingID.Valid {
		l.MatchedPostingID = &postingID.Int64
	}
	l.MatchedAt = parseTimePtr(matchedAt)
	l.MatchedBy = matchedBy.String
	return &l, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
