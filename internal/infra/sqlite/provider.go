package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opsbooks/opsbooks/internal/domain"
)

// Provider implements domain.BalanceProvider over the store. The GL
// "views" the UI consumes (book balances, period activity) exist only as
// these derived queries — they are never writable entities.
type Provider struct {
	db *DB
}

// NewProvider creates the balance provider.
func NewProvider(db *DB) *Provider { return &Provider{db: db} }

var _ domain.BalanceProvider = (*Provider)(nil)

// Balance returns the posted balance of the given accounts as of the end
// of asOf. Sums are computed in Go over exact decimal text, not in SQL.
func (pr *Provider) Balance(ctx context.Context, accountIDs []string, asOf time.Time) (decimal.Decimal, error) {
	if len(accountIDs) == 0 {
		return decimal.Zero, nil
	}
	args := append(inArgs(accountIDs), fmtDate(asOf))
	rows, err := pr.db.db.QueryContext(ctx, `
		SELECT p.debit_amount, p.credit_amount, a.normal_balance
		FROM ledger_postings p
		JOIN accounts a ON a.id = p.account_id
		WHERE p.account_id IN (`+inPlaceholders(len(accountIDs))+`) AND p.entry_date <= ?
	`, args...)
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

// PostingsInRange returns all sides of every journal entry that touches
// one of the given accounts within [start, end], with account metadata.
func (pr *Provider) PostingsInRange(ctx context.Context, start, end time.Time, accountIDs []string) ([]domain.PostingDetail, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	args := append(inArgs(accountIDs), fmtDate(start), fmtDate(end))
	rows, err := pr.db.db.QueryContext(ctx, `
		SELECT p.id, p.entry_number, p.entry_date, p.account_id,
		       p.debit_amount, p.credit_amount, p.description,
		       p.reference_kind, p.reference_id, p.reconciliation_id,
		       a.name, a.type, a.subtype, a.normal_balance, a.is_cash, a.cash_flow_section
		FROM ledger_postings p
		JOIN accounts a ON a.id = p.account_id
		WHERE p.entry_number IN (
			SELECT DISTINCT entry_number FROM ledger_postings
			WHERE account_id IN (`+inPlaceholders(len(accountIDs))+`)
			  AND entry_date >= ? AND entry_date <= ?
		)
		ORDER BY p.entry_number, p.id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PostingDetail
	for rows.Next() {
		var d domain.PostingDetail
		var entryDate, debit, credit, refKind string
		var refID, reconID sql.NullString
		var typ, normal, section string
		var isCash int
		if err := rows.Scan(&d.ID, &d.EntryNumber, &entryDate, &d.AccountID,
			&debit, &credit, &d.Description, &refKind, &refID, &reconID,
			&d.AccountName, &typ, &d.AccountSubtype, &normal, &isCash, &section); err != nil {
			return nil, err
		}
		d.EntryDate = parseDate(entryDate)
		d.DebitAmount = scanDecimal(debit)
		d.CreditAmount = scanDecimal(credit)
		d.ReferenceKind = domain.ReferenceKind(refKind)
		d.ReferenceID = refID.String
		d.ReconciliationID = reconID.String
		d.AccountType = domain.AccountType(typ)
		d.NormalBalance = domain.NormalBalance(normal)
		d.IsCashAccount = isCash == 1
		d.CashFlowSection = domain.CashFlowSection(section)
		out = append(out, d)
	}
	return out, rows.Err()
}
