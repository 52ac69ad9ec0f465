// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tolerance is the maximum absolute difference at which a reconciliation
// may still be completed, and the window for exact-amount matching.
var Tolerance = decimal.New(1, -2) // 0.01

// ─── Account Types ──────────────────────────────────────────────────────────

// AccountType is the top-level ledger classification of an account.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountIncome    AccountType = "income"
	AccountExpense   AccountType = "expense"
)

// NormalBalance is the side on which an account naturally increases.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "debit"
	NormalCredit NormalBalance = "credit"
)

// Account is a general-ledger account. Cash accounts (checking, savings)
// are the subjects of bank reconciliation; all accounts participate in
// cash-flow classification.
type Account struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Type            AccountType     `json:"type"`
	Subtype         string          `json:"subtype,omitempty"`
	NormalBalance   NormalBalance   `json:"normal_balance"`
	IsCash          bool            `json:"is_cash"`
	CashFlowSection CashFlowSection `json:"cash_flow_section,omitempty"`
}

// ─── Ledger Postings ────────────────────────────────────────────────────────

// ReferenceKind identifies what produced a journal entry.
type ReferenceKind string

const (
	RefManual     ReferenceKind = "manual"
	RefInvoice    ReferenceKind = "invoice"
	RefPayment    ReferenceKind = "payment"
	RefAdjustment ReferenceKind = "adjustment"
)

// LedgerPosting is one side (debit or credit) of a journal entry against
// one account. Exactly one of DebitAmount/CreditAmount is non-zero by
// convention of the ledger. The reconciliation fields are the only part
// of a posting this system ever mutates.
type LedgerPosting struct {
	ID               int64           `json:"id"`
	EntryNumber      int64           `json:"entry_number"`
	EntryDate        time.Time       `json:"entry_date"`
	AccountID        string          `json:"account_id"`
	DebitAmount      decimal.Decimal `json:"debit_amount"`
	CreditAmount     decimal.Decimal `json:"credit_amount"`
	Description      string          `json:"description,omitempty"`
	ReferenceKind    ReferenceKind   `json:"reference_kind"`
	ReferenceID      string          `json:"reference_id,omitempty"`
	ReconciliationID string          `json:"reconciliation_id,omitempty"`
	ClearedAt        *time.Time      `json:"cleared_at,omitempty"`
	ClearedBy        string          `json:"cleared_by,omitempty"`
}

// NetAmount returns the posting's signed amount relative to the account's
// normal balance: debit−credit when debit-normal, credit−debit otherwise.
func (p LedgerPosting) NetAmount(normal NormalBalance) decimal.Decimal {
	if normal == NormalCredit {
		return p.CreditAmount.Sub(p.DebitAmount)
	}
	return p.DebitAmount.Sub(p.CreditAmount)
}

// Cleared reports whether the posting is currently cleared under any
// reconciliation.
func (p LedgerPosting) Cleared() bool { return p.ReconciliationID != "" }

// PostingDetail is a posting joined with the account metadata the
// cash-flow classifier needs. Returned by BalanceProvider.PostingsInRange.
type PostingDetail struct {
	LedgerPosting
	AccountName     string          `json:"account_name"`
	AccountType     AccountType     `json:"account_type"`
	AccountSubtype  string          `json:"account_subtype,omitempty"`
	NormalBalance   NormalBalance   `json:"normal_balance"`
	IsCashAccount   bool            `json:"is_cash_account"`
	CashFlowSection CashFlowSection `json:"cash_flow_section,omitempty"`
}

// Net returns the signed amount using the joined normal balance.
func (p PostingDetail) Net() decimal.Decimal { return p.NetAmount(p.NormalBalance) }

// ─── Bank Statement Lines ───────────────────────────────────────────────────

// MatchStatus is the match state of an imported bank statement line.
type MatchStatus string

const (
	MatchUnmatched MatchStatus = "unmatched"
	MatchManual    MatchStatus = "manually_matched"
	MatchAuto      MatchStatus = "auto_matched"
)

// BankStatementLine is one transaction as reported by the bank, owned by
// the reconciliation it was imported into. Lines are created in bulk by
// import, mutated by match/unmatch, and frozen once the owning
// reconciliation completes.
type BankStatementLine struct {
	ID               string           `json:"id"`
	ReconciliationID string           `json:"reconciliation_id"`
	ExternalID       string           `json:"external_id,omitempty"`
	TransactionDate  time.Time        `json:"transaction_date"`
	Description      string           `json:"description,omitempty"`
	Amount           decimal.Decimal  `json:"amount"` // signed: deposits positive
	RunningBalance   *decimal.Decimal `json:"running_balance,omitempty"`
	MatchStatus      MatchStatus      `json:"match_status"`
	MatchedPostingID *int64           `json:"matched_posting_id,omitempty"`
	MatchedAt        *time.Time       `json:"matched_at,omitempty"`
	MatchedBy        string           `json:"matched_by,omitempty"`
}

// Matched reports whether the line is currently matched to a posting.
func (l BankStatementLine) Matched() bool { return l.MatchStatus != MatchUnmatched }

// ParsedBankLine is the importer's normalized output before any line is
// persisted. Check/reference numbers are carried through for display.
type ParsedBankLine struct {
	TransactionDate time.Time        `json:"transaction_date"`
	Description     string           `json:"description"`
	Amount          decimal.Decimal  `json:"amount"`
	RunningBalance  *decimal.Decimal `json:"running_balance,omitempty"`
	CheckNumber     string           `json:"check_number,omitempty"`
	ReferenceNumber string           `json:"reference_number,omitempty"`
}

// ParseResult is a decoded statement file: the lines that parsed plus the
// per-line errors for the ones that did not. A file with some bad rows
// still yields its good rows.
type ParseResult struct {
	Lines  []ParsedBankLine `json:"lines"`
	Errors []string         `json:"errors,omitempty"`
}

// ─── Reconciliations ────────────────────────────────────────────────────────

// ReconStatus is the lifecycle state of a reconciliation.
type ReconStatus string

const (
	ReconInProgress ReconStatus = "in_progress"
	ReconCompleted  ReconStatus = "completed"
	ReconCancelled  ReconStatus = "cancelled"
	ReconRolledBack ReconStatus = "rolled_back"
)

// Reconciliation is one statement-period reconciliation attempt for one
// account. ClearedBalance and Difference are always re-derived from the
// postings currently pointing at this reconciliation, never incremented.
type Reconciliation struct {
	ID                     string          `json:"id"`
	AccountID              string          `json:"account_id"`
	StatementStart         time.Time       `json:"statement_start"`
	StatementEnd           time.Time       `json:"statement_end"`
	StatementEndingBalance decimal.Decimal `json:"statement_ending_balance"`
	CalculatedBookBalance  decimal.Decimal `json:"calculated_book_balance"`
	ClearedBalance         decimal.Decimal `json:"cleared_balance"`
	Difference             decimal.Decimal `json:"difference"`
	Status                 ReconStatus     `json:"status"`
	Notes                  string          `json:"notes,omitempty"`
	CreatedBy              string          `json:"created_by"`
	CreatedAt              time.Time       `json:"created_at"`
	CompletedBy            string          `json:"completed_by,omitempty"`
	CompletedAt            *time.Time      `json:"completed_at,omitempty"`
	ClosedBy               string          `json:"closed_by,omitempty"` // cancel or rollback actor
	ClosedAt               *time.Time      `json:"closed_at,omitempty"`
}

// Balanced reports whether the difference is within completion tolerance.
func (r Reconciliation) Balanced() bool {
	return r.Difference.Abs().Cmp(Tolerance) <= 0
}

// ─── Adjustments ────────────────────────────────────────────────────────────

// AdjustmentType categorizes a reconciling adjustment.
type AdjustmentType string

const (
	AdjBankFee        AdjustmentType = "bank_fee"
	AdjInterestIncome AdjustmentType = "interest_income"
	AdjNSF            AdjustmentType = "nsf"
	AdjCorrection     AdjustmentType = "correction"
	AdjOther          AdjustmentType = "other"
)

// ReconciliationAdjustment records a journal-entry-backed correction
// scoped to one reconciliation. PostingID links the cash-side posting so
// cancel/rollback can unmatch it. Never updated after creation.
type ReconciliationAdjustment struct {
	ID               string          `json:"id"`
	ReconciliationID string          `json:"reconciliation_id"`
	PostingID        int64           `json:"posting_id"`
	Type             AdjustmentType  `json:"type"`
	Description      string          `json:"description,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	DebitAccountID   string          `json:"debit_account_id"`
	CreditAccountID  string          `json:"credit_account_id"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ─── Auto-Match Suggestions ─────────────────────────────────────────────────

// Confidence tiers a suggestion by match strength.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// AutoMatchSuggestion proposes pairing one unmatched bank line with one
// uncleared posting. Ephemeral — never persisted; applying it goes
// through the match operation.
type AutoMatchSuggestion struct {
	BankLineID      string          `json:"bank_line_id"`
	PostingID       int64           `json:"posting_id"`
	Confidence      Confidence      `json:"confidence"`
	Score           float64         `json:"score"`
	Amount          decimal.Decimal `json:"amount"`
	DateDeltaDays   int             `json:"date_delta_days"`
	LineDescription string          `json:"line_description,omitempty"`
	PostingMemo     string          `json:"posting_memo,omitempty"`
}

// ─── Cash-Flow Statement ────────────────────────────────────────────────────

// CashFlowSection buckets a journal entry's cash effect.
type CashFlowSection string

const (
	SectionOperating    CashFlowSection = "operating"
	SectionInvesting    CashFlowSection = "investing"
	SectionFinancing    CashFlowSection = "financing"
	SectionNonCash      CashFlowSection = "non_cash"
	SectionUnclassified CashFlowSection = "unclassified"
)

// Priority orders sections for whole-entry classification: an entry
// touching both operating and investing accounts reports under investing.
func (s CashFlowSection) Priority() int {
	switch s {
	case SectionInvesting:
		return 3
	case SectionFinancing:
		return 2
	case SectionOperating:
		return 1
	default:
		return 0
	}
}

// CashFlowLine is one labeled line item within a statement section.
type CashFlowLine struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// CashFlowGroup is one categorized section of the statement.
type CashFlowGroup struct {
	Section  CashFlowSection `json:"section"`
	Lines    []CashFlowLine  `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// CashFlowStatement is the derived three-section statement for a date
// range and a set of cash accounts. Purely computed; never stored.
// Warning is set when beginning + net change disagrees with ending cash
// beyond tolerance, which indicates an inconsistent posting fetch.
type CashFlowStatement struct {
	Start         time.Time       `json:"start"`
	End           time.Time       `json:"end"`
	CashAccounts  []string        `json:"cash_accounts"`
	BeginningCash decimal.Decimal `json:"beginning_cash"`
	EndingCash    decimal.Decimal `json:"ending_cash"`
	Operating     CashFlowGroup   `json:"operating"`
	Investing     CashFlowGroup   `json:"investing"`
	Financing     CashFlowGroup   `json:"financing"`
	Unclassified  decimal.Decimal `json:"unclassified"`
	NetChange     decimal.Decimal `json:"net_change"`
	Warning       string          `json:"warning,omitempty"`
}
