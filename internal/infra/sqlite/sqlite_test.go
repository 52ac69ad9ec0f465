package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opsbooks/opsbooks/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func date(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedChecking(t *testing.T, db *DB) domain.Account {
	t.Helper()
	a := domain.Account{
		ID:            "checking",
		Name:          "Business Checking",
		Type:          domain.AccountAsset,
		NormalBalance: domain.NormalDebit,
		IsCash:        true,
	}
	if err := db.UpsertAccount(a); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	return a
}

func seedRevenue(t *testing.T, db *DB) domain.Account {
	t.Helper()
	a := domain.Account{
		ID:            "revenue",
		Name:          "Service Revenue",
		Type:          domain.AccountIncome,
		NormalBalance: domain.NormalCredit,
	}
	if err := db.UpsertAccount(a); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	return a
}

// postEntry writes a balanced two-sided entry: debit checking, credit
// revenue (or the reverse for a negative amount).
func postEntry(t *testing.T, db *DB, day, amount, memo string) {
	t.Helper()
	amt := dec(amount)
	var checking, revenue domain.LedgerPosting
	if amt.IsNegative() {
		checking = domain.LedgerPosting{AccountID: "checking", CreditAmount: amt.Neg()}
		revenue = domain.LedgerPosting{AccountID: "revenue", DebitAmount: amt.Neg()}
	} else {
		checking = domain.LedgerPosting{AccountID: "checking", DebitAmount: amt}
		revenue = domain.LedgerPosting{AccountID: "revenue", CreditAmount: amt}
	}
	for _, p := range []*domain.LedgerPosting{&checking, &revenue} {
		p.EntryDate = date(day)
		p.Description = memo
		p.ReferenceKind = domain.RefManual
	}
	if _, err := db.InsertEntry([]domain.LedgerPosting{checking, revenue}); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
}

func newRecon(t *testing.T, db *DB, id string, ending string) domain.Reconciliation {
	t.Helper()
	rec := domain.Reconciliation{
		ID:                     id,
		AccountID:              "checking",
		StatementStart:         date("2026-01-01"),
		StatementEnd:           date("2026-01-31"),
		StatementEndingBalance: dec(ending),
		CalculatedBookBalance:  dec(ending),
		Status:                 domain.ReconInProgress,
		CreatedBy:              "alice",
		CreatedAt:              time.Now(),
	}
	if err := db.InsertReconciliation(rec); err != nil {
		t.Fatalf("InsertReconciliation: %v", err)
	}
	return rec
}

// ─── Accounts ───────────────────────────────────────────────────────────────

func TestAccountRoundTrip(t *testing.T) {
	db := newTestDB(t)
	want := domain.Account{
		ID:              "truck",
		Name:            "Service Truck",
		Type:            domain.AccountAsset,
		Subtype:         "fixed_asset",
		NormalBalance:   domain.NormalDebit,
		CashFlowSection: domain.SectionInvesting,
	}
	if err := db.UpsertAccount(want); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	got, err := db.GetAccount("truck")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if *got != want {
		t.Errorf("GetAccount = %+v, want %+v", *got, want)
	}

	// Upsert updates in place.
	want.Name = "Service Truck #2"
	if err := db.UpsertAccount(want); err != nil {
		t.Fatalf("UpsertAccount update: %v", err)
	}
	got, err = db.GetAccount("truck")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Name != "Service Truck #2" {
		t.Errorf("Name after upsert = %q", got.Name)
	}
}

func TestGetAccountMissing(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetAccount("nope"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestCashAccountIDs(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	seedRevenue(t, db)

	ids, err := db.CashAccountIDs()
	if err != nil {
		t.Fatalf("CashAccountIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "checking" {
		t.Errorf("CashAccountIDs = %v, want [checking]", ids)
	}
}

// ─── Postings ───────────────────────────────────────────────────────────────

func TestInsertEntrySharesEntryNumber(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	seedRevenue(t, db)
	postEntry(t, db, "2026-01-05", "100", "invoice 1")
	postEntry(t, db, "2026-01-06", "200", "invoice 2")

	postings, err := db.UnclearedPostings("checking", date("2026-01-31"))
	if err != nil {
		t.Fatalf("UnclearedPostings: %v", err)
	}
	if len(postings) != 2 {
		t.Fatalf("got %d postings, want 2", len(postings))
	}
	if postings[0].EntryNumber == postings[1].EntryNumber {
		t.Error("separate entries should get distinct entry numbers")
	}
	if postings[0].EntryNumber != 1 || postings[1].EntryNumber != 2 {
		t.Errorf("entry numbers = %d, %d; want 1, 2", postings[0].EntryNumber, postings[1].EntryNumber)
	}
}

func TestUnclearedPostingsHonorsThroughDate(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	seedRevenue(t, db)
	postEntry(t, db, "2026-01-10", "100", "in period")
	postEntry(t, db, "2026-02-10", "200", "after period")

	postings, err := db.UnclearedPostings("checking", date("2026-01-31"))
	if err != nil {
		t.Fatalf("UnclearedPostings: %v", err)
	}
	if len(postings) != 1 {
		t.Fatalf("got %d postings, want 1", len(postings))
	}
	if postings[0].Description != "in period" {
		t.Errorf("Description = %q", postings[0].Description)
	}
}

func TestClearPostingGuards(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	seedRevenue(t, db)
	postEntry(t, db, "2026-01-05", "100", "x")
	newRecon(t, db, "rec-a", "100")

	postings, _ := db.UnclearedPostings("checking", date("2026-01-31"))
	id := postings[0].ID

	if err := db.ClearPosting(id, "rec-a", "alice", time.Now()); err != nil {
		t.Fatalf("ClearPosting: %v", err)
	}
	// Second clear loses, even for a different reconciliation.
	if err := db.ClearPosting(id, "rec-a", "bob", time.Now()); !errors.Is(err, domain.ErrAlreadyCleared) {
		t.Errorf("double clear err = %v, want ErrAlreadyCleared", err)
	}

	p, err := db.GetPosting(id)
	if err != nil {
		t.Fatalf("GetPosting: %v", err)
	}
	if p.ReconciliationID != "rec-a" || p.ClearedBy != "alice" || p.ClearedAt == nil {
		t.Errorf("cleared posting = %+v", p)
	}

	if err := db.UnclearPosting(id, "rec-a"); err != nil {
		t.Fatalf("UnclearPosting: %v", err)
	}
	p, _ = db.GetPosting(id)
	if p.Cleared() || p.ClearedAt != nil || p.ClearedBy != "" {
		t.Errorf("posting after unclear = %+v", p)
	}
}

func TestClearedBalanceDerivation(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	seedRevenue(t, db)
	postEntry(t, db, "2026-01-05", "5000", "deposit")
	postEntry(t, db, "2026-01-12", "-2000", "payment")
	newRecon(t, db, "rec-a", "3000")

	postings, _ := db.UnclearedPostings("checking", date("2026-01-31"))
	for _, p := range postings {
		if err := db.ClearPosting(p.ID, "rec-a", "alice", time.Now()); err != nil {
			t.Fatalf("ClearPosting: %v", err)
		}
	}

	cleared, err := db.ClearedBalance("rec-a")
	if err != nil {
		t.Fatalf("ClearedBalance: %v", err)
	}
	if !cleared.Equal(dec("3000")) {
		t.Errorf("ClearedBalance = %s, want 3000", cleared)
	}

	rec, err := db.GetReconciliation("rec-a")
	if err != nil {
		t.Fatalf("GetReconciliation: %v", err)
	}
	if !rec.ClearedBalance.Equal(dec("3000")) {
		t.Errorf("derived ClearedBalance = %s", rec.ClearedBalance)
	}
	if !rec.Difference.IsZero() {
		t.Errorf("Difference = %s, want 0", rec.Difference)
	}
}

// ─── Reconciliations ────────────────────────────────────────────────────────

func TestInProgressUniquePerAccount(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	newRecon(t, db, "rec-a", "100")

	dup := domain.Reconciliation{
		ID:                     "rec-b",
		AccountID:              "checking",
		StatementStart:         date("2026-02-01"),
		StatementEnd:           date("2026-02-28"),
		StatementEndingBalance: dec("0"),
		CalculatedBookBalance:  dec("0"),
		Status:                 domain.ReconInProgress,
		CreatedBy:              "bob",
		CreatedAt:              time.Now(),
	}
	if err := db.InsertReconciliation(dup); !errors.Is(err, domain.ErrInProgressExists) {
		t.Fatalf("second in-progress insert err = %v, want ErrInProgressExists", err)
	}

	// Once the first is no longer in progress, a new one is allowed.
	if err := db.CompleteReconciliation("rec-a", "alice", time.Now()); err != nil {
		t.Fatalf("CompleteReconciliation: %v", err)
	}
	if err := db.InsertReconciliation(dup); err != nil {
		t.Fatalf("insert after complete: %v", err)
	}
}

func TestCompleteReconciliationStatusGuard(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	newRecon(t, db, "rec-a", "0")

	if err := db.CompleteReconciliation("rec-a", "alice", time.Now()); err != nil {
		t.Fatalf("CompleteReconciliation: %v", err)
	}
	if err := db.CompleteReconciliation("rec-a", "bob", time.Now()); !errors.Is(err, domain.ErrNotInProgress) {
		t.Errorf("double complete err = %v, want ErrNotInProgress", err)
	}

	rec, _ := db.GetReconciliation("rec-a")
	if rec.Status != domain.ReconCompleted || rec.CompletedBy != "alice" || rec.CompletedAt == nil {
		t.Errorf("completed rec = %+v", rec)
	}
}

func TestCancelReleasesEverything(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	seedRevenue(t, db)
	postEntry(t, db, "2026-01-05", "100", "x")
	newRecon(t, db, "rec-a", "100")

	postings, _ := db.UnclearedPostings("checking", date("2026-01-31"))
	if err := db.ClearPosting(postings[0].ID, "rec-a", "alice", time.Now()); err != nil {
		t.Fatalf("ClearPosting: %v", err)
	}
	lines := []domain.BankStatementLine{{
		ID:               "line-1",
		ReconciliationID: "rec-a",
		TransactionDate:  date("2026-01-05"),
		Amount:           dec("100"),
		MatchStatus:      domain.MatchUnmatched,
	}}
	if err := db.InsertBankLines(lines); err != nil {
		t.Fatalf("InsertBankLines: %v", err)
	}

	if err := db.CancelReconciliation("rec-a", "alice", time.Now()); err != nil {
		t.Fatalf("CancelReconciliation: %v", err)
	}

	rec, _ := db.GetReconciliation("rec-a")
	if rec.Status != domain.ReconCancelled || rec.ClosedBy != "alice" {
		t.Errorf("cancelled rec = %+v", rec)
	}
	p, _ := db.GetPosting(postings[0].ID)
	if p.Cleared() {
		t.Error("cancel should release cleared postings")
	}
	got, _ := db.ListBankLines("rec-a")
	if len(got) != 0 {
		t.Errorf("cancel should delete bank lines, found %d", len(got))
	}
	// The ledger posting itself survives.
	remaining, _ := db.UnclearedPostings("checking", date("2026-01-31"))
	if len(remaining) != 1 {
		t.Errorf("ledger postings should never be deleted, found %d", len(remaining))
	}
}

func TestCancelRequiresInProgress(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	newRecon(t, db, "rec-a", "0")
	db.CompleteReconciliation("rec-a", "alice", time.Now())

	if err := db.CancelReconciliation("rec-a", "bob", time.Now()); !errors.Is(err, domain.ErrNotInProgress) {
		t.Errorf("cancel completed err = %v, want ErrNotInProgress", err)
	}
}

func TestRollbackRequiresCompleted(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	seedRevenue(t, db)
	postEntry(t, db, "2026-01-05", "100", "x")
	newRecon(t, db, "rec-a", "100")

	if err := db.RollbackReconciliation("rec-a", "admin", time.Now()); !errors.Is(err, domain.ErrNotCompleted) {
		t.Fatalf("rollback in-progress err = %v, want ErrNotCompleted", err)
	}

	postings, _ := db.UnclearedPostings("checking", date("2026-01-31"))
	db.ClearPosting(postings[0].ID, "rec-a", "alice", time.Now())
	if err := db.CompleteReconciliation("rec-a", "alice", time.Now()); err != nil {
		t.Fatalf("CompleteReconciliation: %v", err)
	}
	if err := db.RollbackReconciliation("rec-a", "admin", time.Now()); err != nil {
		t.Fatalf("RollbackReconciliation: %v", err)
	}

	rec, _ := db.GetReconciliation("rec-a")
	if rec.Status != domain.ReconRolledBack {
		t.Errorf("status = %s, want rolled_back", rec.Status)
	}
	p, _ := db.GetPosting(postings[0].ID)
	if p.Cleared() {
		t.Error("rollback should release cleared postings")
	}
}

// ─── Bank Lines & Matching ──────────────────────────────────────────────────

func TestMatchBankLineTransaction(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	seedRevenue(t, db)
	postEntry(t, db, "2026-01-05", "100", "deposit")
	newRecon(t, db, "rec-a", "100")

	postings, _ := db.UnclearedPostings("checking", date("2026-01-31"))
	pid := postings[0].ID
	db.InsertBankLines([]domain.BankStatementLine{{
		ID:               "line-1",
		ReconciliationID: "rec-a",
		TransactionDate:  date("2026-01-05"),
		Amount:           dec("100"),
		MatchStatus:      domain.MatchUnmatched,
	}})

	if err := db.MatchBankLine("line-1", pid, domain.MatchAuto, "alice", time.Now()); err != nil {
		t.Fatalf("MatchBankLine: %v", err)
	}

	line, _ := db.GetBankLine("line-1")
	if line.MatchStatus != domain.MatchAuto || line.MatchedPostingID == nil || *line.MatchedPostingID != pid {
		t.Errorf("matched line = %+v", line)
	}
	p, _ := db.GetPosting(pid)
	if p.ReconciliationID != "rec-a" {
		t.Errorf("posting should be cleared under rec-a, got %q", p.ReconciliationID)
	}

	// Double match fails and leaves state intact.
	if err := db.MatchBankLine("line-1", pid, domain.MatchManual, "bob", time.Now()); !errors.Is(err, domain.ErrAlreadyMatched) {
		t.Errorf("double match err = %v, want ErrAlreadyMatched", err)
	}

	// Unmatch restores the pre-match state.
	if err := db.UnmatchBankLine("line-1"); err != nil {
		t.Fatalf("UnmatchBankLine: %v", err)
	}
	line, _ = db.GetBankLine("line-1")
	if line.Matched() || line.MatchedPostingID != nil || line.MatchedAt != nil {
		t.Errorf("unmatched line = %+v", line)
	}
	p, _ = db.GetPosting(pid)
	if p.Cleared() {
		t.Error("unmatch should unclear the posting")
	}
}

func TestMatchFailsWhenPostingTaken(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	seedRevenue(t, db)
	postEntry(t, db, "2026-01-05", "100", "deposit")
	newRecon(t, db, "rec-a", "100")

	postings, _ := db.UnclearedPostings("checking", date("2026-01-31"))
	pid := postings[0].ID
	db.ClearPosting(pid, "rec-a", "alice", time.Now())
	db.InsertBankLines([]domain.BankStatementLine{{
		ID:               "line-1",
		ReconciliationID: "rec-a",
		TransactionDate:  date("2026-01-05"),
		Amount:           dec("100"),
		MatchStatus:      domain.MatchUnmatched,
	}})

	if err := db.MatchBankLine("line-1", pid, domain.MatchAuto, "bob", time.Now()); !errors.Is(err, domain.ErrAlreadyCleared) {
		t.Fatalf("match on taken posting err = %v, want ErrAlreadyCleared", err)
	}
	// The line must not be left half-matched.
	line, _ := db.GetBankLine("line-1")
	if line.Matched() {
		t.Error("failed match should leave the line unmatched")
	}
}

func TestUnmatchUnmatchedLine(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	newRecon(t, db, "rec-a", "0")
	db.InsertBankLines([]domain.BankStatementLine{{
		ID:               "line-1",
		ReconciliationID: "rec-a",
		TransactionDate:  date("2026-01-05"),
		Amount:           dec("100"),
		MatchStatus:      domain.MatchUnmatched,
	}})
	if err := db.UnmatchBankLine("line-1"); !errors.Is(err, domain.ErrNotMatched) {
		t.Errorf("err = %v, want ErrNotMatched", err)
	}
}

// ─── Adjustments ────────────────────────────────────────────────────────────

func TestCreateAdjustmentAtomic(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	db.UpsertAccount(domain.Account{
		ID: "bank_fees", Name: "Bank Service Charges",
		Type: domain.AccountExpense, NormalBalance: domain.NormalDebit,
	})
	newRecon(t, db, "rec-a", "0")

	adj := domain.ReconciliationAdjustment{
		ID:               "adj-1",
		ReconciliationID: "rec-a",
		Type:             domain.AdjBankFee,
		Description:      "Monthly service fee",
		Amount:           dec("25"),
		DebitAccountID:   "bank_fees",
		CreditAccountID:  "checking",
		CreatedBy:        "alice",
		CreatedAt:        time.Now(),
	}
	created, err := db.CreateAdjustment(adj, date("2026-01-31"), "checking")
	if err != nil {
		t.Fatalf("CreateAdjustment: %v", err)
	}
	if created.PostingID == 0 {
		t.Fatal("adjustment should link its cash-side posting")
	}

	// The cash side is cleared under the reconciliation; the expense side
	// exists but is untouched.
	p, err := db.GetPosting(created.PostingID)
	if err != nil {
		t.Fatalf("GetPosting: %v", err)
	}
	if p.AccountID != "checking" || p.ReconciliationID != "rec-a" {
		t.Errorf("cash-side posting = %+v", p)
	}
	if !p.CreditAmount.Equal(dec("25")) {
		t.Errorf("CreditAmount = %s, want 25", p.CreditAmount)
	}
	if p.ReferenceKind != domain.RefAdjustment || p.ReferenceID != "rec-a" {
		t.Errorf("reference = %s/%s", p.ReferenceKind, p.ReferenceID)
	}

	cleared, _ := db.ClearedBalance("rec-a")
	if !cleared.Equal(dec("-25")) {
		t.Errorf("ClearedBalance = %s, want -25", cleared)
	}

	list, err := db.ListAdjustments("rec-a")
	if err != nil {
		t.Fatalf("ListAdjustments: %v", err)
	}
	if len(list) != 1 || list[0].ID != "adj-1" || !list[0].Amount.Equal(dec("25")) {
		t.Errorf("ListAdjustments = %+v", list)
	}
}

func TestCreateAdjustmentOffBook(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	seedRevenue(t, db)
	db.UpsertAccount(domain.Account{
		ID: "bank_fees", Name: "Bank Service Charges",
		Type: domain.AccountExpense, NormalBalance: domain.NormalDebit,
	})
	newRecon(t, db, "rec-a", "0")

	adj := domain.ReconciliationAdjustment{
		ID:               "adj-1",
		ReconciliationID: "rec-a",
		Type:             domain.AdjOther,
		Amount:           dec("10"),
		DebitAccountID:   "bank_fees",
		CreditAccountID:  "revenue",
		CreatedBy:        "alice",
		CreatedAt:        time.Now(),
	}
	if _, err := db.CreateAdjustment(adj, date("2026-01-31"), "checking"); !errors.Is(err, domain.ErrAdjustmentOffBook) {
		t.Fatalf("err = %v, want ErrAdjustmentOffBook", err)
	}
	// The rolled-back entry must leave no postings behind.
	postings, _ := db.UnclearedPostings("bank_fees", date("2026-12-31"))
	if len(postings) != 0 {
		t.Errorf("off-book adjustment should write nothing, found %d postings", len(postings))
	}
}

// ─── Balance Provider ───────────────────────────────────────────────────────

func TestProviderBalance(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	seedRevenue(t, db)
	postEntry(t, db, "2026-01-05", "5000", "deposit")
	postEntry(t, db, "2026-01-12", "-2000", "payment")
	postEntry(t, db, "2026-02-01", "999", "next month")

	pr := NewProvider(db)
	got, err := pr.Balance(context.Background(), []string{"checking"}, date("2026-01-31"))
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !got.Equal(dec("3000")) {
		t.Errorf("Balance = %s, want 3000", got)
	}

	// Credit-normal account sums with the opposite sign convention.
	got, err = pr.Balance(context.Background(), []string{"revenue"}, date("2026-01-31"))
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !got.Equal(dec("3000")) {
		t.Errorf("revenue Balance = %s, want 3000", got)
	}

	got, err = pr.Balance(context.Background(), nil, date("2026-01-31"))
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("empty account set balance = %s, want 0", got)
	}
}

func TestProviderPostingsInRangeFetchesWholeEntries(t *testing.T) {
	db := newTestDB(t)
	seedChecking(t, db)
	seedRevenue(t, db)
	postEntry(t, db, "2026-01-05", "100", "in range")
	postEntry(t, db, "2026-03-05", "100", "out of range")

	pr := NewProvider(db)
	postings, err := pr.PostingsInRange(context.Background(), date("2026-01-01"), date("2026-01-31"), []string{"checking"})
	if err != nil {
		t.Fatalf("PostingsInRange: %v", err)
	}
	// Both sides of the in-range entry, nothing from the out-of-range one.
	if len(postings) != 2 {
		t.Fatalf("got %d postings, want 2", len(postings))
	}
	var sawCash, sawRevenue bool
	for _, p := range postings {
		if p.IsCashAccount {
			sawCash = true
		}
		if p.AccountID == "revenue" {
			sawRevenue = true
			if p.AccountType != domain.AccountIncome || p.NormalBalance != domain.NormalCredit {
				t.Errorf("revenue detail = %+v", p)
			}
		}
	}
	if !sawCash || !sawRevenue {
		t.Errorf("expected both entry sides, got cash=%v revenue=%v", sawCash, sawRevenue)
	}
}
