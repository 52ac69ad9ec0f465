package recon

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opsbooks/opsbooks/internal/domain"
	"github.com/opsbooks/opsbooks/internal/infra/sqlite"
)

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

func newTestSession(t *testing.T) (*Session, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	accounts := []domain.Account{
		{ID: "checking", Name: "Business Checking", Type: domain.AccountAsset, NormalBalance: domain.NormalDebit, IsCash: true},
		{ID: "revenue", Name: "Service Revenue", Type: domain.AccountIncome, NormalBalance: domain.NormalCredit},
		{ID: "bank_fees", Name: "Bank Service Charges", Type: domain.AccountExpense, NormalBalance: domain.NormalDebit},
	}
	for _, a := range accounts {
		if err := db.UpsertAccount(a); err != nil {
			t.Fatalf("UpsertAccount: %v", err)
		}
	}

	clock := domain.ClockFunc(func() time.Time {
		return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	})
	return New(DefaultConfig(), db, sqlite.NewProvider(db), clock), db
}

// postEntry writes one balanced entry hitting checking and revenue.
func postEntry(t *testing.T, db *sqlite.DB, day, amount, memo string) {
	t.Helper()
	amt := dec(amount)
	checking := domain.LedgerPosting{AccountID: "checking", DebitAmount: amt}
	revenue := domain.LedgerPosting{AccountID: "revenue", CreditAmount: amt}
	if amt.IsNegative() {
		checking = domain.LedgerPosting{AccountID: "checking", CreditAmount: amt.Neg()}
		revenue = domain.LedgerPosting{AccountID: "revenue", DebitAmount: amt.Neg()}
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

func startRecon(t *testing.T, s *Session, ending string) *domain.Reconciliation {
	t.Helper()
	rec, err := s.Start(context.Background(), "alice", "checking",
		date("2026-01-01"), date("2026-01-31"), dec(ending), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return rec
}

// ─── Start ──────────────────────────────────────────────────────────────────

func TestStartSnapshotsBookBalance(t *testing.T) {
	s, db := newTestSession(t)
	postEntry(t, db, "2026-01-05", "5000", "deposit")
	postEntry(t, db, "2026-02-05", "999", "next period")

	rec := startRecon(t, s, "5000")
	if rec.Status != domain.ReconInProgress {
		t.Errorf("Status = %s", rec.Status)
	}
	if !rec.CalculatedBookBalance.Equal(dec("5000")) {
		t.Errorf("CalculatedBookBalance = %s, want 5000 (postings after statement end excluded)", rec.CalculatedBookBalance)
	}
	if !rec.ClearedBalance.IsZero() {
		t.Errorf("ClearedBalance = %s, want 0", rec.ClearedBalance)
	}
	if !rec.Difference.Equal(dec("5000")) {
		t.Errorf("initial Difference = %s, want the full statement ending balance", rec.Difference)
	}
	if rec.CreatedBy != "alice" {
		t.Errorf("CreatedBy = %q", rec.CreatedBy)
	}
}

func TestStartValidation(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	if _, err := s.Start(ctx, "", "checking", date("2026-01-01"), date("2026-01-31"), dec("0"), ""); !errors.Is(err, domain.ErrNoActor) {
		t.Errorf("no actor err = %v", err)
	}
	if _, err := s.Start(ctx, "alice", "checking", date("2026-01-31"), date("2026-01-01"), dec("0"), ""); !errors.Is(err, domain.ErrInvalidDateRange) {
		t.Errorf("reversed dates err = %v", err)
	}
	if _, err := s.Start(ctx, "alice", "revenue", date("2026-01-01"), date("2026-01-31"), dec("0"), ""); !errors.Is(err, domain.ErrNotCashAccount) {
		t.Errorf("non-cash account err = %v", err)
	}
	if _, err := s.Start(ctx, "alice", "missing", date("2026-01-01"), date("2026-01-31"), dec("0"), ""); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("missing account err = %v", err)
	}
}

func TestStartRejectsSecondInProgress(t *testing.T) {
	s, _ := newTestSession(t)
	startRecon(t, s, "0")
	_, err := s.Start(context.Background(), "bob", "checking",
		date("2026-02-01"), date("2026-02-28"), dec("0"), "")
	if !errors.Is(err, domain.ErrInProgressExists) {
		t.Errorf("err = %v, want ErrInProgressExists", err)
	}
}

// ─── Toggle ─────────────────────────────────────────────────────────────────

func TestToggleClearedRoundTrip(t *testing.T) {
	s, db := newTestSession(t)
	postEntry(t, db, "2026-01-05", "100", "deposit")
	rec := startRecon(t, s, "100")

	postings, err := s.UnclearedPostings(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("UnclearedPostings: %v", err)
	}
	if len(postings) != 1 {
		t.Fatalf("got %d uncleared postings, want 1", len(postings))
	}
	pid := postings[0].ID

	got, err := s.ToggleCleared(context.Background(), "alice", rec.ID, pid)
	if err != nil {
		t.Fatalf("ToggleCleared: %v", err)
	}
	if !got.ClearedBalance.Equal(dec("100")) {
		t.Errorf("ClearedBalance after clear = %s, want 100", got.ClearedBalance)
	}
	if !got.Difference.IsZero() {
		t.Errorf("Difference after clear = %s, want 0", got.Difference)
	}

	// Toggling again unclears.
	got, err = s.ToggleCleared(context.Background(), "alice", rec.ID, pid)
	if err != nil {
		t.Fatalf("ToggleCleared (unclear): %v", err)
	}
	if !got.ClearedBalance.IsZero() {
		t.Errorf("ClearedBalance after unclear = %s, want 0", got.ClearedBalance)
	}
}

func TestToggleClearedRejectsForeignPosting(t *testing.T) {
	s, db := newTestSession(t)
	postEntry(t, db, "2026-01-05", "100", "deposit")
	rec := startRecon(t, s, "100")

	// The revenue side of the entry is not on the reconciled account.
	postings, _ := db.UnclearedPostings("revenue", date("2026-01-31"))
	if len(postings) != 1 {
		t.Fatalf("got %d revenue postings, want 1", len(postings))
	}
	if _, err := s.ToggleCleared(context.Background(), "alice", rec.ID, postings[0].ID); !errors.Is(err, domain.ErrForeignPosting) {
		t.Errorf("err = %v, want ErrForeignPosting", err)
	}
}

func TestToggleClearedRequiresActor(t *testing.T) {
	s, _ := newTestSession(t)
	rec := startRecon(t, s, "0")
	if _, err := s.ToggleCleared(context.Background(), "", rec.ID, 1); !errors.Is(err, domain.ErrNoActor) {
		t.Errorf("err = %v, want ErrNoActor", err)
	}
}

// ─── Complete ───────────────────────────────────────────────────────────────

func TestCompleteToleranceGate(t *testing.T) {
	// A one-cent difference completes; a two-cent difference does not.
	tests := []struct {
		name   string
		ending string
		wantOK bool
	}{
		{"exact", "100.00", true},
		{"one cent off", "100.01", true},
		{"two cents off", "100.02", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, db := newTestSession(t)
			postEntry(t, db, "2026-01-05", "100.00", "deposit")
			rec := startRecon(t, s, tt.ending)

			postings, _ := s.UnclearedPostings(context.Background(), rec.ID)
			if _, err := s.ToggleCleared(context.Background(), "alice", rec.ID, postings[0].ID); err != nil {
				t.Fatalf("ToggleCleared: %v", err)
			}

			got, err := s.Complete(context.Background(), "alice", rec.ID)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("Complete: %v", err)
				}
				if got.Status != domain.ReconCompleted || got.CompletedBy != "alice" || got.CompletedAt == nil {
					t.Errorf("completed rec = %+v", got)
				}
				return
			}
			if !errors.Is(err, domain.ErrOutOfBalance) {
				t.Fatalf("err = %v, want ErrOutOfBalance", err)
			}
			// Failure must leave the session in progress with state intact.
			cur, _ := s.Get(context.Background(), rec.ID)
			if cur.Status != domain.ReconInProgress {
				t.Errorf("status after failed complete = %s", cur.Status)
			}
			if !cur.ClearedBalance.Equal(dec("100.00")) {
				t.Errorf("cleared balance after failed complete = %s", cur.ClearedBalance)
			}
		})
	}
}

func TestCompleteLargeDifferenceReportsAmount(t *testing.T) {
	s, db := newTestSession(t)
	postEntry(t, db, "2026-01-05", "5000", "deposit")
	rec := startRecon(t, s, "10000")

	postings, _ := s.UnclearedPostings(context.Background(), rec.ID)
	s.ToggleCleared(context.Background(), "alice", rec.ID, postings[0].ID)

	_, err := s.Complete(context.Background(), "alice", rec.ID)
	if !errors.Is(err, domain.ErrOutOfBalance) {
		t.Fatalf("err = %v, want ErrOutOfBalance", err)
	}
	if got := err.Error(); !strings.Contains(got, "5000.00") {
		t.Errorf("error should carry the difference, got %q", got)
	}
}

// ─── Cancel & Rollback ──────────────────────────────────────────────────────

func TestCancelReleasesClearedPostings(t *testing.T) {
	s, db := newTestSession(t)
	postEntry(t, db, "2026-01-05", "100", "deposit")
	rec := startRecon(t, s, "100")

	postings, _ := s.UnclearedPostings(context.Background(), rec.ID)
	pid := postings[0].ID
	s.ToggleCleared(context.Background(), "alice", rec.ID, pid)

	if err := s.Cancel(context.Background(), "alice", rec.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	cur, _ := s.Get(context.Background(), rec.ID)
	if cur.Status != domain.ReconCancelled {
		t.Errorf("status = %s", cur.Status)
	}
	p, _ := db.GetPosting(pid)
	if p.Cleared() {
		t.Error("cancel should release the posting")
	}
	// A new session can start immediately.
	if _, err := s.Start(context.Background(), "bob", "checking",
		date("2026-01-01"), date("2026-01-31"), dec("100"), ""); err != nil {
		t.Fatalf("Start after cancel: %v", err)
	}
}

func TestRollbackCompletedSession(t *testing.T) {
	s, db := newTestSession(t)
	postEntry(t, db, "2026-01-05", "100", "deposit")
	rec := startRecon(t, s, "100")

	postings, _ := s.UnclearedPostings(context.Background(), rec.ID)
	pid := postings[0].ID
	s.ToggleCleared(context.Background(), "alice", rec.ID, pid)
	if _, err := s.Complete(context.Background(), "alice", rec.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Rollback requires completed status.
	if err := s.Rollback(context.Background(), "admin", rec.ID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	cur, _ := s.Get(context.Background(), rec.ID)
	if cur.Status != domain.ReconRolledBack {
		t.Errorf("status = %s", cur.Status)
	}
	p, _ := db.GetPosting(pid)
	if p.Cleared() {
		t.Error("rollback should release the posting")
	}
}

func TestRollbackRejectsInProgress(t *testing.T) {
	s, _ := newTestSession(t)
	rec := startRecon(t, s, "0")
	if err := s.Rollback(context.Background(), "admin", rec.ID); !errors.Is(err, domain.ErrNotCompleted) {
		t.Errorf("err = %v, want ErrNotCompleted", err)
	}
}

// ─── Adjustments ────────────────────────────────────────────────────────────

func TestCreateAdjustmentBankFee(t *testing.T) {
	s, db := newTestSession(t)
	postEntry(t, db, "2026-01-05", "500", "deposit")
	// Bank shows 475: the 500 deposit minus a 25 service fee the books
	// don't have yet.
	rec := startRecon(t, s, "475")

	postings, _ := s.UnclearedPostings(context.Background(), rec.ID)
	s.ToggleCleared(context.Background(), "alice", rec.ID, postings[0].ID)

	adj, err := s.CreateAdjustment(context.Background(), "alice", rec.ID, AdjustmentRequest{
		Type:            domain.AdjBankFee,
		Description:     "Monthly service fee",
		Amount:          dec("25"),
		DebitAccountID:  "bank_fees",
		CreditAccountID: "checking",
	})
	if err != nil {
		t.Fatalf("CreateAdjustment: %v", err)
	}
	if adj.PostingID == 0 {
		t.Fatal("adjustment should link a posting")
	}

	// The cash side was cleared automatically, so the session now balances
	// and completes.
	got, err := s.Complete(context.Background(), "alice", rec.ID)
	if err != nil {
		t.Fatalf("Complete after adjustment: %v", err)
	}
	if !got.ClearedBalance.Equal(dec("475")) {
		t.Errorf("ClearedBalance = %s, want 475", got.ClearedBalance)
	}

	list, _ := s.Adjustments(context.Background(), rec.ID)
	if len(list) != 1 || list[0].Type != domain.AdjBankFee {
		t.Errorf("Adjustments = %+v", list)
	}
}

func TestCreateAdjustmentValidation(t *testing.T) {
	s, _ := newTestSession(t)
	rec := startRecon(t, s, "0")
	ctx := context.Background()

	base := AdjustmentRequest{
		Type:            domain.AdjBankFee,
		Amount:          dec("25"),
		DebitAccountID:  "bank_fees",
		CreditAccountID: "checking",
	}

	req := base
	req.Amount = dec("0")
	if _, err := s.CreateAdjustment(ctx, "alice", rec.ID, req); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero amount err = %v", err)
	}
	req = base
	req.Amount = dec("-5")
	if _, err := s.CreateAdjustment(ctx, "alice", rec.ID, req); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("negative amount err = %v", err)
	}
	req = base
	req.CreditAccountID = "bank_fees"
	if _, err := s.CreateAdjustment(ctx, "alice", rec.ID, req); !errors.Is(err, domain.ErrSameAccount) {
		t.Errorf("same account err = %v", err)
	}
	req = base
	req.DebitAccountID = "revenue"
	req.CreditAccountID = "bank_fees"
	if _, err := s.CreateAdjustment(ctx, "alice", rec.ID, req); !errors.Is(err, domain.ErrAdjustmentOffBook) {
		t.Errorf("off-book err = %v", err)
	}
	if _, err := s.CreateAdjustment(ctx, "", rec.ID, base); !errors.Is(err, domain.ErrNoActor) {
		t.Errorf("no actor err = %v", err)
	}
}

// ─── End to End ─────────────────────────────────────────────────────────────

func TestFullReconciliationCycle(t *testing.T) {
	s, db := newTestSession(t)
	postEntry(t, db, "2026-01-05", "5000", "customer deposit")
	postEntry(t, db, "2026-01-12", "-2000", "vendor payment")
	postEntry(t, db, "2026-01-20", "7000", "customer deposit")

	rec := startRecon(t, s, "10000")
	if !rec.CalculatedBookBalance.Equal(dec("10000")) {
		t.Fatalf("book balance = %s, want 10000", rec.CalculatedBookBalance)
	}

	postings, _ := s.UnclearedPostings(context.Background(), rec.ID)
	if len(postings) != 3 {
		t.Fatalf("got %d uncleared postings, want 3", len(postings))
	}
	var cur *domain.Reconciliation
	var err error
	for _, p := range postings {
		cur, err = s.ToggleCleared(context.Background(), "alice", rec.ID, p.ID)
		if err != nil {
			t.Fatalf("ToggleCleared: %v", err)
		}
	}
	if !cur.Difference.IsZero() {
		t.Fatalf("difference after clearing all = %s", cur.Difference)
	}

	got, err := s.Complete(context.Background(), "alice", rec.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Status != domain.ReconCompleted {
		t.Errorf("status = %s", got.Status)
	}

	history, _ := s.List(context.Background(), "checking")
	if len(history) != 1 || history[0].Status != domain.ReconCompleted {
		t.Errorf("history = %+v", history)
	}
}
