// Package recon owns the bank reconciliation workflow: the session
// lifecycle (start, toggle-cleared, complete, cancel, rollback) and the
// adjustment writer.
//
// The session:
//  1. Checks preconditions (actor, status, dates) before any write
//  2. Re-derives cleared balance from posting state after each mutation
//  3. Gates completion on |difference| <= tolerance
//  4. Delegates multi-step effects to single store transactions
package recon

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opsbooks/opsbooks/internal/domain"
	"github.com/opsbooks/opsbooks/internal/infra/observability"
	"github.com/opsbooks/opsbooks/internal/infra/sqlite"
)

// Config controls session behavior.
type Config struct {
	Tolerance decimal.Decimal // Max |difference| allowed at completion (default: 0.01)
}

// DefaultConfig returns the standard completion gate.
func DefaultConfig() Config {
	return Config{Tolerance: domain.Tolerance}
}

// Session drives reconciliation lifecycles for all accounts.
type Session struct {
	config   Config
	db       *sqlite.DB
	balances domain.BalanceProvider
	clock    domain.Clock
}

// New creates the session service.
func New(cfg Config, db *sqlite.DB, balances domain.BalanceProvider, clock domain.Clock) *Session {
	if clock == nil {
		clock = domain.ClockFunc(time.Now)
	}
	if cfg.Tolerance.IsZero() {
		cfg.Tolerance = domain.Tolerance
	}
	return &Session{config: cfg, db: db, balances: balances, clock: clock}
}

// Start creates an in-progress reconciliation for the account's statement
// period. The book balance is snapshotted via the balance provider as of
// the statement end date; cleared balance starts at zero so the initial
// difference equals the statement ending balance.
func (s *Session) Start(ctx context.Context, actor, accountID string, start, end time.Time, endingBalance decimal.Decimal, notes string) (*domain.Reconciliation, error) {
	defer observability.ObserveOp("start", s.clock.Now())
	if actor == "" {
		return nil, domain.ErrNoActor
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: start %s, end %s",
			domain.ErrInvalidDateRange, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	account, err := s.db.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsCash {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotCashAccount, accountID)
	}
	// Check-before-start guard; the store's unique index backs it up
	// against a racing second start.
	if existing, err := s.db.InProgressReconciliation(accountID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInProgressExists, existing.ID)
	}

	book, err := s.balances.Balance(ctx, []string{accountID}, end)
	if err != nil {
		return nil, fmt.Errorf("book balance: %w", err)
	}

	rec := domain.Reconciliation{
		ID:                     uuid.NewString(),
		AccountID:              accountID,
		StatementStart:         start,
		StatementEnd:           end,
		StatementEndingBalance: endingBalance,
		CalculatedBookBalance:  book,
		ClearedBalance:         decimal.Zero,
		Difference:             endingBalance,
		Status:                 domain.ReconInProgress,
		Notes:                  notes,
		CreatedBy:              actor,
		CreatedAt:              s.clock.Now(),
	}
	if err := s.db.InsertReconciliation(rec); err != nil {
		return nil, err
	}
	observability.ReconciliationsTotal.WithLabelValues("started").Inc()
	log.Printf("recon: started %s for account %s (%s..%s)", rec.ID, accountID,
		start.Format(time.DateOnly), end.Format(time.DateOnly))
	return &rec, nil
}

// Get returns a reconciliation with balances re-derived from current
// posting state.
func (s *Session) Get(ctx context.Context, id string) (*domain.Reconciliation, error) {
	return s.db.GetReconciliation(id)
}

// List returns an account's reconciliations, newest first.
func (s *Session) List(ctx context.Context, accountID string) ([]domain.Reconciliation, error) {
	return s.db.ListReconciliations(accountID)
}

// ToggleCleared flips one posting's cleared state for the session: an
// unassigned posting becomes cleared here; a posting already cleared here
// becomes uncleared. Returns the reconciliation with balances re-derived.
func (s *Session) ToggleCleared(ctx context.Context, actor, reconID string, postingID int64) (*domain.Reconciliation, error) {
	defer observability.ObserveOp("toggle", s.clock.Now())
	if actor == "" {
		return nil, domain.ErrNoActor
	}
	rec, err := s.requireStatus(reconID, domain.ReconInProgress)
	if err != nil {
		return nil, err
	}
	posting, err := s.db.GetPosting(postingID)
	if err != nil {
		return nil, err
	}
	if posting.AccountID != rec.AccountID {
		return nil, fmt.Errorf("%w: posting %d is on %s", domain.ErrForeignPosting, postingID, posting.AccountID)
	}

	switch posting.ReconciliationID {
	case "":
		if err := s.db.ClearPosting(postingID, reconID, actor, s.clock.Now()); err != nil {
			return nil, err
		}
		observability.PostingsToggled.WithLabelValues("cleared").Inc()
	case reconID:
		if err := s.db.UnclearPosting(postingID, reconID); err != nil {
			return nil, err
		}
		observability.PostingsToggled.WithLabelValues("uncleared").Inc()
	default:
		return nil, fmt.Errorf("%w: posting %d held by %s",
			domain.ErrAlreadyCleared, postingID, posting.ReconciliationID)
	}
	return s.db.GetReconciliation(reconID)
}

// Complete finishes an in-progress reconciliation. Fails with the current
// difference when the tolerance gate is not met, so the caller can report
// why rather than just that it failed.
func (s *Session) Complete(ctx context.Context, actor, reconID string) (*domain.Reconciliation, error) {
	defer observability.ObserveOp("complete", s.clock.Now())
	if actor == "" {
		return nil, domain.ErrNoActor
	}
	rec, err := s.requireStatus(reconID, domain.ReconInProgress)
	if err != nil {
		return nil, err
	}
	if rec.Difference.Abs().Cmp(s.config.Tolerance) > 0 {
		return nil, fmt.Errorf("%w: difference is %s", domain.ErrOutOfBalance, rec.Difference.StringFixed(2))
	}
	if err := s.db.CompleteReconciliation(reconID, actor, s.clock.Now()); err != nil {
		return nil, err
	}
	observability.ReconciliationsTotal.WithLabelValues("completed").Inc()
	log.Printf("recon: completed %s (difference %s)", reconID, rec.Difference.StringFixed(2))
	return s.db.GetReconciliation(reconID)
}

// Cancel abandons an in-progress reconciliation: every cleared posting is
// released, every imported bank line is deleted, and the status flips to
// cancelled — atomically. Ledger postings are never deleted.
func (s *Session) Cancel(ctx context.Context, actor, reconID string) error {
	defer observability.ObserveOp("cancel", s.clock.Now())
	if actor == "" {
		return domain.ErrNoActor
	}
	if _, err := s.requireStatus(reconID, domain.ReconInProgress); err != nil {
		return err
	}
	if err := s.db.CancelReconciliation(reconID, actor, s.clock.Now()); err != nil {
		return err
	}
	observability.ReconciliationsTotal.WithLabelValues("cancelled").Inc()
	log.Printf("recon: cancelled %s", reconID)
	return nil
}

// Rollback reverses a completed reconciliation with the same atomicity as
// cancel. Admin gating is the caller's concern. Adjustment records are
// retained but become orphaned from any cleared posting.
func (s *Session) Rollback(ctx context.Context, actor, reconID string) error {
	defer observability.ObserveOp("rollback", s.clock.Now())
	if actor == "" {
		return domain.ErrNoActor
	}
	if _, err := s.requireStatus(reconID, domain.ReconCompleted); err != nil {
		return err
	}
	if err := s.db.RollbackReconciliation(reconID, actor, s.clock.Now()); err != nil {
		return err
	}
	observability.ReconciliationsTotal.WithLabelValues("rolled_back").Inc()
	log.Printf("recon: rolled back %s", reconID)
	return nil
}

// UnclearedPostings lists the account's postings available for clearing
// in the session, dated through the statement end.
func (s *Session) UnclearedPostings(ctx context.Context, reconID string) ([]domain.LedgerPosting, error) {
	rec, err := s.db.GetReconciliation(reconID)
	if err != nil {
		return nil, err
	}
	return s.db.UnclearedPostings(rec.AccountID, rec.StatementEnd)
}

func (s *Session) requireStatus(reconID string, want domain.ReconStatus) (*domain.Reconciliation, error) {
	rec, err := s.db.GetReconciliation(reconID)
	if err != nil {
		return nil, err
	}
	if rec.Status != want {
		statusErr := domain.ErrNotInProgress
		if want == domain.ReconCompleted {
			statusErr = domain.ErrNotCompleted
		}
		return nil, fmt.Errorf("%w: status is %s", statusErr, rec.Status)
	}
	return rec, nil
}
