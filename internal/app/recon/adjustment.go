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
)

// AdjustmentRequest describes one reconciling adjustment (bank fee,
// interest, NSF, correction).
type AdjustmentRequest struct {
	Type            domain.AdjustmentType
	Description     string
	Amount          decimal.Decimal
	DebitAccountID  string
	CreditAccountID string
	EntryDate       time.Time // zero value: the statement end date
}

// CreateAdjustment writes a balanced two-posting journal entry for the
// adjustment and clears its cash side under the session, in one store
// transaction:
//
//  1. Validate amount > 0 and debit != credit account
//  2. Generate a fresh shared entry number
//  3. Insert the debit and credit postings (reference kind "adjustment",
//     reference id = reconciliation id)
//  4. Clear whichever posting lands on the reconciliation's own account
//  5. Persist the adjustment record linked to that posting
//
// A partially-written pair is impossible: any failure rolls the whole
// entry back.
func (s *Session) CreateAdjustment(ctx context.Context, actor, reconID string, req AdjustmentRequest) (*domain.ReconciliationAdjustment, error) {
	defer observability.ObserveOp("adjustment", s.clock.Now())
	if actor == "" {
		return nil, domain.ErrNoActor
	}
	if req.Amount.Cmp(decimal.Zero) <= 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, req.Amount.String())
	}
	if req.DebitAccountID == req.CreditAccountID {
		return nil, fmt.Errorf("%w: %s", domain.ErrSameAccount, req.DebitAccountID)
	}
	rec, err := s.requireStatus(reconID, domain.ReconInProgress)
	if err != nil {
		return nil, err
	}
	if req.DebitAccountID != rec.AccountID && req.CreditAccountID != rec.AccountID {
		return nil, fmt.Errorf("%w: reconciled account is %s", domain.ErrAdjustmentOffBook, rec.AccountID)
	}
	for _, id := range []string{req.DebitAccountID, req.CreditAccountID} {
		if _, err := s.db.GetAccount(id); err != nil {
			return nil, err
		}
	}

	adj := domain.ReconciliationAdjustment{
		ID:               uuid.NewString(),
		ReconciliationID: reconID,
		Type:             req.Type,
		Description:      req.Description,
		Amount:           req.Amount,
		DebitAccountID:   req.DebitAccountID,
		CreditAccountID:  req.CreditAccountID,
		CreatedBy:        actor,
		CreatedAt:        s.clock.Now(),
	}
	entryDate := req.EntryDate
	if entryDate.IsZero() {
		entryDate = rec.StatementEnd
	}
	created, err := s.db.CreateAdjustment(adj, entryDate, rec.AccountID)
	if err != nil {
		return nil, err
	}
	observability.AdjustmentsCreated.WithLabelValues(string(req.Type)).Inc()
	log.Printf("recon: adjustment %s (%s %s) on %s", created.ID, req.Type,
		req.Amount.StringFixed(2), reconID)
	return created, nil
}

// Adjustments lists the reconciliation's adjustments.
func (s *Session) Adjustments(ctx context.Context, reconID string) ([]domain.ReconciliationAdjustment, error) {
	return s.db.ListAdjustments(reconID)
}
