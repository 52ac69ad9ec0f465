package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Validation errors — rejected before any write.
	ErrNoActor          = errors.New("no authenticated actor for audit stamping")
	ErrInvalidAmount    = errors.New("adjustment amount must be positive")
	ErrSameAccount      = errors.New("debit and credit accounts must differ")
	ErrInvalidDateRange = errors.New("statement end date must not precede start date")
	ErrAccountNotFound  = errors.New("account not found")
	ErrNotCashAccount   = errors.New("account is not a cash account")

	// Reconciliation lifecycle errors
	ErrReconNotFound     = errors.New("reconciliation not found")
	ErrNotInProgress     = errors.New("reconciliation is not in progress")
	ErrNotCompleted      = errors.New("reconciliation is not completed")
	ErrInProgressExists  = errors.New("account already has an in-progress reconciliation")
	ErrOutOfBalance      = errors.New("difference exceeds completion tolerance")
	ErrAdjustmentOffBook = errors.New("adjustment touches neither side of the reconciled account")

	// Matching errors
	ErrLineNotFound    = errors.New("bank statement line not found")
	ErrPostingNotFound = errors.New("ledger posting not found")
	ErrAlreadyMatched  = errors.New("bank statement line is already matched")
	ErrAlreadyCleared  = errors.New("posting is already cleared under another reconciliation")
	ErrNotMatched      = errors.New("bank statement line is not matched")
	ErrForeignPosting  = errors.New("posting belongs to a different account")
	ErrForeignBankLine = errors.New("bank statement line belongs to a different reconciliation")

	// Import errors
	ErrEmptyStatement = errors.New("statement file produced no parseable lines")
	ErrUnknownFormat  = errors.New("unrecognized statement file format")
)
