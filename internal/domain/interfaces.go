package domain

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// BalanceProvider abstracts read access to posted ledger balances.
// Views computed by the store (book balances, period activity) are only
// reachable through this interface — never modeled as writable entities.
type BalanceProvider interface {
	// Balance returns the posted balance of the given accounts as of the
	// end of asOf (inclusive).
	Balance(ctx context.Context, accountIDs []string, asOf time.Time) (decimal.Decimal, error)

	// PostingsInRange returns every posting belonging to a journal entry
	// that touches at least one of the given accounts within [start, end],
	// joined with account metadata. All sides of a touching entry are
	// returned, not only the sides on the given accounts.
	PostingsInRange(ctx context.Context, start, end time.Time, accountIDs []string) ([]PostingDetail, error)
}

// StatementParser decodes an uploaded bank statement file into normalized
// candidate lines. Format auto-detection lives behind this boundary.
type StatementParser interface {
	Parse(r io.Reader, formatHint string) (ParseResult, error)
}

// Clock supplies the current time so services can be tested at fixed
// instants.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }
