// Package cashflow derives a three-section cash-flow statement from the
// journal postings touching a set of cash accounts.
//
// The computation is pure, read-only, and idempotent: group postings by
// entry, classify each entry from its non-cash lines, sum each entry's
// cash effect into its section, and bracket the result with beginning and
// ending cash from the balance provider.
package cashflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opsbooks/opsbooks/internal/domain"
)

// Builder produces cash-flow statements.
type Builder struct {
	balances domain.BalanceProvider
}

// New creates a statement builder.
func New(balances domain.BalanceProvider) *Builder {
	return &Builder{balances: balances}
}

// Statement builds the cash-flow statement for the date range and cash
// accounts. Beginning cash is the balance as of the day before start;
// ending cash as of end. A consistency mismatch beyond tolerance is
// surfaced as a warning on the statement, never silently hidden.
func (b *Builder) Statement(ctx context.Context, start, end time.Time, cashAccountIDs []string) (*domain.CashFlowStatement, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: start %s, end %s",
			domain.ErrInvalidDateRange, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	beginning, err := b.balances.Balance(ctx, cashAccountIDs, start.AddDate(0, 0, -1))
	if err != nil {
		return nil, fmt.Errorf("beginning cash: %w", err)
	}
	ending, err := b.balances.Balance(ctx, cashAccountIDs, end)
	if err != nil {
		return nil, fmt.Errorf("ending cash: %w", err)
	}
	postings, err := b.balances.PostingsInRange(ctx, start, end, cashAccountIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch postings: %w", err)
	}

	stmt := &domain.CashFlowStatement{
		Start:         start,
		End:           end,
		CashAccounts:  cashAccountIDs,
		BeginningCash: beginning,
		EndingCash:    ending,
		Unclassified:  decimal.Zero,
	}

	sections := map[domain.CashFlowSection]map[string]decimal.Decimal{
		domain.SectionOperating: {},
		domain.SectionInvesting: {},
		domain.SectionFinancing: {},
	}

	for _, entry := range groupByEntry(postings) {
		cashEffect := decimal.Zero
		var nonCash []domain.PostingDetail
		for _, p := range entry {
			if p.IsCashAccount {
				cashEffect = cashEffect.Add(p.Net())
			} else {
				nonCash = append(nonCash, p)
			}
		}
		if cashEffect.IsZero() {
			continue
		}

		section, label := Classify(nonCash)
		if section == domain.SectionUnclassified {
			stmt.Unclassified = stmt.Unclassified.Add(cashEffect)
			continue
		}
		sections[section][label] = sections[section][label].Add(cashEffect)
	}

	stmt.Operating = buildGroup(domain.SectionOperating, sections[domain.SectionOperating])
	stmt.Investing = buildGroup(domain.SectionInvesting, sections[domain.SectionInvesting])
	stmt.Financing = buildGroup(domain.SectionFinancing, sections[domain.SectionFinancing])
	stmt.NetChange = stmt.Operating.Subtotal.
		Add(stmt.Investing.Subtotal).
		Add(stmt.Financing.Subtotal).
		Add(stmt.Unclassified)

	if drift := beginning.Add(stmt.NetChange).Sub(ending).Abs(); drift.Cmp(domain.Tolerance) > 0 {
		stmt.Warning = fmt.Sprintf(
			"cash movement does not reconcile: beginning %s + net change %s differs from ending %s by %s",
			beginning.StringFixed(2), stmt.NetChange.StringFixed(2),
			ending.StringFixed(2), drift.StringFixed(2))
	}
	return stmt, nil
}

// ─── Entry Classification ───────────────────────────────────────────────────

// Classify buckets one journal entry from its non-cash lines and names
// the category label for its statement row.
//
// An entry with no non-cash lines is a transfer between cash accounts and
// defaults to operating — the conservative fallback. Lines flagged
// non_cash (depreciation and the like) are skipped. Among the remaining
// lines the highest-priority section wins: investing over financing over
// operating, so a mixed entry is reported whole, never split.
func Classify(nonCash []domain.PostingDetail) (domain.CashFlowSection, string) {
	if len(nonCash) == 0 {
		return domain.SectionOperating, "Transfers between cash accounts"
	}

	best := domain.SectionUnclassified
	label := ""
	for _, p := range nonCash {
		section := lineSection(p)
		if section == domain.SectionNonCash {
			continue
		}
		if section.Priority() > best.Priority() {
			best = section
			label = lineLabel(p, section)
		}
	}
	if best == domain.SectionUnclassified {
		// Every non-cash line was flagged non_cash; the cash effect still
		// happened, so report it under operating with the first line's label.
		return domain.SectionOperating, lineLabel(nonCash[0], domain.SectionOperating)
	}
	return best, label
}

// lineSection resolves one non-cash line's section: the account's
// declared section when present, else derived from type and subtype.
func lineSection(p domain.PostingDetail) domain.CashFlowSection {
	switch p.CashFlowSection {
	case domain.SectionOperating, domain.SectionInvesting, domain.SectionFinancing, domain.SectionNonCash:
		return p.CashFlowSection
	}

	subtype := strings.ToLower(p.AccountSubtype)
	switch {
	case containsAny(subtype, "fixed_asset", "fixed asset", "equipment", "vehicle", "building", "long_term_investment", "long-term investment"):
		return domain.SectionInvesting
	case containsAny(subtype, "long_term_debt", "long-term debt", "loan", "mortgage", "note_payable"):
		return domain.SectionFinancing
	case p.AccountType == domain.AccountEquity &&
		containsAny(strings.ToLower(p.AccountSubtype+" "+p.AccountName), "draw", "dividend", "distribution", "capital"):
		return domain.SectionFinancing
	default:
		return domain.SectionOperating
	}
}

// lineLabel derives a human-readable category label from the line's
// account type, subtype, and name.
func lineLabel(p domain.PostingDetail, section domain.CashFlowSection) string {
	name := strings.ToLower(p.AccountName)
	subtype := strings.ToLower(p.AccountSubtype)

	switch section {
	case domain.SectionInvesting:
		if containsAny(subtype+" "+name, "investment") {
			return "Purchase and sale of investments"
		}
		return "Purchase of property and equipment"
	case domain.SectionFinancing:
		if p.AccountType == domain.AccountEquity {
			return "Owner draws and distributions"
		}
		return "Borrowings and debt repayment"
	}

	switch p.AccountType {
	case domain.AccountIncome:
		if containsAny(subtype+" "+name, "interest") {
			return "Interest received"
		}
		return "Cash received from customers"
	case domain.AccountExpense:
		switch {
		case containsAny(subtype+" "+name, "payroll", "wage", "salar"):
			return "Cash paid for payroll"
		case containsAny(subtype+" "+name, "tax"):
			return "Cash paid for taxes"
		case containsAny(subtype+" "+name, "interest", "bank fee", "bank_fee", "service charge"):
			return "Interest and bank charges paid"
		default:
			return "Cash paid to suppliers"
		}
	case domain.AccountAsset:
		return "Changes in receivables and other assets"
	case domain.AccountLiability:
		return "Changes in payables and other liabilities"
	default:
		return "Other operating activity"
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func groupByEntry(postings []domain.PostingDetail) [][]domain.PostingDetail {
	byEntry := make(map[int64][]domain.PostingDetail)
	var order []int64
	for _, p := range postings {
		if _, ok := byEntry[p.EntryNumber]; !ok {
			order = append(order, p.EntryNumber)
		}
		byEntry[p.EntryNumber] = append(byEntry[p.EntryNumber], p)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([][]domain.PostingDetail, 0, len(order))
	for _, n := range order {
		out = append(out, byEntry[n])
	}
	return out
}

func buildGroup(section domain.CashFlowSection, byLabel map[string]decimal.Decimal) domain.CashFlowGroup {
	group := domain.CashFlowGroup{Section: section, Subtotal: decimal.Zero}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		amount := byLabel[label]
		group.Lines = append(group.Lines, domain.CashFlowLine{Label: label, Amount: amount})
		group.Subtotal = group.Subtotal.Add(amount)
	}
	return group
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
