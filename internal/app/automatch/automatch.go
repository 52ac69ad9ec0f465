// Package automatch proposes and applies 1:1 pairings between unmatched
// bank statement lines and uncleared ledger postings.
//
// Suggestion generation is purely advisory — it reads, scores, and ranks
// without mutating anything. Applying a match is a separate operation
// that delegates its clearing side effect to a single store transaction.
package automatch

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/opsbooks/opsbooks/internal/domain"
	"github.com/opsbooks/opsbooks/internal/infra/observability"
	"github.com/opsbooks/opsbooks/internal/infra/sqlite"
)

// Config controls scoring.
type Config struct {
	DateWindowDays  int     // Candidates beyond this many days apart are ignored (default: 14)
	HighThreshold   float64 // Score at or above which confidence is high (default: 0.75)
	MediumThreshold float64 // Score at or above which confidence is medium (default: 0.45)
}

// DefaultConfig returns the standard scoring thresholds.
func DefaultConfig() Config {
	return Config{
		DateWindowDays:  14,
		HighThreshold:   0.75,
		MediumThreshold: 0.45,
	}
}

// Engine generates and applies match suggestions.
type Engine struct {
	config Config
	db     *sqlite.DB
	clock  domain.Clock
}

// New creates the match engine.
func New(cfg Config, db *sqlite.DB, clock domain.Clock) *Engine {
	if clock == nil {
		clock = domain.ClockFunc(time.Now)
	}
	if cfg.DateWindowDays == 0 {
		cfg.DateWindowDays = 14
	}
	return &Engine{config: cfg, db: db, clock: clock}
}

// ─── Suggestion Generation ──────────────────────────────────────────────────

// Suggest pairs the reconciliation's unmatched bank lines with the
// account's uncleared postings. An exact amount match (within $0.01) is
// required for any candidate; date proximity and description similarity
// set the confidence tier. Assignment is greedy highest-score-first so
// each line and each posting appears in at most one suggestion. No side
// effects.
func (e *Engine) Suggest(ctx context.Context, reconID string) ([]domain.AutoMatchSuggestion, error) {
	rec, err := e.db.GetReconciliation(reconID)
	if err != nil {
		return nil, err
	}
	account, err := e.db.GetAccount(rec.AccountID)
	if err != nil {
		return nil, err
	}
	lines, err := e.db.ListBankLines(reconID)
	if err != nil {
		return nil, err
	}
	postings, err := e.db.UnclearedPostings(rec.AccountID, rec.StatementEnd)
	if err != nil {
		return nil, err
	}

	var candidates []domain.AutoMatchSuggestion
	for _, line := range lines {
		if line.Matched() {
			continue
		}
		for _, p := range postings {
			net := p.NetAmount(account.NormalBalance)
			if line.Amount.Sub(net).Abs().Cmp(domain.Tolerance) > 0 {
				continue
			}
			days := dateDelta(line.TransactionDate, p.EntryDate)
			if days > e.config.DateWindowDays {
				continue
			}
			score := e.score(days, line.Description, p.Description)
			candidates = append(candidates, domain.AutoMatchSuggestion{
				BankLineID:      line.ID,
				PostingID:       p.ID,
				Confidence:      e.tier(score),
				Score:           score,
				Amount:          line.Amount,
				DateDeltaDays:   days,
				LineDescription: line.Description,
				PostingMemo:     p.Description,
			})
		}
	}

	// Highest score first; ties broken by id for deterministic output.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].BankLineID != candidates[j].BankLineID {
			return candidates[i].BankLineID < candidates[j].BankLineID
		}
		return candidates[i].PostingID < candidates[j].PostingID
	})

	usedLines := make(map[string]bool)
	usedPostings := make(map[int64]bool)
	var out []domain.AutoMatchSuggestion
	for _, c := range candidates {
		if usedLines[c.BankLineID] || usedPostings[c.PostingID] {
			continue
		}
		usedLines[c.BankLineID] = true
		usedPostings[c.PostingID] = true
		out = append(out, c)
	}
	return out, nil
}

// score combines date proximity (weight 0.6) and description similarity
// (weight 0.4). The amount gate already passed, so an amount-only match
// with a distant date and unrelated description still lands in the low
// tier rather than disappearing.
func (e *Engine) score(dateDeltaDays int, lineDesc, postingDesc string) float64 {
	var dateScore float64
	switch {
	case dateDeltaDays <= 1:
		dateScore = 1.0
	case dateDeltaDays <= 3:
		dateScore = 0.75
	case dateDeltaDays <= 7:
		dateScore = 0.4
	}
	return dateScore*0.6 + similarity(lineDesc, postingDesc)*0.4
}

func (e *Engine) tier(score float64) domain.Confidence {
	switch {
	case score >= e.config.HighThreshold:
		return domain.ConfidenceHigh
	case score >= e.config.MediumThreshold:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// similarity is a normalized edit-distance score over upper-cased
// descriptions: 1.0 identical, 0.0 nothing in common.
func similarity(a, b string) float64 {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	longest := max(len(a), len(b))
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func dateDelta(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

// ─── Apply Operations ───────────────────────────────────────────────────────

// Match pairs a bank line with a posting and clears the posting under the
// line's owning reconciliation. Fails loudly when either side is already
// taken. isAuto selects the recorded match status.
func (e *Engine) Match(ctx context.Context, actor, lineID string, postingID int64, isAuto bool) error {
	defer observability.ObserveOp("match", e.clock.Now())
	if actor == "" {
		return domain.ErrNoActor
	}
	line, err := e.db.GetBankLine(lineID)
	if err != nil {
		return err
	}
	if line.Matched() {
		return fmt.Errorf("%w: %s is %s", domain.ErrAlreadyMatched, lineID, line.MatchStatus)
	}
	rec, err := e.db.GetReconciliation(line.ReconciliationID)
	if err != nil {
		return err
	}
	if rec.Status != domain.ReconInProgress {
		return fmt.Errorf("%w: status is %s", domain.ErrNotInProgress, rec.Status)
	}
	posting, err := e.db.GetPosting(postingID)
	if err != nil {
		return err
	}
	if posting.AccountID != rec.AccountID {
		return fmt.Errorf("%w: posting %d is on %s", domain.ErrForeignPosting, postingID, posting.AccountID)
	}
	if posting.Cleared() {
		return fmt.Errorf("%w: posting %d held by %s",
			domain.ErrAlreadyCleared, postingID, posting.ReconciliationID)
	}

	status := domain.MatchManual
	mode := "manual"
	if isAuto {
		status = domain.MatchAuto
		mode = "auto"
	}
	if err := e.db.MatchBankLine(lineID, postingID, status, actor, e.clock.Now()); err != nil {
		return err
	}
	observability.MatchesApplied.WithLabelValues(mode).Inc()
	return nil
}

// Unmatch reverses a match: the posting returns to uncleared and the line
// to unmatched. Net state equals the pre-match state.
func (e *Engine) Unmatch(ctx context.Context, actor, lineID string) error {
	defer observability.ObserveOp("unmatch", e.clock.Now())
	if actor == "" {
		return domain.ErrNoActor
	}
	line, err := e.db.GetBankLine(lineID)
	if err != nil {
		return err
	}
	if !line.Matched() {
		return fmt.Errorf("%w: %s", domain.ErrNotMatched, lineID)
	}
	rec, err := e.db.GetReconciliation(line.ReconciliationID)
	if err != nil {
		return err
	}
	if rec.Status != domain.ReconInProgress {
		return fmt.Errorf("%w: status is %s", domain.ErrNotInProgress, rec.Status)
	}
	return e.db.UnmatchBankLine(lineID)
}

// ApplyReport summarizes a best-effort bulk apply.
type ApplyReport struct {
	Applied int      `json:"applied"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// ApplyAll applies each suggestion independently. A failure on one
// suggestion does not abort the others; failures are collected and
// reported, successes are not rolled back.
func (e *Engine) ApplyAll(ctx context.Context, actor string, suggestions []domain.AutoMatchSuggestion) ApplyReport {
	var report ApplyReport
	for _, s := range suggestions {
		if err := e.Match(ctx, actor, s.BankLineID, s.PostingID, true); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s -> %d: %v", s.BankLineID, s.PostingID, err))
			continue
		}
		report.Applied++
	}
	if report.Failed > 0 {
		log.Printf("automatch: applied %d, failed %d", report.Applied, report.Failed)
	}
	return report
}
