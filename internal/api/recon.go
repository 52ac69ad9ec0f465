package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/opsbooks/opsbooks/internal/app/recon"
	"github.com/opsbooks/opsbooks/internal/domain"
)

// ─── Reconciliation API ─────────────────────────────────────────────────────
// REST endpoints for the UI driving the reconciliation workflow.
//
// GET  /api/accounts                                — chart of accounts
// GET  /api/reconciliations?account_id=X            — history for an account
// POST /api/reconciliations                         — start a session
// GET  /api/reconciliations/{id}                    — session detail
// POST /api/reconciliations/{id}/postings/{p}/toggle— clear/unclear a posting
// POST /api/reconciliations/{id}/complete           — tolerance-gated finish
// POST /api/reconciliations/{id}/cancel             — atomic abandon
// POST /api/reconciliations/{id}/rollback           — reverse a completed one
// GET  /api/reconciliations/{id}/suggestions        — advisory auto-matches
// POST /api/reconciliations/{id}/matches            — pair one line + posting
// POST /api/reconciliations/{id}/matches/apply-all  — best-effort bulk apply
// POST /api/reconciliations/{id}/unmatch            — reverse a match
// POST /api/reconciliations/{id}/adjustments        — write an adjustment
// POST /api/reconciliations/{id}/import             — load a statement file
// GET  /api/cashflow?start=&end=&accounts=          — cash-flow statement

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.db.ListAccounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleListReconciliations(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	recs, err := s.session.List(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleStartReconciliation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID              string `json:"account_id"`
		StatementStart         string `json:"statement_start"`
		StatementEnd           string `json:"statement_end"`
		StatementEndingBalance string `json:"statement_ending_balance"`
		Notes                  string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	start, err := time.Parse(time.DateOnly, req.StatementStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid statement_start: "+err.Error())
		return
	}
	end, err := time.Parse(time.DateOnly, req.StatementEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid statement_end: "+err.Error())
		return
	}
	ending, err := decimal.NewFromString(req.StatementEndingBalance)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid statement_ending_balance: "+err.Error())
		return
	}

	rec, err := s.session.Start(r.Context(), actor(r), req.AccountID, start, end, ending, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetReconciliation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.session.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	lines, err := s.db.ListBankLines(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cleared, err := s.db.ClearedPostings(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	uncleared, err := s.session.UnclearedPostings(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	adjustments, err := s.session.Adjustments(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reconciliation":     rec,
		"bank_lines":         lines,
		"cleared_postings":   cleared,
		"uncleared_postings": uncleared,
		"adjustments":        adjustments,
	})
}

func (s *Server) handleToggleCleared(w http.ResponseWriter, r *http.Request) {
	postingID, err := strconv.ParseInt(chi.URLParam(r, "postingID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid posting id")
		return
	}
	rec, err := s.session.ToggleCleared(r.Context(), actor(r), chi.URLParam(r, "id"), postingID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	rec, err := s.session.Complete(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Cancel(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.ReconCancelled)})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Rollback(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.ReconRolledBack)})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.matcher.Suggest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankLineID string `json:"bank_line_id"`
		PostingID  int64  `json:"posting_id"`
		Auto       bool   `json:"auto"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.requireLineOwnership(req.BankLineID, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.matcher.Match(r.Context(), actor(r), req.BankLineID, req.PostingID, req.Auto); err != nil {
		writeDomainError(w, err)
		return
	}
	rec, err := s.session.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleApplyAll(w http.ResponseWriter, r *http.Request) {
	var suggestions []domain.AutoMatchSuggestion
	if err := json.NewDecoder(r.Body).Decode(&suggestions); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	report := s.matcher.ApplyAll(r.Context(), actor(r), suggestions)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleUnmatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankLineID string `json:"bank_line_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.requireLineOwnership(req.BankLineID, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.matcher.Unmatch(r.Context(), actor(r), req.BankLineID); err != nil {
		writeDomainError(w, err)
		return
	}
	rec, err := s.session.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type            string `json:"type"`
		Description     string `json:"description"`
		Amount          string `json:"amount"`
		DebitAccountID  string `json:"debit_account_id"`
		CreditAccountID string `json:"credit_account_id"`
		EntryDate       string `json:"entry_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}
	adjReq := recon.AdjustmentRequest{
		Type:            domain.AdjustmentType(req.Type),
		Description:     req.Description,
		Amount:          amount,
		DebitAccountID:  req.DebitAccountID,
		CreditAccountID: req.CreditAccountID,
	}
	if req.EntryDate != "" {
		d, err := time.Parse(time.DateOnly, req.EntryDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid entry_date: "+err.Error())
			return
		}
		adjReq.EntryDate = d
	}
	adj, err := s.session.CreateAdjustment(r.Context(), actor(r), chi.URLParam(r, "id"), adjReq)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, adj)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	lines, parseErrors, err := s.importer.Load(r.Context(), actor(r), chi.URLParam(r, "id"), r.Body, format)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"imported": len(lines),
		"rejected": parseErrors,
		"lines":    lines,
	})
}

func (s *Server) handleCashFlow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse(time.DateOnly, q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
		return
	}
	end, err := time.Parse(time.DateOnly, q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
		return
	}

	var accountIDs []string
	if raw := q.Get("accounts"); raw != "" {
		accountIDs = strings.Split(raw, ",")
	} else {
		accountIDs, err = s.db.CashAccountIDs()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	stmt, err := s.cashflow.Statement(r.Context(), start, end, accountIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stmt)
}

// requireLineOwnership rejects a request whose bank line belongs to a
// different reconciliation than the one addressed in the URL.
func (s *Server) requireLineOwnership(lineID, reconID string) error {
	line, err := s.db.GetBankLine(lineID)
	if err != nil {
		return err
	}
	if line.ReconciliationID != reconID {
		return fmt.Errorf("%w: %s is owned by %s", domain.ErrForeignBankLine, lineID, line.ReconciliationID)
	}
	return nil
}

// writeDomainError maps domain sentinels onto HTTP statuses: missing
// actor → 401, not-found → 404, state conflicts → 409, validation → 400.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNoActor):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrReconNotFound),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrLineNotFound),
		errors.Is(err, domain.ErrPostingNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotInProgress),
		errors.Is(err, domain.ErrNotCompleted),
		errors.Is(err, domain.ErrInProgressExists),
		errors.Is(err, domain.ErrOutOfBalance),
		errors.Is(err, domain.ErrAlreadyMatched),
		errors.Is(err, domain.ErrAlreadyCleared),
		errors.Is(err, domain.ErrNotMatched):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, domain.ErrInvalidDateRange),
		errors.Is(err, domain.ErrNotCashAccount),
		errors.Is(err, domain.ErrForeignPosting),
		errors.Is(err, domain.ErrForeignBankLine),
		errors.Is(err, domain.ErrAdjustmentOffBook),
		errors.Is(err, domain.ErrEmptyStatement),
		errors.Is(err, domain.ErrUnknownFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
