// Package api provides the HTTP server for opsbooks.
// It exposes the reconciliation workflow, auto-matching, statement
// import, and the cash-flow report to the UI layer.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsbooks/opsbooks/internal/app/automatch"
	"github.com/opsbooks/opsbooks/internal/app/cashflow"
	"github.com/opsbooks/opsbooks/internal/app/importer"
	"github.com/opsbooks/opsbooks/internal/app/recon"
	"github.com/opsbooks/opsbooks/internal/infra/sqlite"
)

// Server is the opsbooks HTTP API server.
type Server struct {
	db             *sqlite.DB
	session        *recon.Session
	matcher        *automatch.Engine
	importer       *importer.Importer
	cashflow       *cashflow.Builder
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(db *sqlite.DB, session *recon.Session, matcher *automatch.Engine, imp *importer.Importer, cf *cashflow.Builder) *Server {
	return &Server{db: db, session: session, matcher: matcher, importer: imp, cashflow: cf}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/accounts", s.handleListAccounts)

		r.Route("/reconciliations", func(r chi.Router) {
			r.Get("/", s.handleListReconciliations)
			r.Post("/", s.handleStartReconciliation)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetReconciliation)
				r.Post("/postings/{postingID}/toggle", s.handleToggleCleared)
				r.Post("/complete", s.handleComplete)
				r.Post("/cancel", s.handleCancel)
				r.Post("/rollback", s.handleRollback)
				r.Get("/suggestions", s.handleSuggestions)
				r.Post("/matches", s.handleMatch)
				r.Post("/matches/apply-all", s.handleApplyAll)
				r.Post("/unmatch", s.handleUnmatch)
				r.Post("/adjustments", s.handleCreateAdjustment)
				r.Post("/import", s.handleImport)
			})
		})

		r.Get("/cashflow", s.handleCashFlow)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// actor resolves the acting user for audit stamping. The UI layer in
// front of this API owns authentication; an empty header fails every
// mutating operation's precondition check downstream.
func actor(r *http.Request) string {
	return r.Header.Get("X-Actor")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Actor")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
