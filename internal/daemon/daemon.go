package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opsbooks/opsbooks/internal/api"
	"github.com/opsbooks/opsbooks/internal/app/automatch"
	"github.com/opsbooks/opsbooks/internal/app/cashflow"
	"github.com/opsbooks/opsbooks/internal/app/importer"
	"github.com/opsbooks/opsbooks/internal/app/recon"
	"github.com/opsbooks/opsbooks/internal/domain"
	"github.com/opsbooks/opsbooks/internal/infra/sqlite"
)

// Run opens the database, wires the services, and serves the HTTP API
// until ctx is cancelled or an interrupt arrives.
func Run(ctx context.Context, cfg Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	tolerance, err := decimal.NewFromString(cfg.Reconciliation.Tolerance)
	if err != nil {
		return fmt.Errorf("invalid reconciliation.tolerance %q: %w", cfg.Reconciliation.Tolerance, err)
	}

	provider := sqlite.NewProvider(db)
	clock := domain.ClockFunc(time.Now)

	session := recon.New(recon.Config{Tolerance: tolerance}, db, provider, clock)
	matcher := automatch.New(automatch.Config{
		DateWindowDays:  cfg.Reconciliation.DateWindowDays,
		HighThreshold:   cfg.Reconciliation.HighThreshold,
		MediumThreshold: cfg.Reconciliation.MediumThreshold,
	}, db, clock)
	imp := importer.New(importer.Config{ChunkSize: cfg.Import.ChunkSize}, db)
	cf := cashflow.New(provider)

	server := api.NewServer(db, session, matcher, imp, cf)
	if cfg.Metrics.Enabled {
		server.EnableMetrics()
	}

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("opsbooks listening on http://%s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
