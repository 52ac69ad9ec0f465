// Package importer decodes uploaded bank statement files into normalized
// candidate lines and loads them into a reconciliation in chunks.
//
// Two formats are recognized: delimited text (CSV with a header row) and
// the OFX/QFX transaction list subset most banks export. Column mapping
// UIs and broader format auto-detection stay outside this package; the
// rest of the system consumes only ParseResult.
package importer

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opsbooks/opsbooks/internal/domain"
	"github.com/opsbooks/opsbooks/internal/infra/observability"
	"github.com/opsbooks/opsbooks/internal/infra/sqlite"
)

// Config controls bulk loading.
type Config struct {
	ChunkSize int // Lines per insert transaction (default: 200)
}

// DefaultConfig returns the standard chunk size.
func DefaultConfig() Config { return Config{ChunkSize: 200} }

// Importer parses statement files and loads their lines.
type Importer struct {
	config Config
	db     *sqlite.DB
}

// New creates the importer.
func New(cfg Config, db *sqlite.DB) *Importer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 200
	}
	return &Importer{config: cfg, db: db}
}

var _ domain.StatementParser = (*Importer)(nil)

// Parse decodes a statement file. formatHint may be "csv", "ofx", or
// empty for sniffing. Bad rows become entries in ParseResult.Errors; good
// rows are still returned.
func (im *Importer) Parse(r io.Reader, formatHint string) (domain.ParseResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.ParseResult{}, fmt.Errorf("read statement: %w", err)
	}

	switch strings.ToLower(formatHint) {
	case "csv":
		return parseCSV(data)
	case "ofx", "qfx":
		return parseOFX(data)
	case "":
		if looksLikeOFX(data) {
			return parseOFX(data)
		}
		return parseCSV(data)
	default:
		return domain.ParseResult{}, fmt.Errorf("%w: %q", domain.ErrUnknownFormat, formatHint)
	}
}

// Load parses the file and inserts its lines into the reconciliation in
// chunks, so a mid-import failure leaves whole unmatched rows only —
// never a half-written one. Returns the inserted lines and the per-row
// parse errors.
func (im *Importer) Load(ctx context.Context, actor, reconID string, r io.Reader, formatHint string) ([]domain.BankStatementLine, []string, error) {
	defer observability.ObserveOp("import", time.Now())
	if actor == "" {
		return nil, nil, domain.ErrNoActor
	}
	rec, err := im.db.GetReconciliation(reconID)
	if err != nil {
		return nil, nil, err
	}
	if rec.Status != domain.ReconInProgress {
		return nil, nil, fmt.Errorf("%w: status is %s", domain.ErrNotInProgress, rec.Status)
	}

	result, err := im.Parse(r, formatHint)
	if err != nil {
		return nil, nil, err
	}
	if len(result.Lines) == 0 {
		return nil, result.Errors, domain.ErrEmptyStatement
	}

	lines := make([]domain.BankStatementLine, 0, len(result.Lines))
	for _, parsed := range result.Lines {
		external := parsed.ReferenceNumber
		if external == "" {
			external = parsed.CheckNumber
		}
		lines = append(lines, domain.BankStatementLine{
			ID:               uuid.NewString(),
			ReconciliationID: reconID,
			ExternalID:       external,
			TransactionDate:  parsed.TransactionDate,
			Description:      parsed.Description,
			Amount:           parsed.Amount,
			RunningBalance:   parsed.RunningBalance,
			MatchStatus:      domain.MatchUnmatched,
		})
	}

	for start := 0; start < len(lines); start += im.config.ChunkSize {
		chunk := lines[start:min(start+im.config.ChunkSize, len(lines))]
		if err := im.db.InsertBankLines(chunk); err != nil {
			// Earlier chunks stay: partial but consistent, every row whole.
			return lines[:start], result.Errors, fmt.Errorf("insert chunk at %d: %w", start, err)
		}
		observability.LinesImported.Add(float64(len(chunk)))
	}
	log.Printf("importer: loaded %d lines into %s (%d rejected rows)",
		len(lines), reconID, len(result.Errors))
	return lines, result.Errors, nil
}
