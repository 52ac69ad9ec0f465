package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opsbooks/opsbooks/internal/domain"
)

// ─── CSV Decoding ───────────────────────────────────────────────────────────
// Header-mapped: column order does not matter, aliases cover the common
// bank export vocabularies. Amounts may come as one signed column or as
// separate debit/credit columns.

var csvAliases = map[string][]string{
	"date":        {"date", "transaction_date", "transaction date", "posted", "post date"},
	"description": {"description", "memo", "payee", "details", "narrative"},
	"amount":      {"amount", "value"},
	"debit":       {"debit", "withdrawal", "money out"},
	"credit":      {"credit", "deposit", "money in"},
	"balance":     {"balance", "running_balance", "running balance"},
	"check":       {"check_number", "check number", "cheque", "check"},
	"reference":   {"reference_number", "reference number", "reference", "ref", "transaction_id", "fitid"},
}

func parseCSV(data []byte) (domain.ParseResult, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return domain.ParseResult{}, fmt.Errorf("read header: %w", err)
	}
	col := mapColumns(header)
	if _, ok := col["date"]; !ok {
		return domain.ParseResult{}, fmt.Errorf("%w: no date column", domain.ErrUnknownFormat)
	}
	_, hasAmount := col["amount"]
	_, hasDebit := col["debit"]
	_, hasCredit := col["credit"]
	if !hasAmount && !hasDebit && !hasCredit {
		return domain.ParseResult{}, fmt.Errorf("%w: no amount columns", domain.ErrUnknownFormat)
	}

	var result domain.ParseResult
	rowNum := 1
	for {
		rowNum++
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}
		line, err := decodeCSVRow(rec, col)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}
		result.Lines = append(result.Lines, line)
	}
	return result, nil
}

func decodeCSVRow(rec []string, col map[string]int) (domain.ParsedBankLine, error) {
	field := func(key string) string {
		i, ok := col[key]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	date, err := parseDateFlexible(field("date"))
	if err != nil {
		return domain.ParsedBankLine{}, err
	}

	var amount decimal.Decimal
	if s := field("amount"); s != "" {
		amount, err = parseAmount(s)
		if err != nil {
			return domain.ParsedBankLine{}, fmt.Errorf("amount %q: %w", s, err)
		}
	} else {
		// Split columns: debits reduce cash, credits increase it.
		if s := field("debit"); s != "" {
			d, err := parseAmount(s)
			if err != nil {
				return domain.ParsedBankLine{}, fmt.Errorf("debit %q: %w", s, err)
			}
			amount = amount.Sub(d.Abs())
		}
		if s := field("credit"); s != "" {
			c, err := parseAmount(s)
			if err != nil {
				return domain.ParsedBankLine{}, fmt.Errorf("credit %q: %w", s, err)
			}
			amount = amount.Add(c.Abs())
		}
	}

	line := domain.ParsedBankLine{
		TransactionDate: date,
		Description:     field("description"),
		Amount:          amount,
		CheckNumber:     field("check"),
		ReferenceNumber: field("reference"),
	}
	if s := field("balance"); s != "" {
		if b, err := parseAmount(s); err == nil {
			line.RunningBalance = &b
		}
	}
	return line, nil
}

func mapColumns(header []string) map[string]int {
	col := make(map[string]int)
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for key, aliases := range csvAliases {
			if _, taken := col[key]; taken {
				continue
			}
			for _, alias := range aliases {
				if h == alias {
					col[key] = i
					break
				}
			}
		}
	}
	return col
}

// parseAmount tolerates currency symbols, thousands separators, and
// parenthesized negatives.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, ",", "")
	if strings.HasPrefix(s, "-") {
		neg = !neg
		s = s[1:]
	}
	s = strings.TrimPrefix(s, "$")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

func parseDateFlexible(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	formats := []string{
		time.DateOnly,
		"01/02/2006",
		"1/2/2006",
		"01-02-2006",
		"2006/01/02",
		"Jan 2, 2006",
	}
	var lastErr error
	for _, f := range formats {
		t, err := time.Parse(f, s)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("date parse failed: %w", lastErr)
}
