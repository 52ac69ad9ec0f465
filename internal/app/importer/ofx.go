package importer

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/opsbooks/opsbooks/internal/domain"
)

// ─── OFX Decoding ───────────────────────────────────────────────────────────
// Covers the <STMTTRN> blocks of SGML-style OFX/QFX exports. OFX 1.x tags
// are not closed, so this is a line scanner keyed on tags, not an XML
// parse. Only the fields the reconciliation core consumes are extracted.

func looksLikeOFX(data []byte) bool {
	head := strings.ToUpper(string(data[:min(len(data), 512)]))
	return strings.Contains(head, "OFXHEADER") || strings.Contains(head, "<OFX>")
}

func parseOFX(data []byte) (domain.ParseResult, error) {
	var result domain.ParseResult
	var current *domain.ParsedBankLine
	var currentErr error
	txnNum := 0

	flush := func() {
		if current == nil {
			return
		}
		switch {
		case currentErr != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("transaction %d: %v", txnNum, currentErr))
		case current.TransactionDate.IsZero():
			result.Errors = append(result.Errors, fmt.Sprintf("transaction %d: missing DTPOSTED", txnNum))
		default:
			result.Lines = append(result.Lines, *current)
		}
		current, currentErr = nil, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		tag, value := splitTag(line)
		switch tag {
		case "STMTTRN":
			flush()
			txnNum++
			current = &domain.ParsedBankLine{}
		case "/STMTTRN":
			flush()
		case "DTPOSTED":
			if current == nil {
				continue
			}
			t, err := parseOFXDate(value)
			if err != nil && currentErr == nil {
				currentErr = err
			}
			current.TransactionDate = t
		case "TRNAMT":
			if current == nil {
				continue
			}
			amt, err := parseAmount(value)
			if err != nil && currentErr == nil {
				currentErr = fmt.Errorf("TRNAMT %q: %w", value, err)
			}
			current.Amount = amt
		case "NAME", "MEMO":
			if current == nil {
				continue
			}
			if current.Description == "" {
				current.Description = value
			} else if value != "" && value != current.Description {
				current.Description += " " + value
			}
		case "CHECKNUM":
			if current != nil {
				current.CheckNumber = value
			}
		case "FITID", "REFNUM":
			if current != nil && current.ReferenceNumber == "" {
				current.ReferenceNumber = value
			}
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("scan ofx: %w", err)
	}
	return result, nil
}

// splitTag decodes "<TAG>value" (OFX 1.x leaves tags unclosed) and
// "<TAG>value</TAG>" alike.
func splitTag(line string) (tag, value string) {
	if !strings.HasPrefix(line, "<") {
		return "", ""
	}
	end := strings.Index(line, ">")
	if end < 0 {
		return "", ""
	}
	tag = strings.ToUpper(line[1:end])
	value = line[end+1:]
	if i := strings.Index(value, "</"); i >= 0 {
		value = value[:i]
	}
	return tag, strings.TrimSpace(value)
}

// parseOFXDate handles YYYYMMDD with optional time and timezone suffix,
// e.g. "20240131120000.000[-5:EST]". Only the date part matters here.
func parseOFXDate(s string) (time.Time, error) {
	if len(s) < 8 {
		return time.Time{}, fmt.Errorf("bad DTPOSTED %q", s)
	}
	t, err := time.Parse("20060102", s[:8])
	if err != nil {
		return time.Time{}, fmt.Errorf("bad DTPOSTED %q: %w", s, err)
	}
	return t, nil
}
