package ledger

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/kalambet/penny/internal/storage"
)

// statementLineRe matches the tabular rows bank statements export:
// a date, a free-form description, and a trailing amount. Parenthesised
// amounts are debits in most statement formats.
var statementLineRe = regexp.MustCompile(
	`(?m)^\s*(\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{2}-\d{2})\s+(.+?)\s+(\(?-?\$?[\d,]+\.\d{2}\)?)\s*$`)

// ImportPDF extracts transaction rows from a PDF bank statement and saves
// them. Rows that do not parse are skipped; the count of imported rows is
// returned. Amounts are stored as signed values, negative for debits.
func (s *Store) ImportPDF(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open statement: %w", err)
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return 0, fmt.Errorf("extract statement text: %w", err)
	}

	var txns []storage.Transaction
	scanner := bufio.NewScanner(text)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := statementLineRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		date, err := parseStatementDate(m[1])
		if err != nil {
			continue
		}
		amount, err := parseStatementAmount(m[3])
		if err != nil {
			continue
		}
		txns = append(txns, storage.Transaction{
			ID:       uuid.NewString(),
			Merchant: strings.TrimSpace(m[2]),
			Amount:   amount,
			Date:     date,
		})
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan statement text: %w", err)
	}
	if len(txns) == 0 {
		return 0, nil
	}

	if err := s.Add(txns); err != nil {
		return 0, fmt.Errorf("save imported transactions: %w", err)
	}
	return len(txns), nil
}

func parseStatementDate(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "1/2/2006", "01/02/2006", "1/2/06"} {
		if d, err := time.Parse(layout, raw); err == nil {
			return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func parseStatementAmount(raw string) (float64, error) {
	negative := strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")")
	cleaned := strings.NewReplacer("(", "", ")", "", "$", "", ",", "").Replace(raw)
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, err
	}
	if negative {
		v = -v
	}
	return v, nil
}
