// Package executor answers structured financial questions by scanning the
// full ledger deterministically. No sampling, no retrieval: every matching
// transaction is visited, so totals and extremes are exact and the result
// carries a verification statement saying so.
package executor

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/penny/internal/classify"
	"github.com/kalambet/penny/internal/storage"
)

const recentDefault = 5

// contextSize caps the supporting transaction list attached to extreme and
// aggregate answers.
const contextSize = 5

// Result is the exact answer to a structured query.
type Result struct {
	Intent classify.Intent

	// Value holds the computed amount for maximum, minimum, total and
	// average queries, always positive. Nil when no transaction matched.
	Value *float64

	// Count holds the match count for count queries.
	Count int

	// Total holds the summed expense magnitude for total and average
	// queries, so an average answer can also report what it was
	// computed over.
	Total float64

	// Transactions carries the extreme transaction plus context, or the
	// listed/recent transactions, depending on intent.
	Transactions []storage.Transaction

	// Matched and Scanned record the scan extent for verification.
	Matched int
	Scanned int

	Verification string
}

// Execute runs the structured plan against the complete transaction slice.
// ref anchors open-ended temporal filters.
func Execute(plan classify.Plan, txns []storage.Transaction, ref time.Time) Result {
	matched := filter(plan, txns, ref)

	res := Result{
		Intent:  plan.Intent,
		Matched: len(matched),
		Scanned: len(txns),
	}

	switch plan.Intent {
	case classify.FindMaximum:
		res.extreme(matched, func(current, candidate float64) bool { return candidate < current })
	case classify.FindMinimum:
		res.extreme(matched, func(current, candidate float64) bool { return candidate > current })
	case classify.CalculateTotal:
		res.aggregate(matched, false)
	case classify.CalculateAverage:
		res.aggregate(matched, true)
	case classify.Count:
		res.Count = len(matched)
		res.Transactions = head(byDateDesc(matched), contextSize)
	case classify.FindRecent, classify.List:
		limit := plan.Filters.Limit
		if limit <= 0 {
			limit = recentDefault
		}
		res.Transactions = head(byDateDesc(matched), limit)
	}

	res.verify()
	return res
}

// filter applies the plan's temporal, merchant and category restrictions.
// Merchant and category comparisons are case-insensitive substring matches,
// so "starbucks" finds "Starbucks Reserve".
func filter(plan classify.Plan, txns []storage.Transaction, ref time.Time) []storage.Transaction {
	matched := make([]storage.Transaction, 0, len(txns))
	for _, t := range txns {
		if !plan.Filters.Temporal.Contains(t.Date, ref) {
			continue
		}
		if len(plan.Filters.Merchants) > 0 && !anyFold(t.Merchant, plan.Filters.Merchants) {
			continue
		}
		if len(plan.Filters.Categories) > 0 && !anyFold(t.Category, plan.Filters.Categories) {
			continue
		}
		matched = append(matched, t)
	}
	return matched
}

func anyFold(value string, needles []string) bool {
	lv := strings.ToLower(value)
	for _, n := range needles {
		if n != "" && strings.Contains(lv, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// extreme finds the expense with the extreme signed amount. beats reports
// whether candidate should replace current, so ties keep the first
// encountered transaction. Only expenses (negative amounts) participate;
// income rows would otherwise win every "smallest" query.
func (r *Result) extreme(matched []storage.Transaction, beats func(current, candidate float64) bool) {
	var best *storage.Transaction
	expenses := make([]storage.Transaction, 0, len(matched))
	for _, t := range matched {
		if t.Amount >= 0 {
			continue
		}
		expenses = append(expenses, t)
	}
	for i := range expenses {
		if best == nil || beats(best.Amount, expenses[i].Amount) {
			best = &expenses[i]
		}
	}
	r.Matched = len(expenses)
	if best == nil {
		return
	}
	v := math.Abs(best.Amount)
	r.Value = &v

	// The extreme transaction leads, followed by the next most relevant
	// expenses for context.
	sorted := append([]storage.Transaction(nil), expenses...)
	sort.SliceStable(sorted, func(i, j int) bool { return beats(sorted[j].Amount, sorted[i].Amount) })
	r.Transactions = head(sorted, contextSize)
}

// aggregate sums expense magnitudes; mean divides by the expense count.
func (r *Result) aggregate(matched []storage.Transaction, mean bool) {
	var sum float64
	expenses := make([]storage.Transaction, 0, len(matched))
	for _, t := range matched {
		if t.Amount >= 0 {
			continue
		}
		expenses = append(expenses, t)
		sum += math.Abs(t.Amount)
	}
	r.Matched = len(expenses)
	if len(expenses) == 0 {
		return
	}
	r.Total = sum
	v := sum
	if mean {
		v = sum / float64(len(expenses))
	}
	r.Value = &v
	r.Transactions = head(byDateDesc(expenses), contextSize)
}

func (r *Result) verify() {
	if r.Intent == classify.Count || r.Matched > 0 {
		r.Verification = fmt.Sprintf(
			"Computed from complete scan of %d matching transactions out of %d",
			r.Matched, r.Scanned)
		return
	}
	r.Verification = fmt.Sprintf(
		"No matching transactions found in complete scan of %d", r.Scanned)
}

func byDateDesc(txns []storage.Transaction) []storage.Transaction {
	sorted := append([]storage.Transaction(nil), txns...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.After(sorted[j].Date) })
	return sorted
}

func head(txns []storage.Transaction, n int) []storage.Transaction {
	if len(txns) > n {
		return txns[:n]
	}
	return txns
}
