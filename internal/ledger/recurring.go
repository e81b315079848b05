package ledger

import (
	"math"
	"sort"
	"time"

	"github.com/kalambet/penny/internal/storage"
)

// RecurringExpense is a merchant whose charges repeat on a steady cadence
// with steady amounts.
type RecurringExpense struct {
	Merchant      string    `json:"merchant"`
	Category      string    `json:"category"`
	Cadence       string    `json:"cadence"` // weekly, biweekly or monthly
	AverageAmount float64   `json:"average_amount"`
	Occurrences   int       `json:"occurrences"`
	LastSeen      time.Time `json:"last_seen"`
}

// DetectRecurring scans the live ledger for repeating expenses. A merchant
// qualifies when it has at least two charges, the amounts stay within 30%
// of their mean, and the median gap between charges fits a weekly (<10
// days), biweekly (<20) or monthly (<40) cadence.
func (s *Store) DetectRecurring() ([]RecurringExpense, error) {
	txns, err := s.Snapshot()
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]storage.Transaction)
	for _, t := range txns {
		if t.Amount >= 0 {
			continue
		}
		groups[t.Merchant] = append(groups[t.Merchant], t)
	}

	var found []RecurringExpense
	for merchant, charges := range groups {
		if len(charges) < 2 {
			continue
		}
		sort.Slice(charges, func(i, j int) bool { return charges[i].Date.Before(charges[j].Date) })

		var sum float64
		for _, c := range charges {
			sum += math.Abs(c.Amount)
		}
		mean := sum / float64(len(charges))
		steady := true
		for _, c := range charges {
			if mean == 0 || math.Abs(math.Abs(c.Amount)-mean)/mean > 0.30 {
				steady = false
				break
			}
		}
		if !steady {
			continue
		}

		gaps := make([]float64, 0, len(charges)-1)
		for i := 1; i < len(charges); i++ {
			gaps = append(gaps, charges[i].Date.Sub(charges[i-1].Date).Hours()/24)
		}
		cadence := classifyCadence(median(gaps))
		if cadence == "" {
			continue
		}

		found = append(found, RecurringExpense{
			Merchant:      merchant,
			Category:      charges[0].Category,
			Cadence:       cadence,
			AverageAmount: round2(mean),
			Occurrences:   len(charges),
			LastSeen:      charges[len(charges)-1].Date,
		})
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].AverageAmount != found[j].AverageAmount {
			return found[i].AverageAmount > found[j].AverageAmount
		}
		return found[i].Merchant < found[j].Merchant
	})
	return found, nil
}

func classifyCadence(gapDays float64) string {
	switch {
	case gapDays <= 0:
		return ""
	case gapDays < 10:
		return "weekly"
	case gapDays < 20:
		return "biweekly"
	case gapDays < 40:
		return "monthly"
	default:
		return ""
	}
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
