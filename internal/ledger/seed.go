package ledger

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/penny/internal/storage"
)

// seedMerchant is one entry in the synthetic spending profile. weight
// biases the draw so everyday merchants dominate the ledger the way they
// do in a real statement.
type seedMerchant struct {
	name     string
	category string
	min, max float64
	weight   int
}

var seedMerchants = []seedMerchant{
	{"Starbucks", "Coffee", 4.50, 9.75, 8},
	{"Peets Coffee", "Coffee", 4.00, 8.50, 3},
	{"Dunkin", "Coffee", 3.25, 7.00, 3},
	{"Whole Foods", "Groceries", 35.00, 160.00, 6},
	{"Trader Joes", "Groceries", 25.00, 95.00, 5},
	{"Safeway", "Groceries", 20.00, 120.00, 4},
	{"Chipotle", "Dining", 11.00, 24.00, 5},
	{"McDonalds", "Dining", 6.50, 15.00, 4},
	{"Local Thai Kitchen", "Dining", 18.00, 55.00, 3},
	{"Shell Gas", "Transportation", 30.00, 65.00, 4},
	{"Chevron", "Transportation", 30.00, 70.00, 3},
	{"Uber", "Transportation", 9.00, 38.00, 4},
	{"Lyft", "Transportation", 8.00, 32.00, 3},
	{"Amazon", "Shopping", 12.00, 140.00, 6},
	{"Target", "Shopping", 15.00, 110.00, 4},
	{"CVS Pharmacy", "Health", 8.00, 45.00, 3},
	{"Netflix", "Entertainment", 15.49, 15.49, 1},
	{"Spotify", "Entertainment", 11.99, 11.99, 1},
	{"AMC Theatres", "Entertainment", 14.00, 42.00, 2},
	{"Planet Fitness", "Health", 24.99, 24.99, 1},
}

const (
	seedDays       = 90
	salaryAmount   = 2500.00
	mortgageAmount = 1650.00
	phoneAmount    = 95.00
)

// Seed fills the store with ~90 days of synthetic history ending at ref:
// a few weighted everyday purchases per day, a salary deposit every two
// weeks, and mortgage plus phone bills on the 1st and 5th of each month.
// The same seed value reproduces the same ledger.
func (s *Store) Seed(ref time.Time, seed int64) (int, error) {
	rng := rand.New(rand.NewSource(seed))
	ref = time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	start := ref.AddDate(0, 0, -(seedDays - 1))

	var picks []seedMerchant
	for _, m := range seedMerchants {
		for i := 0; i < m.weight; i++ {
			picks = append(picks, m)
		}
	}

	var txns []storage.Transaction
	for d := start; !d.After(ref); d = d.AddDate(0, 0, 1) {
		for i, n := 0, 2+rng.Intn(4); i < n; i++ {
			m := picks[rng.Intn(len(picks))]
			amount := m.min + rng.Float64()*(m.max-m.min)
			txns = append(txns, storage.Transaction{
				ID:       uuid.NewString(),
				Merchant: m.name,
				Amount:   -round2(amount),
				Date:     d,
				Category: m.category,
			})
		}
		if d.Day() == 1 {
			txns = append(txns, storage.Transaction{
				ID:       uuid.NewString(),
				Merchant: "Mortgage Payment",
				Amount:   -mortgageAmount,
				Date:     d,
				Category: "Housing",
			})
		}
		if d.Day() == 5 {
			txns = append(txns, storage.Transaction{
				ID:       uuid.NewString(),
				Merchant: "Verizon Mobile",
				Amount:   -phoneAmount,
				Date:     d,
				Category: "Utilities",
			})
		}
	}
	for d := ref; !d.Before(start); d = d.AddDate(0, 0, -14) {
		txns = append(txns, storage.Transaction{
			ID:       uuid.NewString(),
			Merchant: "Monthly Salary",
			Amount:   salaryAmount,
			Date:     d,
			Category: "Income",
		})
	}

	if err := s.Add(txns); err != nil {
		return 0, fmt.Errorf("save seed data: %w", err)
	}
	return len(txns), nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
