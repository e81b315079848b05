package profile

// Profile is the user's financial context injected into answer prompts.
// It is stored as flat dot-notation keys in SQLite and assembled on read.
type Profile struct {
	Name            string             `json:"name,omitempty"`
	Currency        string             `json:"currency,omitempty"`
	MonthlyIncome   float64            `json:"monthly_income,omitempty"`
	MonthlyBudget   float64            `json:"monthly_budget,omitempty"`
	CategoryBudgets map[string]float64 `json:"category_budgets,omitempty"`
	Priorities      []string           `json:"priorities,omitempty"`
}
