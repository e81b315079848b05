package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/penny/internal/storage"
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	SetProfileKey(key, value string) error
	GetProfileKey(key string) (string, error)
	GetAllProfileKeys() (map[string]string, error)
	SaveGoal(g storage.Goal) error
	ListGoals() ([]storage.Goal, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached, structured access to the financial profile.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Profile
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return &Manager{
		store: store,
		clock: realClock{},
		ttl:   60 * time.Second,
	}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
	}
}

// GetProfile reads all profile keys from storage (or cache) and assembles
// a structured Profile. Returns a zero-value Profile on empty store.
func (m *Manager) GetProfile() (Profile, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		p := deepCopyProfile(m.cached)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return deepCopyProfile(m.cached), nil
	}

	keys, err := m.store.GetAllProfileKeys()
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile keys: %w", err)
	}

	p := buildProfile(keys)
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return deepCopyProfile(&p), nil
}

// SetField persists a profile key and invalidates the cache.
func (m *Manager) SetField(key string, value interface{}) error {
	var str string
	switch v := value.(type) {
	case string:
		str = v
	case float64:
		str = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling value for key %q: %w", key, err)
		}
		str = string(b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetProfileKey(key, str); err != nil {
		return fmt.Errorf("setting profile key %q: %w", key, err)
	}

	m.cached = nil
	return nil
}

// SaveGoal upserts a savings goal. Goals are not cached; they change
// rarely and always read fresh.
func (m *Manager) SaveGoal(g storage.Goal) error {
	return m.store.SaveGoal(g)
}

// Goals returns all savings goals.
func (m *Manager) Goals() ([]storage.Goal, error) {
	return m.store.ListGoals()
}

// GetSummary returns a compact string representation of the profile and
// goals suitable for injecting into a prompt. Targets < 500 tokens.
func (m *Manager) GetSummary() (string, error) {
	p, err := m.GetProfile()
	if err != nil {
		return "", fmt.Errorf("getting profile for summary: %w", err)
	}
	goals, err := m.store.ListGoals()
	if err != nil {
		return "", fmt.Errorf("listing goals for summary: %w", err)
	}
	return summarize(p, goals), nil
}

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

func summarize(p Profile, goals []storage.Goal) string {
	var parts []string

	if p.Name != "" {
		parts = append(parts, fmt.Sprintf("User: %s.", p.Name))
	}
	if p.MonthlyIncome > 0 {
		parts = append(parts, fmt.Sprintf("Monthly income: $%.2f.", p.MonthlyIncome))
	}
	if p.MonthlyBudget > 0 {
		parts = append(parts, fmt.Sprintf("Monthly budget: $%.2f.", p.MonthlyBudget))
	}

	// Category budgets, sorted for deterministic output.
	if len(p.CategoryBudgets) > 0 {
		categories := make([]string, 0, len(p.CategoryBudgets))
		for c := range p.CategoryBudgets {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		var budgets []string
		for _, c := range categories {
			budgets = append(budgets, fmt.Sprintf("%s $%.2f", c, p.CategoryBudgets[c]))
		}
		parts = append(parts, fmt.Sprintf("Category budgets: %s.", strings.Join(budgets, ", ")))
	}

	if len(p.Priorities) > 0 {
		parts = append(parts, fmt.Sprintf("Priorities: %s.", strings.Join(p.Priorities, ", ")))
	}

	for _, g := range goals {
		parts = append(parts, fmt.Sprintf("Goal: save $%.2f for %s by %s ($%.2f saved).",
			g.TargetAmount, g.Purpose, g.TargetDate.Format("2006-01-02"), g.CurrentAmount))
	}

	if len(parts) == 0 {
		return ""
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		if idx := strings.LastIndex(summary[:maxSummaryChars], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:maxSummaryChars]
		}
	}
	return summary
}

func deepCopyProfile(p *Profile) Profile {
	if p == nil {
		return Profile{}
	}
	cp := *p

	if p.CategoryBudgets != nil {
		cp.CategoryBudgets = make(map[string]float64, len(p.CategoryBudgets))
		for k, v := range p.CategoryBudgets {
			cp.CategoryBudgets[k] = v
		}
	}
	if p.Priorities != nil {
		cp.Priorities = make([]string, len(p.Priorities))
		copy(cp.Priorities, p.Priorities)
	}
	return cp
}

// buildProfile assembles a Profile from flat key-value pairs.
// Keys use dot-notation: "name", "currency", "income.monthly",
// "budget.monthly", "budget.categories", "priorities".
// Map/list values are stored as JSON.
func buildProfile(keys map[string]string) Profile {
	var p Profile

	if v, ok := keys["name"]; ok {
		p.Name = v
	}
	if v, ok := keys["currency"]; ok {
		p.Currency = v
	}
	parseMoneyKey(keys, "income.monthly", &p.MonthlyIncome)
	parseMoneyKey(keys, "budget.monthly", &p.MonthlyBudget)

	unmarshalProfileKey(keys, "budget.categories", &p.CategoryBudgets)
	unmarshalProfileKey(keys, "priorities", &p.Priorities)

	return p
}

func parseMoneyKey(keys map[string]string, key string, target *float64) {
	v, ok := keys[key]
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("malformed profile amount, skipping", "key", key, "error", err)
		return
	}
	*target = f
}

// unmarshalProfileKey unmarshals a JSON value from keys into target, logging
// a warning if the value is present but malformed.
func unmarshalProfileKey(keys map[string]string, key string, target interface{}) {
	v, ok := keys[key]
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		slog.Warn("malformed profile key, skipping", "key", key, "error", err)
	}
}
