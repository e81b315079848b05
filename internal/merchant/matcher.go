// Package merchant resolves free-form business descriptions against the
// merchant names that actually appear in the ledger. The rule tables in
// classify cover common phrases; anything unmapped lands here and is
// interpreted by the model against the real candidate list.
package merchant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/penny/internal/engine"
)

// Chatter is the slice of engine.Engine the matcher needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema) (string, error)
}

const (
	matchTimeout  = 5 * time.Second
	maxCandidates = 40
)

// Result carries the merchants the model judged to match, plus its
// stated reasoning for the answer metadata.
type Result struct {
	Merchants []string
	Reasoning string
	Degraded  bool
}

type Matcher struct {
	client Chatter
	model  string
	log    *slog.Logger
}

func New(client Chatter, model string, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{client: client, model: model, log: log}
}

// Match asks the model which of the candidate merchant names plausibly
// belong to the given business type. Candidates beyond maxCandidates are
// dropped before prompting. Match never fails: when the model is
// unreachable or returns garbage it falls back to a substring heuristic
// and flags the result as degraded.
func (m *Matcher) Match(ctx context.Context, businessType string, candidates []string) Result {
	if len(candidates) == 0 {
		return Result{Reasoning: "no merchants on record to match against"}
	}
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	ctx, cancel := context.WithTimeout(ctx, matchTimeout)
	defer cancel()

	resp, err := m.client.Chat(ctx, m.model, m.buildPrompt(businessType, candidates), matchSchema())
	if err != nil {
		m.log.Warn("merchant match failed, using heuristic", "business_type", businessType, "error", err)
		return heuristic(businessType, candidates)
	}

	var parsed struct {
		MatchingMerchants []string `json:"matching_merchants"`
		Reasoning         string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp)), &parsed); err != nil {
		m.log.Warn("merchant match returned malformed JSON, using heuristic", "business_type", businessType, "error", err)
		return heuristic(businessType, candidates)
	}

	// Only accept names that are actually in the ledger. Models invent
	// plausible merchants when the candidate list has no good match.
	known := make(map[string]string, len(candidates))
	for _, c := range candidates {
		known[strings.ToLower(c)] = c
	}
	var matched []string
	for _, name := range parsed.MatchingMerchants {
		if canonical, ok := known[strings.ToLower(strings.TrimSpace(name))]; ok {
			matched = append(matched, canonical)
		}
	}

	reasoning := parsed.Reasoning
	if reasoning == "" {
		reasoning = fmt.Sprintf("matched %d merchants for %q", len(matched), businessType)
	}
	return Result{Merchants: matched, Reasoning: reasoning}
}

func (m *Matcher) buildPrompt(businessType string, candidates []string) []engine.Message {
	system := `You classify merchant names by business type.
Given a business type and a list of merchant names from a personal transaction ledger, return the names that belong to that business type.
Only return names from the provided list, spelled exactly as given. If none match, return an empty list.
Respond with JSON only.`

	var b strings.Builder
	fmt.Fprintf(&b, "Business type: %s\n\nMerchants:\n", businessType)
	for _, c := range candidates {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}

	return []engine.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

func matchSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"matching_merchants": {Type: "array", Items: &engine.SchemaProperty{Type: "string"}},
			"reasoning":          {Type: "string"},
		},
		Required: []string{"matching_merchants", "reasoning"},
	}
}

// coffeeWords backs the degraded path. Coffee is by far the most common
// business-type question, so a dumb substring scan still gives a useful
// answer when the model is down.
var coffeeWords = []string{"coffee", "cafe", "starbucks", "dunkin", "peets", "espresso"}

func heuristic(businessType string, candidates []string) Result {
	bt := strings.ToLower(businessType)
	if strings.Contains(bt, "coffee") || strings.Contains(bt, "cafe") {
		var matched []string
		for _, c := range candidates {
			lc := strings.ToLower(c)
			for _, w := range coffeeWords {
				if strings.Contains(lc, w) {
					matched = append(matched, c)
					break
				}
			}
		}
		return Result{
			Merchants: matched,
			Reasoning: "matched by name lookup; semantic matching was unavailable",
			Degraded:  true,
		}
	}
	return Result{
		Reasoning: fmt.Sprintf("could not interpret %q; semantic matching was unavailable", businessType),
		Degraded:  true,
	}
}

func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}
