// Package composer turns computed facts and retrieved context into the
// final answer. The model only ever phrases; every number it may use is
// computed upstream and handed to it, and if generation fails the answer
// falls back to a deterministic sentence built from the same facts.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/penny/internal/engine"
	"github.com/kalambet/penny/internal/executor"
	"github.com/kalambet/penny/internal/retrieval"
)

// Methods reported in answer metadata.
const (
	MethodStructured     = "structured_query"
	MethodSemanticSearch = "semantic_search"
	MethodSemanticFilter = "semantic_llm_filter"
)

const (
	generationTimeout = 30 * time.Second

	// Section caps for retrieved context in the answer prompt.
	maxTransactionLines  = 10
	maxPatternLines      = 5
	maxGoalLines         = 3
	maxConversationLines = 3

	maxContextTokens = 4000
)

// Chatter is the slice of engine.Engine the composer needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema) (string, error)
}

// Metadata travels with every answer so callers can see how it was made.
type Metadata struct {
	Method string `json:"method"`

	// Grounded reports whether the answer is backed by structured
	// computation or retrieved data, as opposed to an apology for
	// having nothing to go on.
	Grounded     bool   `json:"grounded"`
	Intent       string `json:"intent,omitempty"`
	TimePeriod   string `json:"time_period,omitempty"`
	Verification string `json:"verification,omitempty"`
	Reasoning    string `json:"reasoning,omitempty"`
	Degraded     bool   `json:"degraded,omitempty"`
}

// Answer is the assembled response.
type Answer struct {
	Text     string
	Metadata Metadata
}

type Composer struct {
	client Chatter
	model  string
	log    *slog.Logger
}

func New(client Chatter, model string, log *slog.Logger) *Composer {
	if log == nil {
		log = slog.Default()
	}
	return &Composer{client: client, model: model, log: log}
}

// FromStructured phrases an exact computation. The fact block carries the
// verified numbers; the model may not introduce others.
func (c *Composer) FromStructured(ctx context.Context, query string, res executor.Result, timePeriod string) Answer {
	meta := Metadata{
		Method:       MethodStructured,
		Grounded:     true,
		Intent:       string(res.Intent),
		TimePeriod:   timePeriod,
		Verification: res.Verification,
	}

	fallback := structuredFallback(res, timePeriod)
	prompt := []engine.Message{
		{Role: "system", Content: structuredSystem},
		{Role: "user", Content: structuredFacts(query, res, timePeriod)},
	}

	text, ok := c.generate(ctx, prompt)
	if !ok {
		meta.Degraded = true
		text = fallback
	}
	return Answer{Text: text, Metadata: meta}
}

// FromSemantic phrases an answer grounded in retrieved context. reasoning
// explains how the query was interpreted; it passes through to metadata.
func (c *Composer) FromSemantic(ctx context.Context, query string, results retrieval.Results, profileSummary, timePeriod, reasoning string) Answer {
	meta := Metadata{
		Method:     MethodSemanticSearch,
		TimePeriod: timePeriod,
		Reasoning:  reasoning,
	}

	grounding := buildGrounding(results, profileSummary)
	if grounding == "" {
		meta.Degraded = true
		return Answer{
			Text:     "I don't have any transaction history relevant to that yet.",
			Metadata: meta,
		}
	}
	meta.Grounded = true

	prompt := []engine.Message{
		{Role: "system", Content: semanticSystem},
		{Role: "user", Content: grounding + "\n\nQuestion: " + query},
	}
	text, ok := c.generate(ctx, prompt)
	if !ok {
		meta.Degraded = true
		text = semanticFallback(results)
	}
	return Answer{Text: text, Metadata: meta}
}

// FromMerchantFilter phrases an answer for business-type questions: the
// matcher already picked the merchants, the executor already summed them.
func (c *Composer) FromMerchantFilter(ctx context.Context, query, businessType string, merchants []string, res executor.Result, timePeriod, reasoning string) Answer {
	meta := Metadata{
		Method:       MethodSemanticFilter,
		TimePeriod:   timePeriod,
		Verification: res.Verification,
		Reasoning:    reasoning,
	}

	if len(merchants) == 0 {
		meta.Degraded = true
		return Answer{
			Text:     fmt.Sprintf("I couldn't find any merchants matching %q in your transaction history.", businessType),
			Metadata: meta,
		}
	}
	meta.Grounded = true

	fallback := merchantFallback(businessType, merchants, res, timePeriod)
	prompt := []engine.Message{
		{Role: "system", Content: structuredSystem},
		{Role: "user", Content: merchantFacts(query, businessType, merchants, res, timePeriod)},
	}
	text, ok := c.generate(ctx, prompt)
	if !ok {
		meta.Degraded = true
		text = fallback
	}
	return Answer{Text: text, Metadata: meta}
}

func (c *Composer) generate(ctx context.Context, prompt []engine.Message) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	text, err := c.client.Chat(ctx, c.model, prompt, nil)
	if err != nil {
		c.log.Warn("answer generation failed, using deterministic text", "error", err)
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return text, true
}

const structuredSystem = `You are a personal finance assistant. The FACTS block below was computed exactly from the user's complete transaction history.
Answer the question in one or two sentences using only those facts. Use the exact amounts given. Do not compute, estimate or invent any number.`

const semanticSystem = `You are a personal finance assistant. The context below was retrieved from the user's transaction history.
Answer the question using only this context. Never invent transactions, amounts or dates. If the context does not answer the question, say what is missing.`

func structuredFacts(query string, res executor.Result, timePeriod string) string {
	var b strings.Builder
	b.WriteString("FACTS\n")
	fmt.Fprintf(&b, "Question type: %s\n", res.Intent)
	fmt.Fprintf(&b, "Time period: %s\n", timePeriod)
	if res.Value != nil {
		fmt.Fprintf(&b, "Computed value: $%.2f\n", *res.Value)
	}
	if res.Intent == "count" {
		fmt.Fprintf(&b, "Count: %d\n", res.Count)
	}
	if res.Intent == "calculate_average" {
		fmt.Fprintf(&b, "Computed over: %d transactions totaling $%.2f\n", res.Matched, res.Total)
	}
	if len(res.Transactions) > 0 {
		b.WriteString("Transactions:\n")
		for _, t := range res.Transactions {
			fmt.Fprintf(&b, "- %s\n", transactionLine(t.Date, t.Merchant, t.Amount, t.Category))
		}
	}
	fmt.Fprintf(&b, "%s\n\nQuestion: %s", res.Verification, query)
	return b.String()
}

func merchantFacts(query, businessType string, merchants []string, res executor.Result, timePeriod string) string {
	var b strings.Builder
	b.WriteString("FACTS\n")
	fmt.Fprintf(&b, "Business type asked about: %s\n", businessType)
	fmt.Fprintf(&b, "Matching merchants: %s\n", strings.Join(merchants, ", "))
	fmt.Fprintf(&b, "Time period: %s\n", timePeriod)
	if res.Value != nil {
		fmt.Fprintf(&b, "Total spent there: $%.2f across %d transactions\n", *res.Value, res.Matched)
	}
	if len(res.Transactions) > 0 {
		b.WriteString("Recent examples:\n")
		for _, t := range res.Transactions {
			fmt.Fprintf(&b, "- %s\n", transactionLine(t.Date, t.Merchant, t.Amount, t.Category))
		}
	}
	fmt.Fprintf(&b, "%s\n\nQuestion: %s", res.Verification, query)
	return b.String()
}

// buildGrounding lays retrieved context out in fixed sections, best scores
// first, trimmed to the token budget.
func buildGrounding(results retrieval.Results, profileSummary string) string {
	var b strings.Builder
	if profileSummary != "" {
		b.WriteString("USER PROFILE\n")
		b.WriteString(profileSummary)
		b.WriteString("\n")
	}
	remaining := maxContextTokens - estimateTokens(b.String())

	remaining = writeSection(&b, "RECENT TRANSACTIONS", results.Transactions, maxTransactionLines, remaining)
	remaining = writeSection(&b, "SPENDING PATTERNS", results.Patterns, maxPatternLines, remaining)
	remaining = writeSection(&b, "FINANCIAL GOALS", results.Goals, maxGoalLines, remaining)
	writeSection(&b, "PRIOR CONVERSATION", results.Conversation, maxConversationLines, remaining)

	return strings.TrimSpace(b.String())
}

func writeSection(b *strings.Builder, header string, chunks []retrieval.Chunk, limit, remaining int) int {
	if len(chunks) == 0 || remaining <= 0 {
		return remaining
	}
	sorted := append([]retrieval.Chunk(nil), chunks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	var section strings.Builder
	section.WriteString("\n" + header + "\n")
	for _, ch := range sorted {
		line := "- " + ch.Text + "\n"
		if cost := estimateTokens(line); cost <= remaining {
			section.WriteString(line)
			remaining -= cost
		}
	}
	b.WriteString(section.String())
	return remaining - estimateTokens(header)
}

// structuredFallback renders the executor result without the model.
// Recency and list results carry their answer in Transactions rather
// than Value, so they are handled before the empty-result check.
func structuredFallback(res executor.Result, timePeriod string) string {
	period := strings.ToLower(timePeriod)
	switch res.Intent {
	case "count":
		return fmt.Sprintf("I found %d matching transactions (%s).", res.Count, period)
	case "find_recent", "list":
		if len(res.Transactions) == 0 {
			break
		}
		var lines []string
		for _, t := range res.Transactions {
			lines = append(lines, transactionLine(t.Date, t.Merchant, t.Amount, t.Category))
		}
		return fmt.Sprintf("Here are your transactions (%s):\n%s", period, strings.Join(lines, "\n"))
	}
	if res.Value == nil {
		return fmt.Sprintf("I didn't find any matching transactions (%s). %s.", period, res.Verification)
	}
	switch res.Intent {
	case "find_maximum":
		t := res.Transactions[0]
		return fmt.Sprintf("Your biggest expense (%s) was %s for $%.2f on %s.",
			period, t.Merchant, *res.Value, t.Date.Format("2006-01-02"))
	case "find_minimum":
		t := res.Transactions[0]
		return fmt.Sprintf("Your smallest expense (%s) was %s for $%.2f on %s.",
			period, t.Merchant, *res.Value, t.Date.Format("2006-01-02"))
	case "calculate_total":
		return fmt.Sprintf("You spent $%.2f in total (%s) across %d transactions.", *res.Value, period, res.Matched)
	case "calculate_average":
		return fmt.Sprintf("Your average expense (%s) was $%.2f across %d transactions totaling $%.2f.",
			period, *res.Value, res.Matched, res.Total)
	default:
		return fmt.Sprintf("The computed amount (%s) is $%.2f. %s.", period, *res.Value, res.Verification)
	}
}

func merchantFallback(businessType string, merchants []string, res executor.Result, timePeriod string) string {
	if res.Value == nil {
		return fmt.Sprintf("I matched %s to %s but found no spending there (%s).",
			businessType, strings.Join(merchants, ", "), strings.ToLower(timePeriod))
	}
	return fmt.Sprintf("At %s (%s) you spent $%.2f across %d transactions (%s).",
		strings.Join(merchants, ", "), businessType, *res.Value, res.Matched, strings.ToLower(timePeriod))
}

func semanticFallback(results retrieval.Results) string {
	var lines []string
	for i, ch := range results.Transactions {
		if i == maxTransactionLines {
			break
		}
		lines = append(lines, "- "+ch.Text)
	}
	if len(lines) == 0 {
		for _, ch := range results.Patterns {
			lines = append(lines, "- "+ch.Text)
		}
	}
	return "Here's the most relevant history I found:\n" + strings.Join(lines, "\n")
}

func transactionLine(date time.Time, merchant string, amount float64, category string) string {
	direction := "spent"
	if amount > 0 {
		direction = "received"
	}
	line := fmt.Sprintf("%s: %s $%.2f", date.Format("2006-01-02"), direction, math.Abs(amount))
	if merchant != "" {
		line += " at " + merchant
	}
	if category != "" {
		line += " (" + category + ")"
	}
	return line
}

// estimateTokens approximates with four characters per token.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
