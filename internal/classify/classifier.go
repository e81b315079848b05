package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/penny/internal/engine"
	"github.com/kalambet/penny/internal/storage"
)

const classificationTimeout = 4 * time.Second

// Chatter is the chat-completion capability the LLM tier needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Classifier produces query plans. The zero mode is ModeHybrid: rules first,
// LLM only for queries the rules can't place confidently.
type Classifier struct {
	client Chatter
	model  string
	mode   Mode

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Classifier. client may be nil for ModeRulesOnly.
func New(client Chatter, model string, mode Mode) *Classifier {
	if mode == "" {
		mode = ModeHybrid
	}
	return &Classifier{client: client, model: model, mode: mode, now: time.Now}
}

// Classify maps a query (plus up to the last three conversation turns) to a
// Plan. It never fails: every error path degrades to the rule-based plan.
func (c *Classifier) Classify(ctx context.Context, query string, history []storage.Turn) Plan {
	q := strings.ToLower(strings.TrimSpace(query))
	rulePlan := classifyRules(q)

	switch c.mode {
	case ModeRulesOnly:
		return rulePlan
	case ModeLLMOnly:
		return c.escalate(ctx, query, history, rulePlan)
	default:
		if c.client != nil && needsEscalation(q, rulePlan) {
			return c.escalate(ctx, query, history, rulePlan)
		}
		return rulePlan
	}
}

// llmPlan mirrors the JSON shape the model must return.
type llmPlan struct {
	Intent                string   `json:"intent"`
	RequiresStructured    bool     `json:"requires_structured"`
	BroadIntent           string   `json:"broad_intent"`
	Merchants             []string `json:"merchants"`
	Categories            []string `json:"categories"`
	Limit                 int      `json:"limit"`
	NeedsTransactionData  bool     `json:"needs_transaction_data"`
	NeedsGeneralKnowledge bool     `json:"needs_general_knowledge"`
	Reasoning             string   `json:"reasoning"`
}

// escalate runs the LLM tier. On call failure or unparseable output it falls
// back to the rule plan widened to "assume everything is needed": an
// over-fetched prompt costs less than a wrong answer from missing context.
func (c *Classifier) escalate(ctx context.Context, query string, history []storage.Turn, rulePlan Plan) Plan {
	if c.client == nil {
		return fallback(rulePlan, "llm tier unavailable")
	}

	ctx, cancel := context.WithTimeout(ctx, classificationTimeout)
	defer cancel()

	raw, err := c.client.Chat(ctx, c.model, c.buildPrompt(query, history), planSchema())
	if err != nil {
		slog.Warn("llm classification failed", "error", err)
		return fallback(rulePlan, "llm classification call failed")
	}

	var lp llmPlan
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &lp); err != nil {
		slog.Warn("failed to unmarshal classification", "error", err, "response", raw)
		return fallback(rulePlan, "llm classification returned unparseable output")
	}

	intent := Intent(lp.Intent)
	if !intent.Valid() {
		slog.Warn("llm classification returned unknown intent", "intent", lp.Intent)
		return fallback(rulePlan, "llm classification returned unknown intent")
	}

	plan := Plan{
		Intent:                intent,
		RequiresStructured:    lp.RequiresStructured || intent.Structured(),
		Broad:                 broadOrDefault(lp.BroadIntent),
		NeedsTransactionData:  lp.NeedsTransactionData,
		NeedsGeneralKnowledge: lp.NeedsGeneralKnowledge,
		Reasoning:             lp.Reasoning,
		Source:                SourceLLM,
	}
	plan.Filters.Merchants = lowerAll(lp.Merchants)
	plan.Filters.Categories = lp.Categories
	plan.Filters.Limit = lp.Limit
	if plan.Intent == FindRecent && plan.Filters.Limit <= 0 {
		plan.Filters.Limit = 5
	}

	// The rules still see merchant fragments the model may have missed.
	plan.Filters.Merchants = mergeUnique(plan.Filters.Merchants, rulePlan.Filters.Merchants)
	plan.BusinessType = rulePlan.BusinessType
	return plan
}

// fallback widens the rule plan after a failed escalation.
func fallback(rulePlan Plan, reason string) Plan {
	rulePlan.Broad = BroadHybrid
	rulePlan.NeedsTransactionData = true
	rulePlan.NeedsGeneralKnowledge = true
	rulePlan.Reasoning = reason + "; falling back to rule-based plan"
	return rulePlan
}

func broadOrDefault(s string) Broad {
	switch Broad(s) {
	case BroadFinancial, BroadKnowledge, BroadHybrid, BroadConversational:
		return Broad(s)
	}
	return BroadHybrid
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(strings.ToLower(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (c *Classifier) buildPrompt(query string, history []storage.Turn) []engine.Message {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(classificationSystemTemplate, c.now().Format("2006-01-02")))

	messages := []engine.Message{{Role: "system", Content: sb.String()}}

	// Newest-first storage order, oldest-first prompt order, last 3 turns.
	start := len(history)
	if start > 3 {
		start = 3
	}
	for i := start - 1; i >= 0; i-- {
		messages = append(messages, engine.Message{Role: history[i].Role, Content: history[i].Text})
	}

	messages = append(messages, engine.Message{Role: "user", Content: query})
	return messages
}

const classificationSystemTemplate = `You classify questions about personal finances into a structured query plan. Today's date is %s.

Intents:
- find_maximum / find_minimum: the single biggest or smallest transaction
- calculate_total / calculate_average: sum or mean over matching transactions
- count: how many matching transactions exist
- find_recent: the most recent transactions
- list: show matching transactions without computation
- general: anything else

Broad intent:
- financial: answerable purely from transaction data ("How much did I spend at Starbucks?")
- knowledge: general knowledge, no personal data needed ("What are index funds?")
- hybrid: needs both ("Should I cut back on Chipotle?")
- conversational: a follow-up that only makes sense in context ("Is it worth it?")

Set requires_structured to true whenever an exact number answers the question.
List merchant names and categories mentioned or implied by the question.
Keep reasoning to one sentence.

Respond with JSON only.`

func planSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"intent":                  {Type: "string", Description: "One of: find_maximum, find_minimum, calculate_total, calculate_average, count, find_recent, list, general"},
			"requires_structured":     {Type: "boolean", Description: "True when an exact computation answers the question"},
			"broad_intent":            {Type: "string", Description: "One of: financial, knowledge, hybrid, conversational"},
			"merchants":               {Type: "array", Description: "Merchant names the question refers to"},
			"categories":              {Type: "array", Description: "Spending categories the question refers to"},
			"limit":                   {Type: "integer", Description: "Result count for find_recent queries"},
			"needs_transaction_data":  {Type: "boolean", Description: "Whether answering needs the user's transactions"},
			"needs_general_knowledge": {Type: "boolean", Description: "Whether answering needs general world knowledge"},
			"reasoning":               {Type: "string", Description: "One-sentence justification"},
		},
		Required: []string{"intent", "requires_structured", "broad_intent", "reasoning"},
	}
}

// cleanJSON removes markdown fences and isolates the outermost JSON object.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}
