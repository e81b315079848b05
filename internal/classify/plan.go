// Package classify turns a user's question into a structured query plan.
// A rule-based tier handles the common financial vocabulary; ambiguous or
// advisory queries escalate to a local LLM, with the rule result as the
// fallback when the model call fails.
package classify

import "github.com/kalambet/penny/internal/temporal"

// Intent is the closed set of query intents.
type Intent string

const (
	FindMaximum      Intent = "find_maximum"
	FindMinimum      Intent = "find_minimum"
	CalculateTotal   Intent = "calculate_total"
	CalculateAverage Intent = "calculate_average"
	Count            Intent = "count"
	FindRecent       Intent = "find_recent"
	List             Intent = "list"
	General          Intent = "general"
)

// structuredIntents require an exact full-scan computation rather than
// semantic retrieval.
var structuredIntents = map[Intent]bool{
	FindMaximum:      true,
	FindMinimum:      true,
	CalculateTotal:   true,
	CalculateAverage: true,
	Count:            true,
	FindRecent:       true,
}

// Valid reports whether s names a known intent.
func (i Intent) Valid() bool {
	switch i {
	case FindMaximum, FindMinimum, CalculateTotal, CalculateAverage, Count, FindRecent, List, General:
		return true
	}
	return false
}

// Structured reports whether the intent demands exact computation.
func (i Intent) Structured() bool { return structuredIntents[i] }

// Broad is the coarse routing category for a query.
type Broad string

const (
	BroadFinancial      Broad = "financial"
	BroadKnowledge      Broad = "knowledge"
	BroadHybrid         Broad = "hybrid"
	BroadConversational Broad = "conversational"
)

// Source records which tier produced the plan.
type Source string

const (
	SourceRules Source = "rule_based"
	SourceLLM   Source = "llm"
)

// Mode selects the classifier tiers in play.
type Mode string

const (
	ModeRulesOnly Mode = "rule_based_only"
	ModeLLMOnly   Mode = "llm_only"
	ModeHybrid    Mode = "hybrid"
)

// Filters restricts which transactions a plan applies to.
type Filters struct {
	Temporal   *temporal.Filter
	Merchants  []string
	Categories []string
	Limit      int
}

// Plan is the classification result. Produced fresh per query and never
// persisted across requests.
type Plan struct {
	Intent             Intent
	RequiresStructured bool
	Broad              Broad
	Filters            Filters

	// BusinessType holds a business-category phrase ("coffee shops") the
	// fixed merchant-group table could not expand; the pipeline routes such
	// plans through the semantic merchant matcher.
	BusinessType string

	NeedsTransactionData  bool
	NeedsGeneralKnowledge bool
	Reasoning             string
	Source                Source
}
