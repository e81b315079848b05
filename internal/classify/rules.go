package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kalambet/penny/internal/temporal"
)

// intentGroup pairs an intent with the phrases that select it. Groups are
// checked in order: recency phrases must win over a bare "most expensive"
// style maximum phrase, so FindRecent comes first.
type intentGroup struct {
	intent  Intent
	phrases []string
}

var intentGroups = []intentGroup{
	{FindRecent, []string{"most recent", "latest", "newest", "last purchase", "recent purchase"}},
	{FindMaximum, []string{"biggest", "largest", "most expensive", "highest", "maximum", "max"}},
	{FindMinimum, []string{"smallest", "cheapest", "lowest", "minimum", "min", "least expensive"}},
	{CalculateTotal, []string{"total", "sum", "how much did i spend", "how much have i spent", "how much spent", "add up", "altogether"}},
	{CalculateAverage, []string{"average", "avg", "mean", "typically spend", "usually spend", "on average"}},
	{Count, []string{"how many", "how often", "number of", "count", "times did i"}},
	{List, []string{"show me", "list", "what did i buy", "what were my", "display"}},
}

// MerchantGroups expands a business-type phrase into concrete merchant name
// fragments present in typical transaction data.
var MerchantGroups = map[string][]string{
	"coffee shop":    {"starbucks", "dunkin", "peets", "coffee", "cafe", "espresso", "dutch bros"},
	"coffee shops":   {"starbucks", "dunkin", "peets", "coffee", "cafe", "espresso", "dutch bros"},
	"fast food":      {"mcdonalds", "wendys", "burger king", "taco bell", "chipotle", "subway", "chick-fil-a"},
	"grocery store":  {"whole foods", "trader joes", "safeway", "kroger", "costco", "walmart", "target"},
	"grocery stores": {"whole foods", "trader joes", "safeway", "kroger", "costco", "walmart", "target"},
	"streaming":      {"netflix", "spotify", "hulu", "disney", "hbo", "apple tv", "amazon prime"},
	"ride share":     {"uber", "lyft"},
	"rideshare":      {"uber", "lyft"},
}

// knownMerchants are name fragments matched directly against the query.
var knownMerchants = []string{
	"starbucks", "dunkin", "peets", "chipotle", "mcdonalds", "subway",
	"whole foods", "trader joes", "safeway", "kroger", "costco", "walmart", "target",
	"amazon", "netflix", "spotify", "hulu", "uber", "lyft",
	"shell", "chevron", "exxon", "verizon", "comcast", "apple",
}

// categoryKeywords maps query vocabulary to transaction categories, checked
// in a fixed order so extraction is deterministic.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"Food & Dining", []string{"dining", "restaurant", "restaurants", "eating out", "food"}},
	{"Groceries", []string{"grocery", "groceries"}},
	{"Shopping", []string{"shopping", "clothes", "clothing"}},
	{"Transportation", []string{"gas", "fuel", "transportation", "commute", "parking"}},
	{"Entertainment", []string{"entertainment", "movie", "movies", "concert"}},
	{"Bills & Utilities", []string{"bill", "bills", "utilities", "utility", "subscription", "subscriptions"}},
	{"Healthcare", []string{"health", "healthcare", "medical", "pharmacy", "doctor"}},
}

var (
	limitNounRe   = regexp.MustCompile(`(\d+)\s*(?:purchases?|transactions?|expenses?|buys?)`)
	limitRecentRe = regexp.MustCompile(`(?:recent|last|latest)\s*(\d+)`)
	businessRe    = regexp.MustCompile(`\b([a-z]+) (?:shops?|stores?|stations?|places?)\b`)
)

var financialWords = []string{
	"spend", "spent", "cost", "pay", "paid", "buy", "bought", "expense",
	"income", "budget", "money", "dollar", "transaction", "purchase",
	"bill", "subscription",
}

// classifyRules is the deterministic tier. q must be lowercased.
func classifyRules(q string) Plan {
	plan := Plan{
		Intent:               General,
		Broad:                BroadFinancial,
		NeedsTransactionData: true,
		Source:               SourceRules,
		Reasoning:            "no rule group matched; treating as a general financial question",
	}

	for _, g := range intentGroups {
		if phrase := firstMatch(q, g.phrases); phrase != "" {
			plan.Intent = g.intent
			plan.RequiresStructured = g.intent.Structured()
			plan.Reasoning = "matched phrase " + strconv.Quote(phrase)
			break
		}
	}

	if plan.Intent == FindRecent {
		plan.Filters.Limit = extractLimit(q)
	}

	plan.Filters.Merchants = extractMerchants(q)
	plan.Filters.Categories = extractCategories(q)

	if phrase, fragments, ok := expandBusinessType(q); ok {
		plan.Filters.Merchants = mergeUnique(plan.Filters.Merchants, fragments)
	} else if phrase != "" {
		plan.BusinessType = phrase
	}

	if plan.Intent == General {
		plan.Broad = BroadHybrid
		plan.NeedsGeneralKnowledge = true
	}

	return plan
}

func firstMatch(q string, phrases []string) string {
	for _, p := range phrases {
		if strings.Contains(q, p) {
			return p
		}
	}
	return ""
}

// extractLimit pulls an explicit result count for find_recent queries
// ("last 3 purchases"), defaulting to 5.
func extractLimit(q string) int {
	if m := limitNounRe.FindStringSubmatch(q); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	if m := limitRecentRe.FindStringSubmatch(q); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return 5
}

func extractMerchants(q string) []string {
	var merchants []string
	for _, m := range knownMerchants {
		if strings.Contains(q, m) {
			merchants = append(merchants, m)
		}
	}
	return merchants
}

func extractCategories(q string) []string {
	var categories []string
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(q, w) {
				categories = append(categories, ck.category)
				break
			}
		}
	}
	return categories
}

// expandBusinessType looks for a business-category phrase. When the fixed
// group table covers it, the concrete fragments are returned; otherwise the
// raw phrase is handed back so the semantic matcher can take over.
func expandBusinessType(q string) (phrase string, fragments []string, ok bool) {
	for p, frags := range MerchantGroups {
		if strings.Contains(q, p) {
			return p, frags, true
		}
	}
	if m := businessRe.FindStringSubmatch(q); m != nil {
		return strings.TrimSpace(m[0]), nil, false
	}
	return "", nil, false
}

func mergeUnique(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			dst = append(dst, s)
			seen[s] = true
		}
	}
	return dst
}

var advisoryPhrases = []string{
	"should i", "is it worth", "do you think", "would you recommend",
	"compare", "better", "worth it", "good idea",
	"advice", "suggest", "recommend", "help me", "tips",
}

var knowledgePhrases = []string{
	"what is", "what are", "how do", "explain", "tell me about",
}

var conjunctions = []string{" and ", " or ", " but ", " versus ", " vs "}

var pronounRe = regexp.MustCompile(`\b(it|they|that|this|those)\b`)

// needsEscalation decides whether the rule-based plan is trustworthy or the
// query should go to the LLM tier. Queries the rules classify with a clear
// structured intent and no ambiguity signals never escalate.
func needsEscalation(q string, plan Plan) bool {
	for _, p := range advisoryPhrases {
		if strings.Contains(q, p) {
			return true
		}
	}
	for _, p := range knowledgePhrases {
		if strings.Contains(q, p) {
			return true
		}
	}
	for _, c := range conjunctions {
		if strings.Contains(q, c) {
			return true
		}
	}
	if temporal.IsComplex(q) {
		return true
	}

	if plan.Intent != General {
		return false
	}

	// The rules fell through to the general bucket: escalate when the query
	// still smells financial or is a long open question.
	if pronounRe.MatchString(q) {
		return true
	}
	for _, w := range financialWords {
		if strings.Contains(q, w) {
			return true
		}
	}
	if strings.Contains(q, "?") && len(strings.Fields(q)) > 5 {
		return true
	}
	return false
}
