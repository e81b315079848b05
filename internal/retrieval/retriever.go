package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/penny/internal/temporal"
)

// Caps on how much of each collection a single query may pull into the
// answer prompt. Transactions dominate; the rest is supporting color.
const (
	maxTransactionChunks  = 15
	maxPatternChunks      = 5
	maxGoalChunks         = 5
	maxConversationChunks = 5
)

// Chunk is one retrieved text with its similarity score.
type Chunk struct {
	ID        string
	SourceID  string
	Text      string
	Score     float32
	Date      *time.Time
	CreatedAt time.Time
}

// Results groups retrieved context by collection.
type Results struct {
	Transactions []Chunk
	Patterns     []Chunk
	Goals        []Chunk
	Conversation []Chunk
}

// Empty reports whether nothing at all was retrieved.
func (r Results) Empty() bool {
	return len(r.Transactions) == 0 && len(r.Patterns) == 0 &&
		len(r.Goals) == 0 && len(r.Conversation) == 0
}

// Retriever embeds the query once and searches every collection with it.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Keyword groups routing a query to the collections likely to ground it.
// Matching is substring on the lowercased query, so "spending" hits
// "spend" and "savings" hits "saving".
var (
	spendingWords = []string{
		"spend", "spent", "purchase", "bought", "paid", "cost",
		"transaction", "merchant", "dining", "grocery", "shopping",
	}
	budgetWords = []string{
		"budget", "goal", "save", "saving", "target", "limit",
		"afford", "plan", "reduce",
	}
	trendWords = []string{
		"trend", "pattern", "average", "monthly", "weekly",
		"compare", "vs", "versus", "increase", "decrease",
	}
)

// collectionsFor picks which collections a query should search. Spending
// words select transactions, budget words select goals and patterns,
// trend words select patterns; a query matching nothing searches all
// three. Conversation is not routed here; it is always searched.
func collectionsFor(query string) map[string]bool {
	q := strings.ToLower(query)
	picks := make(map[string]bool, 3)
	if containsAny(q, spendingWords) {
		picks[CollectionTransactions] = true
	}
	if containsAny(q, budgetWords) {
		picks[CollectionGoals] = true
		picks[CollectionPatterns] = true
	}
	if containsAny(q, trendWords) {
		picks[CollectionPatterns] = true
	}
	if len(picks) == 0 {
		picks[CollectionTransactions] = true
		picks[CollectionPatterns] = true
		picks[CollectionGoals] = true
	}
	return picks
}

func containsAny(q string, words []string) bool {
	for _, w := range words {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

// Retrieve returns context related to the query. A keyword pre-classifier
// decides which collections are worth searching; the conversation
// collection is always included since follow-ups rarely name their topic.
// filter narrows the transaction search to its date window; when the dated
// search comes back empty the transaction collection is retried without
// the window, since a thin ledger beats no grounding at all. ref anchors
// open-ended filters.
func (r *Retriever) Retrieve(ctx context.Context, query string, filter *temporal.Filter, ref time.Time, topK int) (Results, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return Results{}, err
	}

	txnK := topK
	if txnK <= 0 || txnK > maxTransactionChunks {
		txnK = maxTransactionChunks
	}

	picks := collectionsFor(query)

	var results Results
	var g errgroup.Group

	if picks[CollectionTransactions] {
		g.Go(func() error {
			var dateFrom, dateTo time.Time
			if filter != nil {
				dateFrom, dateTo = filter.Bounds(ref)
			}
			scored, err := r.store.Search(CollectionTransactions, vec, txnK, dateFrom, dateTo)
			if err != nil {
				return fmt.Errorf("searching transactions: %w", err)
			}
			if len(scored) == 0 && filter != nil {
				scored, err = r.store.Search(CollectionTransactions, vec, txnK, time.Time{}, time.Time{})
				if err != nil {
					return fmt.Errorf("retrying transactions unfiltered: %w", err)
				}
			}
			results.Transactions = toChunks(scored)
			return nil
		})
	}
	if picks[CollectionPatterns] {
		g.Go(func() error {
			scored, err := r.store.Search(CollectionPatterns, vec, maxPatternChunks, time.Time{}, time.Time{})
			if err != nil {
				return fmt.Errorf("searching patterns: %w", err)
			}
			results.Patterns = toChunks(scored)
			return nil
		})
	}
	if picks[CollectionGoals] {
		g.Go(func() error {
			scored, err := r.store.Search(CollectionGoals, vec, maxGoalChunks, time.Time{}, time.Time{})
			if err != nil {
				return fmt.Errorf("searching goals: %w", err)
			}
			results.Goals = toChunks(scored)
			return nil
		})
	}
	g.Go(func() error {
		scored, err := r.store.Search(CollectionConversation, vec, maxConversationChunks, time.Time{}, time.Time{})
		if err != nil {
			return fmt.Errorf("searching conversation: %w", err)
		}
		results.Conversation = toChunks(scored)
		return nil
	})

	if err := g.Wait(); err != nil {
		return Results{}, err
	}
	return results, nil
}

// Search runs a plain vector search over the transactions collection only,
// with no date window. Used by surfaces that want raw matches rather than a
// composed answer.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]Chunk, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if topK <= 0 || topK > maxTransactionChunks {
		topK = maxTransactionChunks
	}
	scored, err := r.store.Search(CollectionTransactions, vec, topK, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("searching transactions: %w", err)
	}
	return toChunks(scored), nil
}

func toChunks(scored []ScoredRecord) []Chunk {
	if len(scored) == 0 {
		return nil
	}
	chunks := make([]Chunk, len(scored))
	for i, s := range scored {
		chunks[i] = Chunk{
			ID:        s.ID,
			SourceID:  s.SourceID,
			Text:      s.Content,
			Score:     s.Score,
			Date:      s.Date,
			CreatedAt: s.CreatedAt,
		}
	}
	return chunks
}
