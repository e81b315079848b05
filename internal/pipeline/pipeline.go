// Package pipeline orchestrates query resolution: rewrite references
// against the conversation, resolve time and intent in parallel, route to
// exact computation or semantic retrieval, and assemble a grounded answer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/penny/internal/classify"
	"github.com/kalambet/penny/internal/composer"
	"github.com/kalambet/penny/internal/conversation"
	"github.com/kalambet/penny/internal/executor"
	"github.com/kalambet/penny/internal/merchant"
	"github.com/kalambet/penny/internal/retrieval"
	"github.com/kalambet/penny/internal/storage"
	"github.com/kalambet/penny/internal/temporal"
)

// Narrow views of the concrete components, so tests can fake each stage.
type (
	temporalResolver interface {
		Resolve(ctx context.Context, query string, ref time.Time) *temporal.Filter
	}
	intentClassifier interface {
		Classify(ctx context.Context, query string, history []storage.Turn) classify.Plan
	}
	merchantMatcher interface {
		Match(ctx context.Context, businessType string, candidates []string) merchant.Result
	}
	contextRetriever interface {
		Retrieve(ctx context.Context, query string, filter *temporal.Filter, ref time.Time, topK int) (retrieval.Results, error)
	}
	answerComposer interface {
		FromStructured(ctx context.Context, query string, res executor.Result, timePeriod string) composer.Answer
		FromSemantic(ctx context.Context, query string, results retrieval.Results, profileSummary, timePeriod, reasoning string) composer.Answer
		FromMerchantFilter(ctx context.Context, query, businessType string, merchants []string, res executor.Result, timePeriod, reasoning string) composer.Answer
	}
	transactionSource interface {
		Snapshot() ([]storage.Transaction, error)
	}
	turnLog interface {
		Append(conversationID, role, text string) (storage.Turn, error)
		History(conversationID string) ([]storage.Turn, error)
	}
	turnIndexer interface {
		EnqueueTurn(t storage.Turn) error
	}
	profileSource interface {
		GetSummary() (string, error)
	}
)

// Response is the resolved answer plus how it was produced. Its field
// names are the wire contract of POST /v1/query.
type Response struct {
	Response        string `json:"response"`
	Grounded        bool   `json:"grounded"`
	Method          string `json:"method"`
	Verification    string `json:"verification,omitempty"`
	TemporalFilter  string `json:"temporal_filter,omitempty"`
	QueryIntent     string `json:"query_intent,omitempty"`
	IntentReasoning string `json:"intent_reasoning,omitempty"`
	ConversationID  string `json:"conversation_id"`
	Degraded        bool   `json:"degraded,omitempty"`
	DurationMs      int64  `json:"duration_ms"`
}

type Pipeline struct {
	temporal   temporalResolver
	classifier intentClassifier
	matcher    merchantMatcher
	retriever  contextRetriever
	composer   answerComposer
	ledger     transactionSource
	turns      turnLog
	indexer    turnIndexer
	profile    profileSource

	log  *slog.Logger
	now  func() time.Time
	topK int
}

// Config wires the pipeline. All components are required except Indexer
// and Profile, which may be nil.
type Config struct {
	Temporal   temporalResolver
	Classifier intentClassifier
	Matcher    merchantMatcher
	Retriever  contextRetriever
	Composer   answerComposer
	Ledger     transactionSource
	Turns      turnLog
	Indexer    turnIndexer
	Profile    profileSource
	Log        *slog.Logger
	TopK       int
}

func New(cfg Config) *Pipeline {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	return &Pipeline{
		temporal:   cfg.Temporal,
		classifier: cfg.Classifier,
		matcher:    cfg.Matcher,
		retriever:  cfg.Retriever,
		composer:   cfg.Composer,
		ledger:     cfg.Ledger,
		turns:      cfg.Turns,
		indexer:    cfg.Indexer,
		profile:    cfg.Profile,
		log:        cfg.Log,
		now:        func() time.Time { return time.Now().UTC() },
		topK:       cfg.TopK,
	}
}

// Resolve answers one query within a conversation. An empty conversationID
// starts a new conversation. supplied carries turns the caller sent along
// with the request; they take precedence over stored history when
// rewriting references.
func (p *Pipeline) Resolve(ctx context.Context, conversationID, query string, supplied []storage.Turn) (Response, error) {
	start := p.now()
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	history, err := p.turns.History(conversationID)
	if err != nil {
		p.log.Warn("loading conversation history", "conversation", conversationID, "error", err)
		history = nil
	}
	history = mergeHistory(supplied, history)

	resolved := conversation.ResolveReferences(query, history)
	if resolved != query {
		p.log.Debug("rewrote query references", "query", query, "resolved", resolved)
	}

	ref := p.now()

	// Time resolution and classification are independent; run both at once.
	var filter *temporal.Filter
	var plan classify.Plan
	var g errgroup.Group
	g.Go(func() error {
		filter = p.temporal.Resolve(ctx, resolved, ref)
		return nil
	})
	g.Go(func() error {
		plan = p.classifier.Classify(ctx, resolved, history)
		return nil
	})
	_ = g.Wait()
	plan.Filters.Temporal = filter

	answer, err := p.route(ctx, resolved, plan, ref)
	if err != nil {
		return Response{}, err
	}
	answer.Metadata.Intent = string(plan.Intent)
	observeQuery(answer.Metadata, string(plan.Source), p.now().Sub(start))

	p.persistTurns(conversationID, query, answer.Text)

	return Response{
		Response:        answer.Text,
		Grounded:        answer.Metadata.Grounded,
		Method:          answer.Metadata.Method,
		Verification:    answer.Metadata.Verification,
		TemporalFilter:  answer.Metadata.TimePeriod,
		QueryIntent:     string(plan.Intent),
		IntentReasoning: answer.Metadata.Reasoning,
		ConversationID:  conversationID,
		Degraded:        answer.Metadata.Degraded,
		DurationMs:      p.now().Sub(start).Milliseconds(),
	}, nil
}

// mergeHistory puts caller-supplied turns ahead of stored ones so fresh
// client context wins reference resolution. Supplied turns arrive oldest
// first; the merged slice is newest first, like the turn log returns.
func mergeHistory(supplied, stored []storage.Turn) []storage.Turn {
	if len(supplied) == 0 {
		return stored
	}
	merged := make([]storage.Turn, 0, len(supplied)+len(stored))
	for i := len(supplied) - 1; i >= 0; i-- {
		merged = append(merged, supplied[i])
	}
	return append(merged, stored...)
}

func (p *Pipeline) route(ctx context.Context, query string, plan classify.Plan, ref time.Time) (composer.Answer, error) {
	timePeriod := plan.Filters.Temporal.Human()

	switch {
	case plan.RequiresStructured:
		txns, err := p.ledger.Snapshot()
		if err != nil {
			return composer.Answer{}, fmt.Errorf("loading transactions: %w", err)
		}
		res := executor.Execute(plan, txns, ref)
		return p.composer.FromStructured(ctx, query, res, timePeriod), nil

	case plan.BusinessType != "":
		txns, err := p.ledger.Snapshot()
		if err != nil {
			return composer.Answer{}, fmt.Errorf("loading transactions: %w", err)
		}

		// Candidates come from the queried window only, so the matcher
		// never proposes a merchant the user had stopped visiting.
		match := p.matcher.Match(ctx, plan.BusinessType, merchantsIn(txns, plan.Filters.Temporal, ref))

		filterPlan := plan
		filterPlan.Intent = classify.CalculateTotal
		filterPlan.Filters.Merchants = match.Merchants
		res := executor.Execute(filterPlan, txns, ref)

		answer := p.composer.FromMerchantFilter(ctx, query, plan.BusinessType, match.Merchants, res, timePeriod, match.Reasoning)
		if match.Degraded {
			answer.Metadata.Degraded = true
		}
		return answer, nil

	default:
		results, err := p.retriever.Retrieve(ctx, query, plan.Filters.Temporal, ref, p.topK)
		if err != nil {
			p.log.Warn("retrieval failed, answering without context", "error", err)
			results = retrieval.Results{}
		}
		summary := ""
		if p.profile != nil {
			if s, err := p.profile.GetSummary(); err != nil {
				p.log.Warn("loading profile summary", "error", err)
			} else {
				summary = s
			}
		}
		return p.composer.FromSemantic(ctx, query, results, summary, timePeriod, plan.Reasoning), nil
	}
}

// merchantsIn lists the distinct merchants with transactions inside the
// temporal window, sorted for stable prompting.
func merchantsIn(txns []storage.Transaction, filter *temporal.Filter, ref time.Time) []string {
	seen := make(map[string]bool, len(txns))
	var merchants []string
	for _, t := range txns {
		key := strings.ToLower(t.Merchant)
		if t.Merchant == "" || seen[key] || !filter.Contains(t.Date, ref) {
			continue
		}
		seen[key] = true
		merchants = append(merchants, t.Merchant)
	}
	sort.Strings(merchants)
	return merchants
}

// persistTurns records both sides of the exchange and queues them for
// embedding. Persistence failures are logged, not surfaced; the answer was
// already produced.
func (p *Pipeline) persistTurns(conversationID, query, answer string) {
	for _, side := range []struct{ role, text string }{
		{"user", query},
		{"assistant", answer},
	} {
		turn, err := p.turns.Append(conversationID, side.role, side.text)
		if err != nil {
			p.log.Warn("persisting turn", "role", side.role, "error", err)
			continue
		}
		if p.indexer == nil {
			continue
		}
		if err := p.indexer.EnqueueTurn(turn); err != nil {
			p.log.Warn("enqueueing turn embedding", "role", side.role, "error", err)
		}
	}
}
