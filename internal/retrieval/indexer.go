package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/penny/internal/ledger"
	"github.com/kalambet/penny/internal/storage"
)

// Job types the indexer processes from the queue.
const (
	JobEmbedTransaction = "embed_transaction"
	JobEmbedTurn        = "embed_turn"
	JobEmbedPattern     = "embed_pattern"
	JobEmbedGoal        = "embed_goal"
)

var jobTypes = []string{JobEmbedTransaction, JobEmbedTurn, JobEmbedPattern, JobEmbedGoal}

// Indexer maintains the vector collections. Bulk indexing (seed, import)
// embeds batches directly; per-row updates during request handling go
// through the jobs queue so the caller never waits on the embedding model.
type Indexer struct {
	embedder *Embedder
	store    VectorStore
	jobs     *storage.Store
	log      *slog.Logger
}

func NewIndexer(embedder *Embedder, store VectorStore, jobs *storage.Store, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{embedder: embedder, store: store, jobs: jobs, log: log}
}

// TransactionText renders a transaction the way it is embedded. Spending
// and income read differently so direction survives into vector space.
func TransactionText(t storage.Transaction) string {
	date := t.Date.Format("2006-01-02")
	category := t.Category
	if category == "" {
		category = "Uncategorized"
	}
	if t.Amount < 0 {
		return fmt.Sprintf("%s: spent $%.2f at %s (%s)", date, math.Abs(t.Amount), t.Merchant, category)
	}
	return fmt.Sprintf("%s: received $%.2f from %s (%s)", date, t.Amount, t.Merchant, category)
}

// PatternText renders a recurring expense for embedding.
func PatternText(p ledger.RecurringExpense) string {
	return fmt.Sprintf("Recurring %s expense: %s averaging $%.2f (%s), seen %d times",
		p.Cadence, p.Merchant, p.AverageAmount, p.Category, p.Occurrences)
}

// GoalText renders a savings goal for embedding.
func GoalText(g storage.Goal) string {
	return fmt.Sprintf("Financial goal: save $%.2f for %s by %s; $%.2f saved so far",
		g.TargetAmount, g.Purpose, g.TargetDate.Format("2006-01-02"), g.CurrentAmount)
}

// TurnText renders a conversation turn for embedding.
func TurnText(t storage.Turn) string {
	return fmt.Sprintf("%s: %s", t.Role, t.Text)
}

// IndexTransactions embeds and stores a batch of transactions.
func (ix *Indexer) IndexTransactions(ctx context.Context, txns []storage.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	texts := make([]string, len(txns))
	for i, t := range txns {
		texts[i] = TransactionText(t)
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding transactions: %w", err)
	}
	records := make([]Record, len(txns))
	for i, t := range txns {
		d := t.Date
		records[i] = Record{
			ID:         "txn:" + t.ID,
			Collection: CollectionTransactions,
			SourceID:   t.ID,
			Content:    texts[i],
			Embedding:  vecs[i],
			Date:       &d,
		}
	}
	return ix.store.Upsert(records)
}

// RemoveTransaction drops the vector for a deleted or corrected row.
func (ix *Indexer) RemoveTransaction(id string) error {
	return ix.store.DeleteBySource(CollectionTransactions, id)
}

// IndexPatterns replaces the patterns collection with the current set of
// detected recurring expenses.
func (ix *Indexer) IndexPatterns(ctx context.Context, patterns []ledger.RecurringExpense) error {
	if len(patterns) == 0 {
		return nil
	}
	texts := make([]string, len(patterns))
	for i, p := range patterns {
		texts[i] = PatternText(p)
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding patterns: %w", err)
	}
	records := make([]Record, len(patterns))
	for i, p := range patterns {
		records[i] = Record{
			ID:         "pattern:" + p.Merchant,
			Collection: CollectionPatterns,
			SourceID:   p.Merchant,
			Content:    texts[i],
			Embedding:  vecs[i],
		}
	}
	return ix.store.Upsert(records)
}

// IndexGoal embeds a single goal.
func (ix *Indexer) IndexGoal(ctx context.Context, g storage.Goal) error {
	text := GoalText(g)
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding goal: %w", err)
	}
	return ix.store.Upsert([]Record{{
		ID:         "goal:" + g.ID,
		Collection: CollectionGoals,
		SourceID:   g.ID,
		Content:    text,
		Embedding:  vec,
	}})
}

// IndexTurn embeds a single conversation turn.
func (ix *Indexer) IndexTurn(ctx context.Context, t storage.Turn) error {
	text := TurnText(t)
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding turn: %w", err)
	}
	return ix.store.Upsert([]Record{{
		ID:         "turn:" + t.MessageID,
		Collection: CollectionConversation,
		SourceID:   t.MessageID,
		Content:    text,
		Embedding:  vec,
	}})
}

// EnqueueTurn defers turn embedding to the background worker.
func (ix *Indexer) EnqueueTurn(t storage.Turn) error {
	return ix.enqueue(JobEmbedTurn, t)
}

// EnqueueTransaction defers transaction embedding to the background worker.
func (ix *Indexer) EnqueueTransaction(t storage.Transaction) error {
	return ix.enqueue(JobEmbedTransaction, t)
}

// EnqueueGoal defers goal embedding to the background worker.
func (ix *Indexer) EnqueueGoal(g storage.Goal) error {
	return ix.enqueue(JobEmbedGoal, g)
}

func (ix *Indexer) enqueue(jobType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", jobType, err)
	}
	return ix.jobs.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		PayloadJSON: string(raw),
	})
}

// Run claims and processes embedding jobs until ctx is cancelled. Failed
// jobs go back to the queue with backoff, handled by the store.
func (ix *Indexer) Run(ctx context.Context, poll time.Duration) {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			job, err := ix.jobs.ClaimNextJob(jobTypes)
			if err != nil {
				ix.log.Error("claiming embed job", "error", err)
				break
			}
			if job == nil {
				break
			}
			if err := ix.process(ctx, job); err != nil {
				ix.log.Warn("embed job failed", "job", job.ID, "type", job.Type, "error", err)
				if ferr := ix.jobs.FailJob(job.ID, err.Error()); ferr != nil {
					ix.log.Error("recording job failure", "job", job.ID, "error", ferr)
				}
				continue
			}
			if err := ix.jobs.CompleteJob(job.ID); err != nil {
				ix.log.Error("completing embed job", "job", job.ID, "error", err)
			}
		}
	}
}

func (ix *Indexer) process(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case JobEmbedTransaction:
		var t storage.Transaction
		if err := json.Unmarshal([]byte(job.PayloadJSON), &t); err != nil {
			return fmt.Errorf("decoding transaction payload: %w", err)
		}
		return ix.IndexTransactions(ctx, []storage.Transaction{t})
	case JobEmbedTurn:
		var t storage.Turn
		if err := json.Unmarshal([]byte(job.PayloadJSON), &t); err != nil {
			return fmt.Errorf("decoding turn payload: %w", err)
		}
		return ix.IndexTurn(ctx, t)
	case JobEmbedPattern:
		var p ledger.RecurringExpense
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return fmt.Errorf("decoding pattern payload: %w", err)
		}
		return ix.IndexPatterns(ctx, []ledger.RecurringExpense{p})
	case JobEmbedGoal:
		var g storage.Goal
		if err := json.Unmarshal([]byte(job.PayloadJSON), &g); err != nil {
			return fmt.Errorf("decoding goal payload: %w", err)
		}
		return ix.IndexGoal(ctx, g)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}
