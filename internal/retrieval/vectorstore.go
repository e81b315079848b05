// Package retrieval finds ledger context semantically related to a query.
// Embeddings live in SQLite alongside the rest of the data; search is
// brute-force cosine similarity, which is exact and fast enough for a
// single user's transaction history.
package retrieval

import (
	"time"
)

// Collections partition the vector table by what the text describes.
const (
	CollectionTransactions = "transactions"
	CollectionPatterns     = "patterns"
	CollectionGoals        = "goals"
	CollectionConversation = "conversation"
)

// Record is one embedded text in a collection. Date is set for
// transaction records so searches can be narrowed to a time window; it is
// nil for collections where a date makes no sense.
type Record struct {
	ID         string
	Collection string
	SourceID   string
	Content    string
	Embedding  []float32
	Date       *time.Time
	CreatedAt  time.Time
}

// ScoredRecord is a Record with its cosine similarity to the query.
type ScoredRecord struct {
	Record
	Score float32
}

// VectorStore stores embeddings and answers top-K similarity queries.
// The SQLite implementation is the only one today; the interface keeps the
// seam for an ANN-indexed backend if the corpus outgrows brute force.
type VectorStore interface {
	// Upsert writes records, replacing any rows with the same IDs.
	Upsert(records []Record) error

	// Search returns the topK records in the collection most similar to
	// vector. A non-zero dateFrom/dateTo restricts to records whose date
	// falls inside the inclusive window; records without a date never
	// match a dated search.
	Search(collection string, vector []float32, topK int, dateFrom, dateTo time.Time) ([]ScoredRecord, error)

	// DeleteBySource removes every record derived from the given source
	// row, used when a transaction is corrected or deleted.
	DeleteBySource(collection, sourceID string) error

	// Count returns the number of records in the collection.
	Count(collection string) (int, error)
}
