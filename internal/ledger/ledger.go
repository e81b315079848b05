// Package ledger is the read model over the transaction store. Imported
// statements are immutable rows; user corrections live in an overlay of
// patches that Snapshot merges on read, so the original import can always
// be reproduced.
package ledger

import (
	"fmt"
	"time"

	"github.com/kalambet/penny/internal/storage"
)

type Store struct {
	db *storage.Store
}

func New(db *storage.Store) *Store {
	return &Store{db: db}
}

// Snapshot returns every live transaction with its patches applied,
// ordered by date then id. Soft-deleted rows are excluded.
func (s *Store) Snapshot() ([]storage.Transaction, error) {
	txns, err := s.db.ListTransactions()
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	patches, err := s.db.ListPatches()
	if err != nil {
		return nil, fmt.Errorf("list patches: %w", err)
	}
	if len(patches) == 0 {
		return txns, nil
	}

	byID := make(map[string]storage.TransactionPatch, len(patches))
	for _, p := range patches {
		byID[p.TxnID] = p
	}

	live := txns[:0]
	for _, t := range txns {
		p, ok := byID[t.ID]
		if !ok {
			live = append(live, t)
			continue
		}
		if p.Deleted {
			continue
		}
		live = append(live, apply(t, p))
	}
	return live, nil
}

// Get returns one transaction with its patch applied. Soft-deleted rows
// report storage.ErrNotFound.
func (s *Store) Get(id string) (storage.Transaction, error) {
	t, err := s.db.GetTransaction(id)
	if err != nil {
		return storage.Transaction{}, err
	}
	patches, err := s.db.ListPatches()
	if err != nil {
		return storage.Transaction{}, fmt.Errorf("list patches: %w", err)
	}
	for _, p := range patches {
		if p.TxnID != t.ID {
			continue
		}
		if p.Deleted {
			return storage.Transaction{}, storage.ErrNotFound
		}
		return apply(t, p), nil
	}
	return t, nil
}

// Update records a correction for the transaction. Fields left nil in the
// patch keep their current values. The base row must exist.
func (s *Store) Update(id string, patch storage.TransactionPatch) (storage.Transaction, error) {
	if _, err := s.db.GetTransaction(id); err != nil {
		return storage.Transaction{}, err
	}
	patch.TxnID = id
	patch.UpdatedAt = time.Now().UTC()
	if err := s.db.UpsertPatch(patch); err != nil {
		return storage.Transaction{}, fmt.Errorf("upsert patch: %w", err)
	}
	return s.Get(id)
}

// Delete soft-deletes the transaction. Deletion is sticky: later field
// patches never resurrect the row.
func (s *Store) Delete(id string) error {
	if _, err := s.db.GetTransaction(id); err != nil {
		return err
	}
	return s.db.UpsertPatch(storage.TransactionPatch{
		TxnID:     id,
		Deleted:   true,
		UpdatedAt: time.Now().UTC(),
	})
}

// Add persists new transactions, typically from seeding or an import.
func (s *Store) Add(txns []storage.Transaction) error {
	return s.db.SaveTransactions(txns)
}

func apply(t storage.Transaction, p storage.TransactionPatch) storage.Transaction {
	if p.Merchant != nil {
		t.Merchant = *p.Merchant
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	return t
}
