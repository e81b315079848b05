package retrieval

import (
	"testing"
	"time"

	"github.com/kalambet/penny/internal/storage"
)

func newVectorStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db.DB())
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func rec(id, collection, content string, embedding []float32, date *time.Time) Record {
	return Record{
		ID:         id,
		Collection: collection,
		SourceID:   id,
		Content:    content,
		Embedding:  embedding,
		Date:       date,
	}
}

func TestSearch_RanksByCosineSimilarity(t *testing.T) {
	s := newVectorStore(t)
	err := s.Upsert([]Record{
		rec("a", CollectionTransactions, "coffee at starbucks", []float32{1, 0, 0}, day(2025, time.January, 3)),
		rec("b", CollectionTransactions, "groceries at whole foods", []float32{0, 1, 0}, day(2025, time.January, 15)),
		rec("c", CollectionTransactions, "latte at peets", []float32{0.9, 0.1, 0}, day(2025, time.January, 20)),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.Search(CollectionTransactions, []float32{1, 0, 0}, 2, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("order = [%s %s], want [a c]", got[0].ID, got[1].ID)
	}
	if got[0].Score < got[1].Score {
		t.Error("scores not descending")
	}
}

func TestSearch_CollectionIsolation(t *testing.T) {
	s := newVectorStore(t)
	err := s.Upsert([]Record{
		rec("t1", CollectionTransactions, "coffee", []float32{1, 0}, nil),
		rec("g1", CollectionGoals, "save for vacation", []float32{1, 0}, nil),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.Search(CollectionGoals, []float32{1, 0}, 10, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "g1" {
		t.Errorf("got %+v, want only g1", got)
	}
}

func TestSearch_DateWindow(t *testing.T) {
	s := newVectorStore(t)
	err := s.Upsert([]Record{
		rec("dec", CollectionTransactions, "december", []float32{1, 0}, day(2024, time.December, 20)),
		rec("jan", CollectionTransactions, "january", []float32{1, 0}, day(2025, time.January, 10)),
		rec("feb", CollectionTransactions, "february", []float32{1, 0}, day(2025, time.February, 5)),
		rec("undated", CollectionTransactions, "pattern note", []float32{1, 0}, nil),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.Search(CollectionTransactions, []float32{1, 0}, 10,
		time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "jan" {
		t.Errorf("got %+v, want only jan", got)
	}
}

func TestUpsert_ReplacesByID(t *testing.T) {
	s := newVectorStore(t)
	if err := s.Upsert([]Record{rec("a", CollectionTransactions, "old text", []float32{1, 0}, nil)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert([]Record{rec("a", CollectionTransactions, "new text", []float32{0, 1}, nil)}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	count, err := s.Count(CollectionTransactions)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	got, err := s.Search(CollectionTransactions, []float32{0, 1}, 1, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got[0].Content != "new text" {
		t.Errorf("content = %q, want replaced text", got[0].Content)
	}
}

func TestDeleteBySource(t *testing.T) {
	s := newVectorStore(t)
	err := s.Upsert([]Record{
		rec("a", CollectionTransactions, "keep", []float32{1, 0}, nil),
		rec("b", CollectionTransactions, "drop", []float32{0, 1}, nil),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.DeleteBySource(CollectionTransactions, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	count, _ := s.Count(CollectionTransactions)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestSearch_ZeroVectorAndEmptyStore(t *testing.T) {
	s := newVectorStore(t)

	got, err := s.Search(CollectionTransactions, []float32{0, 0}, 5, time.Time{}, time.Time{})
	if err != nil || got != nil {
		t.Errorf("zero vector: got %v, %v; want nil, nil", got, err)
	}

	got, err = s.Search(CollectionTransactions, []float32{1, 0}, 5, time.Time{}, time.Time{})
	if err != nil || got != nil {
		t.Errorf("empty store: got %v, %v; want nil, nil", got, err)
	}
}

func TestSearch_TopKSmallerThanCorpus(t *testing.T) {
	s := newVectorStore(t)
	var records []Record
	for i := 0; i < 20; i++ {
		records = append(records, rec(
			string(rune('a'+i)), CollectionTransactions, "x",
			[]float32{float32(i) / 20, 1 - float32(i)/20}, nil))
	}
	if err := s.Upsert(records); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.Search(CollectionTransactions, []float32{1, 0}, 3, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	// Best match is the record closest to the query direction.
	if got[0].ID != string(rune('a'+19)) {
		t.Errorf("top = %s, want %s", got[0].ID, string(rune('a'+19)))
	}
}
