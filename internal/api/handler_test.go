package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kalambet/penny/internal/composer"
	"github.com/kalambet/penny/internal/ledger"
	"github.com/kalambet/penny/internal/pipeline"
	"github.com/kalambet/penny/internal/profile"
	"github.com/kalambet/penny/internal/storage"
)

const testToken = "test-token"

type mockResolver struct {
	response pipeline.Response
	err      error
	lastConv string
	lastQ    string
	lastHist []storage.Turn
}

func (m *mockResolver) Resolve(_ context.Context, conversationID, query string, history []storage.Turn) (pipeline.Response, error) {
	m.lastConv = conversationID
	m.lastQ = query
	m.lastHist = history
	return m.response, m.err
}

type mockIndexer struct {
	enqueued []string
	removed  []string
}

func (m *mockIndexer) EnqueueTransaction(t storage.Transaction) error {
	m.enqueued = append(m.enqueued, t.ID)
	return nil
}

func (m *mockIndexer) RemoveTransaction(id string) error {
	m.removed = append(m.removed, id)
	return nil
}

func newTestDeps(t *testing.T) (Deps, *mockResolver, *mockIndexer) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	resolver := &mockResolver{
		response: pipeline.Response{
			Response:       "Your biggest expense was $1650.00.",
			Grounded:       true,
			Method:         composer.MethodStructured,
			ConversationID: "conv-1",
		},
	}
	indexer := &mockIndexer{}

	return Deps{
		Resolver: resolver,
		Ledger:   ledger.New(store),
		Profile:  profile.NewManager(store),
		Indexer:  indexer,
		Token:    testToken,
	}, resolver, indexer
}

func seedTransactions(t *testing.T, store *ledger.Store) {
	t.Helper()
	err := store.Add([]storage.Transaction{
		{ID: "t1", Merchant: "Starbucks", Amount: -6.50, Date: time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)},
		{ID: "t2", Merchant: "Whole Foods", Amount: -84.12, Date: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), Category: "Groceries"},
	})
	if err != nil {
		t.Fatalf("seeding transactions: %v", err)
	}
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	h := NewHandler(deps)

	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewBufferString(`{"message":"hi"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_HealthIsOpen(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	h := NewHandler(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestQuery_ResolvesAndEchoes(t *testing.T) {
	deps, resolver, _ := newTestDeps(t)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/v1/query", QueryRequest{ConversationID: "conv-1", Message: "biggest expense?"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp pipeline.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Response != "Your biggest expense was $1650.00." {
		t.Errorf("response = %q", resp.Response)
	}
	if !resp.Grounded {
		t.Error("grounded flag lost on the wire")
	}
	if resolver.lastQ != "biggest expense?" || resolver.lastConv != "conv-1" {
		t.Errorf("resolver saw query=%q conv=%q", resolver.lastQ, resolver.lastConv)
	}
}

func TestQuery_PassesMessageHistory(t *testing.T) {
	deps, resolver, _ := newTestDeps(t)
	h := NewHandler(deps)

	req := QueryRequest{
		Message: "how often do I go there?",
		MessageHistory: []MessageTurn{
			{Role: "user", Content: "biggest expense?"},
			{Role: "assistant", Content: "Your biggest expense was Starbucks for $6.50."},
		},
	}
	if w := doRequest(t, h, http.MethodPost, "/v1/query", req); w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	if len(resolver.lastHist) != 2 {
		t.Fatalf("resolver saw %d history turns, want 2", len(resolver.lastHist))
	}
	if resolver.lastHist[1].Role != "assistant" || resolver.lastHist[1].Text != "Your biggest expense was Starbucks for $6.50." {
		t.Errorf("history turn = %+v", resolver.lastHist[1])
	}
}

func TestQuery_RejectsEmpty(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/v1/query", QueryRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListTransactions(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	seedTransactions(t, deps.Ledger)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodGet, "/v1/transactions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var views []transactionView
	if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d transactions, want 2", len(views))
	}
}

func TestPatchTransaction_UpdatesAndReindexes(t *testing.T) {
	deps, _, indexer := newTestDeps(t)
	seedTransactions(t, deps.Ledger)
	h := NewHandler(deps)

	merchant := "Starbucks Reserve"
	w := doRequest(t, h, http.MethodPatch, "/v1/transactions/t1", transactionPatchRequest{Merchant: &merchant})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var view transactionView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if view.Merchant != "Starbucks Reserve" {
		t.Errorf("merchant = %q", view.Merchant)
	}
	if view.Amount != -6.50 {
		t.Errorf("amount changed to %v", view.Amount)
	}
	if len(indexer.enqueued) != 1 || indexer.enqueued[0] != "t1" {
		t.Errorf("reindex queue = %v", indexer.enqueued)
	}
}

func TestPatchTransaction_UnknownID(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	seedTransactions(t, deps.Ledger)
	h := NewHandler(deps)

	merchant := "Anything"
	w := doRequest(t, h, http.MethodPatch, "/v1/transactions/nope", transactionPatchRequest{Merchant: &merchant})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestPatchTransaction_RejectsEmptyPatch(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	seedTransactions(t, deps.Ledger)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPatch, "/v1/transactions/t1", transactionPatchRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPatchTransaction_RejectsBadDate(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	seedTransactions(t, deps.Ledger)
	h := NewHandler(deps)

	date := "January 3rd"
	w := doRequest(t, h, http.MethodPatch, "/v1/transactions/t1", transactionPatchRequest{Date: &date})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestDeleteTransaction_RemovesFromIndex(t *testing.T) {
	deps, _, indexer := newTestDeps(t)
	seedTransactions(t, deps.Ledger)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodDelete, "/v1/transactions/t1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(indexer.removed) != 1 || indexer.removed[0] != "t1" {
		t.Errorf("index removals = %v", indexer.removed)
	}

	w = doRequest(t, h, http.MethodGet, "/v1/transactions/t1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("deleted transaction still readable, status = %d", w.Code)
	}
}

func TestDeleteTransaction_UnknownID(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodDelete, "/v1/transactions/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRecurring_EmptyLedger(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodGet, "/v1/recurring", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var patterns []ledger.RecurringExpense
	if err := json.Unmarshal(w.Body.Bytes(), &patterns); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(patterns) != 0 {
		t.Errorf("got %d patterns from empty ledger", len(patterns))
	}
}

func TestProfile_PatchThenGet(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPatch, "/v1/profile", map[string]any{
		"name":           "Jordan",
		"income.monthly": 5000.0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, h, http.MethodGet, "/v1/profile", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", w.Code, w.Body.String())
	}

	var p profile.Profile
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decoding profile: %v", err)
	}
	if p.Name != "Jordan" || p.MonthlyIncome != 5000 {
		t.Errorf("profile = %+v", p)
	}
}

func TestGoals_CreateThenList(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/v1/goals", goalRequest{
		Purpose:      "vacation",
		TargetAmount: 3000,
		TargetDate:   "2025-12-31",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, h, http.MethodGet, "/v1/goals", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", w.Code, w.Body.String())
	}

	var goals []goalView
	if err := json.Unmarshal(w.Body.Bytes(), &goals); err != nil {
		t.Fatalf("decoding goals: %v", err)
	}
	if len(goals) != 1 || goals[0].Purpose != "vacation" || goals[0].TargetDate != "2025-12-31" {
		t.Errorf("goals = %+v", goals)
	}
}

func TestGoals_RejectsBadTarget(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/v1/goals", goalRequest{Purpose: "vacation", TargetAmount: 0, TargetDate: "2025-12-31"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
