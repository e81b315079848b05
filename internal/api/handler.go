package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/penny/internal/ledger"
	"github.com/kalambet/penny/internal/pipeline"
	"github.com/kalambet/penny/internal/profile"
	"github.com/kalambet/penny/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// QueryResolver answers a natural-language question about the ledger.
// history carries caller-supplied turns to merge with stored ones.
type QueryResolver interface {
	Resolve(ctx context.Context, conversationID, query string, history []storage.Turn) (pipeline.Response, error)
}

// TransactionIndexer keeps the vector index in step with ledger edits.
type TransactionIndexer interface {
	EnqueueTransaction(t storage.Transaction) error
	RemoveTransaction(id string) error
}

type Deps struct {
	Resolver QueryResolver
	Ledger   *ledger.Store
	Profile  *profile.Manager
	Indexer  TransactionIndexer // optional; if nil, edits skip reindexing
	Token    string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/query", handleQuery(deps))
		r.Get("/v1/transactions", handleListTransactions(deps))
		r.Get("/v1/transactions/{id}", handleGetTransaction(deps))
		r.Patch("/v1/transactions/{id}", handlePatchTransaction(deps))
		r.Delete("/v1/transactions/{id}", handleDeleteTransaction(deps))
		r.Get("/v1/recurring", handleRecurring(deps))
		r.Get("/v1/profile", handleGetProfile(deps))
		r.Patch("/v1/profile", handlePatchProfile(deps))
		r.Get("/v1/goals", handleListGoals(deps))
		r.Post("/v1/goals", handleCreateGoal(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type QueryRequest struct {
	Message        string        `json:"message"`
	ConversationID string        `json:"conversation_id"`
	MessageHistory []MessageTurn `json:"message_history"`
}

// MessageTurn is one caller-supplied conversation turn, oldest first.
type MessageTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		history := make([]storage.Turn, len(req.MessageHistory))
		for i, m := range req.MessageHistory {
			history[i] = storage.Turn{Role: m.Role, Text: m.Content, CreatedAt: m.Timestamp}
		}

		resp, err := deps.Resolver.Resolve(r.Context(), req.ConversationID, req.Message, history)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "query failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

type transactionView struct {
	ID       string  `json:"id"`
	Merchant string  `json:"merchant"`
	Amount   float64 `json:"amount"`
	Date     string  `json:"date"`
	Category string  `json:"category,omitempty"`
}

func toView(t storage.Transaction) transactionView {
	return transactionView{
		ID:       t.ID,
		Merchant: t.Merchant,
		Amount:   t.Amount,
		Date:     t.Date.Format("2006-01-02"),
		Category: t.Category,
	}
}

func handleListTransactions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txns, err := deps.Ledger.Snapshot()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load transactions: %v", err)
			return
		}

		views := make([]transactionView, len(txns))
		for i, t := range txns {
			views[i] = toView(t)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func handleGetTransaction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		txn, err := deps.Ledger.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "transaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get transaction: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toView(txn))
	}
}

type transactionPatchRequest struct {
	Merchant *string  `json:"merchant"`
	Amount   *float64 `json:"amount"`
	Date     *string  `json:"date"`
	Category *string  `json:"category"`
}

func handlePatchTransaction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req transactionPatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Merchant == nil && req.Amount == nil && req.Date == nil && req.Category == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one field is required")
			return
		}

		patch := storage.TransactionPatch{
			Merchant: req.Merchant,
			Amount:   req.Amount,
			Category: req.Category,
		}
		if req.Date != nil {
			d, err := time.Parse("2006-01-02", *req.Date)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid date %q, want YYYY-MM-DD", *req.Date)
				return
			}
			patch.Date = &d
		}

		txn, err := deps.Ledger.Update(id, patch)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "transaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update transaction: %v", err)
			return
		}

		// Corrected text needs a fresh embedding.
		if deps.Indexer != nil {
			if err := deps.Indexer.EnqueueTransaction(txn); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "updated but failed to queue reindex: %v", err)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toView(txn))
	}
}

func handleDeleteTransaction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if _, err := deps.Ledger.Get(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "transaction not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get transaction: %v", err)
			return
		}

		if err := deps.Ledger.Delete(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete transaction: %v", err)
			return
		}

		if deps.Indexer != nil {
			if err := deps.Indexer.RemoveTransaction(id); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "deleted but failed to remove from index: %v", err)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleRecurring(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patterns, err := deps.Ledger.DetectRecurring()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to detect recurring expenses: %v", err)
			return
		}

		if patterns == nil {
			patterns = []ledger.RecurringExpense{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(patterns)
	}
}

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profile.GetProfile()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	}
}

func handlePatchProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var fields map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		for key, value := range fields {
			if err := deps.Profile.SetField(key, value); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to set field %q: %v", key, err)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
	}
}

type goalView struct {
	ID            string  `json:"id"`
	Purpose       string  `json:"purpose"`
	TargetAmount  float64 `json:"target_amount"`
	CurrentAmount float64 `json:"current_amount"`
	TargetDate    string  `json:"target_date"`
}

func handleListGoals(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		goals, err := deps.Profile.Goals()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list goals: %v", err)
			return
		}

		views := make([]goalView, len(goals))
		for i, g := range goals {
			views[i] = goalView{
				ID:            g.ID,
				Purpose:       g.Purpose,
				TargetAmount:  g.TargetAmount,
				CurrentAmount: g.CurrentAmount,
				TargetDate:    g.TargetDate.Format("2006-01-02"),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

type goalRequest struct {
	Purpose       string  `json:"purpose"`
	TargetAmount  float64 `json:"target_amount"`
	CurrentAmount float64 `json:"current_amount"`
	TargetDate    string  `json:"target_date"`
}

func handleCreateGoal(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req goalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Purpose == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "purpose is required")
			return
		}
		if req.TargetAmount <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "target_amount must be positive")
			return
		}

		targetDate, err := time.Parse("2006-01-02", req.TargetDate)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid target_date %q, want YYYY-MM-DD", req.TargetDate)
			return
		}

		g := storage.Goal{
			ID:            uuid.New().String(),
			Purpose:       req.Purpose,
			TargetAmount:  req.TargetAmount,
			CurrentAmount: req.CurrentAmount,
			TargetDate:    targetDate,
			CreatedAt:     time.Now().UTC(),
		}
		if err := deps.Profile.SaveGoal(g); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save goal: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": g.ID, "status": "created"})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
