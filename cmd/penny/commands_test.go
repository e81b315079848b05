package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestAskRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/query": `{"response":"Your biggest expense was $1650.00.","grounded":true,"method":"structured_query","conversation_id":"conv-1"}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/v1/query", map[string]string{
		"conversation_id": "conv-1",
		"message":         "biggest expense?",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Response       string `json:"response"`
		Grounded       bool   `json:"grounded"`
		ConversationID string `json:"conversation_id"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Response != "Your biggest expense was $1650.00." {
		t.Errorf("response = %q", result.Response)
	}
	if !result.Grounded {
		t.Error("grounded flag not decoded")
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["message"] != "biggest expense?" || body["conversation_id"] != "conv-1" {
		t.Errorf("body = %v", body)
	}
}

func TestTransactionPatchRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /v1/transactions/t1": `{"id":"t1","merchant":"Starbucks Reserve","amount":-6.5,"date":"2025-01-03"}`,
	})

	client := ts.client()
	resp, err := client.patch(ctx, "/v1/transactions/t1", map[string]any{"merchant": "Starbucks Reserve"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["merchant"] != "Starbucks Reserve" {
		t.Errorf("merchant = %v", result["merchant"])
	}
}

func TestDeleteRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /v1/transactions/t1": `{"status":"deleted"}`,
	})

	client := ts.client()
	resp, err := client.delete(ctx, "/v1/transactions/t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "deleted" {
		t.Errorf("status = %q", result["status"])
	}
}

func TestDecodeJSON_ErrorBody(t *testing.T) {
	ts := newTestServer(t, nil)

	client := ts.client()
	resp, err := client.get(ctx, "/v1/transactions/missing")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var v any
	if err := decodeJSON(resp, &v); err == nil {
		t.Error("404 body decoded without error")
	}
}

func TestAskCommand_RequiresQuestion(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing question")
	}
}

func TestTransactionsEditCommand_RequiresField(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"transactions", "edit", "t1"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error when no field flags are given")
	}
}

func TestLogLevelParsing(t *testing.T) {
	cases := map[string]string{
		"debug": "DEBUG",
		"info":  "INFO",
		"warn":  "WARN",
		"error": "ERROR",
		"bogus": "INFO",
		"":      "INFO",
	}
	for in, want := range cases {
		if got := logLevel(in).String(); got != want {
			t.Errorf("logLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
