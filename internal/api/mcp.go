package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/penny/internal/ledger"
	"github.com/kalambet/penny/internal/profile"
	"github.com/kalambet/penny/internal/retrieval"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Resolver QueryResolver
	Ledger   *ledger.Store
	Profile  *profile.Manager
	Searcher SemanticSearcher
}

// SemanticSearcher runs a plain vector search over indexed transactions.
type SemanticSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]retrieval.Chunk, error)
}

// NewMCPServer creates an MCP server exposing the resolution engine to
// MCP-capable clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"penny",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("penny answers questions about personal finances from a local transaction ledger."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a natural-language question about transactions, spending, or goals. Returns a grounded answer with verification metadata."),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Optional conversation to continue")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search_transactions",
			mcp.WithDescription("Semantically search indexed transactions and return the closest matches."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchTransactions(deps),
	)

	s.AddTool(
		mcp.NewTool("spending_summary",
			mcp.WithDescription("Summarize spending by category for a month, or all time when no month is given."),
			mcp.WithString("month", mcp.Description("Month in YYYY-MM form, e.g. 2025-01")),
		),
		mcpSpendingSummary(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"finance://profile",
			"Financial Profile",
			mcp.WithResourceDescription("Current financial profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"finance://recurring",
			"Recurring Expenses",
			mcp.WithResourceDescription("Detected recurring expenses as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecurring(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		conversationID := req.GetString("conversation_id", "")

		resp, err := deps.Resolver.Resolve(ctx, conversationID, query, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchTransactions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 25 {
			limit = 25
		}

		chunks, err := deps.Searcher.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			SourceID string  `json:"source_id"`
			Text     string  `json:"text"`
			Score    float32 `json:"score"`
			Date     string  `json:"date,omitempty"`
		}

		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			cr := chunkResult{SourceID: c.SourceID, Text: c.Text, Score: c.Score}
			if c.Date != nil {
				cr.Date = c.Date.Format("2006-01-02")
			}
			results[i] = cr
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSpendingSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		month := req.GetString("month", "")

		txns, err := deps.Ledger.Snapshot()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load transactions: %v", err)), nil
		}

		var from, to time.Time
		if month != "" {
			from, err = time.Parse("2006-01", month)
			if err != nil {
				return mcpError(fmt.Sprintf("invalid month %q, want YYYY-MM", month)), nil
			}
			to = from.AddDate(0, 1, 0)
		}

		byCategory := map[string]float64{}
		var total float64
		for _, t := range txns {
			if t.Amount >= 0 {
				continue
			}
			if month != "" && (t.Date.Before(from) || !t.Date.Before(to)) {
				continue
			}
			category := t.Category
			if category == "" {
				category = "Uncategorized"
			}
			byCategory[category] += -t.Amount
			total += -t.Amount
		}

		type categoryTotal struct {
			Category string  `json:"category"`
			Total    float64 `json:"total"`
		}
		summary := struct {
			Month      string          `json:"month,omitempty"`
			Total      float64         `json:"total"`
			Categories []categoryTotal `json:"categories"`
		}{Month: month, Total: total, Categories: []categoryTotal{}}

		for category, amount := range byCategory {
			summary.Categories = append(summary.Categories, categoryTotal{Category: category, Total: amount})
		}
		sort.Slice(summary.Categories, func(i, j int) bool {
			if summary.Categories[i].Total != summary.Categories[j].Total {
				return summary.Categories[i].Total > summary.Categories[j].Total
			}
			return summary.Categories[i].Category < summary.Categories[j].Category
		})

		b, err := json.Marshal(summary)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, err := deps.Profile.GetProfile()
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecurring(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		patterns, err := deps.Ledger.DetectRecurring()
		if err != nil {
			return nil, fmt.Errorf("failed to detect recurring expenses: %w", err)
		}

		b, err := json.Marshal(patterns)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal patterns: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
