package temporal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/penny/internal/engine"
)

const extractionTimeout = 3 * time.Second

// Chatter is the chat-completion capability the extractor needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Extractor resolves fuzzy time expressions ("around the holidays") with a
// fast local LLM that receives the reference date and must answer with an
// explicit range or an explicit "no temporal" marker.
type Extractor struct {
	client Chatter
	model  string
}

// NewExtractor creates an Extractor using the given client and model name.
func NewExtractor(client Chatter, model string) *Extractor {
	return &Extractor{client: client, model: model}
}

type extractionResult struct {
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	NoTemporal bool   `json:"no_temporal"`
}

// Extract asks the LLM for an explicit date range. On any failure (timeout,
// call error, malformed JSON, invalid dates) it returns nil: callers treat
// the absence of a filter as "all time", never as an error.
func (e *Extractor) Extract(ctx context.Context, query string, ref time.Time) *Filter {
	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	messages := []engine.Message{
		{Role: "system", Content: extractionSystemPrompt(ref)},
		{Role: "user", Content: query},
	}

	raw, err := e.client.Chat(ctx, e.model, messages, extractionSchema())
	if err != nil {
		slog.Warn("temporal extraction chat failed", "error", err)
		return nil
	}

	var result extractionResult
	if err := json.Unmarshal([]byte(stripFences(raw)), &result); err != nil {
		slog.Warn("failed to unmarshal temporal extraction", "error", err, "response", raw)
		return nil
	}
	if result.NoTemporal {
		return nil
	}

	start, err := time.Parse(DateFormat, result.StartDate)
	if err != nil {
		slog.Warn("temporal extraction returned invalid start date", "start", result.StartDate)
		return nil
	}
	end, err := time.Parse(DateFormat, result.EndDate)
	if err != nil {
		slog.Warn("temporal extraction returned invalid end date", "end", result.EndDate)
		return nil
	}

	return Range(start, end)
}

func extractionSystemPrompt(ref time.Time) string {
	return fmt.Sprintf(`You resolve time expressions in questions about personal finances into explicit date ranges.

Today's date is %s (%s).

Rules:
- "around the holidays" or "holiday season" means November 15 through December 31 of the most recent past occurrence.
- Seasons: summer is June-August, fall/autumn is September-November, winter is December-February, spring is March-May, always the most recent past occurrence.
- "tax season" means February 1 through April 15.
- Fuzzy quantities like "a few weeks ago" get a reasonable range around the implied time.
- Dates must never be in the future.
- If the question has no time expression at all, set no_temporal to true.

Respond with JSON only: {"start_date": "YYYY-MM-DD", "end_date": "YYYY-MM-DD"} or {"no_temporal": true}.`,
		ref.Format(DateFormat), ref.Weekday())
}

func extractionSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"start_date":  {Type: "string", Description: "Range start as YYYY-MM-DD"},
			"end_date":    {Type: "string", Description: "Range end as YYYY-MM-DD"},
			"no_temporal": {Type: "boolean", Description: "True when the query has no time expression"},
		},
	}
}

// stripFences removes markdown code fences some models wrap around JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
