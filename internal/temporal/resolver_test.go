package temporal

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/penny/internal/engine"
)

type mockChatter struct {
	response string
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (m *mockChatter) Chat(ctx context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

var ref = time.Date(2025, 2, 10, 14, 30, 0, 0, time.UTC) // a Monday

func rulesOnly() *Resolver { return NewResolver(nil) }

func TestResolve_LastMonthYearRollover(t *testing.T) {
	janRef := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	f := rulesOnly().Resolve(context.Background(), "What was my biggest expense last month?", janRef)
	if f == nil || f.Kind != KindMonthYear {
		t.Fatalf("filter = %+v, want MonthYear", f)
	}
	if f.Month != time.December || f.Year != 2024 {
		t.Errorf("got %s %d, want December 2024", f.Month, f.Year)
	}
}

func TestResolve_LastMonth(t *testing.T) {
	f := rulesOnly().Resolve(context.Background(), "biggest expense last month", ref)
	if f == nil || f.Kind != KindMonthYear || f.Month != time.January || f.Year != 2025 {
		t.Fatalf("filter = %+v, want January 2025", f)
	}
	start, end := f.Bounds(ref)
	if start.Format(DateFormat) != "2025-01-01" || end.Format(DateFormat) != "2025-01-31" {
		t.Errorf("bounds = %s..%s", start.Format(DateFormat), end.Format(DateFormat))
	}
}

func TestResolve_RelativeVocabulary(t *testing.T) {
	tests := []struct {
		query     string
		wantStart string
		wantEnd   string
	}{
		{"what did I spend today", "2025-02-10", "2025-02-10"},
		{"purchases yesterday", "2025-02-09", "2025-02-09"},
		{"spending this week", "2025-02-10", "2025-02-10"},
		{"spending last week", "2025-02-03", "2025-02-09"},
		{"spending this year", "2025-01-01", "2025-02-10"},
		{"spending last year", "2024-01-01", "2024-12-31"},
		{"last 14 days of spending", "2025-01-27", "2025-02-10"},
		{"last 2 weeks of spending", "2025-01-27", "2025-02-10"},
		{"last 3 months of spending", "2024-11-12", "2025-02-10"},
		{"recent purchases", "2025-02-03", "2025-02-10"},
	}

	r := rulesOnly()
	for _, tt := range tests {
		f := r.Resolve(context.Background(), tt.query, ref)
		if f == nil {
			t.Errorf("%q: no filter resolved", tt.query)
			continue
		}
		start, end := f.Bounds(ref)
		if got := start.Format(DateFormat); got != tt.wantStart {
			t.Errorf("%q: start = %s, want %s", tt.query, got, tt.wantStart)
		}
		if got := end.Format(DateFormat); got != tt.wantEnd {
			t.Errorf("%q: end = %s, want %s", tt.query, got, tt.wantEnd)
		}
		if end.Before(start) {
			t.Errorf("%q: end %s before start %s", tt.query, end, start)
		}
	}
}

func TestResolve_WeekdayWrapsToFullWeek(t *testing.T) {
	// ref is a Monday, so "last monday" must mean seven days back, not today.
	f := rulesOnly().Resolve(context.Background(), "what did I buy last monday", ref)
	if f == nil || f.Kind != KindExactDate {
		t.Fatalf("filter = %+v, want ExactDate", f)
	}
	if got := f.Date.Format(DateFormat); got != "2025-02-03" {
		t.Errorf("date = %s, want 2025-02-03", got)
	}
}

func TestResolve_WeekdayPriorOccurrence(t *testing.T) {
	f := rulesOnly().Resolve(context.Background(), "how much did I spend on friday", ref)
	if f == nil || f.Kind != KindExactDate {
		t.Fatalf("filter = %+v, want ExactDate", f)
	}
	if got := f.Date.Format(DateFormat); got != "2025-02-07" {
		t.Errorf("date = %s, want 2025-02-07", got)
	}
}

func TestResolve_MonthNames(t *testing.T) {
	r := rulesOnly()

	f := r.Resolve(context.Background(), "spending in january", ref)
	if f == nil || f.Month != time.January || f.Year != 2025 {
		t.Errorf("january: got %+v", f)
	}

	// A month after the reference month refers to last year's occurrence.
	f = r.Resolve(context.Background(), "spending in november", ref)
	if f == nil || f.Month != time.November || f.Year != 2024 {
		t.Errorf("november: got %+v", f)
	}

	f = r.Resolve(context.Background(), "spending in jun 2024", ref)
	if f == nil || f.Month != time.June || f.Year != 2024 {
		t.Errorf("jun 2024: got %+v", f)
	}
}

func TestResolve_NumericDates(t *testing.T) {
	r := rulesOnly()

	f := r.Resolve(context.Background(), "what did I buy on 1/5", ref)
	if f == nil || f.Kind != KindExactDate || f.Date.Format(DateFormat) != "2025-01-05" {
		t.Errorf("1/5: got %+v", f)
	}

	f = r.Resolve(context.Background(), "charges on 12/24/24", ref)
	if f == nil || f.Date.Format(DateFormat) != "2024-12-24" {
		t.Errorf("12/24/24: got %+v", f)
	}
}

func TestResolve_NoTemporalExpression(t *testing.T) {
	m := &mockChatter{response: `{"no_temporal": true}`}
	r := NewResolver(NewExtractor(m, "test-model"))

	f := r.Resolve(context.Background(), "how much do I spend at Starbucks", ref)
	if f != nil {
		t.Errorf("filter = %+v, want nil", f)
	}
	if m.calls.Load() != 0 {
		t.Error("extractor called for a query with no complex phrase")
	}
}

func TestResolve_ComplexEscalation(t *testing.T) {
	m := &mockChatter{response: `{"start_date": "2024-11-15", "end_date": "2024-12-31"}`}
	r := NewResolver(NewExtractor(m, "test-model"))

	f := r.Resolve(context.Background(), "What did I spend around the holidays?", ref)
	if f == nil || f.Kind != KindRange {
		t.Fatalf("filter = %+v, want Range", f)
	}
	if f.Start.Format(DateFormat) != "2024-11-15" || f.End.Format(DateFormat) != "2024-12-31" {
		t.Errorf("range = %s..%s", f.Start.Format(DateFormat), f.End.Format(DateFormat))
	}
}

func TestResolve_CachedExtractionIsIdempotent(t *testing.T) {
	m := &mockChatter{response: `{"start_date": "2024-06-01", "end_date": "2024-08-31"}`}
	r := NewResolver(NewExtractor(m, "test-model"))

	first := r.Resolve(context.Background(), "summer spending", ref)
	second := r.Resolve(context.Background(), "summer spending", ref)

	if m.calls.Load() != 1 {
		t.Errorf("extractor called %d times, want 1", m.calls.Load())
	}
	if !first.Equal(second) {
		t.Errorf("cached result differs: %+v vs %+v", first, second)
	}
	if r.CacheLen() != 1 {
		t.Errorf("CacheLen = %d, want 1", r.CacheLen())
	}
}

func TestResolve_ExtractionFailureMeansAllTime(t *testing.T) {
	m := &mockChatter{response: "not json at all"}
	r := NewResolver(NewExtractor(m, "test-model"))

	if f := r.Resolve(context.Background(), "thanksgiving purchases", ref); f != nil {
		t.Errorf("filter = %+v, want nil on parse failure", f)
	}
}

func TestResolve_ExtractionTimeout(t *testing.T) {
	m := &mockChatter{response: `{"start_date": "2024-01-01", "end_date": "2024-01-31"}`, delay: 5 * time.Second}
	r := NewResolver(NewExtractor(m, "test-model"))

	start := time.Now()
	f := r.Resolve(context.Background(), "around new year", ref)
	if f != nil {
		t.Errorf("filter = %+v, want nil on timeout", f)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("resolve took %v, timeout not applied", elapsed)
	}
}

func TestExtractor_SwapsReversedBounds(t *testing.T) {
	m := &mockChatter{response: `{"start_date": "2024-12-31", "end_date": "2024-11-15"}`}
	e := NewExtractor(m, "test-model")

	f := e.Extract(context.Background(), "holiday season", ref)
	if f == nil {
		t.Fatal("no filter")
	}
	if f.End.Before(f.Start) {
		t.Errorf("start %v after end %v", f.Start, f.End)
	}
}

func TestExtractor_StripsMarkdownFences(t *testing.T) {
	m := &mockChatter{response: "```json\n{\"start_date\": \"2024-02-01\", \"end_date\": \"2024-04-15\"}\n```"}
	e := NewExtractor(m, "test-model")

	f := e.Extract(context.Background(), "tax season spending", ref)
	if f == nil {
		t.Fatal("fenced JSON not parsed")
	}
	if f.Start.Format(DateFormat) != "2024-02-01" {
		t.Errorf("start = %s", f.Start.Format(DateFormat))
	}
}

func TestFilter_Human(t *testing.T) {
	var nilFilter *Filter
	if got := nilFilter.Human(); got != "All time" {
		t.Errorf("nil filter = %q, want All time", got)
	}
	if got := MonthYear(time.January, 2025).Human(); got != "January 2025" {
		t.Errorf("month = %q", got)
	}
	if got := ExactDate(time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)).Human(); got != "On 2025-01-05" {
		t.Errorf("exact = %q", got)
	}
	r := Range(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC))
	if got := r.Human(); got != "From 2025-01-01 to 2025-01-31" {
		t.Errorf("range = %q", got)
	}
	if got := OpenRange(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)).Human(); got != "From 2025-01-01 onwards" {
		t.Errorf("open range = %q", got)
	}
}

func TestFilter_Contains(t *testing.T) {
	f := MonthYear(time.January, 2025)
	in := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	out := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	if !f.Contains(in, ref) {
		t.Error("in-month date rejected")
	}
	if f.Contains(out, ref) {
		t.Error("out-of-month date accepted")
	}
	var all *Filter
	if !all.Contains(out, ref) {
		t.Error("nil filter must contain everything")
	}
}
