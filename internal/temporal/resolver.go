package temporal

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/penny/internal/cache"
)

const (
	cacheSize = 100
	cacheTTL  = time.Hour
)

// Resolver turns free-text time expressions into Filters. The rule pass is
// pure computation; fuzzy phrases go through the LLM extractor, with results
// cached per (query, reference date) so identical phrasings resolve once.
type Resolver struct {
	extractor *Extractor
	cache     *cache.LRU[*Filter]
}

// NewResolver creates a Resolver. A nil extractor disables escalation: fuzzy
// phrases then resolve to no filter.
func NewResolver(extractor *Extractor) *Resolver {
	return &Resolver{
		extractor: extractor,
		cache:     cache.NewLRU[*Filter](cacheSize, cacheTTL),
	}
}

// Resolve maps query text to a Filter relative to ref. A nil result means no
// temporal restriction ("all time") and is never an error condition.
func (r *Resolver) Resolve(ctx context.Context, query string, ref time.Time) *Filter {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	if f := resolveRules(q, ref); f != nil {
		return f
	}

	if !IsComplex(q) || r.extractor == nil {
		return nil
	}

	key := q + "|" + ref.Format(DateFormat)
	if f, ok := r.cache.Get(key); ok {
		return f
	}

	f := r.extractor.Extract(ctx, query, ref)
	r.cache.Set(key, f)
	return f
}

// CacheLen reports the number of cached extractions. Tests only.
func (r *Resolver) CacheLen() int { return r.cache.Len() }

var (
	lastNUnitsRe = regexp.MustCompile(`last\s+(\d+)\s+(day|week|month)s?`)
	weekdayRe    = regexp.MustCompile(`(?:last|on)\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	monthRe      = regexp.MustCompile(`\b(january|february|march|april|june|july|august|september|october|november|december|jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)\b(?:\s+(20\d{2}))?`)
	numericRe    = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})(?:[/-](\d{2,4}))?\b`)
)

var monthsByName = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var weekdaysByName = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday, "sunday": time.Sunday,
}

// resolveRules is the deterministic first pass. q must be lowercased.
func resolveRules(q string, ref time.Time) *Filter {
	ref = civil(ref)

	switch {
	case strings.Contains(q, "last month"):
		prev := ref.AddDate(0, 0, -ref.Day()) // last day of previous month
		return MonthYear(prev.Month(), prev.Year())

	case strings.Contains(q, "this month"):
		return MonthYear(ref.Month(), ref.Year())

	case strings.Contains(q, "last week"):
		monday := startOfWeek(ref).AddDate(0, 0, -7)
		return Range(monday, monday.AddDate(0, 0, 6))

	case strings.Contains(q, "this week"):
		return Range(startOfWeek(ref), ref)

	case strings.Contains(q, "today"):
		return ExactDate(ref)

	case strings.Contains(q, "yesterday"):
		return ExactDate(ref.AddDate(0, 0, -1))

	case strings.Contains(q, "last year"):
		year := ref.Year() - 1
		return Range(time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC))

	case strings.Contains(q, "this year"):
		return Range(time.Date(ref.Year(), 1, 1, 0, 0, 0, 0, time.UTC), ref)
	}

	if m := lastNUnitsRe.FindStringSubmatch(q); m != nil {
		n, _ := strconv.Atoi(m[1])
		days := n
		switch m[2] {
		case "week":
			days = n * 7
		case "month":
			days = n * 30
		}
		return Range(ref.AddDate(0, 0, -days), ref)
	}

	if strings.Contains(q, "recently") || strings.Contains(q, "recent") {
		return Range(ref.AddDate(0, 0, -7), ref)
	}

	if m := weekdayRe.FindStringSubmatch(q); m != nil {
		target := weekdaysByName[m[1]]
		daysAgo := (int(ref.Weekday()) - int(target) + 7) % 7
		if daysAgo == 0 {
			daysAgo = 7 // "last monday" on a Monday means a week ago
		}
		return ExactDate(ref.AddDate(0, 0, -daysAgo))
	}

	if m := monthRe.FindStringSubmatch(q); m != nil {
		month := monthsByName[m[1]]
		year := ref.Year()
		if m[2] != "" {
			year, _ = strconv.Atoi(m[2])
		} else if month > ref.Month() {
			// A bare future month refers to the previous year's occurrence.
			year--
		}
		return MonthYear(month, year)
	}

	if m := numericRe.FindStringSubmatch(q); m != nil {
		month, _ := strconv.Atoi(m[1])
		dayOfMonth, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 || dayOfMonth < 1 || dayOfMonth > 31 {
			return nil
		}
		year := ref.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
		}
		return ExactDate(time.Date(year, time.Month(month), dayOfMonth, 0, 0, 0, 0, time.UTC))
	}

	return nil
}

// complexPhrases trigger LLM escalation: fuzzy quantities, holidays and
// seasons that closed-form rules can't resolve.
var complexPhrases = []string{
	"around the holidays", "holiday season", "during the holidays",
	"a few", "a couple", "several", "some time",
	"around", "about", "approximately",
	"first week of", "second week of", "last week of",
	"middle of", "beginning of", "end of", "start of",
	"tax season", "tax time", "back to school",
	"summer", "winter", "spring", "fall", "autumn",
	"before christmas", "after christmas", "new year",
	"black friday", "cyber monday", "thanksgiving", "break",
	"right after", "right before", "shortly after", "shortly before",
}

// IsComplex reports whether the query contains a phrase that needs the LLM
// extractor. The classifier also consults this when deciding escalation.
func IsComplex(query string) bool {
	q := strings.ToLower(query)
	for _, p := range complexPhrases {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

// startOfWeek returns the Monday of ref's week.
func startOfWeek(ref time.Time) time.Time {
	offset := (int(ref.Weekday()) + 6) % 7
	return ref.AddDate(0, 0, -offset)
}
