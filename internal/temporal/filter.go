// Package temporal converts natural-language time expressions into explicit
// date ranges. A deterministic rule pass covers the fixed vocabulary of
// relative expressions; fuzzy phrases ("around the holidays") escalate to a
// local LLM extractor whose results are cached.
package temporal

import (
	"fmt"
	"time"
)

// DateFormat is the civil-date layout used throughout the resolver.
const DateFormat = "2006-01-02"

// Kind discriminates the Filter union.
type Kind int

const (
	// KindExactDate matches a single calendar day.
	KindExactDate Kind = iota
	// KindMonthYear matches every day of one month.
	KindMonthYear
	// KindRange matches an inclusive date range; an open range extends to "now".
	KindRange
)

// Filter is a resolved temporal restriction. A nil *Filter means "all time".
// Exactly the fields for the active Kind are meaningful.
type Filter struct {
	Kind Kind

	Date time.Time // KindExactDate

	Month time.Month // KindMonthYear
	Year  int        // KindMonthYear

	Start time.Time // KindRange
	End   time.Time // KindRange; zero when open-ended
}

// ExactDate builds a single-day filter.
func ExactDate(d time.Time) *Filter {
	return &Filter{Kind: KindExactDate, Date: civil(d)}
}

// MonthYear builds a whole-month filter.
func MonthYear(m time.Month, year int) *Filter {
	return &Filter{Kind: KindMonthYear, Month: m, Year: year}
}

// Range builds an inclusive range filter. Reversed bounds are swapped so the
// start <= end invariant always holds.
func Range(start, end time.Time) *Filter {
	start, end = civil(start), civil(end)
	if !end.IsZero() && end.Before(start) {
		start, end = end, start
	}
	return &Filter{Kind: KindRange, Start: start, End: end}
}

// OpenRange builds a range with no upper bound (open-ended to "now").
func OpenRange(start time.Time) *Filter {
	return &Filter{Kind: KindRange, Start: civil(start)}
}

// Bounds returns the inclusive [start, end] days the filter covers. Open
// ranges close at ref. Bounds on a nil filter covers all time.
func (f *Filter) Bounds(ref time.Time) (time.Time, time.Time) {
	if f == nil {
		return time.Time{}, civil(ref)
	}
	switch f.Kind {
	case KindExactDate:
		return f.Date, f.Date
	case KindMonthYear:
		start := time.Date(f.Year, f.Month, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, -1)
		return start, end
	default:
		end := f.End
		if end.IsZero() {
			end = civil(ref)
		}
		return f.Start, end
	}
}

// Contains reports whether the civil date d falls inside the filter,
// treating ref as "now" for open ranges.
func (f *Filter) Contains(d, ref time.Time) bool {
	if f == nil {
		return true
	}
	start, end := f.Bounds(ref)
	d = civil(d)
	return !d.Before(start) && !d.After(end)
}

// Human renders the filter for response metadata.
func (f *Filter) Human() string {
	if f == nil {
		return "All time"
	}
	switch f.Kind {
	case KindExactDate:
		return "On " + f.Date.Format(DateFormat)
	case KindMonthYear:
		return fmt.Sprintf("%s %d", f.Month, f.Year)
	default:
		if f.End.IsZero() {
			return "From " + f.Start.Format(DateFormat) + " onwards"
		}
		return fmt.Sprintf("From %s to %s", f.Start.Format(DateFormat), f.End.Format(DateFormat))
	}
}

// Equal reports structural equality. Used by the cache idempotence tests.
func (f *Filter) Equal(other *Filter) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.Kind == other.Kind &&
		f.Date.Equal(other.Date) &&
		f.Month == other.Month && f.Year == other.Year &&
		f.Start.Equal(other.Start) && f.End.Equal(other.End)
}

// civil truncates t to a UTC calendar date.
func civil(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
