package records

import (
	"strings"
	"time"
)

const (
	displayLayout = "02 Jan 2006"
	apiLayout     = "2006-01-02"
)

// Accepted input layouts, most specific first.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	apiLayout,
	"02/01/2006",
	"02-01-2006",
	displayLayout,
	"2 Jan 2006",
}

// ParseDate reads a date in any accepted layout. The calendar date written in the input is
// kept as-is: "2024-03-05T23:30:00-05:00" is March 5th, not the UTC day.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders a date as "DD Mon YYYY". Empty input gives "", unparseable input is returned unchanged.
func FormatDate(s string) string {
	t, ok := ParseDate(s)
	if !ok {
		return strings.TrimSpace(s)
	}
	return t.Format(displayLayout)
}

// FormatDateToAPI renders a date as "YYYY-MM-DD" for backend round trips; "" when it cannot be parsed.
func FormatDateToAPI(s string) string {
	t, ok := ParseDate(s)
	if !ok {
		return ""
	}
	return t.Format(apiLayout)
}

// FormatTime is FormatDate for an already parsed instant.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(displayLayout)
}
