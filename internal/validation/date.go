package validation

import (
	"strings"
	"time"
)

// DateLayout is the wire and storage format of invoice dates.
const DateLayout = "2006-01-02"

// ParseDate reads a calendar date. Full RFC 3339 timestamps are accepted
// too; their calendar day is taken in the timestamp's own offset.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
}

// NormalizeDate returns s in DateLayout, or false if it cannot be parsed.
func NormalizeDate(s string) (string, bool) {
	t, ok := ParseDate(s)
	if !ok {
		return "", false
	}
	return t.Format(DateLayout), true
}

// notBefore reports whether date falls on or after the calendar day of now
// in now's location.
func notBefore(date time.Time, now time.Time) bool {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return !date.Before(today)
}
