package ipdr

import (
	"strings"
	"time"
)

// timeLayouts are tried in order; the first full parse wins. Day-first with a
// clock comes before the date-only form, then ISO-8601 variants.
var timeLayouts = []string{
	"02-01-2006 15:04:05",
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"02-01-2006",
}

// ParseTimestamp parses s with the known layouts. Values without a zone are
// read in loc. The result is UTC truncated to the millisecond.
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t.UTC().Truncate(time.Millisecond), true
		}
	}
	return time.Time{}, false
}

// timeValue converts a row value to a timestamp.
func timeValue(v any, loc *time.Location) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC().Truncate(time.Millisecond), true
	}
	if _, isString := v.(string); !isString {
		return time.Time{}, false
	}
	return ParseTimestamp(stringValue(v), loc)
}
