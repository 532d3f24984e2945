package booking

import (
	"strings"
	"time"
)

// Accepted timestamp layouts, tried in order. Layouts without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseTimestamp parses RFC3339 or the datetime-local form sent by browser
// forms.
func ParseTimestamp(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, invalid(field, "is required")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, invalid(field, "is not a valid timestamp")
}
