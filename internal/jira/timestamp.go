package jira

import (
	"fmt"
	"time"
)

// timestampFormats are the layouts Jira Server emits, most common first.
// Server instances use ISO 8601 with a numeric zone offset:
// 2024-01-15T10:30:00.000+0000. Date-only fields (duedate) are plain
// YYYY-MM-DD.
var timestampFormats = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
}

// ParseTimestamp parses a Jira timestamp or date string into a time.Time.
func ParseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	for _, format := range timestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", ts)
}
