// Package timeparsing resolves the date expressions accepted by the
// --start-date and --end-date flags. Parsing is layered:
//  1. Absolute dates (2024-01-15, RFC3339)
//  2. Compact durations relative to now (-2w, -30d)
//  3. Natural language ("yesterday", "last monday")
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// compactDurationRe matches compact duration patterns: [+-]?(\d+)([hdwmy])
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// absoluteFormats are the absolute layouts tried first, most common first.
var absoluteFormats = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
}

// ParseDate resolves a user-supplied date expression against the reference
// time now. Date-range flags are usually in the past, so compact durations
// like "2w" without a sign are interpreted as "2 weeks ago".
func ParseDate(s string, now time.Time) (time.Time, error) {
	for _, format := range absoluteFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	if IsCompactDuration(s) {
		return parseCompactDuration(s, now)
	}

	if t, err := ParseNaturalLanguage(s, now); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized date expression: %q", s)
}

// IsCompactDuration reports whether s matches compact duration syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(s)
}

// parseCompactDuration applies a compact duration to now. Units: h(ours),
// d(ays), w(eeks), m(onths), y(ears). An unsigned amount counts backwards.
func parseCompactDuration(s string, now time.Time) (time.Time, error) {
	matches := compactDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return time.Time{}, fmt.Errorf("not a compact duration: %q", s)
	}

	sign := matches[1]
	amount, err := strconv.Atoi(matches[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid duration amount: %q", matches[2])
	}
	unit := matches[3]

	// Unsigned and "-" both mean the past here.
	if sign != "+" {
		amount = -amount
	}

	switch unit {
	case "h":
		return now.Add(time.Duration(amount) * time.Hour), nil
	case "d":
		return now.AddDate(0, 0, amount), nil
	case "w":
		return now.AddDate(0, 0, amount*7), nil
	case "m":
		return now.AddDate(0, amount, 0), nil
	case "y":
		return now.AddDate(amount, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("unknown duration unit: %q", unit)
}
