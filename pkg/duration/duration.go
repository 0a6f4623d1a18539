// Package duration provides human-readable duration parsing. It extends
// Go's standard time.ParseDuration with support for days and weeks, and
// accepts spelled-out unit names ("2 seconds", "1 week").
//
// Examples:
//   - "1.5s" = 1.5 seconds
//   - "2w" = 2 weeks
//   - "1w2d12h" = 1 week, 2 days, 12 hours
//   - "720h" = 720 hours (standard Go format still works)
package duration

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

// extendedUnits maps non-standard unit names to their hour multiplier.
// Hours are the largest unit time.ParseDuration understands natively.
var extendedUnits = map[string]int64{
	"w":     7 * 24,
	"wk":    7 * 24,
	"wks":   7 * 24,
	"week":  7 * 24,
	"weeks": 7 * 24,

	"d":    24,
	"day":  24,
	"days": 24,
}

// standardUnitReplacements maps spelled-out time units to their Go
// duration equivalents so "3 hours" parses like "3h".
var standardUnitReplacements = map[string]string{
	"hour":  "h",
	"hours": "h",
	"hr":    "h",
	"hrs":   "h",

	"minute":  "m",
	"minutes": "m",
	"min":     "m",
	"mins":    "m",

	"second":  "s",
	"seconds": "s",
	"sec":     "s",
	"secs":    "s",

	"millisecond":  "ms",
	"milliseconds": "ms",

	"microsecond":  "us",
	"microseconds": "us",

	"nanosecond":  "ns",
	"nanoseconds": "ns",
}

// segmentPattern matches one value+unit segment, e.g. "2w" or "1.5 days".
var segmentPattern = regexp.MustCompile(`(?i)([0-9]+(?:\.[0-9]+)?)\s*([a-zµ]+)`)

// Parse parses a human-readable duration string. Extended units (days,
// weeks) are converted to hours and the remainder is handed to
// time.ParseDuration.
func Parse(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	// Fast path: plain Go syntax.
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	// Anything not matched by a segment must be whitespace.
	if rest := strings.TrimSpace(segmentPattern.ReplaceAllString(s, "")); rest != "" {
		return 0, fmt.Errorf("duration: invalid format %q", s)
	}

	var total time.Duration
	matched := false

	for _, m := range segmentPattern.FindAllStringSubmatch(s, -1) {
		value, unit := m[1], strings.ToLower(m[2])
		matched = true

		if hours, ok := extendedUnits[unit]; ok {
			d, err := time.ParseDuration(value + "h")
			if err != nil {
				return 0, fmt.Errorf("duration: invalid value %q: %w", value, err)
			}
			total += time.Duration(float64(d) * float64(hours))
			continue
		}

		if repl, ok := standardUnitReplacements[unit]; ok {
			unit = repl
		}
		d, err := time.ParseDuration(value + unit)
		if err != nil {
			return 0, fmt.Errorf("duration: invalid segment %q: %w", value+unit, err)
		}
		total += d
	}

	if !matched {
		return 0, fmt.Errorf("duration: invalid format %q", s)
	}

	return total, nil
}
