// Package bytesize provides human-readable byte size parsing and formatting.
// It supports common size units (B, KB, MB, GB, TB) using the binary (1024)
// base, with explicit KiB/MiB/... spellings accepted as aliases.
//
// Examples:
//   - "400MB" = 400 * 1024 * 1024 bytes
//   - "1.5 GB" = 1.5 * 1024^3 bytes
//   - "4096" = 4096 bytes (no unit = bytes)
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size represents a byte size as int64.
type Size int64

// Common size constants using binary (1024) base.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

// unitMultipliers maps unit names to their byte multiplier.
var unitMultipliers = map[string]Size{
	"b":     B,
	"byte":  B,
	"bytes": B,

	"k":   KB,
	"kb":  KB,
	"kib": KB,

	"m":   MB,
	"mb":  MB,
	"mib": MB,

	"g":   GB,
	"gb":  GB,
	"gib": GB,

	"t":   TB,
	"tb":  TB,
	"tib": TB,
}

// sizePattern matches a number (int or float) followed by an optional unit.
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse parses a human-readable byte size string. Supports integer and
// floating-point values with optional units; no unit means bytes.
func Parse(s string) (Size, error) {
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", matches[1], err)
	}

	multiplier := B
	if unit := strings.ToLower(matches[2]); unit != "" {
		var ok bool
		multiplier, ok = unitMultipliers[unit]
		if !ok {
			return 0, fmt.Errorf("bytesize: unknown unit %q", matches[2])
		}
	}

	return Size(value * float64(multiplier)), nil
}

// Format returns a human-readable representation of s, using the largest
// unit that divides it evenly, or a decimal form otherwise.
func Format(s Size) string {
	if s < 0 {
		return strconv.FormatInt(int64(s), 10)
	}

	units := []struct {
		name string
		size Size
	}{
		{"TB", TB},
		{"GB", GB},
		{"MB", MB},
		{"KB", KB},
	}

	for _, u := range units {
		if s >= u.size {
			if s%u.size == 0 {
				return fmt.Sprintf("%d%s", int64(s/u.size), u.name)
			}
			return fmt.Sprintf("%.1f%s", float64(s)/float64(u.size), u.name)
		}
	}
	return fmt.Sprintf("%dB", int64(s))
}
