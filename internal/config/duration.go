package config

import (
	"encoding/json"
	"time"

	"github.com/jmylchreest/packetq/pkg/duration"
)

// Duration is a time.Duration that supports human-readable parsing,
// including the extended day/week units of pkg/duration.
//
// Examples:
//   - "500ms" = half a second of readahead
//   - "10s" = ten seconds
//   - "1h30m" = standard Go format still works
//
// This type implements encoding.TextUnmarshaler for Viper/YAML support
// and json.Unmarshaler for JSON configuration files.
type Duration time.Duration

// ParseDuration parses a human-readable duration string.
func ParseDuration(s string) (Duration, error) {
	d, err := duration.Parse(s)
	if err != nil {
		return 0, err
	}
	return Duration(d), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Try as a number (nanoseconds) for backwards compatibility
		var ns int64
		if err := json.Unmarshal(data, &ns); err != nil {
			return err
		}
		*d = Duration(ns)
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Seconds returns the duration in seconds.
func (d Duration) Seconds() float64 {
	return time.Duration(d).Seconds()
}

// String returns the standard Go duration representation.
func (d Duration) String() string {
	return time.Duration(d).String()
}
