package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
	}{
		{"1s", time.Second},
		{"1.5s", 1500 * time.Millisecond},
		{"500ms", 500 * time.Millisecond},
		{"10m", 10 * time.Minute},
		{"720h", 720 * time.Hour},
		{"1d", Day},
		{"2w", 2 * Week},
		{"1w2d12h", Week + 2*Day + 12*time.Hour},
		{"2 seconds", 2 * time.Second},
		{"1 week", Week},
		{"3 days", 3 * Day},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"", "   ", "abc", "1x", "1h xyz", "h"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}
