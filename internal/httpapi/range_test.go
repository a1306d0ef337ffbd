package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	const size = int64(10000)

	tests := []struct {
		name  string
		spec  string
		start int64
		end   int64
	}{
		{"explicit span", "bytes=0-99", 0, 99},
		{"interior span", "bytes=500-999", 500, 999},
		{"open end", "bytes=9000-", 9000, 9999},
		{"single byte", "bytes=0-0", 0, 0},
		{"last byte", "bytes=9999-9999", 9999, 9999},
		{"suffix", "bytes=-100", 9900, 9999},
		{"suffix longer than resource", "bytes=-20000", 0, 9999},
		{"whitespace tolerated", "bytes= 10-20", 10, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := parseRange(tt.spec, size)
			require.NoError(t, err)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}

func TestParseRangeUnsatisfiable(t *testing.T) {
	const size = int64(10000)

	tests := []struct {
		name string
		spec string
	}{
		{"start beyond size", "bytes=10000-10005"},
		{"end beyond size", "bytes=5-1000000"},
		{"inverted span", "bytes=500-100"},
		{"negative start", "bytes=-5-10"},
		{"missing unit", "0-99"},
		{"wrong unit", "items=0-99"},
		{"multiple ranges", "bytes=0-10,20-30"},
		{"empty", "bytes="},
		{"garbage", "bytes=abc-def"},
		{"zero suffix", "bytes=-0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseRange(tt.spec, size)
			assert.ErrorIs(t, err, errUnsatisfiableRange)
		})
	}
}

func TestParseRangeEmptyResource(t *testing.T) {
	_, _, err := parseRange("bytes=0-0", 0)
	assert.ErrorIs(t, err, errUnsatisfiableRange)

	_, _, err = parseRange("bytes=-100", 0)
	assert.ErrorIs(t, err, errUnsatisfiableRange)
}
