package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{name: "trims whitespace", input: []string{"  C001 ", "C002"}, expected: []string{"C001", "C002"}},
		{name: "removes duplicates preserving order", input: []string{"C2", "C1", "C2"}, expected: []string{"C2", "C1"}},
		{name: "drops blanks", input: []string{"", "  ", "C1"}, expected: []string{"C1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Jane Doe", "JANE DOE"},
		{"  Doe,   Jane  A. ", "DOE JANE A"},
		{"O'Brien-Smith", "OBRIENSMITH"},
		{"", ""},
		{"ACME PAC", "ACME PAC"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizeName(tt.input), tt.input)
	}
}

func TestZipPrefix(t *testing.T) {
	assert.Equal(t, "62701", ZipPrefix("627011234"))
	assert.Equal(t, "62701", ZipPrefix("62701-1234"))
	assert.Equal(t, "627", ZipPrefix("627"))
	assert.Equal(t, "", ZipPrefix(""))
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "IL", NormalizeCode(" il "))
}
