// Package strings provides string normalization helpers shared by the
// ingestion pipeline.
package strings

import (
	"strings"
	"unicode"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

// NormalizeName upper-cases s, drops punctuation and collapses runs of
// whitespace into a single space.
//
//	NormalizeName("  Doe, Jane  A. ") // "DOE JANE A"
func NormalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsSpace(r):
			pendingSpace = true
		}
	}
	return b.String()
}

// NormalizeCode upper-cases and trims short codes such as state abbreviations.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ZipPrefix returns the first five digits of a postal code, ignoring any
// non-digit characters. Shorter inputs are returned as-is.
func ZipPrefix(zip string) string {
	digits := make([]rune, 0, 5)
	for _, r := range zip {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
			if len(digits) == 5 {
				break
			}
		}
	}
	return string(digits)
}
