package models

import (
	"strings"
	"time"
)

// RateLimitResult represents the outcome of a budget check.
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// RetryAfter is how long a denied caller should wait before the window frees
// a slot. It is zero for allowed results.
func (r *RateLimitResult) RetryAfter(now time.Time) time.Duration {
	if r == nil || r.Allowed {
		return 0
	}
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// UpstreamKey builds the bucket key for an upstream API credential. The key
// itself is never stored; only a short fingerprint of it.
func UpstreamKey(api, fingerprint string) string {
	return "upstream:" + SanitizeKeySegment(api) + ":" + SanitizeKeySegment(fingerprint)
}

// SanitizeKeySegment escapes delimiter characters in key segments so one
// segment cannot spill into the next.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
