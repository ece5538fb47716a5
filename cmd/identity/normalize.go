package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeName collapses surrounding whitespace.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
