package model

import (
	"strings"
	"unicode"
)

// normalizeToken folds a status spelling to lower case and drops
// separators, so "under_review", "UNDER REVIEW" and "underReview" compare equal.
func normalizeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '_', '-', ' ':
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// parseLegacyInt reads the numeric status encoding, accepting only a bare
// non-negative integer.
func parseLegacyInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 3 {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
