package event

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeUsername folds a submitted username onto a single entity key.
// NFKC collapses width and compatibility variants, case folding collapses
// case, so "Admin", "ＡＤＭＩＮ" and "admin" accumulate risk on one key
// instead of three.
func NormalizeUsername(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	// A Caser is stateful; build one per call.
	return cases.Fold().String(s)
}
