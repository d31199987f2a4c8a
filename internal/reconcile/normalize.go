// Package reconcile implements the relationship reconciliation engine:
// dimension lookup resolution, quote-number and identity-cascade linking
// (reactive and batch), integrity monitoring, and the orchestration and
// ledger gating around them.
package reconcile

import (
	"regexp"
	"strings"
	"unicode"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Normalize canonicalizes a free-text identity field into a matching key:
//  1. Trimming leading/trailing whitespace
//  2. Collapsing internal whitespace runs to a single space
//  3. Lower-casing
//
// Pure and total; empty input stays empty. Both the reactive hook and the
// batch resolver key on this, so the two paths cannot diverge.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.ToLower(s)
}

// NormalizePtr applies Normalize through a nullable field, passing nil
// through untouched.
func NormalizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	n := Normalize(*s)
	return &n
}

// DisplayName builds the presentation form of a lead source: trimmed,
// whitespace-collapsed, each word capitalized. Blank input becomes
// "Unknown".
func DisplayName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Unknown"
	}

	words := strings.Fields(s)
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(w string) string {
	r := []rune(strings.ToLower(w))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// CityFromBranch extracts the city portion of a raw branch name: the last
// whitespace-separated word, title-cased. Branch names in the source CRM
// end with the city ("NORTH YORK TORONTO" → "Toronto").
func CityFromBranch(name string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return ""
	}

	return capitalize(words[len(words)-1])
}
