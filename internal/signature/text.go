// internal/signature/text.go
package signature

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

// stopwords are dropped before stemming. UI copy is short, so the list is
// limited to function words that never distinguish screens.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "be": true, "been": true,
	"will": true, "would": true, "could": true, "should": true, "can": true,
	"and": true, "or": true, "but": true, "if": true, "then": true,
	"so": true, "as": true, "at": true, "by": true, "for": true,
	"from": true, "in": true, "into": true, "of": true, "on": true,
	"to": true, "with": true, "it": true, "its": true, "this": true,
	"that": true, "you": true, "your": true, "we": true, "our": true,
	"my": true, "me": true, "i": true,
}

// NormalizeText case-folds, tokenizes, drops stopwords, stems and returns the
// sorted unique stems. Digits are kept so "Step 2" differs from "Step 3";
// pure-number tokens longer than four digits (clocks, counters) are dropped.
func NormalizeText(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	stems := make([]string, 0, len(words))
	for _, w := range words {
		if stopwords[w] || volatileNumber(w) {
			continue
		}
		if len([]rune(w)) < 2 && !isDigits(w) {
			continue
		}
		stem := english.Stem(w, false)
		if stem == "" || seen[stem] {
			continue
		}
		seen[stem] = true
		stems = append(stems, stem)
	}
	sort.Strings(stems)
	return stems
}

// Stem normalizes a single label the same way NormalizeText does.
func Stem(label string) string {
	return strings.Join(NormalizeText(label), " ")
}

func volatileNumber(w string) bool { return len(w) > 4 && isDigits(w) }

func isDigits(w string) bool {
	if w == "" {
		return false
	}
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
