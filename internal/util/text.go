// Package util provides text helpers shared by the router and the flows.
package util

import (
	"strings"
	"unicode"
)

// Normalize lower-cases s and collapses runs of whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tokens splits s into lower-case words of letters and digits.
func Tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// HasAnyToken reports whether any word of s is in words.
func HasAnyToken(s string, words ...string) bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	for _, tok := range Tokens(s) {
		if set[tok] {
			return true
		}
	}
	return false
}

// ContainsAnyPhrase reports whether the normalized s contains any phrase.
func ContainsAnyPhrase(s string, phrases ...string) bool {
	norm := " " + strings.Join(Tokens(s), " ") + " "
	for _, p := range phrases {
		if strings.Contains(norm, " "+p+" ") {
			return true
		}
	}
	return false
}

// Bare returns s lower-cased with surrounding punctuation and whitespace removed,
// for comparing whole-message commands.
func Bare(s string) string {
	return strings.Join(Tokens(s), " ")
}
