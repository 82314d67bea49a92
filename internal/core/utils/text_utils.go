package utils

import (
	"strings"
	"unicode/utf8"
)

// NormalizeText collapses runs of whitespace, so texts that differ only in
// spacing share a cache entry. Case is kept: it changes the translation.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// TextLength counts characters, not bytes. All length limits on message text
// are expressed in characters.
func TextLength(text string) int {
	return utf8.RuneCountInString(text)
}

func Preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}
