// Package textnorm implements the deterministic text cleaning applied
// before scoring and deduplication.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// isControl matches [\x00-\x08\x0B\x0C\x0E-\x1F\x7F]. Tab, LF and CR are
// left for whitespace collapsing.
func isControl(r rune) bool {
	switch {
	case r <= 0x08:
		return true
	case r == 0x0B, r == 0x0C:
		return true
	case r >= 0x0E && r <= 0x1F:
		return true
	case r == 0x7F:
		return true
	}
	return false
}

// StripControl removes ASCII control characters other than tab and line breaks.
func StripControl(text string) string {
	if strings.IndexFunc(text, isControl) < 0 {
		return text
	}
	return strings.Map(func(r rune) rune {
		if isControl(r) {
			return -1
		}
		return r
	}, text)
}

// CollapseWhitespace replaces every run of Unicode whitespace with a single
// space and trims both ends.
func CollapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Lower folds text to lowercase using language-neutral rules.
func Lower(text string) string {
	// Casers carry state and must not be shared between goroutines.
	return cases.Lower(language.Und).String(text)
}

// Normalize strips control characters, collapses whitespace and, when
// lowercase is set, folds case. The steps always run in that order.
func Normalize(text string, lowercase bool) string {
	out := CollapseWhitespace(StripControl(text))
	if lowercase {
		out = Lower(out)
	}
	return out
}

// Len reports the length of text in Unicode code points.
func Len(text string) int {
	return utf8.RuneCountInString(text)
}

// Tokenize splits text into lowercased word tokens made of letters, digits
// and underscores.
func Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	for _, r := range text {
		if isWordRune(r) {
			current.WriteRune(unicode.ToLower(r))
			continue
		}
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_'
}
