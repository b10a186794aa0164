// Package textnorm computes the canonical key used to decide whether two
// titles from different sites describe the same video.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

const punctuation = "·•・.。:：,，/\\-—_()（）[]{}<>《》“”\"'‘’!?！？|"

var punctuationSet = func() map[rune]struct{} {
	set := make(map[rune]struct{}, len(punctuation))
	for _, r := range punctuation {
		set[r] = struct{}{}
	}
	return set
}()

func isZeroWidth(r rune) bool {
	return (r >= '\u200B' && r <= '\u200D') || r == '\uFEFF'
}

func isDropped(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	_, ok := punctuationSet[r]
	return ok
}

// Normalize trims, strips zero-width characters, lowercases and removes all
// whitespace and title punctuation. An empty result means the title cannot
// be matched against anything.
func Normalize(title string) string {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return ""
	}
	// transformers carry state, so each call builds its own chain.
	chain := transform.Chain(
		runes.Remove(runes.Predicate(isZeroWidth)),
		cases.Lower(language.Und),
		runes.Remove(runes.Predicate(isDropped)),
	)
	out, _, err := transform.String(chain, trimmed)
	if err != nil {
		return fallbackNormalize(trimmed)
	}
	return out
}

func fallbackNormalize(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range strings.ToLower(value) {
		if isZeroWidth(r) || isDropped(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Equal reports whether two titles share a non-empty normalized key.
func Equal(a, b string) bool {
	left := Normalize(a)
	return left != "" && left == Normalize(b)
}
