package metric

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Separator delimits words and phones in transcripts.
const Separator = "_"

// Tokens removed before scoring. "@" marks a short pause, ">" a
// hypothesis-only boundary symbol.
var (
	RefRemove = []string{"@"}
	HypRemove = []string{"@", ">"}
)

// Normalize removes the given tokens, turns whitespace into Separator,
// collapses separator runs and trims separators at both ends.
func Normalize(s string, remove ...string) string {
	for _, tok := range remove {
		s = strings.ReplaceAll(s, tok, "")
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, s)
	parts := strings.Split(s, Separator)
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, Separator)
}

// Similarity returns the Jaro-Winkler similarity of two transcripts in [0, 1].
func Similarity(ref, hyp string) float64 {
	if ref == hyp {
		return 1
	}
	return matchr.JaroWinkler(ref, hyp, false)
}
