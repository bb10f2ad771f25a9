package metric

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// SegmentKind classifies a run of tokens in a diff.
type SegmentKind int

const (
	Equal    SegmentKind = iota
	Deleted              // in the reference only
	Inserted             // in the hypothesis only
)

// Segment is a run of tokens sharing one SegmentKind.
type Segment struct {
	Kind   SegmentKind
	Tokens []string
}

// tokenRune maps the i-th distinct token into the private use areas so that
// a token sequence can be diffed as a rune sequence.
func tokenRune(i int) rune {
	const bmp = 0xF8FF - 0xE000 + 1
	if i < bmp {
		return rune(0xE000 + i)
	}
	return rune(0xF0000 + i - bmp)
}

// Diff computes a token-level diff of hyp against ref.
func Diff(ref, hyp []string) []Segment {
	ids := make(map[string]rune)
	var tokens []string
	encode := func(seq []string) []rune {
		out := make([]rune, len(seq))
		for i, tok := range seq {
			r, ok := ids[tok]
			if !ok {
				r = tokenRune(len(tokens))
				ids[tok] = r
				tokens = append(tokens, tok)
			}
			out[i] = r
		}
		return out
	}
	a, b := encode(ref), encode(hyp)
	byRune := make(map[rune]string, len(tokens))
	for tok, r := range ids {
		byRune[r] = tok
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupMerge(dmp.DiffMainRunes(a, b, false))

	segs := make([]Segment, 0, len(diffs))
	for _, d := range diffs {
		seg := Segment{Kind: Equal}
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			seg.Kind = Deleted
		case diffmatchpatch.DiffInsert:
			seg.Kind = Inserted
		}
		for _, r := range d.Text {
			seg.Tokens = append(seg.Tokens, byRune[r])
		}
		if len(seg.Tokens) > 0 {
			segs = append(segs, seg)
		}
	}
	return segs
}

// RenderDiff formats segments on one line: deletions as [-x-], insertions as
// {+x+}, tokens joined by sep.
func RenderDiff(segs []Segment, sep string) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		text := strings.Join(s.Tokens, sep)
		switch s.Kind {
		case Deleted:
			text = "[-" + text + "-]"
		case Inserted:
			text = "{+" + text + "+}"
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, sep)
}
