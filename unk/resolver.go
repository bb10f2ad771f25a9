// Package unk replaces out-of-vocabulary placeholders in a word hypothesis
// with character spans from a character hypothesis of the same utterance,
// matching the two by where their attention peaks on the input.
package unk

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// TieBreak picks among equally good candidates.
type TieBreak int

const (
	First TieBreak = iota // lowest index wins
	Last                  // highest index wins
)

// PeakPolicy controls how attention peaks are located and matched.
type PeakPolicy struct {
	// Window is the half width of the moving average applied to an
	// attention column before taking its argmax. 0 uses the raw column.
	Window int
	// MaxDistance is the largest allowed gap, in character-attention frames,
	// between the placeholder peak and the matched character peak.
	// Negative means unlimited.
	MaxDistance float64
	// TieBreak resolves equal peaks and equally distant character steps.
	TieBreak TieBreak
	// FrameRatio converts word-attention frames into character-attention
	// frames. 0 derives it from the row counts of the two matrices.
	FrameRatio float64
}

// DefaultPolicy matches raw argmax peaks without a distance limit.
func DefaultPolicy() PeakPolicy {
	return PeakPolicy{MaxDistance: -1}
}

// Symbols maps character indices to their surface form.
type Symbols interface {
	Symbol(i int) (string, bool)
}

// Resolver substitutes placeholders in word hypotheses.
type Resolver struct {
	Policy      PeakPolicy
	Placeholder string  // e.g. "OOV"
	Separator   string  // word separator in the hypothesis string, e.g. "_"
	Marker      string  // wraps substituted spans, e.g. "*"
	Chars       Symbols // character vocabulary
	SpaceIndex  int     // character index of the word separator
}

// NewResolver returns a resolver for "OOV" placeholders in "_"-separated
// hypotheses, marking substitutions with "*".
func NewResolver(chars Symbols, spaceIndex int) *Resolver {
	return &Resolver{
		Policy:      DefaultPolicy(),
		Placeholder: "OOV",
		Separator:   "_",
		Marker:      "*",
		Chars:       chars,
		SpaceIndex:  spaceIndex,
	}
}

// Stats counts placeholders seen in one or more hypotheses.
type Stats struct {
	Placeholders int
	Resolved     int
	Unresolved   int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Placeholders += o.Placeholders
	s.Resolved += o.Resolved
	s.Unresolved += o.Unresolved
}

// Count returns the number of placeholder words in hyp. Words that merely
// contain the placeholder are not counted.
func (r *Resolver) Count(hyp string) int {
	n := 0
	for _, word := range strings.Split(hyp, r.Separator) {
		if word == r.Placeholder {
			n++
		}
	}
	return n
}

// Resolve replaces every placeholder word of hyp. att is the word attention
// [frames × words of hyp], attSub the character attention [frames × len(sub)].
// A placeholder with no matching character span is left as it is.
func (r *Resolver) Resolve(hyp string, sub []int, att, attSub *mat.Dense) (string, Stats) {
	words := strings.Split(hyp, r.Separator)
	var st Stats
	for w, word := range words {
		if word != r.Placeholder {
			continue
		}
		st.Placeholders++
		span, ok := r.resolveOne(w, sub, att, attSub)
		if !ok {
			st.Unresolved++
			continue
		}
		words[w] = r.Marker + span + r.Marker
		st.Resolved++
	}
	return strings.Join(words, r.Separator), st
}

func (r *Resolver) resolveOne(w int, sub []int, att, attSub *mat.Dense) (string, bool) {
	if att == nil || attSub == nil || len(sub) == 0 {
		return "", false
	}
	rows, cols := att.Dims()
	subRows, subCols := attSub.Dims()
	if w >= cols || subCols < len(sub) || rows == 0 || subRows == 0 {
		return "", false
	}

	ratio := r.Policy.FrameRatio
	if ratio <= 0 {
		ratio = float64(subRows) / float64(rows)
	}
	target := float64(r.peak(att, w)) * ratio

	best, bestDist := -1, math.Inf(1)
	for j, c := range sub {
		if c == r.SpaceIndex {
			continue
		}
		d := math.Abs(float64(r.peak(attSub, j)) - target)
		if d < bestDist || (d == bestDist && r.Policy.TieBreak == Last) {
			best, bestDist = j, d
		}
	}
	if best < 0 || (r.Policy.MaxDistance >= 0 && bestDist > r.Policy.MaxDistance) {
		return "", false
	}

	start, end := best, best+1
	for start > 0 && sub[start-1] != r.SpaceIndex {
		start--
	}
	for end < len(sub) && sub[end] != r.SpaceIndex {
		end++
	}
	var sb strings.Builder
	for _, c := range sub[start:end] {
		s, ok := r.Chars.Symbol(c)
		if !ok {
			continue
		}
		sb.WriteString(s)
	}
	return sb.String(), sb.Len() > 0
}

// peak returns the argmax of column j of a after smoothing.
func (r *Resolver) peak(a *mat.Dense, j int) int {
	rows, _ := a.Dims()
	col := mat.Col(nil, j, a)
	if k := r.Policy.Window; k > 0 {
		smooth := make([]float64, rows)
		for i := range rows {
			lo, hi := max(i-k, 0), min(i+k, rows-1)
			sum := 0.0
			for t := lo; t <= hi; t++ {
				sum += col[t]
			}
			smooth[i] = sum / float64(hi-lo+1)
		}
		col = smooth
	}
	best := 0
	for i, v := range col {
		if v > col[best] || (v == col[best] && r.Policy.TieBreak == Last) {
			best = i
		}
	}
	return best
}

// StripMarkers removes substitution markers from s.
func StripMarkers(s, marker string) string {
	if marker == "" {
		return s
	}
	return strings.ReplaceAll(s, marker, "")
}
