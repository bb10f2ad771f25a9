// Package metric computes edit-distance error rates (WER, CER, PER) between
// reference and hypothesis transcripts.
package metric

// Op is one step of an alignment between a reference and a hypothesis.
type Op uint8

const (
	OpMatch Op = iota
	OpSub
	OpIns // hypothesis token with no reference counterpart
	OpDel // reference token missing from the hypothesis
)

func (o Op) String() string {
	switch o {
	case OpMatch:
		return "="
	case OpSub:
		return "S"
	case OpIns:
		return "I"
	case OpDel:
		return "D"
	}
	return "?"
}

// Counts is the result of aligning one hypothesis to one reference.
type Counts struct {
	Sub, Ins, Del int
	Ref           int // reference length
}

// Errors returns Sub+Ins+Del.
func (c Counts) Errors() int { return c.Sub + c.Ins + c.Del }

// Align computes a minimum edit alignment of hyp against ref and returns its
// counts together with the operation sequence in reading order. Among
// alignments of equal cost, substitutions are preferred over an
// insertion/deletion pair, then deletions over insertions.
func Align[T comparable](ref, hyp []T) (Counts, []Op) {
	n, m := len(ref), len(hyp)
	d := make([][]int, n+1)
	for i := range d {
		d[i] = make([]int, m+1)
		d[i][0] = i
	}
	for j := 0; j <= m; j++ {
		d[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			cost := 1
			if ref[i-1] == hyp[j-1] {
				cost = 0
			}
			d[i][j] = min(d[i-1][j-1]+cost, d[i-1][j]+1, d[i][j-1]+1)
		}
	}

	c := Counts{Ref: n}
	ops := make([]Op, 0, max(n, m))
	for i, j := n, m; i > 0 || j > 0; {
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1] && d[i][j] == d[i-1][j-1]:
			ops = append(ops, OpMatch)
			i, j = i-1, j-1
		case i > 0 && j > 0 && d[i][j] == d[i-1][j-1]+1:
			ops = append(ops, OpSub)
			c.Sub++
			i, j = i-1, j-1
		case i > 0 && d[i][j] == d[i-1][j]+1:
			ops = append(ops, OpDel)
			c.Del++
			i--
		default:
			ops = append(ops, OpIns)
			c.Ins++
			j--
		}
	}
	for l, r := 0, len(ops)-1; l < r; l, r = l+1, r-1 {
		ops[l], ops[r] = ops[r], ops[l]
	}
	return c, ops
}
